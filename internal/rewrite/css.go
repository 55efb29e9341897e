package rewrite

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/pathmap"
)

// cssURLPattern allows whitespace inside the parentheses; the capture is trimmed by the caller.
var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// CSS rewrites every url(...) in a stylesheet fetched from cssURL. Referenced
// resources not yet archived are downloaded and saved once. A reference is
// replaced only when its target is in the record afterwards, so running CSS
// over its own output changes nothing.
func (r *Rewriter) CSS(ctx context.Context, css, cssURL string) (string, error) {
	cssLocal, err := r.paths.LocalPath(cssURL)
	if err != nil {
		return css, fmt.Errorf("%w: %w", ErrRewrite, err)
	}
	return r.replaceURLs(css, func(ref string) (string, bool) {
		abs, err := resolveAgainst(cssURL, ref)
		if err != nil {
			r.logger.Debug("skipping css reference", zap.String("ref", ref), zap.Error(err))
			return "", false
		}
		local, ok := r.resources.Lookup(abs)
		if !ok {
			local, ok = r.download(ctx, abs)
		}
		if !ok {
			return "", false
		}
		return pathmap.Href(pathmap.RelativePath(cssLocal, local)), true
	}), nil
}

// InlineCSS rewrites url(...) references in a style attribute or <style>
// block using only what is already archived.
func (r *Rewriter) InlineCSS(css, docURL, docLocal string) string {
	if !strings.Contains(css, "url(") {
		return css
	}
	return r.replaceURLs(css, func(ref string) (string, bool) {
		abs, err := resolveAgainst(docURL, ref)
		if err != nil {
			r.logger.Debug("skipping inline css reference", zap.String("ref", ref), zap.Error(err))
			return "", false
		}
		local, ok := r.resources.Lookup(abs)
		if !ok {
			return "", false
		}
		return pathmap.Href(pathmap.RelativePath(docLocal, local)), true
	})
}

// download fetches and archives abs. Failures are logged and reported as false.
func (r *Rewriter) download(ctx context.Context, abs string) (string, bool) {
	if r.fetcher == nil {
		return "", false
	}
	data, err := r.fetcher.Fetch(ctx, abs)
	if err != nil {
		r.logger.Debug("css resource download failed", zap.String("url", abs), zap.Error(err))
		return "", false
	}
	local, err := r.resources.SaveResource(ctx, abs, data)
	if err != nil {
		r.logger.Warn("css resource save failed", zap.String("url", abs), zap.Error(err))
		return "", false
	}
	return local, true
}

// replaceURLs applies fn to every downloadable url(...) reference and
// substitutes url('{replacement}') where fn reports true.
func (r *Rewriter) replaceURLs(css string, fn func(ref string) (string, bool)) string {
	matches := cssURLPattern.FindAllStringSubmatchIndex(css, -1)
	if len(matches) == 0 {
		return css
	}
	var b strings.Builder
	b.Grow(len(css))
	last := 0
	for _, m := range matches {
		ref := strings.TrimSpace(css[m[2]:m[3]])
		if ref == "" || strings.HasPrefix(ref, "#") || strings.HasPrefix(strings.ToLower(ref), "data:") {
			continue
		}
		replacement, ok := fn(ref)
		if !ok {
			continue
		}
		b.WriteString(css[last:m[0]])
		b.WriteString("url('")
		b.WriteString(replacement)
		b.WriteString("')")
		last = m[1]
	}
	b.WriteString(css[last:])
	return b.String()
}
