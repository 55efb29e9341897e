// Package rewrite points the URL references inside archived HTML and CSS at
// their locally archived copies.
package rewrite

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/pathmap"
)

// ErrRewrite wraps failures to rewrite a single reference or document. The
// original content is kept when it is returned.
var ErrRewrite = errors.New("rewrite failed")

// Resources is the crawl-scoped resource record: source URL to archive-relative path.
type Resources interface {
	Lookup(rawURL string) (localPath string, ok bool)
	SaveResource(ctx context.Context, rawURL string, data []byte) (localPath string, err error)
}

// Fetcher downloads a resource directly, outside the browser.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// Rewriter rewrites references for one crawl.
type Rewriter struct {
	paths     *pathmap.Canonicalizer
	resources Resources
	fetcher   Fetcher
	logger    *zap.Logger

	seedScheme string
	seedHost   string
}

// New builds a Rewriter. fetcher may be nil, in which case CSS references
// that are not yet archived are left untouched.
func New(paths *pathmap.Canonicalizer, resources Resources, fetcher Fetcher, logger *zap.Logger) (*Rewriter, error) {
	if paths == nil || resources == nil {
		return nil, fmt.Errorf("path canonicalizer and resource record are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	seed, err := url.Parse(paths.Seed())
	if err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &Rewriter{
		paths:      paths,
		resources:  resources,
		fetcher:    fetcher,
		logger:     logger,
		seedScheme: seed.Scheme,
		seedHost:   strings.ToLower(seed.Host),
	}, nil
}

// refKind classifies an attribute value before resolution.
type refKind int

const (
	kindSkip refKind = iota
	kindAbsoluteSameHost
	kindProtocolRelativeSameHost
	kindRootRelative
	kindRelative
	kindExternal
)

var nonFetchablePrefixes = []string{"#", "data:", "mailto:", "tel:", "javascript:"}

func isNonFetchable(ref string) bool {
	lower := strings.ToLower(ref)
	for _, p := range nonFetchablePrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func (r *Rewriter) classify(ref string) refKind {
	if ref == "" || isNonFetchable(ref) {
		return kindSkip
	}
	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "//"):
		if hostOf(lower[2:]) == r.seedHost {
			return kindProtocolRelativeSameHost
		}
		return kindExternal
	case strings.HasPrefix(lower, "/"):
		return kindRootRelative
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		rest := lower[strings.Index(lower, "//")+2:]
		if hostOf(rest) == r.seedHost {
			return kindAbsoluteSameHost
		}
		return kindExternal
	case strings.Contains(strings.SplitN(lower, "/", 2)[0], ":"):
		// Any other scheme (blob:, about:, ftp:).
		return kindSkip
	default:
		return kindRelative
	}
}

func hostOf(rest string) string {
	end := strings.IndexAny(rest, "/?#")
	if end < 0 {
		return rest
	}
	return rest[:end]
}

// resolve turns ref into the absolute URL used as a record key.
func (r *Rewriter) resolve(kind refKind, ref, pageURL string) (string, error) {
	var base string
	switch kind {
	case kindAbsoluteSameHost:
		return pathmap.Normalize(ref), nil
	case kindProtocolRelativeSameHost:
		return pathmap.Normalize(r.seedScheme + ":" + ref), nil
	case kindRootRelative:
		base = r.seedScheme + "://" + r.seedHost + "/"
	case kindRelative:
		base = pageURL
	default:
		return "", fmt.Errorf("%w: %q is not an archivable reference", ErrRewrite, ref)
	}
	return resolveAgainst(base, ref)
}

func resolveAgainst(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("%w: parse base %q: %w", ErrRewrite, base, err)
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("%w: parse %q: %w", ErrRewrite, ref, err)
	}
	return pathmap.Normalize(b.ResolveReference(u).String()), nil
}

// rewriteRef returns the local replacement for an HTML attribute value, or
// false when the reference should be left as is.
func (r *Rewriter) rewriteRef(val, pageURL, pageLocal string) (string, bool) {
	ref := strings.TrimSpace(val)
	urlPart, fragment := pathmap.SplitFragment(ref)
	kind := r.classify(ref)
	if kind == kindSkip || kind == kindExternal {
		return "", false
	}
	abs, err := r.resolve(kind, urlPart, pageURL)
	if err != nil {
		r.logger.Debug("leaving reference untouched", zap.String("ref", val), zap.Error(err))
		return "", false
	}
	local, ok := r.resources.Lookup(abs)
	if !ok {
		return "", false
	}
	return pathmap.Href(pathmap.RelativePath(pageLocal, local)) + fragment, true
}
