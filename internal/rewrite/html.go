package rewrite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/JakeFAU/webarchiver/internal/pathmap"
)

// referenceAttrs lists the element/attribute pairs that carry resource references.
var referenceAttrs = []struct {
	tag, attr string
}{
	{"a", "href"},
	{"link", "href"},
	{"script", "src"},
	{"img", "src"},
	{"source", "srcset"},
	{"video", "src"},
	{"audio", "src"},
	{"use", "href"},
	{"iframe", "src"},
	{"embed", "src"},
	{"object", "data"},
}

// HTML rewrites a rendered page. It returns the rewritten document and the
// absolute, fragment-free targets of every followable anchor, taken from the
// original hrefs.
func (r *Rewriter) HTML(doc, pageURL string) (string, []string, error) {
	pageLocal, err := r.paths.LocalPath(pageURL)
	if err != nil {
		return doc, nil, fmt.Errorf("%w: %w", ErrRewrite, err)
	}
	parsed, err := goquery.NewDocumentFromReader(strings.NewReader(doc))
	if err != nil {
		return doc, nil, fmt.Errorf("%w: parse html: %w", ErrRewrite, err)
	}

	links := r.collectLinks(parsed, pageURL)

	for _, ra := range referenceAttrs {
		parsed.Find(ra.tag + "[" + ra.attr + "]").Each(func(_ int, s *goquery.Selection) {
			val, _ := s.Attr(ra.attr)
			if ra.attr == "srcset" {
				if out, changed := r.rewriteSrcset(val, pageURL, pageLocal); changed {
					s.SetAttr(ra.attr, out)
				}
				return
			}
			if out, ok := r.rewriteRef(val, pageURL, pageLocal); ok {
				s.SetAttr(ra.attr, out)
			}
		})
	}

	parsed.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		style, _ := s.Attr("style")
		if out := r.InlineCSS(style, pageURL, pageLocal); out != style {
			s.SetAttr("style", out)
		}
	})

	parsed.Find("style").Each(func(_ int, s *goquery.Selection) {
		for _, n := range s.Nodes {
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.TextNode {
					// Raw text is written unescaped, so CSS stays intact.
					c.Data = r.InlineCSS(c.Data, pageURL, pageLocal)
				}
			}
		}
	})

	out, err := parsed.Html()
	if err != nil {
		return doc, links, fmt.Errorf("%w: render html: %w", ErrRewrite, err)
	}
	return out, links, nil
}

// rewriteSrcset rewrites each candidate of a srcset list independently.
func (r *Rewriter) rewriteSrcset(val, pageURL, pageLocal string) (string, bool) {
	candidates := strings.Split(val, ",")
	changed := false
	for i, c := range candidates {
		fields := strings.Fields(c)
		if len(fields) == 0 {
			continue
		}
		out, ok := r.rewriteRef(fields[0], pageURL, pageLocal)
		if !ok {
			candidates[i] = strings.TrimSpace(c)
			continue
		}
		fields[0] = out
		candidates[i] = strings.Join(fields, " ")
		changed = true
	}
	if !changed {
		return val, false
	}
	return strings.Join(candidates, ", "), true
}

// collectLinks returns the http(s) targets of every anchor, resolved against
// pageURL, fragment-stripped and de-duplicated in document order.
func (r *Rewriter) collectLinks(doc *goquery.Document, pageURL string) []string {
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	seen := make(map[string]struct{})
	var links []string
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || isNonFetchable(href) {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			r.logger.Debug("skipping malformed link", zap.String("href", href), zap.Error(err))
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		link, _ := pathmap.SplitFragment(abs.String())
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		links = append(links, link)
	})
	return links
}
