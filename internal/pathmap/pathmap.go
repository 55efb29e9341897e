// Package pathmap maps fetched URLs to archive-relative file paths and
// computes the relative references between archived files.
package pathmap

import (
	"errors"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// IndexDocument is appended to directory-style and extensionless paths.
const IndexDocument = "index.html"

// ErrUnsafePath rejects URLs whose local path would leave its host directory.
var ErrUnsafePath = errors.New("unsafe local path")

// queryReplacer flattens a query into one segment suffix.
var queryReplacer = strings.NewReplacer("?", "_", "&", "_", "=", "_", "/", "_", `\`, "_")

// Canonicalizer maps URLs of one crawl to local paths. The seed URL always
// maps to {host}/index.html.
type Canonicalizer struct {
	seed string
}

// New returns a Canonicalizer for the crawl rooted at seed.
func New(seed string) (*Canonicalizer, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed %q: %w", seed, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("seed %q must be an absolute URL", seed)
	}
	base, _ := SplitFragment(seed)
	return &Canonicalizer{seed: base}, nil
}

// Seed returns the fragment-free seed URL.
func (c *Canonicalizer) Seed() string { return c.seed }

// LocalPath returns {host}{path}, with the query appended as a suffix and
// index.html added for directories and extensionless paths.
func (c *Canonicalizer) LocalPath(rawURL string) (string, error) {
	clean, _ := SplitFragment(rawURL)
	u, err := url.Parse(clean)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", rawURL, err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", rawURL)
	}
	if u.Host == "." || u.Host == ".." || strings.ContainsAny(u.Host, `/\`) {
		return "", fmt.Errorf("%w: host %q", ErrUnsafePath, u.Host)
	}
	if c.isSeed(clean) {
		return path.Join(u.Host, IndexDocument), nil
	}

	// Rooting the path before cleaning keeps ".." from climbing above the host.
	local := joinKeepSlash(u.Host, path.Clean("/"+u.Path)+trailingSlash(u.Path))
	if u.RawQuery != "" || u.ForceQuery {
		local += queryReplacer.Replace("?" + u.RawQuery)
	}
	switch {
	case strings.HasSuffix(local, "/"):
		local += IndexDocument
	case extension(local) == "":
		local += "/" + IndexDocument
	}
	if HasDotSegment(local) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, local)
	}
	return local, nil
}

// HasDotSegment reports whether p contains a "." or ".." segment.
func HasDotSegment(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

func trailingSlash(p string) string {
	if p != "/" && strings.HasSuffix(p, "/") {
		return "/"
	}
	return ""
}

func (c *Canonicalizer) isSeed(clean string) bool {
	return clean == c.seed || clean == c.seed+"/" || clean+"/" == c.seed
}

// joinKeepSlash joins like path.Join but keeps a trailing slash.
func joinKeepSlash(host, p string) string {
	joined := path.Join(host, p)
	if strings.HasSuffix(p, "/") && !strings.HasSuffix(joined, "/") {
		joined += "/"
	}
	return joined
}

// HasExtension reports whether the last segment of p carries a file extension.
func HasExtension(p string) bool {
	return extension(p) != ""
}

// extension returns the extension of the last path segment. A leading dot
// alone (".hidden") does not count.
func extension(p string) string {
	base := path.Base(p)
	if strings.LastIndex(base, ".") <= 0 {
		return ""
	}
	return path.Ext(base)
}

// RelativePath returns the path from the directory containing from to to,
// both relative to the archive root. The result uses forward slashes and
// starts with "./" unless it already starts with "." or "/".
func RelativePath(from, to string) string {
	dir := filepath.Dir(filepath.FromSlash(from))
	rel, err := filepath.Rel(dir, filepath.FromSlash(to))
	if err != nil {
		rel = filepath.FromSlash(to)
	}
	rel = filepath.ToSlash(rel)
	if rel == "." {
		rel = ""
	}
	if !strings.HasPrefix(rel, ".") && !strings.HasPrefix(rel, "/") {
		rel = "./" + rel
	}
	return rel
}

// SplitFragment separates ref into the part before '#' and the fragment
// suffix including the '#'. The suffix is empty when ref has no fragment.
func SplitFragment(ref string) (string, string) {
	base, frag, found := strings.Cut(ref, "#")
	if !found || frag == "" {
		return base, ""
	}
	return base, "#" + frag
}

// Href percent-encodes a relative path for use in an HTML attribute or CSS url().
func Href(rel string) string {
	return (&url.URL{Path: rel}).EscapedPath()
}

// Normalize returns the fragment-free form of rawURL used as a resource
// record key. An empty path becomes "/" so "https://h" and "https://h/" agree.
func Normalize(rawURL string) string {
	clean, _ := SplitFragment(strings.TrimSpace(rawURL))
	u, err := url.Parse(clean)
	if err != nil || u.Host == "" {
		return clean
	}
	u.Host = strings.ToLower(u.Host)
	if u.Path == "" && u.RawPath == "" {
		u.Path = "/"
	}
	return u.String()
}
