package crawler

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/pathmap"
	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Session is the state owned by one crawl run: the visited set and the
// resource record. Nothing in it outlives the run.
type Session struct {
	seed   string
	host   string
	prefix string
	site   string
	paths  *pathmap.Canonicalizer
	engine storage.Engine
	logger *zap.Logger

	visited map[string]struct{}

	mu     sync.Mutex
	record map[string]string
}

// NewSession validates the seed and builds an empty session writing under prefix.
func NewSession(seed, prefix string, engine storage.Engine, logger *zap.Logger) (*Session, error) {
	u, err := url.Parse(seed)
	if err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("seed %q must be an absolute http(s) url", seed)
	}
	if strings.Trim(prefix, "/") == "" {
		return nil, fmt.Errorf("archive prefix is required")
	}
	if engine == nil {
		return nil, fmt.Errorf("storage engine is required")
	}
	paths, err := pathmap.New(seed)
	if err != nil {
		return nil, fmt.Errorf("path canonicalizer: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		seed:    seed,
		host:    strings.ToLower(u.Host),
		prefix:  strings.Trim(prefix, "/"),
		site:    metrics.SanitizeSite(seed),
		paths:   paths,
		engine:  engine,
		logger:  logger,
		visited: make(map[string]struct{}),
		record:  make(map[string]string),
	}, nil
}

// Paths returns the session's canonicalizer.
func (s *Session) Paths() *pathmap.Canonicalizer {
	return s.paths
}

// Visit marks rawURL visited and reports whether it was new. The key is the exact URL string.
func (s *Session) Visit(rawURL string) bool {
	if _, ok := s.visited[rawURL]; ok {
		return false
	}
	s.visited[rawURL] = struct{}{}
	return true
}

// Visited reports whether rawURL was already dequeued.
func (s *Session) Visited(rawURL string) bool {
	_, ok := s.visited[rawURL]
	return ok
}

// SameSite reports whether rawURL is on the seed's host.
func (s *Session) SameSite(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, s.host)
}

// Lookup returns the archive-relative path recorded for rawURL.
func (s *Session) Lookup(rawURL string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	local, ok := s.record[pathmap.Normalize(rawURL)]
	return local, ok
}

// SaveResource archives data for rawURL once per session. Later calls for the
// same URL return the recorded path without writing.
func (s *Session) SaveResource(ctx context.Context, rawURL string, data []byte) (string, error) {
	return s.store(ctx, rawURL, data, "referenced")
}

// Resources is the number of recorded URLs.
func (s *Session) Resources() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.record)
}

// Key maps an archive-relative path to its storage key.
func (s *Session) Key(local string) string {
	return path.Join(s.prefix, local)
}

// safeKey maps local to its storage key and refuses keys that would leave the archive.
func (s *Session) safeKey(local string) (string, error) {
	key := s.Key(local)
	if pathmap.HasDotSegment(local) || !strings.HasPrefix(key, s.prefix+"/") {
		return "", fmt.Errorf("%w: %q", ErrOutsideArchive, local)
	}
	return key, nil
}

// store is check-then-write without holding the lock across the write, so two
// concurrent captures of one URL may both write identical bytes.
func (s *Session) store(ctx context.Context, rawURL string, data []byte, kind string) (string, error) {
	norm := pathmap.Normalize(rawURL)
	if local, ok := s.Lookup(norm); ok {
		return local, nil
	}
	local, err := s.paths.LocalPath(norm)
	if err != nil {
		return "", fmt.Errorf("local path for %s: %w", rawURL, err)
	}
	key, err := s.safeKey(local)
	if err != nil {
		return "", err
	}
	if err := s.engine.Save(ctx, key, data); err != nil {
		return "", fmt.Errorf("save %s: %w", rawURL, err)
	}
	s.mu.Lock()
	s.record[norm] = local
	s.mu.Unlock()
	metrics.ObserveResourceSaved(s.site, kind, len(data))
	s.logger.Debug("resource saved", zap.String("url", rawURL), zap.String("key", key))
	return local, nil
}

// savePage writes a page's rewritten HTML, replacing any earlier copy, and records it.
func (s *Session) savePage(ctx context.Context, pageURL string, html []byte) (string, error) {
	norm := pathmap.Normalize(pageURL)
	local, err := s.paths.LocalPath(norm)
	if err != nil {
		return "", fmt.Errorf("local path for %s: %w", pageURL, err)
	}
	key, err := s.safeKey(local)
	if err != nil {
		return "", err
	}
	if err := s.engine.Save(ctx, key, html); err != nil {
		return "", fmt.Errorf("save page %s: %w", pageURL, err)
	}
	s.mu.Lock()
	s.record[norm] = local
	s.mu.Unlock()
	metrics.ObserveResourceSaved(s.site, string(ResourceDocument), len(html))
	return local, nil
}
