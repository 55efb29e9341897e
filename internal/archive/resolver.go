package archive

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/pathmap"
	"github.com/JakeFAU/webarchiver/internal/storage"
)

// ErrNoArchive means a domain has no archive yet.
var ErrNoArchive = errors.New("no archive found")

// Resolved is an archived object located for a request.
type Resolved struct {
	Archive string
	Key     string
	Data    []byte
}

type cachedArchive struct {
	path      string
	fetchedAt time.Time
}

// Resolver finds a domain's latest archive and the objects inside it.
type Resolver struct {
	engine storage.Engine
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.Mutex
	cache map[string]cachedArchive
}

// NewResolver builds a Resolver. A positive ttl caches the latest archive per domain.
func NewResolver(engine storage.Engine, ttl time.Duration, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		engine: engine,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]cachedArchive),
	}
}

// ListArchives returns the distinct archive timestamps of domain in ascending order.
func (r *Resolver) ListArchives(ctx context.Context, domain string) ([]string, error) {
	prefix := domain + "/" + sourceDir + "/"
	keys, err := r.engine.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list archives for %s: %w", domain, err)
	}
	seen := make(map[string]struct{})
	for _, key := range keys {
		parts := strings.SplitN(key, "/", 4)
		if len(parts) < 3 || parts[1] != sourceDir || !ValidTimestamp(parts[2]) {
			continue
		}
		seen[parts[2]] = struct{}{}
	}
	timestamps := make([]string, 0, len(seen))
	for ts := range seen {
		timestamps = append(timestamps, ts)
	}
	sort.Strings(timestamps)
	return timestamps, nil
}

// FindLatestArchive returns {domain}/source/{latest timestamp}, or ErrNoArchive.
func (r *Resolver) FindLatestArchive(ctx context.Context, domain string) (string, error) {
	timestamps, err := r.ListArchives(ctx, domain)
	if err != nil {
		return "", err
	}
	if len(timestamps) == 0 {
		return "", fmt.Errorf("%w for %s", ErrNoArchive, domain)
	}
	return Prefix(domain, timestamps[len(timestamps)-1]), nil
}

// BuildResourcePath joins an archive, domain and resource path into a key.
// An empty or root resource path names the index document.
func (r *Resolver) BuildResourcePath(archivePath, domain, resourcePath string) string {
	clean := strings.TrimLeft(resourcePath, "/")
	if clean == "" {
		clean = pathmap.IndexDocument
	}
	return archivePath + "/" + domain + "/" + clean
}

// ResourceExists reports whether key is stored. Backend errors count as absent.
func (r *Resolver) ResourceExists(ctx context.Context, key string) bool {
	ok, err := r.engine.Exists(ctx, key)
	if err != nil {
		r.logger.Debug("existence check failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

// GetResource reads key. Backend errors are reported as a miss.
func (r *Resolver) GetResource(ctx context.Context, key string) ([]byte, bool) {
	data, err := r.engine.Read(ctx, key)
	if err != nil {
		r.logger.Debug("read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return data, true
}

// Resolve maps a request path to an object in domain's latest archive. An
// extensionless path that misses is retried as its index document.
func (r *Resolver) Resolve(ctx context.Context, domain, requestPath string) (Resolved, error) {
	clean, err := SanitizeRequestPath(requestPath)
	if err != nil {
		metrics.ObserveResolve("rejected")
		return Resolved{}, err
	}
	archivePath, err := r.latest(ctx, domain)
	if err != nil {
		if errors.Is(err, ErrNoArchive) {
			metrics.ObserveResolve("no_archive")
		}
		return Resolved{}, err
	}

	result := "hit"
	key := r.BuildResourcePath(archivePath, domain, clean)
	exists := r.ResourceExists(ctx, key)
	if !exists && !pathmap.HasExtension(clean) {
		key = r.BuildResourcePath(archivePath, domain, strings.TrimSuffix(clean, "/")+"/"+pathmap.IndexDocument)
		exists = r.ResourceExists(ctx, key)
		result = "fallback"
	}
	if !exists {
		metrics.ObserveResolve("miss")
		return Resolved{}, fmt.Errorf("resolve %s: %w", clean, storage.ErrNotFound)
	}

	data, ok := r.GetResource(ctx, key)
	if !ok {
		metrics.ObserveResolve("miss")
		return Resolved{}, fmt.Errorf("read %s: %w", key, storage.ErrNotFound)
	}
	metrics.ObserveResolve(result)
	return Resolved{Archive: archivePath, Key: key, Data: data}, nil
}

// latest returns the cached latest archive for domain, refreshing it after the TTL.
// Misses are never cached so a first crawl shows up immediately.
func (r *Resolver) latest(ctx context.Context, domain string) (string, error) {
	if r.ttl > 0 {
		r.mu.Lock()
		c, ok := r.cache[domain]
		r.mu.Unlock()
		if ok && r.now().Sub(c.fetchedAt) < r.ttl {
			return c.path, nil
		}
	}
	archivePath, err := r.FindLatestArchive(ctx, domain)
	if err != nil {
		return "", err
	}
	if r.ttl > 0 {
		r.mu.Lock()
		r.cache[domain] = cachedArchive{path: archivePath, fetchedAt: r.now()}
		r.mu.Unlock()
		r.logger.Info("using archive", zap.String("archive", archivePath))
	}
	return archivePath, nil
}
