// Package server serves the latest archive of a domain over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/archive"
	"github.com/JakeFAU/webarchiver/internal/hash/sha256"
	"github.com/JakeFAU/webarchiver/internal/metrics"
	"github.com/JakeFAU/webarchiver/internal/storage"
)

// RequestIDs produces request identifiers.
type RequestIDs interface {
	MustNewID() string
}

// Server routes archive requests to the resolver.
type Server struct {
	router   chi.Router
	resolver *archive.Resolver
	domain   string
	logger   *zap.Logger
}

// Options configure the optional parts of a Server.
type Options struct {
	Metrics bool
	IDs     RequestIDs
}

// New builds a Server for domain with middleware and routes.
func New(resolver *archive.Resolver, domain string, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		resolver: resolver,
		domain:   domain,
		logger:   logger,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware(opts.IDs))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	if opts.Metrics {
		r.Use(metrics.Middleware)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())
	}

	r.Get("/health", s.health)
	r.Get("/*", s.serveArchive)

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "domain": s.domain})
}

func (s *Server) serveArchive(w http.ResponseWriter, r *http.Request) {
	res, err := s.resolver.Resolve(r.Context(), s.domain, r.URL.Path)
	switch {
	case err == nil:
	case errors.Is(err, archive.ErrPathTraversal):
		writeError(w, http.StatusBadRequest, "invalid path")
		return
	case errors.Is(err, archive.ErrNoArchive):
		writeError(w, http.StatusNotFound, "no archives found for domain: "+s.domain)
		return
	case errors.Is(err, storage.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "resource not found", "path": r.URL.Path})
		return
	default:
		s.logger.Error("archive lookup failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "archive storage unavailable")
		return
	}

	contentType := storage.ContentType(res.Key)
	etag := sha256.ETag(res.Data)
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", cacheControl(res.Key, contentType))
	if sha256.Matches(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(res.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		s.logger.Debug("write archived object", zap.String("key", res.Key), zap.Error(err))
	}
}

// cacheControl lets browsers cache static assets for an hour; pages are always revalidated.
func cacheControl(key, contentType string) string {
	if strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "font/") ||
		strings.HasSuffix(key, ".css") ||
		strings.HasSuffix(key, ".js") {
		return "public, max-age=3600"
	}
	return "no-cache"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
