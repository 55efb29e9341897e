package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/webarchiver/internal/archive"
	"github.com/JakeFAU/webarchiver/internal/config"
	"github.com/JakeFAU/webarchiver/internal/storage"
	"github.com/JakeFAU/webarchiver/internal/storage/memory"
)

const archiveRoot = "example.com/source/2025-01-02T03-04-05Z/example.com/"

type fixedIDs string

func (f fixedIDs) MustNewID() string { return string(f) }

func newTestServer(t *testing.T, objects map[string]string) *Server {
	t.Helper()
	engine := memory.NewBlobStore()
	for k, v := range objects {
		require.NoError(t, engine.Save(context.Background(), k, []byte(v)))
	}
	resolver := archive.NewResolver(engine, 0, zap.NewNop())
	return New(resolver, "example.com", Options{Metrics: true, IDs: fixedIDs("req-1")}, zap.NewNop())
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	rec := get(t, s.Handler(), "/health")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"status": "healthy", "domain": "example.com"}, body)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
}

func TestServeArchive(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, map[string]string{
		archiveRoot + "index.html":       "<html>home</html>",
		archiveRoot + "about/index.html": "<html>about</html>",
		archiveRoot + "css/site.css":     "body{}",
		archiveRoot + "img/logo.png":     "png",
		archiveRoot + "svg/icons.svg":    "<svg/>",
	})

	testCases := []struct {
		path  string
		body  string
		ctype string
		cache string
	}{
		{"/", "<html>home</html>", "text/html", "no-cache"},
		{"/about", "<html>about</html>", "text/html", "no-cache"},
		{"/about/", "<html>about</html>", "text/html", "no-cache"},
		{"/css/site.css", "body{}", "text/css", "public, max-age=3600"},
		{"/img/logo.png", "png", "image/png", "public, max-age=3600"},
		{"/svg/icons.svg", "<svg/>", "image/svg+xml", "public, max-age=3600"},
	}
	for _, tc := range testCases {
		rec := get(t, s.Handler(), tc.path)
		require.Equal(t, http.StatusOK, rec.Code, tc.path)
		assert.Equal(t, tc.body, rec.Body.String(), tc.path)
		assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), tc.ctype), tc.path)
		assert.Equal(t, tc.cache, rec.Header().Get("Cache-Control"), tc.path)
	}
}

func TestConditionalGet(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, map[string]string{archiveRoot + "css/site.css": "body{}"})
	first := get(t, s.Handler(), "/css/site.css")
	require.Equal(t, http.StatusOK, first.Code)
	etag := first.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/css/site.css", nil)
	req.Header.Set("If-None-Match", etag)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Equal(t, etag, rec.Header().Get("ETag"))
}

func TestServeArchiveErrors(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, map[string]string{archiveRoot + "index.html": "home"})

	rec := get(t, s.Handler(), "/missing.png")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "resource not found")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.URL.Path = "/a/../../etc/passwd"
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	empty := newTestServer(t, nil)
	rec = get(t, empty.Handler(), "/")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "no archives found")
}

func TestServeArchiveStorageDown(t *testing.T) {
	t.Parallel()
	engine := &storage.MockEngine{}
	engine.On("List", mock.Anything, mock.Anything).Return(nil, storage.ErrUnavailable)
	s := New(archive.NewResolver(engine, 0, nil), "example.com", Options{}, nil)
	rec := get(t, s.Handler(), "/")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, nil)
	get(t, s.Handler(), "/health")
	get(t, s.Handler(), "/")
	rec := get(t, s.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
	assert.Contains(t, rec.Body.String(), "archiver_resolver_requests_total")
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := get(t, h, "/")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestCacheControl(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "public, max-age=3600", cacheControl("a/app.js", "text/javascript"))
	assert.Equal(t, "no-cache", cacheControl("a/data.json", "application/json"))
}

func TestBuild(t *testing.T) {
	t.Parallel()
	cfg := config.Config{
		Storage: config.StorageConfig{Engine: config.EngineMemory},
		Retry:   config.RetryConfig{MaxRetries: 1, Factor: 2},
		Server:  config.ServerConfig{Port: 8080, Domain: "example.com"},
	}
	app, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	rec := get(t, app.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	cfg.Server.Domain = ""
	_, err = Build(context.Background(), cfg, nil)
	require.Error(t, err)
}
