// Package storage defines the archive storage engine contract shared by every
// backend (local filesystem, S3-compatible object stores, GCS, memory).
// Keys are forward-slash separated and never start with a slash.
package storage

import (
	"context"
	"errors"
	"mime"
	"path"
	"regexp"
	"strings"
)

// Sentinel errors returned (wrapped) by every Engine implementation.
var (
	// ErrUnavailable means the backend could not be reached or created.
	ErrUnavailable = errors.New("storage unavailable")
	// ErrNotFound means the requested key does not exist.
	ErrNotFound = errors.New("object not found")
	// ErrWrite means a write failed after the retry budget was spent.
	ErrWrite = errors.New("storage write failed")
)

// Engine is durable key to byte-blob storage.
type Engine interface {
	// Initialize ensures the root container exists. It is idempotent.
	Initialize(ctx context.Context) error
	// Save writes data under key, creating intermediate structure and overwriting any existing object.
	Save(ctx context.Context, key string, data []byte) error
	// Exists reports whether key is present. A missing key is not an error.
	Exists(ctx context.Context, key string) (bool, error)
	// Read returns the object under key or ErrNotFound.
	Read(ctx context.Context, key string) ([]byte, error)
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// List returns every key beginning with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
	// CleanupIncomplete removes every object under prefix.
	CleanupIncomplete(ctx context.Context, prefix string) error
	// Name identifies the backend in logs and metrics.
	Name() string
}

var repeatedSlashes = regexp.MustCompile(`/{2,}`)

// IndexDocument is the file served for directory-style paths.
const IndexDocument = "index.html"

// SanitizeKey normalises key for object stores: leading slashes are removed,
// runs of slashes collapse to one, and a trailing slash is dropped unless the
// key names an index document.
func SanitizeKey(key string) string {
	key = strings.TrimLeft(key, "/")
	key = repeatedSlashes.ReplaceAllString(key, "/")
	if !strings.HasSuffix(key, "/"+IndexDocument) {
		key = strings.TrimRight(key, "/")
	}
	return key
}

// ContentType guesses a MIME type from the key's extension. Extensionless
// keys are archived pages and are served as HTML.
func ContentType(key string) string {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" || strings.HasSuffix(key, "/") {
		return "text/html; charset=utf-8"
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
