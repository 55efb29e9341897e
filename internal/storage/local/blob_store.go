// Package local implements a storage.Engine on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JakeFAU/webarchiver/internal/storage"
)

// Config captures the parameters for the local filesystem engine.
type Config struct {
	// BaseDir is the root directory keys are resolved against.
	BaseDir string `mapstructure:"base_path" yaml:"base_path"`
}

// BlobStore maps keys directly to files under a base directory.
type BlobStore struct {
	baseDir string
}

var _ storage.Engine = (*BlobStore)(nil)

// New creates a filesystem engine. The base directory is created by Initialize.
func New(cfg Config) (*BlobStore, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	return &BlobStore{baseDir: filepath.Clean(cfg.BaseDir)}, nil
}

// Name implements storage.Engine.
func (s *BlobStore) Name() string { return "filesystem" }

// Initialize creates the base directory and verifies it is writable.
func (s *BlobStore) Initialize(_ context.Context) error {
	info, err := os.Stat(s.baseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(s.baseDir, 0o750); mkErr != nil {
			return fmt.Errorf("%w: create base directory: %v", storage.ErrUnavailable, mkErr)
		}
	case err != nil:
		return fmt.Errorf("%w: stat base directory: %v", storage.ErrUnavailable, err)
	case !info.IsDir():
		return fmt.Errorf("%w: base path %s is not a directory", storage.ErrUnavailable, s.baseDir)
	}

	testFile := filepath.Join(s.baseDir, ".writable_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return fmt.Errorf("%w: base directory is not writable: %v", storage.ErrUnavailable, err)
	}
	if err := os.Remove(testFile); err != nil {
		return fmt.Errorf("%w: clean up test file: %v", storage.ErrUnavailable, err)
	}
	return nil
}

// Save writes data to the file named by key, creating parent directories.
func (s *BlobStore) Save(ctx context.Context, key string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context canceled: %w", err)
	}
	fullPath, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return fmt.Errorf("%w: create parent directories for %s: %v", storage.ErrWrite, key, err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return fmt.Errorf("%w: write %s: %w", storage.ErrWrite, key, err)
	}
	return nil
}

// Exists reports whether key names a regular file.
func (s *BlobStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return false, nil
	}
	info, err := os.Stat(fullPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		if errors.Is(err, fs.ErrPermission) {
			return false, fmt.Errorf("%w: stat %s: %v", storage.ErrUnavailable, key, err)
		}
		// ENOTDIR and friends mean a path component is a file.
		return false, nil
	default:
		return !info.IsDir(), nil
	}
}

// Read returns the file contents for key.
func (s *BlobStore) Read(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	// #nosec G304 -- path is confined to baseDir by resolve.
	data, err := os.ReadFile(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the file for key; a missing file is ignored.
func (s *BlobStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.resolve(key)
	if err != nil {
		return nil
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List walks the directory tree and returns every file key starting with prefix.
func (s *BlobStore) List(_ context.Context, prefix string) ([]string, error) {
	root := s.walkRoot(prefix)
	var keys []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.baseDir, p)
		if err != nil {
			return fmt.Errorf("relative path for %s: %w", p, err)
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) && key != ".writable_test" {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	return keys, nil
}

// CleanupIncomplete removes the whole directory under prefix.
func (s *BlobStore) CleanupIncomplete(_ context.Context, prefix string) error {
	fullPath, err := s.resolve(prefix)
	if err != nil {
		return fmt.Errorf("cleanup %s: %w", prefix, err)
	}
	if fullPath == s.baseDir {
		return fmt.Errorf("cleanup %s: refusing to remove the base directory", prefix)
	}
	if err := os.RemoveAll(fullPath); err != nil {
		return fmt.Errorf("cleanup %s: %w", prefix, err)
	}
	return nil
}

// resolve joins key onto baseDir and rejects anything escaping it.
func (s *BlobStore) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	fullPath := filepath.Clean(filepath.Join(s.baseDir, filepath.FromSlash(key)))
	if fullPath != s.baseDir && !strings.HasPrefix(fullPath, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return fullPath, nil
}

// walkRoot picks the deepest directory that can contain keys with prefix.
func (s *BlobStore) walkRoot(prefix string) string {
	dir := prefix
	if !strings.HasSuffix(dir, "/") {
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			dir = dir[:i]
		} else {
			dir = ""
		}
	}
	if dir == "" {
		return s.baseDir
	}
	if p, err := s.resolve(dir); err == nil {
		return p
	}
	return s.baseDir
}
