// Package local_test tests the local filesystem engine.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/webarchiver/internal/storage"
	"github.com/JakeFAU/webarchiver/internal/storage/local"
)

func newStore(t *testing.T) (*local.BlobStore, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "mirror")
	store, err := local.New(local.Config{BaseDir: dir})
	require.NoError(t, err)
	require.NoError(t, store.Initialize(context.Background()))
	return store, dir
}

func TestNew(t *testing.T) {
	t.Parallel()
	t.Run("MissingBaseDir", func(t *testing.T) {
		t.Parallel()
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsAFile", func(t *testing.T) {
		t.Parallel()
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		store, err := local.New(local.Config{BaseDir: file})
		require.NoError(t, err)
		err = store.Initialize(context.Background())
		require.ErrorIs(t, err, storage.ErrUnavailable)
	})
}

func TestInitializeIsIdempotent(t *testing.T) {
	t.Parallel()
	store, dir := newStore(t)
	require.NoError(t, store.Initialize(context.Background()))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	_, err = os.Stat(filepath.Join(dir, ".writable_test"))
	assert.True(t, os.IsNotExist(err))
}

func TestSaveReadExists(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := newStore(t)

	key := "example.com/source/2024-01-01T00-00-00Z/example.com/css/site.css"
	require.NoError(t, store.Save(ctx, key, []byte("body{}")))

	onDisk, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(key)))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(onDisk))

	got, err := store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("body{}"), got)

	ok, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.Exists(ctx, "example.com/source/2024-01-01T00-00-00Z")
	require.NoError(t, err)
	assert.False(t, ok, "directories are not objects")

	require.NoError(t, store.Save(ctx, key, []byte("p{}")))
	got, err = store.Read(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, "p{}", string(got))
}

func TestReadMissing(t *testing.T) {
	t.Parallel()
	store, _ := newStore(t)
	_, err := store.Read(context.Background(), "nope/index.html")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)
	require.NoError(t, store.Save(ctx, "a/b.txt", []byte("x")))
	require.NoError(t, store.Delete(ctx, "a/b.txt"))
	require.NoError(t, store.Delete(ctx, "a/b.txt"))
	ok, err := store.Exists(ctx, "a/b.txt")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestListAndCleanup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, _ := newStore(t)

	keys := []string{
		"example.com/source/2024-01-01T00-00-00Z/example.com/index.html",
		"example.com/source/2024-01-01T00-00-00Z/example.com/a.png",
		"example.com/source/2024-02-01T00-00-00Z/example.com/index.html",
		"other.org/source/2024-01-01T00-00-00Z/other.org/index.html",
	}
	for _, k := range keys {
		require.NoError(t, store.Save(ctx, k, []byte("x")))
	}

	got, err := store.List(ctx, "example.com/source/2024-01-01T00-00-00Z/")
	require.NoError(t, err)
	sort.Strings(got)
	assert.Equal(t, []string{keys[1], keys[0]}, got)

	got, err = store.List(ctx, "example.com/")
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = store.List(ctx, "missing.net/")
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, store.CleanupIncomplete(ctx, "example.com/source/2024-01-01T00-00-00Z"))
	got, err = store.List(ctx, "example.com/")
	require.NoError(t, err)
	assert.Equal(t, []string{keys[2]}, got)

	require.NoError(t, store.CleanupIncomplete(ctx, "example.com/source/1999-01-01T00-00-00Z"))
}

func TestPathTraversalRejected(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store, dir := newStore(t)

	err := store.Save(ctx, "../escape.txt", []byte("x"))
	require.Error(t, err)
	_, statErr := os.Stat(filepath.Join(filepath.Dir(dir), "escape.txt"))
	assert.True(t, os.IsNotExist(statErr))

	_, err = store.Read(ctx, "../../etc/passwd")
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.Error(t, store.CleanupIncomplete(ctx, ".."))
}
