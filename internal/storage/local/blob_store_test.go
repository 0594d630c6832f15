// Package local_test tests the local filesystem content store.
package local_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ccextract/internal/storage"
	"github.com/JakeFAU/ccextract/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir(), Bucket: "worker"})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingBaseDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "base")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := local.New(local.Config{BaseDir: file})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tempDir := t.TempDir()
		// #nosec G302 -- directory permissions adjusted intentionally for test coverage.
		require.NoError(t, os.Chmod(tempDir, 0o500))
		t.Cleanup(func() {
			// #nosec G302 -- reverting permissions to allow cleanup.
			_ = os.Chmod(tempDir, 0o700)
		})

		_, err := local.New(local.Config{BaseDir: tempDir})
		assert.Error(t, err)
	})
}

func TestPutObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir, Bucket: "worker"})
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(context.Background()))

	t.Run("ValidPut", func(t *testing.T) {
		key := "crawl-data/seg.warc.gz/10-20240101-0.extracted.txt"
		data := []byte("hello world")
		uri, err := store.PutObject(context.Background(), key, storage.DefaultContentType, data)
		require.NoError(t, err)

		fullPath := filepath.Join(tempDir, "worker", key)
		assert.Equal(t, "file://"+fullPath, uri)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(fullPath)
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("Overwrite", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "same.txt", "", []byte("first"))
		require.NoError(t, err)
		_, err = store.PutObject(context.Background(), "same.txt", "", []byte("second"))
		require.NoError(t, err)

		// #nosec G304 -- test reads from the controlled temp directory.
		readData, err := os.ReadFile(filepath.Join(tempDir, "worker", "same.txt"))
		require.NoError(t, err)
		assert.Equal(t, "second", string(readData))
	})

	t.Run("EmptyKey", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "", []byte("data"))
		assert.ErrorIs(t, err, storage.ErrEmptyKey)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.txt", "", []byte("data"))
		assert.Error(t, err)
	})
}
