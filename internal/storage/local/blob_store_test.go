// Package local_test tests the local filesystem blob store.
package local_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/crawl-frontier/internal/crawler"
	"github.com/JakeFAU/crawl-frontier/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := local.New(local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "checkpoints")
		_, err := local.New(local.Config{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		tempFile, err := os.CreateTemp(t.TempDir(), "testfile")
		require.NoError(t, err)
		require.NoError(t, tempFile.Close())

		_, err = local.New(local.Config{BaseDir: tempFile.Name()})
		assert.Error(t, err)
	})
}

func TestPutAndGetObject(t *testing.T) {
	tempDir := t.TempDir()
	store, err := local.New(local.Config{BaseDir: tempDir})
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("RoundTrip", func(t *testing.T) {
		path := "checkpoints/latest.json"
		data := []byte(`{"version":1}`)
		uri, err := store.PutObject(ctx, path, "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, path), uri)

		got, err := store.GetObject(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("OverwriteReplacesContent", func(t *testing.T) {
		path := "checkpoints/overwrite.json"
		_, err := store.PutObject(ctx, path, "", bytes.NewReader([]byte("first")))
		require.NoError(t, err)
		_, err = store.PutObject(ctx, path, "", bytes.NewReader([]byte("second")))
		require.NoError(t, err)

		got, err := store.GetObject(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, "second", string(got))

		entries, err := os.ReadDir(filepath.Join(tempDir, "checkpoints"))
		require.NoError(t, err)
		for _, e := range entries {
			assert.NotContains(t, e.Name(), ".tmp-", "temp files are cleaned up")
		}
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(ctx, "", "text/plain", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(ctx, "../escape.json", "", bytes.NewReader([]byte("x")))
		assert.Error(t, err)
		_, err = store.GetObject(ctx, "../../etc/passwd")
		assert.Error(t, err)
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.GetObject(ctx, "checkpoints/none.json")
		assert.ErrorIs(t, err, crawler.ErrNotFound)
	})
}
