package blob_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dailyfin/crawler/internal/storage/blob"
)

func TestNewLocal(t *testing.T) {
	t.Run("ValidConfig", func(t *testing.T) {
		store, err := blob.NewLocal(blob.LocalConfig{BaseDir: t.TempDir()})
		require.NoError(t, err)
		assert.NotNil(t, store)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := blob.NewLocal(blob.LocalConfig{})
		assert.Error(t, err)
	})

	t.Run("CreatesMissingDir", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "artifacts")
		_, err := blob.NewLocal(blob.LocalConfig{BaseDir: dir})
		require.NoError(t, err)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "plainfile")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))
		_, err := blob.NewLocal(blob.LocalConfig{BaseDir: file})
		assert.Error(t, err)
	})
}

func TestLocalPutAndGet(t *testing.T) {
	tempDir := t.TempDir()
	store, err := blob.NewLocal(blob.LocalConfig{BaseDir: tempDir})
	require.NoError(t, err)

	t.Run("RoundTrip", func(t *testing.T) {
		data := []byte(`[{"Remarks":"測試"}]`)
		uri, err := store.PutObject(context.Background(), "tw_news.json", "application/json", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "tw_news.json"), uri)

		r, err := store.GetObject(context.Background(), "tw_news.json")
		require.NoError(t, err)
		defer r.Close()
		got, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, data, got)
	})

	t.Run("NestedPath", func(t *testing.T) {
		uri, err := store.PutObject(context.Background(), "runs/2025-06-03/tw_news.json", "application/json", bytes.NewReader([]byte("{}")))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join(tempDir, "runs", "2025-06-03", "tw_news.json"), uri)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "application/json", bytes.NewReader([]byte("{}")))
		assert.Error(t, err)
		_, err = store.GetObject(context.Background(), "")
		assert.Error(t, err)
	})

	t.Run("PathTraversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.json", "application/json", bytes.NewReader([]byte("{}")))
		assert.Error(t, err)
	})

	t.Run("MissingObject", func(t *testing.T) {
		_, err := store.GetObject(context.Background(), "does-not-exist.json")
		assert.Error(t, err)
	})
}
