package local_test

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/artsearch-ingest/internal/storage/local"
)

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("CreatesMissingBaseDir", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		store, err := local.New(fs, local.Config{BaseDir: "/blobs"})
		require.NoError(t, err)
		assert.NotNil(t, store)
		ok, err := afero.DirExists(fs, "/blobs")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("MissingBaseDir", func(t *testing.T) {
		_, err := local.New(afero.NewMemMapFs(), local.Config{})
		assert.Error(t, err)
	})

	t.Run("BaseDirIsNotADirectory", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, afero.WriteFile(fs, "/file", []byte("x"), 0o600))
		_, err := local.New(fs, local.Config{BaseDir: "/file"})
		assert.Error(t, err)
	})

	t.Run("BaseDirNotWritable", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		require.NoError(t, fs.MkdirAll("/ro", 0o750))
		_, err := local.New(afero.NewReadOnlyFs(fs), local.Config{BaseDir: "/ro"})
		assert.Error(t, err)
	})

	t.Run("OsFs", func(t *testing.T) {
		_, err := local.New(nil, local.Config{BaseDir: t.TempDir()})
		require.NoError(t, err)
	})
}

func TestPutObject(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	store, err := local.New(fs, local.Config{BaseDir: "/blobs"})
	require.NoError(t, err)

	t.Run("NestedPath", func(t *testing.T) {
		path := "thumbs/ab/abcdef.jpg"
		data := []byte("jpeg bytes")
		uri, err := store.PutObject(context.Background(), path, "image/jpeg", bytes.NewReader(data))
		require.NoError(t, err)
		assert.Equal(t, "file://"+filepath.Join("/blobs", path), uri)

		readData, err := afero.ReadFile(fs, filepath.Join("/blobs", path))
		require.NoError(t, err)
		assert.Equal(t, data, readData)
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "", "image/jpeg", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})

	t.Run("Traversal", func(t *testing.T) {
		_, err := store.PutObject(context.Background(), "../escape.jpg", "image/jpeg", bytes.NewReader([]byte("data")))
		assert.Error(t, err)
	})
}
