package storage

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"sentiment-backend/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T) (*LocalObjectStore, string) {
	t.Helper()
	dir := t.TempDir()
	objectStore, err := NewLocalObjectStore(dir)
	require.NoError(t, err)
	return objectStore, dir
}

func writeModelDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
	return dir
}

func objectNames(objects []Object) []string {
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	sort.Strings(names)
	return names
}

func TestLocalObjectStore_PutGetObject(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)
	ctx := context.Background()

	content := []byte("Test content")
	require.NoError(t, objectStore.PutObject(ctx, "test-bucket", "run/config.json", bytes.NewReader(content)))

	data, err := os.ReadFile(filepath.Join(baseDir, "test-bucket", "run", "config.json"))
	require.NoError(t, err)
	assert.Equal(t, content, data)

	data, err = objectStore.GetObject(ctx, "test-bucket", "run/config.json")
	require.NoError(t, err)
	assert.Equal(t, content, data)

	_, err = objectStore.GetObject(ctx, "test-bucket", "run/missing.json")
	assert.Error(t, err)
}

func TestLocalObjectStore_CreateBucket(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)

	require.NoError(t, objectStore.CreateBucket(context.Background(), "test-bucket"))
	require.NoError(t, objectStore.CreateBucket(context.Background(), "test-bucket"))
	assert.DirExists(t, filepath.Join(baseDir, "test-bucket"))
}

func TestLocalObjectStore_ListObjects(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)
	ctx := context.Background()

	objects, err := objectStore.ListObjects(ctx, "missing-bucket", "")
	require.NoError(t, err)
	assert.Empty(t, objects)

	for _, key := range []string{"a/model.safetensors", "a/vocab.txt", "b/vocab.txt"} {
		require.NoError(t, objectStore.PutObject(ctx, "test-bucket", key, bytes.NewReader([]byte(key))))
	}

	objects, err = objectStore.ListObjects(ctx, "test-bucket", "a/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a/model.safetensors", "a/vocab.txt"}, objectNames(objects))

	objects, err = objectStore.ListObjects(ctx, "test-bucket", "")
	require.NoError(t, err)
	assert.Len(t, objects, 3)
	for _, obj := range objects {
		assert.Equal(t, int64(len(obj.Name)), obj.Size)
	}
}

func TestLocalObjectStore_DeleteObjects(t *testing.T) {
	objectStore, baseDir := setupTestObjectStore(t)
	ctx := context.Background()

	for _, key := range []string{"run-1/a.txt", "run-1/nested/b.txt", "run-2/a.txt"} {
		require.NoError(t, objectStore.PutObject(ctx, "test-bucket", key, bytes.NewReader([]byte("x"))))
	}

	require.NoError(t, objectStore.DeleteObjects(ctx, "test-bucket", "run-1"))
	assert.NoDirExists(t, filepath.Join(baseDir, "test-bucket", "run-1"))
	assert.FileExists(t, filepath.Join(baseDir, "test-bucket", "run-2", "a.txt"))
}

func TestLocalObjectStore_UploadDownloadDir(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)
	ctx := context.Background()

	files := map[string]string{
		"config.json":         `{"hidden_size": 8}`,
		"model.safetensors":   "weights",
		"tokenizer/vocab.txt": "[PAD]\n[UNK]\n",
	}
	src := writeModelDir(t, files)

	require.NoError(t, objectStore.UploadDir(ctx, "models", "run-1", src))
	objects, err := objectStore.ListObjects(ctx, "models", "run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/config.json", "run-1/model.safetensors", "run-1/tokenizer/vocab.txt"}, objectNames(objects))

	dest := filepath.Join(t.TempDir(), "download")
	require.NoError(t, objectStore.DownloadDir(ctx, "models", "run-1", dest, false))
	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dest, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	assert.Error(t, objectStore.DownloadDir(ctx, "models", "run-1", dest, false))
	assert.Error(t, objectStore.DownloadDir(ctx, "models", "run-2", filepath.Join(t.TempDir(), "none"), false))
	assert.Error(t, objectStore.UploadDir(ctx, "models", "", src))
}

func TestLocalObjectStore_UploadDirReplacesPrefix(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)
	ctx := context.Background()

	require.NoError(t, objectStore.UploadDir(ctx, "models", "run-1", writeModelDir(t, map[string]string{"old.txt": "old"})))
	require.NoError(t, objectStore.UploadDir(ctx, "models", "run-1", writeModelDir(t, map[string]string{"new.txt": "new"})))

	objects, err := objectStore.ListObjects(ctx, "models", "run-1/")
	require.NoError(t, err)
	assert.Equal(t, []string{"run-1/new.txt"}, objectNames(objects))
}

func TestLocalObjectStore_DownloadDirOverwrite(t *testing.T) {
	objectStore, _ := setupTestObjectStore(t)
	ctx := context.Background()

	require.NoError(t, objectStore.UploadDir(ctx, "models", "run-1", writeModelDir(t, map[string]string{"vocab.txt": "fresh"})))

	dest := writeModelDir(t, map[string]string{"stale.txt": "stale"})
	require.NoError(t, objectStore.DownloadDir(ctx, "models", "run-1", dest, true))

	assert.NoFileExists(t, filepath.Join(dest, "stale.txt"))
	data, err := os.ReadFile(filepath.Join(dest, "vocab.txt"))
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(data))
}

func TestNewObjectStore(t *testing.T) {
	store, err := NewObjectStore(config.Storage{ArtifactStore: config.LocalStore, ArtifactDir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalObjectStore{}, store)

	_, err = NewObjectStore(config.Storage{ArtifactStore: "gcs"})
	assert.Error(t, err)
}
