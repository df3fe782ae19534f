package integrationtests

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"sentiment-backend/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestObjectStore(t *testing.T, ctx context.Context) *storage.S3ObjectStore {
	t.Helper()

	endpoint := setupMinioContainer(t, ctx)

	objectStore, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        endpoint,
		Region:          "us-east-1",
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)
	require.NoError(t, objectStore.CreateBucket(ctx, modelBucket))
	return objectStore
}

func objectNames(objects []storage.Object) []string {
	names := make([]string, 0, len(objects))
	for _, obj := range objects {
		names = append(names, obj.Name)
	}
	sort.Strings(names)
	return names
}

func TestS3ObjectStore(t *testing.T) {
	skipInShortMode(t)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	objectStore := setupTestObjectStore(t, ctx)

	t.Run("CreateBucket Is Idempotent", func(t *testing.T) {
		require.NoError(t, objectStore.CreateBucket(ctx, modelBucket))
	})

	t.Run("PutObject And GetObject", func(t *testing.T) {
		content := []byte("Test content")
		require.NoError(t, objectStore.PutObject(ctx, modelBucket, "test-dir/test-file.txt", bytes.NewReader(content)))

		data, err := objectStore.GetObject(ctx, modelBucket, "test-dir/test-file.txt")
		require.NoError(t, err)
		assert.Equal(t, content, data)
	})

	t.Run("DeleteObjects", func(t *testing.T) {
		for _, key := range []string{"delete/a.txt", "delete/b.txt", "keep/c.txt"} {
			require.NoError(t, objectStore.PutObject(ctx, modelBucket, key, bytes.NewReader([]byte(key))))
		}
		require.NoError(t, objectStore.DeleteObjects(ctx, modelBucket, "delete/"))

		objects, err := objectStore.ListObjects(ctx, modelBucket, "delete/")
		require.NoError(t, err)
		assert.Empty(t, objects)

		objects, err = objectStore.ListObjects(ctx, modelBucket, "keep/")
		require.NoError(t, err)
		assert.Equal(t, []string{"keep/c.txt"}, objectNames(objects))
	})

	t.Run("UploadDir And DownloadDir", func(t *testing.T) {
		src := t.TempDir()
		files := map[string]string{
			"config.json":         `{"hidden_size": 8}`,
			"model.safetensors":   "weights",
			"tokenizer/vocab.txt": "[PAD]\n[UNK]\n",
			"training_args.json":  `{"max_len": 16}`,
		}
		for name, content := range files {
			path := filepath.Join(src, name)
			require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
			require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		}

		require.NoError(t, objectStore.UploadDir(ctx, modelBucket, "run-1", src))

		objects, err := objectStore.ListObjects(ctx, modelBucket, "run-1/")
		require.NoError(t, err)
		assert.Equal(t, []string{"run-1/config.json", "run-1/model.safetensors", "run-1/tokenizer/vocab.txt", "run-1/training_args.json"}, objectNames(objects))

		dest := filepath.Join(t.TempDir(), "model")
		require.NoError(t, objectStore.DownloadDir(ctx, modelBucket, "run-1", dest, false))
		for name, content := range files {
			data, err := os.ReadFile(filepath.Join(dest, name))
			require.NoError(t, err)
			assert.Equal(t, content, string(data))
		}

		// A second upload replaces everything under the prefix.
		require.NoError(t, os.Remove(filepath.Join(src, "training_args.json")))
		require.NoError(t, objectStore.UploadDir(ctx, modelBucket, "run-1", src))
		objects, err = objectStore.ListObjects(ctx, modelBucket, "run-1/")
		require.NoError(t, err)
		assert.Len(t, objects, 3)

		assert.Error(t, objectStore.DownloadDir(ctx, modelBucket, "missing-run", filepath.Join(t.TempDir(), "missing"), false))
	})
}
