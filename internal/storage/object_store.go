package storage

import (
	"context"
	"fmt"
	"io"

	"sentiment-backend/internal/config"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore keeps saved model directories under bucket/prefix keys. Keys
// always use forward slashes.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	GetObject(ctx context.Context, bucket, key string) ([]byte, error)

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	DeleteObjects(ctx context.Context, bucket, prefix string) error

	UploadDir(ctx context.Context, bucket, prefix, src string) error

	DownloadDir(ctx context.Context, bucket, prefix, dest string, overwrite bool) error
}

func NewObjectStore(cfg config.Storage) (ObjectStore, error) {
	switch cfg.ArtifactStore {
	case config.LocalStore:
		return NewLocalObjectStore(cfg.ArtifactDir)
	case config.S3Store:
		return NewS3ObjectStore(S3ClientConfig{
			Endpoint:        cfg.S3EndpointURL,
			Region:          cfg.S3Region,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	}
	return nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
}
