package publish

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/NPRiteshReddy/DS.2-sub000/internal/config"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioMirror uploads published files to an S3-compatible bucket.
type MinioMirror struct {
	client *minio.Client
	bucket string
}

// NewMinioMirror connects to the configured endpoint and creates the bucket
// when it does not exist.
func NewMinioMirror(ctx context.Context, cfg config.StorageConfig) (*MinioMirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
		slog.Info("created media bucket", "bucket", cfg.Bucket)
	}
	return &MinioMirror{client: client, bucket: cfg.Bucket}, nil
}

func (m *MinioMirror) Upload(ctx context.Context, localPath, objectKey, contentType string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat local file: %w", err)
	}

	_, err = m.client.PutObject(ctx, m.bucket, objectKey, f, info.Size(), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", objectKey, err)
	}
	slog.Info("mirrored published file", "object_key", objectKey, "size", info.Size())
	return nil
}
