package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinIOConfig addresses one bucket on an S3-compatible server.
type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// MinIO stores audio in an S3-compatible bucket.
type MinIO struct {
	client *minio.Client
	bucket string
	logger *slog.Logger
}

func NewMinIO(cfg MinIOConfig, logger *slog.Logger) (*MinIO, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("storage: creating minio client: %w", err)
	}

	return &MinIO{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// EnsureBucket creates the bucket on first start.
func (m *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := m.client.BucketExists(ctx, m.bucket)
	if err != nil {
		return fmt.Errorf("storage: checking bucket %s: %w", m.bucket, err)
	}
	if exists {
		return nil
	}

	if err := m.client.MakeBucket(ctx, m.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("storage: creating bucket %s: %w", m.bucket, err)
	}
	m.logger.Info("created audio bucket", slog.String("bucket", m.bucket))
	return nil
}

func (m *MinIO) Save(ctx context.Context, name string, r io.Reader, size int64, contentType string) error {
	if !ValidName(name) {
		return ErrInvalidName
	}

	_, err := m.client.PutObject(ctx, m.bucket, name, r, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		m.logger.Error("minio upload failed",
			slog.String("object", name),
			slog.Int64("size", size),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("storage: uploading %s: %w", name, err)
	}
	return nil
}

func (m *MinIO) Open(ctx context.Context, name string) (*Object, error) {
	if !ValidName(name) {
		return nil, ErrNotFound
	}

	obj, err := m.client.GetObject(ctx, m.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(name, err)
	}

	info, err := obj.Stat()
	if err != nil {
		obj.Close()
		return nil, m.translate(name, err)
	}

	return &Object{Body: obj, Size: info.Size, ModTime: info.LastModified}, nil
}

func (m *MinIO) Delete(ctx context.Context, name string) error {
	if !ValidName(name) {
		return ErrNotFound
	}

	if err := m.client.RemoveObject(ctx, m.bucket, name, minio.RemoveObjectOptions{}); err != nil {
		return m.translate(name, err)
	}
	return nil
}

func (m *MinIO) translate(name string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return ErrNotFound
	}
	return fmt.Errorf("storage: minio %s: %w", name, err)
}
