package storage

import (
	"context"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	appconfig "github.com/semmidev/dbkeep/internal/config"
	"github.com/semmidev/dbkeep/internal/domain"
)

type GCSStorage struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a GCS uploader. Without a credentials file the client
// falls back to application default credentials.
func NewGCS(ctx context.Context, cfg *appconfig.GCSConfig, opts ...option.ClientOption) (*GCSStorage, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create GCS client: %w", domain.ErrConfig, err)
	}

	return &GCSStorage{
		client: client,
		bucket: cfg.Bucket,
		prefix: cfg.Prefix,
	}, nil
}

func (g *GCSStorage) Name() string {
	return "gcs"
}

func (g *GCSStorage) Upload(ctx context.Context, localPath string) (string, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("%w: failed to open file: %w", domain.ErrUpload, err)
	}
	defer file.Close()

	key := objectKey(g.prefix, localPath)

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = "application/octet-stream"

	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("%w: failed to upload to GCS: %w", domain.ErrUpload, err)
	}

	if err := w.Close(); err != nil {
		return "", fmt.Errorf("%w: failed to finalize GCS upload: %w", domain.ErrUpload, err)
	}

	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

func (g *GCSStorage) Close() error {
	return g.client.Close()
}
