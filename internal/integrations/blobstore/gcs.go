package blobstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

type GCSBackend struct {
	client *storage.Client
}

var _ Backend = (*GCSBackend)(nil)

// NewGCS opens a Cloud Storage client. Without explicit options it uses
// ClientOptionsFromEnv and falls back to application default credentials.
func NewGCS(ctx context.Context, opts ...option.ClientOption) (*GCSBackend, error) {
	if len(opts) == 0 {
		opts = ClientOptionsFromEnv()
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("blobstore: create storage client: %w", err)
	}
	return &GCSBackend{client: client}, nil
}

// ClientOptionsFromEnv reads service account credentials from
// GOOGLE_APPLICATION_CREDENTIALS_JSON (inline JSON) or
// GOOGLE_APPLICATION_CREDENTIALS (inline JSON or a file path).
func ClientOptionsFromEnv() []option.ClientOption {
	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}
	if creds == "" {
		return nil
	}
	if strings.HasPrefix(creds, "{") {
		return []option.ClientOption{option.WithCredentialsJSON([]byte(creds))}
	}
	return []option.ClientOption{option.WithCredentialsFile(creds)}
}

func (b *GCSBackend) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := b.client.Bucket(bucket).Object(key).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blobstore: attrs gs://%s/%s: %w", bucket, key, err)
	}
	return true, nil
}

func (b *GCSBackend) Fetch(ctx context.Context, bucket, key string, limit int64) ([]byte, error) {
	r, err := b.client.Bucket(bucket).Object(key).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("blobstore: read gs://%s/%s: %w", bucket, key, err)
	}
	defer func() { _ = r.Close() }()
	return readLimited(r, limit)
}

func (b *GCSBackend) Delete(ctx context.Context, bucket, key string) error {
	if err := b.client.Bucket(bucket).Object(key).Delete(ctx); err != nil {
		return fmt.Errorf("blobstore: delete gs://%s/%s: %w", bucket, key, err)
	}
	return nil
}

func (b *GCSBackend) Close() error {
	return b.client.Close()
}
