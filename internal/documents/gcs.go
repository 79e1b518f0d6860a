package documents

import (
	"context"
	"fmt"
	"io"
	"net/url"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSConfig configures the bucket store. CredentialsFile is optional; the
// client falls back to application default credentials.
type GCSConfig struct {
	Bucket          string
	Prefix          string
	CredentialsFile string
}

// GCS stores documents as objects in a Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	prefix string
}

// NewGCS creates a bucket-backed document store.
func NewGCS(ctx context.Context, cfg GCSConfig) (*GCS, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	return &GCS{client: client, bucket: cfg.Bucket, prefix: cfg.Prefix}, nil
}

// Save streams body into a new object.
func (s *GCS) Save(ctx context.Context, name, contentType string, body io.Reader) (Stored, error) {
	objectPath := s.prefix + name
	w := s.client.Bucket(s.bucket).Object(objectPath).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, no-store"

	if _, err := io.Copy(w, body); err != nil {
		_ = w.Close()
		return Stored{}, fmt.Errorf("gcs write failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return Stored{}, fmt.Errorf("gcs close failed: %w", err)
	}
	return Stored{
		ID:   objectPath,
		URL:  fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucket, (&url.URL{Path: objectPath}).EscapedPath()),
		Name: name,
	}, nil
}

func (s *GCS) Close() error {
	return s.client.Close()
}
