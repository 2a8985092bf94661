package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCS uploads to a Google Cloud Storage bucket. The bucket is expected to
// grant public read at the bucket level.
type GCS struct {
	client *gcs.Client
	bucket string
}

// NewGCS uses application default credentials.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcs: bucket is required")
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcs: create client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

func (g *GCS) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	w := g.client.Bucket(g.bucket).Object(path).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		w.Close()
		return "", fmt.Errorf("gcs: write %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("gcs: upload %s: %w", path, err)
	}
	return GCSPublicURL(g.bucket, path), nil
}

// Close releases the client.
func (g *GCS) Close() error {
	return g.client.Close()
}

// GCSPublicURL is the public URL of an object in a public bucket.
func GCSPublicURL(bucket, path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", bucket, path)
}
