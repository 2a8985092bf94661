package storage

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storagego "github.com/supabase-community/storage-go"
)

// Supabase uploads to a public Supabase storage bucket.
type Supabase struct {
	client  *storagego.Client
	bucket  string
	baseURL string
}

// NewSupabase creates a client for the project at supabaseURL using a
// service role key.
func NewSupabase(supabaseURL, serviceRoleKey, bucket string) (*Supabase, error) {
	if supabaseURL == "" || bucket == "" {
		return nil, fmt.Errorf("supabase: url and bucket are required")
	}
	baseURL := strings.TrimRight(supabaseURL, "/")
	return &Supabase{
		client:  storagego.NewClient(baseURL+"/storage/v1", serviceRoleKey, nil),
		bucket:  bucket,
		baseURL: baseURL,
	}, nil
}

// Upload overwrites the object at path. The storage client has no context
// support, so ctx is only checked before the call.
func (s *Supabase) Upload(ctx context.Context, data []byte, path, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	upsert := true
	_, err := s.client.UploadFile(s.bucket, path, bytes.NewReader(data), storagego.FileOptions{
		ContentType: &contentType,
		Upsert:      &upsert,
	})
	if err != nil {
		return "", fmt.Errorf("supabase: upload %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

// PublicURL is the public URL of an object in the bucket.
func (s *Supabase) PublicURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.baseURL, s.bucket, path)
}
