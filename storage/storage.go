// Package storage uploads pipeline artifacts to blob storage and returns
// their public URLs.
package storage

import (
	"context"
	"fmt"
)

// Uploader stores bytes at a path, overwriting any existing object, and
// returns the object's public URL.
type Uploader interface {
	Upload(ctx context.Context, data []byte, path, contentType string) (string, error)
}

const (
	ContentTypeMP3 = "audio/mpeg"
	ContentTypePNG = "image/png"
	ContentTypeMP4 = "video/mp4"
)

// VoiceoverPath is where a video's narration audio lives.
func VoiceoverPath(videoID, fileID string) string {
	return fmt.Sprintf("voiceovers/%s/%s.mp3", videoID, fileID)
}

// ScenePath is where a scene image lives. It is stable per scene so a
// redelivered task overwrites the same object.
func ScenePath(videoID, sceneID string) string {
	return fmt.Sprintf("scenes/%s/%s.png", videoID, sceneID)
}

// VideoPath is where a rendered video lives.
func VideoPath(videoID, fileID string) string {
	return fmt.Sprintf("videos/%s/%s.mp4", videoID, fileID)
}

// Config selects and configures a backend.
type Config struct {
	Backend string // "gcs" or "supabase"
	Bucket  string

	SupabaseURL string
	SupabaseKey string
}

// New builds the configured uploader.
func New(ctx context.Context, cfg Config) (Uploader, error) {
	switch cfg.Backend {
	case "", "gcs":
		return NewGCS(ctx, cfg.Bucket)
	case "supabase":
		return NewSupabase(cfg.SupabaseURL, cfg.SupabaseKey, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
