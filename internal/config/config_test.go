package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "localhost:6379", cfg.RedisURL)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 10, cfg.SceneImageConcurrency)
	assert.Equal(t, 2, cfg.RenderConcurrency)
	assert.Equal(t, 3, cfg.MaxAttempts)
	assert.Equal(t, 2*time.Second, cfg.RetryBackoff)
	assert.Equal(t, 5*time.Minute, cfg.RenderTimeout)
	assert.Equal(t, "0 0 * * *", cfg.SeriesCron)
	assert.Zero(t, cfg.StuckJobTimeout)
	assert.Equal(t, "21m00Tcm4TlvDq8ikWAM", cfg.DefaultVoiceID)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("RENDER_TIMEOUT", "90s")
	t.Setenv("SCENE_IMAGE_CONCURRENCY", "4")
	t.Setenv("STORAGE_BACKEND", "supabase")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.RenderTimeout)
	assert.Equal(t, 4, cfg.SceneImageConcurrency)
	assert.Equal(t, "supabase", cfg.StorageBackend)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("RENDER_CONCURRENCY", "many")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsZeroAttempts(t *testing.T) {
	t.Setenv("TASK_MAX_ATTEMPTS", "0")
	_, err := Load()
	assert.Error(t, err)
}

func TestRequire(t *testing.T) {
	cfg := &Config{}
	assert.Error(t, cfg.RequireAPI())
	assert.Error(t, cfg.RequireWorker())

	cfg.JWTSecret = "s"
	cfg.OpenAIAPIKey = "k"
	cfg.ElevenLabsAPIKey = "e"
	assert.NoError(t, cfg.RequireAPI())
	assert.NoError(t, cfg.RequireWorker())
}
