// Package voice synthesizes narration with character-level timing.
package voice

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/drewmudry/instashorts-pipeline/captions"
	"go.uber.org/zap"
)

const (
	DefaultBaseURL      = "https://api.elevenlabs.io"
	DefaultVoiceID      = "21m00Tcm4TlvDq8ikWAM"
	DefaultModelID      = "eleven_multilingual_v2"
	DefaultOutputFormat = "mp3_44100_128"
)

// Speech is synthesized audio plus its alignment.
type Speech struct {
	Audio               []byte
	Alignment           captions.Alignment
	NormalizedAlignment *captions.Alignment
}

// Synthesizer turns text into narrated audio with timing.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voiceID string) (*Speech, error)
}

// Config configures the ElevenLabs client.
type Config struct {
	APIKey       string
	BaseURL      string
	ModelID      string
	OutputFormat string
	Timeout      time.Duration
}

// ElevenLabs calls the text-to-speech with-timestamps endpoint.
type ElevenLabs struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
}

// NewElevenLabs creates a new ElevenLabs client.
func NewElevenLabs(cfg Config, log *zap.Logger) (*ElevenLabs, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL for ElevenLabs: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.OutputFormat == "" {
		cfg.OutputFormat = DefaultOutputFormat
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ElevenLabs{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("elevenlabs"),
	}, nil
}

type speechRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type speechResponse struct {
	AudioBase64         string              `json:"audio_base64"`
	Alignment           *captions.Alignment `json:"alignment"`
	NormalizedAlignment *captions.Alignment `json:"normalized_alignment"`
}

// Synthesize converts text to speech with the given voice, falling back to
// DefaultVoiceID when voiceID is empty.
func (c *ElevenLabs) Synthesize(ctx context.Context, text, voiceID string) (*Speech, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("synthesize: empty text")
	}
	if voiceID == "" {
		voiceID = DefaultVoiceID
	}

	endpoint := fmt.Sprintf("%s/v1/text-to-speech/%s/with-timestamps?output_format=%s",
		c.cfg.BaseURL, url.PathEscape(voiceID), url.QueryEscape(c.cfg.OutputFormat))
	log := c.log.With(zap.String("voice_id", voiceID))

	body, err := json.Marshal(speechRequest{Text: text, ModelID: c.cfg.ModelID})
	if err != nil {
		return nil, fmt.Errorf("internal error marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("xi-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		log.Warn("ElevenLabs returned an error", zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
	}

	var out speechResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to decode ElevenLabs response: %w", err)
	}
	if out.Alignment == nil {
		return nil, fmt.Errorf("elevenlabs: response has no alignment")
	}
	audio, err := base64.StdEncoding.DecodeString(out.AudioBase64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("elevenlabs: empty audio")
	}

	log.Debug("Synthesized speech", zap.Int("bytes", len(audio)), zap.Int("characters", len(out.Alignment.Characters)))
	return &Speech{
		Audio:               audio,
		Alignment:           *out.Alignment,
		NormalizedAlignment: out.NormalizedAlignment,
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
