// Package imagegen generates scene images with Replicate.
package imagegen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/replicate/replicate-go"
	"go.uber.org/zap"
)

const (
	DefaultModel       = "black-forest-labs/flux-1.1-pro"
	DefaultAspectRatio = "9:16"
)

// Generator produces image bytes from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) ([]byte, error)
}

// Config configures the Replicate image generator.
type Config struct {
	APIToken    string
	Model       string
	AspectRatio string
	// DownloadTimeout bounds fetching the generated file.
	DownloadTimeout time.Duration
}

type runFunc func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error)

// Replicate runs an image model and downloads its output.
type Replicate struct {
	cfg        Config
	run        runFunc
	httpClient *http.Client
	log        *zap.Logger
}

// NewReplicate creates an image generator backed by the Replicate API.
func NewReplicate(cfg Config, log *zap.Logger) (*Replicate, error) {
	opts := []replicate.ClientOption{replicate.WithTokenFromEnv()}
	if cfg.APIToken != "" {
		opts = []replicate.ClientOption{replicate.WithToken(cfg.APIToken)}
	}
	r8, err := replicate.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create replicate client: %w", err)
	}

	g := newReplicate(cfg, log)
	g.run = func(ctx context.Context, model string, input replicate.PredictionInput) (replicate.PredictionOutput, error) {
		return r8.Run(ctx, model, input, nil)
	}
	return g, nil
}

func newReplicate(cfg Config, log *zap.Logger) *Replicate {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.AspectRatio == "" {
		cfg.AspectRatio = DefaultAspectRatio
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = time.Minute
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Replicate{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.DownloadTimeout},
		log:        log.Named("replicate"),
	}
}

// Generate renders prompt as an image and returns its bytes.
func (g *Replicate) Generate(ctx context.Context, prompt string) ([]byte, error) {
	input := replicate.PredictionInput{
		"prompt":            prompt,
		"prompt_upsampling": true,
		"aspect_ratio":      g.cfg.AspectRatio,
	}

	output, err := g.run(ctx, g.cfg.Model, input)
	if err != nil {
		return nil, fmt.Errorf("replicate run %s: %w", g.cfg.Model, err)
	}

	imageURL, err := OutputURL(output)
	if err != nil {
		return nil, err
	}
	g.log.Debug("Image generated", zap.String("url", imageURL))

	return g.download(ctx, imageURL)
}

// OutputURL extracts the file URL from a prediction output, which may be a
// URL string, a list of them, or an object with a "url" field.
func OutputURL(output replicate.PredictionOutput) (string, error) {
	switch v := output.(type) {
	case string:
		if v != "" {
			return v, nil
		}
	case []interface{}:
		for _, item := range v {
			if u, err := OutputURL(item); err == nil {
				return u, nil
			}
		}
	case []string:
		if len(v) > 0 && v[0] != "" {
			return v[0], nil
		}
	case map[string]interface{}:
		if u, ok := v["url"].(string); ok && u != "" {
			return u, nil
		}
	}
	return "", fmt.Errorf("replicate: unexpected output %T", output)
}

func (g *Replicate) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch image: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("replicate: empty image")
	}
	return data, nil
}
