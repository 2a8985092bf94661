package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// RenderTimeout bounds a single ffmpeg invocation.
	RenderTimeout = 5 * time.Minute

	captionsFile = "captions.ass"
	audioFile    = "narration.mp3"
	maxDownloads = 4
)

// FFmpegCompositor downloads the assets into a scratch directory and renders
// them with the ffmpeg binary.
type FFmpegCompositor struct {
	Binary     string
	HTTPClient *http.Client
	Timeout    time.Duration
	log        *zap.Logger
}

func NewFFmpegCompositor(binary string, log *zap.Logger) *FFmpegCompositor {
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegCompositor{
		Binary:     binary,
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Timeout:    RenderTimeout,
		log:        log,
	}
}

func (f *FFmpegCompositor) Compose(ctx context.Context, c Composition, outputPath string) error {
	if len(c.SceneImageURLs) == 0 {
		return fmt.Errorf("render: no scene images")
	}
	if c.AudioURL == "" {
		return fmt.Errorf("render: no audio")
	}

	workDir, err := os.MkdirTemp("", "render-*")
	if err != nil {
		return fmt.Errorf("render: create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	images := make([]string, len(c.SceneImageURLs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxDownloads)
	for i, u := range c.SceneImageURLs {
		i, u := i, u
		images[i] = fmt.Sprintf("scene-%03d.png", i)
		g.Go(func() error {
			return f.fetch(gctx, u, filepath.Join(workDir, images[i]))
		})
	}
	g.Go(func() error {
		return f.fetch(gctx, c.AudioURL, filepath.Join(workDir, audioFile))
	})
	if err := g.Wait(); err != nil {
		return err
	}

	if err := os.WriteFile(filepath.Join(workDir, captionsFile), []byte(BuildASS(c)), 0o644); err != nil {
		return fmt.Errorf("render: write captions: %w", err)
	}

	timeout := f.Timeout
	if timeout <= 0 {
		timeout = RenderTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	// ffmpeg runs in workDir; a relative output would land there and be removed.
	if abs, err := filepath.Abs(outputPath); err == nil {
		outputPath = abs
	}
	args := BuildArgs(c, images, audioFile, captionsFile, outputPath)
	cmd := exec.CommandContext(rctx, f.Binary, args...)
	cmd.Dir = workDir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if rctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("render: ffmpeg timed out after %s", timeout)
		}
		return fmt.Errorf("render: ffmpeg failed: %w: %s", err, tail(stderr.String(), 2000))
	}
	f.log.Info("Rendered video",
		zap.Int("scenes", len(images)),
		zap.Float64("duration_seconds", c.DurationSeconds),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

func (f *FFmpegCompositor) fetch(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("render: build request for %s: %w", url, err)
	}
	resp, err := f.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("render: download %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("render: download %s: status %d", url, resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("render: create %s: %w", dest, err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return fmt.Errorf("render: save %s: %w", url, err)
	}
	return out.Close()
}

// zoompanExpr returns the zoom and x expressions of an effect over d frames.
// Zoom effects travel 1.0 to 1.15; pans sweep across the image at 1.1.
func zoompanExpr(e Effect, frames int) (z, x string) {
	last := frames - 1
	if last < 1 {
		last = 1
	}
	progress := fmt.Sprintf("min(on/%d,1)", last)
	centerX := "iw/2-(iw/zoom/2)"
	switch e {
	case ZoomOut:
		return "1.15-0.15*" + progress, centerX
	case PanLeft:
		return "1.1", "(iw-iw/zoom)*(1-" + progress + ")"
	case PanRight:
		return "1.1", "(iw-iw/zoom)*" + progress
	default:
		return "1+0.15*" + progress, centerX
	}
}

// FilterGraph builds the filter_complex that animates every image, joins
// them and burns in the captions.
func FilterGraph(c Composition, scenes int, captionsPath string) string {
	fps, width, height := c.FPS, c.Width, c.Height
	if fps <= 0 {
		fps = FPS
	}
	if width == 0 || height == 0 {
		width, height = Width, Height
	}
	frames := SceneFrames(TotalFrames(c.DurationSeconds, fps), scenes)

	var b strings.Builder
	for i, n := range frames {
		z, x := zoompanExpr(EffectFor(i), n)
		fmt.Fprintf(&b,
			"[%d:v]scale=%d:%d:force_original_aspect_ratio=increase,crop=%d:%d,zoompan=z='%s':x='%s':y='ih/2-(ih/zoom/2)':d=%d:s=%dx%d:fps=%d,setsar=1[v%d];",
			i, width*2, height*2, width*2, height*2, z, x, n, width, height, fps, i)
	}
	for i := range frames {
		fmt.Fprintf(&b, "[v%d]", i)
	}
	fmt.Fprintf(&b, "concat=n=%d:v=1:a=0,ass=%s[vout]", scenes, captionsPath)
	return b.String()
}

// BuildArgs is the ffmpeg argument list for a composition whose assets are
// already on disk.
func BuildArgs(c Composition, images []string, audioPath, captionsPath, outputPath string) []string {
	fps := c.FPS
	if fps <= 0 {
		fps = FPS
	}
	args := []string{"-y", "-hide_banner", "-loglevel", "error"}
	for _, img := range images {
		args = append(args, "-i", img)
	}
	args = append(args, "-i", audioPath)
	args = append(args,
		"-filter_complex", FilterGraph(c, len(images), captionsPath),
		"-map", "[vout]",
		"-map", strconv.Itoa(len(images))+":a",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-crf", "23",
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
		"-c:a", "aac",
		"-b:a", "192k",
		"-t", strconv.FormatFloat(c.DurationSeconds, 'f', 3, 64),
		"-movflags", "+faststart",
		outputPath,
	)
	return args
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
