// Package render composes scene images, narration and captions into the
// final vertical video.
package render

import (
	"context"
	"math"

	"github.com/drewmudry/instashorts-pipeline/captions"
)

const (
	FPS    = 30
	Width  = 1080
	Height = 1920

	// TrailingBuffer is added after the last spoken word.
	TrailingBuffer = 0.5
	// FallbackDuration is used when no word timings exist.
	FallbackDuration = 30.0

	// WordsPerPage is the number of caption words shown at once.
	WordsPerPage = 5
)

// Effect is the camera motion applied to a scene image.
type Effect string

const (
	ZoomIn   Effect = "zoomIn"
	ZoomOut  Effect = "zoomOut"
	PanLeft  Effect = "panLeft"
	PanRight Effect = "panRight"
)

var effectCycle = []Effect{ZoomIn, ZoomOut, PanLeft, PanRight}

// EffectFor returns the effect of the scene at index.
func EffectFor(index int) Effect {
	return effectCycle[index%len(effectCycle)]
}

// Composition is everything the compositor needs to produce a video.
type Composition struct {
	SceneImageURLs  []string
	AudioURL        string
	Words           []captions.Word
	HighlightColor  string
	CaptionPosition string
	DurationSeconds float64
	FPS             int
	Width           int
	Height          int
}

// Compositor renders a composition into a media file at outputPath.
type Compositor interface {
	Compose(ctx context.Context, c Composition, outputPath string) error
}

// Duration is the last word's end plus TrailingBuffer.
func Duration(words []captions.Word) float64 {
	if len(words) == 0 {
		return FallbackDuration
	}
	return words[len(words)-1].End + TrailingBuffer
}

// TotalFrames is the frame count of a video of the given length.
func TotalFrames(duration float64, fps int) int {
	if fps <= 0 {
		fps = FPS
	}
	n := int(math.Ceil(duration*float64(fps) - 1e-9))
	if n < 1 {
		n = 1
	}
	return n
}

// SceneFrames splits total frames equally across scenes. The last scene
// absorbs the remainder so the counts add up to total. Every scene gets at
// least one frame, so total is raised to scenes when it is smaller.
func SceneFrames(total, scenes int) []int {
	if scenes <= 0 {
		return nil
	}
	if total < scenes {
		total = scenes
	}
	per := total / scenes
	out := make([]int, scenes)
	for i := range out {
		out[i] = per
	}
	out[scenes-1] += total - per*scenes
	return out
}
