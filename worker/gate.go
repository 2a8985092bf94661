package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/tasks"
	"go.uber.org/zap"
)

// GateStore is the subset of the store the readiness gate reads and claims
// through.
type GateStore interface {
	GetVideo(ctx context.Context, id string) (*models.Video, error)
	ListScenes(ctx context.Context, videoID string) ([]models.VideoScene, error)
	AdvanceStatus(ctx context.Context, id string, to models.VideoStatus) (bool, error)
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
}

const (
	renderEmitAttempts = 4
	renderEmitBackoff  = 250 * time.Millisecond
)

// Gate decides when a video has every render input and emits the render
// task exactly once.
type Gate struct {
	store GateStore
	emit  Emitter
	log   *zap.Logger

	emitAttempts int
	emitBackoff  time.Duration
}

func NewGate(store GateStore, emit Emitter, log *zap.Logger) *Gate {
	return &Gate{
		store:        store,
		emit:         emit,
		log:          log.Named("gate"),
		emitAttempts: renderEmitAttempts,
		emitBackoff:  renderEmitBackoff,
	}
}

// Check re-reads the video and its scenes. When all inputs are present it
// claims the QUEUED_FOR_RENDERING transition; only the caller whose claim
// succeeds emits the render task, so concurrent checks trigger one render.
func (g *Gate) Check(ctx context.Context, videoID string) (bool, error) {
	ready, err := g.ready(ctx, videoID)
	if err != nil || !ready {
		return false, err
	}

	won, err := g.store.AdvanceStatus(ctx, videoID, models.StatusQueuedForRendering)
	if err != nil {
		return false, fmt.Errorf("claim render: %w", err)
	}
	if !won {
		return false, nil
	}

	if err := g.emitRender(ctx, videoID); err != nil {
		// The claim is forward only and cannot be released.
		reason := fmt.Sprintf("emit render: %v", err)
		if _, mErr := g.store.MarkFailed(context.WithoutCancel(ctx), videoID, reason); mErr != nil {
			g.log.Error("Failed to mark video failed", zap.String("video_id", videoID), zap.Error(mErr))
		}
		return false, Permanent(fmt.Errorf("emit render: %w", err))
	}

	renderTriggers.Inc()
	g.log.Info("Queued video for rendering", zap.String("video_id", videoID))
	return true, nil
}

// emitRender retries the render enqueue in place. The winning claim is never
// re-taken by a redelivered stage task, so this is the only chance to emit.
func (g *Gate) emitRender(ctx context.Context, videoID string) error {
	var err error
	for attempt := 1; attempt <= g.emitAttempts; attempt++ {
		err = g.emit.Enqueue(ctx, tasks.QueueRender, tasks.RenderTaskPayload{VideoID: videoID})
		if err == nil || attempt == g.emitAttempts {
			break
		}
		g.log.Warn("Render emit failed, retrying",
			zap.String("video_id", videoID), zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return err
		case <-time.After(g.emitBackoff * time.Duration(1<<(attempt-1))):
		}
	}
	return err
}

func (g *Gate) ready(ctx context.Context, videoID string) (bool, error) {
	video, err := g.store.GetVideo(ctx, videoID)
	if err != nil {
		return false, err
	}
	if video.VoiceOverURL == nil || *video.VoiceOverURL == "" {
		return false, nil
	}
	if !video.HasCaptions() {
		return false, nil
	}

	scenes, err := g.store.ListScenes(ctx, videoID)
	if err != nil {
		return false, err
	}
	if len(scenes) == 0 {
		return false, nil
	}
	for _, sc := range scenes {
		if sc.ImageURL == nil || *sc.ImageURL == "" {
			return false, nil
		}
	}
	return true, nil
}
