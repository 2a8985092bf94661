package series

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/tasks"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var (
	videosSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_videos_spawned_total",
		Help: "Total number of videos created by the series scheduler.",
	})
	spawnFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_spawn_failures_total",
		Help: "Total number of series the scheduler failed to spawn a video for.",
	})
	stuckFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "scheduler_stuck_videos_failed_total",
		Help: "Total number of in-flight videos failed by the stuck-job sweep.",
	})
)

// SchedulerStore is the persistence the scheduler uses.
type SchedulerStore interface {
	ListActiveSeries(ctx context.Context) ([]models.Series, error)
	InsertVideo(ctx context.Context, video *models.Video) error
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
	FailStale(ctx context.Context, before time.Time, reason string) (int64, error)
}

// TopicGenerator derives a fresh video topic from a series theme.
type TopicGenerator interface {
	GenerateTopic(ctx context.Context, theme string) (string, error)
}

// Emitter publishes a task onto a queue.
type Emitter interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}) error
}

// Scheduler spawns one video per active series on every tick.
type Scheduler struct {
	store  SchedulerStore
	topics TopicGenerator
	emit   Emitter
	log    *zap.Logger

	now   func() time.Time
	newID func() string
}

func NewScheduler(store SchedulerStore, topics TopicGenerator, emit Emitter, log *zap.Logger) *Scheduler {
	return &Scheduler{
		store:  store,
		topics: topics,
		emit:   emit,
		log:    log.Named("scheduler"),
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// TickResult summarizes one scheduler run.
type TickResult struct {
	Spawned int
	Skipped int
	Failed  int
}

// Tick creates and enqueues a video for every active series. A failing
// series is logged and counted; it never stops the others.
func (s *Scheduler) Tick(ctx context.Context) (TickResult, error) {
	var res TickResult

	all, err := s.store.ListActiveSeries(ctx)
	if err != nil {
		return res, fmt.Errorf("list active series: %w", err)
	}
	s.log.Info("Running series tick", zap.Int("series", len(all)))

	for i := range all {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		ser := &all[i]
		log := s.log.With(zap.Uint("series_id", ser.ID))

		if strings.TrimSpace(ser.Theme) == "" {
			log.Warn("Skipping series without a theme")
			res.Skipped++
			continue
		}

		videoID, err := s.spawn(ctx, ser)
		if err != nil {
			log.Error("Failed to spawn video for series", zap.Error(err))
			spawnFailures.Inc()
			res.Failed++
			continue
		}
		videosSpawned.Inc()
		res.Spawned++
		log.Info("Spawned series video", zap.String("video_id", videoID))
	}

	s.log.Info("Series tick finished",
		zap.Int("spawned", res.Spawned),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed))
	return res, nil
}

func (s *Scheduler) spawn(ctx context.Context, ser *models.Series) (string, error) {
	topic, err := s.topics.GenerateTopic(ctx, ser.Theme)
	if err != nil {
		return "", fmt.Errorf("generate topic: %w", err)
	}
	if topic == "" {
		topic = ser.Theme
	}

	seriesID := ser.ID
	video := &models.Video{
		ID:                    s.newID(),
		UserID:                ser.UserID,
		SeriesID:              &seriesID,
		Theme:                 topic,
		Status:                models.StatusPending,
		ArtStyle:              ser.ArtStyle,
		CaptionHighlightColor: ser.CaptionHighlightColor,
		CaptionPosition:       ser.CaptionPosition,
		EmojiCaptions:         ser.EmojiCaptions,
	}
	if video.CaptionHighlightColor == "" {
		video.CaptionHighlightColor = models.DefaultCaptionHighlightColor
	}
	if video.CaptionPosition == "" {
		video.CaptionPosition = models.CaptionPositionBottom
	}

	if err := s.store.InsertVideo(ctx, video); err != nil {
		return "", fmt.Errorf("insert video: %w", err)
	}

	if err := s.emit.Enqueue(ctx, tasks.QueueScript, tasks.ScriptTaskPayload{VideoID: video.ID}); err != nil {
		// Nothing would ever pick the video up.
		if _, mErr := s.store.MarkFailed(context.WithoutCancel(ctx), video.ID, fmt.Sprintf("enqueue script: %v", err)); mErr != nil {
			s.log.Error("Failed to mark video failed", zap.String("video_id", video.ID), zap.Error(mErr))
		}
		return video.ID, fmt.Errorf("enqueue script: %w", err)
	}
	return video.ID, nil
}

// SweepStuck fails in-flight videos that have not been updated within
// timeout. A zero timeout disables the sweep.
func (s *Scheduler) SweepStuck(ctx context.Context, timeout time.Duration) (int64, error) {
	if timeout <= 0 {
		return 0, nil
	}
	n, err := s.store.FailStale(ctx, s.now().Add(-timeout), fmt.Sprintf("no progress for %s", timeout))
	if err != nil {
		return 0, fmt.Errorf("sweep stuck videos: %w", err)
	}
	if n > 0 {
		stuckFailed.Add(float64(n))
		s.log.Warn("Failed stuck videos", zap.Int64("count", n), zap.Duration("timeout", timeout))
	}
	return n, nil
}
