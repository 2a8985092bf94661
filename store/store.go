// Package store persists videos, scenes and series through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drewmudry/instashorts-pipeline/models"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a lookup or update matches no row.
var ErrNotFound = errors.New("store: record not found")

// ErrImageAlreadySet is returned when a scene image was stored by an earlier
// write.
var ErrImageAlreadySet = errors.New("store: scene image already set")

// GormStore implements every persistence operation the pipeline, the
// scheduler and the API need.
type GormStore struct {
	db *gorm.DB
}

// New wraps an open gorm connection.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying connection.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

// Migrate creates or updates the tables.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&models.Series{}, &models.Video{}, &models.VideoScene{})
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func wrapNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

func statusStrings(statuses []models.VideoStatus) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

// InsertVideo creates a new video row.
func (s *GormStore) InsertVideo(ctx context.Context, video *models.Video) error {
	if video.ID == "" {
		return fmt.Errorf("insert video: missing id")
	}
	if video.Status == "" {
		video.Status = models.StatusPending
	}
	return s.db.WithContext(ctx).Create(video).Error
}

// GetVideo loads a video by id.
func (s *GormStore) GetVideo(ctx context.Context, id string) (*models.Video, error) {
	var video models.Video
	if err := s.db.WithContext(ctx).First(&video, "id = ?", id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &video, nil
}

// UpdateVideo writes a partial set of columns onto one video.
func (s *GormStore) UpdateVideo(ctx context.Context, id string, fields map[string]interface{}) error {
	res := s.db.WithContext(ctx).Model(&models.Video{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvanceStatus moves a video to status `to` only if its current status is
// strictly earlier in the pipeline. It reports whether this call performed
// the transition; concurrent callers racing for the same transition see
// exactly one true.
func (s *GormStore) AdvanceStatus(ctx context.Context, id string, to models.VideoStatus) (bool, error) {
	before := models.StatusesBefore(to)
	if len(before) == 0 {
		return false, nil
	}

	res := s.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = ? AND status IN ?", id, statusStrings(before)).
		Update("status", string(to))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// MarkFailed moves a video to FAILED unless it already reached a terminal
// status.
func (s *GormStore) MarkFailed(ctx context.Context, id string, reason string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = ? AND status NOT IN ?", id, []string{string(models.StatusCompleted), string(models.StatusFailed)}).
		Updates(map[string]interface{}{
			"status":        string(models.StatusFailed),
			"error_message": reason,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CompleteVideo stores the final video URL and marks the video COMPLETED in
// one update.
func (s *GormStore) CompleteVideo(ctx context.Context, id, videoURL string, completedAt time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("id = ? AND status IN ?", id, statusStrings(models.StatusesBefore(models.StatusCompleted))).
		Updates(map[string]interface{}{
			"video_url":    videoURL,
			"status":       string(models.StatusCompleted),
			"completed_at": completedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("complete video %s: %w", id, ErrNotFound)
	}
	return nil
}

// FailStale marks FAILED every in-flight video not updated since before.
func (s *GormStore) FailStale(ctx context.Context, before time.Time, reason string) (int64, error) {
	res := s.db.WithContext(ctx).
		Model(&models.Video{}).
		Where("status IN ? AND updated_at < ?", statusStrings(models.ActiveStatuses()), before).
		Updates(map[string]interface{}{
			"status":        string(models.StatusFailed),
			"error_message": reason,
		})
	return res.RowsAffected, res.Error
}

// InsertScenes creates all scene rows of a video in a single transaction.
func (s *GormStore) InsertScenes(ctx context.Context, scenes []models.VideoScene) error {
	if len(scenes) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range scenes {
			if err := tx.Create(&scenes[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// SetSceneImage stores the generated image URL of one scene. The first write
// wins; a scene that already has an image returns ErrImageAlreadySet.
func (s *GormStore) SetSceneImage(ctx context.Context, sceneID, imageURL string) error {
	res := s.db.WithContext(ctx).Model(&models.VideoScene{}).
		Where("id = ? AND image_url IS NULL", sceneID).
		Update("image_url", imageURL)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.VideoScene{}).Where("id = ?", sceneID).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrImageAlreadySet
}

// ListScenes returns the scenes of a video in render order.
func (s *GormStore) ListScenes(ctx context.Context, videoID string) ([]models.VideoScene, error) {
	var scenes []models.VideoScene
	err := s.db.WithContext(ctx).Where("video_id = ?", videoID).Order("scene_index asc").Find(&scenes).Error
	return scenes, err
}

// ListVideosByUser returns a user's videos, newest first.
func (s *GormStore) ListVideosByUser(ctx context.Context, userID uint) ([]models.Video, error) {
	var videos []models.Video
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&videos).Error
	return videos, err
}

// GetVideoForUser loads a video with its scenes, scoped to its owner.
func (s *GormStore) GetVideoForUser(ctx context.Context, id string, userID uint) (*models.Video, error) {
	var video models.Video
	err := s.db.WithContext(ctx).
		Preload("Scenes", func(db *gorm.DB) *gorm.DB { return db.Order("scene_index asc") }).
		First(&video, "id = ? AND user_id = ?", id, userID).Error
	if err != nil {
		return nil, wrapNotFound(err)
	}
	return &video, nil
}

// ListVideosBySeries returns the videos spawned by a series, newest first.
func (s *GormStore) ListVideosBySeries(ctx context.Context, seriesID uint) ([]models.Video, error) {
	var videos []models.Video
	err := s.db.WithContext(ctx).Where("series_id = ?", seriesID).Order("created_at desc").Find(&videos).Error
	return videos, err
}
