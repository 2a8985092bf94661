package store

import (
	"context"

	"github.com/drewmudry/instashorts-pipeline/models"
)

// InsertSeries creates a series. New series are always active.
func (s *GormStore) InsertSeries(ctx context.Context, series *models.Series) error {
	if series.Schedule == "" {
		series.Schedule = models.ScheduleDaily
	}
	series.IsActive = true
	return s.db.WithContext(ctx).Create(series).Error
}

// GetSeries loads a series by id.
func (s *GormStore) GetSeries(ctx context.Context, id uint) (*models.Series, error) {
	var series models.Series
	if err := s.db.WithContext(ctx).First(&series, id).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &series, nil
}

// GetSeriesForUser loads a series scoped to its owner.
func (s *GormStore) GetSeriesForUser(ctx context.Context, id, userID uint) (*models.Series, error) {
	var series models.Series
	if err := s.db.WithContext(ctx).First(&series, "id = ? AND user_id = ?", id, userID).Error; err != nil {
		return nil, wrapNotFound(err)
	}
	return &series, nil
}

// ListActiveSeries returns every series that should spawn videos.
func (s *GormStore) ListActiveSeries(ctx context.Context) ([]models.Series, error) {
	var series []models.Series
	err := s.db.WithContext(ctx).Where("is_active = ?", true).Order("id asc").Find(&series).Error
	return series, err
}

// ListSeriesByUser returns a user's series with their video counts.
func (s *GormStore) ListSeriesByUser(ctx context.Context, userID uint) ([]models.Series, error) {
	var series []models.Series
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at desc").Find(&series).Error; err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return series, nil
	}

	ids := make([]uint, len(series))
	for i := range series {
		ids[i] = series[i].ID
	}

	var counts []struct {
		SeriesID uint
		Count    int
	}
	err := s.db.WithContext(ctx).
		Model(&models.Video{}).
		Select("series_id, count(*) as count").
		Where("series_id IN ?", ids).
		Group("series_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	byID := make(map[uint]int, len(counts))
	for _, c := range counts {
		byID[c.SeriesID] = c.Count
	}
	for i := range series {
		series[i].VideoCount = byID[series[i].ID]
	}
	return series, nil
}

// SetSeriesActive toggles whether a series spawns future videos. Videos it
// already spawned are not touched.
func (s *GormStore) SetSeriesActive(ctx context.Context, id, userID uint, active bool) error {
	res := s.db.WithContext(ctx).
		Model(&models.Series{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_active", active)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
