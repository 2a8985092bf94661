package models

import "time"

type VideoScene struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	VideoID     string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_scene_video_index" json:"video_id"`
	SceneIndex  int       `gorm:"not null;uniqueIndex:idx_scene_video_index" json:"scene_index"`
	ImagePrompt string    `gorm:"type:text;not null" json:"image_prompt"`
	ImageURL    *string   `gorm:"type:text" json:"image_url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func (VideoScene) TableName() string {
	return "scenes"
}
