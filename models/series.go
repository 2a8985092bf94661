package models

import (
	"time"
)

// ScheduleDaily is currently the only series cadence.
const ScheduleDaily = "daily"

type Series struct {
	ID                    uint      `gorm:"primaryKey" json:"id"`
	UserID                uint      `gorm:"not null;index" json:"user_id"`
	Name                  string    `gorm:"size:255" json:"name"`
	Theme                 string    `gorm:"type:text;not null" json:"theme"`
	ArtStyle              string    `gorm:"size:64" json:"art_style"`
	VoiceID               *string   `gorm:"size:64" json:"voice_id,omitempty"`
	CaptionHighlightColor string    `gorm:"size:16;default:'#FFD700'" json:"caption_highlight_color"`
	CaptionPosition       string    `gorm:"size:16;default:'bottom'" json:"caption_position"`
	EmojiCaptions         bool      `gorm:"default:false" json:"emoji_captions"`
	Schedule              string    `gorm:"size:16;default:'daily'" json:"schedule"`
	IsActive              bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`

	// Video count (computed field, not persisted)
	VideoCount int `gorm:"-" json:"video_count"`
}

func (Series) TableName() string {
	return "series"
}
