package models

import (
	"encoding/json"
	"time"

	"github.com/drewmudry/instashorts-pipeline/captions"
	"gorm.io/datatypes"
)

// VideoStatus is the pipeline state of a video.
type VideoStatus string

const (
	StatusPending             VideoStatus = "PENDING"
	StatusGeneratingVoiceover VideoStatus = "GENERATING_VOICEOVER"
	StatusGeneratingScenes    VideoStatus = "GENERATING_SCENES"
	StatusGeneratingImages    VideoStatus = "GENERATING_IMAGES"
	StatusQueuedForRendering  VideoStatus = "QUEUED_FOR_RENDERING"
	StatusRendering           VideoStatus = "RENDERING"
	StatusUploadingFinalVideo VideoStatus = "UPLOADING_FINAL_VIDEO"
	StatusCompleted           VideoStatus = "COMPLETED"
	StatusFailed              VideoStatus = "FAILED"
)

// forwardOrder lists every non-failed status in pipeline order.
var forwardOrder = []VideoStatus{
	StatusPending,
	StatusGeneratingVoiceover,
	StatusGeneratingScenes,
	StatusGeneratingImages,
	StatusQueuedForRendering,
	StatusRendering,
	StatusUploadingFinalVideo,
	StatusCompleted,
}

// Rank returns the position of s in the pipeline, or -1 for FAILED and
// unknown values.
func (s VideoStatus) Rank() int {
	for i, st := range forwardOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// IsTerminal reports whether no stage may move the video any further.
func (s VideoStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// StatusesBefore returns the statuses a video may be in for a transition to
// target to count as forward progress.
func StatusesBefore(target VideoStatus) []VideoStatus {
	rank := target.Rank()
	if rank <= 0 {
		return nil
	}
	out := make([]VideoStatus, rank)
	copy(out, forwardOrder[:rank])
	return out
}

// ActiveStatuses are the statuses of videos still moving through the pipeline.
func ActiveStatuses() []VideoStatus {
	return StatusesBefore(StatusCompleted)
}

const (
	CaptionPositionTop    = "top"
	CaptionPositionMiddle = "middle"
	CaptionPositionBottom = "bottom"

	DefaultCaptionHighlightColor = "#FFD700"
)

// ValidCaptionPosition reports whether p is one of the supported positions.
func ValidCaptionPosition(p string) bool {
	switch p {
	case CaptionPositionTop, CaptionPositionMiddle, CaptionPositionBottom:
		return true
	}
	return false
}

type Video struct {
	ID       string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID   uint   `gorm:"not null;index" json:"user_id"`
	SeriesID *uint  `gorm:"index" json:"series_id,omitempty"`

	Theme  string      `gorm:"type:text;not null" json:"theme"`
	Status VideoStatus `gorm:"size:32;not null;default:'PENDING';index" json:"status"`
	Title  string      `gorm:"size:255" json:"title"`
	Script *string     `gorm:"type:text" json:"script,omitempty"`

	VoiceOverURL      *string        `gorm:"type:text" json:"voice_over_url,omitempty"`
	CaptionsRaw       datatypes.JSON `gorm:"type:jsonb" json:"captions_raw,omitempty"`
	CaptionsProcessed datatypes.JSON `gorm:"type:jsonb" json:"captions_processed,omitempty"`
	VideoURL          *string        `gorm:"type:text" json:"video_url,omitempty"`

	ArtStyle              string `gorm:"size:64" json:"art_style"`
	CaptionHighlightColor string `gorm:"size:16;default:'#FFD700'" json:"caption_highlight_color"`
	CaptionPosition       string `gorm:"size:16;default:'bottom'" json:"caption_position"`
	EmojiCaptions         bool   `gorm:"default:false" json:"emoji_captions"`

	ErrorMessage string `gorm:"type:text" json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	Scenes []VideoScene `gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE" json:"scenes,omitempty"`
}

func (Video) TableName() string {
	return "videos"
}

// HasCaptions reports whether processed captions have been stored.
func (v *Video) HasCaptions() bool {
	return len(v.CaptionsProcessed) > 0 && string(v.CaptionsProcessed) != "null"
}

// Captions decodes the processed captions column.
func (v *Video) Captions() (*captions.Processed, error) {
	var p captions.Processed
	if err := json.Unmarshal(v.CaptionsProcessed, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
