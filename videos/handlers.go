// Package videos serves the video endpoints of the API.
package videos

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/tasks"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Store is the persistence the video endpoints use.
type Store interface {
	InsertVideo(ctx context.Context, video *models.Video) error
	MarkFailed(ctx context.Context, id string, reason string) (bool, error)
	ListVideosByUser(ctx context.Context, userID uint) ([]models.Video, error)
	GetVideoForUser(ctx context.Context, id string, userID uint) (*models.Video, error)
}

// Emitter publishes a task onto a queue.
type Emitter interface {
	Enqueue(ctx context.Context, queueName string, payload interface{}) error
}

type Handler struct {
	store Store
	emit  Emitter
	log   *zap.Logger
}

func NewHandler(s Store, emit Emitter, log *zap.Logger) *Handler {
	return &Handler{store: s, emit: emit, log: log.Named("videos")}
}

type CreateVideoRequest struct {
	Theme                 string `json:"theme" binding:"required"`
	ArtStyle              string `json:"art_style"`
	CaptionHighlightColor string `json:"caption_highlight_color"`
	CaptionPosition       string `json:"caption_position"`
	EmojiCaptions         bool   `json:"emoji_captions"`
}

// CreateVideo stores a PENDING video and starts the pipeline.
func (h *Handler) CreateVideo(c *gin.Context) {
	userID := c.GetUint("user_id")
	var req CreateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	theme := strings.TrimSpace(req.Theme)
	if theme == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Theme is required"})
		return
	}
	if req.CaptionPosition == "" {
		req.CaptionPosition = models.CaptionPositionBottom
	}
	if !models.ValidCaptionPosition(req.CaptionPosition) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "caption_position must be top, middle or bottom"})
		return
	}
	if req.ArtStyle != "" && !processing.KnownArtStyle(req.ArtStyle) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown art style"})
		return
	}
	if req.CaptionHighlightColor == "" {
		req.CaptionHighlightColor = models.DefaultCaptionHighlightColor
	}

	video := models.Video{
		ID:                    uuid.NewString(),
		UserID:                userID,
		Theme:                 theme,
		Status:                models.StatusPending,
		ArtStyle:              req.ArtStyle,
		CaptionHighlightColor: req.CaptionHighlightColor,
		CaptionPosition:       req.CaptionPosition,
		EmojiCaptions:         req.EmojiCaptions,
	}

	ctx := c.Request.Context()
	if err := h.store.InsertVideo(ctx, &video); err != nil {
		h.log.Error("Failed to create video", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create video"})
		return
	}

	if err := h.emit.Enqueue(ctx, tasks.QueueScript, tasks.ScriptTaskPayload{VideoID: video.ID}); err != nil {
		h.log.Error("Failed to queue video", zap.String("video_id", video.ID), zap.Error(err))
		if _, mErr := h.store.MarkFailed(context.WithoutCancel(ctx), video.ID, "enqueue script: "+err.Error()); mErr != nil {
			h.log.Error("Failed to mark video failed", zap.String("video_id", video.ID), zap.Error(mErr))
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to queue video"})
		return
	}

	h.log.Info("Queued video", zap.String("video_id", video.ID), zap.Uint("user_id", userID))
	c.JSON(http.StatusAccepted, video)
}

func (h *Handler) GetUserVideos(c *gin.Context) {
	userID := c.GetUint("user_id")
	videos, err := h.store.ListVideosByUser(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve videos"})
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}
	c.JSON(http.StatusOK, videos)
}

func (h *Handler) GetVideo(c *gin.Context) {
	userID := c.GetUint("user_id")
	video, err := h.store.GetVideoForUser(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Video not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return
	}
	c.JSON(http.StatusOK, video)
}
