package series

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/processing"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// HandlerStore is the persistence the series endpoints use.
type HandlerStore interface {
	InsertSeries(ctx context.Context, series *models.Series) error
	ListSeriesByUser(ctx context.Context, userID uint) ([]models.Series, error)
	GetSeriesForUser(ctx context.Context, id, userID uint) (*models.Series, error)
	SetSeriesActive(ctx context.Context, id, userID uint, active bool) error
	ListVideosBySeries(ctx context.Context, seriesID uint) ([]models.Video, error)
}

type Handler struct {
	store HandlerStore
	log   *zap.Logger
}

func NewHandler(s HandlerStore, log *zap.Logger) *Handler {
	return &Handler{store: s, log: log.Named("series")}
}

type CreateSeriesRequest struct {
	Name                  string  `json:"name"`
	Theme                 string  `json:"theme" binding:"required"`
	ArtStyle              string  `json:"art_style"`
	VoiceID               *string `json:"voice_id"`
	CaptionHighlightColor string  `json:"caption_highlight_color"`
	CaptionPosition       string  `json:"caption_position"`
	EmojiCaptions         bool    `json:"emoji_captions"`
}

type ToggleSeriesRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

func (h *Handler) CreateSeries(c *gin.Context) {
	userID := c.GetUint("user_id")
	var req CreateSeriesRequest
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
	name := strings.TrimSpace(req.Name)
	if name == "" {
		name = theme
	}

	series := models.Series{
		UserID:                userID,
		Name:                  name,
		Theme:                 theme,
		ArtStyle:              req.ArtStyle,
		VoiceID:               req.VoiceID,
		CaptionHighlightColor: req.CaptionHighlightColor,
		CaptionPosition:       req.CaptionPosition,
		EmojiCaptions:         req.EmojiCaptions,
	}

	if err := h.store.InsertSeries(c.Request.Context(), &series); err != nil {
		h.log.Error("Failed to create series", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create series"})
		return
	}

	c.JSON(http.StatusCreated, series)
}

func (h *Handler) GetUserSeries(c *gin.Context) {
	userID := c.GetUint("user_id")
	series, err := h.store.ListSeriesByUser(c.Request.Context(), userID)
	if err != nil {
		h.log.Error("Failed to list series", zap.Uint("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve series"})
		return
	}
	if series == nil {
		series = []models.Series{}
	}
	c.JSON(http.StatusOK, series)
}

func (h *Handler) ToggleSeries(c *gin.Context) {
	seriesID, ok := parseID(c)
	if !ok {
		return
	}
	var req ToggleSeriesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetUint("user_id")
	err := h.store.SetSeriesActive(c.Request.Context(), seriesID, userID, *req.IsActive)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Series not found"})
		return
	}
	if err != nil {
		h.log.Error("Failed to toggle series", zap.Uint("series_id", seriesID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"id": seriesID, "is_active": *req.IsActive})
}

func (h *Handler) GetSeriesVideos(c *gin.Context) {
	seriesID, ok := parseID(c)
	if !ok {
		return
	}
	userID := c.GetUint("user_id")

	// First, verify the series belongs to the user
	if _, err := h.store.GetSeriesForUser(c.Request.Context(), seriesID, userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Series not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database error"})
		}
		return
	}

	videos, err := h.store.ListVideosBySeries(c.Request.Context(), seriesID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve videos"})
		return
	}
	if videos == nil {
		videos = []models.Video{}
	}
	c.JSON(http.StatusOK, videos)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid series ID"})
		return 0, false
	}
	return uint(id), true
}
