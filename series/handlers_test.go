package series

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/drewmudry/instashorts-pipeline/models"
	"github.com/drewmudry/instashorts-pipeline/store"
	"github.com/drewmudry/instashorts-pipeline/store/storetest"
)

func newRouter(t *testing.T, userID uint) (*gin.Engine, *store.GormStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	s := storetest.New(t)
	h := NewHandler(s, zap.NewNop())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("user_id", userID)
		c.Next()
	})
	r.POST("/series", h.CreateSeries)
	r.GET("/series", h.GetUserSeries)
	r.PATCH("/series/:id", h.ToggleSeries)
	r.GET("/series/:id/videos", h.GetSeriesVideos)
	return r, s
}

func do(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCreateSeriesAppliesDefaults(t *testing.T) {
	r, _ := newRouter(t, 5)

	w := do(r, http.MethodPost, "/series", map[string]interface{}{"theme": "Deep sea creatures"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var got models.Series
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.NotZero(t, got.ID)
	assert.Equal(t, uint(5), got.UserID)
	assert.Equal(t, "Deep sea creatures", got.Name)
	assert.Equal(t, "#FFD700", got.CaptionHighlightColor)
	assert.Equal(t, "bottom", got.CaptionPosition)
	assert.Equal(t, "daily", got.Schedule)
	assert.True(t, got.IsActive)
}

func TestCreateSeriesValidation(t *testing.T) {
	r, _ := newRouter(t, 5)

	cases := map[string]map[string]interface{}{
		"missing theme":    {"name": "x"},
		"blank theme":      {"theme": "   "},
		"bad position":     {"theme": "x", "caption_position": "left"},
		"unknown artstyle": {"theme": "x", "art_style": "crayon-on-napkin"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/series", body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestListSeriesIncludesCounts(t *testing.T) {
	r, s := newRouter(t, 5)
	ctx := context.Background()

	ser := &models.Series{UserID: 5, Theme: "Rome"}
	require.NoError(t, s.InsertSeries(ctx, ser))
	require.NoError(t, s.InsertSeries(ctx, &models.Series{UserID: 6, Theme: "Not mine"}))
	for i := 0; i < 2; i++ {
		require.NoError(t, s.InsertVideo(ctx, &models.Video{ID: fmt.Sprintf("v%d", i), UserID: 5, SeriesID: &ser.ID, Theme: "t"}))
	}

	w := do(r, http.MethodGet, "/series", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var got []models.Series
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].VideoCount)
}

func TestListSeriesEmptyIsArray(t *testing.T) {
	r, _ := newRouter(t, 5)
	w := do(r, http.MethodGet, "/series", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestToggleSeries(t *testing.T) {
	r, s := newRouter(t, 5)
	ctx := context.Background()
	ser := &models.Series{UserID: 5, Theme: "Rome"}
	require.NoError(t, s.InsertSeries(ctx, ser))

	w := do(r, http.MethodPatch, fmt.Sprintf("/series/%d", ser.ID), map[string]bool{"is_active": false})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	active, err := s.ListActiveSeries(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	w = do(r, http.MethodPatch, "/series/999", map[string]bool{"is_active": true})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPatch, fmt.Sprintf("/series/%d", ser.ID), map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodPatch, "/series/abc", map[string]bool{"is_active": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSeriesVideosChecksOwner(t *testing.T) {
	r, s := newRouter(t, 5)
	ctx := context.Background()
	mine := &models.Series{UserID: 5, Theme: "Rome"}
	theirs := &models.Series{UserID: 6, Theme: "Greece"}
	require.NoError(t, s.InsertSeries(ctx, mine))
	require.NoError(t, s.InsertSeries(ctx, theirs))
	require.NoError(t, s.InsertVideo(ctx, &models.Video{ID: "v1", UserID: 5, SeriesID: &mine.ID, Theme: "t"}))

	w := do(r, http.MethodGet, fmt.Sprintf("/series/%d/videos", mine.ID), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var videos []models.Video
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &videos))
	require.Len(t, videos, 1)
	assert.Equal(t, "v1", videos[0].ID)

	w = do(r, http.MethodGet, fmt.Sprintf("/series/%d/videos", theirs.ID), nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
