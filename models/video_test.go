package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gorm.io/datatypes"
)

func TestStatusRank(t *testing.T) {
	assert.Equal(t, 0, StatusPending.Rank())
	assert.Equal(t, 7, StatusCompleted.Rank())
	assert.Equal(t, -1, StatusFailed.Rank())
	assert.Equal(t, -1, VideoStatus("BOGUS").Rank())
	assert.Less(t, StatusGeneratingImages.Rank(), StatusQueuedForRendering.Rank())
}

func TestStatusesBefore(t *testing.T) {
	assert.Nil(t, StatusesBefore(StatusPending))
	assert.Nil(t, StatusesBefore(StatusFailed))
	assert.Equal(t, []VideoStatus{StatusPending, StatusGeneratingVoiceover}, StatusesBefore(StatusGeneratingScenes))
	assert.NotContains(t, ActiveStatuses(), StatusCompleted)
	assert.Len(t, ActiveStatuses(), 7)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusRendering.IsTerminal())
}

func TestHasCaptions(t *testing.T) {
	assert.False(t, (&Video{}).HasCaptions())
	assert.False(t, (&Video{CaptionsProcessed: datatypes.JSON("null")}).HasCaptions())

	v := &Video{CaptionsProcessed: datatypes.JSON(`{"words":[{"word":"hi","start":0,"end":0.2}],"srt":""}`)}
	assert.True(t, v.HasCaptions())
	c, err := v.Captions()
	assert.NoError(t, err)
	assert.Equal(t, "hi", c.Words[0].Word)
}

func TestValidCaptionPosition(t *testing.T) {
	for _, p := range []string{"top", "middle", "bottom"} {
		assert.True(t, ValidCaptionPosition(p))
	}
	assert.False(t, ValidCaptionPosition("left"))
	assert.False(t, ValidCaptionPosition(""))
}
