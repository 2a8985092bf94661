package worker

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStageOptionsDefaults(t *testing.T) {
	o := StageOptions{}.withDefaults()
	assert.Equal(t, 1, o.Concurrency)
	assert.Equal(t, 1, o.MaxAttempts)
	assert.Equal(t, 2*time.Second, o.Backoff)
}

func TestRetryDelayDoubles(t *testing.T) {
	o := StageOptions{Backoff: 2 * time.Second}
	assert.Equal(t, 2*time.Second, o.RetryDelay(0))
	assert.Equal(t, 2*time.Second, o.RetryDelay(1))
	assert.Equal(t, 4*time.Second, o.RetryDelay(2))
	assert.Equal(t, 8*time.Second, o.RetryDelay(3))
}

func TestShouldRetry(t *testing.T) {
	o := StageOptions{MaxAttempts: 3}
	err := errors.New("timeout")

	assert.True(t, o.shouldRetry(err, 1))
	assert.True(t, o.shouldRetry(err, 2))
	assert.False(t, o.shouldRetry(err, 3))

	assert.False(t, o.shouldRetry(Permanent(err), 1))
	assert.False(t, o.shouldRetry(fmt.Errorf("stage: %w", Permanent(err)), 1))

	single := StageOptions{MaxAttempts: 1}
	assert.False(t, single.shouldRetry(err, 1))
}

func TestPermanentKeepsCause(t *testing.T) {
	cause := errors.New("bad input")
	err := Permanent(cause)
	assert.ErrorIs(t, err, ErrPermanent)
	assert.ErrorIs(t, err, cause)
}

func TestQueueKeys(t *testing.T) {
	assert.Equal(t, "q_render:processing", processingKey("q_render"))
	assert.Equal(t, "q_render:delayed", delayedKey("q_render"))
	assert.Equal(t, "q_render:dead", DeadKey("q_render"))
}
