package worker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func defaultPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Base:        500 * time.Millisecond,
		Factor:      5,
		Max:         15 * time.Minute,
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := defaultPolicy()

	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 2500*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 12500*time.Millisecond, p.Backoff(3))
}

func TestRetryPolicy_BackoffCapped(t *testing.T) {
	p := defaultPolicy()

	// 500ms * 5^9 is well past the cap.
	assert.Equal(t, 15*time.Minute, p.Backoff(10))
}

func TestRetryPolicy_BackoffClampsLowAttempts(t *testing.T) {
	p := defaultPolicy()

	assert.Equal(t, p.Backoff(1), p.Backoff(0))
	assert.Equal(t, p.Backoff(1), p.Backoff(-3))
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := defaultPolicy()

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
	assert.True(t, p.Exhausted(4))
}
