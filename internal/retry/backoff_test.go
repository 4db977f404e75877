package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatfunnel/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
	}
}

func TestRetrySucceedsFirstAttempt(t *testing.T) {
	calls := 0
	err := NewBackoff(fastConfig()).Retry(context.Background(), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	err := NewBackoff(fastConfig()).Retry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("not yet")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustionReturnsLastError(t *testing.T) {
	wantErr := errors.New("still down")
	calls := 0
	err := NewBackoff(fastConfig()).Retry(context.Background(), func() error {
		calls++
		return wantErr
	})
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewBackoff(fastConfig()).Retry(ctx, func() error {
		return errors.New("never reached")
	})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestDelayGrowsAndCaps(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     40 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
	})

	assert.Equal(t, 10*time.Millisecond, b.NextDelay(1))
	assert.Equal(t, 20*time.Millisecond, b.NextDelay(2))
	assert.Equal(t, 40*time.Millisecond, b.NextDelay(3))
	assert.Equal(t, 40*time.Millisecond, b.NextDelay(4))
}

func TestJitterStaysInBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		d := b.NextDelay(2)
		assert.GreaterOrEqual(t, d, 150*time.Millisecond)
		assert.LessOrEqual(t, d, 250*time.Millisecond)
	}
}

func TestFromConfig(t *testing.T) {
	cfg := FromConfig(models.RetryConfig{
		InitialBackoffMs: 500,
		MaxBackoffMs:     10000,
		MaxAttempts:      7,
	})
	assert.Equal(t, 500*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 10*time.Second, cfg.MaxDelay)
	assert.Equal(t, 7, cfg.MaxAttempts)

	defaults := FromConfig(models.RetryConfig{})
	assert.Equal(t, time.Second, defaults.InitialDelay)
	assert.Equal(t, 3, defaults.MaxAttempts)
}
