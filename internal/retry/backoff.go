package retry

import (
	"context"
	"math/rand"
	"time"

	"chatfunnel/internal/models"
)

// BackoffConfig tunes exponential backoff for startup dependencies.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	MaxAttempts  int
	Jitter       bool
}

// DefaultBackoffConfig returns the defaults used when no override is set.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	}
}

// FromConfig converts the application retry settings into a backoff config.
func FromConfig(c models.RetryConfig) BackoffConfig {
	cfg := DefaultBackoffConfig()
	if c.InitialBackoffMs > 0 {
		cfg.InitialDelay = time.Duration(c.InitialBackoffMs) * time.Millisecond
	}
	if c.MaxBackoffMs > 0 {
		cfg.MaxDelay = time.Duration(c.MaxBackoffMs) * time.Millisecond
	}
	if c.MaxAttempts > 0 {
		cfg.MaxAttempts = c.MaxAttempts
	}
	return cfg
}

// Backoff retries an operation with exponentially growing delays.
type Backoff struct {
	config BackoffConfig
}

func NewBackoff(config BackoffConfig) *Backoff {
	return &Backoff{config: config}
}

// Retry runs the operation until it succeeds, attempts run out, or the
// context is cancelled. The last error is returned on exhaustion.
func (b *Backoff) Retry(ctx context.Context, operation func() error) error {
	var lastErr error

	for attempt := 1; attempt <= b.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := operation(); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == b.config.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.delay(attempt)):
		}
	}

	return lastErr
}

func (b *Backoff) delay(attempt int) time.Duration {
	d := float64(b.config.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= b.config.Multiplier
	}
	if d > float64(b.config.MaxDelay) {
		d = float64(b.config.MaxDelay)
	}

	if b.config.Jitter {
		// Spread delays across a 25% band so restarting replicas do not
		// hammer a recovering dependency in lockstep.
		d += (rand.Float64() - 0.5) * 0.5 * d
		if d < 0 {
			d = float64(b.config.InitialDelay)
		}
		if d > float64(b.config.MaxDelay) {
			d = float64(b.config.MaxDelay)
		}
	}

	return time.Duration(d)
}

// NextDelay exposes the delay for an attempt, mainly for tests.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	return b.delay(attempt)
}
