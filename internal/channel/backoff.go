package channel

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/user/mirrorchat/internal/types"
)

// Backoff controls how reconnect attempts are spaced.
type Backoff struct {
	// MaxAttempts bounds consecutive failed attempts; 0 retries forever.
	MaxAttempts  int
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
}

// DefaultBackoff returns 1s initial delay, 2x multiplier, 30s cap and no
// attempt limit.
func DefaultBackoff() *Backoff {
	return &Backoff{
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     30 * time.Second,
	}
}

// ShouldRetry reports whether another attempt should follow the given
// failure. Rejected credentials are never retried.
func (b *Backoff) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, types.ErrAuth) {
		return false
	}
	if b.MaxAttempts > 0 && attempt >= b.MaxAttempts {
		return false
	}
	return true
}

// NextDelay returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (b *Backoff) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := b.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(b.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if b.MaxDelay > 0 && delay > float64(b.MaxDelay) {
		return b.MaxDelay
	}
	return time.Duration(delay)
}

// wait sleeps for d or until ctx is done. It reports whether the full
// delay elapsed.
func wait(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
