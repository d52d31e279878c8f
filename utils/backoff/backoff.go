package backoff

import (
	"context"
	"math"
	"time"
)

// maxDelay bounds uncapped delays so the float conversion stays inside int64
const maxDelay = time.Duration(math.MaxInt64 / 2)

// Exponential returns initial * 2^(attempt-1), capped at max when max > 0.
// attempt is 1-based: attempt 1 waits initial.
func Exponential(initial, max time.Duration, attempt int) time.Duration {
	return Geometric(initial, max, 2, attempt)
}

// Geometric returns initial * factor^(attempt-1), capped at max when max > 0.
// Large attempts saturate at the cap instead of overflowing.
func Geometric(initial, max time.Duration, factor float64, attempt int) time.Duration {
	if initial <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if factor < 1 {
		factor = 1
	}

	if max <= 0 || max > maxDelay {
		max = maxDelay
	}

	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if math.IsInf(delay, 0) || math.IsNaN(delay) || delay >= float64(max) {
		return max
	}
	return time.Duration(delay)
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep waits for duration or returns earlier when context is canceled
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
