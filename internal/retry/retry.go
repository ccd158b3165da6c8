// Package retry implements the managed-transaction retry policy (§4.8):
// exponential backoff with jitter, bounded by a total time budget, applied
// only to errors bolt.IsRetriable classifies as transient.
package retry

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/marmos91/gobolt/pkg/bolt"
)

// Config tunes the backoff schedule. The zero value is invalid; use
// DefaultConfig.
type Config struct {
	InitialDelay time.Duration
	Multiplier   float64
	JitterFactor float64 // +/- fraction of the computed delay
	MaxElapsed   time.Duration
}

// DefaultConfig matches §4.8: 1s initial delay, 2x multiplier, +/-20%
// jitter, 30s total budget.
func DefaultConfig() Config {
	return Config{
		InitialDelay: time.Second,
		Multiplier:   2.0,
		JitterFactor: 0.2,
		MaxElapsed:   30 * time.Second,
	}
}

// Work is a managed-transaction body. It returns a result and an error; a
// non-nil error is classified by bolt.IsRetriable to decide whether to retry.
type Work func(ctx context.Context) (any, error)

// Run executes work, retrying on retriable errors with exponential backoff
// and jitter until cfg.MaxElapsed has passed since the first attempt, at
// which point the last error is returned. A non-retriable error is returned
// immediately without consuming any more of the budget (§4.8).
func Run(ctx context.Context, cfg Config, work Work) (any, error) {
	start := time.Now()
	delay := cfg.InitialDelay

	for attempt := 1; ; attempt++ {
		result, err := work(ctx)
		if err == nil {
			return result, nil
		}
		if !bolt.IsRetriable(err) {
			return nil, err
		}
		if time.Since(start) >= cfg.MaxElapsed {
			return nil, err
		}

		wait := jitter(delay, cfg.JitterFactor)
		if remaining := cfg.MaxElapsed - time.Since(start); wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
	}
}

// jitter applies a uniformly distributed +/-factor adjustment to d.
func jitter(d time.Duration, factor float64) time.Duration {
	if factor <= 0 {
		return d
	}
	span := float64(d) * factor
	offset := (rand.Float64()*2 - 1) * span
	return d + time.Duration(offset)
}
