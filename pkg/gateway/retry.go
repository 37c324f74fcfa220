package gateway

import (
	"context"
	"math/rand"
	"time"
)

// RetryConfig bounds the outcome-level retries of one transaction
type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	Jitter       time.Duration
}

// Backoff returns the wait before the attempt following attempt (zero
// based): 2^(attempt+1) * InitialDelay, moved by a uniform jitter in
// [-Jitter/2, Jitter/2) and never negative.
func (c RetryConfig) Backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := c.InitialDelay << uint(attempt+1)
	if c.Jitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.Jitter))) - c.Jitter/2
	}
	if d < 0 {
		return 0
	}
	return d
}

// Execute calls fn until shouldRetry rejects its result. It makes up to
// MaxAttempts calls while results stay retryable, sleeping Backoff
// between them, then one final call whose result is returned as is. A
// non-nil error from fn aborts immediately.
func Execute[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context, attempt int) (T, error), shouldRetry func(T) bool) (T, error) {
	var zero T
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx, attempt)
		if err != nil {
			return zero, err
		}
		if !shouldRetry(result) {
			return result, nil
		}
		if err := sleep(ctx, cfg.Backoff(attempt)); err != nil {
			return zero, err
		}
	}
	return fn(ctx, cfg.MaxAttempts)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
