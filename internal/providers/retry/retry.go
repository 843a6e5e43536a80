package retry

import (
	"context"
	"time"

	"campusbot/internal/providers"
)

// Policy runs an operation up to MaxAttempts times, sleeping Backoff(attempt)
// between attempts. Only providers.TransientError failures are retried.
type Policy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Sleep       func(ctx context.Context, d time.Duration) error
	OnRetry     func(attempt int, delay time.Duration, err error)
}

// Exponential returns base * 2^attempt.
func Exponential(base time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		return base * (1 << attempt)
	}
}

// Default is three attempts with 1s, 2s waits in between.
func Default() Policy {
	return Policy{MaxAttempts: 3, Backoff: Exponential(time.Second)}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Backoff == nil {
		p.Backoff = Exponential(time.Second)
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Do calls op until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. The last case yields *providers.ExhaustedError.
func (p Policy) Do(ctx context.Context, op func(attempt int) error) error {
	p = p.normalized()

	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		err := op(attempt)
		if err == nil {
			return nil
		}
		if !providers.IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == p.MaxAttempts-1 {
			break
		}
		delay := p.Backoff(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return err
		}
	}
	return &providers.ExhaustedError{Attempts: p.MaxAttempts, Last: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
