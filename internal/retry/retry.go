// Package retry provides a small retry combinator so transfer workers
// do not duplicate retry boilerplate.
package retry

import (
	"context"
	"fmt"
	"time"
)

// Policy describes sequential retry behavior: a retry fully supersedes
// the prior attempt, there are never concurrent re-attempts.
type Policy struct {
	MaxAttempts int
	Delay       time.Duration
}

// Do runs op until it succeeds, the attempt budget is exhausted, or ctx
// is cancelled. Context cancellation is never retried; it is the
// caller's signal to stop, not a transient failure.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return fmt.Errorf("%d attempts failed: %w", attempts, lastErr)
}
