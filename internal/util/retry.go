package util

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// maxRetryDelay caps the exponential backoff so a long retry chain never
// sleeps for minutes between market-data calls.
const maxRetryDelay = 30 * time.Second

// Retry calls fn up to maxAttempts times, doubling the delay between
// attempts starting from baseDelay and capping it at maxRetryDelay. It
// returns nil on the first success; once the attempts are exhausted it
// returns the last error annotated with the attempt count. Cancelling the
// context aborts the wait between attempts.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, fn func() error) error {
	if maxAttempts < 1 {
		return fmt.Errorf("retry: maxAttempts must be at least 1, got %d", maxAttempts)
	}

	var err error
	delay := baseDelay
	for attempt := 1; ; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt == maxAttempts {
			return fmt.Errorf("after %d attempts: %w", maxAttempts, err)
		}

		slog.Debug("retrying after error", "attempt", attempt, "delay", delay, "error", err)
		if werr := sleep(ctx, delay); werr != nil {
			return werr
		}
		if delay *= 2; delay > maxRetryDelay {
			delay = maxRetryDelay
		}
	}
}

// sleep waits for d or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
