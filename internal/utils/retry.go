package utils

import (
	"context"
	"fmt"
	"time"

	"coastal-alert-service/internal/logging"
)

// Retry calls fn up to maxAttempts times, sleeping delay between failures.
// It gives up early when ctx is done.
func Retry(ctx context.Context, logger *logging.Logger, what string, maxAttempts int, delay time.Duration, fn func() error) error {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := fn(); err != nil {
			lastErr = err
			logger.Warnf("%s: attempt %d/%d failed: %v", what, attempt, maxAttempts, err)
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return fmt.Errorf("%s: %w (last error: %v)", what, ctx.Err(), lastErr)
				case <-time.After(delay):
				}
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("%s failed after %d attempts: %w", what, maxAttempts, lastErr)
}
