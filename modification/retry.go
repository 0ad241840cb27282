package modification

import (
	"context"
	"time"

	"github.com/warp/rental-engine/rental"
)

const (
	retryAttempts  = 3
	retryBaseDelay = 50 * time.Millisecond
)

// retryRead retries an idempotent read with exponential backoff.
// Client errors, not-found and conflicts are never retried; only
// transient dependency failures are.
func retryRead(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryBaseDelay << (attempt - 1)):
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		// Already-classified verdicts are final; only raw transient
		// failures (timeouts, connection errors) get another attempt.
		if rental.IsClientError(err) || rental.IsNotFound(err) || rental.IsConflict(err) || rental.IsUnavailable(err) {
			return err
		}
	}
	return err
}
