package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Mobizinc/changegate/internal/storage"
)

// Retry budgets. Writes get a longer window because losing a status
// transition forces the whole request through the queue's retry path;
// reads fail faster so callers are not stuck behind a dead database.
const (
	writeRetryMaxElapsed = 30 * time.Second
	readRetryMaxElapsed  = 10 * time.Second
)

func newWriteBackoff() backoff.BackOff {
	// BackOff implementations are stateful; always return a fresh instance.
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = writeRetryMaxElapsed
	return bo
}

func newReadBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = readRetryMaxElapsed
	return bo
}

// isRetryableError returns true if the error is a transient connection error
// worth retrying. Everything else (constraint violations, syntax errors,
// context cancellation) stops immediately.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	errStr := strings.ToLower(err.Error())
	// MySQL driver transient errors
	if strings.Contains(errStr, "driver: bad connection") {
		return true
	}
	if strings.Contains(errStr, "invalid connection") {
		return true
	}
	// Network transient errors (brief blips, not persistent failures)
	if strings.Contains(errStr, "broken pipe") {
		return true
	}
	if strings.Contains(errStr, "connection reset") {
		return true
	}
	// Server restart: the server may come back within the backoff window.
	if strings.Contains(errStr, "connection refused") {
		return true
	}
	// MySQL error 2013: mid-query disconnect
	if strings.Contains(errStr, "lost connection") {
		return true
	}
	// MySQL error 2006: idle connection timeout
	if strings.Contains(errStr, "gone away") {
		return true
	}
	if strings.Contains(errStr, "i/o timeout") {
		return true
	}
	return false
}

// withRetry executes op with retry for transient errors. Exhausting the
// backoff budget surfaces storage.ErrUnavailable wrapped around the last error.
func withRetry(ctx context.Context, bo backoff.BackOff, op func() error) error {
	err := backoff.Retry(func() error {
		err := op()
		if err != nil && isRetryableError(err) {
			return err // retryable: backoff will retry
		}
		if err != nil {
			return backoff.Permanent(err) // non-retryable: stop immediately
		}
		return nil
	}, backoff.WithContext(bo, ctx))

	if err != nil && isRetryableError(err) {
		return fmt.Errorf("%w: %v", storage.ErrUnavailable, err)
	}
	return err
}
