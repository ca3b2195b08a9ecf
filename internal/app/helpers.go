package app

import (
	"errors"
	"time"

	"github.com/jaakkos/conductor/internal/domain"
)

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}

// readRetryAttempts bounds internal retries for idempotent reads. Writes are
// never retried here: a blind retry could duplicate a mail send.
const readRetryAttempts = 3

// readRetry runs fn up to readRetryAttempts times, backing off briefly.
// Validation errors (ErrNotFound) are returned immediately; only storage
// failures are retried.
func readRetry(fn func() error) error {
	var err error
	for attempt := 0; attempt < readRetryAttempts; attempt++ {
		if err = fn(); err == nil || isNotFound(err) {
			return err
		}
		time.Sleep(time.Duration(attempt+1) * 10 * time.Millisecond)
	}
	return err
}
