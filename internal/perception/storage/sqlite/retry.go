package sqlite

import (
	"strings"
	"time"
)

// retryOnBusy retries fn when SQLite reports the database is locked by a
// concurrent writer. The busy_timeout pragma absorbs most contention; this
// covers the residual races between the ingest writer and API readers.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 5
	backoff := 10 * time.Millisecond

	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "SQLITE_BUSY")
}
