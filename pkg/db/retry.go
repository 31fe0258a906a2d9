package db

import (
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

// retryConfig controls retries of writes that failed on lock contention.
type retryConfig struct {
	maxRetries uint64
	baseDelay  time.Duration
	maxDelay   time.Duration
}

var defaultRetryConfig = retryConfig{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
}

// isTransient reports errors that a retry can resolve: SQLite busy/locked
// conditions and Postgres serialization failures and deadlocks.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return true
		}
		return false
	}
	msg := err.Error()
	for _, pattern := range []string{
		"SQLITE_BUSY",
		"SQLITE_LOCKED",
		"IOERR_SHORT_READ",
		"database is locked",
		"database table is locked",
		"(5)",
		"(6)",
		"(522)",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// backOff is exponential from baseDelay up to maxDelay, with jitter, and
// stops after maxRetries retries.
func (cfg retryConfig) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.baseDelay
	b.MaxInterval = cfg.maxDelay
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, cfg.maxRetries)
}

// retryOp runs fn until it succeeds, fails permanently, or runs out of
// retries.
func retryOp(cfg retryConfig, fn func() error) error {
	return backoff.Retry(func() error {
		err := fn()
		if err != nil && !isTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, cfg.backOff())
}

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}
