package db

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"non-transient", errors.New("syntax error"), false},
		{"SQLITE_BUSY text", errors.New("SQLITE_BUSY"), true},
		{"database is locked", errors.New("database is locked"), true},
		{"code 5", errors.New("sqlite: (5) database is busy"), true},
		{"wrapped busy", errors.Wrap(errors.New("SQLITE_BUSY"), "update document"), true},
		{"pq serialization failure", &pq.Error{Code: "40001"}, true},
		{"pq deadlock", errors.Wrap(&pq.Error{Code: "40P01"}, "insert"), true},
		{"pq unique violation", &pq.Error{Code: "23505"}, false},
		{"version conflict", ErrVersionConflict, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isTransient(tt.err); got != tt.want {
				t.Errorf("isTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryOpNonTransientErrorNoRetry(t *testing.T) {
	calls := 0
	err := retryOp(defaultRetryConfig, func() error {
		calls++
		return ErrVersionConflict
	})
	if err != ErrVersionConflict {
		t.Errorf("expected ErrVersionConflict, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryOpRetriesOnTransientError(t *testing.T) {
	calls := 0
	cfg := retryConfig{maxRetries: 3, baseDelay: time.Millisecond, maxDelay: 5 * time.Millisecond}
	err := retryOp(cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Errorf("expected nil after retries, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryOpGivesUp(t *testing.T) {
	calls := 0
	cfg := retryConfig{maxRetries: 2, baseDelay: time.Millisecond, maxDelay: 2 * time.Millisecond}
	err := retryOp(cfg, func() error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestBackOffCappedAndBounded(t *testing.T) {
	cfg := retryConfig{maxRetries: 5, baseDelay: 10 * time.Millisecond, maxDelay: 40 * time.Millisecond}
	b := cfg.backOff()
	b.Reset()
	for i := 0; i < 5; i++ {
		d := b.NextBackOff()
		if d == backoff.Stop || d > cfg.maxDelay*3/2 {
			t.Fatalf("retry %d: delay %v outside (0, %v]", i, d, cfg.maxDelay*3/2)
		}
	}
	if d := b.NextBackOff(); d != backoff.Stop {
		t.Fatalf("expected Stop after %d retries, got %v", cfg.maxRetries, d)
	}
}
