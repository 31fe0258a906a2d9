package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(Unauthorized, "Unauthorized"), http.StatusUnauthorized},
		{New(Forbidden, "Forbidden"), http.StatusForbidden},
		{New(NotFound, "Document not found"), http.StatusNotFound},
		{New(Conflict, "Version mismatch"), http.StatusConflict},
		{New(Invalid, "bad payload"), http.StatusBadRequest},
		{errors.New("disk on fire"), http.StatusInternalServerError},
		{fmt.Errorf("apply: %w", New(Conflict, "Version mismatch")), http.StatusConflict},
	}
	for _, tt := range tests {
		if got := Status(tt.err); got != tt.want {
			t.Errorf("Status(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestMessageHidesInternalCause(t *testing.T) {
	err := Wrap(Internal, errors.New("pq: connection refused"), "commit failed")
	if got := Message(err); got != "Internal server error" {
		t.Fatalf("Message = %q", got)
	}
	if got := Message(New(Forbidden, "Forbidden")); got != "Forbidden" {
		t.Fatalf("Message = %q", got)
	}
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(NotFound, cause, "missing")
	if !errors.Is(err, cause) {
		t.Fatal("wrapped cause not reachable with errors.Is")
	}
	if !Is(err, NotFound) || Is(err, Conflict) || Is(nil, Internal) {
		t.Fatal("Is reports the wrong kind")
	}
}
