package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestKind(t *testing.T) {
	t.Parallel()

	wrapped := fmt.Errorf("wrapped: %w", ErrOrderNotFound)

	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "order_not_found", err: ErrOrderNotFound, want: "not_found"},
		{name: "order_not_found_wrapped", err: wrapped, want: "not_found"},
		{name: "escrow_not_found", err: ErrEscrowNotFound, want: "not_found"},
		{name: "invalid_transition", err: ErrInvalidTransition, want: "invalid_transition"},
		{name: "rate_limited_typed", err: &RateLimitError{Reason: "cooldown", RetryAfter: time.Minute}, want: "rate_limited"},
		{name: "storage", err: Storage("get order", errors.New("disk")), want: "internal"},
		{name: "custody", err: Custody("lock", errors.New("down")), want: "custody_unavailable"},
		{name: "deadline", err: context.DeadlineExceeded, want: "timeout"},
		{name: "unknown", err: errors.New("unknown"), want: "internal"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := Kind(tt.err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: http.StatusOK},
		{name: "not_found", err: ErrVerificationNotFound, want: http.StatusNotFound},
		{name: "invalid_transition", err: ErrInvalidTransition, want: http.StatusConflict},
		{name: "expired", err: ErrOrderExpired, want: http.StatusGone},
		{name: "bounds", err: ErrAmountOutOfBounds, want: http.StatusBadRequest},
		{name: "rate_limited", err: &RateLimitError{Reason: "hourly"}, want: http.StatusTooManyRequests},
		{name: "pending", err: ErrVerificationAlreadyPending, want: http.StatusConflict},
		{name: "storage", err: Storage("patch", errors.New("io")), want: http.StatusInternalServerError},
		{name: "unknown", err: errors.New("unknown"), want: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := HTTPStatus(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestStorageKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Storage("insert order", cause)
	if !errors.Is(err, ErrStorage) || !errors.Is(err, cause) {
		t.Fatalf("expected storage error wrapping cause, got %v", err)
	}
	if again := Storage("outer", err); again != err {
		t.Fatalf("expected storage error not to be wrapped twice")
	}
}
