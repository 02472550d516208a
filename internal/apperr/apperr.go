package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrOrderNotFound        = fmt.Errorf("order %w", ErrNotFound)
	ErrEscrowNotFound       = fmt.Errorf("escrow %w", ErrNotFound)
	ErrVerificationNotFound = fmt.Errorf("verification %w", ErrNotFound)

	ErrInvalidTransition          = errors.New("invalid status transition")
	ErrOrderNotOpen               = errors.New("order is not open")
	ErrOrderExpired               = errors.New("order expired")
	ErrAmountOutOfBounds          = errors.New("amount out of bounds")
	ErrRateLimited                = errors.New("rate limited")
	ErrVerificationAlreadyPending = errors.New("verification already pending")
	ErrInvalidOrder               = errors.New("invalid order")
	ErrInvalidProof               = errors.New("invalid payment proof")
	ErrForbidden                  = errors.New("forbidden")
	ErrConflict                   = errors.New("concurrent modification")
	ErrStorage                    = errors.New("storage failure")
	ErrCustody                    = errors.New("custody failure")
)

// RateLimitError carries the remaining cooldown of a rejected lock request.
type RateLimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Storage marks err as a persistence failure while keeping the cause reachable.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorage) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorage, err)
}

// Custody marks err as a failure reported by the custody authority.
func Custody(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrCustody, err)
}

func Kind(err error) string {
	switch {
	case err == nil:
		return ""

	case errors.Is(err, ErrNotFound):
		return "not_found"

	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"

	case errors.Is(err, ErrOrderNotOpen):
		return "order_not_open"

	case errors.Is(err, ErrOrderExpired):
		return "order_expired"

	case errors.Is(err, ErrAmountOutOfBounds):
		return "amount_out_of_bounds"

	case errors.Is(err, ErrRateLimited):
		return "rate_limited"

	case errors.Is(err, ErrVerificationAlreadyPending):
		return "verification_already_pending"

	case errors.Is(err, ErrInvalidOrder):
		return "invalid_order"

	case errors.Is(err, ErrInvalidProof):
		return "invalid_proof"

	case errors.Is(err, ErrForbidden):
		return "forbidden"

	case errors.Is(err, ErrConflict):
		return "conflict"

	case errors.Is(err, ErrCustody):
		return "custody_unavailable"

	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"

	case errors.Is(err, context.Canceled):
		return "canceled"

	default:
		return "internal"
	}
}

func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK

	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrOrderNotOpen),
		errors.Is(err, ErrVerificationAlreadyPending),
		errors.Is(err, ErrConflict):
		return http.StatusConflict

	case errors.Is(err, ErrOrderExpired):
		return http.StatusGone

	case errors.Is(err, ErrAmountOutOfBounds),
		errors.Is(err, ErrInvalidOrder),
		errors.Is(err, ErrInvalidProof):
		return http.StatusBadRequest

	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests

	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden

	case errors.Is(err, ErrCustody):
		return http.StatusBadGateway

	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout

	case errors.Is(err, context.Canceled):
		return http.StatusBadRequest

	default:
		return http.StatusInternalServerError
	}
}
