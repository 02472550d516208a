// Package ledger holds the order status machine and the per-order locks
// that serialize transitions on the same order.
package ledger

import (
	"fmt"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/models"
)

type Event string

const (
	EventLockRequested    Event = "lock_requested"
	EventEscrowCreated    Event = "escrow_created"
	EventPaymentStarted   Event = "payment_started"
	EventProofSubmitted   Event = "proof_submitted"
	EventVerifierConfirms Event = "verifier_confirms"
	EventSettled          Event = "settled"
	EventVerifierRejects  Event = "verifier_rejects"
	EventDisputeRaised    Event = "dispute_raised"
	EventTimeout          Event = "timeout"
	EventCancel           Event = "cancel"
	EventResolvedBuyer    Event = "resolved_buyer"
	EventResolvedSeller   Event = "resolved_seller"
)

// targets maps every event to the single status it produces.
var targets = map[Event]models.OrderStatus{
	EventLockRequested:    models.OrderEscrowPending,
	EventEscrowCreated:    models.OrderEscrowLocked,
	EventPaymentStarted:   models.OrderPaymentPending,
	EventProofSubmitted:   models.OrderPaymentSubmitted,
	EventVerifierConfirms: models.OrderPaymentVerified,
	EventSettled:          models.OrderCompleted,
	EventVerifierRejects:  models.OrderDisputed,
	EventDisputeRaised:    models.OrderDisputed,
	EventTimeout:          models.OrderExpired,
	EventCancel:           models.OrderCancelled,
	EventResolvedBuyer:    models.OrderCompleted,
	EventResolvedSeller:   models.OrderRefunded,
}

// sources lists the statuses each event may fire from. Cancel is handled
// separately: it applies to every non-terminal status.
var sources = map[Event][]models.OrderStatus{
	EventLockRequested:    {models.OrderOpen},
	EventEscrowCreated:    {models.OrderEscrowPending},
	EventPaymentStarted:   {models.OrderEscrowLocked},
	EventProofSubmitted:   {models.OrderPaymentPending},
	EventVerifierConfirms: {models.OrderPaymentSubmitted},
	EventSettled:          {models.OrderPaymentVerified},
	EventVerifierRejects:  {models.OrderPaymentSubmitted},
	EventDisputeRaised:    {models.OrderEscrowLocked, models.OrderPaymentPending, models.OrderPaymentSubmitted},
	EventTimeout:          {models.OrderEscrowLocked, models.OrderPaymentPending, models.OrderPaymentSubmitted},
	EventResolvedBuyer:    {models.OrderDisputed},
	EventResolvedSeller:   {models.OrderDisputed},
}

// Events returns every known event.
func Events() []Event {
	return []Event{
		EventLockRequested, EventEscrowCreated, EventPaymentStarted, EventProofSubmitted,
		EventVerifierConfirms, EventSettled, EventVerifierRejects, EventDisputeRaised,
		EventTimeout, EventCancel, EventResolvedBuyer, EventResolvedSeller,
	}
}

// TransitionError is returned for any (from, event) pair outside the table.
type TransitionError struct {
	From  models.OrderStatus
	To    models.OrderStatus
	Event Event
}

func (e *TransitionError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("invalid transition from %s on unknown event %q", e.From, e.Event)
	}
	return fmt.Sprintf("invalid transition %s -> %s (%s)", e.From, e.To, e.Event)
}

func (e *TransitionError) Is(target error) bool {
	return target == apperr.ErrInvalidTransition
}

// Next returns the status reached by applying ev to from.
func Next(from models.OrderStatus, ev Event) (models.OrderStatus, error) {
	to, ok := targets[ev]
	if !ok {
		return from, &TransitionError{From: from, Event: ev}
	}
	if !Allowed(from, ev) {
		return from, &TransitionError{From: from, To: to, Event: ev}
	}
	return to, nil
}

// Allowed reports whether ev has an edge leaving from.
func Allowed(from models.OrderStatus, ev Event) bool {
	if !from.Valid() || from.Terminal() {
		return false
	}
	if ev == EventCancel {
		return true
	}
	for _, st := range sources[ev] {
		if st == from {
			return true
		}
	}
	return false
}

// ValidateTransition checks a from/to pair against the table regardless of event.
func ValidateTransition(from, to models.OrderStatus) error {
	for _, ev := range Events() {
		if targets[ev] == to && Allowed(from, ev) {
			return nil
		}
	}
	return &TransitionError{From: from, To: to}
}
