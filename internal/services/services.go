// Package services implements the P2P order lifecycle: the order ledger, the
// escrow coordinator and the payment verification tracker. All three share
// one store, one set of per-order locks and one event sink.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/custody"
	"P2PEscrow/internal/events"
	"P2PEscrow/internal/ledger"
	"P2PEscrow/internal/metrics"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/store"
)

// SystemActor identifies transitions driven by the service itself rather
// than by a seller, buyer or arbiter.
const SystemActor = "system"

type Limits struct {
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal
	OrderTTL  time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MinAmount: decimal.NewFromInt(1),
		MaxAmount: decimal.NewFromInt(50000),
		OrderTTL:  24 * time.Hour,
	}
}

type Options struct {
	Store     store.Store
	Custodian custody.Custodian
	Emitter   events.Emitter
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
	// Schedule arms escrow expiry timers; defaults to time.AfterFunc.
	Schedule  ScheduleFunc
	Limits    Limits
	Tiers     []Tier
	RateLimit RateLimitPolicy
}

type Services struct {
	Orders        *OrderLedger
	Escrow        *EscrowCoordinator
	Verifications *VerificationTracker
}

func New(opts Options) (*Services, error) {
	if opts.Store == nil {
		return nil, errors.New("services: store is required")
	}
	if opts.Custodian == nil {
		opts.Custodian = custody.Local{}
	}
	if opts.Emitter == nil {
		opts.Emitter = events.NoopEmitter{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Schedule == nil {
		opts.Schedule = AfterFunc
	}
	if opts.Limits.MaxAmount.IsZero() {
		opts.Limits = DefaultLimits()
	}
	if opts.Limits.OrderTTL <= 0 {
		opts.Limits.OrderTTL = DefaultLimits().OrderTTL
	}
	if len(opts.Tiers) == 0 {
		opts.Tiers = DefaultTiers()
	}
	if opts.RateLimit == (RateLimitPolicy{}) {
		opts.RateLimit = DefaultRateLimit()
	}

	e := &engine{
		store:     opts.Store,
		locks:     ledger.NewLocks(),
		custodian: opts.Custodian,
		emitter:   opts.Emitter,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		now:       func() time.Time { return opts.Now().UTC() },
		timers:    newTimerSet(),
	}
	coord := &EscrowCoordinator{engine: e, limits: opts.Limits, tiers: opts.Tiers, rateLimit: opts.RateLimit, schedule: opts.Schedule}
	return &Services{
		Orders:        &OrderLedger{engine: e, limits: opts.Limits},
		Escrow:        coord,
		Verifications: &VerificationTracker{engine: e},
	}, nil
}

// engine carries the collaborators shared by the three services.
type engine struct {
	store     store.Store
	locks     *ledger.Locks
	custodian custody.Custodian
	emitter   events.Emitter
	metrics   *metrics.Metrics
	logger    *slog.Logger
	now       func() time.Time
	timers    *timerSet
}

// txn is a transactional store view that queues events until commit.
type txn struct {
	store.Store
	e      *engine
	now    time.Time
	events []events.Event
}

// inTx runs fn in one store transaction and publishes its events only once
// the transaction has committed.
func (e *engine) inTx(ctx context.Context, op string, fn func(t *txn) error) error {
	var committed *txn
	err := e.store.InTx(ctx, func(tx store.Store) error {
		t := &txn{Store: tx, e: e, now: e.now()}
		if err := fn(t); err != nil {
			return err
		}
		committed = t
		return nil
	})
	if err != nil {
		return e.fail(op, err)
	}
	for _, ev := range committed.events {
		e.metrics.Transition(ev.Type, string(ev.To))
		e.emitter.Emit(ev)
		e.logger.Debug("order transition", "order_id", ev.OrderID, "event", ev.Type, "from", ev.From, "to", ev.To)
	}
	return nil
}

// transition moves order along ev with a status-guarded patch. Extra fields
// to write go in patch.
func (t *txn) transition(ctx context.Context, order *models.Order, ev ledger.Event, patch store.OrderPatch) (*models.Order, error) {
	to, err := ledger.Next(order.Status, ev)
	if err != nil {
		return nil, err
	}
	patch.ExpectStatus = store.OrderStatusPtr(order.Status)
	patch.Status = store.OrderStatusPtr(to)
	patch.UpdatedAt = t.now
	updated, err := t.PatchOrder(ctx, order.ID, patch)
	if err != nil {
		return nil, orderErr(err)
	}
	t.events = append(t.events, events.Event{
		Type:     string(ev),
		OrderID:  order.ID,
		EscrowID: updated.EscrowID,
		From:     order.Status,
		To:       to,
		At:       t.now,
	})
	return updated, nil
}

// settleEscrow moves a locked escrow to released or refunded through the
// custodian. Settling an escrow that already reached target is a no-op.
func (t *txn) settleEscrow(ctx context.Context, escrowID string, target models.EscrowStatus) (*models.Escrow, error) {
	escrow, err := t.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, escrowErr(err)
	}
	if escrow.Status == target {
		return escrow, nil
	}
	if escrow.Status != models.EscrowLocked {
		return nil, fmt.Errorf("%w: escrow %s is already %s", apperr.ErrInvalidTransition, escrow.ID, escrow.Status)
	}
	switch target {
	case models.EscrowReleased:
		if err := t.e.custodian.Release(ctx, escrow.ID); err != nil {
			return nil, apperr.Custody("release escrow", err)
		}
	case models.EscrowRefunded:
		if err := t.e.custodian.Refund(ctx, escrow.ID); err != nil {
			return nil, apperr.Custody("refund escrow", err)
		}
	default:
		return nil, fmt.Errorf("%w: escrow cannot move to %s", apperr.ErrInvalidTransition, target)
	}
	settled, err := t.PatchEscrow(ctx, escrow.ID, store.EscrowPatch{
		ExpectStatus: store.EscrowStatusPtr(models.EscrowLocked),
		Status:       store.EscrowStatusPtr(target),
		ResolvedAt:   store.TimePtr(t.now),
	})
	if err != nil {
		return nil, escrowErr(err)
	}
	return settled, nil
}

// rejectPending closes any pending verification of the order as rejected.
func (t *txn) rejectPending(ctx context.Context, orderID, verifierID, notes string) error {
	pending, err := t.FindVerifications(ctx, store.VerificationFilter{
		OrderID:  orderID,
		Statuses: []models.VerificationStatus{models.VerificationPending},
	})
	if err != nil {
		return err
	}
	for _, v := range pending {
		_, err := t.PatchVerification(ctx, v.ID, store.VerificationPatch{
			ExpectStatus: store.VerificationStatusPtr(models.VerificationPending),
			Status:       store.VerificationStatusPtr(models.VerificationRejected),
			VerifiedBy:   store.StringPtr(verifierID),
			VerifiedAt:   store.TimePtr(t.now),
			Notes:        store.StringPtr(notes),
		})
		if err != nil {
			return verificationErr(err)
		}
	}
	return nil
}

func (e *engine) getOrder(ctx context.Context, st store.Store, id string) (*models.Order, error) {
	order, err := st.GetOrder(ctx, id)
	if err != nil {
		return nil, e.fail("get order", orderErr(err))
	}
	return order, nil
}

func (e *engine) pendingVerification(ctx context.Context, st store.Store, orderID string) (*models.Verification, error) {
	pending, err := st.FindVerifications(ctx, store.VerificationFilter{
		OrderID:  orderID,
		Statuses: []models.VerificationStatus{models.VerificationPending},
	})
	if err != nil {
		return nil, e.fail("find verifications", err)
	}
	if len(pending) == 0 {
		return nil, nil
	}
	return pending[0], nil
}

// fail passes domain errors through and turns everything else into a
// logged storage failure.
func (e *engine) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, apperr.ErrStorage) || apperr.Kind(err) != "internal" {
		return err
	}
	e.logger.Error("storage failure", "op", op, "error", err)
	return apperr.Storage(op, err)
}

func orderErr(err error) error {
	return mapStoreErr(err, apperr.ErrOrderNotFound)
}

func escrowErr(err error) error {
	return mapStoreErr(err, apperr.ErrEscrowNotFound)
}

func verificationErr(err error) error {
	return mapStoreErr(err, apperr.ErrVerificationNotFound)
}

func mapStoreErr(err, notFound error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return notFound
	case errors.Is(err, store.ErrConflict):
		return fmt.Errorf("%w: %w", apperr.ErrConflict, err)
	}
	return err
}
