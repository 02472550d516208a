package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/custody"
	"P2PEscrow/internal/ledger"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/store"
)

const expiryTimeout = 30 * time.Second

// EscrowCoordinator gates lock requests, holds the seller's tokens through
// the custodian and expires escrows whose payment window elapsed.
type EscrowCoordinator struct {
	*engine
	limits    Limits
	tiers     []Tier
	rateLimit RateLimitPolicy
	schedule  ScheduleFunc
}

// Tier reports the escrow tier an amount falls into.
func (c *EscrowCoordinator) Tier(amount decimal.Decimal) Tier {
	return TierFor(c.tiers, amount)
}

// RequestLock accepts an open order on behalf of buyerID, creating a locked
// escrow for the full order amount.
func (c *EscrowCoordinator) RequestLock(ctx context.Context, orderID, buyerID string) (escrow *models.Escrow, err error) {
	defer func() {
		if err != nil {
			c.metrics.LockRejected(apperr.Kind(err))
		}
	}()
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer identity is required", apperr.ErrForbidden)
	}

	unlock := c.locks.Lock(orderID)
	defer unlock()

	order, err := c.getOrder(ctx, c.store, orderID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	if order.Status != models.OrderOpen {
		return nil, fmt.Errorf("%w: order %s is %s", apperr.ErrOrderNotOpen, order.ID, order.Status)
	}
	if order.OpenExpired(now) {
		return nil, fmt.Errorf("%w: order %s expired at %s", apperr.ErrOrderExpired, order.ID, order.ExpiresAt.Format(time.RFC3339))
	}
	if order.Amount.LessThan(c.limits.MinAmount) || order.Amount.GreaterThan(c.limits.MaxAmount) {
		return nil, fmt.Errorf("%w: amount %s outside [%s, %s]", apperr.ErrAmountOutOfBounds, order.Amount, c.limits.MinAmount, c.limits.MaxAmount)
	}
	if order.SellerID == buyerID {
		return nil, fmt.Errorf("%w: seller cannot lock their own order", apperr.ErrForbidden)
	}

	// Lock requests of one seller are counted together.
	unlockSeller := c.locks.Lock("seller:" + order.SellerID)
	defer unlockSeller()

	if err := c.checkRateLimit(ctx, order.SellerID, now); err != nil {
		return nil, err
	}

	tier := TierFor(c.tiers, order.Amount)
	err = c.inTx(ctx, "lock escrow", func(t *txn) error {
		pending, err := t.transition(ctx, order, ledger.EventLockRequested, store.OrderPatch{
			BuyerID:         store.StringPtr(buyerID),
			LockRequestedAt: store.TimePtr(t.now),
		})
		if err != nil {
			return err
		}
		escrow = &models.Escrow{
			ID:        uuid.NewString(),
			OrderID:   order.ID,
			SellerID:  order.SellerID,
			BuyerID:   buyerID,
			Amount:    order.Amount,
			Tier:      tier.Name,
			Status:    models.EscrowLocked,
			LockedAt:  t.now,
			ExpiresAt: t.now.Add(tier.Timeout),
		}
		if err := t.InsertEscrow(ctx, escrow); err != nil {
			return err
		}
		if err := c.custodian.Lock(ctx, custody.Hold{
			EscrowID: escrow.ID,
			OrderID:  order.ID,
			SellerID: order.SellerID,
			BuyerID:  buyerID,
			Amount:   escrow.Amount,
		}); err != nil {
			return apperr.Custody("lock escrow", err)
		}
		_, err = t.transition(ctx, pending, ledger.EventEscrowCreated, store.OrderPatch{
			EscrowID: store.StringPtr(escrow.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	c.arm(escrow)
	c.logger.Info("escrow locked",
		"order_id", order.ID,
		"escrow_id", escrow.ID,
		"tier", escrow.Tier,
		"expires_at", escrow.ExpiresAt,
	)
	return escrow, nil
}

// Release marks the escrow released once its order's payment is verified.
// Releasing an already released escrow is a no-op.
func (c *EscrowCoordinator) Release(ctx context.Context, escrowID string) error {
	return c.settle(ctx, escrowID, models.EscrowReleased, models.OrderPaymentVerified, models.OrderCompleted)
}

// Refund returns the held tokens to the seller after the order was refunded,
// expired or cancelled. Refunding an already refunded escrow is a no-op.
func (c *EscrowCoordinator) Refund(ctx context.Context, escrowID string) error {
	return c.settle(ctx, escrowID, models.EscrowRefunded, models.OrderRefunded, models.OrderExpired, models.OrderCancelled)
}

func (c *EscrowCoordinator) settle(ctx context.Context, escrowID string, target models.EscrowStatus, orderStatuses ...models.OrderStatus) error {
	escrow, err := c.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return c.fail("get escrow", escrowErr(err))
	}
	if escrow.Status == target {
		return nil
	}

	unlock := c.locks.Lock(escrow.OrderID)
	defer unlock()

	order, err := c.getOrder(ctx, c.store, escrow.OrderID)
	if err != nil {
		return err
	}
	allowed := false
	for _, st := range orderStatuses {
		if order.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: escrow %s cannot be %s while order is %s", apperr.ErrInvalidTransition, escrow.ID, target, order.Status)
	}
	err = c.inTx(ctx, "settle escrow", func(t *txn) error {
		_, err := t.settleEscrow(ctx, escrowID, target)
		return err
	})
	if err != nil {
		return err
	}
	c.timers.cancel(order.ID)
	return nil
}

func (c *EscrowCoordinator) GetEscrow(ctx context.Context, escrowID string) (*models.Escrow, error) {
	escrow, err := c.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return nil, c.fail("get escrow", escrowErr(err))
	}
	return escrow, nil
}

// GetEscrowForOrder returns the order's current escrow.
func (c *EscrowCoordinator) GetEscrowForOrder(ctx context.Context, orderID string) (*models.Escrow, error) {
	order, err := c.getOrder(ctx, c.store, orderID)
	if err != nil {
		return nil, err
	}
	if order.EscrowID == "" {
		return nil, apperr.ErrEscrowNotFound
	}
	return c.GetEscrow(ctx, order.EscrowID)
}

// Recover re-derives expiry from persisted escrows: overdue ones are expired
// now, the rest get a fresh timer.
func (c *EscrowCoordinator) Recover(ctx context.Context) (expired, armed int, err error) {
	locked, err := c.store.FindEscrows(ctx, store.EscrowFilter{Statuses: []models.EscrowStatus{models.EscrowLocked}})
	if err != nil {
		return 0, 0, c.fail("find escrows", err)
	}
	now := c.now()
	var errs []error
	for _, escrow := range locked {
		if now.Before(escrow.ExpiresAt) {
			c.arm(escrow)
			armed++
			continue
		}
		ok, err := c.expire(ctx, escrow.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, armed, errors.Join(errs...)
}

// ExpireDue expires every locked escrow whose deadline has passed. It is the
// durable counterpart of the in-memory timers.
func (c *EscrowCoordinator) ExpireDue(ctx context.Context) (int, error) {
	now := c.now()
	due, err := c.store.FindEscrows(ctx, store.EscrowFilter{
		Statuses:      []models.EscrowStatus{models.EscrowLocked},
		ExpiresBefore: &now,
	})
	if err != nil {
		return 0, c.fail("find due escrows", err)
	}
	var (
		expired int
		errs    []error
	)
	for _, escrow := range due {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		ok, err := c.expire(ctx, escrow.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			expired++
		}
	}
	return expired, errors.Join(errs...)
}

// Close stops every pending expiry timer.
func (c *EscrowCoordinator) Close() {
	c.timers.stopAll()
}

// PendingTimers reports how many expiry timers are armed.
func (c *EscrowCoordinator) PendingTimers() int {
	return c.timers.len()
}

func (c *EscrowCoordinator) arm(escrow *models.Escrow) {
	escrowID, orderID := escrow.ID, escrow.OrderID
	delay := escrow.ExpiresAt.Sub(c.now())
	if delay < 0 {
		delay = 0
	}
	c.timers.set(orderID, c.schedule(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), expiryTimeout)
		defer cancel()
		if _, err := c.expire(ctx, escrowID); err != nil {
			c.logger.Error("escrow expiry failed", "order_id", orderID, "escrow_id", escrowID, "error", err)
		}
	}))
}

// expire refunds an overdue escrow and moves its order to expired. Orders
// that already carry a payment proof are left for the verifier.
func (c *EscrowCoordinator) expire(ctx context.Context, escrowID string) (bool, error) {
	escrow, err := c.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return false, c.fail("get escrow", escrowErr(err))
	}

	unlock := c.locks.Lock(escrow.OrderID)
	defer unlock()

	escrow, err = c.store.GetEscrow(ctx, escrowID)
	if err != nil {
		return false, c.fail("get escrow", escrowErr(err))
	}
	if escrow.Status != models.EscrowLocked {
		c.timers.cancel(escrow.OrderID)
		return false, nil
	}
	now := c.now()
	if now.Before(escrow.ExpiresAt) {
		c.arm(escrow)
		return false, nil
	}
	order, err := c.getOrder(ctx, c.store, escrow.OrderID)
	if err != nil {
		return false, err
	}
	switch order.Status {
	case models.OrderEscrowLocked, models.OrderPaymentPending:
	default:
		c.timers.cancel(order.ID)
		return false, nil
	}

	err = c.inTx(ctx, "expire escrow", func(t *txn) error {
		if _, err := t.settleEscrow(ctx, escrow.ID, models.EscrowRefunded); err != nil {
			return err
		}
		_, err := t.transition(ctx, order, ledger.EventTimeout, store.OrderPatch{})
		return err
	})
	if err != nil {
		return false, err
	}
	c.timers.cancel(order.ID)
	c.metrics.Expired()
	c.logger.Info("escrow expired", "order_id", order.ID, "escrow_id", escrow.ID, "tier", escrow.Tier)
	return true, nil
}
