package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/models"
)

func TestTierFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		amount  string
		name    string
		timeout time.Duration
	}{
		{amount: "1", name: "small", timeout: 12 * time.Hour},
		{amount: "100", name: "small", timeout: 12 * time.Hour},
		{amount: "100.01", name: "medium", timeout: 24 * time.Hour},
		{amount: "101", name: "medium", timeout: 24 * time.Hour},
		{amount: "1000", name: "medium", timeout: 24 * time.Hour},
		{amount: "1001", name: "large", timeout: 48 * time.Hour},
		{amount: "5000", name: "large", timeout: 48 * time.Hour},
		{amount: "5001", name: "xlarge", timeout: 72 * time.Hour},
		{amount: "50000", name: "xlarge", timeout: 72 * time.Hour},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.amount, func(t *testing.T) {
			t.Parallel()

			tier := TierFor(DefaultTiers(), decimal.RequireFromString(tt.amount))
			require.Equal(t, tt.name, tier.Name)
			require.Equal(t, tt.timeout, tier.Timeout)
		})
	}
}

func TestRateLimitPolicyCheck(t *testing.T) {
	t.Parallel()

	p := DefaultRateLimit()
	now := testStart.Add(48 * time.Hour)

	require.NoError(t, p.Check(nil, now))

	err := p.Check([]time.Time{now.Add(-2 * time.Minute)}, now)
	var rl *apperr.RateLimitError
	require.True(t, errors.As(err, &rl))
	require.Equal(t, "cooldown", rl.Reason)
	require.Equal(t, 3*time.Minute, rl.RetryAfter)

	var day []time.Time
	for i := 0; i < 20; i++ {
		day = append(day, now.Add(-23*time.Hour+time.Duration(i)*time.Minute*10))
	}
	err = p.Check(day, now)
	require.True(t, errors.As(err, &rl))
	require.Equal(t, "daily limit", rl.Reason)
	require.Equal(t, time.Hour, rl.RetryAfter)

	// Requests older than a day no longer count.
	require.NoError(t, p.Check(day, now.Add(time.Hour+time.Second)))
}

func TestRequestLockRateLimit(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	orders := make([]*models.Order, 7)
	for i := range orders {
		orders[i] = env.createOrder(t, "seller", 50)
	}

	for i := 0; i < 5; i++ {
		if i > 0 {
			env.clock.Advance(5 * time.Minute)
		}
		_, err := env.svc.Escrow.RequestLock(ctx, orders[i].ID, "buyer")
		require.NoError(t, err, "lock %d", i+1)
	}

	env.clock.Advance(5 * time.Minute)
	_, err := env.svc.Escrow.RequestLock(ctx, orders[5].ID, "buyer")
	require.ErrorIs(t, err, apperr.ErrRateLimited)
	var rl *apperr.RateLimitError
	require.True(t, errors.As(err, &rl))
	require.Equal(t, "hourly limit", rl.Reason)
	require.Equal(t, 35*time.Minute, rl.RetryAfter)
	require.Equal(t, models.OrderOpen, env.order(t, orders[5].ID).Status, "rejected lock leaves the order open")

	// One hour after the oldest request the window has room again.
	env.clock.Advance(35 * time.Minute)
	_, err = env.svc.Escrow.RequestLock(ctx, orders[5].ID, "buyer")
	require.NoError(t, err)

	env.clock.Advance(time.Minute)
	_, err = env.svc.Escrow.RequestLock(ctx, orders[6].ID, "buyer")
	require.True(t, errors.As(err, &rl))
	require.Equal(t, "cooldown", rl.Reason)
	require.Equal(t, 4*time.Minute, rl.RetryAfter)
}

func TestRequestLockRejects(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.svc.Escrow.RequestLock(ctx, "missing", "buyer")
	require.ErrorIs(t, err, apperr.ErrOrderNotFound)

	own := env.createOrder(t, "seller", 50)
	_, err = env.svc.Escrow.RequestLock(ctx, own.ID, "seller")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = env.svc.Escrow.RequestLock(ctx, own.ID, "")
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = env.svc.Escrow.RequestLock(ctx, own.ID, "buyer")
	require.NoError(t, err)
	_, err = env.svc.Escrow.RequestLock(ctx, own.ID, "other-buyer")
	require.ErrorIs(t, err, apperr.ErrOrderNotOpen)

	stale := env.createOrder(t, "seller-2", 50)
	env.clock.Advance(24 * time.Hour)
	_, err = env.svc.Escrow.RequestLock(ctx, stale.ID, "buyer")
	require.ErrorIs(t, err, apperr.ErrOrderExpired)

	// Orders written before the bounds tightened are still refused at lock.
	now := env.clock.Now()
	big := &models.Order{
		ID:            uuid.NewString(),
		SellerID:      "seller-3",
		Amount:        decimal.NewFromInt(60000),
		Price:         decimal.NewFromInt(1),
		PaymentMethod: gcash(),
		Status:        models.OrderOpen,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Hour),
		UpdatedAt:     now,
	}
	require.NoError(t, env.st.InsertOrder(ctx, big))
	_, err = env.svc.Escrow.RequestLock(ctx, big.ID, "buyer")
	require.ErrorIs(t, err, apperr.ErrAmountOutOfBounds)
}

func TestRequestLockCustodyFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.custodian.failLock = true

	order := env.createOrder(t, "seller", 50)
	_, err := env.svc.Escrow.RequestLock(ctx, order.ID, "buyer")
	require.ErrorIs(t, err, apperr.ErrCustody)
	require.Equal(t, "custody_unavailable", apperr.Kind(err))

	got := env.order(t, order.ID)
	require.Equal(t, models.OrderOpen, got.Status)
	require.Empty(t, got.EscrowID)
	require.Empty(t, got.BuyerID)
	require.Nil(t, got.LockRequestedAt, "failed lock does not count against the seller")
	require.Zero(t, env.sched.Active())

	_, err = env.svc.Escrow.GetEscrowForOrder(ctx, order.ID)
	require.ErrorIs(t, err, apperr.ErrEscrowNotFound)

	env.custodian.failLock = false
	escrow, err := env.svc.Escrow.RequestLock(ctx, order.ID, "buyer")
	require.NoError(t, err)
	byOrder, err := env.svc.Escrow.GetEscrowForOrder(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, escrow.ID, byOrder.ID)
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, escrow := env.lockedPair(t, models.OrderPaymentVerified)

	require.NoError(t, env.svc.Escrow.Release(ctx, escrow.ID))
	first := env.escrow(t, escrow.ID)
	require.Equal(t, models.EscrowReleased, first.Status)

	require.NoError(t, env.svc.Escrow.Release(ctx, escrow.ID))
	second := env.escrow(t, escrow.ID)
	require.Equal(t, first.Status, second.Status)
	require.True(t, first.ResolvedAt.Equal(*second.ResolvedAt))
	require.Len(t, env.custodian.releases, 1)

	err := env.svc.Escrow.Refund(ctx, escrow.ID)
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
}

func TestRefundIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, escrow := env.lockedPair(t, models.OrderExpired)

	require.NoError(t, env.svc.Escrow.Refund(ctx, escrow.ID))
	require.NoError(t, env.svc.Escrow.Refund(ctx, escrow.ID))
	require.Equal(t, models.EscrowRefunded, env.escrow(t, escrow.ID).Status)
	require.Len(t, env.custodian.refunds, 1)
}

func TestSettleRequiresMatchingOrderState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, escrow := env.lockedPair(t, models.OrderEscrowLocked)

	require.ErrorIs(t, env.svc.Escrow.Release(ctx, escrow.ID), apperr.ErrInvalidTransition)
	require.ErrorIs(t, env.svc.Escrow.Refund(ctx, escrow.ID), apperr.ErrInvalidTransition)
	require.Equal(t, models.EscrowLocked, env.escrow(t, escrow.ID).Status)

	_, err := env.svc.Escrow.GetEscrow(ctx, "missing")
	require.ErrorIs(t, err, apperr.ErrEscrowNotFound)
	require.ErrorIs(t, env.svc.Escrow.Release(ctx, "missing"), apperr.ErrNotFound)
}

func TestInvalidTransitionsLeaveOrderUnchanged(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "seller", 50)

	_, err := env.svc.Orders.BeginPayment(ctx, order.ID, "buyer")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = env.svc.Verifications.Submit(ctx, order.ID, "buyer", "ref")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	_, err = env.svc.Verifications.ResolveDispute(ctx, order.ID, true, "arbiter")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)

	require.Equal(t, models.OrderOpen, env.order(t, order.ID).Status)

	_, err = env.svc.Escrow.RequestLock(ctx, order.ID, "buyer")
	require.NoError(t, err)
	_, err = env.svc.Orders.BeginPayment(ctx, order.ID, "someone-else")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	_, err = env.svc.Verifications.Submit(ctx, order.ID, "buyer", "ref")
	require.ErrorIs(t, err, apperr.ErrInvalidTransition)
	require.Equal(t, models.OrderEscrowLocked, env.order(t, order.ID).Status)
}

func TestSubmitRejectsSecondProof(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "seller", 50)
	_, err := env.svc.Escrow.RequestLock(ctx, order.ID, "buyer")
	require.NoError(t, err)
	_, err = env.svc.Orders.BeginPayment(ctx, order.ID, "buyer")
	require.NoError(t, err)

	_, err = env.svc.Verifications.Submit(ctx, order.ID, "buyer", "   ")
	require.ErrorIs(t, err, apperr.ErrInvalidProof)

	_, err = env.svc.Verifications.Submit(ctx, order.ID, "buyer", "ref-1")
	require.NoError(t, err)
	_, err = env.svc.Verifications.Submit(ctx, order.ID, "buyer", "ref-2")
	require.ErrorIs(t, err, apperr.ErrVerificationAlreadyPending)

	ok, err := env.svc.Verifications.Verify(ctx, order.ID, "buyer")
	require.ErrorIs(t, err, apperr.ErrForbidden)
	require.False(t, ok)
}

func TestConcurrentLocksOnOneOrder(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	order := env.createOrder(t, "seller", 50)

	const n = 8
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			_, err := env.svc.Escrow.RequestLock(ctx, order.ID, "buyer")
			errs <- err
		}(i)
	}
	var ok, notOpen int
	for i := 0; i < n; i++ {
		err := <-errs
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrOrderNotOpen):
			notOpen++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, n-1, notOpen)
	require.Len(t, env.custodian.locks, 1)
}
