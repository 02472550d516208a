package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"P2PEscrow/internal/custody"
	"P2PEscrow/internal/events"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/store"
)

var testStart = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// manualScheduler only fires timers when RunDue is called.
type manualScheduler struct {
	clock  *fakeClock
	mu     sync.Mutex
	timers []*manualTimer
}

type manualTimer struct {
	s       *manualScheduler
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *manualScheduler) Schedule(d time.Duration, fn func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &manualTimer{s: s, at: s.clock.Now().Add(d), fn: fn}
	s.timers = append(s.timers, t)
	return t
}

func (s *manualScheduler) RunDue() int {
	now := s.clock.Now()
	s.mu.Lock()
	var due []*manualTimer
	for _, t := range s.timers {
		if !t.stopped && !t.fired && !now.Before(t.at) {
			t.fired = true
			due = append(due, t)
		}
	}
	s.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
	return len(due)
}

func (s *manualScheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

type recordingCustodian struct {
	mu       sync.Mutex
	locks    []custody.Hold
	releases []string
	refunds  []string
	failLock bool
}

func (c *recordingCustodian) Lock(_ context.Context, h custody.Hold) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failLock {
		return errors.New("custody unreachable")
	}
	c.locks = append(c.locks, h)
	return nil
}

func (c *recordingCustodian) Release(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.releases = append(c.releases, id)
	return nil
}

func (c *recordingCustodian) Refund(_ context.Context, id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refunds = append(c.refunds, id)
	return nil
}

type testEnv struct {
	svc       *Services
	st        *store.Gorm
	clock     *fakeClock
	sched     *manualScheduler
	broker    *events.Broker
	custodian *recordingCustodian
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	st, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return newTestEnvWithStore(t, st, newFakeClock(testStart))
}

// newTestEnvWithStore builds a fresh service graph over an existing store,
// the way a restarted process would.
func newTestEnvWithStore(t *testing.T, st *store.Gorm, clock *fakeClock) *testEnv {
	t.Helper()
	env := &testEnv{
		st:        st,
		clock:     clock,
		sched:     &manualScheduler{clock: clock},
		broker:    events.NewBroker(128),
		custodian: &recordingCustodian{},
	}
	svc, err := New(Options{
		Store:     st,
		Custodian: env.custodian,
		Emitter:   env.broker,
		Now:       clock.Now,
		Schedule:  env.sched.Schedule,
	})
	require.NoError(t, err)
	t.Cleanup(svc.Escrow.Close)
	env.svc = svc
	return env
}

func gcash() models.PaymentMethod {
	return models.PaymentMethod{
		ID:      "gcash",
		Name:    "GCash",
		Type:    models.PaymentGCash,
		Details: models.PaymentDetails{WalletAddress: "09123456789"},
	}
}

func (env *testEnv) createOrder(t *testing.T, seller string, amount int64) *models.Order {
	t.Helper()
	order, err := env.svc.Orders.CreateOrder(context.Background(), seller, decimal.NewFromInt(amount), decimal.NewFromInt(amount), gcash())
	require.NoError(t, err)
	return order
}

func (env *testEnv) order(t *testing.T, id string) *models.Order {
	t.Helper()
	order, err := env.st.GetOrder(context.Background(), id)
	require.NoError(t, err)
	return order
}

func (env *testEnv) escrow(t *testing.T, id string) *models.Escrow {
	t.Helper()
	escrow, err := env.st.GetEscrow(context.Background(), id)
	require.NoError(t, err)
	return escrow
}

// lockedPair writes an order in the given status with a locked escrow,
// bypassing the lifecycle.
func (env *testEnv) lockedPair(t *testing.T, status models.OrderStatus) (*models.Order, *models.Escrow) {
	t.Helper()
	ctx := context.Background()
	now := env.clock.Now()
	order := &models.Order{
		ID:            uuid.NewString(),
		SellerID:      "seller",
		BuyerID:       "buyer",
		Amount:        decimal.NewFromInt(50),
		Price:         decimal.NewFromInt(50),
		PaymentMethod: gcash(),
		Status:        status,
		EscrowID:      uuid.NewString(),
		CreatedAt:     now,
		ExpiresAt:     now.Add(24 * time.Hour),
		UpdatedAt:     now,
	}
	escrow := &models.Escrow{
		ID:        order.EscrowID,
		OrderID:   order.ID,
		SellerID:  order.SellerID,
		BuyerID:   order.BuyerID,
		Amount:    order.Amount,
		Tier:      "small",
		Status:    models.EscrowLocked,
		LockedAt:  now,
		ExpiresAt: now.Add(12 * time.Hour),
	}
	require.NoError(t, env.st.InsertOrder(ctx, order))
	require.NoError(t, env.st.InsertEscrow(ctx, escrow))
	return order, escrow
}

func drain(sub *events.Subscription) []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-sub.C:
			out = append(out, ev)
		default:
			return out
		}
	}
}
