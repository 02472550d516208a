package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/events"
	"P2PEscrow/internal/ledger"
	"P2PEscrow/internal/logging"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/payments"
	"P2PEscrow/internal/store"
)

// EventCreated is published when a seller lists a new order.
const EventCreated = "created"

// OrderLedger is the authoritative record of orders and their status.
type OrderLedger struct {
	*engine
	limits Limits
}

func (l *OrderLedger) CreateOrder(ctx context.Context, sellerID string, amount, price decimal.Decimal, method models.PaymentMethod) (*models.Order, error) {
	sellerID = strings.TrimSpace(sellerID)
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller identity is required", apperr.ErrInvalidOrder)
	}
	if !amount.IsPositive() || !price.IsPositive() {
		return nil, fmt.Errorf("%w: amount and price must be positive", apperr.ErrInvalidOrder)
	}
	if amount.LessThan(l.limits.MinAmount) || amount.GreaterThan(l.limits.MaxAmount) {
		return nil, fmt.Errorf("%w: amount %s outside [%s, %s]", apperr.ErrAmountOutOfBounds, amount, l.limits.MinAmount, l.limits.MaxAmount)
	}
	if err := payments.Validate(method); err != nil {
		return nil, err
	}

	now := l.now()
	order := &models.Order{
		ID:            uuid.NewString(),
		SellerID:      sellerID,
		Amount:        amount,
		Price:         price,
		PaymentMethod: method,
		Status:        models.OrderOpen,
		CreatedAt:     now,
		ExpiresAt:     now.Add(l.limits.OrderTTL),
		UpdatedAt:     now,
	}
	if err := l.store.InsertOrder(ctx, order); err != nil {
		return nil, l.fail("insert order", err)
	}

	l.metrics.Transition(EventCreated, string(order.Status))
	l.emitter.Emit(events.Event{Type: EventCreated, OrderID: order.ID, To: order.Status, At: now})
	l.logger.Info("order created",
		"order_id", order.ID,
		"seller_id", sellerID,
		"amount", amount.String(),
		"payment_method", string(method.Type),
		logging.MaskField("account_number", method.Details.AccountNumber),
		logging.MaskField("wallet_address", method.Details.WalletAddress),
	)
	return order, nil
}

func (l *OrderLedger) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	return l.getOrder(ctx, l.store, orderID)
}

// ListOpenOrders returns open orders whose listing window has not elapsed.
// Expiry is recomputed on every read.
func (l *OrderLedger) ListOpenOrders(ctx context.Context) ([]*models.Order, error) {
	orders, err := l.find(ctx, store.OrderFilter{Statuses: []models.OrderStatus{models.OrderOpen}})
	if err != nil {
		return nil, err
	}
	now := l.now()
	out := orders[:0]
	for _, o := range orders {
		if !o.OpenExpired(now) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (l *OrderLedger) ListOrdersBySeller(ctx context.Context, sellerID string) ([]*models.Order, error) {
	if sellerID == "" {
		return nil, fmt.Errorf("%w: seller identity is required", apperr.ErrInvalidOrder)
	}
	return l.find(ctx, store.OrderFilter{SellerID: sellerID})
}

func (l *OrderLedger) ListOrdersByBuyer(ctx context.Context, buyerID string) ([]*models.Order, error) {
	if buyerID == "" {
		return nil, fmt.Errorf("%w: buyer identity is required", apperr.ErrInvalidOrder)
	}
	return l.find(ctx, store.OrderFilter{BuyerID: buyerID})
}

func (l *OrderLedger) ListOrdersByStatus(ctx context.Context, status models.OrderStatus) ([]*models.Order, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", apperr.ErrInvalidOrder, status)
	}
	return l.find(ctx, store.OrderFilter{Statuses: []models.OrderStatus{status}})
}

// BeginPayment records that the locking buyer started paying.
func (l *OrderLedger) BeginPayment(ctx context.Context, orderID, buyerID string) (*models.Order, error) {
	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.getOrder(ctx, l.store, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.Next(order.Status, ledger.EventPaymentStarted); err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the locking buyer can begin payment", apperr.ErrForbidden)
	}

	var updated *models.Order
	err = l.inTx(ctx, "begin payment", func(t *txn) error {
		updated, err = t.transition(ctx, order, ledger.EventPaymentStarted, store.OrderPatch{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// Cancel moves any non-terminal order to cancelled on behalf of its seller
// or the system. A locked escrow is refunded and a pending verification is
// rejected in the same transaction.
func (l *OrderLedger) Cancel(ctx context.Context, orderID, actorID string) (*models.Order, error) {
	unlock := l.locks.Lock(orderID)
	defer unlock()

	order, err := l.getOrder(ctx, l.store, orderID)
	if err != nil {
		return nil, err
	}
	if _, err := ledger.Next(order.Status, ledger.EventCancel); err != nil {
		return nil, err
	}
	if actorID != order.SellerID && actorID != SystemActor {
		return nil, fmt.Errorf("%w: only the seller can cancel an order", apperr.ErrForbidden)
	}

	var updated *models.Order
	err = l.inTx(ctx, "cancel order", func(t *txn) error {
		if err := t.rejectPending(ctx, order.ID, actorID, "order cancelled"); err != nil {
			return err
		}
		if order.EscrowID != "" {
			escrow, err := t.GetEscrow(ctx, order.EscrowID)
			if err != nil {
				return escrowErr(err)
			}
			if escrow.Status == models.EscrowLocked {
				if _, err := t.settleEscrow(ctx, escrow.ID, models.EscrowRefunded); err != nil {
					return err
				}
			}
		}
		updated, err = t.transition(ctx, order, ledger.EventCancel, store.OrderPatch{})
		return err
	})
	if err != nil {
		return nil, err
	}
	l.timers.cancel(order.ID)
	l.logger.Info("order cancelled", "order_id", order.ID, "actor", actorID, "from", order.Status)
	return updated, nil
}

func (l *OrderLedger) find(ctx context.Context, f store.OrderFilter) ([]*models.Order, error) {
	orders, err := l.store.FindOrders(ctx, f)
	if err != nil {
		return nil, l.fail("find orders", err)
	}
	return orders, nil
}
