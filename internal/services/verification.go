package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/ledger"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/payments"
	"P2PEscrow/internal/store"
)

// VerificationTracker records payment proofs and the verifier's decision on
// them, and drives the order to its final state.
type VerificationTracker struct {
	*engine
}

// Submit records the buyer's proof of payment.
func (v *VerificationTracker) Submit(ctx context.Context, orderID, buyerID, proof string) (*models.Verification, error) {
	proof, err := payments.NormalizeProof(proof)
	if err != nil {
		return nil, err
	}

	unlock := v.locks.Lock(orderID)
	defer unlock()

	order, err := v.getOrder(ctx, v.store, orderID)
	if err != nil {
		return nil, err
	}
	pending, err := v.pendingVerification(ctx, v.store, order.ID)
	if err != nil {
		return nil, err
	}
	if pending != nil {
		return nil, fmt.Errorf("%w: verification %s is awaiting a decision", apperr.ErrVerificationAlreadyPending, pending.ID)
	}
	if _, err := ledger.Next(order.Status, ledger.EventProofSubmitted); err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, fmt.Errorf("%w: only the locking buyer can submit proof", apperr.ErrForbidden)
	}

	verification := &models.Verification{
		ID:          uuid.NewString(),
		OrderID:     order.ID,
		SubmittedBy: buyerID,
		Status:      models.VerificationPending,
		Proof:       proof,
	}
	err = v.inTx(ctx, "submit proof", func(t *txn) error {
		verification.CreatedAt = t.now
		if err := t.InsertVerification(ctx, verification); err != nil {
			return err
		}
		_, err := t.transition(ctx, order, ledger.EventProofSubmitted, store.OrderPatch{})
		return err
	})
	if err != nil {
		return nil, err
	}
	return verification, nil
}

// Verify confirms the pending proof, releases the escrow and completes the
// order. It reports false when the order does not exist or has nothing
// pending.
func (v *VerificationTracker) Verify(ctx context.Context, orderID, verifierID string) (bool, error) {
	unlock := v.locks.Lock(orderID)
	defer unlock()

	order, pending, err := v.decisionTarget(ctx, orderID)
	if err != nil || pending == nil {
		return false, err
	}
	if err := v.checkVerifier(order, verifierID); err != nil {
		return false, err
	}
	if _, err := ledger.Next(order.Status, ledger.EventVerifierConfirms); err != nil {
		return false, err
	}

	err = v.inTx(ctx, "verify payment", func(t *txn) error {
		_, err := t.PatchVerification(ctx, pending.ID, store.VerificationPatch{
			ExpectStatus: store.VerificationStatusPtr(models.VerificationPending),
			Status:       store.VerificationStatusPtr(models.VerificationVerified),
			VerifiedBy:   store.StringPtr(verifierID),
			VerifiedAt:   store.TimePtr(t.now),
		})
		if err != nil {
			return verificationErr(err)
		}
		verified, err := t.transition(ctx, order, ledger.EventVerifierConfirms, store.OrderPatch{})
		if err != nil {
			return err
		}
		if _, err := t.settleEscrow(ctx, order.EscrowID, models.EscrowReleased); err != nil {
			return err
		}
		_, err = t.transition(ctx, verified, ledger.EventSettled, store.OrderPatch{})
		return err
	})
	if err != nil {
		return false, err
	}
	v.timers.cancel(order.ID)
	v.logger.Info("payment verified", "order_id", order.ID, "verification_id", pending.ID, "verifier", verifierID)
	return true, nil
}

// Reject turns down the pending proof and moves the order into dispute.
func (v *VerificationTracker) Reject(ctx context.Context, orderID, verifierID, reason string) (bool, error) {
	unlock := v.locks.Lock(orderID)
	defer unlock()

	order, pending, err := v.decisionTarget(ctx, orderID)
	if err != nil || pending == nil {
		return false, err
	}
	if err := v.checkVerifier(order, verifierID); err != nil {
		return false, err
	}
	if _, err := ledger.Next(order.Status, ledger.EventVerifierRejects); err != nil {
		return false, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "payment proof rejected"
	}

	err = v.inTx(ctx, "reject payment", func(t *txn) error {
		_, err := t.PatchVerification(ctx, pending.ID, store.VerificationPatch{
			ExpectStatus: store.VerificationStatusPtr(models.VerificationPending),
			Status:       store.VerificationStatusPtr(models.VerificationRejected),
			VerifiedBy:   store.StringPtr(verifierID),
			VerifiedAt:   store.TimePtr(t.now),
			Notes:        store.StringPtr(reason),
		})
		if err != nil {
			return verificationErr(err)
		}
		_, err = t.transition(ctx, order, ledger.EventVerifierRejects, store.OrderPatch{
			DisputeReason: store.StringPtr(reason),
		})
		return err
	})
	if err != nil {
		return false, err
	}
	v.timers.cancel(order.ID)
	return true, nil
}

// Dispute moves an order with an active escrow into dispute on behalf of
// its seller or buyer. It reports false when the order does not exist.
func (v *VerificationTracker) Dispute(ctx context.Context, orderID, actorID, reason string) (bool, error) {
	unlock := v.locks.Lock(orderID)
	defer unlock()

	order, err := v.store.GetOrder(ctx, orderID)
	if err != nil {
		if err = orderErr(err); err == apperr.ErrOrderNotFound {
			return false, nil
		}
		return false, v.fail("get order", err)
	}
	if _, err := ledger.Next(order.Status, ledger.EventDisputeRaised); err != nil {
		return false, err
	}
	if actorID != order.SellerID && actorID != order.BuyerID && actorID != SystemActor {
		return false, fmt.Errorf("%w: only the trading parties can raise a dispute", apperr.ErrForbidden)
	}
	if order.EscrowID == "" {
		return false, fmt.Errorf("%w: order %s has no active escrow", apperr.ErrInvalidTransition, order.ID)
	}
	reason = strings.TrimSpace(reason)

	err = v.inTx(ctx, "raise dispute", func(t *txn) error {
		if err := t.rejectPending(ctx, order.ID, actorID, "superseded by dispute"); err != nil {
			return err
		}
		_, err := t.transition(ctx, order, ledger.EventDisputeRaised, store.OrderPatch{
			DisputeReason: store.StringPtr(reason),
		})
		return err
	})
	if err != nil {
		return false, err
	}
	v.timers.cancel(order.ID)
	v.logger.Info("dispute raised", "order_id", order.ID, "actor", actorID)
	return true, nil
}

// ResolveDispute settles a disputed order. Favoring the buyer releases the
// escrow and completes the order; favoring the seller refunds it.
func (v *VerificationTracker) ResolveDispute(ctx context.Context, orderID string, favorBuyer bool, resolverID string) (*models.Order, error) {
	unlock := v.locks.Lock(orderID)
	defer unlock()

	order, err := v.getOrder(ctx, v.store, orderID)
	if err != nil {
		return nil, err
	}
	ev, target := ledger.EventResolvedSeller, models.EscrowRefunded
	if favorBuyer {
		ev, target = ledger.EventResolvedBuyer, models.EscrowReleased
	}
	if _, err := ledger.Next(order.Status, ev); err != nil {
		return nil, err
	}
	if resolverID == "" || resolverID == order.SellerID || resolverID == order.BuyerID {
		return nil, fmt.Errorf("%w: disputes are resolved by a third party", apperr.ErrForbidden)
	}

	var updated *models.Order
	err = v.inTx(ctx, "resolve dispute", func(t *txn) error {
		if _, err := t.settleEscrow(ctx, order.EscrowID, target); err != nil {
			return err
		}
		updated, err = t.transition(ctx, order, ev, store.OrderPatch{})
		return err
	})
	if err != nil {
		return nil, err
	}
	v.logger.Info("dispute resolved", "order_id", order.ID, "resolver", resolverID, "favor_buyer", favorBuyer)
	return updated, nil
}

func (v *VerificationTracker) ListVerifications(ctx context.Context, orderID string) ([]*models.Verification, error) {
	if _, err := v.getOrder(ctx, v.store, orderID); err != nil {
		return nil, err
	}
	out, err := v.store.FindVerifications(ctx, store.VerificationFilter{OrderID: orderID})
	if err != nil {
		return nil, v.fail("find verifications", err)
	}
	return out, nil
}

// decisionTarget loads the order and its pending verification. A missing
// order or an empty queue yields nil values without error.
func (v *VerificationTracker) decisionTarget(ctx context.Context, orderID string) (*models.Order, *models.Verification, error) {
	order, err := v.store.GetOrder(ctx, orderID)
	if err != nil {
		if err = orderErr(err); err == apperr.ErrOrderNotFound {
			return nil, nil, nil
		}
		return nil, nil, v.fail("get order", err)
	}
	pending, err := v.pendingVerification(ctx, v.store, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, pending, nil
}

func (v *VerificationTracker) checkVerifier(order *models.Order, verifierID string) error {
	if verifierID == order.SellerID || verifierID == SystemActor {
		return nil
	}
	return fmt.Errorf("%w: only the seller can decide on a payment proof", apperr.ErrForbidden)
}
