package store

import (
	"context"
	"errors"
	"time"

	"P2PEscrow/internal/models"
)

var (
	ErrNotFound = errors.New("store: record not found")
	// ErrConflict is returned when a patch's expected status no longer matches.
	ErrConflict = errors.New("store: expected status mismatch")
)

// Store is the persistence collaborator shared by the ledger, the escrow
// coordinator and the verification tracker. Patches update only the fields
// they set.
type Store interface {
	InsertOrder(ctx context.Context, order *models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	FindOrders(ctx context.Context, f OrderFilter) ([]*models.Order, error)
	PatchOrder(ctx context.Context, id string, p OrderPatch) (*models.Order, error)

	InsertEscrow(ctx context.Context, escrow *models.Escrow) error
	GetEscrow(ctx context.Context, id string) (*models.Escrow, error)
	FindEscrows(ctx context.Context, f EscrowFilter) ([]*models.Escrow, error)
	PatchEscrow(ctx context.Context, id string, p EscrowPatch) (*models.Escrow, error)

	InsertVerification(ctx context.Context, v *models.Verification) error
	GetVerification(ctx context.Context, id string) (*models.Verification, error)
	FindVerifications(ctx context.Context, f VerificationFilter) ([]*models.Verification, error)
	PatchVerification(ctx context.Context, id string, p VerificationPatch) (*models.Verification, error)

	// InTx runs fn against a transactional view of the store. Nested calls
	// reuse the outer transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

// OrderFilter fields are ANDed; zero values match everything.
type OrderFilter struct {
	SellerID string
	BuyerID  string
	Statuses []models.OrderStatus
	// LockRequestedSince keeps orders whose lock was requested at or after it.
	LockRequestedSince *time.Time
	Limit              int
}

type OrderPatch struct {
	ExpectStatus    *models.OrderStatus
	Status          *models.OrderStatus
	BuyerID         *string
	EscrowID        *string
	DisputeReason   *string
	LockRequestedAt *time.Time
	UpdatedAt       time.Time
}

type EscrowFilter struct {
	OrderID       string
	Statuses      []models.EscrowStatus
	ExpiresBefore *time.Time
}

type EscrowPatch struct {
	ExpectStatus *models.EscrowStatus
	Status       *models.EscrowStatus
	ResolvedAt   *time.Time
}

type VerificationFilter struct {
	OrderID  string
	Statuses []models.VerificationStatus
}

type VerificationPatch struct {
	ExpectStatus *models.VerificationStatus
	Status       *models.VerificationStatus
	VerifiedBy   *string
	VerifiedAt   *time.Time
	Notes        *string
}

func OrderStatusPtr(s models.OrderStatus) *models.OrderStatus { return &s }

func EscrowStatusPtr(s models.EscrowStatus) *models.EscrowStatus { return &s }

func VerificationStatusPtr(s models.VerificationStatus) *models.VerificationStatus { return &s }

func StringPtr(s string) *string { return &s }

func TimePtr(t time.Time) *time.Time { return &t }
