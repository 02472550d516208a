package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderOpen             OrderStatus = "open"
	OrderEscrowPending    OrderStatus = "escrow_pending"
	OrderEscrowLocked     OrderStatus = "escrow_locked"
	OrderPaymentPending   OrderStatus = "payment_pending"
	OrderPaymentSubmitted OrderStatus = "payment_submitted"
	OrderPaymentVerified  OrderStatus = "payment_verified"
	OrderCompleted        OrderStatus = "completed"
	OrderCancelled        OrderStatus = "cancelled"
	OrderDisputed         OrderStatus = "disputed"
	OrderRefunded         OrderStatus = "refunded"
	OrderExpired          OrderStatus = "expired"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderOpen,
	OrderEscrowPending,
	OrderEscrowLocked,
	OrderPaymentPending,
	OrderPaymentSubmitted,
	OrderPaymentVerified,
	OrderCompleted,
	OrderCancelled,
	OrderDisputed,
	OrderRefunded,
	OrderExpired,
}

func (s OrderStatus) Valid() bool {
	for _, st := range OrderStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderCancelled, OrderRefunded, OrderExpired:
		return true
	default:
		return false
	}
}

type PaymentMethodType string

const (
	PaymentBank    PaymentMethodType = "bank"
	PaymentGCash   PaymentMethodType = "gcash"
	PaymentMaya    PaymentMethodType = "maya"
	PaymentCoinsPH PaymentMethodType = "coins.ph"
)

type PaymentDetails struct {
	AccountNumber string `json:"accountNumber,omitempty" yaml:"account_number"`
	AccountName   string `json:"accountName,omitempty" yaml:"account_name"`
	BankName      string `json:"bankName,omitempty" yaml:"bank_name"`
	WalletAddress string `json:"walletAddress,omitempty" yaml:"wallet_address"`
}

// PaymentMethod is attached to an order at creation and never changed afterwards.
type PaymentMethod struct {
	ID      string            `json:"id"`
	Name    string            `json:"name"`
	Type    PaymentMethodType `json:"type"`
	Details PaymentDetails    `json:"details"`
}

type Order struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	SellerID        string          `json:"sellerId" gorm:"index;not null"`
	BuyerID         string          `json:"buyerId,omitempty" gorm:"index"`
	Amount          decimal.Decimal `json:"amount" gorm:"type:text;not null"`
	Price           decimal.Decimal `json:"price" gorm:"type:text;not null"`
	PaymentMethod   PaymentMethod   `json:"paymentMethod" gorm:"serializer:json;type:text"`
	Status          OrderStatus     `json:"status" gorm:"index;not null"`
	EscrowID        string          `json:"escrowId,omitempty"`
	DisputeReason   string          `json:"disputeReason,omitempty"`
	LockRequestedAt *time.Time      `json:"lockRequestedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt" gorm:"autoCreateTime:false"`
	ExpiresAt       time.Time       `json:"expiresAt"`
	UpdatedAt       time.Time       `json:"updatedAt" gorm:"autoUpdateTime:false"`
}

func (Order) TableName() string { return "orders" }

// OpenExpired reports whether an open order is past its listing window.
func (o *Order) OpenExpired(now time.Time) bool {
	return !now.Before(o.ExpiresAt)
}

type EscrowStatus string

const (
	EscrowLocked   EscrowStatus = "locked"
	EscrowReleased EscrowStatus = "released"
	EscrowRefunded EscrowStatus = "refunded"
)

type Escrow struct {
	ID         string          `json:"id" gorm:"primaryKey"`
	OrderID    string          `json:"orderId" gorm:"index;not null"`
	SellerID   string          `json:"sellerId"`
	BuyerID    string          `json:"buyerId"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:text;not null"`
	Tier       string          `json:"tier"`
	Status     EscrowStatus    `json:"status" gorm:"index;not null"`
	LockedAt   time.Time       `json:"lockedAt"`
	ExpiresAt  time.Time       `json:"expiresAt" gorm:"index"`
	ResolvedAt *time.Time      `json:"resolvedAt,omitempty"`
}

func (Escrow) TableName() string { return "escrows" }

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

type Verification struct {
	ID          string             `json:"id" gorm:"primaryKey"`
	OrderID     string             `json:"orderId" gorm:"index;not null"`
	SubmittedBy string             `json:"submittedBy"`
	Status      VerificationStatus `json:"status" gorm:"index;not null"`
	Proof       string             `json:"proof"`
	Notes       string             `json:"notes,omitempty"`
	VerifiedBy  string             `json:"verifiedBy,omitempty"`
	VerifiedAt  *time.Time         `json:"verifiedAt,omitempty"`
	CreatedAt   time.Time          `json:"createdAt" gorm:"autoCreateTime:false"`
}

func (Verification) TableName() string { return "payment_verifications" }
