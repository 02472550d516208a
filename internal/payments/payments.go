// Package payments validates the fiat payment methods a seller can attach to
// an order and the proof references a buyer submits against them.
package payments

import (
	"fmt"
	"strings"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/models"
)

const MaxProofLength = 512

// Validate checks that method carries the details its variant needs.
func Validate(method models.PaymentMethod) error {
	if strings.TrimSpace(method.ID) == "" {
		return fmt.Errorf("%w: payment method id is required", apperr.ErrInvalidOrder)
	}
	d := method.Details
	switch method.Type {
	case models.PaymentBank:
		if blank(d.AccountNumber) || blank(d.AccountName) || blank(d.BankName) {
			return fmt.Errorf("%w: bank transfer needs account number, account name and bank name", apperr.ErrInvalidOrder)
		}
	case models.PaymentGCash, models.PaymentMaya, models.PaymentCoinsPH:
		if blank(d.WalletAddress) {
			return fmt.Errorf("%w: %s needs a wallet address", apperr.ErrInvalidOrder, method.Type)
		}
	default:
		return fmt.Errorf("%w: unsupported payment method type %q", apperr.ErrInvalidOrder, method.Type)
	}
	return nil
}

// NormalizeProof trims a proof reference and enforces its length bounds.
func NormalizeProof(proof string) (string, error) {
	proof = strings.TrimSpace(proof)
	if proof == "" {
		return "", fmt.Errorf("%w: proof reference is required", apperr.ErrInvalidProof)
	}
	if len(proof) > MaxProofLength {
		return "", fmt.Errorf("%w: proof reference exceeds %d bytes", apperr.ErrInvalidProof, MaxProofLength)
	}
	return proof, nil
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}
