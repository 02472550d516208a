package pricing

import (
	"errors"

	"github.com/shopspring/decimal"

	"P2PEscrow/internal/models"
)

const unitPricePlaces = 8

type Service struct {
	Currency string
}

type Quote struct {
	OrderID   string          `json:"order_id"`
	Amount    decimal.Decimal `json:"amount"`
	Total     decimal.Decimal `json:"total"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Currency  string          `json:"currency"`
}

// Quote derives the fiat price per token for an order.
func (s Service) Quote(order *models.Order) (Quote, error) {
	if order == nil || !order.Amount.IsPositive() {
		return Quote{}, errors.New("order amount must be positive")
	}
	currency := s.Currency
	if currency == "" {
		currency = "PHP"
	}
	return Quote{
		OrderID:   order.ID,
		Amount:    order.Amount,
		Total:     order.Price,
		UnitPrice: order.Price.DivRound(order.Amount, unitPricePlaces),
		Currency:  currency,
	}, nil
}
