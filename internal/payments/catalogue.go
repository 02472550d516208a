package payments

import (
	"fmt"

	"P2PEscrow/internal/models"
)

// Catalogue is the set of payment methods advertised to sellers.
type Catalogue struct {
	methods []models.PaymentMethod
	byID    map[string]int
}

// NewCatalogue validates every method and rejects duplicate ids.
func NewCatalogue(methods []models.PaymentMethod) (*Catalogue, error) {
	c := &Catalogue{byID: make(map[string]int, len(methods))}
	for _, m := range methods {
		if err := Validate(m); err != nil {
			return nil, fmt.Errorf("payment method %q: %w", m.ID, err)
		}
		if _, dup := c.byID[m.ID]; dup {
			return nil, fmt.Errorf("payment method %q listed twice", m.ID)
		}
		c.byID[m.ID] = len(c.methods)
		c.methods = append(c.methods, m)
	}
	return c, nil
}

func (c *Catalogue) List() []models.PaymentMethod {
	out := make([]models.PaymentMethod, len(c.methods))
	copy(out, c.methods)
	return out
}

func (c *Catalogue) Get(id string) (models.PaymentMethod, bool) {
	i, ok := c.byID[id]
	if !ok {
		return models.PaymentMethod{}, false
	}
	return c.methods[i], true
}

func DefaultMethods() []models.PaymentMethod {
	return []models.PaymentMethod{
		{
			ID:      "gcash",
			Name:    "GCash",
			Type:    models.PaymentGCash,
			Details: models.PaymentDetails{WalletAddress: "09123456789"},
		},
		{
			ID:      "maya",
			Name:    "Maya",
			Type:    models.PaymentMaya,
			Details: models.PaymentDetails{WalletAddress: "09123456789"},
		},
		{
			ID:   "bpi",
			Name: "BPI",
			Type: models.PaymentBank,
			Details: models.PaymentDetails{
				AccountNumber: "1234567890",
				AccountName:   "Waste2Earn",
				BankName:      "Bank of the Philippine Islands",
			},
		},
	}
}
