package services

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tier maps an order size bucket to its escrow timeout. Max is inclusive and
// ignored when Open is set.
type Tier struct {
	Name    string
	Max     decimal.Decimal
	Open    bool
	Timeout time.Duration
}

func DefaultTiers() []Tier {
	return []Tier{
		{Name: "small", Max: decimal.NewFromInt(100), Timeout: 12 * time.Hour},
		{Name: "medium", Max: decimal.NewFromInt(1000), Timeout: 24 * time.Hour},
		{Name: "large", Max: decimal.NewFromInt(5000), Timeout: 48 * time.Hour},
		{Name: "xlarge", Open: true, Timeout: 72 * time.Hour},
	}
}

// TierFor returns the first tier whose ceiling covers amount. tiers must be
// ascending; the last tier catches everything above.
func TierFor(tiers []Tier, amount decimal.Decimal) Tier {
	for _, t := range tiers {
		if t.Open || amount.LessThanOrEqual(t.Max) {
			return t
		}
	}
	return tiers[len(tiers)-1]
}
