package services

import (
	"context"
	"time"

	"P2PEscrow/internal/apperr"
	"P2PEscrow/internal/models"
	"P2PEscrow/internal/store"
)

type RateLimitPolicy struct {
	PerHour  int
	PerDay   int
	Cooldown time.Duration
}

func DefaultRateLimit() RateLimitPolicy {
	return RateLimitPolicy{PerHour: 5, PerDay: 20, Cooldown: 5 * time.Minute}
}

// Check counts the lock requests recorded on the seller's orders. It is a
// pure function of the history so it can be recomputed after a restart.
func (p RateLimitPolicy) Check(history []time.Time, now time.Time) error {
	var (
		last       time.Time
		hourCount  int
		dayCount   int
		oldestHour time.Time
		oldestDay  time.Time
	)
	hourAgo := now.Add(-time.Hour)
	dayAgo := now.Add(-24 * time.Hour)
	for _, at := range history {
		if at.After(last) {
			last = at
		}
		if !at.After(dayAgo) {
			continue
		}
		dayCount++
		if oldestDay.IsZero() || at.Before(oldestDay) {
			oldestDay = at
		}
		if at.After(hourAgo) {
			hourCount++
			if oldestHour.IsZero() || at.Before(oldestHour) {
				oldestHour = at
			}
		}
	}

	if !last.IsZero() && p.Cooldown > 0 && now.Sub(last) < p.Cooldown {
		return &apperr.RateLimitError{Reason: "cooldown", RetryAfter: last.Add(p.Cooldown).Sub(now)}
	}
	if p.PerHour > 0 && hourCount >= p.PerHour {
		return &apperr.RateLimitError{Reason: "hourly limit", RetryAfter: oldestHour.Add(time.Hour).Sub(now)}
	}
	if p.PerDay > 0 && dayCount >= p.PerDay {
		return &apperr.RateLimitError{Reason: "daily limit", RetryAfter: oldestDay.Add(24 * time.Hour).Sub(now)}
	}
	return nil
}

func (c *EscrowCoordinator) checkRateLimit(ctx context.Context, sellerID string, now time.Time) error {
	since := now.Add(-24 * time.Hour)
	if c.rateLimit.Cooldown > 24*time.Hour {
		since = now.Add(-c.rateLimit.Cooldown)
	}
	orders, err := c.store.FindOrders(ctx, store.OrderFilter{SellerID: sellerID, LockRequestedSince: &since})
	if err != nil {
		return c.fail("find seller orders", err)
	}
	return c.rateLimit.Check(lockHistory(orders), now)
}

func lockHistory(orders []*models.Order) []time.Time {
	out := make([]time.Time, 0, len(orders))
	for _, o := range orders {
		if o.LockRequestedAt != nil {
			out = append(out, *o.LockRequestedAt)
		}
	}
	return out
}
