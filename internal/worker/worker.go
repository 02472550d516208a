// Package worker runs the periodic escrow expiry sweep.
package worker

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper expires escrows whose payment window has elapsed.
type Sweeper interface {
	ExpireDue(ctx context.Context) (int, error)
}

type Worker struct {
	Escrow   Sweeper
	Interval time.Duration
	Logger   *slog.Logger
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	interval := w.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger().Info("expiry sweep started", "interval", interval.String())
	for {
		if _, err := w.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			w.logger().Error("expiry sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger().Info("expiry sweep stopped")
			return
		case <-ticker.C:
		}
	}
}

func (w *Worker) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	expired, err := w.Escrow.ExpireDue(ctx)
	if expired > 0 {
		w.logger().Info("expired escrows", "count", expired, "took", time.Since(start).String())
	} else {
		w.logger().Debug("expiry sweep idle", "took", time.Since(start).String())
	}
	return expired, err
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
