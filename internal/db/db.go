// Package db opens the configured persistence backend.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"P2PEscrow/internal/store"
)

type Pool = pgxpool.Pool

func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Handle owns the store and whatever connection backs it.
type Handle struct {
	Store  store.Store
	Driver string
	close  func() error
}

func (h *Handle) Close() error {
	if h == nil || h.close == nil {
		return nil
	}
	return h.close()
}

// Open connects to driver ("postgres" or "sqlite") and returns the matching store.
func Open(ctx context.Context, driver, dsn string) (*Handle, error) {
	switch driver {
	case "postgres":
		pool, err := Connect(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		return &Handle{
			Store:  store.NewPostgres(pool),
			Driver: driver,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	case "sqlite":
		st, err := store.OpenSQLite(dsn)
		if err != nil {
			return nil, fmt.Errorf("sqlite open: %w", err)
		}
		return &Handle{Store: st, Driver: driver, close: st.Close}, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
}
