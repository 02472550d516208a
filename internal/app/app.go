// Package app wires configuration into the running service graph shared by
// the api and worker binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"P2PEscrow/internal/config"
	"P2PEscrow/internal/custody"
	"P2PEscrow/internal/db"
	"P2PEscrow/internal/events"
	"P2PEscrow/internal/metrics"
	"P2PEscrow/internal/payments"
	"P2PEscrow/internal/pricing"
	"P2PEscrow/internal/services"
)

type App struct {
	DB        *db.Handle
	Services  *services.Services
	Broker    *events.Broker
	Metrics   *metrics.Metrics
	Catalogue *payments.Catalogue
	Pricing   pricing.Service
}

// Build opens the store and constructs the services from cfg.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	opts, err := ServiceOptions(cfg)
	if err != nil {
		return nil, err
	}
	custodian, err := Custodian(cfg)
	if err != nil {
		return nil, err
	}
	methods := cfg.PaymentMethods
	if len(methods) == 0 {
		methods = payments.DefaultMethods()
	}
	catalogue, err := payments.NewCatalogue(methods)
	if err != nil {
		return nil, err
	}

	handle, err := db.Open(ctx, cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		return nil, err
	}

	broker := events.NewBroker(256)
	m := metrics.New()
	opts.Store = handle.Store
	opts.Custodian = custodian
	opts.Emitter = broker
	opts.Metrics = m
	opts.Logger = logger

	svc, err := services.New(opts)
	if err != nil {
		_ = handle.Close()
		return nil, err
	}
	return &App{
		DB:        handle,
		Services:  svc,
		Broker:    broker,
		Metrics:   m,
		Catalogue: catalogue,
		Pricing:   pricing.Service{Currency: cfg.Orders.Currency},
	}, nil
}

// Close stops pending expiry timers and releases the store.
func (a *App) Close() error {
	a.Services.Escrow.Close()
	a.Broker.Close()
	return a.DB.Close()
}

// ServiceOptions maps the order, escrow and rate limit sections onto
// services.Options. Collaborators are left for the caller.
func ServiceOptions(cfg *config.Config) (services.Options, error) {
	minAmt, err := cfg.MinAmount()
	if err != nil {
		return services.Options{}, err
	}
	maxAmt, err := cfg.MaxAmount()
	if err != nil {
		return services.Options{}, err
	}
	bounds, err := cfg.TierBounds()
	if err != nil {
		return services.Options{}, err
	}
	tiers := make([]services.Tier, 0, len(bounds))
	for _, b := range bounds {
		tiers = append(tiers, services.Tier{Name: b.Name, Max: b.Max, Open: b.Open, Timeout: b.Timeout})
	}
	return services.Options{
		Limits: services.Limits{MinAmount: minAmt, MaxAmount: maxAmt, OrderTTL: cfg.OrderTTL()},
		Tiers:  tiers,
		RateLimit: services.RateLimitPolicy{
			PerHour:  cfg.RateLimit.PerHour,
			PerDay:   cfg.RateLimit.PerDay,
			Cooldown: time.Duration(cfg.RateLimit.CooldownMinutes) * time.Minute,
		},
	}, nil
}

func Custodian(cfg *config.Config) (custody.Custodian, error) {
	switch cfg.Custody.Mode {
	case "", "local":
		return custody.Local{}, nil
	case "rpc":
		return custody.NewMultiClient(cfg.Custody.Endpoints, cfg.Custody.FailoverThreshold, cfg.CustodyTimeout())
	default:
		return nil, fmt.Errorf("unsupported custody mode %q", cfg.Custody.Mode)
	}
}
