package app

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"P2PEscrow/internal/config"
	"P2PEscrow/internal/custody"
)

const sqliteConfig = `
server:
  addr: ":0"
db:
  driver: sqlite
  dsn: "file:app_build_test?mode=memory&cache=shared"
escrow:
  tiers:
    - name: "small"
      max_amount: "10"
      timeout_hours: 1
    - name: "rest"
      timeout_hours: 2
rate_limit:
  per_hour: 2
  per_day: 3
  cooldown_minutes: 1
`

func TestBuildFromConfig(t *testing.T) {
	cfg, err := config.Parse([]byte(sqliteConfig))
	require.NoError(t, err)

	a, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, a.Close()) })

	require.Equal(t, "sqlite", a.DB.Driver)
	require.Equal(t, "PHP", a.Pricing.Currency)
	_, ok := a.Catalogue.Get("gcash")
	require.True(t, ok)

	require.Equal(t, "small", a.Services.Escrow.Tier(decimal.NewFromInt(10)).Name)
	require.Equal(t, "rest", a.Services.Escrow.Tier(decimal.NewFromInt(11)).Name)
}

func TestServiceOptions(t *testing.T) {
	cfg, err := config.Parse([]byte(sqliteConfig))
	require.NoError(t, err)

	opts, err := ServiceOptions(cfg)
	require.NoError(t, err)
	require.Len(t, opts.Tiers, 2)
	require.True(t, opts.Tiers[1].Open)
	require.Equal(t, time.Hour, opts.Tiers[0].Timeout)
	require.Equal(t, time.Minute, opts.RateLimit.Cooldown)
	require.Equal(t, 2, opts.RateLimit.PerHour)
	require.Equal(t, 24*time.Hour, opts.Limits.OrderTTL)
}

func TestCustodian(t *testing.T) {
	cfg, err := config.Parse([]byte(sqliteConfig))
	require.NoError(t, err)

	c, err := Custodian(cfg)
	require.NoError(t, err)
	require.IsType(t, custody.Local{}, c)

	cfg.Custody.Mode = "rpc"
	cfg.Custody.Endpoints = []string{"http://custody-a:9000", "http://custody-b:9000"}
	c, err = Custodian(cfg)
	require.NoError(t, err)
	multi, ok := c.(*custody.MultiClient)
	require.True(t, ok)
	require.Equal(t, "http://custody-a:9000", multi.BaseURL())

	cfg.Custody.Mode = "vault"
	_, err = Custodian(cfg)
	require.Error(t, err)
}
