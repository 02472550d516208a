package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"P2PEscrow/internal/models"
)

const minimal = `
server:
  addr: ":9000"
db:
  driver: sqlite
  dsn: "file:p2p.db"
`

func TestParseAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)

	require.Equal(t, 24*time.Hour, cfg.OrderTTL())
	require.Equal(t, 30*time.Second, cfg.SweepInterval())
	require.False(t, cfg.Worker.InProcess)
	require.Equal(t, 5, cfg.RateLimit.PerHour)
	require.Equal(t, 20, cfg.RateLimit.PerDay)
	require.Equal(t, 5, cfg.RateLimit.CooldownMinutes)
	require.Equal(t, "local", cfg.Custody.Mode)

	minAmt, err := cfg.MinAmount()
	require.NoError(t, err)
	require.Equal(t, "1", minAmt.String())
	maxAmt, err := cfg.MaxAmount()
	require.NoError(t, err)
	require.Equal(t, "50000", maxAmt.String())

	tiers, err := cfg.TierBounds()
	require.NoError(t, err)
	require.Len(t, tiers, 4)
	require.Equal(t, "small", tiers[0].Name)
	require.Equal(t, 12*time.Hour, tiers[0].Timeout)
	require.Equal(t, "5000", tiers[2].Max.String())
	require.True(t, tiers[3].Open)
	require.Equal(t, 72*time.Hour, tiers[3].Timeout)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7000")
	t.Setenv("ORDER_TTL_MINUTES", "60")
	t.Setenv("RATE_LIMIT_PER_HOUR", "not-a-number")
	t.Setenv("CUSTODY_MODE", "rpc")
	t.Setenv("CUSTODY_ENDPOINTS", "http://a:1, ,http://b:2")

	cfg, err := Parse([]byte(minimal))
	require.NoError(t, err)
	require.Equal(t, ":7000", cfg.Server.Addr)
	require.Equal(t, time.Hour, cfg.OrderTTL())
	require.Equal(t, 5, cfg.RateLimit.PerHour, "unparseable override keeps the default")
	require.Equal(t, []string{"http://a:1", "http://b:2"}, cfg.Custody.Endpoints)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing_addr", yaml: "db:\n  dsn: x\n"},
		{name: "missing_dsn", yaml: "server:\n  addr: ':1'\n"},
		{name: "unknown_driver", yaml: "server:\n  addr: ':1'\ndb:\n  driver: mysql\n  dsn: x\n"},
		{name: "min_above_max", yaml: minimal + "orders:\n  min_amount: '10'\n  max_amount: '5'\n"},
		{name: "rpc_without_endpoints", yaml: minimal + "custody:\n  mode: rpc\n"},
		{name: "tiers_descending", yaml: minimal + `escrow:
  tiers:
    - {name: a, max_amount: "100", timeout_hours: 1}
    - {name: b, max_amount: "50", timeout_hours: 2}
    - {name: c, timeout_hours: 3}
`},
		{name: "last_tier_bounded", yaml: minimal + `escrow:
  tiers:
    - {name: a, max_amount: "100", timeout_hours: 1}
`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "config.yaml"))
	require.NoError(t, err)
	require.Equal(t, "postgres", cfg.DB.Driver)
	require.True(t, cfg.Worker.InProcess)
	require.Len(t, cfg.PaymentMethods, 3)
	require.Equal(t, models.PaymentBank, cfg.PaymentMethods[2].Type)
	require.Equal(t, "Bank of the Philippine Islands", cfg.PaymentMethods[2].Details.BankName)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}
