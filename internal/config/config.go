package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"P2PEscrow/internal/models"
)

type Tier struct {
	Name string `yaml:"name"`
	// MaxAmount is inclusive; empty on the last tier.
	MaxAmount    string `yaml:"max_amount"`
	TimeoutHours int    `yaml:"timeout_hours"`
}

type Config struct {
	Server struct {
		Addr              string  `yaml:"addr"`
		RequestsPerMinute float64 `yaml:"requests_per_minute"`
		Burst             int     `yaml:"burst"`
	} `yaml:"server"`
	DB struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"db"`
	Orders struct {
		MinAmount  string `yaml:"min_amount"`
		MaxAmount  string `yaml:"max_amount"`
		TTLMinutes int    `yaml:"ttl_minutes"`
		Currency   string `yaml:"currency"`
	} `yaml:"orders"`
	Escrow struct {
		Tiers []Tier `yaml:"tiers"`
	} `yaml:"escrow"`
	RateLimit struct {
		PerHour         int `yaml:"per_hour"`
		PerDay          int `yaml:"per_day"`
		CooldownMinutes int `yaml:"cooldown_minutes"`
	} `yaml:"rate_limit"`
	Worker struct {
		SweepIntervalSeconds int64 `yaml:"sweep_interval_seconds"`
		// InProcess runs the sweep inside the API process as well.
		InProcess bool `yaml:"in_process"`
	} `yaml:"worker"`
	Custody struct {
		Mode              string   `yaml:"mode"`
		Endpoints         []string `yaml:"endpoints"`
		FailoverThreshold int      `yaml:"failover_threshold"`
		TimeoutSeconds    int      `yaml:"timeout_seconds"`
	} `yaml:"custody"`
	Log struct {
		Service    string `yaml:"service"`
		Env        string `yaml:"env"`
		Level      string `yaml:"level"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
	} `yaml:"log"`
	PaymentMethods []models.PaymentMethod `yaml:"payment_methods"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, applies environment overrides and defaults, then validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if c.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	switch c.DB.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("db.driver %q is not supported", c.DB.Driver)
	}
	minAmt, err := c.MinAmount()
	if err != nil {
		return err
	}
	maxAmt, err := c.MaxAmount()
	if err != nil {
		return err
	}
	if !minAmt.IsPositive() || minAmt.GreaterThan(maxAmt) {
		return errors.New("orders.min_amount must be positive and not above orders.max_amount")
	}
	if _, err := c.TierBounds(); err != nil {
		return err
	}
	switch c.Custody.Mode {
	case "local":
	case "rpc":
		if len(c.Custody.Endpoints) == 0 {
			return errors.New("custody.endpoints is required in rpc mode")
		}
	default:
		return fmt.Errorf("custody.mode %q is not supported", c.Custody.Mode)
	}
	return nil
}

func (c *Config) MinAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Orders.MinAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("orders.min_amount: %w", err)
	}
	return d, nil
}

func (c *Config) MaxAmount() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(c.Orders.MaxAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("orders.max_amount: %w", err)
	}
	return d, nil
}

func (c *Config) OrderTTL() time.Duration {
	return time.Duration(c.Orders.TTLMinutes) * time.Minute
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Worker.SweepIntervalSeconds) * time.Second
}

func (c *Config) CustodyTimeout() time.Duration {
	return time.Duration(c.Custody.TimeoutSeconds) * time.Second
}

// TierBound is a parsed escrow tier. Open marks the last tier, which has no ceiling.
type TierBound struct {
	Name    string
	Max     decimal.Decimal
	Open    bool
	Timeout time.Duration
}

// TierBounds parses the escrow tiers and checks they ascend, ending in one
// open-ended tier.
func (c *Config) TierBounds() ([]TierBound, error) {
	if len(c.Escrow.Tiers) == 0 {
		return nil, errors.New("escrow.tiers is empty")
	}
	out := make([]TierBound, 0, len(c.Escrow.Tiers))
	for i, t := range c.Escrow.Tiers {
		if t.Name == "" || t.TimeoutHours <= 0 {
			return nil, fmt.Errorf("escrow.tiers[%d] needs a name and a positive timeout", i)
		}
		tb := TierBound{Name: t.Name, Timeout: time.Duration(t.TimeoutHours) * time.Hour}
		last := i == len(c.Escrow.Tiers)-1
		if strings.TrimSpace(t.MaxAmount) == "" {
			if !last {
				return nil, fmt.Errorf("escrow.tiers[%d] has no max_amount but is not the last tier", i)
			}
			tb.Open = true
		} else {
			if last {
				return nil, errors.New("the last escrow tier must not set max_amount")
			}
			ceiling, err := decimal.NewFromString(t.MaxAmount)
			if err != nil {
				return nil, fmt.Errorf("escrow.tiers[%d].max_amount: %w", i, err)
			}
			if !ceiling.IsPositive() || (i > 0 && !ceiling.GreaterThan(out[i-1].Max)) {
				return nil, fmt.Errorf("escrow.tiers[%d].max_amount must be positive and ascending", i)
			}
			tb.Max = ceiling
		}
		out = append(out, tb)
	}
	return out, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Server.RequestsPerMinute <= 0 {
		cfg.Server.RequestsPerMinute = 120
	}
	if cfg.Server.Burst <= 0 {
		cfg.Server.Burst = 20
	}
	if cfg.DB.Driver == "" {
		cfg.DB.Driver = "postgres"
	}
	if cfg.Orders.MinAmount == "" {
		cfg.Orders.MinAmount = "1"
	}
	if cfg.Orders.MaxAmount == "" {
		cfg.Orders.MaxAmount = "50000"
	}
	if cfg.Orders.TTLMinutes <= 0 {
		cfg.Orders.TTLMinutes = 24 * 60
	}
	if cfg.Orders.Currency == "" {
		cfg.Orders.Currency = "PHP"
	}
	if len(cfg.Escrow.Tiers) == 0 {
		cfg.Escrow.Tiers = []Tier{
			{Name: "small", MaxAmount: "100", TimeoutHours: 12},
			{Name: "medium", MaxAmount: "1000", TimeoutHours: 24},
			{Name: "large", MaxAmount: "5000", TimeoutHours: 48},
			{Name: "xlarge", TimeoutHours: 72},
		}
	}
	if cfg.RateLimit.PerHour <= 0 {
		cfg.RateLimit.PerHour = 5
	}
	if cfg.RateLimit.PerDay <= 0 {
		cfg.RateLimit.PerDay = 20
	}
	if cfg.RateLimit.CooldownMinutes <= 0 {
		cfg.RateLimit.CooldownMinutes = 5
	}
	if cfg.Worker.SweepIntervalSeconds <= 0 {
		cfg.Worker.SweepIntervalSeconds = 30
	}
	if cfg.Custody.Mode == "" {
		cfg.Custody.Mode = "local"
	}
	if cfg.Custody.FailoverThreshold <= 0 {
		cfg.Custody.FailoverThreshold = 3
	}
	if cfg.Custody.TimeoutSeconds <= 0 {
		cfg.Custody.TimeoutSeconds = 10
	}
	if cfg.Log.Service == "" {
		cfg.Log.Service = "p2p-escrow"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = 100
	}
	if cfg.Log.MaxBackups <= 0 {
		cfg.Log.MaxBackups = 5
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("SERVER_REQUESTS_PER_MINUTE"); v != "" {
		cfg.Server.RequestsPerMinute = atofOr(cfg.Server.RequestsPerMinute, v)
	}
	if v := os.Getenv("SERVER_BURST"); v != "" {
		cfg.Server.Burst = atoiOr(cfg.Server.Burst, v)
	}
	if v := os.Getenv("DB_DRIVER"); v != "" {
		cfg.DB.Driver = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("ORDER_MIN_AMOUNT"); v != "" {
		cfg.Orders.MinAmount = v
	}
	if v := os.Getenv("ORDER_MAX_AMOUNT"); v != "" {
		cfg.Orders.MaxAmount = v
	}
	if v := os.Getenv("ORDER_TTL_MINUTES"); v != "" {
		cfg.Orders.TTLMinutes = atoiOr(cfg.Orders.TTLMinutes, v)
	}
	if v := os.Getenv("ORDER_CURRENCY"); v != "" {
		cfg.Orders.Currency = v
	}
	if v := os.Getenv("RATE_LIMIT_PER_HOUR"); v != "" {
		cfg.RateLimit.PerHour = atoiOr(cfg.RateLimit.PerHour, v)
	}
	if v := os.Getenv("RATE_LIMIT_PER_DAY"); v != "" {
		cfg.RateLimit.PerDay = atoiOr(cfg.RateLimit.PerDay, v)
	}
	if v := os.Getenv("RATE_LIMIT_COOLDOWN_MINUTES"); v != "" {
		cfg.RateLimit.CooldownMinutes = atoiOr(cfg.RateLimit.CooldownMinutes, v)
	}
	if v := os.Getenv("SWEEP_INTERVAL_SECONDS"); v != "" {
		cfg.Worker.SweepIntervalSeconds = atoi64Or(cfg.Worker.SweepIntervalSeconds, v)
	}
	if v := os.Getenv("SWEEP_IN_PROCESS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Worker.InProcess = b
		}
	}
	if v := os.Getenv("CUSTODY_MODE"); v != "" {
		cfg.Custody.Mode = v
	}
	if v := os.Getenv("CUSTODY_ENDPOINTS"); v != "" {
		cfg.Custody.Endpoints = splitCommaList(v)
	}
	if v := os.Getenv("CUSTODY_FAILOVER_THRESHOLD"); v != "" {
		cfg.Custody.FailoverThreshold = atoiOr(cfg.Custody.FailoverThreshold, v)
	}
	if v := os.Getenv("CUSTODY_TIMEOUT_SECONDS"); v != "" {
		cfg.Custody.TimeoutSeconds = atoiOr(cfg.Custody.TimeoutSeconds, v)
	}
	if v := os.Getenv("LOG_ENV"); v != "" {
		cfg.Log.Env = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}

func atofOr(fallback float64, v string) float64 {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
