// Package config loads the engine configuration from a YAML file with
// optional .env and environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Settlement process names recognized by the balancing engine.
const (
	SettlementSimple = "simple"
	SettlementStatic = "static"
)

// Config is the complete engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auction   AuctionConfig   `yaml:"auction"`
	Balancing BalancingConfig `yaml:"balancing"`
	Sim       SimConfig       `yaml:"sim"`
	Storage   StorageConfig   `yaml:"storage"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Port string `yaml:"port"`
}

// AuctionConfig holds the price-formation and validation parameters of the
// clearing engine.
type AuctionConfig struct {
	// DefaultMargin is applied when only one side of the last matched pair
	// carried a limit price.
	DefaultMargin float64 `yaml:"default_margin"`
	// DefaultClearingPrice is used when neither side carried a limit price.
	DefaultClearingPrice float64 `yaml:"default_clearing_price"`
	// SellerSurplusRatio splits the bid/ask spread, 0..1.
	SellerSurplusRatio float64 `yaml:"seller_surplus_ratio"`
	// SellerMaxMargin caps the seller's markup over the ask price.
	SellerMaxMargin float64 `yaml:"seller_max_margin"`
	// MktPosnLimitInitial is the position limit at maximum lead time.
	MktPosnLimitInitial float64 `yaml:"mkt_posn_limit_initial"`
	// MktPosnLimitFinal is the position limit at zero lead time.
	MktPosnLimitFinal float64 `yaml:"mkt_posn_limit_final"`
	// MinimumOrderQuantity is the validation floor on |quantity|, in MWh.
	MinimumOrderQuantity float64 `yaml:"minimum_order_quantity"`
}

// BalancingConfig holds the settlement-engine parameters. Per-kWh prices
// carry broker cash-flow sign (negative = broker pays).
type BalancingConfig struct {
	// SettlementProcess selects the strategy: "simple" (proportional QP)
	// or "static" (VCG balancing-order exercise).
	SettlementProcess string `yaml:"settlement_process"`
	// BalancingCostMin/Max bound the random draw for the flat per-kWh cost
	// of sourcing the net imbalance from the regulating market.
	BalancingCostMin float64 `yaml:"balancing_cost_min"`
	BalancingCostMax float64 `yaml:"balancing_cost_max"`
	// DefaultSpotPrice is the per-MWh fallback when no order book exists
	// for a settled timeslot.
	DefaultSpotPrice float64 `yaml:"default_spot_price"`
	// PPlusPrime and PMinusPrime are reserved slope parameters for
	// quantity-dependent regulating prices; the current strategies use
	// flat prices and ignore them.
	PPlusPrime  float64 `yaml:"p_plus_prime"`
	PMinusPrime float64 `yaml:"p_minus_prime"`
}

// SimConfig controls the timeslot clock and the cycle driver.
type SimConfig struct {
	// StartTimeslot is the serial number of the first traded timeslot.
	StartTimeslot int64 `yaml:"start_timeslot"`
	// EnabledTimeslots is the number of future timeslots open for trading.
	EnabledTimeslots int `yaml:"enabled_timeslots"`
	// TimeslotSeconds is the wall-clock duration of one simulated timeslot.
	TimeslotSeconds int `yaml:"timeslot_seconds"`
}

// StorageConfig selects the persistence backend. Empty DatabaseURL falls
// back to the in-memory store.
type StorageConfig struct {
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	CacheTTL    int    `yaml:"cache_ttl_seconds"`
}

// LogConfig controls log output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config at path, overlays .env (if present) and
// environment variables, and fills defaults. An empty path yields a
// default configuration with env overrides only.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// TimeslotDuration returns the wall-clock length of one timeslot.
func (c *Config) TimeslotDuration() time.Duration {
	return time.Duration(c.Sim.TimeslotSeconds) * time.Second
}

// CacheTTL returns the Redis cache TTL.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Storage.CacheTTL) * time.Second
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Storage.RedisURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SETTLEMENT_PROCESS"); v != "" {
		cfg.Balancing.SettlementProcess = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == "" {
		cfg.Server.Port = "8080"
	}

	a := &cfg.Auction
	if a.DefaultMargin == 0 {
		a.DefaultMargin = 0.05
	}
	if a.DefaultClearingPrice == 0 {
		a.DefaultClearingPrice = 40.0
	}
	if a.SellerSurplusRatio == 0 {
		a.SellerSurplusRatio = 0.5
	}
	if a.SellerMaxMargin == 0 {
		a.SellerMaxMargin = 0.05
	}
	if a.MktPosnLimitInitial == 0 {
		a.MktPosnLimitInitial = 1000.0
	}
	if a.MktPosnLimitFinal == 0 {
		a.MktPosnLimitFinal = 200.0
	}
	if a.MinimumOrderQuantity == 0 {
		a.MinimumOrderQuantity = 0.01
	}

	b := &cfg.Balancing
	if b.SettlementProcess == "" {
		b.SettlementProcess = SettlementSimple
	}
	if b.BalancingCostMin == 0 {
		b.BalancingCostMin = -0.06
	}
	if b.BalancingCostMax == 0 {
		b.BalancingCostMax = -0.02
	}
	if b.DefaultSpotPrice == 0 {
		b.DefaultSpotPrice = 30.0
	}

	s := &cfg.Sim
	if s.StartTimeslot == 0 {
		s.StartTimeslot = 360
	}
	if s.EnabledTimeslots == 0 {
		s.EnabledTimeslots = 24
	}
	if s.TimeslotSeconds == 0 {
		s.TimeslotSeconds = 5
	}

	if cfg.Storage.CacheTTL == 0 {
		cfg.Storage.CacheTTL = 30
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func validate(cfg *Config) error {
	a := cfg.Auction
	if a.SellerSurplusRatio < 0 || a.SellerSurplusRatio > 1 {
		return fmt.Errorf("config: seller_surplus_ratio must be in [0,1], got %v", a.SellerSurplusRatio)
	}
	if a.MinimumOrderQuantity < 0 {
		return fmt.Errorf("config: minimum_order_quantity must be non-negative, got %v", a.MinimumOrderQuantity)
	}
	b := cfg.Balancing
	if b.BalancingCostMin > b.BalancingCostMax {
		return fmt.Errorf("config: balancing_cost_min %v exceeds balancing_cost_max %v",
			b.BalancingCostMin, b.BalancingCostMax)
	}
	if cfg.Sim.EnabledTimeslots < 1 {
		return fmt.Errorf("config: enabled_timeslots must be at least 1, got %d", cfg.Sim.EnabledTimeslots)
	}
	return nil
}
