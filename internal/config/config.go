// Package config defines all configuration for the triangular-arbitrage
// engine. Config is loaded from a YAML file (default: configs/config.yaml)
// with sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure described in spec.md §6.
type Config struct {
	SendOrders bool           `mapstructure:"send_orders"`
	Exchange   ExchangeConfig `mapstructure:"exchange"`
	Chains     ChainsConfig   `mapstructure:"chains"`
	Depth      DepthConfig    `mapstructure:"depth"`
	Volume     VolumeConfig   `mapstructure:"volume"`
	Fees       FeesConfig     `mapstructure:"fees"`
	Profit     ProfitConfig   `mapstructure:"profit"`
	Eval       EvalConfig     `mapstructure:"eval"`
	Dispatch   DispatchConfig `mapstructure:"dispatch"`
	Logging    LoggingConfig  `mapstructure:"logging"`
	Metrics    MetricsConfig  `mapstructure:"metrics"`
}

// ExchangeConfig holds REST/WS endpoints and optional credentials for the
// exchange rules provider, depth stream, and order sender.
type ExchangeConfig struct {
	RulesBaseURL string `mapstructure:"rules_base_url"`
	WSDepthURL   string `mapstructure:"ws_depth_url"`
	OrdersURL    string `mapstructure:"orders_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
}

// ChainsConfig controls C1/C2: which symbols are eligible and which assets
// may start a cycle.
type ChainsConfig struct {
	BaseAssets      []string `mapstructure:"base_assets"`
	SymbolAllowlist []string `mapstructure:"symbol_allowlist"`
	SymbolDenylist  []string `mapstructure:"symbol_denylist"`
}

// DepthConfig controls C3/C4 order-book depth handling.
type DepthConfig struct {
	Levels int `mapstructure:"depth_levels"` // N_DEPTH, default 20
}

// VolumeConfig maps a base asset to its per-cycle [v_min, v_max] band.
type VolumeConfig struct {
	Min map[string]decimal.Decimal `mapstructure:"volume_limit_min"`
	Max map[string]decimal.Decimal `mapstructure:"volume_limit_max"`
}

// FeesConfig is the per-leg taker fee rate, default 0.00075 (spec.md §6).
type FeesConfig struct {
	Rate decimal.Decimal `mapstructure:"fee_rate"`
}

// ProfitConfig is the gating threshold pair from spec.md §4.5.4.
type ProfitConfig struct {
	MinAbs decimal.Decimal `mapstructure:"min_profit_abs"`
	MinRel decimal.Decimal `mapstructure:"min_profit_rel"`
}

// EvalConfig tunes the chain evaluator's soft deadline and staleness gate.
type EvalConfig struct {
	BudgetUS int64 `mapstructure:"eval_budget_us"`
	MaxAgeMs int64 `mapstructure:"max_age_ms"`
}

// DispatchConfig tunes C6's cool-down, dedup, and channel capacity.
type DispatchConfig struct {
	CoolDownMs      int64   `mapstructure:"cool_down_ms"`
	ChannelCapacity int     `mapstructure:"channel_capacity"`
	DedupWindowMs   int64   `mapstructure:"dedup_window_ms"`
	MaxAgeMs        int64   `mapstructure:"max_age_ms"`         // discard an opportunity older than this, or whose book has moved on, before dispatch (spec.md §4.5.5/§4.6)
	OrderRateBurst  float64 `mapstructure:"order_rate_burst"`   // token-bucket capacity for live order submission
	OrderRatePerSec float64 `mapstructure:"order_rate_per_sec"` // token-bucket refill rate
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the pull endpoint that exposes the observability
// surface from spec.md §6.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// ShutdownGrace is how long Stop() waits for goroutines to drain in-flight
// work before the runtime aborts (spec.md §5). Not exchange-specific, so it
// has no YAML key of its own beyond this constant — matches the teacher's
// habit of hard-coding a few lifecycle constants (e.g. pingInterval) rather
// than exposing every knob.
const ShutdownGrace = 5 * time.Second

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.Exchange.APIKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.Exchange.APISecret = secret
	}
	if os.Getenv("ARB_SEND_ORDERS") == "true" || os.Getenv("ARB_SEND_ORDERS") == "1" {
		cfg.SendOrders = true
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("depth.depth_levels", 20)
	v.SetDefault("fees.fee_rate", "0.00075")
	v.SetDefault("eval.eval_budget_us", 500)
	v.SetDefault("eval.max_age_ms", 250)
	v.SetDefault("dispatch.cool_down_ms", 250)
	v.SetDefault("dispatch.channel_capacity", 64)
	v.SetDefault("dispatch.dedup_window_ms", 1000)
	v.SetDefault("dispatch.max_age_ms", 250)
	v.SetDefault("dispatch.order_rate_burst", 50)
	v.SetDefault("dispatch.order_rate_per_sec", 10)
	v.SetDefault("metrics.port", 9090)
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Exchange.RulesBaseURL == "" {
		return fmt.Errorf("exchange.rules_base_url is required")
	}
	if c.Exchange.WSDepthURL == "" {
		return fmt.Errorf("exchange.ws_depth_url is required")
	}
	if len(c.Chains.BaseAssets) == 0 {
		return fmt.Errorf("chains.base_assets must not be empty")
	}
	if c.Depth.Levels <= 0 {
		return fmt.Errorf("depth.depth_levels must be > 0")
	}
	if c.Fees.Rate.IsNegative() {
		return fmt.Errorf("fees.fee_rate must be >= 0")
	}
	if c.Profit.MinAbs.IsNegative() {
		return fmt.Errorf("profit.min_profit_abs must be >= 0")
	}
	if c.Profit.MinRel.IsNegative() {
		return fmt.Errorf("profit.min_profit_rel must be >= 0")
	}
	if c.Eval.BudgetUS <= 0 {
		return fmt.Errorf("eval.eval_budget_us must be > 0")
	}
	if c.Dispatch.CoolDownMs < 0 {
		return fmt.Errorf("dispatch.cool_down_ms must be >= 0")
	}
	if c.Dispatch.ChannelCapacity <= 0 {
		return fmt.Errorf("dispatch.channel_capacity must be > 0")
	}
	if c.Dispatch.MaxAgeMs < 0 {
		return fmt.Errorf("dispatch.max_age_ms must be >= 0")
	}
	for asset, min := range c.Volume.Min {
		max, ok := c.Volume.Max[asset]
		if !ok {
			return fmt.Errorf("volume.volume_limit_max missing entry for base asset %q", asset)
		}
		if min.IsNegative() || max.LessThan(min) {
			return fmt.Errorf("volume band for %q invalid: min=%s max=%s", asset, min, max)
		}
	}
	return nil
}
