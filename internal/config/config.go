// Package config defines the top-level configuration for the replay engine
// and provides validation helpers.
package config

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by POLYSIM_* environment variables and
// CLI flags.
type Config struct {
	Tape     string         `toml:"tape"`
	OutDir   string         `toml:"out_dir"`
	RunID    string         `toml:"run_id"`
	LogLevel string         `toml:"log_level"`
	Run      RunConfig      `toml:"run"`
	Strategy StrategyConfig `toml:"strategy"`
}

// RunConfig holds the numeric run parameters. Cash and fee values are decimal
// strings so exact amounts survive the TOML round trip.
type RunConfig struct {
	AssetID            string   `toml:"asset_id"`
	ExtraBookAssetIDs  []string `toml:"extra_book_asset_ids"`
	StartingCash       string   `toml:"starting_cash"`
	FeeRateBps         string   `toml:"fee_rate_bps"`
	MarkMethod         string   `toml:"mark_method"`
	LatencyTicks       int64    `toml:"latency_ticks"`
	CancelLatencyTicks int64    `toml:"cancel_latency_ticks"`
	Strict             bool     `toml:"strict"`
	AllowDegraded      bool     `toml:"allow_degraded"`
}

// StrategyConfig selects the strategy and carries its flat parameter map.
// YesAssetID/NoAssetID are lifted out of Params because the dual-asset pair
// is also a run-level routing concern.
type StrategyConfig struct {
	Name       string         `toml:"name"`
	YesAssetID string         `toml:"yes_asset_id"`
	NoAssetID  string         `toml:"no_asset_id"`
	Params     map[string]any `toml:"params"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		OutDir:   "runs",
		LogLevel: "info",
		Run: RunConfig{
			StartingCash:       "1000",
			FeeRateBps:         "10",
			MarkMethod:         "bid",
			LatencyTicks:       0,
			CancelLatencyTicks: 0,
		},
		Strategy: StrategyConfig{
			Params: map[string]any{},
		},
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[c.LogLevel] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Tape == "" {
		errs = append(errs, "tape must not be empty")
	}
	if c.OutDir == "" {
		errs = append(errs, "out_dir must not be empty")
	}

	if cash, err := decimal.NewFromString(c.Run.StartingCash); err != nil {
		errs = append(errs, fmt.Sprintf("run: starting_cash %q is not a valid decimal", c.Run.StartingCash))
	} else if cash.IsNegative() {
		errs = append(errs, fmt.Sprintf("run: starting_cash must be non-negative, got %s", cash))
	}
	if fee, err := decimal.NewFromString(c.Run.FeeRateBps); err != nil {
		errs = append(errs, fmt.Sprintf("run: fee_rate_bps %q is not a valid decimal", c.Run.FeeRateBps))
	} else if fee.IsNegative() {
		errs = append(errs, fmt.Sprintf("run: fee_rate_bps must be non-negative, got %s", fee))
	}
	if _, err := domain.ParseMarkMethod(c.Run.MarkMethod); err != nil {
		errs = append(errs, "run: "+err.Error())
	}
	if c.Run.LatencyTicks < 0 {
		errs = append(errs, fmt.Sprintf("run: latency_ticks must be non-negative, got %d", c.Run.LatencyTicks))
	}
	if c.Run.CancelLatencyTicks < 0 {
		errs = append(errs, fmt.Sprintf("run: cancel_latency_ticks must be non-negative, got %d", c.Run.CancelLatencyTicks))
	}

	if c.Strategy.Name == "" {
		errs = append(errs, "strategy: name must not be empty")
	}

	if len(errs) > 0 {
		return &domain.ConfigError{Problems: errs}
	}
	return nil
}
