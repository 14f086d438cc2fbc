package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges an optional TOML configuration file on top of the built-in
// defaults and applies POLYSIM_* environment variable overrides. An empty
// path skips the file stage so a run can be driven entirely by flags and
// env. The returned Config has NOT been validated; the caller should invoke
// Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known POLYSIM_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets scripted backtest sweeps vary parameters without writing
// a TOML file per run.
func applyEnvOverrides(cfg *Config) {
	// ── Top-level ──
	setStr(&cfg.Tape, "POLYSIM_TAPE")
	setStr(&cfg.OutDir, "POLYSIM_OUT_DIR")
	setStr(&cfg.RunID, "POLYSIM_RUN_ID")
	setStr(&cfg.LogLevel, "POLYSIM_LOG_LEVEL")

	// ── Run ──
	setStr(&cfg.Run.AssetID, "POLYSIM_RUN_ASSET_ID")
	setStringSlice(&cfg.Run.ExtraBookAssetIDs, "POLYSIM_RUN_EXTRA_BOOK_ASSET_IDS")
	setStr(&cfg.Run.StartingCash, "POLYSIM_RUN_STARTING_CASH")
	setStr(&cfg.Run.FeeRateBps, "POLYSIM_RUN_FEE_RATE_BPS")
	setStr(&cfg.Run.MarkMethod, "POLYSIM_RUN_MARK_METHOD")
	setInt64(&cfg.Run.LatencyTicks, "POLYSIM_RUN_LATENCY_TICKS")
	setInt64(&cfg.Run.CancelLatencyTicks, "POLYSIM_RUN_CANCEL_LATENCY_TICKS")
	setBool(&cfg.Run.Strict, "POLYSIM_RUN_STRICT")
	setBool(&cfg.Run.AllowDegraded, "POLYSIM_RUN_ALLOW_DEGRADED")

	// ── Strategy ──
	setStr(&cfg.Strategy.Name, "POLYSIM_STRATEGY_NAME")
	setStr(&cfg.Strategy.YesAssetID, "POLYSIM_STRATEGY_YES_ASSET_ID")
	setStr(&cfg.Strategy.NoAssetID, "POLYSIM_STRATEGY_NO_ASSET_ID")
}

// ParseStrategyParams decodes a JSON object of strategy parameters. Numbers
// are kept as json.Number so exact decimal strings reach the strategy
// constructors unrounded.
func ParseStrategyParams(raw string) (map[string]any, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var params map[string]any
	if err := dec.Decode(&params); err != nil {
		return nil, fmt.Errorf("parse strategy config: %w", err)
	}
	return params, nil
}

// LoadStrategyParams reads a JSON file of strategy parameters.
func LoadStrategyParams(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read strategy config %s: %w", path, err)
	}
	return ParseStrategyParams(string(data))
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
