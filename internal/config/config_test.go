package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanpat/polysim/internal/domain"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, "runs", cfg.OutDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "1000", cfg.Run.StartingCash)
	assert.Equal(t, "10", cfg.Run.FeeRateBps)
	assert.Equal(t, "bid", cfg.Run.MarkMethod)
	assert.Zero(t, cfg.Run.LatencyTicks)
	assert.NotNil(t, cfg.Strategy.Params)
}

func TestValidate_AcceptsCompleteConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Tape = "capture.jsonl"
	cfg.Strategy.Name = "copy_wallet_replay"

	assert.NoError(t, cfg.Validate())
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.LogLevel = "verbose"
	cfg.OutDir = ""
	cfg.Run.StartingCash = "lots"
	cfg.Run.FeeRateBps = "-1"
	cfg.Run.MarkMethod = "last"
	cfg.Run.LatencyTicks = -2

	err := cfg.Validate()
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Len(t, cfgErr.Problems, 8)
	assert.Contains(t, err.Error(), `unknown log_level "verbose"`)
	assert.Contains(t, err.Error(), "tape must not be empty")
	assert.Contains(t, err.Error(), `starting_cash "lots" is not a valid decimal`)
	assert.Contains(t, err.Error(), "fee_rate_bps must be non-negative")
	assert.Contains(t, err.Error(), `unknown mark_method "last"`)
	assert.Contains(t, err.Error(), "latency_ticks must be non-negative")
	assert.Contains(t, err.Error(), "strategy: name must not be empty")
}

func TestLoad_EmptyPathUsesDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults(), *cfg)
}

func TestLoad_FileThenEnvPrecedence(t *testing.T) {
	path := writeFile(t, "polysim.toml", `
tape = "capture.jsonl"
log_level = "debug"

[run]
starting_cash = "500"
latency_ticks = 2

[strategy]
name = "binary_complement_arb"
yes_asset_id = "yes-token"
no_asset_id = "no-token"

[strategy.params]
buffer = "0.03"
`)
	t.Setenv("POLYSIM_TAPE", "override.jsonl")
	t.Setenv("POLYSIM_RUN_STARTING_CASH", "250")
	t.Setenv("POLYSIM_RUN_LATENCY_TICKS", "7")
	t.Setenv("POLYSIM_RUN_ALLOW_DEGRADED", "true")
	t.Setenv("POLYSIM_RUN_EXTRA_BOOK_ASSET_IDS", "alpha, beta,,gamma")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Env beats file, file beats defaults.
	assert.Equal(t, "override.jsonl", cfg.Tape)
	assert.Equal(t, "250", cfg.Run.StartingCash)
	assert.Equal(t, int64(7), cfg.Run.LatencyTicks)
	assert.True(t, cfg.Run.AllowDegraded)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, cfg.Run.ExtraBookAssetIDs)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "binary_complement_arb", cfg.Strategy.Name)
	assert.Equal(t, "yes-token", cfg.Strategy.YesAssetID)
	assert.Equal(t, "0.03", cfg.Strategy.Params["buffer"])

	assert.Equal(t, "10", cfg.Run.FeeRateBps, "untouched fields keep their defaults")
}

func TestLoad_RejectsMalformedTOML(t *testing.T) {
	path := writeFile(t, "broken.toml", `tape = [unterminated`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode config")
}

func TestParseStrategyParams_KeepsNumbersExact(t *testing.T) {
	params, err := ParseStrategyParams(`{"buffer": 0.02, "max_size": 100, "enable_merge_full_set": true, "trades_path": "trades.json"}`)
	require.NoError(t, err)

	assert.Equal(t, json.Number("0.02"), params["buffer"])
	assert.Equal(t, json.Number("100"), params["max_size"])
	assert.Equal(t, true, params["enable_merge_full_set"])
	assert.Equal(t, "trades.json", params["trades_path"])
}

func TestParseStrategyParams_RejectsMalformed(t *testing.T) {
	_, err := ParseStrategyParams(`{"buffer": `)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse strategy config")
}

func TestLoadStrategyParams(t *testing.T) {
	path := writeFile(t, "params.json", `{"signal_delay_ticks": 3}`)
	params, err := LoadStrategyParams(path)
	require.NoError(t, err)
	assert.Equal(t, json.Number("3"), params["signal_delay_ticks"])

	_, err = LoadStrategyParams(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read strategy config")
}
