package strategy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanpat/polysim/internal/domain"
)

func writeTrades(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trades.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newCopyWallet(t *testing.T, params map[string]any) *CopyWalletReplay {
	t.Helper()
	s, err := NewCopyWalletReplay(Config{Name: "copy_wallet_replay", Params: params}, testLogger())
	require.NoError(t, err)
	return s.(*CopyWalletReplay)
}

func TestNewCopyWalletReplay_RequiresTradesPath(t *testing.T) {
	_, err := NewCopyWalletReplay(Config{Params: map[string]any{}}, testLogger())
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "trades_path is required")
}

func TestNewCopyWalletReplay_RejectsNegativeDelay(t *testing.T) {
	path := writeTrades(t, `[]`)
	_, err := NewCopyWalletReplay(Config{Params: map[string]any{
		"trades_path":        path,
		"signal_delay_ticks": -1,
	}}, testLogger())
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
}

func TestLoadTargetTrades_JSONArray(t *testing.T) {
	path := writeTrades(t, `[
		{"trade_id":"t2","seq":20,"asset_id":"yes","side":"SELL","limit_price":"0.55","size":"5"},
		{"trade_id":"t1","seq":10,"asset_id":"yes","side":"buy","limit_price":"0.45","size":"10"}
	]`)

	trades, err := loadTargetTrades(path)
	require.NoError(t, err)
	require.Len(t, trades, 2)

	// Sorted by seq regardless of file order; both side spellings accepted.
	assert.Equal(t, int64(10), trades[0].seq)
	assert.Equal(t, domain.OrderSideBuy, trades[0].side)
	assert.Equal(t, int64(20), trades[1].seq)
	assert.Equal(t, domain.OrderSideSell, trades[1].side)
}

func TestLoadTargetTrades_JSONL(t *testing.T) {
	path := writeTrades(t, `{"trade_id":"t1","seq":10,"side":"buy","limit_price":"0.45","size":"10"}

{"trade_id":"t2","seq":12,"side":"sell","limit_price":"0.55","size":"5"}
`)

	trades, err := loadTargetTrades(path)
	require.NoError(t, err)
	assert.Len(t, trades, 2)
}

func TestLoadTargetTrades_ReportsRowProblems(t *testing.T) {
	path := writeTrades(t, `[
		{"seq":10,"side":"hold","limit_price":"0.45","size":"10"},
		{"seq":11,"side":"buy","limit_price":"0","size":"-2"}
	]`)

	_, err := loadTargetTrades(path)
	var cfgErr *domain.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "trade 0")
	assert.Contains(t, err.Error(), "trade 1")
}

func TestLoadTargetTrades_MissingFile(t *testing.T) {
	_, err := loadTargetTrades(filepath.Join(t.TempDir(), "nope.json"))
	var cfgErr *domain.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOnEvent_SubmitsAfterDelayExactlyOnce(t *testing.T) {
	path := writeTrades(t, `[{"trade_id":"t1","seq":5,"asset_id":"yes","side":"buy","limit_price":"0.45","size":"10"}]`)
	s := newCopyWallet(t, map[string]any{
		"trades_path":        path,
		"signal_delay_ticks": 2,
	})
	require.NoError(t, s.OnStart("yes", d("1000")))

	intents, err := s.OnEvent(Tick{Seq: 6})
	require.NoError(t, err)
	assert.Empty(t, intents, "trigger seq is 7, not yet reached")

	intents, err = s.OnEvent(Tick{Seq: 7})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, domain.IntentSubmit, intents[0].Action)
	assert.Equal(t, "yes", intents[0].AssetID)
	assert.True(t, intents[0].LimitPrice.Equal(d("0.45")))
	assert.True(t, intents[0].Size.Equal(d("10")))
	assert.Equal(t, "copy_wallet_trade", intents[0].Reason)
	assert.Equal(t, "5", intents[0].Meta["target_seq"])
	assert.Equal(t, "t1", intents[0].Meta["trade_id"])

	intents, err = s.OnEvent(Tick{Seq: 8})
	require.NoError(t, err)
	assert.Empty(t, intents, "each trade submits at most once")
}

func TestOnEvent_GapSkipsStraightToTrigger(t *testing.T) {
	path := writeTrades(t, `[
		{"seq":5,"side":"buy","limit_price":"0.45","size":"10"},
		{"seq":6,"side":"buy","limit_price":"0.46","size":"10"}
	]`)
	s := newCopyWallet(t, map[string]any{"trades_path": path})
	require.NoError(t, s.OnStart("yes", d("1000")))

	// The tape jumps over both trigger seqs; both trades fire on one tick.
	intents, err := s.OnEvent(Tick{Seq: 50})
	require.NoError(t, err)
	assert.Len(t, intents, 2)
}

func TestOnEvent_EmptyAssetUsesPrimary(t *testing.T) {
	path := writeTrades(t, `[{"seq":1,"side":"buy","limit_price":"0.45","size":"10"}]`)
	s := newCopyWallet(t, map[string]any{"trades_path": path})
	require.NoError(t, s.OnStart("primary-asset", d("1000")))

	intents, err := s.OnEvent(Tick{Seq: 1})
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "primary-asset", intents[0].AssetID)
}

func TestOnFinish_ToleratesUntriggeredTrades(t *testing.T) {
	path := writeTrades(t, `[{"seq":100,"side":"buy","limit_price":"0.45","size":"10"}]`)
	s := newCopyWallet(t, map[string]any{"trades_path": path})
	require.NoError(t, s.OnStart("yes", d("1000")))

	_, err := s.OnEvent(Tick{Seq: 10})
	require.NoError(t, err)
	assert.NoError(t, s.OnFinish())
}
