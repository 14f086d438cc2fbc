package replay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanpat/polysim/internal/broker"
	"github.com/Amanpat/polysim/internal/domain"
	"github.com/Amanpat/polysim/internal/strategy"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func snap(seq int64, assetID string, bids, asks [][2]string) domain.TapeEvent {
	ev := domain.TapeEvent{
		Seq:       seq,
		TsRecv:    float64(seq),
		EventType: domain.EventTypeBook,
		AssetID:   assetID,
	}
	for _, l := range bids {
		ev.Bids = append(ev.Bids, domain.BookLevel{Price: d(l[0]), Size: d(l[1])})
	}
	for _, l := range asks {
		ev.Asks = append(ev.Asks, domain.BookLevel{Price: d(l[0]), Size: d(l[1])})
	}
	return ev
}

func delta(seq int64, assetID, side, price, size string) domain.TapeEvent {
	return domain.TapeEvent{
		Seq:       seq,
		TsRecv:    float64(seq),
		EventType: domain.EventTypePriceChange,
		AssetID:   assetID,
		Changes:   []domain.DeltaEntry{{Side: side, Price: d(price), Size: d(size)}},
	}
}

func testParams(t *testing.T, primary string) Params {
	t.Helper()
	latency, err := broker.NewLatencyModel(0, 0)
	require.NoError(t, err)
	return Params{
		RunID:          "run-test",
		PrimaryAssetID: primary,
		StartingCash:   d("1000"),
		FeeRateBps:     decimal.Zero,
		MarkMethod:     domain.MarkMethodBid,
		Latency:        latency,
	}
}

// noopStrategy never trades.
type noopStrategy struct{ strategy.Base }

func (noopStrategy) Name() string { return "noop" }

func (noopStrategy) OnEvent(strategy.Tick) ([]domain.OrderIntent, error) { return nil, nil }

// scriptedStrategy emits a fixed set of intents keyed by seq.
type scriptedStrategy struct {
	strategy.Base
	intents map[int64][]domain.OrderIntent
}

func (scriptedStrategy) Name() string { return "scripted" }

func (s scriptedStrategy) OnEvent(tick strategy.Tick) ([]domain.OrderIntent, error) {
	return s.intents[tick.Seq], nil
}

type failingStrategy struct{ strategy.Base }

func (failingStrategy) Name() string { return "failing" }

func (failingStrategy) OnEvent(strategy.Tick) ([]domain.OrderIntent, error) {
	return nil, errors.New("boom")
}

func newArbStrategy(t *testing.T, params map[string]any) strategy.Strategy {
	t.Helper()
	merged := map[string]any{
		"yes_asset_id": "yes",
		"no_asset_id":  "no",
	}
	for k, v := range params {
		merged[k] = v
	}
	s, err := strategy.NewBinaryComplementArb(strategy.Config{Name: "binary_complement_arb", Params: merged}, testLogger())
	require.NoError(t, err)
	return s
}

// dualAssetTape opens both legs cheap enough to arb at seq 2 and then touches
// each leg once more so resting orders can fill on their own asset's events.
func dualAssetTape() []domain.TapeEvent {
	return []domain.TapeEvent{
		snap(1, "yes", [][2]string{{"0.40", "200"}}, [][2]string{{"0.44", "150"}}),
		snap(2, "no", [][2]string{{"0.47", "200"}}, [][2]string{{"0.52", "150"}}),
		delta(3, "yes", domain.DeltaSideBuy, "0.41", "50"),
		delta(4, "no", domain.DeltaSideBuy, "0.48", "50"),
	}
}

func TestRun_ArbAttemptAcrossBothLegs(t *testing.T) {
	strat := newArbStrategy(t, map[string]any{
		"max_size":              "100",
		"enable_merge_full_set": true,
	})
	runner := New(testParams(t, "yes"), strat, testLogger())

	res, err := runner.Run(context.Background(), dualAssetTape())
	require.NoError(t, err)

	assert.Equal(t, "yes", res.PrimaryAssetID)
	assert.Equal(t, []string{"yes", "no"}, res.TrackedAssets)
	assert.Equal(t, "ok", res.RunQuality)
	require.NotNil(t, res.Coverage)
	assert.Equal(t, CoverageOK, res.Coverage.Status)

	// Both entry orders were submitted on the tick the edge appeared.
	require.Len(t, res.Decisions, 2)
	assert.Equal(t, int64(2), res.Decisions[0].Seq)
	assert.Equal(t, "ord-1", res.Decisions[0].OrderID)
	assert.Equal(t, "yes", res.Decisions[0].AssetID)
	assert.Equal(t, "ord-2", res.Decisions[1].OrderID)
	assert.Equal(t, "no", res.Decisions[1].AssetID)

	// The NO leg fills on the seq 2 event; the YES order must wait for the
	// next YES event even though YES liquidity already exists.
	require.Len(t, res.Fills, 2)
	assert.Equal(t, "ord-2", res.Fills[0].OrderID)
	assert.Equal(t, int64(2), res.Fills[0].Seq)
	assert.True(t, res.Fills[0].FillPrice.Equal(d("0.52")))
	assert.Equal(t, "ord-1", res.Fills[1].OrderID)
	assert.Equal(t, int64(3), res.Fills[1].Seq)
	assert.True(t, res.Fills[1].FillPrice.Equal(d("0.44")))

	// Timeline rows exist only for primary-asset events.
	require.Len(t, res.Timeline, 2)
	assert.Equal(t, int64(1), res.Timeline[0].Seq)
	assert.Equal(t, int64(3), res.Timeline[1].Seq)

	require.Len(t, res.Opportunities, 3)
	assert.Equal(t, "detected", res.Opportunities[0].Type)
	assert.Equal(t, "both_filled", res.Opportunities[1].Type)
	merge := res.Opportunities[2]
	assert.Equal(t, "merge_full_set", merge.Type)
	assert.True(t, merge.ModeledCost.Equal(d("96")))
	assert.True(t, merge.ModeledProceeds.Equal(d("100")))
	assert.True(t, merge.ModeledProfit.Equal(d("4")))

	require.NotNil(t, res.ArbSummary)
	assert.Equal(t, int64(1), res.ArbSummary.AttemptsByStatus["merged"])
	assert.True(t, res.ArbSummary.TotalModeledCost.Equal(d("96")))
	assert.True(t, res.ArbSummary.TotalModeledProfit.Equal(d("4")))
	require.NotNil(t, res.ArbSummary.Assumption)

	// 100 shares at 0.44 plus 100 at 0.52 with zero fees.
	assert.True(t, res.Summary.FinalCash.Equal(d("904")), "cash=%s", res.Summary.FinalCash)
	assert.True(t, res.Summary.FinalEquity.Equal(d("986")), "200 shares marked at the final 0.41 bid")
}

func TestRun_DeterministicAcrossRuns(t *testing.T) {
	tape := dualAssetTape()
	run := func() *Result {
		strat := newArbStrategy(t, map[string]any{
			"max_size":              "100",
			"enable_merge_full_set": true,
		})
		res, err := New(testParams(t, "yes"), strat, testLogger()).Run(context.Background(), tape)
		require.NoError(t, err)
		return res
	}

	first := run()
	second := run()
	require.Equal(t, first, second)
}

func TestRun_ZeroOrderRunEmitsBoundaryRows(t *testing.T) {
	tape := []domain.TapeEvent{
		snap(3, "asset", [][2]string{{"0.40", "10"}}, [][2]string{{"0.45", "10"}}),
		delta(17, "asset", domain.DeltaSideBuy, "0.41", "5"),
		delta(41, "asset", domain.DeltaSideSell, "0.46", "5"),
	}
	runner := New(testParams(t, ""), noopStrategy{}, testLogger())

	res, err := runner.Run(context.Background(), tape)
	require.NoError(t, err)

	assert.Equal(t, "asset", res.PrimaryAssetID, "single-asset tapes resolve the primary automatically")
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Fills)

	require.Len(t, res.Snapshots, 2)
	assert.Equal(t, "initial", res.Snapshots[0].Event)
	assert.Equal(t, int64(3), res.Snapshots[0].Seq)
	assert.Equal(t, "final", res.Snapshots[1].Event)
	assert.Equal(t, int64(41), res.Snapshots[1].Seq)

	require.Len(t, res.EquityCurve, 3)
	for _, p := range res.EquityCurve {
		assert.True(t, p.Equity.Equal(d("1000")))
	}
}

func TestRun_BuyFillsAtBookPriceNotLimit(t *testing.T) {
	tape := []domain.TapeEvent{
		snap(1, "asset", nil, [][2]string{{"0.45", "100"}}),
		delta(2, "asset", domain.DeltaSideSell, "0.45", "100"),
	}
	strat := scriptedStrategy{intents: map[int64][]domain.OrderIntent{
		1: {domain.SubmitIntent("", domain.OrderSideBuy, d("0.50"), d("10"), "test_buy", nil)},
	}}
	runner := New(testParams(t, "asset"), strat, testLogger())

	res, err := runner.Run(context.Background(), tape)
	require.NoError(t, err)

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, "asset", res.Decisions[0].AssetID, "empty intent asset id routes to the primary")

	require.Len(t, res.Fills, 1)
	assert.True(t, res.Fills[0].FillPrice.Equal(d("0.45")), "fill at the book's ask, not the 0.50 limit")
	assert.Equal(t, int64(1), res.Fills[0].Seq)
}

func TestRun_CoverageInvalidFailsBeforeReplay(t *testing.T) {
	tape := []domain.TapeEvent{
		snap(1, "yes", nil, [][2]string{{"0.44", "50"}}),
	}
	runner := New(testParams(t, "yes"), newArbStrategy(t, nil), testLogger())

	_, err := runner.Run(context.Background(), tape)
	var covErr *CoverageError
	require.ErrorAs(t, err, &covErr)
	assert.Equal(t, CoverageInvalid, covErr.Report.Status)
	assert.Equal(t, []string{"no"}, covErr.Report.MissingAssets)
	assert.Equal(t, int64(1), covErr.Report.EventsPerAsset["yes"])
	assert.Equal(t, int64(0), covErr.Report.EventsPerAsset["no"])
}

func TestRun_CoverageDegradedProceedsWithWarning(t *testing.T) {
	tape := []domain.TapeEvent{
		snap(1, "yes", nil, [][2]string{{"0.44", "50"}}),
		delta(2, "yes", domain.DeltaSideSell, "0.44", "60"),
	}
	params := testParams(t, "yes")
	params.AllowDegraded = true
	runner := New(params, newArbStrategy(t, nil), testLogger())

	res, err := runner.Run(context.Background(), tape)
	require.NoError(t, err)

	assert.Equal(t, "degraded", res.RunQuality)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "degraded coverage")
	require.NotNil(t, res.Coverage)
	assert.Equal(t, CoverageDegraded, res.Coverage.Status)

	// The NO book never gets a snapshot, so every tick is rejected for
	// missing data rather than trading on half a market.
	assert.Equal(t, int64(2), res.RejectionCounts["stale_or_missing_snapshot"])
	assert.Empty(t, res.Fills)
}

func TestRun_AmbiguousPrimaryAsset(t *testing.T) {
	tape := []domain.TapeEvent{
		snap(1, "a", nil, [][2]string{{"0.44", "50"}}),
		snap(2, "b", nil, [][2]string{{"0.52", "50"}}),
	}
	runner := New(testParams(t, ""), noopStrategy{}, testLogger())

	_, err := runner.Run(context.Background(), tape)
	require.ErrorIs(t, err, domain.ErrAmbiguousPrimaryAsset)
	assert.Contains(t, err.Error(), "a, b")
}

func TestRun_EmptyTapeHasNoPrimary(t *testing.T) {
	runner := New(testParams(t, ""), noopStrategy{}, testLogger())
	_, err := runner.Run(context.Background(), nil)
	require.ErrorIs(t, err, domain.ErrNoPrimaryAsset)
}

func TestRun_BlankRunWarnsOnSchemaMismatch(t *testing.T) {
	var tape []domain.TapeEvent
	tape = append(tape, snap(1, "real", [][2]string{{"0.40", "10"}}, nil))
	for seq := int64(2); seq <= 7; seq++ {
		tape = append(tape, delta(seq, "real", domain.DeltaSideBuy, "0.41", "5"))
	}
	runner := New(testParams(t, "ghost"), noopStrategy{}, testLogger())

	res, err := runner.Run(context.Background(), tape)
	require.NoError(t, err)

	assert.Empty(t, res.Timeline)
	assert.Equal(t, "degraded", res.RunQuality)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "may not match the tape's schema")
}

func TestRun_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tape := []domain.TapeEvent{snap(1, "asset", nil, nil)}
	runner := New(testParams(t, "asset"), noopStrategy{}, testLogger())

	_, err := runner.Run(ctx, tape)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRun_StrategyErrorAborts(t *testing.T) {
	tape := []domain.TapeEvent{snap(1, "asset", nil, nil)}
	runner := New(testParams(t, "asset"), failingStrategy{}, testLogger())

	_, err := runner.Run(context.Background(), tape)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strategy failing: seq 1: boom")
}
