package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Amanpat/polysim/internal/domain"
	"github.com/Amanpat/polysim/internal/replay"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	trimmed := strings.TrimSuffix(string(raw), "\n")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "\n")
}

func testBundle(res *replay.Result) Bundle {
	return Bundle{
		RunID:  "run-1",
		Result: res,
		Tape: TapeInfo{
			Path:         "capture.jsonl",
			SHA256:       "abc123",
			Lines:        10,
			EventsLoaded: 9,
			LinesSkipped: 1,
		},
		Strategy: StrategyInfo{Name: "copy_wallet_replay"},
		Params: RunParams{
			PrimaryAssetID: "yes",
			StartingCash:   decimal.RequireFromString("1000"),
			FeeRateBps:     decimal.RequireFromString("10"),
			MarkMethod:     "bid",
		},
		StartedAt: time.Now().UTC(),
	}
}

func TestWriter_WritesAndTruncates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.jsonl")

	w := NewWriter(path)
	require.NoError(t, w.Write(map[string]int{"a": 1}))
	require.NoError(t, w.Write(map[string]int{"b": 2}))
	require.NoError(t, w.Close())
	assert.Len(t, readLines(t, path), 2)

	// A fresh writer on the same path starts the file over.
	w = NewWriter(path)
	require.NoError(t, w.Write(map[string]int{"c": 3}))
	require.NoError(t, w.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.JSONEq(t, `{"c":3}`, lines[0])
}

func TestWriter_BlankPathIsNoOp(t *testing.T) {
	w := NewWriter("  ")
	require.Nil(t, w)
	assert.NoError(t, w.Write(map[string]int{"a": 1}))
	assert.NoError(t, w.Touch())
	assert.NoError(t, w.Close())
}

func TestWriter_RejectsNilRecord(t *testing.T) {
	w := NewWriter(filepath.Join(t.TempDir(), "rows.jsonl"))
	assert.Error(t, w.Write(nil))
	require.NoError(t, w.Close())
}

func TestWriteRun_FullArtifactSet(t *testing.T) {
	tw := int64(2)
	res := &replay.Result{
		RunID:          "run-1",
		PrimaryAssetID: "yes",
		TrackedAssets:  []string{"yes", "no"},
		Timeline: []domain.TimelineRow{
			{Seq: 1, TsRecv: 1},
			{Seq: 3, TsRecv: 3},
		},
		Fills: []domain.Fill{
			{OrderID: "ord-1", AssetID: "yes", Side: domain.OrderSideBuy, FillPrice: decimal.RequireFromString("0.44"), FillSize: decimal.RequireFromString("10"), FillStatus: domain.FillStatusFull, Seq: 3},
		},
		Opportunities: []domain.Opportunity{
			{Type: "detected", AttemptID: "arb-1", Seq: 2},
			{Type: "cancelled", AttemptID: "arb-1", Seq: 5, TicksWaited: &tw},
		},
		RejectionCounts: map[string]int64{"fee_kills_edge": 3},
		Summary:         domain.PnLSummary{RunID: "run-1", StartingCash: decimal.RequireFromString("1000")},
		EventsProcessed: 4,
		RunQuality:      "ok",
	}
	runDir := filepath.Join(t.TempDir(), "run-1")

	require.NoError(t, WriteRun(context.Background(), runDir, testBundle(res), testLogger()))

	// Every artifact the manifest lists is on disk, including empty logs.
	for _, name := range []string{
		FileBestBidAsk, FileOrders, FileFills, FileDecisions,
		FileLedger, FileEquityCurve, FileOpportunities,
		FileSummary, FileManifest, FileMeta,
	} {
		_, err := os.Stat(filepath.Join(runDir, name))
		assert.NoError(t, err, name)
	}
	assert.Len(t, readLines(t, filepath.Join(runDir, FileBestBidAsk)), 2)
	assert.Len(t, readLines(t, filepath.Join(runDir, FileFills)), 1)
	assert.Empty(t, readLines(t, filepath.Join(runDir, FileOrders)))

	var manifest Manifest
	raw, err := os.ReadFile(filepath.Join(runDir, FileManifest))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, StatusCompleted, manifest.Status)
	assert.Equal(t, "run-1", manifest.RunID)
	assert.Equal(t, "abc123", manifest.Tape.SHA256)
	assert.Contains(t, manifest.Artifacts, FileOpportunities)
	require.NotNil(t, manifest.StrategyDebug)
	assert.Equal(t, int64(3), manifest.StrategyDebug.RejectionCounts["fee_kills_edge"])

	var meta Meta
	raw, err = os.ReadFile(filepath.Join(runDir, FileMeta))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, int64(4), meta.EventsProcessed)
	assert.Equal(t, 2, meta.TimelineRows)
	assert.Equal(t, 1, meta.Fills)
	assert.Equal(t, 2, meta.Opportunities)

	var summary SummaryDoc
	raw, err = os.ReadFile(filepath.Join(runDir, FileSummary))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &summary))
	assert.Equal(t, "ok", summary.RunQuality)
	assert.Equal(t, "run-1", summary.RunID)
}

func TestWriteRun_SkipsOpportunitiesWhenEmpty(t *testing.T) {
	res := &replay.Result{
		RunID:      "run-2",
		Summary:    domain.PnLSummary{RunID: "run-2"},
		RunQuality: "ok",
	}
	runDir := filepath.Join(t.TempDir(), "run-2")

	require.NoError(t, WriteRun(context.Background(), runDir, testBundle(res), testLogger()))

	_, err := os.Stat(filepath.Join(runDir, FileOpportunities))
	assert.True(t, os.IsNotExist(err))

	var manifest Manifest
	raw, err := os.ReadFile(filepath.Join(runDir, FileManifest))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.NotContains(t, manifest.Artifacts, FileOpportunities)
	assert.Nil(t, manifest.StrategyDebug, "no rejection counts and no arb summary")
}

func TestWriteFailure_LeavesDiagnosableTrace(t *testing.T) {
	runDir := filepath.Join(t.TempDir(), "run-3")
	bundle := testBundle(nil)
	coverage := &replay.CoverageReport{
		RequiredAssets: []string{"yes", "no"},
		EventsPerAsset: map[string]int64{"yes": 4, "no": 0},
		MissingAssets:  []string{"no"},
		Status:         replay.CoverageInvalid,
	}

	require.NoError(t, WriteFailure(runDir, bundle, coverage, errors.New("tape coverage invalid"), testLogger()))

	var manifest Manifest
	raw, err := os.ReadFile(filepath.Join(runDir, FileManifest))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &manifest))
	assert.Equal(t, StatusFailed, manifest.Status)
	assert.Equal(t, "tape coverage invalid", manifest.Error)
	assert.Equal(t, []string{FileManifest, FileMeta}, manifest.Artifacts)
	require.NotNil(t, manifest.TapeCoverage)
	assert.Equal(t, replay.CoverageInvalid, manifest.TapeCoverage.Status)

	var meta Meta
	raw, err = os.ReadFile(filepath.Join(runDir, FileMeta))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &meta))
	assert.Equal(t, StatusFailed, meta.Status)

	_, err = os.Stat(filepath.Join(runDir, FileSummary))
	assert.True(t, os.IsNotExist(err), "failed runs never write a summary")
}
