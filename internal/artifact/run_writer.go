package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/Amanpat/polysim/internal/domain"
	"github.com/Amanpat/polysim/internal/replay"
)

// Artifact file names inside a run directory.
const (
	FileBestBidAsk    = "best_bid_ask.jsonl"
	FileOrders        = "orders.jsonl"
	FileFills         = "fills.jsonl"
	FileDecisions     = "decisions.jsonl"
	FileLedger        = "ledger.jsonl"
	FileEquityCurve   = "equity_curve.jsonl"
	FileOpportunities = "opportunities.jsonl"
	FileSummary       = "summary.json"
	FileManifest      = "run_manifest.json"
	FileMeta          = "meta.json"
)

// Run statuses recorded in the manifest.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// TapeInfo records the provenance of the tape a run consumed.
type TapeInfo struct {
	Path         string `json:"path"`
	SHA256       string `json:"sha256"`
	Lines        int64  `json:"lines"`
	EventsLoaded int    `json:"events_loaded"`
	LinesSkipped int    `json:"lines_skipped"`
}

// StrategyInfo records which strategy ran and with which raw params.
type StrategyInfo struct {
	Name   string         `json:"name"`
	Config map[string]any `json:"config,omitempty"`
}

// RunParams records the numeric run parameters for reproducibility.
type RunParams struct {
	PrimaryAssetID     string          `json:"primary_asset_id"`
	ExtraBookAssetIDs  []string        `json:"extra_book_asset_ids,omitempty"`
	StartingCash       decimal.Decimal `json:"starting_cash"`
	FeeRateBps         decimal.Decimal `json:"fee_rate_bps"`
	MarkMethod         string          `json:"mark_method"`
	LatencySubmitTicks int64           `json:"latency_submit_ticks"`
	LatencyCancelTicks int64           `json:"latency_cancel_ticks"`
	Strict             bool            `json:"strict"`
	AllowDegraded      bool            `json:"allow_degraded"`
}

// StrategyDebug is the optional diagnostics block shared by summary.json and
// run_manifest.json.
type StrategyDebug struct {
	RejectionCounts   map[string]int64          `json:"rejection_counts,omitempty"`
	ModeledArbSummary *domain.ModeledArbSummary `json:"modeled_arb_summary,omitempty"`
}

// SummaryDoc is summary.json: the PnL summary plus run quality, warnings,
// strategy diagnostics, and tape coverage when present.
type SummaryDoc struct {
	domain.PnLSummary
	RunQuality    string                 `json:"run_quality,omitempty"`
	Warnings      []string               `json:"warnings,omitempty"`
	StrategyDebug *StrategyDebug         `json:"strategy_debug,omitempty"`
	TapeCoverage  *replay.CoverageReport `json:"tape_coverage,omitempty"`
}

// Manifest is run_manifest.json: provenance, parameters, status, and the
// artifact list. Failed runs get a manifest too, with the error recorded.
type Manifest struct {
	RunID         string                 `json:"run_id"`
	CreatedAt     time.Time              `json:"created_at"`
	Status        string                 `json:"status"`
	Tape          TapeInfo               `json:"tape"`
	Strategy      StrategyInfo           `json:"strategy"`
	Params        RunParams              `json:"params"`
	Artifacts     []string               `json:"artifacts,omitempty"`
	StrategyDebug *StrategyDebug         `json:"strategy_debug,omitempty"`
	TapeCoverage  *replay.CoverageReport `json:"tape_coverage,omitempty"`
	Error         string                 `json:"error,omitempty"`
}

// Meta is meta.json: record counts and timing for quick run inspection.
type Meta struct {
	RunID           string    `json:"run_id"`
	CreatedAt       time.Time `json:"created_at"`
	Status          string    `json:"status"`
	TapePath        string    `json:"tape_path"`
	TapeSHA256      string    `json:"tape_sha256"`
	EventsProcessed int64     `json:"events_processed"`
	TimelineRows    int       `json:"timeline_rows"`
	OrderEvents     int       `json:"order_events"`
	Fills           int       `json:"fills"`
	Decisions       int       `json:"decisions"`
	Opportunities   int       `json:"opportunities"`
	DurationMS      int64     `json:"duration_ms"`
}

// Bundle carries everything one run persists. Result is nil on the failure
// path.
type Bundle struct {
	RunID     string
	Result    *replay.Result
	Tape      TapeInfo
	Strategy  StrategyInfo
	Params    RunParams
	StartedAt time.Time
}

// WriteRun persists a completed run's full artifact set under runDir. The
// independent files are written concurrently; the first failure aborts the
// rest.
func WriteRun(ctx context.Context, runDir string, b Bundle, logger *slog.Logger) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	res := b.Result
	now := time.Now().UTC()

	artifacts := []string{
		FileBestBidAsk, FileOrders, FileFills, FileDecisions,
		FileLedger, FileEquityCurve, FileSummary, FileManifest, FileMeta,
	}
	if len(res.Opportunities) > 0 {
		artifacts = append(artifacts, FileOpportunities)
	}

	debug := strategyDebug(res)
	summary := SummaryDoc{
		PnLSummary:    res.Summary,
		RunQuality:    res.RunQuality,
		Warnings:      res.Warnings,
		StrategyDebug: debug,
		TapeCoverage:  res.Coverage,
	}
	manifest := Manifest{
		RunID:         res.RunID,
		CreatedAt:     now,
		Status:        StatusCompleted,
		Tape:          b.Tape,
		Strategy:      b.Strategy,
		Params:        b.Params,
		Artifacts:     artifacts,
		StrategyDebug: debug,
		TapeCoverage:  res.Coverage,
	}
	meta := Meta{
		RunID:           res.RunID,
		CreatedAt:       now,
		Status:          StatusCompleted,
		TapePath:        b.Tape.Path,
		TapeSHA256:      b.Tape.SHA256,
		EventsProcessed: res.EventsProcessed,
		TimelineRows:    len(res.Timeline),
		OrderEvents:     len(res.OrderEvents),
		Fills:           len(res.Fills),
		Decisions:       len(res.Decisions),
		Opportunities:   len(res.Opportunities),
		DurationMS:      now.Sub(b.StartedAt).Milliseconds(),
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileBestBidAsk), res.Timeline) })
	g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileOrders), res.OrderEvents) })
	g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileFills), res.Fills) })
	g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileDecisions), res.Decisions) })
	g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileLedger), res.Snapshots) })
	g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileEquityCurve), res.EquityCurve) })
	if len(res.Opportunities) > 0 {
		g.Go(func() error { return writeJSONL(ctx, filepath.Join(runDir, FileOpportunities), res.Opportunities) })
	}
	g.Go(func() error { return writeJSON(filepath.Join(runDir, FileSummary), summary) })
	g.Go(func() error { return writeJSON(filepath.Join(runDir, FileManifest), manifest) })
	g.Go(func() error { return writeJSON(filepath.Join(runDir, FileMeta), meta) })
	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("artifacts written",
		slog.String("run_dir", runDir),
		slog.Int("artifacts", len(artifacts)),
	)
	return nil
}

// WriteFailure persists a failure-only manifest and meta so a failed run
// still leaves a diagnosable trace. Coverage, when known, is included.
func WriteFailure(runDir string, b Bundle, coverage *replay.CoverageReport, runErr error, logger *slog.Logger) error {
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	now := time.Now().UTC()

	manifest := Manifest{
		RunID:        b.RunID,
		CreatedAt:    now,
		Status:       StatusFailed,
		Tape:         b.Tape,
		Strategy:     b.Strategy,
		Params:       b.Params,
		Artifacts:    []string{FileManifest, FileMeta},
		TapeCoverage: coverage,
		Error:        runErr.Error(),
	}
	meta := Meta{
		RunID:      b.RunID,
		CreatedAt:  now,
		Status:     StatusFailed,
		TapePath:   b.Tape.Path,
		TapeSHA256: b.Tape.SHA256,
		DurationMS: now.Sub(b.StartedAt).Milliseconds(),
	}

	if err := writeJSON(filepath.Join(runDir, FileManifest), manifest); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(runDir, FileMeta), meta); err != nil {
		return err
	}
	logger.Warn("failure artifacts written",
		slog.String("run_dir", runDir),
		slog.String("error", runErr.Error()),
	)
	return nil
}

func strategyDebug(res *replay.Result) *StrategyDebug {
	if len(res.RejectionCounts) == 0 && res.ArbSummary == nil {
		return nil
	}
	return &StrategyDebug{
		RejectionCounts:   res.RejectionCounts,
		ModeledArbSummary: res.ArbSummary,
	}
}
