// Package app wires one replay run end to end: it loads the tape, builds the
// configured strategy, drives the replay, and persists the artifact bundle
// under the run directory.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/artifact"
	"github.com/Amanpat/polysim/internal/broker"
	"github.com/Amanpat/polysim/internal/config"
	"github.com/Amanpat/polysim/internal/domain"
	"github.com/Amanpat/polysim/internal/replay"
	"github.com/Amanpat/polysim/internal/strategy"
	"github.com/Amanpat/polysim/internal/tape"
)

// App is the root application object for a single replay run.
type App struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *strategy.Registry
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "app")),
		registry: strategy.DefaultRegistry(),
	}
}

// Run executes the configured replay. Coverage and config problems fail
// before the first event; those and mid-run failures still leave a failed
// manifest in the run directory so sweeps can tell "never ran" from "ran and
// died".
func (a *App) Run(ctx context.Context) error {
	startedAt := time.Now()

	runID := a.cfg.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	a.logger.InfoContext(ctx, "starting run",
		slog.String("run_id", runID),
		slog.String("tape", a.cfg.Tape),
		slog.String("strategy", a.cfg.Strategy.Name),
	)

	params, err := a.buildParams(runID)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	tapeRes, err := tape.Load(a.cfg.Tape, a.logger)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	strat, stratParams, err := a.buildStrategy()
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}

	runDir := filepath.Join(a.cfg.OutDir, runID)
	bundle := artifact.Bundle{
		RunID: runID,
		Tape: artifact.TapeInfo{
			Path:         a.cfg.Tape,
			SHA256:       tapeRes.SHA256,
			Lines:        int64(tapeRes.Lines),
			EventsLoaded: len(tapeRes.Events),
			LinesSkipped: tapeRes.Skipped,
		},
		Strategy: artifact.StrategyInfo{
			Name:   strat.Name(),
			Config: stratParams,
		},
		Params: artifact.RunParams{
			PrimaryAssetID:     params.PrimaryAssetID,
			ExtraBookAssetIDs:  params.ExtraBookAssetIDs,
			StartingCash:       params.StartingCash,
			FeeRateBps:         params.FeeRateBps,
			MarkMethod:         string(params.MarkMethod),
			LatencySubmitTicks: params.Latency.SubmitTicks,
			LatencyCancelTicks: params.Latency.CancelTicks,
			Strict:             params.Strict,
			AllowDegraded:      params.AllowDegraded,
		},
		StartedAt: startedAt,
	}

	res, err := replay.New(params, strat, a.logger).Run(ctx, tapeRes.Events)
	if err != nil {
		var covErr *replay.CoverageError
		var report *replay.CoverageReport
		if errors.As(err, &covErr) {
			report = &covErr.Report
		}
		if werr := artifact.WriteFailure(runDir, bundle, report, err, a.logger); werr != nil {
			a.logger.Error("write failure artifacts",
				slog.String("run_dir", runDir),
				slog.String("error", werr.Error()),
			)
		}
		return fmt.Errorf("app: replay: %w", err)
	}

	if len(tapeRes.Warnings) > 0 {
		res.Warnings = append(append([]string{}, tapeRes.Warnings...), res.Warnings...)
	}
	bundle.Result = res
	bundle.Params.PrimaryAssetID = res.PrimaryAssetID

	if err := artifact.WriteRun(ctx, runDir, bundle, a.logger); err != nil {
		return fmt.Errorf("app: write artifacts: %w", err)
	}

	a.logger.InfoContext(ctx, "run complete",
		slog.String("run_id", runID),
		slog.String("run_dir", runDir),
		slog.String("net_profit", res.Summary.NetProfit.String()),
		slog.String("run_quality", res.RunQuality),
	)
	return nil
}

// Strategies returns the names of all registered strategies in sorted order.
func (a *App) Strategies() []string {
	return a.registry.List()
}

// buildParams converts the validated string config into engine types.
func (a *App) buildParams(runID string) (replay.Params, error) {
	startingCash, err := decimal.NewFromString(a.cfg.Run.StartingCash)
	if err != nil {
		return replay.Params{}, fmt.Errorf("starting_cash %q: %w", a.cfg.Run.StartingCash, err)
	}
	feeRateBps, err := decimal.NewFromString(a.cfg.Run.FeeRateBps)
	if err != nil {
		return replay.Params{}, fmt.Errorf("fee_rate_bps %q: %w", a.cfg.Run.FeeRateBps, err)
	}
	markMethod, err := domain.ParseMarkMethod(a.cfg.Run.MarkMethod)
	if err != nil {
		return replay.Params{}, err
	}
	latency, err := broker.NewLatencyModel(a.cfg.Run.LatencyTicks, a.cfg.Run.CancelLatencyTicks)
	if err != nil {
		return replay.Params{}, err
	}

	// When no explicit primary is configured a dual-asset run reports the YES
	// leg on the timeline. Single-asset tapes auto-resolve in the runner.
	primary := a.cfg.Run.AssetID
	if primary == "" {
		primary = a.cfg.Strategy.YesAssetID
	}

	return replay.Params{
		RunID:             runID,
		PrimaryAssetID:    primary,
		ExtraBookAssetIDs: a.cfg.Run.ExtraBookAssetIDs,
		StartingCash:      startingCash,
		FeeRateBps:        feeRateBps,
		MarkMethod:        markMethod,
		Latency:           latency,
		Strict:            a.cfg.Run.Strict,
		AllowDegraded:     a.cfg.Run.AllowDegraded,
	}, nil
}

// buildStrategy instantiates the configured strategy. The YES/NO pair from
// the strategy section is merged into the parameter map so dual-asset
// strategies see the same ids the run was routed with.
func (a *App) buildStrategy() (strategy.Strategy, map[string]any, error) {
	params := make(map[string]any, len(a.cfg.Strategy.Params)+2)
	for k, v := range a.cfg.Strategy.Params {
		params[k] = v
	}
	if a.cfg.Strategy.YesAssetID != "" {
		params["yes_asset_id"] = a.cfg.Strategy.YesAssetID
	}
	if a.cfg.Strategy.NoAssetID != "" {
		params["no_asset_id"] = a.cfg.Strategy.NoAssetID
	}

	strat, err := a.registry.Create(a.cfg.Strategy.Name, strategy.Config{Params: params}, a.logger)
	if err != nil {
		return nil, nil, err
	}
	return strat, params, nil
}
