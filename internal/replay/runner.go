// Package replay orchestrates a tape replay: it routes events into per-asset
// books, drives the strategy, steps the broker with fill isolation, and folds
// the results through the ledger.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/book"
	"github.com/Amanpat/polysim/internal/broker"
	"github.com/Amanpat/polysim/internal/domain"
	"github.com/Amanpat/polysim/internal/ledger"
	"github.com/Amanpat/polysim/internal/strategy"
)

// Params are the numeric and routing inputs of a run. They are part of the
// replay's deterministic identity together with the tape bytes and the
// strategy config.
type Params struct {
	RunID             string
	PrimaryAssetID    string
	ExtraBookAssetIDs []string
	StartingCash      decimal.Decimal
	FeeRateBps        decimal.Decimal
	MarkMethod        domain.MarkMethod
	Latency           broker.LatencyModel
	Strict            bool
	AllowDegraded     bool
}

// Result aggregates everything a finished replay produced.
type Result struct {
	RunID          string
	PrimaryAssetID string
	TrackedAssets  []string

	Timeline    []domain.TimelineRow
	OrderEvents []domain.OrderEvent
	Fills       []domain.Fill
	Decisions   []domain.Decision
	Snapshots   []domain.LedgerSnapshot
	EquityCurve []domain.EquityPoint
	Summary     domain.PnLSummary

	Opportunities   []domain.Opportunity
	RejectionCounts map[string]int64
	ArbSummary      *domain.ModeledArbSummary
	Coverage        *CoverageReport

	EventsProcessed int64
	RunQuality      string
	Warnings        []string
}

// Runner replays one tape against one strategy instance. It is single use:
// build, Run once, read the Result.
type Runner struct {
	params Params
	strat  strategy.Strategy
	logger *slog.Logger
}

// New builds a runner for the given strategy.
func New(params Params, strat strategy.Strategy, logger *slog.Logger) *Runner {
	return &Runner{
		params: params,
		strat:  strat,
		logger: logger.With(slog.String("component", "runner")),
	}
}

// Run processes the tape in seq order. Configuration and coverage problems
// fail before the first event; strategy errors abort mid-run. A Coverage
// failure is returned as *CoverageError so callers can persist the report.
func (r *Runner) Run(ctx context.Context, events []domain.TapeEvent) (*Result, error) {
	led, err := ledger.New(r.params.StartingCash, r.params.FeeRateBps, r.params.MarkMethod, r.logger)
	if err != nil {
		return nil, err
	}

	primary := r.params.PrimaryAssetID
	if primary == "" {
		primary, err = resolvePrimary(events)
		if err != nil {
			return nil, err
		}
	}

	res := &Result{
		RunID:          r.params.RunID,
		PrimaryAssetID: primary,
		RunQuality:     "ok",
	}

	tracked := []string{primary}
	var coverage *CoverageReport
	if dual, ok := r.strat.(strategy.DualAsset); ok {
		yesID, noID := dual.DualAssetIDs()
		tracked = appendUnique(tracked, yesID, noID)

		report := checkCoverage(events, []string{yesID, noID}, r.params.AllowDegraded)
		coverage = &report
		res.Coverage = coverage
		switch report.Status {
		case CoverageInvalid:
			return nil, &CoverageError{Report: report}
		case CoverageDegraded:
			warning := fmt.Sprintf("degraded coverage: no tape events for %s", strings.Join(report.MissingAssets, ", "))
			res.Warnings = append(res.Warnings, warning)
			res.RunQuality = "degraded"
			r.logger.Warn("proceeding with degraded coverage", slog.Any("missing_assets", report.MissingAssets))
		}
	}
	tracked = appendUnique(tracked, r.params.ExtraBookAssetIDs...)
	res.TrackedAssets = tracked

	books := make(map[string]*book.L2Book, len(tracked))
	for _, id := range tracked {
		books[id] = book.New(id, r.params.Strict)
	}
	if binder, ok := r.strat.(strategy.BookBinder); ok {
		binder.BindBooks(bookView{books: books})
	}

	brk := broker.New(r.params.Latency, r.logger)

	if err := r.strat.OnStart(primary, r.params.StartingCash); err != nil {
		return nil, fmt.Errorf("strategy %s: on start: %w", r.strat.Name(), err)
	}

	r.logger.Info("replay started",
		slog.String("run_id", r.params.RunID),
		slog.String("primary_asset_id", primary),
		slog.Any("tracked_assets", tracked),
		slog.Int("events", len(events)),
	)

	for _, ev := range events {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		active := activeAssets(ev, books)
		for _, id := range active {
			if err := books[id].Apply(ev); err != nil {
				return nil, fmt.Errorf("seq %d: %w", ev.Seq, err)
			}
		}

		bb, ba := nullQuote(books[primary])
		tick := strategy.Tick{
			Event:      ev,
			Seq:        ev.Seq,
			TsRecv:     ev.TsRecv,
			BestBid:    bb,
			BestAsk:    ba,
			OpenOrders: brk.OpenOrders(),
		}
		intents, err := r.strat.OnEvent(tick)
		if err != nil {
			return nil, fmt.Errorf("strategy %s: seq %d: %w", r.strat.Name(), ev.Seq, err)
		}
		for _, intent := range intents {
			res.Decisions = append(res.Decisions, r.applyIntent(brk, intent, primary, ev))
		}

		var fills []domain.Fill
		for _, id := range active {
			fills = append(fills, brk.Step(ev, books[id], id)...)
		}
		for _, fill := range fills {
			r.strat.OnFill(fill)
		}

		if containsAsset(active, primary) {
			res.Timeline = append(res.Timeline, domain.TimelineRow{
				Seq:     ev.Seq,
				TsRecv:  ev.TsRecv,
				BestBid: bb,
				BestAsk: ba,
			})
		}
	}

	if err := r.strat.OnFinish(); err != nil {
		return nil, fmt.Errorf("strategy %s: on finish: %w", r.strat.Name(), err)
	}

	if len(res.Timeline) <= 1 && len(events) > 5 {
		warning := fmt.Sprintf(
			"timeline has %d rows over %d events; primary asset id %q may not match the tape's schema (batched price_changes entries carry per-entry asset ids)",
			len(res.Timeline), len(events), primary,
		)
		res.Warnings = append(res.Warnings, warning)
		res.RunQuality = "degraded"
		r.logger.Warn("blank run", slog.Int("timeline_rows", len(res.Timeline)), slog.Int("events", len(events)))
	}

	var window ledger.Window
	if len(events) > 0 {
		window = ledger.Window{
			FirstSeq: events[0].Seq,
			LastSeq:  events[len(events)-1].Seq,
			FirstTs:  events[0].TsRecv,
			LastTs:   events[len(events)-1].TsRecv,
		}
	}
	res.OrderEvents = brk.Events()
	res.Fills = brk.Fills()
	res.Snapshots, res.EquityCurve = led.Process(res.OrderEvents, res.Timeline, window)

	finalBid, finalAsk := nullQuote(books[primary])
	res.Summary = led.Summary(r.params.RunID, finalBid, finalAsk)
	res.EventsProcessed = int64(len(events))

	if logger, ok := r.strat.(strategy.OpportunityLogger); ok {
		res.Opportunities = logger.Opportunities()
	}
	if counter, ok := r.strat.(strategy.RejectionCounter); ok {
		res.RejectionCounts = counter.RejectionCounts()
	}
	if summarizer, ok := r.strat.(strategy.ArbSummarizer); ok {
		summary := summarizer.ArbSummary()
		res.ArbSummary = &summary
	}

	r.logger.Info("replay finished",
		slog.String("run_id", r.params.RunID),
		slog.Int64("events", res.EventsProcessed),
		slog.Int("decisions", len(res.Decisions)),
		slog.Int("fills", len(res.Fills)),
		slog.String("net_profit", res.Summary.NetProfit.String()),
	)
	return res, nil
}

// applyIntent executes one strategy intent against the broker and records the
// decision row. Failed cancels and unknown actions are warnings, not errors.
func (r *Runner) applyIntent(brk *broker.SimBroker, intent domain.OrderIntent, primary string, ev domain.TapeEvent) domain.Decision {
	dec := domain.Decision{
		Seq:     ev.Seq,
		TsRecv:  ev.TsRecv,
		Action:  intent.Action,
		Reason:  intent.Reason,
		Meta:    intent.Meta,
		OrderID: intent.OrderID,
	}

	switch intent.Action {
	case domain.IntentSubmit:
		assetID := intent.AssetID
		if assetID == "" {
			assetID = primary
		}
		orderID := brk.SubmitOrder(assetID, intent.Side, intent.LimitPrice, intent.Size, ev.Seq, ev.TsRecv)
		lp, size := intent.LimitPrice, intent.Size
		dec.AssetID = assetID
		dec.Side = intent.Side
		dec.LimitPrice = &lp
		dec.Size = &size
		dec.OrderID = orderID

	case domain.IntentCancel:
		if err := brk.CancelOrder(intent.OrderID, ev.Seq, ev.TsRecv); err != nil {
			r.logger.Warn("cancel failed",
				slog.String("order_id", intent.OrderID),
				slog.Int64("seq", ev.Seq),
				slog.String("error", err.Error()),
			)
		}

	default:
		r.logger.Warn("unknown intent action",
			slog.String("action", string(intent.Action)),
			slog.Int64("seq", ev.Seq),
		)
	}
	return dec
}

// bookView adapts the runner's book map to the read-only view strategies get.
type bookView struct {
	books map[string]*book.L2Book
}

func (v bookView) HasSnapshot(assetID string) bool {
	b, ok := v.books[assetID]
	return ok && b.HasSnapshot()
}

func (v bookView) BestBid(assetID string) (decimal.Decimal, bool) {
	b, ok := v.books[assetID]
	if !ok {
		return decimal.Decimal{}, false
	}
	return b.BestBid()
}

func (v bookView) BestAsk(assetID string) (decimal.Decimal, bool) {
	b, ok := v.books[assetID]
	if !ok {
		return decimal.Decimal{}, false
	}
	return b.BestAsk()
}

func (v bookView) DepthAtBestBid(assetID string) (decimal.Decimal, bool) {
	b, ok := v.books[assetID]
	if !ok {
		return decimal.Decimal{}, false
	}
	if _, has := b.BestBid(); !has {
		return decimal.Decimal{}, false
	}
	return b.DepthAtBestBid(), true
}

func (v bookView) DepthAtBestAsk(assetID string) (decimal.Decimal, bool) {
	b, ok := v.books[assetID]
	if !ok {
		return decimal.Decimal{}, false
	}
	if _, has := b.BestAsk(); !has {
		return decimal.Decimal{}, false
	}
	return b.DepthAtBestAsk(), true
}

// resolvePrimary auto-selects the primary asset when the tape carries exactly
// one asset id across snapshots and batched delta entries.
func resolvePrimary(events []domain.TapeEvent) (string, error) {
	seen := make(map[string]bool)
	var ids []string
	for _, ev := range events {
		for _, id := range ev.AssetIDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	switch len(ids) {
	case 1:
		return ids[0], nil
	case 0:
		return "", fmt.Errorf("resolve primary asset: %w", domain.ErrNoPrimaryAsset)
	default:
		sort.Strings(ids)
		return "", fmt.Errorf("resolve primary asset: %w (tape has %s)", domain.ErrAmbiguousPrimaryAsset, strings.Join(ids, ", "))
	}
}

// activeAssets returns the tracked assets this event touches, in payload
// order.
func activeAssets(ev domain.TapeEvent, books map[string]*book.L2Book) []string {
	var out []string
	for _, id := range ev.AssetIDs() {
		if _, ok := books[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

func containsAsset(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func appendUnique(ids []string, more ...string) []string {
	for _, id := range more {
		if id == "" || containsAsset(ids, id) {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

func nullQuote(b *book.L2Book) (decimal.NullDecimal, decimal.NullDecimal) {
	var bid, ask decimal.NullDecimal
	if v, ok := b.BestBid(); ok {
		bid = decimal.NullDecimal{Decimal: v, Valid: true}
	}
	if v, ok := b.BestAsk(); ok {
		ask = decimal.NullDecimal{Decimal: v, Valid: true}
	}
	return bid, ask
}
