package strategy

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/domain"
)

// LeggingPolicy controls when an incomplete attempt gives up and unwinds.
type LeggingPolicy string

const (
	// LeggingPolicyWaitThenUnwind unwinds once unwind_wait_ticks have passed
	// since entry, filled or not.
	LeggingPolicyWaitThenUnwind LeggingPolicy = "wait_N_then_unwind"
	// LeggingPolicyImmediateUnwind starts the unwind clock at the first leg
	// fill instead of at entry.
	LeggingPolicyImmediateUnwind LeggingPolicy = "immediate_unwind"
)

// MergeAssumption is attached to every modeled merge record. The engine never
// performs a merge; it only models one.
const MergeAssumption = "ASSUMPTION: 1 YES + 1 NO share redeem for exactly $1.00 at settlement; merge is modeled only, never executed"

const (
	defaultArbBuffer     = "0.02"
	defaultArbMaxSize    = "10"
	defaultArbUnwindWait = 5
)

// Attempt statuses.
const (
	arbStatusEntering      = "entering"
	arbStatusBothFilled    = "both_filled"
	arbStatusMerged        = "merged"
	arbStatusLeggedOut     = "legged_out"
	arbStatusCancelled     = "cancelled"
	arbStatusUnwound       = "unwound"
	arbStatusTapeEndedOpen = "tape_ended_open"
)

type legState struct {
	assetID  string
	leg      string
	entryAsk decimal.Decimal
	orderID  string

	filled        decimal.Decimal
	cost          decimal.Decimal
	lastFillPrice decimal.Decimal
	hasFill       bool
}

func (l *legState) resolved(size decimal.Decimal) bool {
	return l.hasFill && l.filled.GreaterThanOrEqual(size)
}

func (l *legState) avgFillPrice() decimal.Decimal {
	if !l.hasFill || l.filled.IsZero() {
		return decimal.Zero
	}
	return l.cost.Div(l.filled)
}

type arbAttempt struct {
	id          string
	detectedSeq int64
	detectedTs  float64
	size        decimal.Decimal
	edge        decimal.Decimal
	expected    decimal.Decimal

	yes legState
	no  legState

	status          string
	ticksSinceEnter int64
	firstFillTick   int64
	ticksWaited     int64
}

// BinaryComplementArb buys the YES and NO side of the same binary market when
// their combined ask price falls below $1.00 by more than a configured
// buffer. One attempt is active at a time; completed attempts are appended to
// an immutable history.
type BinaryComplementArb struct {
	Base
	logger *slog.Logger

	yesAssetID      string
	noAssetID       string
	buffer          decimal.Decimal
	maxSize         decimal.Decimal
	policy          LeggingPolicy
	unwindWaitTicks int64
	mergeFullSet    bool
	maxNotional     *decimal.Decimal

	books BookView

	active        *arbAttempt
	history       []*arbAttempt
	nextAttempt   int64
	rejections    map[string]int64
	opportunities []domain.Opportunity
	retiredOrders map[string]bool
}

// NewBinaryComplementArb validates the params and builds the strategy.
// Required params: yes_asset_id, no_asset_id. Optional: buffer (default
// 0.02), max_size (default 10 shares per leg), legging_policy (default
// wait_N_then_unwind), unwind_wait_ticks (default 5), enable_merge_full_set
// (default false), max_notional_usdc (unset means no cap).
func NewBinaryComplementArb(cfg Config, logger *slog.Logger) (Strategy, error) {
	yesID := paramString(cfg.Params, "yes_asset_id", "")
	noID := paramString(cfg.Params, "no_asset_id", "")
	buffer := paramDecimal(cfg.Params, "buffer", decimal.RequireFromString(defaultArbBuffer))
	maxSize := paramDecimal(cfg.Params, "max_size", decimal.RequireFromString(defaultArbMaxSize))
	policy := LeggingPolicy(paramString(cfg.Params, "legging_policy", string(LeggingPolicyWaitThenUnwind)))
	unwindWait := paramInt(cfg.Params, "unwind_wait_ticks", defaultArbUnwindWait)
	merge := paramBool(cfg.Params, "enable_merge_full_set", false)

	var problems []string
	if yesID == "" {
		problems = append(problems, "yes_asset_id is required")
	}
	if noID == "" {
		problems = append(problems, "no_asset_id is required")
	}
	if yesID != "" && yesID == noID {
		problems = append(problems, "yes_asset_id and no_asset_id must differ")
	}
	if buffer.IsNegative() {
		problems = append(problems, fmt.Sprintf("buffer must be non-negative, got %s", buffer))
	}
	if !maxSize.IsPositive() {
		problems = append(problems, fmt.Sprintf("max_size must be positive, got %s", maxSize))
	}
	if policy != LeggingPolicyWaitThenUnwind && policy != LeggingPolicyImmediateUnwind {
		problems = append(problems, fmt.Sprintf("unknown legging_policy %q (valid: %s, %s)",
			policy, LeggingPolicyWaitThenUnwind, LeggingPolicyImmediateUnwind))
	}
	if unwindWait < 0 {
		problems = append(problems, fmt.Sprintf("unwind_wait_ticks must be non-negative, got %d", unwindWait))
	}

	var maxNotional *decimal.Decimal
	if _, ok := cfg.Params["max_notional_usdc"]; ok {
		v := paramDecimal(cfg.Params, "max_notional_usdc", decimal.Zero)
		if !v.IsPositive() {
			problems = append(problems, "max_notional_usdc must be positive when set")
		}
		maxNotional = &v
	}

	if len(problems) > 0 {
		return nil, &domain.ConfigError{Problems: problems}
	}

	return &BinaryComplementArb{
		logger:          logger.With(slog.String("strategy", "binary_complement_arb")),
		yesAssetID:      yesID,
		noAssetID:       noID,
		buffer:          buffer,
		maxSize:         maxSize,
		policy:          policy,
		unwindWaitTicks: unwindWait,
		mergeFullSet:    merge,
		maxNotional:     maxNotional,
		rejections:      make(map[string]int64),
		retiredOrders:   make(map[string]bool),
	}, nil
}

// Name returns the strategy identifier.
func (s *BinaryComplementArb) Name() string { return "binary_complement_arb" }

// DualAssetIDs reports the YES/NO pair so the engine can validate tape
// coverage and track both books.
func (s *BinaryComplementArb) DualAssetIDs() (string, string) {
	return s.yesAssetID, s.noAssetID
}

// BindBooks gives the strategy read access to both legs' books.
func (s *BinaryComplementArb) BindBooks(view BookView) { s.books = view }

func (s *BinaryComplementArb) OnStart(_ string, _ decimal.Decimal) error {
	if s.books == nil {
		return domain.ErrBookViewUnbound
	}
	s.logger.Info("complement arb armed",
		slog.String("yes_asset_id", s.yesAssetID),
		slog.String("no_asset_id", s.noAssetID),
		slog.String("buffer", s.buffer.String()),
		slog.String("max_size", s.maxSize.String()),
		slog.String("legging_policy", string(s.policy)),
		slog.Int64("unwind_wait_ticks", s.unwindWaitTicks),
		slog.Bool("merge_full_set", s.mergeFullSet),
	)
	return nil
}

func (s *BinaryComplementArb) OnEvent(tick Tick) ([]domain.OrderIntent, error) {
	if s.books == nil {
		return nil, domain.ErrBookViewUnbound
	}
	if s.active != nil {
		return s.manageAttempt(tick), nil
	}
	return s.detect(tick), nil
}

// OnFill attributes entry fills to the active attempt's legs. Fills on
// retired orders and on unwind sells are portfolio-relevant but do not touch
// attempt state.
func (s *BinaryComplementArb) OnFill(fill domain.Fill) {
	a := s.active
	if a == nil || fill.Side != domain.OrderSideBuy || s.retiredOrders[fill.OrderID] {
		return
	}
	var leg *legState
	switch {
	case a.yes.matches(fill):
		leg = &a.yes
	case a.no.matches(fill):
		leg = &a.no
	default:
		return
	}
	leg.orderID = fill.OrderID
	leg.filled = leg.filled.Add(fill.FillSize)
	leg.cost = leg.cost.Add(fill.FillPrice.Mul(fill.FillSize))
	leg.lastFillPrice = fill.FillPrice
	leg.hasFill = true
	if a.firstFillTick < 0 {
		a.firstFillTick = a.ticksSinceEnter
	}
}

func (l *legState) matches(fill domain.Fill) bool {
	if fill.AssetID != l.assetID {
		return false
	}
	if l.orderID != "" {
		return fill.OrderID == l.orderID
	}
	return true
}

// OnFinish retires a still-open attempt as tape_ended_open.
func (s *BinaryComplementArb) OnFinish() error {
	if a := s.active; a != nil {
		s.record(domain.Opportunity{
			Type:      arbStatusTapeEndedOpen,
			AttemptID: a.id,
			Seq:       a.detectedSeq,
			TsRecv:    a.detectedTs,
			Size:      dptr(a.size),
			Reason:    "tape ended with attempt active",
		})
		s.complete(a, arbStatusTapeEndedOpen)
	}
	s.logger.Info("complement arb finished",
		slog.Int("attempts", len(s.history)),
		slog.Int("opportunities", len(s.opportunities)),
	)
	return nil
}

// Opportunities returns the ordered structured log of attempt records.
func (s *BinaryComplementArb) Opportunities() []domain.Opportunity { return s.opportunities }

// RejectionCounts returns the per-reason tally of suppressed or waiting ticks.
func (s *BinaryComplementArb) RejectionCounts() map[string]int64 {
	out := make(map[string]int64, len(s.rejections))
	for k, v := range s.rejections {
		out[k] = v
	}
	return out
}

// ArbSummary aggregates attempt outcomes. Modeled totals cover merged
// attempts only, and the assumption is present only when a merge occurred.
func (s *BinaryComplementArb) ArbSummary() domain.ModeledArbSummary {
	summary := domain.ModeledArbSummary{
		AttemptsByStatus:   make(map[string]int64),
		TotalModeledCost:   decimal.Zero,
		TotalModeledProfit: decimal.Zero,
	}
	merged := false
	for _, a := range s.history {
		summary.AttemptsByStatus[a.status]++
		if a.status == arbStatusMerged {
			merged = true
			cost := a.yes.cost.Add(a.no.cost)
			summary.TotalModeledCost = summary.TotalModeledCost.Add(cost)
			summary.TotalModeledProfit = summary.TotalModeledProfit.Add(a.size.Sub(cost))
		}
	}
	if merged {
		assumption := MergeAssumption
		summary.Assumption = &assumption
	}
	return summary
}

func (s *BinaryComplementArb) detect(tick Tick) []domain.OrderIntent {
	yesAsk, yesOK := s.books.BestAsk(s.yesAssetID)
	noAsk, noOK := s.books.BestAsk(s.noAssetID)
	if !yesOK || !noOK {
		if !s.books.HasSnapshot(s.yesAssetID) || !s.books.HasSnapshot(s.noAssetID) {
			return s.reject("stale_or_missing_snapshot")
		}
		return s.reject("no_bbo")
	}

	one := decimal.NewFromInt(1)
	sumAsk := yesAsk.Add(noAsk)
	if !sumAsk.LessThan(one.Sub(s.buffer)) {
		if sumAsk.GreaterThanOrEqual(one) {
			return s.reject("edge_below_threshold")
		}
		return s.reject("fee_kills_edge")
	}

	if depth, ok := s.books.DepthAtBestAsk(s.yesAssetID); !ok || depth.LessThan(s.maxSize) {
		return s.reject("insufficient_depth_yes")
	}
	if depth, ok := s.books.DepthAtBestAsk(s.noAssetID); !ok || depth.LessThan(s.maxSize) {
		return s.reject("insufficient_depth_no")
	}

	notional := sumAsk.Mul(s.maxSize)
	if s.maxNotional != nil && notional.GreaterThan(*s.maxNotional) {
		return s.reject("min_notional_or_max_notional_gate")
	}

	s.nextAttempt++
	edge := one.Sub(sumAsk)
	a := &arbAttempt{
		id:            fmt.Sprintf("arb-%d", s.nextAttempt),
		detectedSeq:   tick.Seq,
		detectedTs:    tick.TsRecv,
		size:          s.maxSize,
		edge:          edge,
		expected:      edge.Mul(s.maxSize),
		yes:           legState{assetID: s.yesAssetID, leg: "yes", entryAsk: yesAsk},
		no:            legState{assetID: s.noAssetID, leg: "no", entryAsk: noAsk},
		status:        arbStatusEntering,
		firstFillTick: -1,
	}
	s.active = a

	s.record(domain.Opportunity{
		Type:           "detected",
		AttemptID:      a.id,
		Seq:            tick.Seq,
		TsRecv:         tick.TsRecv,
		YesAsk:         dptr(yesAsk),
		NoAsk:          dptr(noAsk),
		SumAsk:         dptr(sumAsk),
		Edge:           dptr(edge),
		Size:           dptr(a.size),
		ExpectedProfit: dptr(a.expected),
	})
	s.logger.Info("arb detected",
		slog.String("attempt_id", a.id),
		slog.Int64("seq", tick.Seq),
		slog.String("sum_ask", sumAsk.String()),
		slog.String("edge", edge.String()),
	)

	return []domain.OrderIntent{
		domain.SubmitIntent(s.yesAssetID, domain.OrderSideBuy, yesAsk, a.size, "arb_entry", s.attemptMeta(a, "yes")),
		domain.SubmitIntent(s.noAssetID, domain.OrderSideBuy, noAsk, a.size, "arb_entry", s.attemptMeta(a, "no")),
	}
}

func (s *BinaryComplementArb) manageAttempt(tick Tick) []domain.OrderIntent {
	a := s.active
	a.ticksSinceEnter++
	s.resolveOrderIDs(a, tick.OpenOrders)

	if a.yes.resolved(a.size) && a.no.resolved(a.size) {
		s.completeBothFilled(a, tick)
		return nil
	}

	var deadline bool
	switch s.policy {
	case LeggingPolicyImmediateUnwind:
		deadline = a.firstFillTick >= 0 && a.ticksSinceEnter-a.firstFillTick >= s.unwindWaitTicks
	default:
		deadline = a.ticksSinceEnter >= s.unwindWaitTicks
	}
	if !deadline {
		if a.yes.hasFill || a.no.hasFill {
			s.rejections["unwind_in_progress"]++
		} else {
			s.rejections["legging_blocked"]++
		}
		s.rejections["waiting_on_attempt"]++
		return nil
	}

	return s.unwind(a, tick)
}

// resolveOrderIDs recovers broker-assigned ids for the entry orders by
// matching open orders on asset, side, and limit price. Ids are also learned
// from fills; this path covers orders that have not filled yet.
func (s *BinaryComplementArb) resolveOrderIDs(a *arbAttempt, open map[string]domain.Order) {
	ids := make([]string, 0, len(open))
	for id := range open {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		o := open[id]
		if o.Side != domain.OrderSideBuy || s.retiredOrders[o.ID] {
			continue
		}
		for _, leg := range []*legState{&a.yes, &a.no} {
			if leg.orderID == "" && o.AssetID == leg.assetID && o.LimitPrice.Equal(leg.entryAsk) {
				leg.orderID = o.ID
				break
			}
		}
	}
}

func (s *BinaryComplementArb) completeBothFilled(a *arbAttempt, tick Tick) {
	cost := a.yes.cost.Add(a.no.cost)
	actual := a.size.Sub(cost)
	s.record(domain.Opportunity{
		Type:           arbStatusBothFilled,
		AttemptID:      a.id,
		Seq:            tick.Seq,
		TsRecv:         tick.TsRecv,
		YesFillPrice:   dptr(a.yes.avgFillPrice()),
		NoFillPrice:    dptr(a.no.avgFillPrice()),
		Size:           dptr(a.size),
		ExpectedProfit: dptr(a.expected),
		ActualProfit:   dptr(actual),
		TicksWaited:    iptr(a.ticksSinceEnter),
	})

	status := arbStatusBothFilled
	if s.mergeFullSet {
		proceeds := a.size
		s.record(domain.Opportunity{
			Type:            "merge_full_set",
			AttemptID:       a.id,
			Seq:             tick.Seq,
			TsRecv:          tick.TsRecv,
			Size:            dptr(a.size),
			ModeledCost:     dptr(cost),
			ModeledProceeds: dptr(proceeds),
			ModeledProfit:   dptr(proceeds.Sub(cost)),
			Assumption:      MergeAssumption,
		})
		status = arbStatusMerged
	}
	s.logger.Info("arb attempt filled",
		slog.String("attempt_id", a.id),
		slog.String("status", status),
		slog.String("actual_profit", actual.String()),
	)
	s.complete(a, status)
}

// unwind resolves an attempt that hit its deadline. Entry orders still open
// are cancelled; filled legs are sold at their own book's best bid.
func (s *BinaryComplementArb) unwind(a *arbAttempt, tick Tick) []domain.OrderIntent {
	var intents []domain.OrderIntent
	var cancelled []string
	for _, leg := range []*legState{&a.yes, &a.no} {
		if leg.orderID == "" {
			continue
		}
		if _, open := tick.OpenOrders[leg.orderID]; open {
			intents = append(intents, domain.CancelIntent(leg.orderID, "arb_timeout_cancel", s.attemptMeta(a, leg.leg)))
			cancelled = append(cancelled, leg.leg)
		}
	}

	yesFilled := a.yes.hasFill && a.yes.filled.IsPositive()
	noFilled := a.no.hasFill && a.no.filled.IsPositive()

	if !yesFilled && !noFilled {
		s.record(domain.Opportunity{
			Type:        arbStatusCancelled,
			AttemptID:   a.id,
			Seq:         tick.Seq,
			TsRecv:      tick.TsRecv,
			TicksWaited: iptr(a.ticksSinceEnter),
			Reason:      "timeout_no_fills",
		})
		s.logger.Info("arb attempt cancelled",
			slog.String("attempt_id", a.id),
			slog.Int64("ticks_waited", a.ticksSinceEnter),
		)
		s.complete(a, arbStatusCancelled)
		return intents
	}

	if yesFilled != noFilled {
		filled, empty := &a.yes, &a.no
		if noFilled {
			filled, empty = &a.no, &a.yes
		}
		status := arbStatusUnwound
		reason := "no_bid_for_unwind"
		if bid, ok := s.books.BestBid(filled.assetID); ok && filled.filled.IsPositive() {
			intents = append(intents, domain.SubmitIntent(filled.assetID, domain.OrderSideSell, bid, filled.filled, "arb_unwind_sell", s.attemptMeta(a, filled.leg)))
			status = arbStatusLeggedOut
			reason = ""
		}
		s.record(domain.Opportunity{
			Type:         status,
			AttemptID:    a.id,
			Seq:          tick.Seq,
			TsRecv:       tick.TsRecv,
			FilledLeg:    filled.leg,
			CancelledLeg: empty.leg,
			Size:         dptr(filled.filled),
			TicksWaited:  iptr(a.ticksSinceEnter),
			Reason:       reason,
		})
		s.logger.Info("arb attempt legged out",
			slog.String("attempt_id", a.id),
			slog.String("filled_leg", filled.leg),
			slog.Int64("ticks_waited", a.ticksSinceEnter),
		)
		s.complete(a, status)
		return intents
	}

	// Both legs partially filled. Sell whatever filled on each side.
	for _, leg := range []*legState{&a.yes, &a.no} {
		if !leg.filled.IsPositive() {
			continue
		}
		if bid, ok := s.books.BestBid(leg.assetID); ok {
			intents = append(intents, domain.SubmitIntent(leg.assetID, domain.OrderSideSell, bid, leg.filled, "arb_unwind_sell", s.attemptMeta(a, leg.leg)))
		}
	}
	s.record(domain.Opportunity{
		Type:        arbStatusUnwound,
		AttemptID:   a.id,
		Seq:         tick.Seq,
		TsRecv:      tick.TsRecv,
		Size:        dptr(a.yes.filled.Add(a.no.filled)),
		TicksWaited: iptr(a.ticksSinceEnter),
		Reason:      "timeout_both_partial",
	})
	s.logger.Info("arb attempt unwound",
		slog.String("attempt_id", a.id),
		slog.Int64("ticks_waited", a.ticksSinceEnter),
		slog.Any("cancelled_legs", cancelled),
	)
	s.complete(a, arbStatusUnwound)
	return intents
}

func (s *BinaryComplementArb) complete(a *arbAttempt, status string) {
	a.status = status
	a.ticksWaited = a.ticksSinceEnter
	for _, id := range []string{a.yes.orderID, a.no.orderID} {
		if id != "" {
			s.retiredOrders[id] = true
		}
	}
	s.history = append(s.history, a)
	s.active = nil
}

func (s *BinaryComplementArb) reject(reason string) []domain.OrderIntent {
	s.rejections[reason]++
	return nil
}

func (s *BinaryComplementArb) record(opp domain.Opportunity) {
	s.opportunities = append(s.opportunities, opp)
}

func (s *BinaryComplementArb) attemptMeta(a *arbAttempt, leg string) map[string]string {
	return map[string]string{"attempt_id": a.id, "leg": leg}
}

func dptr(d decimal.Decimal) *decimal.Decimal { return &d }

func iptr(n int64) *int64 { return &n }
