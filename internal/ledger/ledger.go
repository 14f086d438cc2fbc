// Package ledger tracks cash, reservations, positions, realized PnL, and fees
// over a replay by folding the broker's lifecycle log, and marks open
// positions to market along the primary asset's quote timeline.
package ledger

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/domain"
)

// Window carries the tape bounds used for the synthetic initial/final rows of
// an order-free run.
type Window struct {
	FirstSeq int64
	LastSeq  int64
	FirstTs  float64
	LastTs   float64
}

// PortfolioLedger replays order lifecycle events into portfolio state.
// Process must run before Summary.
type PortfolioLedger struct {
	startingCash decimal.Decimal
	feeRateBps   decimal.Decimal
	markMethod   domain.MarkMethod
	logger       *slog.Logger

	cash           decimal.Decimal
	reservedCash   decimal.Decimal
	reservedShares map[string]decimal.Decimal
	positions      map[string]decimal.Decimal
	costBasis      map[string]decimal.Decimal
	realized       decimal.Decimal
	totalFees      decimal.Decimal

	cashByOrder   map[string]decimal.Decimal
	sharesByOrder map[string]decimal.Decimal
}

// New validates the run parameters and returns a ledger starting from
// startingCash.
func New(startingCash, feeRateBps decimal.Decimal, markMethod domain.MarkMethod, logger *slog.Logger) (*PortfolioLedger, error) {
	var problems []string
	if startingCash.IsNegative() {
		problems = append(problems, fmt.Sprintf("starting_cash must be non-negative, got %s", startingCash))
	}
	if feeRateBps.IsNegative() {
		problems = append(problems, fmt.Sprintf("fee_rate_bps must be non-negative, got %s", feeRateBps))
	}
	if markMethod != domain.MarkMethodBid && markMethod != domain.MarkMethodMidpoint {
		problems = append(problems, fmt.Sprintf("unknown mark_method %q (valid: bid, midpoint)", markMethod))
	}
	if len(problems) > 0 {
		return nil, &domain.ConfigError{Problems: problems}
	}
	return &PortfolioLedger{
		startingCash: startingCash,
		feeRateBps:   feeRateBps,
		markMethod:   markMethod,
		logger:       logger.With(slog.String("component", "ledger")),
	}, nil
}

// Process replays the lifecycle log in order, interleaved with the primary
// timeline by seq, and returns one ledger snapshot per event plus the equity
// curve. With zero events it returns exactly two synthetic rows (initial,
// final) at the tape bounds. Every position is marked at the primary asset's
// quote, including positions in other assets (single-timeline limitation).
func (l *PortfolioLedger) Process(events []domain.OrderEvent, timeline []domain.TimelineRow, window Window) ([]domain.LedgerSnapshot, []domain.EquityPoint) {
	l.reset()

	var snapshots []domain.LedgerSnapshot
	var curve []domain.EquityPoint

	ei := 0
	lastMark := decimal.NullDecimal{}
	for _, row := range timeline {
		for ei < len(events) && events[ei].Seq <= row.Seq {
			l.apply(events[ei])
			snapshots = append(snapshots, l.snapshot(events[ei]))
			ei++
		}
		mark := l.resolveMark(row.BestBid, row.BestAsk)
		if !mark.Valid {
			mark = lastMark
		}
		lastMark = mark
		curve = append(curve, l.equityPoint(row.Seq, row.TsRecv, mark))
	}
	for ei < len(events) {
		l.apply(events[ei])
		snapshots = append(snapshots, l.snapshot(events[ei]))
		ei++
	}

	if len(snapshots) == 0 {
		snapshots = []domain.LedgerSnapshot{
			l.syntheticRow("initial", window.FirstSeq, window.FirstTs),
			l.syntheticRow("final", window.LastSeq, window.LastTs),
		}
	}

	l.logger.Info("ledger processed",
		slog.Int("order_events", len(events)),
		slog.Int("snapshots", len(snapshots)),
		slog.Int("equity_points", len(curve)),
		slog.String("realized_pnl", l.realized.String()),
		slog.String("total_fees", l.totalFees.String()),
	)
	return snapshots, curve
}

// Summary folds the state left by Process and the final primary quote into
// the headline numbers. When no mark is resolvable, open positions are
// valued at cost basis.
func (l *PortfolioLedger) Summary(runID string, finalBid, finalAsk decimal.NullDecimal) domain.PnLSummary {
	mark := l.resolveMark(finalBid, finalAsk)

	positionValue := decimal.Zero
	basisTotal := decimal.Zero
	for asset, pos := range l.positions {
		basisTotal = basisTotal.Add(l.costBasis[asset])
		if mark.Valid {
			positionValue = positionValue.Add(pos.Mul(mark.Decimal))
		}
	}
	unrealized := decimal.Zero
	if mark.Valid {
		unrealized = positionValue.Sub(basisTotal)
	} else {
		positionValue = basisTotal
	}

	finalEquity := l.cash.Add(positionValue)
	return domain.PnLSummary{
		RunID:         runID,
		StartingCash:  l.startingCash,
		FinalCash:     l.cash,
		FinalEquity:   finalEquity,
		RealizedPnL:   l.realized,
		UnrealizedPnL: unrealized,
		TotalFees:     l.totalFees,
		NetProfit:     finalEquity.Sub(l.startingCash),
	}
}

func (l *PortfolioLedger) reset() {
	l.cash = l.startingCash
	l.reservedCash = decimal.Zero
	l.reservedShares = make(map[string]decimal.Decimal)
	l.positions = make(map[string]decimal.Decimal)
	l.costBasis = make(map[string]decimal.Decimal)
	l.realized = decimal.Zero
	l.totalFees = decimal.Zero
	l.cashByOrder = make(map[string]decimal.Decimal)
	l.sharesByOrder = make(map[string]decimal.Decimal)
}

func (l *PortfolioLedger) apply(ev domain.OrderEvent) {
	switch ev.Event {
	case domain.OrderEventActivated:
		if ev.Side == domain.OrderSideBuy {
			reserve := ev.LimitPrice.Mul(ev.Size)
			l.reservedCash = l.reservedCash.Add(reserve)
			l.cashByOrder[ev.OrderID] = l.cashByOrder[ev.OrderID].Add(reserve)
		} else {
			l.reservedShares[ev.AssetID] = l.reservedShares[ev.AssetID].Add(ev.Size)
			l.sharesByOrder[ev.OrderID] = l.sharesByOrder[ev.OrderID].Add(ev.Size)
		}

	case domain.OrderEventFill:
		if ev.FillPrice == nil || ev.FillSize == nil {
			return
		}
		price, size := *ev.FillPrice, *ev.FillSize
		notional := price.Mul(size)
		fee := notional.Mul(l.feeRateBps).Shift(-4)
		l.totalFees = l.totalFees.Add(fee)

		if ev.Side == domain.OrderSideBuy {
			l.cash = l.cash.Sub(notional).Sub(fee)
			release := decimal.Min(l.cashByOrder[ev.OrderID], ev.LimitPrice.Mul(size))
			l.reservedCash = l.reservedCash.Sub(release)
			l.cashByOrder[ev.OrderID] = l.cashByOrder[ev.OrderID].Sub(release)
			l.positions[ev.AssetID] = l.positions[ev.AssetID].Add(size)
			l.costBasis[ev.AssetID] = l.costBasis[ev.AssetID].Add(notional)
		} else {
			l.cash = l.cash.Add(notional).Sub(fee)
			release := decimal.Min(l.sharesByOrder[ev.OrderID], size)
			l.reservedShares[ev.AssetID] = l.reservedShares[ev.AssetID].Sub(release)
			l.sharesByOrder[ev.OrderID] = l.sharesByOrder[ev.OrderID].Sub(release)

			pos := l.positions[ev.AssetID]
			costOut := decimal.Zero
			if pos.IsPositive() {
				matched := decimal.Min(size, pos)
				costOut = l.costBasis[ev.AssetID].Mul(matched).Div(pos)
			}
			l.realized = l.realized.Add(notional.Sub(costOut))
			l.costBasis[ev.AssetID] = l.costBasis[ev.AssetID].Sub(costOut)
			l.positions[ev.AssetID] = pos.Sub(size)
		}

	case domain.OrderEventCancelled:
		if res := l.cashByOrder[ev.OrderID]; res.IsPositive() {
			l.reservedCash = l.reservedCash.Sub(res)
		}
		delete(l.cashByOrder, ev.OrderID)
		if res := l.sharesByOrder[ev.OrderID]; res.IsPositive() {
			l.reservedShares[ev.AssetID] = l.reservedShares[ev.AssetID].Sub(res)
		}
		delete(l.sharesByOrder, ev.OrderID)
	}
}

func (l *PortfolioLedger) snapshot(ev domain.OrderEvent) domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		Seq:            ev.Seq,
		TsRecv:         ev.TsRecv,
		Event:          string(ev.Event),
		OrderID:        ev.OrderID,
		Cash:           l.cash,
		ReservedCash:   l.reservedCash,
		ReservedShares: copyNonZero(l.reservedShares),
		Positions:      copyNonZero(l.positions),
		RealizedPnL:    l.realized,
		TotalFees:      l.totalFees,
	}
}

func (l *PortfolioLedger) syntheticRow(event string, seq int64, ts float64) domain.LedgerSnapshot {
	return domain.LedgerSnapshot{
		Seq:            seq,
		TsRecv:         ts,
		Event:          event,
		Cash:           l.cash,
		ReservedCash:   l.reservedCash,
		ReservedShares: map[string]decimal.Decimal{},
		Positions:      map[string]decimal.Decimal{},
		RealizedPnL:    l.realized,
		TotalFees:      l.totalFees,
	}
}

func (l *PortfolioLedger) equityPoint(seq int64, ts float64, mark decimal.NullDecimal) domain.EquityPoint {
	positionValue := decimal.Zero
	if mark.Valid {
		for _, pos := range l.positions {
			positionValue = positionValue.Add(pos.Mul(mark.Decimal))
		}
	}
	return domain.EquityPoint{
		Seq:           seq,
		TsRecv:        ts,
		Mark:          mark,
		Cash:          l.cash,
		PositionValue: positionValue,
		Equity:        l.cash.Add(positionValue),
	}
}

// resolveMark picks the mark per the configured method: the bid, or the
// bid/ask midpoint. Midpoint falls back to the bid when the ask side is
// absent; with no bid there is no mark.
func (l *PortfolioLedger) resolveMark(bid, ask decimal.NullDecimal) decimal.NullDecimal {
	switch l.markMethod {
	case domain.MarkMethodMidpoint:
		if bid.Valid && ask.Valid {
			mid := bid.Decimal.Add(ask.Decimal).Div(decimal.NewFromInt(2))
			return decimal.NullDecimal{Decimal: mid, Valid: true}
		}
		return bid
	default:
		return bid
	}
}

func copyNonZero(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		if !v.IsZero() {
			out[k] = v
		}
	}
	return out
}
