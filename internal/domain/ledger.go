package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MarkMethod selects the quote used for mark-to-market valuation.
type MarkMethod string

const (
	MarkMethodBid      MarkMethod = "bid"
	MarkMethodMidpoint MarkMethod = "midpoint"
)

// ParseMarkMethod validates a mark method string.
func ParseMarkMethod(s string) (MarkMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "bid":
		return MarkMethodBid, nil
	case "midpoint":
		return MarkMethodMidpoint, nil
	default:
		return "", fmt.Errorf("unknown mark_method %q (valid: bid, midpoint)", s)
	}
}

// LedgerSnapshot is one ledger.jsonl row: portfolio state after one
// ledger-relevant event. A run with zero order events emits exactly two
// synthetic rows ("initial", "final") at the tape's first and last seq.
type LedgerSnapshot struct {
	Seq            int64                      `json:"seq"`
	TsRecv         float64                    `json:"ts_recv"`
	Event          string                     `json:"event"`
	OrderID        string                     `json:"order_id,omitempty"`
	Cash           decimal.Decimal            `json:"cash"`
	ReservedCash   decimal.Decimal            `json:"reserved_cash"`
	ReservedShares map[string]decimal.Decimal `json:"reserved_shares"`
	Positions      map[string]decimal.Decimal `json:"positions"`
	RealizedPnL    decimal.Decimal            `json:"realized_pnl"`
	TotalFees      decimal.Decimal            `json:"total_fees"`
}

// EquityPoint is one equity_curve.jsonl row. Every open position is valued at
// the primary asset's mark; secondary legs inherit the primary's price series
// (known single-timeline limitation, kept on purpose).
type EquityPoint struct {
	Seq           int64               `json:"seq"`
	TsRecv        float64             `json:"ts_recv"`
	Mark          decimal.NullDecimal `json:"mark"`
	Cash          decimal.Decimal     `json:"cash"`
	PositionValue decimal.Decimal     `json:"position_value"`
	Equity        decimal.Decimal     `json:"equity"`
}

// PnLSummary holds the headline numbers for a run.
type PnLSummary struct {
	RunID         string          `json:"run_id"`
	StartingCash  decimal.Decimal `json:"starting_cash"`
	FinalCash     decimal.Decimal `json:"final_cash"`
	FinalEquity   decimal.Decimal `json:"final_equity"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	TotalFees     decimal.Decimal `json:"total_fees"`
	NetProfit     decimal.Decimal `json:"net_profit"`
}
