package domain

import "github.com/shopspring/decimal"

// Opportunity is one opportunities.jsonl row: a structured entry in a
// strategy's ordered diagnostic log. Type, AttemptID, and Seq are always set;
// the remaining fields depend on the record type.
type Opportunity struct {
	Type            string           `json:"type"`
	AttemptID       string           `json:"attempt_id"`
	Seq             int64            `json:"seq"`
	TsRecv          float64          `json:"ts_recv"`
	YesAsk          *decimal.Decimal `json:"yes_ask,omitempty"`
	NoAsk           *decimal.Decimal `json:"no_ask,omitempty"`
	SumAsk          *decimal.Decimal `json:"sum_ask,omitempty"`
	Edge            *decimal.Decimal `json:"edge,omitempty"`
	Size            *decimal.Decimal `json:"size,omitempty"`
	ExpectedProfit  *decimal.Decimal `json:"expected_profit,omitempty"`
	YesFillPrice    *decimal.Decimal `json:"yes_fill_price,omitempty"`
	NoFillPrice     *decimal.Decimal `json:"no_fill_price,omitempty"`
	ActualProfit    *decimal.Decimal `json:"actual_profit,omitempty"`
	ModeledCost     *decimal.Decimal `json:"modeled_cost,omitempty"`
	ModeledProceeds *decimal.Decimal `json:"modeled_proceeds,omitempty"`
	ModeledProfit   *decimal.Decimal `json:"modeled_profit,omitempty"`
	Assumption      string           `json:"assumption,omitempty"`
	FilledLeg       string           `json:"filled_leg,omitempty"`
	CancelledLeg    string           `json:"cancelled_leg,omitempty"`
	TicksWaited     *int64           `json:"ticks_waited,omitempty"`
	Reason          string           `json:"reason,omitempty"`
}

// ModeledArbSummary aggregates a run's arbitrage attempts. Cost and profit
// totals cover merged attempts only; Assumption is null unless at least one
// merge occurred.
type ModeledArbSummary struct {
	AttemptsByStatus   map[string]int64 `json:"attempts_by_status"`
	TotalModeledCost   decimal.Decimal  `json:"total_modeled_cost"`
	TotalModeledProfit decimal.Decimal  `json:"total_modeled_profit"`
	Assumption         *string          `json:"assumption"`
}
