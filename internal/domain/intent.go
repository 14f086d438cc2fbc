package domain

import "github.com/shopspring/decimal"

// IntentAction tags the OrderIntent variant.
type IntentAction string

const (
	IntentSubmit IntentAction = "submit"
	IntentCancel IntentAction = "cancel"
)

// OrderIntent is the only way a strategy acts on the market: it is produced by
// Strategy.OnEvent and consumed exactly once by the runner in the same tick.
// Submit intents with an empty AssetID address the primary asset.
type OrderIntent struct {
	Action     IntentAction
	AssetID    string
	Side       OrderSide
	LimitPrice decimal.Decimal
	Size       decimal.Decimal
	OrderID    string
	Reason     string
	Meta       map[string]string
}

// SubmitIntent builds a submit-order intent.
func SubmitIntent(assetID string, side OrderSide, limitPrice, size decimal.Decimal, reason string, meta map[string]string) OrderIntent {
	return OrderIntent{
		Action:     IntentSubmit,
		AssetID:    assetID,
		Side:       side,
		LimitPrice: limitPrice,
		Size:       size,
		Reason:     reason,
		Meta:       meta,
	}
}

// CancelIntent builds a cancel-order intent.
func CancelIntent(orderID, reason string, meta map[string]string) OrderIntent {
	return OrderIntent{
		Action:  IntentCancel,
		OrderID: orderID,
		Reason:  reason,
		Meta:    meta,
	}
}

// Decision is one decisions.jsonl row: an intent as the runner consumed it.
// Submit rows record the broker-assigned order id; cancel rows record the
// target order id.
type Decision struct {
	Seq        int64             `json:"seq"`
	TsRecv     float64           `json:"ts_recv"`
	Action     IntentAction      `json:"action"`
	AssetID    string            `json:"asset_id,omitempty"`
	Side       OrderSide         `json:"side,omitempty"`
	LimitPrice *decimal.Decimal  `json:"limit_price,omitempty"`
	Size       *decimal.Decimal  `json:"size,omitempty"`
	OrderID    string            `json:"order_id,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Meta       map[string]string `json:"meta,omitempty"`
}
