package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// ParseOrderSide accepts both the lowercase order convention and the
// uppercase wire convention ("BUY"/"SELL").
func ParseOrderSide(s string) (OrderSide, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "buy":
		return OrderSideBuy, nil
	case "sell":
		return OrderSideSell, nil
	default:
		return "", fmt.Errorf("unknown order side %q", s)
	}
}

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderStatus tracks the simulated order lifecycle.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusActive    OrderStatus = "active"
	OrderStatusPartial   OrderStatus = "partial"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order is a simulated limit order. Created by SimBroker.SubmitOrder and
// mutated only by the broker on activation, fill, and cancel.
type Order struct {
	ID         string          `json:"order_id"`
	AssetID    string          `json:"asset_id"`
	Side       OrderSide       `json:"side"`
	LimitPrice decimal.Decimal `json:"limit_price"`
	Size       decimal.Decimal `json:"size"`
	SubmitSeq  int64           `json:"submit_seq"`
	SubmitTs   float64         `json:"submit_ts"`
	Status     OrderStatus     `json:"status"`
	FilledSize decimal.Decimal `json:"filled_size"`
}

// Terminal reports whether the order has left the open set.
func (o Order) Terminal() bool {
	return o.Status == OrderStatusFilled || o.Status == OrderStatusCancelled
}

// Remaining returns the unfilled size.
func (o Order) Remaining() decimal.Decimal {
	return o.Size.Sub(o.FilledSize)
}

// FillStatus distinguishes partial from completing fills.
type FillStatus string

const (
	FillStatusPartial FillStatus = "partial"
	FillStatusFull    FillStatus = "full"
)

// Fill is one simulated execution. Append-only: the broker produces fills,
// the ledger and strategy consume copies.
type Fill struct {
	OrderID    string          `json:"order_id"`
	AssetID    string          `json:"asset_id"`
	Side       OrderSide       `json:"side"`
	FillPrice  decimal.Decimal `json:"fill_price"`
	FillSize   decimal.Decimal `json:"fill_size"`
	FillStatus FillStatus      `json:"fill_status"`
	Seq        int64           `json:"seq"`
	TsRecv     float64         `json:"ts_recv"`
}

// OrderEventType labels broker lifecycle events.
type OrderEventType string

const (
	OrderEventActivated OrderEventType = "activated"
	OrderEventFill      OrderEventType = "fill"
	OrderEventCancelled OrderEventType = "cancelled"
)

// OrderEvent is one orders.jsonl row: an entry in the broker's append-only
// lifecycle log. The ledger replays these in order. Fill fields are set only
// on fill events.
type OrderEvent struct {
	Event      OrderEventType   `json:"event"`
	Seq        int64            `json:"seq"`
	TsRecv     float64          `json:"ts_recv"`
	OrderID    string           `json:"order_id"`
	AssetID    string           `json:"asset_id"`
	Side       OrderSide        `json:"side"`
	LimitPrice decimal.Decimal  `json:"limit_price"`
	Size       decimal.Decimal  `json:"size"`
	Status     OrderStatus      `json:"status"`
	FillPrice  *decimal.Decimal `json:"fill_price,omitempty"`
	FillSize   *decimal.Decimal `json:"fill_size,omitempty"`
	FillStatus FillStatus       `json:"fill_status,omitempty"`
}
