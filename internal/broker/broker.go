// Package broker simulates order execution against replayed books. Orders
// activate and cancel after configurable tick latencies and match against the
// best opposite price level only, with fills isolated per asset.
package broker

import (
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/book"
	"github.com/Amanpat/polysim/internal/domain"
)

// SimBroker owns the open-order set, the latency schedule, and the append-only
// fill and lifecycle logs. All iteration follows insertion order so repeated
// runs replay identically.
type SimBroker struct {
	latency LatencyModel
	logger  *slog.Logger

	orders     map[string]*domain.Order
	orderIDs   []string
	activateAt map[string]int64
	cancelAt   map[string]int64

	fills  []domain.Fill
	events []domain.OrderEvent

	stepped map[string]int64
	nextID  int64
}

// New returns an empty broker.
func New(latency LatencyModel, logger *slog.Logger) *SimBroker {
	return &SimBroker{
		latency:    latency,
		logger:     logger.With(slog.String("component", "broker")),
		orders:     make(map[string]*domain.Order),
		activateAt: make(map[string]int64),
		cancelAt:   make(map[string]int64),
		stepped:    make(map[string]int64),
	}
}

// SubmitOrder records a new order and schedules its activation at
// submit_seq + submit latency. It always succeeds and returns the
// broker-assigned order id.
func (b *SimBroker) SubmitOrder(assetID string, side domain.OrderSide, limitPrice, size decimal.Decimal, submitSeq int64, submitTs float64) string {
	b.nextID++
	id := fmt.Sprintf("ord-%d", b.nextID)

	o := &domain.Order{
		ID:         id,
		AssetID:    assetID,
		Side:       side,
		LimitPrice: limitPrice,
		Size:       size,
		SubmitSeq:  submitSeq,
		SubmitTs:   submitTs,
		Status:     domain.OrderStatusPending,
		FilledSize: decimal.Zero,
	}
	b.orders[id] = o
	b.orderIDs = append(b.orderIDs, id)
	b.activateAt[id] = b.latency.ActivationSeq(submitSeq)

	b.logger.Debug("order submitted",
		slog.String("order_id", id),
		slog.String("asset_id", assetID),
		slog.String("side", string(side)),
		slog.String("limit_price", limitPrice.String()),
		slog.String("size", size.String()),
		slog.Int64("activate_at", b.activateAt[id]),
	)
	return id
}

// CancelOrder schedules a cancellation at cancel_seq + cancel latency. It
// fails when the order is unknown or already terminal. Re-cancelling keeps
// the earliest scheduled seq.
func (b *SimBroker) CancelOrder(orderID string, cancelSeq int64, cancelTs float64) error {
	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("cancel %s: %w", orderID, domain.ErrUnknownOrder)
	}
	if o.Terminal() {
		return fmt.Errorf("cancel %s: %w", orderID, domain.ErrOrderClosed)
	}

	at := b.latency.CancelSeq(cancelSeq)
	if prev, scheduled := b.cancelAt[orderID]; !scheduled || at < prev {
		b.cancelAt[orderID] = at
	}
	b.logger.Debug("cancel scheduled",
		slog.String("order_id", orderID),
		slog.Int64("cancel_seq", cancelSeq),
		slog.Int64("effective_at", b.cancelAt[orderID]),
	)
	return nil
}

// Step advances the broker for one tape event against one asset's book. It
// first resolves every due activation and cancellation (unfiltered), then
// matches active orders for fillAssetID (all active orders when the filter is
// empty) against the book's best opposite level. Idempotent per
// (event seq, fill asset): repeated calls return no further fills.
//
// An order only ever matches against its own asset's book, regardless of
// filter; that isolation is what keeps multi-asset ticks honest.
func (b *SimBroker) Step(ev domain.TapeEvent, bk *book.L2Book, fillAssetID string) []domain.Fill {
	b.resolveDue(ev.Seq, ev.TsRecv)

	if last, ok := b.stepped[fillAssetID]; ok && last == ev.Seq {
		return nil
	}
	b.stepped[fillAssetID] = ev.Seq

	var out []domain.Fill
	for _, id := range b.orderIDs {
		o := b.orders[id]
		if o.Status != domain.OrderStatusActive && o.Status != domain.OrderStatusPartial {
			continue
		}
		if fillAssetID != "" && o.AssetID != fillAssetID {
			continue
		}
		if o.AssetID != bk.AssetID() {
			continue
		}
		if fill, ok := b.match(o, bk, ev.Seq, ev.TsRecv); ok {
			out = append(out, fill)
		}
	}
	return out
}

// match attempts a single-level fill: the full size resting at the best
// opposite price, capped by the order's remaining size. A BUY fills at
// best_ask <= limit, a SELL at best_bid >= limit; the fill price is the book
// price, never the limit.
func (b *SimBroker) match(o *domain.Order, bk *book.L2Book, seq int64, ts float64) (domain.Fill, bool) {
	var price, avail decimal.Decimal
	switch o.Side {
	case domain.OrderSideBuy:
		ask, ok := bk.BestAsk()
		if !ok || ask.GreaterThan(o.LimitPrice) {
			return domain.Fill{}, false
		}
		price, avail = ask, bk.DepthAtBestAsk()
	case domain.OrderSideSell:
		bid, ok := bk.BestBid()
		if !ok || bid.LessThan(o.LimitPrice) {
			return domain.Fill{}, false
		}
		price, avail = bid, bk.DepthAtBestBid()
	default:
		return domain.Fill{}, false
	}

	fillSize := decimal.Min(avail, o.Remaining())
	if !fillSize.IsPositive() {
		return domain.Fill{}, false
	}

	o.FilledSize = o.FilledSize.Add(fillSize)
	status := domain.FillStatusPartial
	if o.FilledSize.GreaterThanOrEqual(o.Size) {
		status = domain.FillStatusFull
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartial
	}

	fill := domain.Fill{
		OrderID:    o.ID,
		AssetID:    o.AssetID,
		Side:       o.Side,
		FillPrice:  price,
		FillSize:   fillSize,
		FillStatus: status,
		Seq:        seq,
		TsRecv:     ts,
	}
	b.fills = append(b.fills, fill)

	fp, fs := fill.FillPrice, fill.FillSize
	b.events = append(b.events, domain.OrderEvent{
		Event:      domain.OrderEventFill,
		Seq:        seq,
		TsRecv:     ts,
		OrderID:    o.ID,
		AssetID:    o.AssetID,
		Side:       o.Side,
		LimitPrice: o.LimitPrice,
		Size:       o.Size,
		Status:     o.Status,
		FillPrice:  &fp,
		FillSize:   &fs,
		FillStatus: status,
	})

	b.logger.Debug("order filled",
		slog.String("order_id", o.ID),
		slog.String("asset_id", o.AssetID),
		slog.String("fill_price", price.String()),
		slog.String("fill_size", fillSize.String()),
		slog.String("fill_status", string(status)),
		slog.Int64("seq", seq),
	)
	return fill, true
}

// resolveDue applies every activation and cancellation whose scheduled seq
// has arrived. Activations land before cancellations so an order whose cancel
// and activation fall on the same tick still leaves an activated event behind.
func (b *SimBroker) resolveDue(seq int64, ts float64) {
	for _, id := range b.orderIDs {
		o := b.orders[id]

		if o.Status == domain.OrderStatusPending {
			if at, ok := b.activateAt[id]; ok && seq >= at {
				delete(b.activateAt, id)
				o.Status = domain.OrderStatusActive
				b.events = append(b.events, domain.OrderEvent{
					Event:      domain.OrderEventActivated,
					Seq:        seq,
					TsRecv:     ts,
					OrderID:    o.ID,
					AssetID:    o.AssetID,
					Side:       o.Side,
					LimitPrice: o.LimitPrice,
					Size:       o.Size,
					Status:     o.Status,
				})
				b.logger.Debug("order activated",
					slog.String("order_id", o.ID),
					slog.Int64("seq", seq),
				)
			}
		}

		if at, ok := b.cancelAt[id]; ok && seq >= at && !o.Terminal() {
			delete(b.cancelAt, id)
			o.Status = domain.OrderStatusCancelled
			b.events = append(b.events, domain.OrderEvent{
				Event:      domain.OrderEventCancelled,
				Seq:        seq,
				TsRecv:     ts,
				OrderID:    o.ID,
				AssetID:    o.AssetID,
				Side:       o.Side,
				LimitPrice: o.LimitPrice,
				Size:       o.Size,
				Status:     o.Status,
			})
			b.logger.Debug("order cancelled",
				slog.String("order_id", o.ID),
				slog.Int64("seq", seq),
			)
		}
	}
}

// OpenOrders returns a copy of every non-terminal order keyed by id, the
// read-only view handed to strategies at the start of a tick.
func (b *SimBroker) OpenOrders() map[string]domain.Order {
	out := make(map[string]domain.Order)
	for _, id := range b.orderIDs {
		if o := b.orders[id]; !o.Terminal() {
			out[id] = *o
		}
	}
	return out
}

// Fills returns the append-only fill log.
func (b *SimBroker) Fills() []domain.Fill { return b.fills }

// Events returns the append-only lifecycle log the ledger replays.
func (b *SimBroker) Events() []domain.OrderEvent { return b.events }
