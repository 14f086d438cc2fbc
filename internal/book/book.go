// Package book reconstructs per-asset L2 order books (price-level depth, not
// per-order queues) from tape snapshot and delta events.
package book

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/domain"
)

// BookError is the structured error raised for malformed deltas when strict
// mode is enabled. Non-strict books absorb the same anomalies silently.
type BookError struct {
	AssetID string
	Op      string
	Reason  string
}

func (e *BookError) Error() string {
	return fmt.Sprintf("book %s: %s: %s", e.AssetID, e.Op, e.Reason)
}

// level keys are canonical price strings (Decimal.String trims trailing
// zeros), so "0.50" and "0.5" address the same ladder entry.
type sideLadder map[string]domain.BookLevel

// L2Book is the reconstructed book for a single asset. Mutated only by Apply
// and ApplyDelta; the runner owns one per tracked asset and lends read-only
// views to the strategy and broker during a step.
type L2Book struct {
	assetID     string
	strict      bool
	hasSnapshot bool
	bids        sideLadder
	asks        sideLadder
}

// New returns an empty book for assetID.
func New(assetID string, strict bool) *L2Book {
	return &L2Book{
		assetID: assetID,
		strict:  strict,
		bids:    make(sideLadder),
		asks:    make(sideLadder),
	}
}

// AssetID returns the asset this book reconstructs.
func (b *L2Book) AssetID() string { return b.assetID }

// HasSnapshot reports whether a full snapshot has been applied yet. Deltas
// alone can populate the ladders, but until a snapshot lands the book may be
// missing resting liquidity that predates the tape.
func (b *L2Book) HasSnapshot() bool { return b.hasSnapshot }

// Apply ingests one tape event: a snapshot replaces both ladders; a delta
// event (legacy single-asset or batched multi-asset) applies the entries that
// belong to this asset, in payload order.
func (b *L2Book) Apply(ev domain.TapeEvent) error {
	switch ev.EventType {
	case domain.EventTypeBook:
		if ev.AssetID != b.assetID {
			return b.violation("apply snapshot", fmt.Sprintf("event for asset %q", ev.AssetID))
		}
		b.bids = make(sideLadder, len(ev.Bids))
		b.asks = make(sideLadder, len(ev.Asks))
		for _, lvl := range ev.Bids {
			if lvl.Size.IsPositive() {
				b.bids[lvl.Price.String()] = lvl
			}
		}
		for _, lvl := range ev.Asks {
			if lvl.Size.IsPositive() {
				b.asks[lvl.Price.String()] = lvl
			}
		}
		b.hasSnapshot = true
		return nil

	case domain.EventTypePriceChange:
		for _, entry := range ev.Deltas() {
			if entry.AssetID != "" && entry.AssetID != b.assetID {
				// Batched events carry entries for other assets' books.
				continue
			}
			if err := b.ApplyDelta(entry); err != nil {
				return err
			}
		}
		return nil

	default:
		return b.violation("apply", fmt.Sprintf("unknown event type %q", ev.EventType))
	}
}

// ApplyDelta ingests one delta entry. Entries addressed to another asset are
// ignored (strict mode treats them as a violation). Size zero removes the
// level; removing a level that does not exist is a strict-mode violation.
func (b *L2Book) ApplyDelta(entry domain.DeltaEntry) error {
	if entry.AssetID != "" && entry.AssetID != b.assetID {
		return b.violation("apply delta", fmt.Sprintf("entry for asset %q", entry.AssetID))
	}

	var ladder sideLadder
	switch entry.Side {
	case domain.DeltaSideBuy:
		ladder = b.bids
	case domain.DeltaSideSell:
		ladder = b.asks
	default:
		return b.violation("apply delta", fmt.Sprintf("unknown side %q", entry.Side))
	}

	key := entry.Price.String()
	if entry.Size.IsZero() {
		if _, ok := ladder[key]; !ok {
			return b.violation("apply delta", fmt.Sprintf("remove of absent level %s/%s", entry.Side, key))
		}
		delete(ladder, key)
		return nil
	}
	if entry.Size.IsNegative() {
		return b.violation("apply delta", fmt.Sprintf("negative size at level %s/%s", entry.Side, key))
	}
	ladder[key] = domain.BookLevel{Price: entry.Price, Size: entry.Size}
	return nil
}

// BestBid returns the highest bid price, or false if the bid side is empty.
func (b *L2Book) BestBid() (decimal.Decimal, bool) {
	return bestOf(b.bids, func(p, best decimal.Decimal) bool { return p.GreaterThan(best) })
}

// BestAsk returns the lowest ask price, or false if the ask side is empty.
func (b *L2Book) BestAsk() (decimal.Decimal, bool) {
	return bestOf(b.asks, func(p, best decimal.Decimal) bool { return p.LessThan(best) })
}

// DepthAtBestBid returns the size resting at the best bid (zero when empty).
func (b *L2Book) DepthAtBestBid() decimal.Decimal {
	return b.depthAt(b.bids, func(p, best decimal.Decimal) bool { return p.GreaterThan(best) })
}

// DepthAtBestAsk returns the size resting at the best ask (zero when empty).
func (b *L2Book) DepthAtBestAsk() decimal.Decimal {
	return b.depthAt(b.asks, func(p, best decimal.Decimal) bool { return p.LessThan(best) })
}

func bestOf(ladder sideLadder, better func(p, best decimal.Decimal) bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, lvl := range ladder {
		if !found || better(lvl.Price, best) {
			best = lvl.Price
			found = true
		}
	}
	return best, found
}

func (b *L2Book) depthAt(ladder sideLadder, better func(p, best decimal.Decimal) bool) decimal.Decimal {
	best, ok := bestOf(ladder, better)
	if !ok {
		return decimal.Zero
	}
	return ladder[best.String()].Size
}

// violation raises a BookError in strict mode and absorbs it otherwise.
func (b *L2Book) violation(op, reason string) error {
	if !b.strict {
		return nil
	}
	return &BookError{AssetID: b.assetID, Op: op, Reason: reason}
}
