package domain

import "github.com/shopspring/decimal"

// EventType distinguishes the two tape event schemas.
type EventType string

const (
	EventTypeBook        EventType = "book"
	EventTypePriceChange EventType = "price_change"
)

// Delta entry sides use the Polymarket wire convention.
const (
	DeltaSideBuy  = "BUY"
	DeltaSideSell = "SELL"
)

// BookLevel is a single price+size entry in a snapshot ladder.
type BookLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// DeltaEntry is one price-level change. The legacy single-asset schema leaves
// AssetID empty (the event's asset_id applies); the batched multi-asset schema
// fills it per entry. Size zero removes the level.
type DeltaEntry struct {
	AssetID string          `json:"asset_id,omitempty"`
	Side    string          `json:"side"`
	Price   decimal.Decimal `json:"price"`
	Size    decimal.Decimal `json:"size"`
}

// TapeEvent is one recorded order-book event. Events are immutable once
// loaded; the tape loader produces them sorted by Seq and the runner iterates
// them read-only.
type TapeEvent struct {
	Seq       int64       `json:"seq"`
	TsRecv    float64     `json:"ts_recv"`
	EventType EventType   `json:"event_type"`
	AssetID   string      `json:"asset_id,omitempty"`
	Bids      []BookLevel `json:"bids,omitempty"`
	Asks      []BookLevel `json:"asks,omitempty"`
	// Changes carries the legacy single-asset delta entries.
	Changes []DeltaEntry `json:"changes,omitempty"`
	// PriceChanges carries the batched multi-asset delta entries.
	PriceChanges []DeltaEntry `json:"price_changes,omitempty"`
}

// Deltas normalizes both delta schemas into one entry list with the asset id
// resolved on every entry. Returns nil for snapshot events.
func (e TapeEvent) Deltas() []DeltaEntry {
	if e.EventType != EventTypePriceChange {
		return nil
	}
	out := make([]DeltaEntry, 0, len(e.Changes)+len(e.PriceChanges))
	for _, c := range e.Changes {
		if c.AssetID == "" {
			c.AssetID = e.AssetID
		}
		out = append(out, c)
	}
	out = append(out, e.PriceChanges...)
	return out
}

// AssetIDs returns every asset id this event touches, in payload order
// without duplicates.
func (e TapeEvent) AssetIDs() []string {
	var ids []string
	seen := make(map[string]bool)
	add := func(id string) {
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	add(e.AssetID)
	for _, pc := range e.PriceChanges {
		add(pc.AssetID)
	}
	return ids
}

// TimelineRow is one best_bid_ask.jsonl row for the primary asset. Absent
// sides marshal as null.
type TimelineRow struct {
	Seq     int64               `json:"seq"`
	TsRecv  float64             `json:"ts_recv"`
	BestBid decimal.NullDecimal `json:"best_bid"`
	BestAsk decimal.NullDecimal `json:"best_ask"`
}
