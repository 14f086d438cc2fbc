package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/Amanpat/polysim/internal/domain"
)

// Tick is the per-event view handed to a strategy: the tape event itself,
// the primary asset's best bid/ask after the event was applied, and a
// snapshot of the strategy's open orders at the broker.
type Tick struct {
	Event      domain.TapeEvent
	Seq        int64
	TsRecv     float64
	BestBid    decimal.NullDecimal
	BestAsk    decimal.NullDecimal
	OpenOrders map[string]domain.Order
}

// Strategy defines the contract for replay strategies. The engine calls
// OnStart once, OnEvent for every tape event, OnFill for every fill of one
// of the strategy's orders, and OnFinish after the last event.
type Strategy interface {
	Name() string
	OnStart(primaryAssetID string, startingCash decimal.Decimal) error
	OnEvent(tick Tick) ([]domain.OrderIntent, error)
	OnFill(fill domain.Fill)
	OnFinish() error
}

// BookView exposes read-only best-of-book access across every tracked asset.
// The engine binds one to strategies that implement BookBinder.
type BookView interface {
	HasSnapshot(assetID string) bool
	BestBid(assetID string) (decimal.Decimal, bool)
	BestAsk(assetID string) (decimal.Decimal, bool)
	DepthAtBestBid(assetID string) (decimal.Decimal, bool)
	DepthAtBestAsk(assetID string) (decimal.Decimal, bool)
}

// DualAsset is implemented by strategies that trade a YES/NO pair. The engine
// uses the pair for coverage validation and to route fills on both legs.
type DualAsset interface {
	DualAssetIDs() (yesAssetID, noAssetID string)
}

// BookBinder is implemented by strategies that need book access beyond the
// primary asset's best bid/ask carried on each Tick.
type BookBinder interface {
	BindBooks(view BookView)
}

// OpportunityLogger is implemented by strategies that record structured
// opportunity attempts for the decisions artifact set.
type OpportunityLogger interface {
	Opportunities() []domain.Opportunity
}

// RejectionCounter is implemented by strategies that tally why candidate
// trades were rejected.
type RejectionCounter interface {
	RejectionCounts() map[string]int64
}

// ArbSummarizer is implemented by strategies that model offsetting-position
// outcomes and report them in the run summary.
type ArbSummarizer interface {
	ArbSummary() domain.ModeledArbSummary
}

// Config holds strategy configuration.
type Config struct {
	Name   string
	Params map[string]any
}

// Base provides no-op lifecycle hooks so strategies only implement what they
// use. It deliberately leaves Name and OnEvent to the embedding strategy.
type Base struct{}

func (Base) OnStart(string, decimal.Decimal) error { return nil }

func (Base) OnFill(domain.Fill) {}

func (Base) OnFinish() error { return nil }
