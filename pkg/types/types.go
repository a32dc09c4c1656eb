// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the engine — interned asset and
// symbol ids, the chain graph, order-book snapshots, and the opportunity
// produced by evaluation. It has no dependencies on internal packages, so it
// can be imported by any layer. All prices, quantities and fees flowing
// through a decision path use decimal.Decimal; nothing here is a float64.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Interned ids
// ————————————————————————————————————————————————————————————————————————

// AssetID is the interned id of a currency code, assigned at registration.
type AssetID int32

// SymbolIdx is the interned id of a trading pair, assigned at registration.
type SymbolIdx int32

// Side is the direction a leg is walked: ASC sells the symbol's base into
// its bids, DESC buys the symbol's base from its asks.
type Side uint8

const (
	ASC  Side = iota // enter holding base, exit holding quote (SELL into bids)
	DESC             // enter holding quote, exit holding base (BUY from asks)
)

func (s Side) String() string {
	if s == ASC {
		return "ASC"
	}
	return "DESC"
}

// SymbolStatus mirrors the exchange's trading-status enum for a pair.
type SymbolStatus string

const (
	StatusTrading SymbolStatus = "TRADING"
	StatusOther   SymbolStatus = "OTHER"
)

// ————————————————————————————————————————————————————————————————————————
// Symbol registry inputs/outputs
// ————————————————————————————————————————————————————————————————————————

// SymbolRule is one row of the exchange rules snapshot (spec.md §6), as
// returned by the rules provider collaborator before interning.
type SymbolRule struct {
	SymbolID     string // exchange's canonical id, e.g. "ETHBTC"
	Base         string // base asset code
	Quote        string // quote asset code
	Status       SymbolStatus
	PriceTick    decimal.Decimal // minimum price increment
	QtyStep      decimal.Decimal // minimum quantity increment
	MinQty       decimal.Decimal
	MinNotional  decimal.Decimal
	HasNotional  bool // true if the exchange specifies a min-notional filter
	SpotPermit   bool // true if spot trading is permitted on this pair
}

// Symbol is the registry's normalized, interned view of a trading pair.
type Symbol struct {
	Idx          SymbolIdx
	ID           string // canonical exchange symbol id
	Base         AssetID
	Quote        AssetID
	PriceTick    decimal.Decimal
	QtyStep      decimal.Decimal
	MinQty       decimal.Decimal
	MinNotional  decimal.Decimal
	HasNotional  bool
}

// ————————————————————————————————————————————————————————————————————————
// Legs and chains
// ————————————————————————————————————————————————————————————————————————

// LegRef identifies one leg of a chain: a symbol and the side it is walked.
// No back-references, no ownership cycles — a chain is three of these.
type LegRef struct {
	Symbol SymbolIdx
	Side   Side
}

// Chain is a frozen, ordered triple of legs forming a closed 3-cycle whose
// entry asset belongs to the configured base set (spec.md §3).
type Chain struct {
	ID    uint64 // stable id assigned at compile time, index-derived
	Legs  [3]LegRef
	Entry AssetID // in_asset(L1); also out_asset(L3)
}

// ————————————————————————————————————————————————————————————————————————
// Order book / ticker
// ————————————————————————————————————————————————————————————————————————

// PriceLevel is a single bid or ask level. Both fields are always
// non-negative; arithmetic on them never touches floating point.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBookTop is the latest top-N levels for one symbol: bids descending,
// asks ascending, each truncated to N_DEPTH.
type OrderBookTop struct {
	SymbolIdx    SymbolIdx
	Bids         []PriceLevel
	Asks         []PriceLevel
	LastUpdateID uint64    // monotonic per symbol, from the depth stream
	ReceivedAt   time.Time // monotonic wall-clock timestamp
	Version      uint64    // store-assigned, bumped on every accepted update
}

// BestBidAsk returns the top bid and ask prices, or ok=false if either side
// is empty.
func (t *OrderBookTop) BestBidAsk() (bid, ask decimal.Decimal, ok bool) {
	if t == nil || len(t.Bids) == 0 || len(t.Asks) == 0 {
		return decimal.Zero, decimal.Zero, false
	}
	return t.Bids[0].Price, t.Asks[0].Price, true
}

// ————————————————————————————————————————————————————————————————————————
// Opportunities
// ————————————————————————————————————————————————————————————————————————

// LegPlan is exactly what must be sent for one leg of a dispatched
// opportunity: already rounded to the symbol's tick/step.
type LegPlan struct {
	Symbol   SymbolIdx
	Side     Side
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Opportunity is an evaluator output representing an executable, profitable
// 3-leg plan. Ephemeral: produced by the evaluator, consumed once by the
// dispatcher, and either published or dropped.
type Opportunity struct {
	ChainID      uint64
	Legs         [3]LegPlan
	GrossIn      decimal.Decimal // quantity committed in the entry asset
	GrossOut     decimal.Decimal // quantity returned in the entry asset
	NetProfit    decimal.Decimal // GrossOut - GrossIn, entry-asset units
	ComputedAt   time.Time       // monotonic wall-clock timestamp
	DepthVersions [3]uint64      // store versions read for each leg's symbol
}

// ————————————————————————————————————————————————————————————————————————
// Order sender contract (spec.md §6)
// ————————————————————————————————————————————————————————————————————————

// OrderSide is the wire-level side of a submitted leg.
type OrderSide string

const (
	OrderBuy  OrderSide = "BUY"
	OrderSell OrderSide = "SELL"
)

// SenderLeg is one leg of the order bundle handed to the order sender.
type SenderLeg struct {
	Symbol         string          `json:"symbol"`
	Side           OrderSide       `json:"side"`
	Type           string          `json:"type"` // always "MARKET"
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	ClientOrderID  string          `json:"client_order_id"`
}

// SenderOpportunity is the typed payload published on the outbound channel
// to the order-submission collaborator.
type SenderOpportunity struct {
	ChainID   uint64      `json:"chain_id"`
	Legs      [3]SenderLeg `json:"legs"`
	ExpiresAt int64       `json:"expires_at"` // unix nanoseconds
}
