// Package registry implements C1, the Symbol Registry: it normalizes an
// exchange rules snapshot into a queryable, immutable symbol graph —
// interned assets, a dense array of symbols, a unique (base,quote) index,
// and a per-asset adjacency list for the chain compiler to walk.
package registry

import (
	"fmt"
	"strings"

	"triarb/internal/errs"
	"triarb/pkg/types"
)

// Registry is the immutable, compiled view of the exchange's trading rules.
// Safe for concurrent reads from many goroutines once Compile returns —
// nothing in it is mutated afterward.
type Registry struct {
	assetIDs   map[string]types.AssetID // code -> id
	assetCodes []string                 // id -> code

	symbols []types.Symbol                       // dense, indexed by SymbolIdx
	byPair  map[[2]types.AssetID]types.SymbolIdx  // (base,quote) -> symbol
	byAsset map[types.AssetID][]types.SymbolIdx   // asset -> symbols touching it
	byID    map[string]types.SymbolIdx            // exchange symbol id -> symbol
}

// Filter narrows the rules snapshot before compilation (spec.md §4.1).
type Filter struct {
	Allowlist map[string]bool // empty/nil means "no allowlist filter"
	Denylist  map[string]bool
}

// Compile normalizes a rules snapshot into a Registry. Keeps only rows with
// Status==TRADING and SpotPermit==true, after the allow/deny filter. Fails
// with errs.ErrInvalidRules on a duplicate (base,quote) pair, a zero
// price_tick/qty_step, or a declared-but-absent min_notional.
func Compile(rules []types.SymbolRule, filter Filter) (*Registry, error) {
	r := &Registry{
		assetIDs: make(map[string]types.AssetID),
		byPair:   make(map[[2]types.AssetID]types.SymbolIdx),
		byAsset:  make(map[types.AssetID][]types.SymbolIdx),
		byID:     make(map[string]types.SymbolIdx),
	}

	for _, rule := range rules {
		if rule.Status != types.StatusTrading || !rule.SpotPermit {
			continue
		}
		if len(filter.Allowlist) > 0 && !filter.Allowlist[rule.SymbolID] {
			continue
		}
		if filter.Denylist[rule.SymbolID] {
			continue
		}
		if err := validateRule(rule); err != nil {
			return nil, err
		}

		base := r.intern(rule.Base)
		quote := r.intern(rule.Quote)
		pairKey := [2]types.AssetID{base, quote}
		if _, dup := r.byPair[pairKey]; dup {
			return nil, fmt.Errorf("%w: duplicate pair %s/%s", errs.ErrInvalidRules, rule.Base, rule.Quote)
		}

		idx := types.SymbolIdx(len(r.symbols))
		sym := types.Symbol{
			Idx:         idx,
			ID:          rule.SymbolID,
			Base:        base,
			Quote:       quote,
			PriceTick:   rule.PriceTick,
			QtyStep:     rule.QtyStep,
			MinQty:      rule.MinQty,
			MinNotional: rule.MinNotional,
			HasNotional: rule.HasNotional,
		}
		r.symbols = append(r.symbols, sym)
		r.byPair[pairKey] = idx
		r.byAsset[base] = append(r.byAsset[base], idx)
		r.byAsset[quote] = append(r.byAsset[quote], idx)
		r.byID[rule.SymbolID] = idx
	}

	return r, nil
}

func validateRule(rule types.SymbolRule) error {
	base := strings.TrimSpace(rule.Base)
	quote := strings.TrimSpace(rule.Quote)
	if base == "" || quote == "" {
		return fmt.Errorf("%w: symbol %s missing base/quote", errs.ErrInvalidRules, rule.SymbolID)
	}
	if rule.PriceTick.IsZero() || rule.PriceTick.IsNegative() {
		return fmt.Errorf("%w: symbol %s has zero/negative price_tick", errs.ErrInvalidRules, rule.SymbolID)
	}
	if rule.QtyStep.IsZero() || rule.QtyStep.IsNegative() {
		return fmt.Errorf("%w: symbol %s has zero/negative qty_step", errs.ErrInvalidRules, rule.SymbolID)
	}
	if rule.HasNotional && rule.MinNotional.IsZero() {
		return fmt.Errorf("%w: symbol %s declares min_notional filter but value is absent", errs.ErrInvalidRules, rule.SymbolID)
	}
	return nil
}

func (r *Registry) intern(code string) types.AssetID {
	code = strings.ToUpper(strings.TrimSpace(code))
	if id, ok := r.assetIDs[code]; ok {
		return id
	}
	id := types.AssetID(len(r.assetCodes))
	r.assetIDs[code] = id
	r.assetCodes = append(r.assetCodes, code)
	return id
}

// AssetByCode returns the interned id for a currency code, or ok=false if
// the registry never saw that asset.
func (r *Registry) AssetByCode(code string) (types.AssetID, bool) {
	id, ok := r.assetIDs[strings.ToUpper(strings.TrimSpace(code))]
	return id, ok
}

// AssetCode returns the currency code for an interned asset id.
func (r *Registry) AssetCode(id types.AssetID) string {
	if int(id) < 0 || int(id) >= len(r.assetCodes) {
		return ""
	}
	return r.assetCodes[id]
}

// Symbol returns the normalized symbol for an interned index.
func (r *Registry) Symbol(idx types.SymbolIdx) types.Symbol {
	return r.symbols[idx]
}

// SymbolByPair looks up the unique symbol trading (base, quote) in that
// base/quote orientation.
func (r *Registry) SymbolByPair(base, quote types.AssetID) (types.SymbolIdx, bool) {
	idx, ok := r.byPair[[2]types.AssetID{base, quote}]
	return idx, ok
}

// SymbolsByAsset returns every symbol whose base or quote is the given
// asset — the adjacency list the chain compiler walks.
func (r *Registry) SymbolsByAsset(id types.AssetID) []types.SymbolIdx {
	return r.byAsset[id]
}

// NumSymbols returns the number of compiled symbols.
func (r *Registry) NumSymbols() int { return len(r.symbols) }

// SymbolByID looks up a symbol by its exchange-native id (e.g. "ETHBTC"),
// used by the ingestor to resolve incoming depth messages to an interned
// index.
func (r *Registry) SymbolByID(id string) (types.SymbolIdx, bool) {
	idx, ok := r.byID[id]
	return idx, ok
}

// OutAsset returns the asset held after walking a leg in the given
// direction: ASC sells base for quote (out=quote); DESC buys base with
// quote (out=base).
func (r *Registry) OutAsset(leg types.LegRef) types.AssetID {
	sym := r.symbols[leg.Symbol]
	if leg.Side == types.ASC {
		return sym.Quote
	}
	return sym.Base
}

// InAsset returns the asset committed to walk a leg in the given direction:
// ASC consumes base (sells it); DESC consumes quote (spends it to buy base).
func (r *Registry) InAsset(leg types.LegRef) types.AssetID {
	sym := r.symbols[leg.Symbol]
	if leg.Side == types.ASC {
		return sym.Base
	}
	return sym.Quote
}
