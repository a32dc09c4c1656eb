// Package chaingraph implements C2, the Chain Compiler: it enumerates every
// closed, valid 3-leg cycle over a configured set of base assets, following
// the algorithm in spec.md §4.2 exactly, and freezes the result.
package chaingraph

import (
	"fmt"

	"triarb/internal/errs"
	"triarb/internal/registry"
	"triarb/pkg/types"
)

// sideOrder fixes the iteration order of the two sides so compilation is
// deterministic across runs given the same registry.
var sideOrder = [2]types.Side{types.ASC, types.DESC}

// Compile enumerates all closed 3-cycles whose entry asset is in baseAssets,
// per spec.md §4.2's nested-loop algorithm, then deduplicates cyclic
// rotations that share the same entry base (rotations starting from a
// different base are kept distinct — their quantity limits are expressed in
// different base units). Fails with errs.ErrNoChains if the result is empty.
func Compile(reg *registry.Registry, baseAssets []types.AssetID) ([]types.Chain, error) {
	seen := make(map[[3]types.LegRef]bool)
	var chains []types.Chain

	for _, b1 := range baseAssets {
		for _, s1 := range reg.SymbolsByAsset(b1) {
			for _, side1 := range sideOrder {
				leg1 := types.LegRef{Symbol: s1, Side: side1}
				if reg.InAsset(leg1) != b1 {
					continue // this leg doesn't actually start at b1 on this side
				}
				x := reg.OutAsset(leg1)

				for _, s2 := range reg.SymbolsByAsset(x) {
					if s2 == s1 {
						continue // rule (vi): no leg is the reverse of its predecessor
					}
					for _, side2 := range sideOrder {
						leg2 := types.LegRef{Symbol: s2, Side: side2}
						if reg.InAsset(leg2) != x {
							continue
						}
						y := reg.OutAsset(leg2)
						if y == x {
							continue // no-op leg
						}

						for _, s3 := range reg.SymbolsByAsset(y) {
							if s3 == s1 || s3 == s2 {
								continue // rule (iv): pairwise distinct symbols
							}
							for _, side3 := range sideOrder {
								leg3 := types.LegRef{Symbol: s3, Side: side3}
								if reg.InAsset(leg3) != y || reg.OutAsset(leg3) != b1 {
									continue
								}

								key := [3]types.LegRef{leg1, leg2, leg3}
								if seen[key] {
									continue
								}
								seen[key] = true

								chains = append(chains, types.Chain{
									ID:    uint64(len(chains)),
									Legs:  key,
									Entry: b1,
								})
							}
						}
					}
				}
			}
		}
	}

	if len(chains) == 0 {
		return nil, fmt.Errorf("%w: zero chains over %d base assets", errs.ErrNoChains, len(baseAssets))
	}
	return chains, nil
}

// SymbolsUsed returns the set of symbol indices referenced by any chain —
// the union the stream ingestor must subscribe to (spec.md §4.4).
func SymbolsUsed(chains []types.Chain) []types.SymbolIdx {
	seen := make(map[types.SymbolIdx]bool)
	var out []types.SymbolIdx
	for _, c := range chains {
		for _, leg := range c.Legs {
			if !seen[leg.Symbol] {
				seen[leg.Symbol] = true
				out = append(out, leg.Symbol)
			}
		}
	}
	return out
}
