package eval

import (
	"fmt"

	"github.com/shopspring/decimal"

	"triarb/internal/errs"
	"triarb/internal/registry"
	"triarb/pkg/types"
)

// roundLegs implements spec.md §4.5.3: every leg's (price, quantity) is
// rounded to its symbol's tick/step before an Opportunity is emitted — price
// rounds toward the consumed side (down for an ASC sell, up for a DESC buy),
// quantity always rounds down. A leg that falls below its symbol's min_qty
// or min_notional after rounding makes the whole chain unfillable.
//
// Profit (§4.5.4) is evaluated on the unrounded, economically exact walk
// results computed in Evaluate — rounding here only has to produce a
// dispatchable plan, not re-derive the profit decision, since chasing
// rounding error through three legs of backprop would require re-walking
// the book from scratch for a correction too small to change the gate.
func roundLegs(reg *registry.Registry, legs [3]types.LegRef, results [3]walkResult, qIn [3]decimal.Decimal) ([3]types.LegPlan, error) {
	var plans [3]types.LegPlan
	for i, leg := range legs {
		sym := reg.Symbol(leg.Symbol)

		var price, qty decimal.Decimal
		if leg.Side == types.ASC {
			if qIn[i].IsZero() {
				return plans, fmt.Errorf("%w: leg %d has zero quantity", errs.ErrUnfillable, i)
			}
			price = results[i].produced.Div(qIn[i])
			qty = qIn[i]
			price = roundDown(price, sym.PriceTick)
		} else {
			if results[i].produced.IsZero() {
				return plans, fmt.Errorf("%w: leg %d produced zero base", errs.ErrUnfillable, i)
			}
			price = results[i].consumed.Div(results[i].produced)
			qty = results[i].produced
			price = roundUp(price, sym.PriceTick)
		}
		qty = roundDown(qty, sym.QtyStep)

		if qty.LessThan(sym.MinQty) {
			return plans, fmt.Errorf("%w: leg %d quantity %s below min_qty %s", errs.ErrUnfillable, i, qty, sym.MinQty)
		}
		if sym.HasNotional && price.Mul(qty).LessThan(sym.MinNotional) {
			return plans, fmt.Errorf("%w: leg %d notional %s below min_notional %s", errs.ErrUnfillable, i, price.Mul(qty), sym.MinNotional)
		}

		plans[i] = types.LegPlan{
			Symbol:   leg.Symbol,
			Side:     leg.Side,
			Price:    price,
			Quantity: qty,
		}
	}
	return plans, nil
}

// roundDown rounds x to the nearest multiple of step at or below x.
func roundDown(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.Div(step).Floor().Mul(step)
}

// roundUp rounds x to the nearest multiple of step at or above x.
func roundUp(x, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return x
	}
	return x.Div(step).Ceil().Mul(step)
}
