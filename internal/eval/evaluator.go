// Package eval implements C5, the Chain Evaluator — the hardest part of the
// engine (spec.md §4.5). Evaluate is a pure function of its inputs: given a
// Chain and the current top-of-book snapshots for its three symbols, it
// simulates the three trades against live depth and fees and returns a
// realizable, profitable Opportunity, or nil if none exists.
//
// Open question resolution (spec.md §9, recorded in DESIGN.md): this
// package implements the "preferred, equivalent" formulation of §4.5.2 —
// every leg is walked forward across as many consecutive levels as needed
// to serve its arriving quantity (this *is* the VWAP-over-minimum-prefix
// rule: a single top-of-book level is just a one-level prefix). When the
// full configured depth still can't serve a leg, backpropagation kicks in:
// the shortfall (cap_k, the most that leg actually can absorb) is pushed
// back through the inverse of the preceding legs' walk functions, all the
// way to leg 1 if necessary. If the resulting entry quantity falls below
// v_min, the chain is unfillable.
package eval

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/errs"
	"triarb/internal/registry"
	"triarb/pkg/types"
)

func init() {
	// 34 significant digits is ample per spec.md §3/§9; division needs an
	// explicit precision since shopspring/decimal defaults to 16.
	decimal.DivisionPrecision = 30
}

// Input bundles everything Evaluate needs: no global state, and staleness is
// judged against the explicit Now/MaxAge pair. The only clock read is the
// Deadline check made after the plan is built, when Deadline is set.
type Input struct {
	Chain     types.Chain
	Snapshots [3]*types.OrderBookTop // aligned with Chain.Legs order
	Registry  *registry.Registry

	FeeRate decimal.Decimal // per-leg taker fee, e.g. 0.00075

	VMin decimal.Decimal // entry-asset minimum per-cycle quantity
	VMax decimal.Decimal // entry-asset maximum per-cycle quantity

	MinProfitAbs decimal.Decimal
	MinProfitRel decimal.Decimal

	Now      time.Time     // evaluation wall-clock time
	MaxAge   time.Duration // staleness gate (spec.md §4.5.5)
	Deadline time.Time     // soft eval_budget_us deadline; zero = no deadline
}

// walkResult is one leg's forward-walk outcome.
type walkResult struct {
	consumed decimal.Decimal // amount of the leg's native input unit actually used
	produced decimal.Decimal // amount of the output unit produced, pre-fee
	filled   bool            // true iff consumed == the requested quantity
}

// Evaluate simulates a chain against live depth and returns a profitable
// Opportunity, or (nil, nil) if no plan clears the profit gate, or
// (nil, err) for one of the named local error kinds (spec.md §7):
// StaleSnapshot, Unfillable, EvalBudgetExceeded.
func Evaluate(in Input) (*types.Opportunity, error) {
	if !in.Deadline.IsZero() && in.Now.After(in.Deadline) {
		return nil, errs.ErrEvalBudgetExceeded
	}

	depthVersions := [3]uint64{}
	for i, snap := range in.Snapshots {
		if snap == nil {
			return nil, fmt.Errorf("%w: leg %d has no snapshot", errs.ErrStaleSnapshot, i)
		}
		if in.MaxAge > 0 && in.Now.Sub(snap.ReceivedAt) > in.MaxAge {
			return nil, fmt.Errorf("%w: leg %d snapshot age %s exceeds max_age", errs.ErrStaleSnapshot, i, in.Now.Sub(snap.ReceivedAt))
		}
		depthVersions[i] = snap.Version
	}

	reg := in.Registry
	legs := in.Chain.Legs

	q1 := in.VMax
	if q1.LessThan(in.VMin) {
		q1 = in.VMin
	}

	r1, err := forwardLeg(legs[0], in.Snapshots[0], q1)
	if err != nil {
		return nil, err
	}
	if !r1.filled {
		q1 = r1.consumed
		if q1.LessThan(in.VMin) {
			return nil, fmt.Errorf("%w: leg 1 depth caps entry below v_min (%s < %s)", errs.ErrUnfillable, q1, in.VMin)
		}
		r1, err = forwardLeg(legs[0], in.Snapshots[0], q1)
		if err != nil {
			return nil, err
		}
	}
	out1 := feeAdjusted(r1.produced, in.FeeRate)

	q2 := out1
	r2, err := forwardLeg(legs[1], in.Snapshots[1], q2)
	if err != nil {
		return nil, err
	}
	if !r2.filled {
		cap2 := r2.consumed
		q1, err = invertLeg(legs[0], in.Snapshots[0], cap2, in.FeeRate)
		if err != nil {
			return nil, err
		}
		if q1.LessThan(in.VMin) {
			return nil, fmt.Errorf("%w: backprop from leg 2 pushes entry below v_min (%s < %s)", errs.ErrUnfillable, q1, in.VMin)
		}
		r1, err = forwardLeg(legs[0], in.Snapshots[0], q1)
		if err != nil {
			return nil, err
		}
		out1 = feeAdjusted(r1.produced, in.FeeRate)
		q2 = out1
		r2, err = forwardLeg(legs[1], in.Snapshots[1], q2)
		if err != nil {
			return nil, err
		}
	}
	out2 := feeAdjusted(r2.produced, in.FeeRate)

	q3 := out2
	r3, err := forwardLeg(legs[2], in.Snapshots[2], q3)
	if err != nil {
		return nil, err
	}
	if !r3.filled {
		cap3 := r3.consumed
		q2, err = invertLeg(legs[1], in.Snapshots[1], cap3, in.FeeRate)
		if err != nil {
			return nil, err
		}
		q1, err = invertLeg(legs[0], in.Snapshots[0], q2, in.FeeRate)
		if err != nil {
			return nil, err
		}
		if q1.LessThan(in.VMin) {
			return nil, fmt.Errorf("%w: backprop from leg 3 pushes entry below v_min (%s < %s)", errs.ErrUnfillable, q1, in.VMin)
		}
		r1, err = forwardLeg(legs[0], in.Snapshots[0], q1)
		if err != nil {
			return nil, err
		}
		out1 = feeAdjusted(r1.produced, in.FeeRate)
		q2 = out1
		r2, err = forwardLeg(legs[1], in.Snapshots[1], q2)
		if err != nil {
			return nil, err
		}
		out2 = feeAdjusted(r2.produced, in.FeeRate)
		q3 = out2
		r3, err = forwardLeg(legs[2], in.Snapshots[2], q3)
		if err != nil {
			return nil, err
		}
		if !r3.filled {
			return nil, fmt.Errorf("%w: leg 3 still unfillable after backprop", errs.ErrUnfillable)
		}
	}
	out3 := feeAdjusted(r3.produced, in.FeeRate)

	net := out3.Sub(q1)

	legPlans, err := roundLegs(reg, legs, [3]walkResult{r1, r2, r3}, [3]decimal.Decimal{q1, q2, q3})
	if err != nil {
		return nil, err
	}

	if !in.Deadline.IsZero() && time.Now().After(in.Deadline) {
		return nil, errs.ErrEvalBudgetExceeded
	}

	if !net.GreaterThan(in.MinProfitAbs) {
		return nil, nil
	}
	if in.MinProfitRel.IsPositive() {
		if q1.IsZero() || net.Div(q1).LessThan(in.MinProfitRel) {
			return nil, nil
		}
	}

	return &types.Opportunity{
		ChainID:       in.Chain.ID,
		Legs:          legPlans,
		GrossIn:       q1,
		GrossOut:      out3,
		NetProfit:     net,
		ComputedAt:    in.Now,
		DepthVersions: depthVersions,
	}, nil
}

// feeAdjusted applies the per-leg taker fee multiplicatively: out *= 1-f
// (spec.md §9's assumed fee-application point).
func feeAdjusted(preFee, feeRate decimal.Decimal) decimal.Decimal {
	return preFee.Mul(decimal.NewFromInt(1).Sub(feeRate))
}

// forwardLeg walks a leg's live depth forward: qIn is the quantity held in
// in_asset(leg) available to commit. Returns how much was actually
// consumable (equal to qIn when fully filled) and how much of out_asset(leg)
// it produces, pre-fee.
func forwardLeg(leg types.LegRef, snap *types.OrderBookTop, qIn decimal.Decimal) (walkResult, error) {
	if snap == nil {
		return walkResult{}, fmt.Errorf("%w: nil snapshot", errs.ErrStaleSnapshot)
	}
	if leg.Side == types.ASC {
		consumed, produced := walkLevels(snap.Bids, qIn, false)
		return walkResult{consumed: consumed, produced: produced, filled: !consumed.LessThan(qIn)}, nil
	}
	consumed, produced := walkLevels(snap.Asks, qIn, true)
	return walkResult{consumed: consumed, produced: produced, filled: !consumed.LessThan(qIn)}, nil
}

// invertLeg solves for the input quantity that makes a leg produce exactly
// targetOut (post-fee) of out_asset(leg), by walking the same levels the
// forward direction would use, but capping on the *produced* side instead
// of the consumed side.
func invertLeg(leg types.LegRef, snap *types.OrderBookTop, targetOut decimal.Decimal, feeRate decimal.Decimal) (decimal.Decimal, error) {
	if snap == nil {
		return decimal.Zero, fmt.Errorf("%w: nil snapshot", errs.ErrStaleSnapshot)
	}
	preFeeTarget := targetOut.Div(decimal.NewFromInt(1).Sub(feeRate))

	if leg.Side == types.ASC {
		// Forward: input=base (consume bids by base), output=quote.
		// Invert: target is quote produced; walk bids capping by quote cost.
		_, producedBase := walkLevels(snap.Bids, preFeeTarget, true)
		return producedBase, nil
	}
	// Forward: input=quote (consume asks by cost), output=base.
	// Invert: target is base produced; walk asks capping by base qty.
	_, producedQuote := walkLevels(snap.Asks, preFeeTarget, false)
	return producedQuote, nil
}

// walkLevels accumulates consecutive levels until target is served or the
// levels run out. When byQuote is false, target is a base quantity and
// levels are consumed by their Qty (base) field — this is the natural
// direction for an ASC leg (selling base) and for inverting a DESC leg
// (solving for the quote that buys a target base amount). When byQuote is
// true, target is a quote amount and levels are consumed by cost
// (Price*Qty) — the natural direction for a DESC leg (spending quote) and
// for inverting an ASC leg (solving for the base that earns a target
// quote amount).
//
// Returns (consumedInTargetUnits, producedInOtherUnits). consumed equals
// target iff the levels fully served it (the forward-leg "filled" check);
// otherwise consumed is the maximum servable amount — cap_k in spec.md
// §4.5.2's Case B.
func walkLevels(levels []types.PriceLevel, target decimal.Decimal, byQuote bool) (consumed, produced decimal.Decimal) {
	consumed = decimal.Zero
	produced = decimal.Zero
	remaining := target

	for _, lvl := range levels {
		if !remaining.IsPositive() {
			break
		}
		if lvl.Qty.IsZero() || lvl.Price.IsZero() {
			continue
		}
		if !byQuote {
			take := decimal.Min(remaining, lvl.Qty)
			consumed = consumed.Add(take)
			produced = produced.Add(take.Mul(lvl.Price))
			remaining = remaining.Sub(take)
		} else {
			levelCost := lvl.Price.Mul(lvl.Qty)
			if remaining.GreaterThanOrEqual(levelCost) {
				consumed = consumed.Add(levelCost)
				produced = produced.Add(lvl.Qty)
				remaining = remaining.Sub(levelCost)
			} else {
				baseTake := remaining.Div(lvl.Price)
				consumed = consumed.Add(remaining)
				produced = produced.Add(baseTake)
				remaining = decimal.Zero
			}
		}
	}
	return consumed, produced
}
