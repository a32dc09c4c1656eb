package tickerstore

import (
	"fmt"

	"triarb/internal/errs"
	"triarb/pkg/types"
)

// Validate enforces the store's invariant (spec.md §8 property 2): bid
// levels strictly decreasing, ask levels strictly increasing, and the book
// non-crossed (best bid below best ask) whenever both sides are present. A
// caller that builds an OrderBookTop from a raw depth message must call
// this before Publish — Publish itself does not re-validate.
func Validate(top *types.OrderBookTop) error {
	for i := 1; i < len(top.Bids); i++ {
		if !top.Bids[i-1].Price.GreaterThan(top.Bids[i].Price) {
			return fmt.Errorf("%w: bid levels not strictly decreasing at %d", errs.ErrDecode, i)
		}
	}
	for i := 1; i < len(top.Asks); i++ {
		if !top.Asks[i].Price.GreaterThan(top.Asks[i-1].Price) {
			return fmt.Errorf("%w: ask levels not strictly increasing at %d", errs.ErrDecode, i)
		}
	}
	if len(top.Bids) > 0 && len(top.Asks) > 0 {
		if !top.Bids[0].Price.LessThan(top.Asks[0].Price) {
			return fmt.Errorf("%w: crossed book, bid %s >= ask %s", errs.ErrDecode, top.Bids[0].Price, top.Asks[0].Price)
		}
	}
	for _, lvl := range top.Bids {
		if lvl.Price.IsNegative() || lvl.Qty.IsNegative() {
			return fmt.Errorf("%w: negative bid price/qty", errs.ErrDecode)
		}
	}
	for _, lvl := range top.Asks {
		if lvl.Price.IsNegative() || lvl.Qty.IsNegative() {
			return fmt.Errorf("%w: negative ask price/qty", errs.ErrDecode)
		}
	}
	return nil
}
