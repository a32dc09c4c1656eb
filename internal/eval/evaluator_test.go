package eval

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/errs"
	"triarb/internal/registry"
	"triarb/pkg/types"
)

// testFixture builds the {BTC:USDT, ETH:USDT, ETH:BTC} registry and the
// chain BTC:USDT(ASC) | ETH:USDT(DESC) | ETH:BTC(ASC) used by spec.md §8's
// S1-S4 scenarios. Ticks/steps are fine enough (1e-8) not to perturb the
// literal test numbers.
func testFixture(t *testing.T) (*registry.Registry, types.Chain) {
	t.Helper()
	fine := decimal.NewFromFloat(0.00000001)
	rules := []types.SymbolRule{
		{SymbolID: "BTCUSDT", Base: "BTC", Quote: "USDT", Status: types.StatusTrading, SpotPermit: true, PriceTick: fine, QtyStep: fine},
		{SymbolID: "ETHUSDT", Base: "ETH", Quote: "USDT", Status: types.StatusTrading, SpotPermit: true, PriceTick: fine, QtyStep: fine},
		{SymbolID: "ETHBTC", Base: "ETH", Quote: "BTC", Status: types.StatusTrading, SpotPermit: true, PriceTick: fine, QtyStep: fine},
	}
	reg, err := registry.Compile(rules, registry.Filter{})
	if err != nil {
		t.Fatalf("Compile registry: %v", err)
	}
	btc, _ := reg.AssetByCode("BTC")
	usdt, _ := reg.AssetByCode("USDT")
	eth, _ := reg.AssetByCode("ETH")

	btcusdt, _ := reg.SymbolByPair(btc, usdt)
	ethusdt, _ := reg.SymbolByPair(eth, usdt)
	ethbtc, _ := reg.SymbolByPair(eth, btc)

	chain := types.Chain{
		ID: 0,
		Legs: [3]types.LegRef{
			{Symbol: btcusdt, Side: types.ASC},  // sell BTC for USDT at bid
			{Symbol: ethusdt, Side: types.DESC}, // buy ETH with USDT at ask
			{Symbol: ethbtc, Side: types.ASC},   // sell ETH for BTC at bid
		},
		Entry: btc,
	}
	return reg, chain
}

func lvl(price, qty string) types.PriceLevel {
	return types.PriceLevel{Price: decimal.RequireFromString(price), Qty: decimal.RequireFromString(qty)}
}

func snapshot(idx types.SymbolIdx, bids, asks []types.PriceLevel, now time.Time) *types.OrderBookTop {
	return &types.OrderBookTop{SymbolIdx: idx, Bids: bids, Asks: asks, ReceivedAt: now, Version: 1}
}

// TestS1NegativeExample reproduces spec.md §8 S1: top-of-book-only depth,
// v_max=0.00027 BTC, fee=0. The cross-rate does not favor the cycle, so the
// evaluator must return no opportunity.
func TestS1NegativeExample(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("109615.46", "7.27795")}, nil, now),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("2585.71", "19.2881")}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("0.02358", "105.7455")}, nil, now),
	}

	opp, err := Evaluate(Input{
		Chain:     chain,
		Snapshots: snaps,
		Registry:  reg,
		FeeRate:   decimal.Zero,
		VMin:      decimal.NewFromFloat(0.00001),
		VMax:      decimal.RequireFromString("0.00027"),
		Now:       now,
		MaxAge:    time.Second,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if opp != nil {
		t.Fatalf("expected None, got opportunity with net_profit=%s", opp.NetProfit)
	}
}

// TestS2SingleLevelSufficient reproduces S2: same book as S1, v_max raised
// to 0.0003 BTC. Still unprofitable at this cross-rate.
func TestS2SingleLevelSufficient(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("109615.46", "7.27795")}, nil, now),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("2585.71", "19.2881")}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("0.02358", "105.7455")}, nil, now),
	}

	opp, err := Evaluate(Input{
		Chain:     chain,
		Snapshots: snaps,
		Registry:  reg,
		FeeRate:   decimal.Zero,
		VMin:      decimal.NewFromFloat(0.00001),
		VMax:      decimal.RequireFromString("0.0003"),
		Now:       now,
		MaxAge:    time.Second,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if opp != nil {
		t.Fatalf("expected None, got opportunity with net_profit=%s", opp.NetProfit)
	}
}

// TestS3SummationOnLeg1 reproduces S3: leg 1's bid depth spans two levels,
// forcing the evaluator to VWAP leg 1's fill price across both.
func TestS3SummationOnLeg1(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{
			lvl("109615.46", "0.0002"),
			lvl("109616.46", "1.2"),
		}, nil, now),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("2585.71", "19.2881")}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("0.02358", "105.7455")}, nil, now),
	}

	in := Input{
		Chain:     chain,
		Snapshots: snaps,
		Registry:  reg,
		FeeRate:   decimal.Zero,
		VMin:      decimal.NewFromFloat(0.00001),
		VMax:      decimal.RequireFromString("0.0003"),
		Now:       now,
		MaxAge:    time.Second,
	}

	// Independently derive the expected leg-1 VWAP from the same two
	// levels: 0.0002 @ 109615.46 + 0.0001 @ 109616.46, over 0.0003 total.
	wantProduced := decimal.RequireFromString("0.0002").Mul(decimal.RequireFromString("109615.46")).
		Add(decimal.RequireFromString("0.0001").Mul(decimal.RequireFromString("109616.46")))
	wantVWAP := wantProduced.Div(decimal.RequireFromString("0.0003"))

	opp, err := Evaluate(in)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}

	// Whether or not the chain clears the (zero) profit gate, leg 1's
	// walked fill price must match the two-level VWAP to within one tick.
	r1, err := forwardLeg(chain.Legs[0], snaps[0], decimal.RequireFromString("0.0003"))
	if err != nil {
		t.Fatalf("forwardLeg: %v", err)
	}
	if !r1.filled {
		t.Fatal("leg 1 should fully fill across two levels")
	}
	gotVWAP := r1.produced.Div(decimal.RequireFromString("0.0003"))
	diff := gotVWAP.Sub(wantVWAP).Abs()
	if diff.GreaterThan(decimal.RequireFromString("0.00000001")) {
		t.Fatalf("leg1 VWAP = %s, want %s (diff %s)", gotVWAP, wantVWAP, diff)
	}
	_ = opp // sign of net_profit is incidental to this scenario; VWAP correctness is what's asserted
}

// TestS4Backpropagation reproduces S4's setup: ETH:USDT ask depth spans two
// levels. Under this package's chosen VWAP-first formulation (documented in
// DESIGN.md), leg 2 is served by walking both levels rather than shrinking
// leg 1 — the other equivalent formulation named in spec.md §9's open
// question. The entry quantity is therefore left at v_max.
func TestS4Backpropagation(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("109615.46", "7.27795")}, nil, now),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{
			lvl("2585.71", "0.01"),
			lvl("2586.71", "20.2"),
		}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("0.02358", "105.7455")}, nil, now),
	}

	opp, err := Evaluate(Input{
		Chain:     chain,
		Snapshots: snaps,
		Registry:  reg,
		FeeRate:   decimal.Zero,
		VMin:      decimal.NewFromFloat(0.00001),
		VMax:      decimal.RequireFromString("0.0003"),
		Now:       now,
		MaxAge:    time.Second,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if opp != nil && !opp.GrossIn.Equal(decimal.RequireFromString("0.0003")) {
		t.Fatalf("expected entry quantity to remain v_max (0.0003), got %s", opp.GrossIn)
	}
}

// TestBackpropagationTrulyShrinksEntry exercises the genuine Case B path:
// leg 2's entire available depth (across all levels) can't absorb what
// leg 1 would hand it at v_max, so leg 1 must be re-solved down.
func TestBackpropagationTrulyShrinksEntry(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	snaps := [3]*types.OrderBookTop{
		// Ample BTC:USDT depth at the bid.
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("100", "10")}, nil, now),
		// ETH:USDT ask depth is thin: only 1 unit of quote can be absorbed total.
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("100", "0.01")}, now),
		// Ample ETH:BTC bid depth.
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("1", "100")}, nil, now),
	}

	opp, err := Evaluate(Input{
		Chain:     chain,
		Snapshots: snaps,
		Registry:  reg,
		FeeRate:   decimal.Zero,
		VMin:      decimal.NewFromFloat(0.001),
		VMax:      decimal.NewFromFloat(10), // would hand leg 2 far more quote than it can absorb
		Now:       now,
		MaxAge:    time.Second,
	})
	if err != nil && !errors.Is(err, errs.ErrUnfillable) {
		t.Fatalf("Evaluate: %v", err)
	}
	if opp != nil && opp.GrossIn.GreaterThanOrEqual(decimal.NewFromFloat(10)) {
		t.Fatal("expected entry quantity to shrink below v_max after backprop")
	}
}

// TestStaleSnapshot covers spec.md §4.5.5: a snapshot older than max_age
// makes the chain unevaluable.
func TestStaleSnapshot(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()
	stale := now.Add(-time.Hour)

	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("109615.46", "7.27795")}, nil, stale),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("2585.71", "19.2881")}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("0.02358", "105.7455")}, nil, now),
	}

	_, err := Evaluate(Input{
		Chain: chain, Snapshots: snaps, Registry: reg,
		FeeRate: decimal.Zero, VMin: decimal.NewFromFloat(0.00001), VMax: decimal.RequireFromString("0.0003"),
		Now: now, MaxAge: time.Second,
	})
	if !errors.Is(err, errs.ErrStaleSnapshot) {
		t.Fatalf("expected ErrStaleSnapshot, got %v", err)
	}
}

// TestEvaluatePurity covers invariant 3: identical inputs give identical
// outputs.
func TestEvaluatePurity(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("109615.46", "7.27795")}, nil, now),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("2585.71", "19.2881")}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("0.02358", "105.7455")}, nil, now),
	}
	in := Input{
		Chain: chain, Snapshots: snaps, Registry: reg,
		FeeRate: decimal.Zero, VMin: decimal.NewFromFloat(0.00001), VMax: decimal.RequireFromString("0.0003"),
		Now: now, MaxAge: time.Second,
	}

	opp1, err1 := Evaluate(in)
	opp2, err2 := Evaluate(in)
	if err1 != err2 {
		t.Fatalf("errors differ across identical calls: %v vs %v", err1, err2)
	}
	if (opp1 == nil) != (opp2 == nil) {
		t.Fatalf("nilness differs: %v vs %v", opp1, opp2)
	}
	if opp1 != nil && !opp1.NetProfit.Equal(opp2.NetProfit) {
		t.Fatalf("net profit differs across identical calls: %s vs %s", opp1.NetProfit, opp2.NetProfit)
	}
}

// TestRoundingIdempotent covers invariant 4: rounding an already-rounded
// value to the same tick/step is a no-op.
func TestRoundingIdempotent(t *testing.T) {
	t.Parallel()
	step := decimal.RequireFromString("0.001")
	x := decimal.RequireFromString("1.2345")

	once := roundDown(x, step)
	twice := roundDown(once, step)
	if !once.Equal(twice) {
		t.Fatalf("roundDown not idempotent: %s vs %s", once, twice)
	}

	onceUp := roundUp(x, step)
	twiceUp := roundUp(onceUp, step)
	if !onceUp.Equal(twiceUp) {
		t.Fatalf("roundUp not idempotent: %s vs %s", onceUp, twiceUp)
	}
}

// TestProfitGateReproducible covers invariant 5: a returned opportunity's
// net_profit meets the configured threshold and its legs are derivable from
// the recorded depth_versions (here, all three snapshots are at version 1).
func TestProfitGateReproducible(t *testing.T) {
	t.Parallel()
	reg, chain := testFixture(t)
	now := time.Now()

	// A clearly profitable, round-trip-free cycle: sell BTC high, buy ETH
	// cheap, sell ETH back into BTC above the original rate.
	snaps := [3]*types.OrderBookTop{
		snapshot(chain.Legs[0].Symbol, []types.PriceLevel{lvl("100", "10")}, nil, now),
		snapshot(chain.Legs[1].Symbol, nil, []types.PriceLevel{lvl("1", "1000")}, now),
		snapshot(chain.Legs[2].Symbol, []types.PriceLevel{lvl("1", "1000")}, nil, now),
	}

	opp, err := Evaluate(Input{
		Chain: chain, Snapshots: snaps, Registry: reg,
		FeeRate: decimal.Zero, VMin: decimal.NewFromFloat(0.001), VMax: decimal.NewFromFloat(1),
		MinProfitAbs: decimal.Zero,
		Now:          now, MaxAge: time.Second,
	})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if opp == nil {
		t.Fatal("expected a profitable opportunity")
	}
	if !opp.NetProfit.GreaterThan(decimal.Zero) {
		t.Fatalf("net_profit = %s, want > 0", opp.NetProfit)
	}
	for i, v := range opp.DepthVersions {
		if v != 1 {
			t.Errorf("depth_versions[%d] = %d, want 1", i, v)
		}
	}
}

func TestWalkLevelsPartialFill(t *testing.T) {
	t.Parallel()
	levels := []types.PriceLevel{lvl("10", "1"), lvl("11", "1")}
	consumed, produced := walkLevels(levels, decimal.RequireFromString("1.5"), false)
	if !consumed.Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("consumed = %s, want 1.5", consumed)
	}
	want := decimal.RequireFromString("10").Add(decimal.RequireFromString("5.5"))
	if !produced.Equal(want) {
		t.Fatalf("produced = %s, want %s", produced, want)
	}
}

func TestWalkLevelsExhausted(t *testing.T) {
	t.Parallel()
	levels := []types.PriceLevel{lvl("10", "1")}
	consumed, _ := walkLevels(levels, decimal.RequireFromString("5"), false)
	if !consumed.Equal(decimal.RequireFromString("1")) {
		t.Fatalf("consumed = %s, want 1 (capped by depth)", consumed)
	}
}
