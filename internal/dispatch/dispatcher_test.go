package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/config"
	"triarb/internal/registry"
	"triarb/internal/tickerstore"
	"triarb/pkg/types"
)

type recordingSender struct {
	mu   sync.Mutex
	sent []types.SenderOpportunity
}

func (r *recordingSender) Send(_ context.Context, opp types.SenderOpportunity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, opp)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sent)
}

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.Compile([]types.SymbolRule{
		{
			SymbolID: "ETHBTC", Base: "ETH", Quote: "BTC",
			Status: types.StatusTrading, SpotPermit: true,
			PriceTick: decimal.NewFromFloat(0.01), QtyStep: decimal.NewFromFloat(0.001),
		},
	}, registry.Filter{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return reg
}

// testStore builds a store with one fresh snapshot for symbol 0 at version
// 1 — matches the DepthVersions sampleOpportunity stamps its opportunities
// with, so existing dispatch behavior is unaffected by the freshness check.
func testStore(t *testing.T) *tickerstore.Store {
	t.Helper()
	s := tickerstore.New(1)
	s.Publish(0, types.OrderBookTop{
		Bids:         []types.PriceLevel{{Price: decimal.NewFromFloat(1), Qty: decimal.NewFromFloat(1)}},
		Asks:         []types.PriceLevel{{Price: decimal.NewFromFloat(1), Qty: decimal.NewFromFloat(1)}},
		LastUpdateID: 1,
	})
	return s
}

func sampleOpportunity(chainID uint64) types.Opportunity {
	return types.Opportunity{
		ChainID: chainID,
		Legs: [3]types.LegPlan{
			{Symbol: 0, Side: types.ASC, Price: decimal.NewFromFloat(1), Quantity: decimal.NewFromFloat(1)},
			{Symbol: 0, Side: types.ASC, Price: decimal.NewFromFloat(1), Quantity: decimal.NewFromFloat(1)},
			{Symbol: 0, Side: types.ASC, Price: decimal.NewFromFloat(1), Quantity: decimal.NewFromFloat(1)},
		},
		NetProfit:     decimal.NewFromFloat(0.01),
		ComputedAt:    time.Now(),
		DepthVersions: [3]uint64{1, 1, 1},
	}
}

// TestS6CoolDown reproduces spec.md §8 S6: two identical update batches
// 10ms apart with cool_down_ms=250 must yield exactly one dispatch.
func TestS6CoolDown(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := &recordingSender{}
	d := New(config.DispatchConfig{CoolDownMs: 250, ChannelCapacity: 8, DedupWindowMs: 1000}, sender, reg, testStore(t), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(sampleOpportunity(1))
	time.Sleep(10 * time.Millisecond)
	d.Submit(sampleOpportunity(1))
	time.Sleep(50 * time.Millisecond)

	if got := sender.count(); got != 1 {
		t.Fatalf("dispatch count = %d, want 1", got)
	}
}

// TestCoolDownExpires verifies a second dispatch is allowed once cool_down_ms
// has elapsed.
func TestCoolDownExpires(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := &recordingSender{}
	d := New(config.DispatchConfig{CoolDownMs: 20, ChannelCapacity: 8, DedupWindowMs: 1}, sender, reg, testStore(t), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(sampleOpportunity(1))
	time.Sleep(60 * time.Millisecond)
	d.Submit(sampleOpportunity(1))
	time.Sleep(30 * time.Millisecond)

	if got := sender.count(); got != 2 {
		t.Fatalf("dispatch count = %d, want 2 (cool-down should have expired)", got)
	}
}

// TestSubmitDropsOldestWhenFull covers spec.md §7's ChannelDropOldest: a
// full queue drops the oldest entry rather than blocking the producer.
func TestSubmitDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := &recordingSender{}
	// No Run() consumer: the queue will actually fill up.
	d := New(config.DispatchConfig{CoolDownMs: 250, ChannelCapacity: 2, DedupWindowMs: 1000}, sender, reg, testStore(t), slog.Default())

	d.Submit(sampleOpportunity(1))
	d.Submit(sampleOpportunity(2))
	d.Submit(sampleOpportunity(3)) // queue full: should drop chain 1, not block

	if d.QueueDepth() != 2 {
		t.Fatalf("QueueDepth = %d, want 2", d.QueueDepth())
	}
}

// TestStaleOpportunityDroppedByAge covers spec.md §4.5.5/§4.6: an
// opportunity that has sat past max_age_ms must be discarded at dispatch
// time rather than sent.
func TestStaleOpportunityDroppedByAge(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := &recordingSender{}
	d := New(config.DispatchConfig{CoolDownMs: 0, ChannelCapacity: 8, DedupWindowMs: 1, MaxAgeMs: 10}, sender, reg, testStore(t), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	opp := sampleOpportunity(1)
	opp.ComputedAt = time.Now().Add(-50 * time.Millisecond) // well past max_age_ms
	d.Submit(opp)
	time.Sleep(30 * time.Millisecond)

	if got := sender.count(); got != 0 {
		t.Fatalf("dispatch count = %d, want 0 (opportunity exceeded max_age_ms)", got)
	}
}

// TestSupersededOpportunityDropped covers spec.md §5's "dispatcher honors
// newest-wins per chain_id": an opportunity computed against a book version
// that has since been superseded by a newer update must not be dispatched,
// even if it is still within max_age_ms.
func TestSupersededOpportunityDropped(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := &recordingSender{}
	store := testStore(t) // symbol 0 at version 1

	d := New(config.DispatchConfig{CoolDownMs: 0, ChannelCapacity: 8, DedupWindowMs: 1}, sender, reg, store, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// A new book update arrives after the opportunity was computed, bumping
	// symbol 0 to version 2 — opp.DepthVersions still reference version 1.
	store.Publish(0, types.OrderBookTop{
		Bids:         []types.PriceLevel{{Price: decimal.NewFromFloat(2), Qty: decimal.NewFromFloat(1)}},
		Asks:         []types.PriceLevel{{Price: decimal.NewFromFloat(2), Qty: decimal.NewFromFloat(1)}},
		LastUpdateID: 2,
	})

	d.Submit(sampleOpportunity(1))
	time.Sleep(30 * time.Millisecond)

	if got := sender.count(); got != 0 {
		t.Fatalf("dispatch count = %d, want 0 (opportunity superseded by a newer book version)", got)
	}
}

// TestDifferentChainsNotCoalesced ensures cool-down is tracked per chain_id,
// not globally.
func TestDifferentChainsNotCoalesced(t *testing.T) {
	t.Parallel()
	reg := testRegistry(t)
	sender := &recordingSender{}
	d := New(config.DispatchConfig{CoolDownMs: 250, ChannelCapacity: 8, DedupWindowMs: 1000}, sender, reg, testStore(t), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Submit(sampleOpportunity(1))
	d.Submit(sampleOpportunity(2))
	time.Sleep(30 * time.Millisecond)

	if got := sender.count(); got != 2 {
		t.Fatalf("dispatch count = %d, want 2 (distinct chains)", got)
	}
}
