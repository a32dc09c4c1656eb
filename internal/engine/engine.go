// Package engine is the central orchestrator of the triangular-arbitrage
// engine.
//
// It wires together all subsystems:
//
//  1. The rules provider fetches the exchange's symbol-rule snapshot once
//     at startup; the registry (C1) compiles it and the chain compiler (C2)
//     enumerates every closed 3-leg cycle.
//  2. A single depth feed (C4) streams order-book updates for the union of
//     symbols any compiled chain touches, publishing into the ticker store
//     (C3).
//  3. A pool of evaluator workers (C5) watches a dirty-bit work queue fed by
//     per-symbol store-change notifications, re-evaluating every chain that
//     touches a symbol whose book just moved.
//  4. Profitable opportunities are submitted to the dispatcher (C6), which
//     rate-limits, dedupes, and hands them to an order sender.
//
// Lifecycle: New() -> Start() -> [runs until SIGINT] -> Stop()
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"triarb/internal/chaingraph"
	"triarb/internal/config"
	"triarb/internal/dispatch"
	"triarb/internal/errs"
	"triarb/internal/eval"
	"triarb/internal/ingest"
	"triarb/internal/metrics"
	"triarb/internal/obsserver"
	"triarb/internal/registry"
	"triarb/internal/rulesprovider"
	"triarb/internal/tickerstore"
	"triarb/pkg/types"
)

// Engine orchestrates all components of the arbitrage system. It owns the
// lifecycle of all goroutines.
type Engine struct {
	cfg    config.Config
	logger *slog.Logger

	registry *registry.Registry
	chains   []types.Chain
	store    *tickerstore.Store
	feed     *ingest.DepthFeed
	ingestor *ingest.Ingestor
	disp     *dispatch.Dispatcher

	chainsBySymbol map[types.SymbolIdx][]int // symbol -> indices into chains

	pendingMu sync.Mutex
	pending   map[int]bool // chain index -> already queued for evaluation
	workCh    chan int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New fetches the exchange rules snapshot, compiles the registry and chain
// graph, and wires every downstream component. It does not start any
// goroutines — call Start for that.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Engine, error) {
	provider := rulesprovider.New(cfg.Exchange)
	rules, err := provider.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rules: %w", err)
	}

	reg, err := registry.Compile(rules, registry.Filter{
		Allowlist: toSet(cfg.Chains.SymbolAllowlist),
		Denylist:  toSet(cfg.Chains.SymbolDenylist),
	})
	if err != nil {
		return nil, fmt.Errorf("compile registry: %w", err)
	}

	baseAssets := make([]types.AssetID, 0, len(cfg.Chains.BaseAssets))
	for _, code := range cfg.Chains.BaseAssets {
		id, ok := reg.AssetByCode(code)
		if !ok {
			return nil, fmt.Errorf("base asset %q not present in compiled registry", code)
		}
		baseAssets = append(baseAssets, id)
	}

	chains, err := chaingraph.Compile(reg, baseAssets)
	if err != nil {
		return nil, fmt.Errorf("compile chains: %w", err)
	}
	metrics.ChainsCompiled.Set(float64(len(chains)))

	store := tickerstore.New(reg.NumSymbols())

	symbolIDs := make([]string, 0)
	for _, idx := range chaingraph.SymbolsUsed(chains) {
		symbolIDs = append(symbolIDs, reg.Symbol(idx).ID)
	}
	feed := ingest.NewDepthFeed(cfg.Exchange.WSDepthURL, symbolIDs, logger)
	ingestor := ingest.New(feed, reg, store, cfg.Depth.Levels, logger)

	var sender dispatch.OrderSender
	if cfg.SendOrders {
		sender = dispatch.NewRESTSender(cfg.Exchange, cfg.Dispatch, logger)
	} else {
		sender = dispatch.NewDryRunSender(logger)
	}
	disp := dispatch.New(cfg.Dispatch, sender, reg, store, logger)

	engCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		cfg:            cfg,
		logger:         logger.With("component", "engine"),
		registry:       reg,
		chains:         chains,
		store:          store,
		feed:           feed,
		ingestor:       ingestor,
		disp:           disp,
		chainsBySymbol: buildChainsBySymbol(chains),
		pending:        make(map[int]bool),
		workCh:         make(chan int, len(chains)),
		ctx:            engCtx,
		cancel:         cancel,
	}

	return e, nil
}

func toSet(items []string) map[string]bool {
	if len(items) == 0 {
		return nil
	}
	set := make(map[string]bool, len(items))
	for _, s := range items {
		set[s] = true
	}
	return set
}

func buildChainsBySymbol(chains []types.Chain) map[types.SymbolIdx][]int {
	m := make(map[types.SymbolIdx][]int)
	for i, c := range chains {
		seen := make(map[types.SymbolIdx]bool, 3)
		for _, leg := range c.Legs {
			if seen[leg.Symbol] {
				continue
			}
			seen[leg.Symbol] = true
			m[leg.Symbol] = append(m[leg.Symbol], i)
		}
	}
	return m
}

// Start launches all background goroutines: the depth feed, the ingestor,
// per-symbol change watchers, the evaluator pool, and the dispatcher.
func (e *Engine) Start() error {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.feed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("depth feed error", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.ingestor.Run(e.ctx)
	}()

	for symbolIdx := range e.chainsBySymbol {
		e.wg.Add(1)
		go func(idx types.SymbolIdx) {
			defer e.wg.Done()
			e.watchSymbol(idx)
		}(symbolIdx)
	}

	workers := runtime.NumCPU() - 1
	if workers < 1 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.evaluateLoop()
		}()
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.disp.Run(e.ctx)
	}()

	e.logger.Info("engine started", "chains", len(e.chains), "symbols", e.registry.NumSymbols(), "workers", workers)
	return nil
}

// watchSymbol marks every chain touching idx dirty whenever the store
// publishes a new snapshot for it. Changed() coalesces bursts into a single
// wake-up, so a chain already queued for evaluation is left alone rather
// than re-enqueued — that's what pending tracks.
func (e *Engine) watchSymbol(idx types.SymbolIdx) {
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.store.Changed(idx):
			for _, chainIdx := range e.chainsBySymbol[idx] {
				e.markDirty(chainIdx)
			}
		}
	}
}

func (e *Engine) markDirty(chainIdx int) {
	e.pendingMu.Lock()
	if e.pending[chainIdx] {
		e.pendingMu.Unlock()
		return
	}
	e.pending[chainIdx] = true
	e.pendingMu.Unlock()

	select {
	case e.workCh <- chainIdx:
		metrics.ChainsDirty.Set(float64(len(e.workCh)))
	default:
		// Work queue saturated; clear pending so a future change retries.
		e.pendingMu.Lock()
		delete(e.pending, chainIdx)
		e.pendingMu.Unlock()
	}
}

func (e *Engine) evaluateLoop() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case chainIdx := <-e.workCh:
			e.pendingMu.Lock()
			delete(e.pending, chainIdx)
			e.pendingMu.Unlock()
			metrics.ChainsDirty.Set(float64(len(e.workCh)))
			e.evaluateChain(e.chains[chainIdx])
		}
	}
}

func (e *Engine) evaluateChain(chain types.Chain) {
	start := time.Now()
	metrics.Evaluations.Inc()

	var snapshots [3]*types.OrderBookTop
	for i, leg := range chain.Legs {
		top, ok := e.store.Get(leg.Symbol)
		if !ok {
			return
		}
		snapshots[i] = top
	}

	entryAsset := e.registry.AssetCode(chain.Entry)
	vMin, vMax := e.cfg.Volume.Min[entryAsset], e.cfg.Volume.Max[entryAsset]
	if vMax.IsZero() {
		return // no configured volume band for this entry asset
	}

	deadline := start.Add(time.Duration(e.cfg.Eval.BudgetUS) * time.Microsecond)

	opp, err := eval.Evaluate(eval.Input{
		Chain:        chain,
		Snapshots:    snapshots,
		Registry:     e.registry,
		FeeRate:      e.cfg.Fees.Rate,
		VMin:         vMin,
		VMax:         vMax,
		MinProfitAbs: e.cfg.Profit.MinAbs,
		MinProfitRel: e.cfg.Profit.MinRel,
		Now:          start,
		MaxAge:       time.Duration(e.cfg.Eval.MaxAgeMs) * time.Millisecond,
		Deadline:     deadline,
	})
	metrics.EvalLatencyUS.Observe(float64(time.Since(start).Microseconds()))

	if err != nil {
		if errors.Is(err, errs.ErrEvalBudgetExceeded) {
			metrics.EvalDeadlineExceeded.Inc()
		}
		return
	}
	if opp == nil {
		return
	}

	metrics.Profitable.Inc()
	metrics.UpdateToOpportunityUS.Observe(float64(opp.ComputedAt.Sub(snapshots[0].ReceivedAt).Microseconds()))
	e.disp.Submit(*opp)
}

// Snapshot implements obsserver.SnapshotProvider.
func (e *Engine) Snapshot() obsserver.Snapshot {
	return obsserver.Snapshot{
		Timestamp:      time.Now(),
		ChainsCompiled: len(e.chains),
		ChainsDirty:    len(e.workCh),
		QueueDepth:     e.disp.QueueDepth(),
		MalformedTotal: e.store.MalformedUpdates(),
		SendOrdersLive: e.cfg.SendOrders,
	}
}

// Stop gracefully shuts down: cancels all contexts, closes the feed
// connection, and waits (bounded by config.ShutdownGrace) for goroutines to
// drain.
func (e *Engine) Stop() {
	e.logger.Info("shutting down...")
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(config.ShutdownGrace):
		e.logger.Warn("shutdown grace period elapsed before goroutines drained")
	}

	e.feed.Close()
	e.logger.Info("shutdown complete")
}
