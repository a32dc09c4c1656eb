// Package dispatch implements C6, the Opportunity Dispatcher: a per-chain
// cool-down and dedup gate feeding a bounded, drop-oldest outbound channel
// that a single goroutine drains into an OrderSender.
//
// Grounded on internal/risk/manager.go's pattern of a map touched only from
// inside a single goroutine's select loop (no locking needed because
// nothing else touches it), and internal/market/scanner.go's non-blocking
// "replace stale result" channel send, generalized from a single-slot
// result channel to a bounded drop-oldest queue.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"triarb/internal/config"
	"triarb/internal/metrics"
	"triarb/internal/registry"
	"triarb/internal/tickerstore"
	"triarb/pkg/types"
)

// OrderSender is the contract for actually placing a dispatched bundle of
// orders (spec.md §6).
type OrderSender interface {
	Send(ctx context.Context, opp types.SenderOpportunity) error
}

// Dispatcher owns the cool-down/dedup state and the outbound queue. The
// zero value is not usable; construct with New.
type Dispatcher struct {
	cfg      config.DispatchConfig
	sender   OrderSender
	registry *registry.Registry
	store    *tickerstore.Store
	logger   *slog.Logger

	queue chan types.Opportunity

	// lastDispatch/lastKey are touched only by Run's goroutine — no mutex,
	// same discipline as the teacher's risk.Manager.positions map.
	lastDispatch map[uint64]time.Time
	lastKey      map[uint64]string
}

// New builds a Dispatcher. reg resolves interned symbol ids back to wire
// symbol strings for the sender payload. store lets process() re-check an
// opportunity's freshness against the live book immediately before
// dispatch (spec.md §4.5.5/§4.6).
func New(cfg config.DispatchConfig, sender OrderSender, reg *registry.Registry, store *tickerstore.Store, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:          cfg,
		sender:       sender,
		registry:     reg,
		store:        store,
		logger:       logger.With("component", "dispatch"),
		queue:        make(chan types.Opportunity, cfg.ChannelCapacity),
		lastDispatch: make(map[uint64]time.Time),
		lastKey:      make(map[uint64]string),
	}
}

// Submit is called by evaluator workers; it never blocks. When the queue is
// full, the oldest queued opportunity is dropped to make room — spec.md §7's
// ChannelDropOldest.
func (d *Dispatcher) Submit(opp types.Opportunity) {
	select {
	case d.queue <- opp:
		return
	default:
	}
	select {
	case <-d.queue:
		metrics.DispatchDropped.Inc()
	default:
	}
	select {
	case d.queue <- opp:
	default:
		// Another producer raced us and refilled the slot; drop this one.
		metrics.DispatchDropped.Inc()
	}
}

// QueueDepth reports the current number of queued, undispatched opportunities.
func (d *Dispatcher) QueueDepth() int {
	return len(d.queue)
}

// Run drains the queue until ctx is cancelled. It is the single writer of
// the cool-down/dedup maps.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case opp := <-d.queue:
			metrics.QueueDepth.Set(float64(len(d.queue)))
			d.process(ctx, opp)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, opp types.Opportunity) {
	now := time.Now()

	if d.stale(opp, now) {
		metrics.DispatchStale.Inc()
		return
	}

	coolDown := time.Duration(d.cfg.CoolDownMs) * time.Millisecond
	if last, ok := d.lastDispatch[opp.ChainID]; ok && now.Sub(last) < coolDown {
		return
	}

	key := dedupKey(opp)
	dedupWindow := time.Duration(d.cfg.DedupWindowMs) * time.Millisecond
	if last, ok := d.lastDispatch[opp.ChainID]; ok && d.lastKey[opp.ChainID] == key && now.Sub(last) < dedupWindow {
		return
	}

	senderOpp, err := d.toSenderOpportunity(opp, now.Add(coolDown))
	if err != nil {
		d.logger.Error("failed to build sender payload", "chain_id", opp.ChainID, "error", err)
		return
	}

	if err := d.sender.Send(ctx, senderOpp); err != nil {
		d.logger.Error("dispatch send failed", "chain_id", opp.ChainID, "error", err)
		return
	}

	d.lastDispatch[opp.ChainID] = now
	d.lastKey[opp.ChainID] = key
	metrics.Dispatched.Inc()
}

// stale reports whether opp must be discarded rather than dispatched: it
// has sat past max_age_ms, or the book it was computed against has since
// moved on for any of its three legs — spec.md §4.5.5/§4.6's requirement
// that the dispatcher honor newest-wins per chain_id and never fire on
// superseded depth.
func (d *Dispatcher) stale(opp types.Opportunity, now time.Time) bool {
	maxAge := time.Duration(d.cfg.MaxAgeMs) * time.Millisecond
	if maxAge > 0 && now.Sub(opp.ComputedAt) > maxAge {
		return true
	}
	if d.store == nil {
		return false
	}
	for i, leg := range opp.Legs {
		if d.store.Version(leg.Symbol) != opp.DepthVersions[i] {
			return true
		}
	}
	return false
}

func dedupKey(opp types.Opportunity) string {
	s := ""
	for _, leg := range opp.Legs {
		s += fmt.Sprintf("%d:%d:%s:%s|", leg.Symbol, leg.Side, leg.Price, leg.Quantity)
	}
	return s
}

func (d *Dispatcher) toSenderOpportunity(opp types.Opportunity, expiresAt time.Time) (types.SenderOpportunity, error) {
	var legs [3]types.SenderLeg
	for i, leg := range opp.Legs {
		sym := d.registry.Symbol(leg.Symbol)
		side := types.OrderSell
		if leg.Side == types.DESC {
			side = types.OrderBuy
		}
		legs[i] = types.SenderLeg{
			Symbol:        sym.ID,
			Side:          side,
			Type:          "MARKET",
			Price:         leg.Price,
			Quantity:      leg.Quantity,
			ClientOrderID: uuid.New().String(),
		}
	}
	return types.SenderOpportunity{
		ChainID:   opp.ChainID,
		Legs:      legs,
		ExpiresAt: expiresAt.UnixNano(),
	}, nil
}
