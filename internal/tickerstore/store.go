// Package tickerstore implements C3, the Ticker Store: a fixed-size array of
// the latest OrderBookTop per symbol. Each slot is an atomic pointer to an
// immutable snapshot, swapped wholesale on update (spec.md §9's Case A) —
// readers never block a writer and never see a torn price. The ingestor
// (C4) is the sole writer per symbol; any number of reader goroutines may
// call Get concurrently.
package tickerstore

import (
	"sync/atomic"

	"triarb/pkg/types"
)

// Store holds one atomic snapshot slot per compiled symbol.
type Store struct {
	slots            []atomic.Pointer[types.OrderBookTop]
	malformedUpdates atomic.Uint64
	staleDropped     atomic.Uint64
	notify           []chan struct{} // per-symbol, best-effort wake-up for waiters
}

// New creates a store sized for numSymbols. numSymbols must equal
// registry.NumSymbols() for the compiled registry this store serves.
func New(numSymbols int) *Store {
	s := &Store{
		slots:  make([]atomic.Pointer[types.OrderBookTop], numSymbols),
		notify: make([]chan struct{}, numSymbols),
	}
	for i := range s.notify {
		s.notify[i] = make(chan struct{}, 1)
	}
	return s
}

// Get returns the most recent complete update for a symbol, or ok=false if
// no update has ever arrived. The returned pointer is to an immutable value
// — callers must never mutate it.
func (s *Store) Get(idx types.SymbolIdx) (*types.OrderBookTop, bool) {
	if int(idx) < 0 || int(idx) >= len(s.slots) {
		return nil, false
	}
	top := s.slots[idx].Load()
	if top == nil {
		return nil, false
	}
	return top, true
}

// Version returns the current version counter for a symbol, or 0 if no
// update has ever arrived.
func (s *Store) Version(idx types.SymbolIdx) uint64 {
	top := s.slots[idx].Load()
	if top == nil {
		return 0
	}
	return top.Version
}

// Publish atomically swaps in a new snapshot for a symbol, bumping its
// version counter relative to whatever was previously stored. It is the
// only mutating method; only the ingestor calls it.
//
// Updates to a single symbol are totally ordered by LastUpdateID (spec.md
// §5); a new snapshot whose LastUpdateID is not strictly greater than the
// one already stored is a stale retransmit (e.g. replayed after a feed
// reconnect, or racing across two delivery paths) and is dropped rather
// than accepted — returns false in that case, with no mutation. The first
// snapshot for a symbol is always accepted.
func (s *Store) Publish(idx types.SymbolIdx, top types.OrderBookTop) bool {
	prev := s.slots[idx].Load()
	var version uint64 = 1
	if prev != nil {
		if top.LastUpdateID <= prev.LastUpdateID {
			s.staleDropped.Add(1)
			return false
		}
		version = prev.Version + 1
	}
	top.Version = version
	s.slots[idx].Store(&top)

	select {
	case s.notify[idx] <- struct{}{}:
	default:
	}
	return true
}

// Changed returns the per-symbol notification channel an evaluator task can
// select on to wake when a new snapshot is published. Receives are
// coalescing: a burst of updates between two receives is observed as one
// wake-up, matching the "dirty bit" coalescing behavior spec.md §5 asks of
// the evaluator work queue above this layer.
func (s *Store) Changed(idx types.SymbolIdx) <-chan struct{} {
	return s.notify[idx]
}

// IncMalformed increments the malformed_updates counter (spec.md §4.4 step
// 2) and returns the new total.
func (s *Store) IncMalformed() uint64 {
	return s.malformedUpdates.Add(1)
}

// MalformedUpdates returns the running total of dropped malformed updates.
func (s *Store) MalformedUpdates() uint64 {
	return s.malformedUpdates.Load()
}

// StaleDropped returns the running total of updates dropped for arriving
// out of LastUpdateID order.
func (s *Store) StaleDropped() uint64 {
	return s.staleDropped.Load()
}

// NumSymbols returns how many symbol slots this store serves.
func (s *Store) NumSymbols() int { return len(s.slots) }
