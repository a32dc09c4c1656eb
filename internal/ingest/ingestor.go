package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"triarb/internal/errs"
	"triarb/internal/metrics"
	"triarb/internal/registry"
	"triarb/internal/tickerstore"
	"triarb/pkg/types"
)

// rawDepthUpdate mirrors a single depth-update wire message: a symbol id
// plus bid/ask levels as string pairs, exactly the shape spec.md §4.4
// describes as (symbol_idx, raw_update) before interning and decimal
// conversion.
type rawDepthUpdate struct {
	SymbolID     string     `json:"symbol_id"`
	LastUpdateID uint64     `json:"last_update_id"`
	Bids         [][2]string `json:"bids"`
	Asks         [][2]string `json:"asks"`
}

// MessageSource is anything that hands the Ingestor raw depth-update
// payloads — satisfied by DepthFeed.Messages(), kept as an interface so
// tests can feed synthetic messages without a live socket.
type MessageSource interface {
	Messages() <-chan []byte
}

// Ingestor is C4: it decodes raw depth-update payloads, validates book
// shape, and publishes accepted updates into the ticker store. It is the
// sole writer of the store slots for the symbols it owns.
type Ingestor struct {
	source MessageSource
	reg    *registry.Registry
	store  *tickerstore.Store
	depth  int
	logger *slog.Logger
}

// New builds an Ingestor reading from source, resolving symbol ids via reg,
// publishing into store, truncating book sides to depth levels.
func New(source MessageSource, reg *registry.Registry, store *tickerstore.Store, depth int, logger *slog.Logger) *Ingestor {
	return &Ingestor{
		source: source,
		reg:    reg,
		store:  store,
		depth:  depth,
		logger: logger.With("component", "ingestor"),
	}
}

// Run consumes messages until ctx is cancelled or the source channel closes.
func (in *Ingestor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in.source.Messages():
			if !ok {
				return
			}
			in.handle(msg)
		}
	}
}

func (in *Ingestor) handle(msg []byte) {
	top, err := in.decode(msg)
	if err != nil {
		in.store.IncMalformed()
		metrics.MalformedUpdates.Inc()
		in.logger.Warn("dropping malformed depth update", "error", err)
		return
	}

	if err := tickerstore.Validate(top); err != nil {
		in.store.IncMalformed()
		metrics.MalformedUpdates.Inc()
		in.logger.Warn("dropping invalid depth update", "error", err)
		return
	}

	if !in.store.Publish(top.SymbolIdx, *top) {
		metrics.StaleUpdates.Inc()
		in.logger.Warn("dropping out-of-order depth update",
			"symbol", in.reg.Symbol(top.SymbolIdx).ID, "last_update_id", top.LastUpdateID)
		return
	}
	metrics.UpdatesIn.WithLabelValues(in.reg.Symbol(top.SymbolIdx).ID).Inc()
}

// decode parses a raw message into an OrderBookTop with decimal levels,
// truncated to in.depth per side, per spec.md §4.4 step 1. It resolves the
// wire symbol id to an interned SymbolIdx via the registry — an unknown
// symbol id is treated as malformed, since the registry is compiled once at
// startup from the same rules snapshot the exchange uses to name symbols.
func (in *Ingestor) decode(msg []byte) (*types.OrderBookTop, error) {
	var raw rawDepthUpdate
	if err := json.Unmarshal(msg, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}

	idx, ok := in.reg.SymbolByID(raw.SymbolID)
	if !ok {
		return nil, fmt.Errorf("%w: unknown symbol id %q", errs.ErrDecode, raw.SymbolID)
	}

	bids, err := decodeLevels(raw.Bids, in.depth)
	if err != nil {
		return nil, fmt.Errorf("%w: bids: %v", errs.ErrDecode, err)
	}
	asks, err := decodeLevels(raw.Asks, in.depth)
	if err != nil {
		return nil, fmt.Errorf("%w: asks: %v", errs.ErrDecode, err)
	}

	return &types.OrderBookTop{
		SymbolIdx:    idx,
		Bids:         bids,
		Asks:         asks,
		LastUpdateID: raw.LastUpdateID,
		ReceivedAt:   time.Now(),
	}, nil
}

func decodeLevels(raw [][2]string, depth int) ([]types.PriceLevel, error) {
	if depth > 0 && len(raw) > depth {
		raw = raw[:depth]
	}
	levels := make([]types.PriceLevel, len(raw))
	for i, pair := range raw {
		price, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("price %q: %w", pair[0], err)
		}
		qty, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("qty %q: %w", pair[1], err)
		}
		levels[i] = types.PriceLevel{Price: price, Qty: qty}
	}
	return levels, nil
}
