// Package errs defines the stable error-kind identifiers used across the
// engine (spec.md §7). These are sentinel values wrapped with context via
// fmt.Errorf("...: %w", ErrX), not a typed exception hierarchy — matching
// the rest of the codebase's taste for plain wrapped errors.
package errs

import "errors"

// Fatal, startup-time errors. A process that hits these must not start.
var (
	// ErrInvalidRules means the exchange rules snapshot failed validation:
	// duplicate (base, quote), zero price_tick/qty_step, or a missing
	// min_notional where the exchange declares the filter.
	ErrInvalidRules = errors.New("invalid rules")

	// ErrNoChains means the chain compiler produced zero chains from a
	// valid symbol registry and base-asset configuration.
	ErrNoChains = errors.New("no chains compiled")
)

// Local, per-event or per-evaluation errors. These are accounted via
// counters and never propagate past the component that raised them — except
// when the rules provider returns ErrDecode or ErrTransportLost from its
// startup fetch, which fails engine construction.
var (
	// ErrDecode means a depth update failed to parse or failed the
	// monotonicity/non-crossing check; the update is dropped. The rules
	// provider also wraps it for a rules-snapshot field that fails to parse.
	ErrDecode = errors.New("decode error")

	// ErrStaleSnapshot means an evaluation's input snapshot was missing or
	// older than the configured max age.
	ErrStaleSnapshot = errors.New("stale snapshot")

	// ErrUnfillable means no realizable plan exists within the configured
	// volume band given available depth.
	ErrUnfillable = errors.New("unfillable")

	// ErrEvalBudgetExceeded means an evaluation exceeded its soft per-call
	// deadline; the caller treats this the same as a nil result.
	ErrEvalBudgetExceeded = errors.New("eval budget exceeded")

	// ErrChannelDropOldest marks a dispatch that displaced the oldest
	// queued opportunity because the outbound channel was full.
	ErrChannelDropOldest = errors.New("dispatch channel full, dropped oldest")

	// ErrTransportLost is returned by the rules provider when a REST fetch
	// fails or answers with a non-200 status. The depth feed's reconnect
	// loop handles its own connection errors without it.
	ErrTransportLost = errors.New("transport lost")

	// ErrShutdown marks a cooperative shutdown in progress.
	ErrShutdown = errors.New("shutdown")
)
