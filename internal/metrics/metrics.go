// Package metrics defines the Prometheus collectors enumerated in spec.md
// §6's observability table. Every collector is package-level and
// self-registering, matching the pattern used across the example corpus
// for small bots with a single metrics surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	UpdatesIn = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "triarb_updates_in_total",
			Help: "Depth updates accepted into the ticker store, per symbol.",
		},
		[]string{"symbol"},
	)

	MalformedUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_malformed_updates_total",
			Help: "Depth updates dropped for failing to decode or failing book-shape validation.",
		},
	)

	StaleUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_stale_updates_total",
			Help: "Depth updates dropped for arriving out of last_update_id order.",
		},
	)

	ChainsCompiled = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triarb_chains_compiled",
			Help: "Number of 3-leg chains compiled at startup.",
		},
	)

	Evaluations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_evaluations_total",
			Help: "Chain evaluations run.",
		},
	)

	Profitable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_profitable_total",
			Help: "Evaluations that produced a profitable opportunity.",
		},
	)

	Dispatched = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_dispatched_total",
			Help: "Opportunities handed to the order sender.",
		},
	)

	DispatchDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_dispatch_dropped_total",
			Help: "Opportunities dropped from the outbound queue (drop-oldest, full channel).",
		},
	)

	DispatchStale = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_dispatch_stale_total",
			Help: "Opportunities discarded at dispatch time for exceeding max_age_ms or being superseded by a newer book version.",
		},
	)

	EvalDeadlineExceeded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "triarb_eval_deadline_exceeded_total",
			Help: "Evaluations abandoned after exceeding eval_budget_us.",
		},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triarb_queue_depth",
			Help: "Current depth of the dispatcher's outbound channel.",
		},
	)

	ChainsDirty = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "triarb_chains_dirty",
			Help: "Chains currently flagged dirty and pending evaluation.",
		},
	)

	EvalLatencyUS = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triarb_eval_latency_us",
			Help:    "Per-chain evaluation latency in microseconds.",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
	)

	UpdateToOpportunityUS = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "triarb_update_to_opportunity_us",
			Help:    "Wall-clock latency from receipt of a chain's leg-1 depth snapshot to the evaluator returning a profitable opportunity, in microseconds.",
			Buckets: []float64{100, 500, 1000, 5000, 10000, 50000, 100000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		UpdatesIn,
		MalformedUpdates,
		StaleUpdates,
		ChainsCompiled,
		Evaluations,
		Profitable,
		Dispatched,
		DispatchDropped,
		DispatchStale,
		EvalDeadlineExceeded,
		QueueDepth,
		ChainsDirty,
		EvalLatencyUS,
		UpdateToOpportunityUS,
	)
}
