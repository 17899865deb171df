package aggregator

import "github.com/prometheus/client_golang/prometheus"

// instrumentation holds the engine's own operational metrics — distinct
// from the caller's ingested metric samples. Registered against a
// caller-supplied registry (never the global default) so multiple
// Aggregator instances in the same process, or in tests, don't collide.
type instrumentation struct {
	samplesAccepted  prometheus.Counter
	samplesRejected  prometheus.Counter
	windowsEvicted   prometheus.Counter
	generation       prometheus.Gauge
	cacheHits        prometheus.Counter
	cacheMisses      prometheus.Counter
	extrapolations   *prometheus.CounterVec
}

func newInstrumentation(reg prometheus.Registerer) *instrumentation {
	ins := &instrumentation{
		samplesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_samples_accepted_total",
			Help: "Samples accepted by Aggregator.Add.",
		}),
		samplesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_samples_rejected_total",
			Help: "Samples rejected by Aggregator.Add (validation failure or evicted window).",
		}),
		windowsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_windows_evicted_total",
			Help: "Windows evicted from RawStore.",
		}),
		generation: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aggregator_generation",
			Help: "Current generation counter.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_cache_hits_total",
			Help: "Aggregate() calls served from the single-slot cache.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aggregator_cache_misses_total",
			Help: "Aggregate() calls that recomputed the result.",
		}),
		extrapolations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aggregator_extrapolations_total",
			Help: "Value vectors filled in by each ExtrapolationKind.",
		}, []string{"kind"}),
	}

	if reg == nil {
		return ins
	}
	reg.MustRegister(
		ins.samplesAccepted,
		ins.samplesRejected,
		ins.windowsEvicted,
		ins.generation,
		ins.cacheHits,
		ins.cacheMisses,
		ins.extrapolations,
	)
	return ins
}
