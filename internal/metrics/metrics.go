package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// OutcomeSuccess labels successful remote fetches.
	OutcomeSuccess = "success"
	// OutcomeError labels failed remote fetches.
	OutcomeError = "error"
	// OutcomeCacheHit labels remote fetches served from the KV cache.
	OutcomeCacheHit = "cache_hit"
)

var (
	ticksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "generator_ticks_total",
			Help:      "Generator ticks executed, partitioned by metric.",
		},
		[]string{"metric"},
	)

	tickDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faultsim",
			Name:      "generator_tick_seconds",
			Help:      "Time spent computing one generator tick.",
			Buckets:   []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01},
		},
	)

	activeGenerators = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "faultsim",
			Name:      "active_generators",
			Help:      "Number of running series generators.",
		},
	)

	injectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "injections_created_total",
			Help:      "Fault injections created, partitioned by fault type.",
		},
		[]string{"fault_type"},
	)

	rejectedInjectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "injections_rejected_total",
			Help:      "Injection requests rejected as invalid configuration.",
		},
	)

	templateMutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "template_mutations_total",
			Help:      "Template registry mutations, partitioned by operation.",
		},
		[]string{"op"},
	)

	persistenceErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "persistence_errors_total",
			Help:      "Recovered persistence failures, partitioned by collection and operation.",
		},
		[]string{"collection", "op"},
	)

	alarmsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "alarms_total",
			Help:      "Alarms raised by detectors, partitioned by level.",
		},
		[]string{"level"},
	)

	remoteFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "faultsim",
			Name:      "remote_fetches_total",
			Help:      "Remote telemetry fetches, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	remoteFetchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "faultsim",
			Name:      "remote_fetch_seconds",
			Help:      "Remote telemetry fetch latency in seconds.",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)
)

// Register attaches faultsim collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		ticksTotal,
		tickDurationSeconds,
		activeGenerators,
		injectionsTotal,
		rejectedInjectionsTotal,
		templateMutationsTotal,
		persistenceErrorsTotal,
		alarmsTotal,
		remoteFetchesTotal,
		remoteFetchDurationSeconds,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObserveTick records one generator tick.
func ObserveTick(metric string, duration time.Duration) {
	ticksTotal.WithLabelValues(metric).Inc()
	if duration < 0 {
		duration = 0
	}
	tickDurationSeconds.Observe(duration.Seconds())
}

// SetGenerators publishes the number of running generators.
func SetGenerators(n int) {
	activeGenerators.Set(float64(n))
}

// ObserveInjections counts n created injections of a fault type.
func ObserveInjections(faultType string, n int) {
	if n <= 0 {
		return
	}
	injectionsTotal.WithLabelValues(faultType).Add(float64(n))
}

// ObserveRejectedInjection counts a rejected injection request.
func ObserveRejectedInjection() {
	rejectedInjectionsTotal.Inc()
}

// ObserveTemplateMutation counts an upsert or delete on the registry.
func ObserveTemplateMutation(op string) {
	templateMutationsTotal.WithLabelValues(op).Inc()
}

// ObservePersistenceError counts a recovered load, decode or save failure.
func ObservePersistenceError(collection, op string) {
	persistenceErrorsTotal.WithLabelValues(collection, op).Inc()
}

// ObserveAlarm counts a raised alarm.
func ObserveAlarm(level string) {
	alarmsTotal.WithLabelValues(level).Inc()
}

// ObserveRemoteFetch records the outcome and latency of a remote telemetry call.
func ObserveRemoteFetch(outcome string, duration time.Duration) {
	switch outcome {
	case OutcomeCacheHit, OutcomeError:
	default:
		outcome = OutcomeSuccess
	}
	remoteFetchesTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeCacheHit {
		return
	}
	if duration < 0 {
		duration = 0
	}
	remoteFetchDurationSeconds.Observe(duration.Seconds())
}
