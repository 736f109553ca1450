package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Engine / tick loop

	EngineTickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kairoi",
		Name:      "engine_tick_duration_seconds",
		Help:      "Wall-clock time spent doing work in one scheduler tick.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1},
	})

	EngineJobsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kairoi",
		Name:      "engine_jobs",
		Help:      "Number of jobs currently held in memory.",
	})

	EngineRulesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kairoi",
		Name:      "engine_rules",
		Help:      "Number of rules currently held in memory.",
	})

	JobsSetTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "jobs_set_total",
		Help:      "Total successful SetJob operations.",
	})

	JobsTriggeredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "jobs_triggered_total",
		Help:      "Total jobs that crossed Planned -> Triggered.",
	})

	JobsExecutedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "jobs_executed_total",
		Help:      "Total jobs that reached the Executed terminal state.",
	})

	JobsFailedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "jobs_failed_total",
		Help:      "Total jobs that reached the Failed terminal state.",
	})

	// Processor

	PairingFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "pairing_failures_total",
		Help:      "Total triggered jobs with no matching rule.",
	})

	PairingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kairoi",
		Name:      "pairing_duration_seconds",
		Help:      "Time to compute the best-matching rule for a triggered job.",
		Buckets:   prometheus.DefBuckets,
	})

	// Runner pool

	RunnerExecutionDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kairoi",
		Name:      "runner_execution_duration_seconds",
		Help:      "Duration of a dispatched execution, by backend and outcome.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "outcome"})

	RunnerExecutionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "runner_executions_total",
		Help:      "Total dispatched executions, by backend and outcome.",
	}, []string{"backend", "outcome"})

	AMQPCacheSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kairoi",
		Name:      "runner_amqp_cache_size",
		Help:      "Number of open AMQP connections currently cached.",
	})

	AMQPCacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "runner_amqp_cache_evictions_total",
		Help:      "Total LRU evictions from the AMQP connection cache.",
	})

	// HTTP (admin surface)

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kairoi",
		Name:      "http_request_duration_seconds",
		Help:      "Admin HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kairoi",
		Name:      "http_requests_total",
		Help:      "Total admin HTTP requests.",
	}, []string{"method", "path", "status"})
)

// Register adds every collector to the default registry. Called once at
// startup, before any component begins producing samples.
func Register() {
	prometheus.MustRegister(
		EngineTickDuration,
		EngineJobsGauge,
		EngineRulesGauge,
		JobsSetTotal,
		JobsTriggeredTotal,
		JobsExecutedTotal,
		JobsFailedTotal,
		PairingFailuresTotal,
		PairingDuration,
		RunnerExecutionDuration,
		RunnerExecutionsTotal,
		AMQPCacheSize,
		AMQPCacheEvictionsTotal,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}
