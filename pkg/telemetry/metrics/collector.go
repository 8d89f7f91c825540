package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/janus/pkg/config"
)

// Collector registers and records the Prometheus metrics for the router.
// One instance owns its registry; the HTTP handler serves it.
type Collector struct {
	registry *prometheus.Registry

	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	inFlight         prometheus.Gauge
	queueWaitTotal   prometheus.Counter
	backpressure     prometheus.Counter
	providerRequests *prometheus.CounterVec
	providerLatency  *prometheus.HistogramVec
	breakerState     *prometheus.GaugeVec
	strategyRuns     *prometheus.CounterVec
	tokensTotal      *prometheus.CounterVec
}

// NewCollector creates a collector with its own registry.
func NewCollector(cfg config.MetricsConfig) *Collector {
	if cfg.Namespace == "" {
		cfg.Namespace = "janus"
	}
	if len(cfg.RequestDurationBuckets) == 0 {
		// LLM latencies run from sub-second to tens of seconds.
		cfg.RequestDurationBuckets = []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0, 30.0, 60.0}
	}

	c := &Collector{registry: prometheus.NewRegistry()}

	c.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "requests_total",
		Help: "Scheduled requests by virtual model and outcome.",
	}, []string{"virtual_model", "outcome"})

	c.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name:    "request_duration_seconds",
		Help:    "End-to-end request duration.",
		Buckets: cfg.RequestDurationBuckets,
	}, []string{"virtual_model"})

	c.inFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "requests_in_flight",
		Help: "Requests currently holding an admission slot.",
	})

	c.queueWaitTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "admission_waits_total",
		Help: "Requests that waited for an admission slot.",
	})

	c.backpressure = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "backpressure_rejections_total",
		Help: "Requests rejected because no slot freed within the queue wait.",
	})

	c.providerRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "provider_requests_total",
		Help: "Provider attempts by target and outcome.",
	}, []string{"provider", "outcome"})

	c.providerLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name:    "provider_latency_seconds",
		Help:    "Provider call latency.",
		Buckets: cfg.RequestDurationBuckets,
	}, []string{"provider"})

	c.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "breaker_state",
		Help: "Circuit state per target (0 closed, 1 half-open, 2 open).",
	}, []string{"target"})

	c.strategyRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "strategy_decisions_total",
		Help: "Strategy decisions by strategy and action.",
	}, []string{"strategy", "action"})

	c.tokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: cfg.Namespace, Subsystem: cfg.Subsystem,
		Name: "tokens_total",
		Help: "Token usage by virtual model and direction.",
	}, []string{"virtual_model", "direction"})

	c.registry.MustRegister(
		c.requestsTotal, c.requestDuration, c.inFlight, c.queueWaitTotal,
		c.backpressure, c.providerRequests, c.providerLatency,
		c.breakerState, c.strategyRuns, c.tokensTotal,
	)
	return c
}

// Registry returns the underlying registry for the HTTP handler.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// RecordRequest records a scheduled request outcome.
func (c *Collector) RecordRequest(virtualModel, outcome string, took time.Duration) {
	c.requestsTotal.WithLabelValues(virtualModel, outcome).Inc()
	c.requestDuration.WithLabelValues(virtualModel).Observe(took.Seconds())
}

// RecordTokens records token usage for a completed request.
func (c *Collector) RecordTokens(virtualModel string, prompt, completion int) {
	c.tokensTotal.WithLabelValues(virtualModel, "prompt").Add(float64(prompt))
	c.tokensTotal.WithLabelValues(virtualModel, "completion").Add(float64(completion))
}

// AcquireSlot / ReleaseSlot track admission occupancy.
func (c *Collector) AcquireSlot() { c.inFlight.Inc() }
func (c *Collector) ReleaseSlot() { c.inFlight.Dec() }

// RecordQueueWait notes a request that had to wait for a slot.
func (c *Collector) RecordQueueWait() { c.queueWaitTotal.Inc() }

// RecordBackpressure notes a backpressure rejection.
func (c *Collector) RecordBackpressure() { c.backpressure.Inc() }

// RecordProviderCall records one provider attempt.
func (c *Collector) RecordProviderCall(provider, outcome string, took time.Duration) {
	c.providerRequests.WithLabelValues(provider, outcome).Inc()
	c.providerLatency.WithLabelValues(provider).Observe(took.Seconds())
}

// SetBreakerState publishes a circuit state change.
func (c *Collector) SetBreakerState(target string, state float64) {
	c.breakerState.WithLabelValues(target).Set(state)
}

// RecordStrategyDecision records one strategy decision.
func (c *Collector) RecordStrategyDecision(strategy, action string) {
	c.strategyRuns.WithLabelValues(strategy, action).Inc()
}
