// Package janus is an LLM request router: virtual models are resolved to
// concrete provider targets through admission control, load-balancing
// policies, a staged execution pipeline, and an error-handling strategy
// chain with circuit breakers, retries and fallbacks.
package janus

import (
	"context"
	"net/http"

	"mercator-hq/janus/pkg/auth"
	"mercator-hq/janus/pkg/breaker"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/monitoring"
	"mercator-hq/janus/pkg/pipeline"
	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providerfactory"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/routing"
	"mercator-hq/janus/pkg/scheduler"
	"mercator-hq/janus/pkg/strategy"
	"mercator-hq/janus/pkg/telemetry/logging"
	"mercator-hq/janus/pkg/telemetry/metrics"
	"mercator-hq/janus/pkg/trace"
)

// Router is the assembled system. Create one with New, serve requests with
// Schedule and ScheduleStreaming, and Close it on shutdown.
type Router struct {
	store     *config.Store
	watcher   *config.Watcher
	watchStop context.CancelFunc

	authCenter *auth.Center
	breakers   *breaker.Registry
	monitor    *monitoring.Center
	collector  *metrics.Collector
	registry   *providers.Registry
	tracker    *trace.Tracker
	scheduler  *scheduler.Scheduler
	checker    *scheduler.HealthChecker
}

// New loads the configuration file and assembles the router. The file is
// watched for changes; valid updates apply without restart.
func New(configPath string) (*Router, error) {
	snapshot, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	if _, err := logging.Setup(snapshot.Logging, nil); err != nil {
		return nil, err
	}

	r := &Router{store: config.NewStore(snapshot)}

	r.authCenter = auth.NewCenter(snapshot.Auth, r.store)
	r.breakers = breaker.NewRegistry(snapshot.Strategy.Breaker)
	r.monitor = monitoring.NewCenter(snapshot.Monitoring)
	r.collector = metrics.NewCollector(snapshot.Metrics)

	r.registry, err = providerfactory.BuildRegistry(snapshot, r.authCenter)
	if err != nil {
		r.monitor.Close()
		return nil, err
	}

	store := r.tracerStore(snapshot.Trace)
	r.tracker = trace.NewTracker(snapshot.Trace, store)

	policies := routing.NewPolicySet(r.monitor, snapshot.Scheduler.HealthScoreThreshold)
	router := routing.NewRouter(r.store, r.breakers, policies, routing.NewStatsRegistry())

	strategies := strategy.NewManager(
		strategy.NewBreakerStrategy(r.breakers),
		strategy.NewRetryStrategy(snapshot.Strategy.Retry),
		strategy.NewFallbackStrategy(snapshot.Strategy.Fallback, r.authCenter),
	)

	protocols := protocol.NewRegistry()
	stages := []pipeline.Stage{
		pipeline.NewProtocolStage(r.store, protocols),
		pipeline.NewWorkflowStage(r.store),
		pipeline.NewCompatStage(r.store),
	}
	executor := pipeline.NewExecutor(router, r.registry, stages, strategies, r.monitor, r.tracker)

	r.scheduler = scheduler.New(r.store, executor, router, r.breakers, r.monitor, r.collector, r.registry)

	watchCtx, cancel := context.WithCancel(context.Background())
	r.watchStop = cancel
	r.watcher = config.NewWatcher(configPath, r.store, 0)
	if err := r.watcher.Start(watchCtx); err != nil {
		r.Close()
		return nil, err
	}

	r.checker = scheduler.NewHealthChecker(r.registry, r.monitor, 0)
	go r.checker.Run()

	return r, nil
}

// Schedule executes a complete request against a virtual model.
func (r *Router) Schedule(ctx context.Context, sessionID string, source protocol.Family, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	return r.scheduler.Schedule(ctx, sessionID, source, req)
}

// ScheduleStreaming executes a streaming request against a virtual model.
func (r *Router) ScheduleStreaming(ctx context.Context, sessionID string, source protocol.Family, req *providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	return r.scheduler.ScheduleStreaming(ctx, sessionID, source, req)
}

// GetHealth returns the composite health report.
func (r *Router) GetHealth() *scheduler.HealthReport { return r.scheduler.GetHealth() }

// GetMetrics returns the rolling-window monitoring aggregate.
func (r *Router) GetMetrics() *monitoring.Metrics { return r.scheduler.GetMetrics() }

// MetricsHandler serves the Prometheus exposition endpoint.
func (r *Router) MetricsHandler() http.Handler { return r.collector.Handler() }

// Auth exposes the credential center for login flows and status.
func (r *Router) Auth() *auth.Center { return r.authCenter }

// Monitor exposes the monitoring center for event queries and patterns.
func (r *Router) Monitor() *monitoring.Center { return r.monitor }

// Tracker exposes the I/O trace tracker for queries and export.
func (r *Router) Tracker() *trace.Tracker { return r.tracker }

// Close shuts the router down: the config watcher, health checker,
// monitoring workers, trace worker, and provider connections.
func (r *Router) Close() error {
	if r.watchStop != nil {
		r.watchStop()
	}
	if r.watcher != nil {
		r.watcher.Stop()
	}
	if r.checker != nil {
		r.checker.Stop()
	}
	if r.monitor != nil {
		r.monitor.Close()
	}
	var firstErr error
	if r.tracker != nil {
		if err := r.tracker.Close(); err != nil {
			firstErr = err
		}
	}
	if r.registry != nil {
		if err := r.registry.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// tracerStore picks the trace backend: SQLite when a store path is set,
// bounded memory otherwise.
func (r *Router) tracerStore(cfg config.TraceConfig) trace.Store {
	if cfg.StorePath != "" {
		if store, err := trace.NewSQLiteStore(cfg.StorePath); err == nil {
			return store
		}
	}
	return trace.NewMemoryStore(cfg.MemoryLimit)
}
