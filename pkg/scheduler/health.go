package scheduler

import (
	"context"
	"time"

	"mercator-hq/janus/pkg/breaker"
	"mercator-hq/janus/pkg/monitoring"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/routing"
)

// HealthReport is the composite health view exposed to operators.
type HealthReport struct {
	Status    string                     `json:"status"`
	Score     float64                    `json:"score"`
	InFlight  int                        `json:"in_flight"`
	Providers []providers.ProviderHealth `json:"providers"`
	Breakers  []breaker.Stats            `json:"breakers"`
	Targets   []routing.TargetSnapshot   `json:"targets"`
	Metrics   *monitoring.Metrics        `json:"metrics"`
}

// GetHealth assembles the composite health report.
func (s *Scheduler) GetHealth() *HealthReport {
	m := s.monitor.Metrics()
	report := &HealthReport{
		Status:   m.HealthState,
		Score:    m.HealthScore,
		InFlight: s.InFlight(),
		Targets:  s.router.Stats().Snapshot(),
		Metrics:  m,
	}
	for _, p := range s.registry.All() {
		report.Providers = append(report.Providers, p.GetHealth())
	}
	for _, target := range s.breakers.Targets() {
		report.Breakers = append(report.Breakers, s.breakers.Snapshot(target))
	}
	return report
}

// GetMetrics returns the rolling-window monitoring aggregate.
func (s *Scheduler) GetMetrics() *monitoring.Metrics {
	return s.monitor.Metrics()
}

// HealthChecker probes every registered provider on an interval and records
// unhealthy transitions as monitoring events.
type HealthChecker struct {
	registry *providers.Registry
	monitor  *monitoring.Center
	interval time.Duration
	done     chan struct{}
}

// NewHealthChecker creates a checker. Start it with Run in a goroutine.
func NewHealthChecker(registry *providers.Registry, monitor *monitoring.Center, interval time.Duration) *HealthChecker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &HealthChecker{
		registry: registry,
		monitor:  monitor,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Run probes until Stop is called.
func (hc *HealthChecker) Run() {
	ticker := time.NewTicker(hc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			hc.probeAll()
		case <-hc.done:
			return
		}
	}
}

// Stop terminates the probe loop.
func (hc *HealthChecker) Stop() { close(hc.done) }

func (hc *HealthChecker) probeAll() {
	for _, p := range hc.registry.All() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result := p.HealthCheck(ctx)
		cancel()
		if !result.Healthy && result.Err != nil {
			hc.monitor.Record(monitoring.NewErrorEvent("health_check", p.GetName(), result.Err))
		}
	}
}
