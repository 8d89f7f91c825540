package monitoring

import (
	"time"

	"mercator-hq/janus/pkg/providers"
)

// ProviderMetrics aggregates per-provider error behaviour over the rolling
// window.
type ProviderMetrics struct {
	Provider          string  `json:"provider"`
	Errors            int64   `json:"errors"`
	ConsecutiveErrors int64   `json:"consecutive_errors"`
	RetryAttempts     int64   `json:"retry_attempts"`
	RetrySuccesses    int64   `json:"retry_successes"`
	RetrySuccessRate  float64 `json:"retry_success_rate"`
	FallbackUses      int64   `json:"fallback_uses"`
	HealthScore       float64 `json:"health_score"`
}

// Metrics is a point-in-time aggregate over the rolling window.
type Metrics struct {
	Window          time.Duration                 `json:"window"`
	TotalEvents     int64                         `json:"total_events"`
	DroppedEvents   int64                         `json:"dropped_events"`
	ByKind          map[providers.ErrorKind]int64 `json:"by_kind"`
	ByCategory      map[Category]int64            `json:"by_category"`
	BySeverity      map[Severity]int64            `json:"by_severity"`
	Recovered       int64                         `json:"recovered"`
	RecoveryRate    float64                       `json:"recovery_rate"`
	AvgHandlingTime time.Duration                 `json:"avg_handling_time"`
	ErrorsPerMinute float64                       `json:"errors_per_minute"`
	Providers       []ProviderMetrics             `json:"providers"`
	HealthScore     float64                       `json:"health_score"`
	HealthState     string                        `json:"health_state"`
	GeneratedAt     time.Time                     `json:"generated_at"`
}

// aggregate computes window metrics from the retained events.
func aggregate(events []*ErrorEvent, window time.Duration, dropped int64, now time.Time) *Metrics {
	m := &Metrics{
		Window:        window,
		DroppedEvents: dropped,
		ByKind:        make(map[providers.ErrorKind]int64),
		ByCategory:    make(map[Category]int64),
		BySeverity:    make(map[Severity]int64),
		GeneratedAt:   now,
	}

	cutoff := now.Add(-window)
	var totalHandling time.Duration
	var handled int64
	for _, ev := range events {
		if ev.Timestamp.Before(cutoff) {
			continue
		}
		m.TotalEvents++
		m.ByKind[ev.Kind]++
		m.ByCategory[ev.Category]++
		m.BySeverity[ev.Severity]++
		if ev.Recovered {
			m.Recovered++
		}
		if ev.HandlingTime > 0 {
			totalHandling += ev.HandlingTime
			handled++
		}
	}

	if m.TotalEvents > 0 {
		m.RecoveryRate = float64(m.Recovered) / float64(m.TotalEvents)
	}
	if handled > 0 {
		m.AvgHandlingTime = totalHandling / time.Duration(handled)
	}
	if window > 0 {
		m.ErrorsPerMinute = float64(m.TotalEvents) / window.Minutes()
	}
	return m
}
