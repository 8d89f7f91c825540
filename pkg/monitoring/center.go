package monitoring

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/janus/pkg/config"
)

// Center is the monitoring hub: it ingests error events off a bounded
// queue, retains them under count and age limits, aggregates rolling-window
// metrics, scores system and provider health, and fires alerts.
//
// Recording is fire-and-forget; the request path never blocks on
// monitoring.
type Center struct {
	cfg    config.MonitoringConfig
	queue  *eventQueue
	logger *slog.Logger

	mu     sync.RWMutex
	events []*ErrorEvent

	targets sync.Map // map[string]*targetState

	patterns *PatternMatcher
	anomaly  *AnomalyDetector
	alerts   *alertLog

	cron   *cron.Cron
	done   chan struct{}
	closed sync.Once
	wg     sync.WaitGroup
}

// targetState holds incrementally maintained per-target counters.
type targetState struct {
	mu          sync.Mutex
	consecutive int64
	errors      int64
	successes   int64
	retryHits   int64
	retryMisses int64
	fallbacks   int64
}

// NewCenter starts the monitoring center. Call Close to stop its workers.
func NewCenter(cfg config.MonitoringConfig) *Center {
	c := &Center{
		cfg:      cfg,
		queue:    newEventQueue(cfg.QueueCapacity),
		logger:   slog.Default().With("component", "monitoring.center"),
		patterns: NewPatternMatcher(cfg.MinConfidence, cfg.LearningRate),
		anomaly:  NewAnomalyDetector(cfg.AnomalySigma, cfg.AnomalyWindow),
		alerts:   newAlertLog(),
		done:     make(chan struct{}),
	}

	c.wg.Add(1)
	go c.worker()

	if cfg.PruneSchedule != "" {
		c.cron = cron.New()
		if _, err := c.cron.AddFunc(cfg.PruneSchedule, c.prune); err != nil {
			c.logger.Warn("invalid prune schedule, falling back to inline pruning",
				"schedule", cfg.PruneSchedule, "error", err)
			c.cron = nil
		} else {
			c.cron.Start()
		}
	}
	return c
}

// Record enqueues an error event. Never blocks; under sustained overload
// the oldest unconsumed event is dropped instead.
func (c *Center) Record(ev *ErrorEvent) {
	c.queue.Push(ev)

	if ev.Target != "" {
		ts := c.targetState(ev.Target)
		ts.mu.Lock()
		ts.consecutive++
		ts.errors++
		consecutive := ts.consecutive
		ts.mu.Unlock()

		if c.cfg.Alerts.ConsecutiveErrors > 0 && consecutive == int64(c.cfg.Alerts.ConsecutiveErrors) {
			c.fireAlert(Alert{
				Type:      AlertConsecutiveErrors,
				Severity:  SeverityCritical,
				Message:   fmt.Sprintf("target %s failed %d times in a row", ev.Target, consecutive),
				Provider:  ev.Provider,
				Value:     float64(consecutive),
				Threshold: float64(c.cfg.Alerts.ConsecutiveErrors),
				Timestamp: time.Now(),
			})
		}
	}
}

// RecordSuccess resets consecutive-error tracking for the target and, when
// the success followed a retry, feeds the retry success rate.
func (c *Center) RecordSuccess(target string, afterRetry bool) {
	if target == "" {
		return
	}
	ts := c.targetState(target)
	ts.mu.Lock()
	ts.consecutive = 0
	ts.successes++
	if afterRetry {
		ts.retryHits++
	}
	ts.mu.Unlock()
}

// RecordRetryFailure notes a retry that did not produce a success.
func (c *Center) RecordRetryFailure(target string) {
	if target == "" {
		return
	}
	ts := c.targetState(target)
	ts.mu.Lock()
	ts.retryMisses++
	ts.mu.Unlock()
}

// RecordFallback notes that a fallback action resolved a request routed at
// the target.
func (c *Center) RecordFallback(target string) {
	if target == "" {
		return
	}
	ts := c.targetState(target)
	ts.mu.Lock()
	ts.fallbacks++
	ts.mu.Unlock()
}

// TargetScore implements the health scorer used by health-based routing.
// Unknown targets score 100.
func (c *Center) TargetScore(target string) float64 {
	val, ok := c.targets.Load(target)
	if !ok {
		return 100
	}
	ts := val.(*targetState)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	score := 100.0
	if threshold := c.cfg.Alerts.ConsecutiveErrors; threshold > 0 && ts.consecutive > 0 {
		frac := float64(ts.consecutive) / float64(threshold)
		if frac > 1 {
			frac = 1
		}
		score -= 50.0 * frac
	}
	total := ts.errors + ts.successes
	if total > 0 {
		score -= 50.0 * float64(ts.errors) / float64(total)
	}
	if score < 0 {
		score = 0
	}
	return score
}

// Metrics aggregates the rolling window and scores health.
func (c *Center) Metrics() *Metrics {
	now := time.Now()

	c.mu.RLock()
	events := make([]*ErrorEvent, len(c.events))
	copy(events, c.events)
	c.mu.RUnlock()

	m := aggregate(events, c.cfg.HealthWindow, c.queue.Dropped(), now)
	m.Providers = c.providerMetrics(events, now)
	m.HealthScore = systemScore(m, c.cfg.Alerts.ErrorRate, c.cfg.Alerts.HandlingTime)
	m.HealthState = healthState(m.HealthScore)
	return m
}

// Events returns up to limit retained events, newest last.
func (c *Center) Events(limit int) []*ErrorEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if limit <= 0 || limit > len(c.events) {
		limit = len(c.events)
	}
	out := make([]*ErrorEvent, limit)
	copy(out, c.events[len(c.events)-limit:])
	return out
}

// Alerts returns the recent alert history.
func (c *Center) Alerts(limit int) []Alert { return c.alerts.recent(limit) }

// Patterns exposes the adaptive pattern matcher.
func (c *Center) Patterns() *PatternMatcher { return c.patterns }

// Dropped returns how many events were evicted unconsumed.
func (c *Center) Dropped() int64 { return c.queue.Dropped() }

// Close stops the worker and the prune schedule, draining the queue first.
func (c *Center) Close() {
	c.closed.Do(func() {
		if c.cron != nil {
			c.cron.Stop()
		}
		close(c.done)
		c.wg.Wait()
	})
}

func (c *Center) worker() {
	defer c.wg.Done()

	// Error-rate sampling for anomaly detection.
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.queue.Wait():
			for {
				ev := c.queue.Pop()
				if ev == nil {
					break
				}
				c.ingest(ev)
			}
		case <-ticker.C:
			c.sampleAnomalies()
		case <-c.done:
			for {
				ev := c.queue.Pop()
				if ev == nil {
					return
				}
				c.ingest(ev)
			}
		}
	}
}

func (c *Center) ingest(ev *ErrorEvent) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.pruneLocked(time.Now())
	c.mu.Unlock()

	c.evaluateAlerts()
}

// prune applies retention limits. Runs on the cron schedule and inline on
// ingest.
func (c *Center) prune() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked(time.Now())
}

func (c *Center) pruneLocked(now time.Time) {
	if c.cfg.MaxEventAge > 0 {
		cutoff := now.Add(-c.cfg.MaxEventAge)
		idx := 0
		for idx < len(c.events) && c.events[idx].Timestamp.Before(cutoff) {
			idx++
		}
		if idx > 0 {
			c.events = c.events[idx:]
		}
	}
	if c.cfg.MaxEvents > 0 && len(c.events) > c.cfg.MaxEvents {
		c.events = c.events[len(c.events)-c.cfg.MaxEvents:]
	}
}

func (c *Center) evaluateAlerts() {
	m := c.Metrics()
	now := time.Now()

	if c.cfg.Alerts.ErrorRate > 0 && m.ErrorsPerMinute >= c.cfg.Alerts.ErrorRate {
		c.fireAlert(Alert{
			Type:      AlertErrorRate,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("error rate %.1f/min exceeds threshold %.1f/min", m.ErrorsPerMinute, c.cfg.Alerts.ErrorRate),
			Value:     m.ErrorsPerMinute,
			Threshold: c.cfg.Alerts.ErrorRate,
			Timestamp: now,
		})
	}
	if c.cfg.Alerts.HandlingTime > 0 && m.AvgHandlingTime >= c.cfg.Alerts.HandlingTime {
		c.fireAlert(Alert{
			Type:      AlertHandlingTime,
			Severity:  SeverityWarning,
			Message:   fmt.Sprintf("average handling time %s exceeds threshold %s", m.AvgHandlingTime, c.cfg.Alerts.HandlingTime),
			Value:     m.AvgHandlingTime.Seconds(),
			Threshold: c.cfg.Alerts.HandlingTime.Seconds(),
			Timestamp: now,
		})
	}
	if m.HealthState == HealthStateUnhealthy {
		c.fireAlert(Alert{
			Type:      AlertHealthCheck,
			Severity:  SeverityCritical,
			Message:   fmt.Sprintf("system health score %.1f is unhealthy", m.HealthScore),
			Value:     m.HealthScore,
			Threshold: degradedThreshold,
			Timestamp: now,
		})
	}
}

func (c *Center) sampleAnomalies() {
	m := c.Metrics()
	if anomaly := c.anomaly.Observe("errors_per_minute", m.ErrorsPerMinute); anomaly != nil {
		c.fireAlert(Alert{
			Type:     AlertAnomaly,
			Severity: SeverityWarning,
			Message: fmt.Sprintf("errors_per_minute %.1f deviates %.1f sigma from mean %.1f",
				anomaly.Value, anomaly.ZScore, anomaly.Mean),
			Value:     anomaly.Value,
			Threshold: c.cfg.AnomalySigma,
			Timestamp: time.Now(),
		})
	}
	if m.AvgHandlingTime > 0 {
		if anomaly := c.anomaly.Observe("avg_handling_time", m.AvgHandlingTime.Seconds()); anomaly != nil {
			c.fireAlert(Alert{
				Type:     AlertAnomaly,
				Severity: SeverityWarning,
				Message: fmt.Sprintf("avg_handling_time %.2fs deviates %.1f sigma from mean %.2fs",
					anomaly.Value, anomaly.ZScore, anomaly.Mean),
				Value:     anomaly.Value,
				Threshold: c.cfg.AnomalySigma,
				Timestamp: time.Now(),
			})
		}
	}
}

func (c *Center) fireAlert(a Alert) {
	if !c.alerts.fire(a) {
		return
	}
	c.logger.Warn("alert fired",
		"type", string(a.Type),
		"severity", string(a.Severity),
		"message", a.Message,
		"provider", a.Provider,
	)
}

func (c *Center) providerMetrics(events []*ErrorEvent, now time.Time) []ProviderMetrics {
	cutoff := now.Add(-c.cfg.HealthWindow)
	errorsByProvider := make(map[string]int64)
	for _, ev := range events {
		if ev.Provider == "" || ev.Timestamp.Before(cutoff) {
			continue
		}
		errorsByProvider[ev.Provider]++
	}

	byProvider := make(map[string]*ProviderMetrics)
	c.targets.Range(func(key, value interface{}) bool {
		provider, _, _ := splitTarget(key.(string))
		ts := value.(*targetState)

		pm, ok := byProvider[provider]
		if !ok {
			pm = &ProviderMetrics{Provider: provider, Errors: errorsByProvider[provider]}
			byProvider[provider] = pm
		}

		ts.mu.Lock()
		if ts.consecutive > pm.ConsecutiveErrors {
			pm.ConsecutiveErrors = ts.consecutive
		}
		pm.RetryAttempts += ts.retryHits + ts.retryMisses
		pm.RetrySuccesses += ts.retryHits
		pm.FallbackUses += ts.fallbacks
		ts.mu.Unlock()
		return true
	})

	out := make([]ProviderMetrics, 0, len(byProvider))
	for _, pm := range byProvider {
		if pm.RetryAttempts > 0 {
			pm.RetrySuccessRate = float64(pm.RetrySuccesses) / float64(pm.RetryAttempts)
		}
		pm.HealthScore = providerScore(pm, c.cfg.Alerts.ConsecutiveErrors)
		out = append(out, *pm)
	}
	return out
}

func (c *Center) targetState(target string) *targetState {
	val, _ := c.targets.LoadOrStore(target, &targetState{})
	return val.(*targetState)
}
