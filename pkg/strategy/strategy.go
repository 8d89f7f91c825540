package strategy

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/janus/pkg/providers"
)

// Strategy handles one class of failure. Strategies are consulted in
// ascending priority order; the first one that claims a failure decides.
type Strategy interface {
	// Name identifies the strategy in metrics and logs.
	Name() string

	// Priority orders consultation. Lower runs first.
	Priority() int

	// CanHandle reports whether the strategy claims this failure.
	CanHandle(att *Attempt, err error) bool

	// Handle resolves the failure into a decision.
	Handle(ctx context.Context, att *Attempt, err error) Decision
}

// Stats tracks per-strategy outcomes.
type Stats struct {
	Executions   int64                         `json:"executions"`
	Successes    int64                         `json:"successes"`
	Failures     int64                         `json:"failures"`
	TotalTime    time.Duration                 `json:"-"`
	AvgTime      time.Duration                 `json:"avg_time"`
	ErrorsByKind map[providers.ErrorKind]int64 `json:"errors_by_kind"`
}

// Manager chains the configured strategies and resolves failed attempts.
type Manager struct {
	strategies []Strategy
	logger     *slog.Logger

	mu    sync.Mutex
	stats map[string]*Stats
}

// NewManager creates a manager over the given strategies, sorted by
// priority.
func NewManager(strategies ...Strategy) *Manager {
	sorted := make([]Strategy, len(strategies))
	copy(sorted, strategies)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return &Manager{
		strategies: sorted,
		logger:     slog.Default().With("component", "strategy.manager"),
		stats:      make(map[string]*Stats),
	}
}

// Resolve consults strategies in priority order and returns the first
// claimed decision. Unclaimed failures surface as give-up. Strategies with
// failure-sensitive state (circuit breakers) observe every failure before
// consultation, regardless of who claims it.
func (m *Manager) Resolve(ctx context.Context, att *Attempt, err error) Decision {
	kind := providers.KindOf(err)
	for _, s := range m.strategies {
		if obs, ok := s.(failureObserver); ok {
			obs.ObserveFailure(att, err)
		}
	}
	for _, s := range m.strategies {
		if !s.CanHandle(att, err) {
			continue
		}
		start := time.Now()
		decision := s.Handle(ctx, att, err)
		m.record(s.Name(), kind, decision, time.Since(start))

		m.logger.Debug("strategy decision",
			"strategy", s.Name(),
			"virtual_model", att.VirtualModel,
			"target", att.Target,
			"attempt", att.Number,
			"error_kind", string(kind),
			"action", string(decision.Action),
			"delay", decision.Delay,
		)
		if decision.Strategy == "" {
			decision.Strategy = s.Name()
		}
		return decision
	}
	return giveUp("", "no strategy claimed the failure")
}

// ObserveSuccess lets strategies with state (circuit breakers, response
// caches) observe a successful attempt.
func (m *Manager) ObserveSuccess(att *Attempt, resp *providers.CompletionResponse) {
	for _, s := range m.strategies {
		if obs, ok := s.(successObserver); ok {
			obs.ObserveSuccess(att, resp)
		}
	}
}

// successObserver is implemented by strategies that track successes.
type successObserver interface {
	ObserveSuccess(att *Attempt, resp *providers.CompletionResponse)
}

// failureObserver is implemented by strategies that track every failure,
// claimed or not.
type failureObserver interface {
	ObserveFailure(att *Attempt, err error)
}

func (m *Manager) record(name string, kind providers.ErrorKind, d Decision, took time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.stats[name]
	if !ok {
		st = &Stats{ErrorsByKind: make(map[providers.ErrorKind]int64)}
		m.stats[name] = st
	}
	st.Executions++
	st.TotalTime += took
	st.AvgTime = st.TotalTime / time.Duration(st.Executions)
	st.ErrorsByKind[kind]++
	if d.Action == ActionGiveUp {
		st.Failures++
	} else {
		st.Successes++
	}
}

// StatsSnapshot returns a copy of per-strategy stats.
func (m *Manager) StatsSnapshot() map[string]Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]Stats, len(m.stats))
	for name, st := range m.stats {
		cp := *st
		cp.ErrorsByKind = make(map[providers.ErrorKind]int64, len(st.ErrorsByKind))
		for k, v := range st.ErrorsByKind {
			cp.ErrorsByKind[k] = v
		}
		out[name] = cp
	}
	return out
}
