package routing

import (
	"sync"
	"sync/atomic"
	"time"
)

// TargetStats tracks per-target counters used by selection policies.
// All counters are updated atomically for lock-free access on the hot path.
type TargetStats struct {
	// ActiveConnections is the number of requests currently in flight.
	ActiveConnections atomic.Int64

	// TotalRequests is the number of requests ever routed to the target.
	TotalRequests atomic.Int64

	// Failures is the number of failed requests.
	Failures atomic.Int64

	// LastSelected is the unix-nano time the target was last selected.
	LastSelected atomic.Int64
}

// StatsRegistry holds TargetStats per target key.
type StatsRegistry struct {
	targets sync.Map // map[string]*TargetStats
}

// NewStatsRegistry creates an empty registry.
func NewStatsRegistry() *StatsRegistry {
	return &StatsRegistry{}
}

// Get returns the stats for a target key, creating them on first use.
func (r *StatsRegistry) Get(key string) *TargetStats {
	val, _ := r.targets.LoadOrStore(key, &TargetStats{})
	return val.(*TargetStats)
}

// Acquire marks a request in flight on the target.
func (r *StatsRegistry) Acquire(key string) {
	stats := r.Get(key)
	stats.ActiveConnections.Add(1)
	stats.TotalRequests.Add(1)
	stats.LastSelected.Store(time.Now().UnixNano())
}

// Release marks a request finished on the target.
func (r *StatsRegistry) Release(key string, failed bool) {
	stats := r.Get(key)
	stats.ActiveConnections.Add(-1)
	if failed {
		stats.Failures.Add(1)
	}
}

// TargetSnapshot is a point-in-time view of one target's counters.
type TargetSnapshot struct {
	Target            string `json:"target"`
	ActiveConnections int64  `json:"active_connections"`
	TotalRequests     int64  `json:"total_requests"`
	Failures          int64  `json:"failures"`
}

// Snapshot returns a view of all tracked targets.
func (r *StatsRegistry) Snapshot() []TargetSnapshot {
	var out []TargetSnapshot
	r.targets.Range(func(key, value interface{}) bool {
		stats := value.(*TargetStats)
		out = append(out, TargetSnapshot{
			Target:            key.(string),
			ActiveConnections: stats.ActiveConnections.Load(),
			TotalRequests:     stats.TotalRequests.Load(),
			Failures:          stats.Failures.Load(),
		})
		return true
	})
	return out
}
