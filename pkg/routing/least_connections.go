package routing

import (
	"mercator-hq/janus/pkg/config"
)

// LeastConnectionsPolicy picks the candidate with the fewest in-flight
// requests. Ties go to the candidate with the lowest target key.
type LeastConnectionsPolicy struct{}

// NewLeastConnectionsPolicy creates a least-connections policy.
func NewLeastConnectionsPolicy() *LeastConnectionsPolicy {
	return &LeastConnectionsPolicy{}
}

// Name returns the policy identifier.
func (p *LeastConnectionsPolicy) Name() string { return "least-connections" }

// Select returns the candidate with the fewest active connections.
func (p *LeastConnectionsPolicy) Select(_ string, candidates []*config.Target, stats *StatsRegistry) *config.Target {
	best := candidates[0]
	bestConns := stats.Get(best.Key()).ActiveConnections.Load()
	for _, t := range candidates[1:] {
		conns := stats.Get(t.Key()).ActiveConnections.Load()
		if conns < bestConns {
			best = t
			bestConns = conns
		}
	}
	return best
}
