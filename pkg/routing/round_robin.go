package routing

import (
	"sync"
	"sync/atomic"

	"mercator-hq/janus/pkg/config"
)

// RoundRobinPolicy cycles through candidates in target-key order. Each
// virtual model keeps its own counter so traffic on one model does not skew
// rotation on another.
type RoundRobinPolicy struct {
	counters sync.Map // map[string]*atomic.Int64
}

// NewRoundRobinPolicy creates a round-robin policy.
func NewRoundRobinPolicy() *RoundRobinPolicy {
	return &RoundRobinPolicy{}
}

// Name returns the policy identifier.
func (p *RoundRobinPolicy) Name() string { return "round-robin" }

// Select returns the next candidate in rotation.
func (p *RoundRobinPolicy) Select(vmID string, candidates []*config.Target, _ *StatsRegistry) *config.Target {
	if len(candidates) == 1 {
		return candidates[0]
	}

	val, _ := p.counters.LoadOrStore(vmID, &atomic.Int64{})
	counter := val.(*atomic.Int64)

	count := counter.Add(1) - 1
	if count >= 1_000_000_000 {
		counter.CompareAndSwap(count+1, 0)
		count = 0
	}
	return candidates[int(count%int64(len(candidates)))]
}
