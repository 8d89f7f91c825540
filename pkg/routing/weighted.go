package routing

import (
	"sync"
	"sync/atomic"

	"mercator-hq/janus/pkg/config"
)

// WeightedPolicy distributes selections proportionally to target weights
// using a weight-expanded rotation rather than random draws, so short runs
// match the configured ratios exactly. A target with weight 2 appears twice
// in the rotation of a weight-1 peer. Zero and negative weights exclude the
// target from the expansion; if every candidate has non-positive weight the
// expansion falls back to the plain candidate list.
type WeightedPolicy struct {
	counters sync.Map // map[string]*atomic.Int64
}

// NewWeightedPolicy creates a weighted policy.
func NewWeightedPolicy() *WeightedPolicy {
	return &WeightedPolicy{}
}

// Name returns the policy identifier.
func (p *WeightedPolicy) Name() string { return "weighted" }

// Select returns the next candidate in the weight-expanded rotation.
func (p *WeightedPolicy) Select(vmID string, candidates []*config.Target, _ *StatsRegistry) *config.Target {
	expanded := expandByWeight(candidates)
	if len(expanded) == 0 {
		expanded = candidates
	}
	if len(expanded) == 1 {
		return expanded[0]
	}

	val, _ := p.counters.LoadOrStore(vmID, &atomic.Int64{})
	counter := val.(*atomic.Int64)

	count := counter.Add(1) - 1
	if count >= 1_000_000_000 {
		counter.CompareAndSwap(count+1, 0)
		count = 0
	}
	return expanded[int(count%int64(len(expanded)))]
}

func expandByWeight(candidates []*config.Target) []*config.Target {
	var out []*config.Target
	for _, t := range candidates {
		if t.Weight <= 0 {
			continue
		}
		for i := 0; i < t.Weight; i++ {
			out = append(out, t)
		}
	}
	return out
}
