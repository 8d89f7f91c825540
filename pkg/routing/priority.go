package routing

import (
	"mercator-hq/janus/pkg/config"
)

// PriorityPolicy always picks the candidate with the lowest priority number.
// Equal priorities tie-break on ascending target key, so selection is fully
// deterministic for a given candidate set.
type PriorityPolicy struct{}

// NewPriorityPolicy creates a priority policy.
func NewPriorityPolicy() *PriorityPolicy {
	return &PriorityPolicy{}
}

// Name returns the policy identifier.
func (p *PriorityPolicy) Name() string { return "priority" }

// Select returns the highest-priority (lowest number) candidate.
func (p *PriorityPolicy) Select(_ string, candidates []*config.Target, _ *StatsRegistry) *config.Target {
	best := candidates[0]
	for _, t := range candidates[1:] {
		if t.Priority < best.Priority {
			best = t
		}
	}
	return best
}
