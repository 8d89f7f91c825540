package routing

import (
	"mercator-hq/janus/pkg/config"
)

// HealthScorer reports a 0-100 health score for a target. The monitoring
// center implements this; targets without history score 100.
type HealthScorer interface {
	TargetScore(target string) float64
}

// HealthScorerFunc adapts a function to the HealthScorer interface.
type HealthScorerFunc func(target string) float64

func (f HealthScorerFunc) TargetScore(target string) float64 { return f(target) }

// HealthBasedPolicy prefers the candidate with the highest health score
// among those at or above the threshold. When no candidate clears the
// threshold it degrades to round-robin over the full candidate set rather
// than failing the request.
type HealthBasedPolicy struct {
	scorer    HealthScorer
	threshold float64
	fallback  *RoundRobinPolicy
}

// NewHealthBasedPolicy creates a health-based policy.
func NewHealthBasedPolicy(scorer HealthScorer, threshold float64) *HealthBasedPolicy {
	return &HealthBasedPolicy{
		scorer:    scorer,
		threshold: threshold,
		fallback:  NewRoundRobinPolicy(),
	}
}

// Name returns the policy identifier.
func (p *HealthBasedPolicy) Name() string { return "health-based" }

// Select returns the healthiest candidate at or above the threshold.
func (p *HealthBasedPolicy) Select(vmID string, candidates []*config.Target, stats *StatsRegistry) *config.Target {
	if p.scorer == nil {
		return p.fallback.Select(vmID, candidates, stats)
	}

	var best *config.Target
	var bestScore float64
	for _, t := range candidates {
		score := p.scorer.TargetScore(t.Key())
		if score < p.threshold {
			continue
		}
		if best == nil || score > bestScore {
			best = t
			bestScore = score
		}
	}
	if best == nil {
		return p.fallback.Select(vmID, candidates, stats)
	}
	return best
}
