package routing

import (
	"sort"

	"mercator-hq/janus/pkg/config"
)

// Policy selects one target from the candidate set for a virtual model.
// Candidates are pre-filtered (active, circuit not open, not yet tried) and
// sorted by ascending target key, so policies that tie-break can simply take
// the first of equals.
type Policy interface {
	// Name returns the policy identifier used in configuration.
	Name() string

	// Select picks a target from candidates. Candidates is never empty.
	Select(vmID string, candidates []*config.Target, stats *StatsRegistry) *config.Target
}

// PolicySet holds the built-in policies keyed by name.
type PolicySet struct {
	policies map[string]Policy
}

// NewPolicySet registers all built-in policies.
func NewPolicySet(scorer HealthScorer, threshold float64) *PolicySet {
	set := &PolicySet{policies: make(map[string]Policy)}
	for _, p := range []Policy{
		NewRoundRobinPolicy(),
		NewWeightedPolicy(),
		NewPriorityPolicy(),
		NewLeastConnectionsPolicy(),
		NewHealthBasedPolicy(scorer, threshold),
		NewRandomPolicy(),
	} {
		set.policies[p.Name()] = p
	}
	return set
}

// Get returns the named policy, or nil when unknown. Unknown names are
// rejected at configuration load time.
func (s *PolicySet) Get(name string) Policy {
	return s.policies[name]
}

// sortCandidates orders targets by ascending key for deterministic
// tie-breaking.
func sortCandidates(candidates []*config.Target) {
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Key() < candidates[j].Key()
	})
}
