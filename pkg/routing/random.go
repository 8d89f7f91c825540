package routing

import (
	"math/rand"
	"sync"

	"mercator-hq/janus/pkg/config"
)

// RandomPolicy picks a uniformly random candidate.
type RandomPolicy struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomPolicy creates a random policy seeded from the global source.
func NewRandomPolicy() *RandomPolicy {
	return &RandomPolicy{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Name returns the policy identifier.
func (p *RandomPolicy) Name() string { return "random" }

// Select returns a random candidate.
func (p *RandomPolicy) Select(_ string, candidates []*config.Target, _ *StatsRegistry) *config.Target {
	if len(candidates) == 1 {
		return candidates[0]
	}
	p.mu.Lock()
	idx := p.rng.Intn(len(candidates))
	p.mu.Unlock()
	return candidates[idx]
}
