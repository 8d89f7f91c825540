package routing

import (
	"testing"

	"mercator-hq/janus/pkg/config"
)

func targets(keys ...string) []*config.Target {
	out := make([]*config.Target, len(keys))
	for i, k := range keys {
		out[i] = &config.Target{Provider: "p", Model: k, Weight: 1, Status: config.TargetActive}
	}
	return out
}

func TestRoundRobinCycles(t *testing.T) {
	p := NewRoundRobinPolicy()
	candidates := targets("a", "b", "c")

	var got []string
	for i := 0; i < 6; i++ {
		got = append(got, p.Select("vm", candidates, nil).Model)
	}
	want := []string{"a", "b", "c", "a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("rotation = %v, want %v", got, want)
		}
	}
}

func TestRoundRobinPerModelCounters(t *testing.T) {
	p := NewRoundRobinPolicy()
	candidates := targets("a", "b")

	// Traffic on one virtual model must not advance another's rotation.
	p.Select("vm1", candidates, nil)
	p.Select("vm1", candidates, nil)
	if got := p.Select("vm2", candidates, nil).Model; got != "a" {
		t.Errorf("vm2 first selection = %q, want a", got)
	}
}

func TestWeightedDistribution(t *testing.T) {
	p := NewWeightedPolicy()
	candidates := []*config.Target{
		{Provider: "p", Model: "heavy", Weight: 3},
		{Provider: "p", Model: "light", Weight: 1},
	}

	counts := map[string]int{}
	for i := 0; i < 40; i++ {
		counts[p.Select("vm", candidates, nil).Model]++
	}
	if counts["heavy"] != 30 || counts["light"] != 10 {
		t.Errorf("distribution = %v, want 3:1", counts)
	}
}

func TestWeightedExcludesNonPositiveWeights(t *testing.T) {
	p := NewWeightedPolicy()
	candidates := []*config.Target{
		{Provider: "p", Model: "drained", Weight: 0},
		{Provider: "p", Model: "negative", Weight: -1},
		{Provider: "p", Model: "live", Weight: 1},
	}

	for i := 0; i < 10; i++ {
		if got := p.Select("vm", candidates, nil).Model; got != "live" {
			t.Fatalf("selection %d = %q, want live only", i, got)
		}
	}
}

func TestWeightedAllNonPositiveFallsBack(t *testing.T) {
	p := NewWeightedPolicy()
	candidates := []*config.Target{
		{Provider: "p", Model: "a", Weight: 0},
		{Provider: "p", Model: "b", Weight: 0},
	}

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		counts[p.Select("vm", candidates, nil).Model]++
	}
	if counts["a"] != 5 || counts["b"] != 5 {
		t.Errorf("distribution = %v, want plain rotation fallback", counts)
	}
}

func TestPriorityPicksLowestNumber(t *testing.T) {
	p := NewPriorityPolicy()
	candidates := []*config.Target{
		{Provider: "p", Model: "backup", Priority: 2},
		{Provider: "p", Model: "primary", Priority: 1},
		{Provider: "p", Model: "last-resort", Priority: 9},
	}

	if got := p.Select("vm", candidates, nil).Model; got != "primary" {
		t.Errorf("selected %q, want primary", got)
	}
}

func TestPriorityTieBreaksOnKeyOrder(t *testing.T) {
	p := NewPriorityPolicy()
	// Router pre-sorts candidates by key; first of equal priorities wins.
	candidates := targets("alpha", "beta")
	sortCandidates(candidates)

	if got := p.Select("vm", candidates, nil).Model; got != "alpha" {
		t.Errorf("selected %q, want alpha", got)
	}
}

func TestLeastConnections(t *testing.T) {
	p := NewLeastConnectionsPolicy()
	stats := NewStatsRegistry()
	candidates := targets("busy", "idle")

	stats.Acquire("p/busy")
	stats.Acquire("p/busy")
	stats.Acquire("p/idle")

	if got := p.Select("vm", candidates, stats).Model; got != "idle" {
		t.Errorf("selected %q, want idle", got)
	}

	stats.Release("p/busy", false)
	stats.Release("p/busy", true)
	if got := stats.Get("p/busy").ActiveConnections.Load(); got != 0 {
		t.Errorf("active after release = %d", got)
	}
	if got := stats.Get("p/busy").Failures.Load(); got != 1 {
		t.Errorf("failures = %d", got)
	}
}

func TestHealthBasedPrefersHighestScore(t *testing.T) {
	scores := map[string]float64{"p/a": 90, "p/b": 95, "p/c": 40}
	p := NewHealthBasedPolicy(HealthScorerFunc(func(target string) float64 {
		return scores[target]
	}), 50)

	got := p.Select("vm", targets("a", "b", "c"), NewStatsRegistry())
	if got.Model != "b" {
		t.Errorf("selected %q, want b", got.Model)
	}
}

func TestHealthBasedFallsBackWhenAllBelowThreshold(t *testing.T) {
	p := NewHealthBasedPolicy(HealthScorerFunc(func(string) float64 { return 10 }), 50)
	candidates := targets("a", "b")

	// Degrades to round-robin over everything instead of refusing.
	first := p.Select("vm", candidates, NewStatsRegistry())
	second := p.Select("vm", candidates, NewStatsRegistry())
	if first.Model == second.Model {
		t.Errorf("fallback rotation stuck on %q", first.Model)
	}
}

func TestHealthBasedNilScorerFallsBack(t *testing.T) {
	p := NewHealthBasedPolicy(nil, 50)
	got := p.Select("vm", targets("a"), NewStatsRegistry())
	if got == nil {
		t.Fatal("nil selection")
	}
}

func TestRandomStaysInCandidateSet(t *testing.T) {
	p := NewRandomPolicy()
	candidates := targets("a", "b", "c")
	allowed := map[string]bool{"a": true, "b": true, "c": true}

	for i := 0; i < 50; i++ {
		if got := p.Select("vm", candidates, nil); !allowed[got.Model] {
			t.Fatalf("selected %q outside candidate set", got.Model)
		}
	}
}

func TestPolicySetHasAllPolicies(t *testing.T) {
	set := NewPolicySet(nil, 50)
	for _, name := range []string{
		"round-robin", "weighted", "priority", "least-connections", "health-based", "random",
	} {
		if set.Get(name) == nil {
			t.Errorf("policy %q missing", name)
		}
	}
	if set.Get("sticky") != nil {
		t.Error("unknown policy name resolved")
	}
}
