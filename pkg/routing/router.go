package routing

import (
	"fmt"
	"log/slog"

	"mercator-hq/janus/pkg/breaker"
	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// Router resolves a virtual model to a concrete target. Candidates are the
// model's active targets minus anything already tried in this request, minus
// targets whose circuit is open. The virtual model's policy (or the
// scheduler default) picks among what remains.
type Router struct {
	store    *config.Store
	breakers *breaker.Registry
	policies *PolicySet
	stats    *StatsRegistry
	logger   *slog.Logger
}

// NewRouter creates a router over the live configuration snapshot.
func NewRouter(store *config.Store, breakers *breaker.Registry, policies *PolicySet, stats *StatsRegistry) *Router {
	return &Router{
		store:    store,
		breakers: breakers,
		policies: policies,
		stats:    stats,
		logger:   slog.Default().With("component", "routing.router"),
	}
}

// Stats exposes the per-target counters.
func (r *Router) Stats() *StatsRegistry { return r.stats }

// Select picks a target for the virtual model, excluding already-tried
// target keys. It distinguishes "nothing was ever reachable" from "we tried
// everything reachable": the former is a no-healthy-target error, the latter
// exhausted-targets.
//
// Selection consumes the breaker's half-open probe budget: a picked target
// whose circuit refuses the probe is dropped from this selection round and
// the policy runs again on what remains.
func (r *Router) Select(vmID string, tried map[string]bool) (*config.Target, error) {
	refused := make(map[string]bool)
	for {
		target, err := r.selectOnce(vmID, tried, refused)
		if err != nil {
			return nil, err
		}
		if r.breakers != nil {
			if err := r.breakers.Allow(target.Key()); err != nil {
				refused[target.Key()] = true
				continue
			}
		}
		return target, nil
	}
}

func (r *Router) selectOnce(vmID string, tried, refused map[string]bool) (*config.Target, error) {
	snapshot := r.store.Current()
	vm := snapshot.VirtualModel(vmID)
	if vm == nil {
		return nil, &providers.RouterError{
			ErrKind: providers.KindUnknownModel,
			Message: fmt.Sprintf("unknown virtual model %q", vmID),
		}
	}

	var candidates []*config.Target
	reachable := 0
	for i := range vm.Targets {
		t := &vm.Targets[i]
		if t.Status != config.TargetActive {
			continue
		}
		if r.breakers != nil && r.breakers.IsOpen(t.Key()) {
			continue
		}
		reachable++
		if tried[t.Key()] || refused[t.Key()] {
			continue
		}
		candidates = append(candidates, t)
	}

	if len(candidates) == 0 {
		if reachable == 0 {
			return nil, &providers.RouterError{
				ErrKind: providers.KindNoHealthyTarget,
				Message: fmt.Sprintf("no healthy target for virtual model %q", vmID),
			}
		}
		return nil, &providers.RouterError{
			ErrKind:          providers.KindExhaustedTargets,
			Message:          fmt.Sprintf("all targets exhausted for virtual model %q", vmID),
			AttemptedTargets: keys(tried),
		}
	}

	sortCandidates(candidates)

	policyName := vm.Policy
	if policyName == "" {
		policyName = snapshot.Scheduler.DefaultPolicy
	}
	policy := r.policies.Get(policyName)
	if policy == nil {
		policy = r.policies.Get(config.DefaultPolicy)
	}

	target := policy.Select(vm.ID, candidates, r.stats)
	r.logger.Debug("target selected",
		"virtual_model", vm.ID,
		"policy", policy.Name(),
		"target", target.Key(),
		"candidates", len(candidates),
	)
	return target, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
