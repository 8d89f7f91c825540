package strategy

import (
	"context"
	"fmt"

	"mercator-hq/janus/pkg/breaker"
	"mercator-hq/janus/pkg/providers"
)

// BreakerStrategy feeds attempt outcomes into the per-target circuit
// breakers and reroutes when the current target's circuit is open. It runs
// before retry and fallback so an open circuit short-circuits backoff
// against a target that will reject anyway.
type BreakerStrategy struct {
	registry *breaker.Registry
}

// NewBreakerStrategy creates a breaker strategy over the registry.
func NewBreakerStrategy(registry *breaker.Registry) *BreakerStrategy {
	return &BreakerStrategy{registry: registry}
}

// Name returns the strategy identifier.
func (s *BreakerStrategy) Name() string { return "circuit_breaker" }

// Priority places the breaker first in the chain.
func (s *BreakerStrategy) Priority() int { return 0 }

// ObserveFailure records target-attributable failures in the breaker.
// Client-side errors (invalid request, cancellation) say nothing about the
// target's health and are not counted.
func (s *BreakerStrategy) ObserveFailure(att *Attempt, err error) {
	if att.Target == "" {
		return
	}
	switch providers.KindOf(err) {
	case providers.KindInvalidRequest, providers.KindUnknownModel,
		providers.KindCancelled, providers.KindCircuitOpen,
		providers.KindBackpressure:
		return
	}
	s.registry.RecordFailure(att.Target)
}

// ObserveSuccess records a success in the breaker.
func (s *BreakerStrategy) ObserveSuccess(att *Attempt, _ *providers.CompletionResponse) {
	if att.Target != "" {
		s.registry.RecordSuccess(att.Target)
	}
}

// CanHandle claims failures whose target circuit is open.
func (s *BreakerStrategy) CanHandle(att *Attempt, err error) bool {
	if providers.KindOf(err) == providers.KindCircuitOpen {
		return true
	}
	return att.Target != "" && s.registry.IsOpen(att.Target)
}

// Handle reroutes to a different target.
func (s *BreakerStrategy) Handle(_ context.Context, att *Attempt, _ error) Decision {
	return Decision{
		Action:   ActionRetryNewTarget,
		Strategy: s.Name(),
		Reason:   fmt.Sprintf("circuit open for target %s", att.Target),
	}
}
