package strategy

import (
	"time"

	"mercator-hq/janus/pkg/providers"
)

// Action is what the pipeline should do after a failed attempt.
type Action string

const (
	// ActionRetrySameTarget repeats the attempt against the same target,
	// optionally after a delay.
	ActionRetrySameTarget Action = "retry_same_target"

	// ActionRetryNewTarget reroutes to a different target, excluding
	// everything already tried.
	ActionRetryNewTarget Action = "retry_new_target"

	// ActionFallbackResult resolves the request with a substitute response
	// instead of another provider call.
	ActionFallbackResult Action = "fallback_result"

	// ActionGiveUp surfaces the error to the caller.
	ActionGiveUp Action = "give_up"
)

// Decision is the outcome of strategy resolution for one failure.
type Decision struct {
	Action   Action
	Delay    time.Duration
	Response *providers.CompletionResponse
	Strategy string
	Reason   string
}

// Attempt describes the failed attempt being resolved.
type Attempt struct {
	VirtualModel string
	Target       string
	Number       int // 1-based
	Request      *providers.CompletionRequest
}

func giveUp(strategy, reason string) Decision {
	return Decision{Action: ActionGiveUp, Strategy: strategy, Reason: reason}
}
