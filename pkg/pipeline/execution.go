package pipeline

import (
	"time"

	"github.com/google/uuid"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/protocol"
)

// ExecutionContext carries per-request state through the pipeline. One
// context lives for the whole request, across every retry and reroute; the
// Target and Attempt fields are updated as routing decisions change.
type ExecutionContext struct {
	// SessionID groups requests from one client session.
	SessionID string

	// RequestID identifies this request.
	RequestID string

	// RoutingID identifies the routing decision chain; it stays stable
	// across retries so traces of one request correlate.
	RoutingID string

	// VirtualModel is the requested virtual model id.
	VirtualModel string

	// SourceFamily is the protocol family the client spoke.
	SourceFamily protocol.Family

	// Target is the currently selected target. Updated on reroute.
	Target *config.Target

	// Attempt is the 1-based attempt counter.
	Attempt int

	// Tried holds target keys already attempted. A target in this set is
	// never selected again for this request.
	Tried map[string]bool

	// ReStreamRequired is set when the client asked for streaming but the
	// selected target cannot stream, so the complete response must be
	// re-chunked on the way out.
	ReStreamRequired bool

	// Warnings accumulates non-fatal conversion notes surfaced to logs.
	Warnings []string

	// Metadata is free-form state shared between stages.
	Metadata map[string]interface{}

	// StartTime is when the scheduler admitted the request.
	StartTime time.Time
}

// NewExecutionContext creates a context for an admitted request. SessionID
// may be empty when the client supplied none.
func NewExecutionContext(sessionID, virtualModel string, source protocol.Family) *ExecutionContext {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	return &ExecutionContext{
		SessionID:    sessionID,
		RequestID:    uuid.New().String(),
		RoutingID:    uuid.New().String(),
		VirtualModel: virtualModel,
		SourceFamily: source,
		Attempt:      1,
		Tried:        make(map[string]bool),
		Metadata:     make(map[string]interface{}),
		StartTime:    time.Now(),
	}
}

// MarkTried records the current target as attempted.
func (ec *ExecutionContext) MarkTried() {
	if ec.Target != nil {
		ec.Tried[ec.Target.Key()] = true
	}
}

// TriedTargets returns the attempted target keys.
func (ec *ExecutionContext) TriedTargets() []string {
	out := make([]string, 0, len(ec.Tried))
	for k := range ec.Tried {
		out = append(out, k)
	}
	return out
}

// Warn appends a warning.
func (ec *ExecutionContext) Warn(msg string) {
	ec.Warnings = append(ec.Warnings, msg)
}
