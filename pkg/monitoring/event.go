package monitoring

import (
	"time"

	"github.com/google/uuid"

	"mercator-hq/janus/pkg/providers"
)

// Severity of an error event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Category groups error events by origin.
type Category string

const (
	CategoryNetwork   Category = "network"
	CategoryProvider  Category = "provider"
	CategoryAuth      Category = "auth"
	CategoryProtocol  Category = "protocol"
	CategoryScheduler Category = "scheduler"
	CategoryInternal  Category = "internal"
)

// ErrorEvent is one recorded failure with its recovery outcome.
type ErrorEvent struct {
	ID        string              `json:"id"`
	Timestamp time.Time           `json:"timestamp"`
	Kind      providers.ErrorKind `json:"kind"`
	Severity  Severity            `json:"severity"`
	Category  Category            `json:"category"`
	Module    string              `json:"module"`
	Provider  string              `json:"provider,omitempty"`
	Target    string              `json:"target,omitempty"`
	Message   string              `json:"message"`

	// Recovery outcome, filled once the strategy chain resolves.
	Recovered        bool          `json:"recovered"`
	RecoveryStrategy string        `json:"recovery_strategy,omitempty"`
	HandlingTime     time.Duration `json:"handling_time"`
}

// NewErrorEvent builds an event for an error, deriving severity and
// category from the kind.
func NewErrorEvent(module, target string, err error) *ErrorEvent {
	kind := providers.KindOf(err)
	provider, _, _ := splitTarget(target)
	return &ErrorEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Kind:      kind,
		Severity:  severityFor(kind),
		Category:  categoryFor(kind),
		Module:    module,
		Provider:  provider,
		Target:    target,
		Message:   err.Error(),
	}
}

func severityFor(kind providers.ErrorKind) Severity {
	switch kind {
	case providers.KindInvalidRequest, providers.KindUnknownModel, providers.KindCancelled:
		return SeverityInfo
	case providers.KindRateLimited, providers.KindBackpressure, providers.KindTimeout:
		return SeverityWarning
	case providers.KindNoHealthyTarget, providers.KindExhaustedTargets, providers.KindAuthFailed:
		return SeverityCritical
	default:
		return SeverityError
	}
}

func categoryFor(kind providers.ErrorKind) Category {
	switch kind {
	case providers.KindNetwork, providers.KindTimeout:
		return CategoryNetwork
	case providers.KindAuthFailed:
		return CategoryAuth
	case providers.KindMalformedResponse, providers.KindMalformedStream,
		providers.KindUnsupportedConversion, providers.KindStreamingUnsupported:
		return CategoryProtocol
	case providers.KindBackpressure, providers.KindNoHealthyTarget,
		providers.KindExhaustedTargets, providers.KindUnknownModel,
		providers.KindInvalidRequest, providers.KindCancelled:
		return CategoryScheduler
	case providers.KindRateLimited, providers.KindProviderUnavailable, providers.KindCircuitOpen:
		return CategoryProvider
	default:
		return CategoryInternal
	}
}

func splitTarget(key string) (provider, model string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == '/' {
			return key[:i], key[i+1:], true
		}
	}
	return key, "", false
}
