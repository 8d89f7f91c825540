package pipeline

import (
	"context"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
)

// ProtocolStage adjusts request and response semantics between the client's
// protocol family and the selected target's family. Identity conversions
// are free; cross-family conversions may fold system messages or remap
// finish reasons and record warnings on the execution context.
type ProtocolStage struct {
	store     *config.Store
	protocols *protocol.Registry
}

// NewProtocolStage creates the protocol switch stage.
func NewProtocolStage(store *config.Store, protocols *protocol.Registry) *ProtocolStage {
	return &ProtocolStage{store: store, protocols: protocols}
}

// Name returns the stage identifier.
func (s *ProtocolStage) Name() string { return "protocol" }

// HandleRequest converts the request toward the target family.
func (s *ProtocolStage) HandleRequest(_ context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionRequest, error) {
	to, err := s.targetFamily(ec)
	if err != nil {
		return nil, err
	}
	converted, warnings, err := s.protocols.ConvertRequest(req, ec.SourceFamily, to)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		ec.Warn(w)
	}
	return converted, nil
}

// HandleResponse converts the response back toward the client family.
func (s *ProtocolStage) HandleResponse(_ context.Context, ec *ExecutionContext, resp *providers.CompletionResponse) (*providers.CompletionResponse, error) {
	from, err := s.targetFamily(ec)
	if err != nil {
		return nil, err
	}
	converted, warnings, err := s.protocols.ConvertResponse(resp, from, ec.SourceFamily)
	if err != nil {
		return nil, err
	}
	for _, w := range warnings {
		ec.Warn(w)
	}
	return converted, nil
}

func (s *ProtocolStage) targetFamily(ec *ExecutionContext) (protocol.Family, error) {
	spec := s.store.Current().Provider(ec.Target.Provider)
	if spec == nil {
		return "", &providers.RouterError{
			ErrKind: providers.KindInternal,
			Message: "target references unknown provider " + ec.Target.Provider,
		}
	}
	return protocol.Family(spec.Family), nil
}
