package pipeline

import (
	"context"

	"mercator-hq/janus/pkg/providers"
)

// Stage is one pipeline segment. Requests pass through HandleRequest in
// declaration order on the way to the provider, and responses pass through
// HandleResponse in reverse order on the way back.
//
// Stages must not mutate their input; they return the input unchanged or a
// fresh value. The executor relies on this when a retry re-runs the forward
// pass from the original request.
type Stage interface {
	Name() string
	HandleRequest(ctx context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionRequest, error)
	HandleResponse(ctx context.Context, ec *ExecutionContext, resp *providers.CompletionResponse) (*providers.CompletionResponse, error)
}
