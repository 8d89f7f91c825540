package providers

import "context"

// Provider is the core interface every upstream adapter implements.
// It is the fourth pipeline stage's outward face: an authenticated HTTP
// call against one provider family, normalized in and out.
//
// All methods accept a context.Context for cancellation and timeout control.
// Implementations must respect context cancellation and return promptly when
// the context is cancelled.
type Provider interface {
	// SendCompletion sends a non-streaming completion request and returns the
	// normalized response. It performs exactly one outbound attempt; retry,
	// fallback and circuit-breaking are owned by the strategy manager.
	SendCompletion(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends a streaming completion request.
	// It returns a channel that yields incremental response chunks as they
	// arrive. The channel is closed by the producer when the sequence ends;
	// a mid-stream failure is delivered in the Error field of the final chunk.
	//
	// Providers whose configuration declares no streaming capability return a
	// StreamingUnsupported failure.
	StreamCompletion(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// HealthCheck probes the provider's health endpoint with a short timeout
	// and reports reachability and response time.
	HealthCheck(ctx context.Context) HealthCheckResult

	// GetName returns the provider's configured name.
	GetName() string

	// GetFamily returns the provider's protocol family (openai, anthropic, qwen).
	GetFamily() string

	// GetConfig returns the provider's configuration.
	GetConfig() ProviderConfig

	// IsHealthy returns the current health status of the provider.
	IsHealthy() bool

	// GetHealth returns detailed health information.
	GetHealth() ProviderHealth

	// Close releases resources (HTTP connections, etc.).
	Close() error
}

// CredentialSource supplies outbound authentication headers for a provider.
// The auth center implements it; adapters never touch token storage directly.
type CredentialSource interface {
	// AuthHeaders returns the headers to attach to an outbound call.
	// For oauth providers this may trigger a proactive token refresh.
	AuthHeaders(ctx context.Context, provider string) (map[string]string, error)

	// Invalidate marks the provider's cached credentials as rejected so the
	// next call forces a refresh. Called after an upstream 401/403.
	Invalidate(provider string)
}
