package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
)

// Client is the adapter for OpenAI-compatible chat completion endpoints.
// The Qwen adapter embeds it with its own family tag, since DashScope's
// compatible mode speaks the same wire shape.
type Client struct {
	*providers.HTTPProvider
	converter protocol.Converter
}

// NewClient creates an OpenAI adapter.
func NewClient(cfg providers.ProviderConfig, creds providers.CredentialSource) (*Client, error) {
	return NewCompatibleClient(cfg, creds, protocol.FamilyOpenAI)
}

// NewCompatibleClient creates an adapter for another family that speaks the
// OpenAI wire shape.
func NewCompatibleClient(cfg providers.ProviderConfig, creds providers.CredentialSource, family protocol.Family) (*Client, error) {
	registry := protocol.NewRegistry()
	converter, ok := registry.Converter(family)
	if !ok {
		return nil, &providers.ConfigError{
			Provider: cfg.Name,
			Message:  fmt.Sprintf("no converter for family %s", family),
		}
	}
	return &Client{
		HTTPProvider: providers.NewHTTPProvider(cfg, creds),
		converter:    converter,
	}, nil
}

// SendCompletion performs a single non-streaming completion call.
func (c *Client) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	wire, err := c.converter.RenderRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.DoRequest(ctx, "POST", c.GetConfig().BaseURL+"/chat/completions", body, nil, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &providers.NetworkError{Provider: c.GetName(), Cause: err}
	}
	return c.converter.ParseResponse(raw)
}

// StreamCompletion opens the SSE stream and returns a channel of normalized
// chunks. The channel closes after the terminal [DONE] marker; a stream
// truncated before it yields a final chunk with a malformed-stream error.
func (c *Client) StreamCompletion(ctx context.Context, req *providers.CompletionRequest) (<-chan providers.StreamChunk, error) {
	if !c.GetConfig().SupportsStreaming {
		return nil, &providers.StreamingUnsupportedError{Provider: c.GetName()}
	}

	streamReq := req.Clone()
	streamReq.Stream = true
	wire, err := c.converter.RenderRequest(streamReq)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	resp, err := c.DoRequest(ctx, "POST", c.GetConfig().BaseURL+"/chat/completions", body, nil, true)
	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go c.readStream(ctx, resp.Body, out)
	return out, nil
}
