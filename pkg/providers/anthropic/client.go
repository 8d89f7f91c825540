// Package anthropic adapts the Anthropic Messages API: request rendering
// with system-message hoisting, response parsing, and event-typed SSE
// streaming.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
)

// anthropicVersion is the API version header required by the Messages API.
const anthropicVersion = "2023-06-01"

// Client is the adapter for the Anthropic Messages API.
type Client struct {
	*providers.HTTPProvider
	converter protocol.Converter
}

// NewClient creates an Anthropic adapter.
func NewClient(cfg providers.ProviderConfig, creds providers.CredentialSource) (*Client, error) {
	registry := protocol.NewRegistry()
	converter, ok := registry.Converter(protocol.FamilyAnthropic)
	if !ok {
		return nil, &providers.ConfigError{Provider: cfg.Name, Message: "no anthropic converter"}
	}
	return &Client{
		HTTPProvider: providers.NewHTTPProvider(cfg, creds),
		converter:    converter,
	}, nil
}

// SendCompletion performs a single non-streaming messages call.
func (c *Client) SendCompletion(ctx context.Context, req *providers.CompletionRequest) (*providers.CompletionResponse, error) {
	wire, err := c.converter.RenderRequest(req)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	headers := map[string]string{"anthropic-version": anthropicVersion}
	resp, err := c.DoRequest(ctx, "POST", c.GetConfig().BaseURL+"/v1/messages", body, headers, false)
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

// StreamCompletion opens the event stream and returns normalized chunks.
// The stream is well-formed only when a message_stop event arrives.
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

	headers := map[string]string{"anthropic-version": anthropicVersion}
	resp, err := c.DoRequest(ctx, "POST", c.GetConfig().BaseURL+"/v1/messages", body, headers, true)
	if err != nil {
		return nil, err
	}

	out := make(chan providers.StreamChunk)
	go c.readStream(ctx, resp.Body, out)
	return out, nil
}
