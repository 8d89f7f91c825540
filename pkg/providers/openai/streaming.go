package openai

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"

	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
)

// readStream parses the SSE response body into normalized chunks. The
// stream is well-formed only when the "[DONE]" marker arrives; EOF before
// it surfaces as a malformed-stream error chunk.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, out chan<- providers.StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	done := false
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			done = true
			break
		}

		var wire protocol.OpenAIStreamChunk
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			c.emit(ctx, out, providers.StreamChunk{
				Error: &providers.StreamError{
					Provider: c.GetName(),
					Message:  "malformed stream chunk",
					Cause:    err,
				},
			})
			return
		}
		chunk := c.fromWire(&wire)
		if !c.emit(ctx, out, chunk) {
			return
		}
	}

	if !done {
		err := scanner.Err()
		streamErr := &providers.StreamError{
			Provider: c.GetName(),
			Message:  "stream truncated before [DONE]",
			Cause:    err,
		}
		c.emit(ctx, out, providers.StreamChunk{Error: streamErr})
	}
}

func (c *Client) emit(ctx context.Context, out chan<- providers.StreamChunk, chunk providers.StreamChunk) bool {
	select {
	case out <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// fromWire converts one wire chunk to the normalized form.
func (c *Client) fromWire(wire *protocol.OpenAIStreamChunk) providers.StreamChunk {
	chunk := providers.StreamChunk{
		ID:      wire.ID,
		Model:   wire.Model,
		Created: wire.Created,
	}
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		chunk.Delta = choice.Delta.Content
		if choice.FinishReason != "" {
			chunk.FinishReason = protocol.NormalizeFinishReason(c.converter.Family(), choice.FinishReason)
		}
		for _, tc := range choice.Delta.ToolCalls {
			chunk.ToolCalls = append(chunk.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: providers.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: tc.Function.Arguments,
				},
			})
		}
	}
	if wire.Usage != nil {
		chunk.Usage = &providers.TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		}
	}
	return chunk
}
