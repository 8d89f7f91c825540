package anthropic

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
)

// readStream parses Anthropic's event-typed SSE into normalized chunks.
// message_start carries the id and model, content_block_delta the text
// deltas, message_delta the stop reason and usage, and message_stop marks
// well-formed termination.
func (c *Client) readStream(ctx context.Context, body io.ReadCloser, out chan<- providers.StreamChunk) {
	defer close(out)
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var id, model string
	var usage *providers.TokenUsage
	stopped := false

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

		var event protocol.AnthropicStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			c.emit(ctx, out, providers.StreamChunk{
				Error: &providers.StreamError{
					Provider: c.GetName(),
					Message:  "malformed stream event",
					Cause:    err,
				},
			})
			return
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil {
				id = event.Message.ID
				model = event.Message.Model
			}

		case "content_block_delta":
			var delta struct {
				Type string `json:"type"`
				Text string `json:"text"`
			}
			if err := json.Unmarshal(event.Delta, &delta); err != nil {
				continue
			}
			if delta.Text == "" {
				continue
			}
			chunk := providers.StreamChunk{
				ID:      id,
				Model:   model,
				Delta:   delta.Text,
				Created: time.Now().Unix(),
			}
			if !c.emit(ctx, out, chunk) {
				return
			}

		case "message_delta":
			var delta struct {
				StopReason string `json:"stop_reason"`
			}
			if err := json.Unmarshal(event.Delta, &delta); err == nil && delta.StopReason != "" {
				if event.Usage != nil {
					usage = &providers.TokenUsage{
						PromptTokens:     event.Usage.InputTokens,
						CompletionTokens: event.Usage.OutputTokens,
						TotalTokens:      event.Usage.InputTokens + event.Usage.OutputTokens,
					}
				}
				final := providers.StreamChunk{
					ID:           id,
					Model:        model,
					FinishReason: protocol.NormalizeFinishReason(protocol.FamilyAnthropic, delta.StopReason),
					Usage:        usage,
					Created:      time.Now().Unix(),
				}
				if !c.emit(ctx, out, final) {
					return
				}
			}

		case "message_stop":
			stopped = true

		case "error":
			c.emit(ctx, out, providers.StreamChunk{
				ID:    id,
				Model: model,
				Error: &providers.StreamError{
					Provider: c.GetName(),
					Message:  "provider reported stream error: " + string(event.Delta),
				},
			})
			return
		}

		if stopped {
			break
		}
	}

	if !stopped {
		c.emit(ctx, out, providers.StreamChunk{
			ID:    id,
			Model: model,
			Error: &providers.StreamError{
				Provider: c.GetName(),
				Message:  "stream truncated before message_stop",
				Cause:    scanner.Err(),
			},
		})
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
