package protocol

import (
	"encoding/json"
	"fmt"
	"strings"

	"mercator-hq/janus/pkg/providers"
)

// Anthropic wire shapes.

// AnthropicRequest is an Anthropic messages request.
type AnthropicRequest struct {
	Model         string             `json:"model"`
	Messages      []AnthropicMessage `json:"messages"`
	System        string             `json:"system,omitempty"`
	MaxTokens     int                `json:"max_tokens"`
	Temperature   float64            `json:"temperature,omitempty"`
	TopP          float64            `json:"top_p,omitempty"`
	Stream        bool               `json:"stream,omitempty"`
	Tools         []AnthropicTool    `json:"tools,omitempty"`
	StopSequences []string           `json:"stop_sequences,omitempty"`
}

// AnthropicMessage is a message in Anthropic format.
// Content is either a plain string or a list of content blocks.
type AnthropicMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

// ContentBlock is a content block in Anthropic format.
type ContentBlock struct {
	Type string `json:"type"` // "text", "tool_use" or "tool_result"
	Text string `json:"text,omitempty"`

	// For tool_use blocks
	ID    string                 `json:"id,omitempty"`
	Name  string                 `json:"name,omitempty"`
	Input map[string]interface{} `json:"input,omitempty"`

	// For tool_result blocks
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

// AnthropicTool is a tool definition in Anthropic format.
type AnthropicTool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// AnthropicResponse is an Anthropic messages response.
type AnthropicResponse struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Role         string         `json:"role"`
	Content      []ContentBlock `json:"content"`
	Model        string         `json:"model"`
	StopReason   string         `json:"stop_reason"`
	StopSequence string         `json:"stop_sequence,omitempty"`
	Usage        AnthropicUsage `json:"usage"`
}

// AnthropicUsage is token usage in Anthropic format.
type AnthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// AnthropicStreamEvent is an event in Anthropic's SSE stream.
type AnthropicStreamEvent struct {
	Type string `json:"type"`

	// For message_start events
	Message *AnthropicResponse `json:"message,omitempty"`

	// For content_block_* and message_delta events
	Index int             `json:"index,omitempty"`
	Delta json.RawMessage `json:"delta,omitempty"`
	Usage *AnthropicUsage `json:"usage,omitempty"`
}

// AnthropicConverter translates the Anthropic wire shape.
type AnthropicConverter struct{}

// Family returns FamilyAnthropic.
func (c *AnthropicConverter) Family() Family { return FamilyAnthropic }

// ParseRequest reads an Anthropic wire request into the normalized form.
// The leading system field becomes a system-role message; content block
// arrays are flattened (text parts joined with newlines, tool_use parts
// lifted into tool calls).
func (c *AnthropicConverter) ParseRequest(raw json.RawMessage) (*providers.CompletionRequest, error) {
	var wire AnthropicRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &providers.ValidationError{Field: "body", Message: fmt.Sprintf("malformed request: %v", err)}
	}

	req := &providers.CompletionRequest{
		Model:       wire.Model,
		Temperature: wire.Temperature,
		MaxTokens:   wire.MaxTokens,
		TopP:        wire.TopP,
		Stream:      wire.Stream,
		Stop:        wire.StopSequences,
	}

	if wire.System != "" {
		req.Messages = append(req.Messages, providers.Message{
			Role:    providers.RoleSystem,
			Content: wire.System,
		})
	}

	for _, m := range wire.Messages {
		msg, err := flattenAnthropicMessage(m)
		if err != nil {
			return nil, err
		}
		req.Messages = append(req.Messages, msg)
	}

	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, providers.Tool{
			Type: providers.ToolTypeFunction,
			Function: providers.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.InputSchema,
			},
		})
	}

	return req, nil
}

// RenderRequest produces the Anthropic wire request. System messages are
// hoisted into the top-level system field; assistant tool calls become
// tool_use content blocks; tool results become tool_result blocks.
func (c *AnthropicConverter) RenderRequest(req *providers.CompletionRequest) (interface{}, error) {
	wire := &AnthropicRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		TopP:          req.TopP,
		Stream:        req.Stream,
		StopSequences: req.Stop,
	}
	// Anthropic requires max_tokens.
	if wire.MaxTokens == 0 {
		wire.MaxTokens = 4096
	}

	var systemParts []string
	for _, msg := range req.Messages {
		switch msg.Role {
		case providers.RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case providers.RoleTool:
			wire.Messages = append(wire.Messages, AnthropicMessage{
				Role: providers.RoleUser,
				Content: []ContentBlock{{
					Type:      "tool_result",
					ToolUseID: msg.ToolCallID,
					Content:   msg.Content,
				}},
			})

		case providers.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				wire.Messages = append(wire.Messages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
				continue
			}
			blocks := make([]ContentBlock, 0, len(msg.ToolCalls)+1)
			if msg.Content != "" {
				blocks = append(blocks, ContentBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				var input map[string]interface{}
				if tc.Function.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
						return nil, &providers.ValidationError{
							Field:   "tool_calls",
							Message: fmt.Sprintf("tool call arguments are not valid JSON: %v", err),
						}
					}
				}
				blocks = append(blocks, ContentBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Input: input,
				})
			}
			wire.Messages = append(wire.Messages, AnthropicMessage{Role: msg.Role, Content: blocks})

		default:
			wire.Messages = append(wire.Messages, AnthropicMessage{Role: msg.Role, Content: msg.Content})
		}
	}
	wire.System = strings.Join(systemParts, "\n")

	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, AnthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}

	return wire, nil
}

// ParseResponse reads an Anthropic wire response into the normalized form.
// Mixed content arrays flatten text parts into Content (joined with
// newlines) and lift tool_use parts into ToolCalls.
func (c *AnthropicConverter) ParseResponse(raw json.RawMessage) (*providers.CompletionResponse, error) {
	var wire AnthropicResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &providers.ParseError{Provider: string(FamilyAnthropic), RawResponse: string(raw), Cause: err}
	}

	var textParts []string
	var toolCalls []providers.ToolCall
	for _, block := range wire.Content {
		switch block.Type {
		case "text":
			textParts = append(textParts, block.Text)
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				return nil, &providers.ParseError{Provider: string(FamilyAnthropic), Cause: err}
			}
			toolCalls = append(toolCalls, providers.ToolCall{
				ID:   block.ID,
				Type: providers.ToolTypeFunction,
				Function: providers.FunctionCall{
					Name:      block.Name,
					Arguments: string(args),
				},
			})
		}
	}

	return &providers.CompletionResponse{
		ID:           wire.ID,
		Model:        wire.Model,
		Content:      strings.Join(textParts, "\n"),
		FinishReason: NormalizeFinishReason(FamilyAnthropic, wire.StopReason),
		Usage: providers.TokenUsage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
		ToolCalls: toolCalls,
	}, nil
}

// RenderResponse produces the Anthropic wire response.
func (c *AnthropicConverter) RenderResponse(resp *providers.CompletionResponse) (interface{}, error) {
	wire := &AnthropicResponse{
		ID:         resp.ID,
		Type:       "message",
		Role:       providers.RoleAssistant,
		Model:      resp.Model,
		StopReason: DenormalizeFinishReason(FamilyAnthropic, resp.FinishReason),
		Usage: AnthropicUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}

	if resp.Content != "" {
		wire.Content = append(wire.Content, ContentBlock{Type: "text", Text: resp.Content})
	}
	for _, tc := range resp.ToolCalls {
		var input map[string]interface{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &input); err != nil {
				return nil, &providers.ParseError{Provider: string(FamilyAnthropic), Cause: err}
			}
		}
		wire.Content = append(wire.Content, ContentBlock{
			Type:  "tool_use",
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: input,
		})
	}

	return wire, nil
}

// RenderChunk produces an Anthropic content_block_delta (or message_delta
// for the terminal chunk).
func (c *AnthropicConverter) RenderChunk(chunk *providers.StreamChunk) (interface{}, error) {
	if chunk.FinishReason != "" {
		delta, err := json.Marshal(map[string]string{
			"stop_reason": DenormalizeFinishReason(FamilyAnthropic, chunk.FinishReason),
		})
		if err != nil {
			return nil, err
		}
		event := &AnthropicStreamEvent{Type: "message_delta", Delta: delta}
		if chunk.Usage != nil {
			event.Usage = &AnthropicUsage{
				InputTokens:  chunk.Usage.PromptTokens,
				OutputTokens: chunk.Usage.CompletionTokens,
			}
		}
		return event, nil
	}

	delta, err := json.Marshal(map[string]string{
		"type": "text_delta",
		"text": chunk.Delta,
	})
	if err != nil {
		return nil, err
	}
	return &AnthropicStreamEvent{Type: "content_block_delta", Delta: delta}, nil
}

// flattenAnthropicMessage converts one Anthropic message into the normalized
// form. String content passes through; block arrays flatten.
func flattenAnthropicMessage(m AnthropicMessage) (providers.Message, error) {
	msg := providers.Message{Role: m.Role}

	switch content := m.Content.(type) {
	case string:
		msg.Content = content
		return msg, nil

	case []interface{}:
		var textParts []string
		for _, rawBlock := range content {
			encoded, err := json.Marshal(rawBlock)
			if err != nil {
				return msg, &providers.ValidationError{Field: "content", Message: "malformed content block"}
			}
			var block ContentBlock
			if err := json.Unmarshal(encoded, &block); err != nil {
				return msg, &providers.ValidationError{Field: "content", Message: "malformed content block"}
			}
			switch block.Type {
			case "text":
				textParts = append(textParts, block.Text)
			case "tool_use":
				args, err := json.Marshal(block.Input)
				if err != nil {
					return msg, &providers.ValidationError{Field: "content", Message: "malformed tool_use input"}
				}
				msg.ToolCalls = append(msg.ToolCalls, providers.ToolCall{
					ID:   block.ID,
					Type: providers.ToolTypeFunction,
					Function: providers.FunctionCall{
						Name:      block.Name,
						Arguments: string(args),
					},
				})
			case "tool_result":
				msg.Role = providers.RoleTool
				msg.ToolCallID = block.ToolUseID
				textParts = append(textParts, block.Content)
			}
		}
		msg.Content = strings.Join(textParts, "\n")
		return msg, nil

	default:
		return msg, &providers.ValidationError{Field: "content", Message: "content must be a string or a block array"}
	}
}
