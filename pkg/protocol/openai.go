package protocol

import (
	"encoding/json"
	"fmt"

	"mercator-hq/janus/pkg/providers"
)

// OpenAI wire shapes.

// OpenAIRequest is an OpenAI chat-completion request.
type OpenAIRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenAIMessage `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	TopP        float64         `json:"top_p,omitempty"`
	Stream      bool            `json:"stream,omitempty"`
	Tools       []OpenAITool    `json:"tools,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
	User        string          `json:"user,omitempty"`
	N           int             `json:"n,omitempty"`
}

// OpenAIMessage is a message in OpenAI format.
type OpenAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	Name       string           `json:"name,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	ToolCalls  []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIToolCall is a tool call in OpenAI format.
type OpenAIToolCall struct {
	ID       string             `json:"id"`
	Type     string             `json:"type"`
	Function OpenAIFunctionCall `json:"function"`
}

// OpenAIFunctionCall is a function call in OpenAI format.
type OpenAIFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// OpenAITool is a tool definition in OpenAI format.
type OpenAITool struct {
	Type     string                   `json:"type"`
	Function OpenAIFunctionDefinition `json:"function"`
}

// OpenAIFunctionDefinition is a function definition in OpenAI format.
type OpenAIFunctionDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// OpenAIResponse is an OpenAI chat-completion response.
type OpenAIResponse struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []OpenAIChoice `json:"choices"`
	Usage   OpenAIUsage    `json:"usage"`
}

// OpenAIChoice is a completion choice in OpenAI format.
type OpenAIChoice struct {
	Index        int           `json:"index"`
	Message      OpenAIMessage `json:"message"`
	FinishReason string        `json:"finish_reason"`
}

// OpenAIUsage is token usage in OpenAI format.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// OpenAIStreamChunk is a chunk in OpenAI's SSE stream.
type OpenAIStreamChunk struct {
	ID      string               `json:"id"`
	Object  string               `json:"object"`
	Created int64                `json:"created"`
	Model   string               `json:"model"`
	Choices []OpenAIStreamChoice `json:"choices"`
	Usage   *OpenAIUsage         `json:"usage,omitempty"`
}

// OpenAIStreamChoice is a choice in a stream chunk.
type OpenAIStreamChoice struct {
	Index        int               `json:"index"`
	Delta        OpenAIStreamDelta `json:"delta"`
	FinishReason string            `json:"finish_reason,omitempty"`
}

// OpenAIStreamDelta is the incremental content in a stream chunk.
type OpenAIStreamDelta struct {
	Role      string           `json:"role,omitempty"`
	Content   string           `json:"content,omitempty"`
	ToolCalls []OpenAIToolCall `json:"tool_calls,omitempty"`
}

// OpenAIConverter translates the OpenAI wire shape. The Qwen family reuses
// it with its own family tag.
type OpenAIConverter struct {
	family Family
}

// Family returns the converter's family.
func (c *OpenAIConverter) Family() Family {
	if c.family == "" {
		return FamilyOpenAI
	}
	return c.family
}

// ParseRequest reads an OpenAI wire request into the normalized form.
func (c *OpenAIConverter) ParseRequest(raw json.RawMessage) (*providers.CompletionRequest, error) {
	var wire OpenAIRequest
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &providers.ValidationError{Field: "body", Message: fmt.Sprintf("malformed request: %v", err)}
	}

	req := &providers.CompletionRequest{
		Model:       wire.Model,
		Messages:    make([]providers.Message, len(wire.Messages)),
		Temperature: wire.Temperature,
		MaxTokens:   wire.MaxTokens,
		TopP:        wire.TopP,
		Stream:      wire.Stream,
		Stop:        wire.Stop,
		User:        wire.User,
	}
	for i, m := range wire.Messages {
		req.Messages[i] = providers.Message{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  fromOpenAIToolCalls(m.ToolCalls),
		}
	}
	for _, t := range wire.Tools {
		req.Tools = append(req.Tools, providers.Tool{
			Type: t.Type,
			Function: providers.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return req, nil
}

// RenderRequest produces the OpenAI wire request.
func (c *OpenAIConverter) RenderRequest(req *providers.CompletionRequest) (interface{}, error) {
	wire := &OpenAIRequest{
		Model:       req.Model,
		Messages:    make([]OpenAIMessage, len(req.Messages)),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.Stop,
		User:        req.User,
		N:           1,
	}
	for i, m := range req.Messages {
		wire.Messages[i] = OpenAIMessage{
			Role:       m.Role,
			Content:    m.Content,
			Name:       m.Name,
			ToolCallID: m.ToolCallID,
			ToolCalls:  toOpenAIToolCalls(m.ToolCalls),
		}
	}
	for _, t := range req.Tools {
		wire.Tools = append(wire.Tools, OpenAITool{
			Type: t.Type,
			Function: OpenAIFunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return wire, nil
}

// ParseResponse reads an OpenAI wire response into the normalized form.
func (c *OpenAIConverter) ParseResponse(raw json.RawMessage) (*providers.CompletionResponse, error) {
	var wire OpenAIResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &providers.ParseError{Provider: string(c.Family()), RawResponse: string(raw), Cause: err}
	}
	if len(wire.Choices) == 0 {
		return nil, &providers.ParseError{Provider: string(c.Family()), Cause: fmt.Errorf("no choices in response")}
	}
	choice := wire.Choices[0]

	return &providers.CompletionResponse{
		ID:           wire.ID,
		Model:        wire.Model,
		Content:      choice.Message.Content,
		FinishReason: NormalizeFinishReason(c.Family(), choice.FinishReason),
		Usage: providers.TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
		ToolCalls: fromOpenAIToolCalls(choice.Message.ToolCalls),
		Created:   wire.Created,
	}, nil
}

// RenderResponse produces the OpenAI wire response.
func (c *OpenAIConverter) RenderResponse(resp *providers.CompletionResponse) (interface{}, error) {
	return &OpenAIResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: resp.Created,
		Model:   resp.Model,
		Choices: []OpenAIChoice{
			{
				Index: 0,
				Message: OpenAIMessage{
					Role:      providers.RoleAssistant,
					Content:   resp.Content,
					ToolCalls: toOpenAIToolCalls(resp.ToolCalls),
				},
				FinishReason: resp.FinishReason,
			},
		},
		Usage: OpenAIUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// RenderChunk produces the OpenAI wire stream chunk.
func (c *OpenAIConverter) RenderChunk(chunk *providers.StreamChunk) (interface{}, error) {
	wire := &OpenAIStreamChunk{
		ID:      chunk.ID,
		Object:  "chat.completion.chunk",
		Created: chunk.Created,
		Model:   chunk.Model,
		Choices: []OpenAIStreamChoice{
			{
				Index: 0,
				Delta: OpenAIStreamDelta{
					Content:   chunk.Delta,
					ToolCalls: toOpenAIToolCalls(chunk.ToolCalls),
				},
				FinishReason: chunk.FinishReason,
			},
		},
	}
	if chunk.Usage != nil {
		wire.Usage = &OpenAIUsage{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		}
	}
	return wire, nil
}

func fromOpenAIToolCalls(calls []OpenAIToolCall) []providers.ToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]providers.ToolCall, len(calls))
	for i, tc := range calls {
		out[i] = providers.ToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: providers.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	return out
}

func toOpenAIToolCalls(calls []providers.ToolCall) []OpenAIToolCall {
	if len(calls) == 0 {
		return nil
	}
	out := make([]OpenAIToolCall, len(calls))
	for i, tc := range calls {
		out[i] = OpenAIToolCall{
			ID:   tc.ID,
			Type: tc.Type,
			Function: OpenAIFunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		}
	}
	return out
}
