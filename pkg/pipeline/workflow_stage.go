package pipeline

import (
	"context"
	"strings"
	"unicode/utf8"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// chunkSize is the soft per-chunk content size when re-chunking a complete
// response into a simulated stream.
const chunkSize = 240

// WorkflowStage reconciles the client's streaming request with the target's
// streaming capability. When the client wants a stream but the target
// cannot produce one, the request is downgraded to a complete call and the
// execution context is marked so the response gets re-chunked on the way
// out.
type WorkflowStage struct {
	store *config.Store
}

// NewWorkflowStage creates the streaming workflow stage.
func NewWorkflowStage(store *config.Store) *WorkflowStage {
	return &WorkflowStage{store: store}
}

// Name returns the stage identifier.
func (s *WorkflowStage) Name() string { return "workflow" }

// HandleRequest downgrades streaming against non-streaming targets. The
// max-tokens cap of the target provider is applied here too.
func (s *WorkflowStage) HandleRequest(_ context.Context, ec *ExecutionContext, req *providers.CompletionRequest) (*providers.CompletionRequest, error) {
	spec := s.store.Current().Provider(ec.Target.Provider)
	if spec == nil {
		return nil, &providers.RouterError{
			ErrKind: providers.KindInternal,
			Message: "target references unknown provider " + ec.Target.Provider,
		}
	}

	out := req
	if req.Stream && !spec.SupportsStreaming {
		out = req.Clone()
		out.Stream = false
		ec.ReStreamRequired = true
		ec.Warn("target cannot stream, response will be re-chunked")
	}
	if spec.MaxTokensLimit > 0 && req.MaxTokens > spec.MaxTokensLimit {
		if out == req {
			out = req.Clone()
		}
		out.MaxTokens = spec.MaxTokensLimit
	}
	return out, nil
}

// HandleResponse passes responses through; re-chunking happens at the
// streaming boundary, not here.
func (s *WorkflowStage) HandleResponse(_ context.Context, _ *ExecutionContext, resp *providers.CompletionResponse) (*providers.CompletionResponse, error) {
	return resp, nil
}

// SplitResponse turns a complete response into a simulated chunk stream.
// Content splits on soft size boundaries at whitespace where possible; the
// final chunk carries the finish reason, usage, and any tool calls.
func SplitResponse(resp *providers.CompletionResponse) []providers.StreamChunk {
	var parts []string
	content := resp.Content
	for len(content) > chunkSize {
		cut := chunkSize
		if idx := strings.LastIndexByte(content[:chunkSize], ' '); idx > chunkSize/2 {
			cut = idx + 1
		} else {
			// No usable whitespace; never cut inside a multi-byte rune.
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			if cut == 0 {
				cut = chunkSize
			}
		}
		parts = append(parts, content[:cut])
		content = content[cut:]
	}
	parts = append(parts, content)

	chunks := make([]providers.StreamChunk, 0, len(parts))
	for i, part := range parts {
		chunk := providers.StreamChunk{
			ID:      resp.ID,
			Model:   resp.Model,
			Delta:   part,
			Created: resp.Created,
		}
		if i == len(parts)-1 {
			chunk.FinishReason = resp.FinishReason
			usage := resp.Usage
			chunk.Usage = &usage
			chunk.ToolCalls = resp.ToolCalls
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

// JoinChunks assembles a chunk stream back into a complete response.
func JoinChunks(chunks []providers.StreamChunk) *providers.CompletionResponse {
	resp := &providers.CompletionResponse{}
	var content strings.Builder
	for _, chunk := range chunks {
		if resp.ID == "" {
			resp.ID = chunk.ID
		}
		if resp.Model == "" {
			resp.Model = chunk.Model
		}
		if resp.Created == 0 {
			resp.Created = chunk.Created
		}
		content.WriteString(chunk.Delta)
		if chunk.FinishReason != "" {
			resp.FinishReason = chunk.FinishReason
		}
		if chunk.Usage != nil {
			resp.Usage = *chunk.Usage
		}
		if len(chunk.ToolCalls) > 0 {
			resp.ToolCalls = append(resp.ToolCalls, chunk.ToolCalls...)
		}
	}
	resp.Content = content.String()
	return resp
}
