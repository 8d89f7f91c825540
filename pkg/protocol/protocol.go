package protocol

import (
	"encoding/json"
	"fmt"

	"mercator-hq/janus/pkg/providers"
)

// Family identifies a chat-completion protocol family.
type Family string

const (
	FamilyOpenAI    Family = "openai"
	FamilyAnthropic Family = "anthropic"

	// FamilyQwen speaks the OpenAI wire shape with its own model vocabulary;
	// it reuses the OpenAI converter.
	FamilyQwen Family = "qwen"
)

// UnsupportedConversionError reports an undeclared protocol pair.
type UnsupportedConversionError struct {
	From Family
	To   Family
}

// Error implements the error interface.
func (e *UnsupportedConversionError) Error() string {
	return fmt.Sprintf("unsupported protocol conversion %s -> %s", e.From, e.To)
}

// Kind implements providers.Kinder.
func (e *UnsupportedConversionError) Kind() providers.ErrorKind {
	return providers.KindUnsupportedConversion
}

// Converter translates between one family's wire shapes and the normalized
// core forms. Parse* reads wire JSON; Render* produces wire values.
type Converter interface {
	// Family returns the protocol family this converter speaks.
	Family() Family

	// ParseRequest reads a wire-shaped request into the normalized form.
	ParseRequest(raw json.RawMessage) (*providers.CompletionRequest, error)

	// RenderRequest produces the wire-shaped request for this family.
	RenderRequest(req *providers.CompletionRequest) (interface{}, error)

	// ParseResponse reads a wire-shaped response into the normalized form.
	ParseResponse(raw json.RawMessage) (*providers.CompletionResponse, error)

	// RenderResponse produces the wire-shaped response for this family.
	RenderResponse(resp *providers.CompletionResponse) (interface{}, error)

	// RenderChunk produces the wire-shaped streaming chunk for this family.
	RenderChunk(chunk *providers.StreamChunk) (interface{}, error)
}

// Registry holds the declared converters and the directed conversion pairs.
// Loaded once at startup; immutable thereafter.
type Registry struct {
	converters map[Family]Converter
	pairs      map[[2]Family]bool
}

// NewRegistry creates a registry with the built-in families and the
// OpenAI↔Anthropic directed pairs declared.
func NewRegistry() *Registry {
	r := &Registry{
		converters: make(map[Family]Converter),
		pairs:      make(map[[2]Family]bool),
	}

	openai := &OpenAIConverter{family: FamilyOpenAI}
	r.Register(openai)
	r.Register(&AnthropicConverter{})
	r.Register(&OpenAIConverter{family: FamilyQwen})

	r.DeclarePair(FamilyOpenAI, FamilyAnthropic)
	r.DeclarePair(FamilyAnthropic, FamilyOpenAI)
	r.DeclarePair(FamilyOpenAI, FamilyQwen)
	r.DeclarePair(FamilyQwen, FamilyOpenAI)
	r.DeclarePair(FamilyAnthropic, FamilyQwen)
	r.DeclarePair(FamilyQwen, FamilyAnthropic)

	return r
}

// Register adds a converter for its family.
func (r *Registry) Register(c Converter) {
	r.converters[c.Family()] = c
}

// DeclarePair declares one directed conversion as supported.
func (r *Registry) DeclarePair(from, to Family) {
	r.pairs[[2]Family{from, to}] = true
}

// SupportsConversion reports whether the directed pair is declared.
// Identity conversions are always supported.
func (r *Registry) SupportsConversion(from, to Family) bool {
	if from == to {
		return true
	}
	return r.pairs[[2]Family{from, to}]
}

// Converter returns the converter for a family.
func (r *Registry) Converter(f Family) (Converter, bool) {
	c, ok := r.converters[f]
	return c, ok
}

// ConvertRequest applies the semantic adjustments needed to move a
// normalized request between families. Identity pairs return the input
// unchanged. The returned warnings name transformations that cannot be
// round-tripped; the executor records them on the context.
func (r *Registry) ConvertRequest(req *providers.CompletionRequest, from, to Family) (*providers.CompletionRequest, []string, error) {
	if from == to {
		return req, nil, nil
	}
	if !r.SupportsConversion(from, to) {
		return nil, nil, &UnsupportedConversionError{From: from, To: to}
	}

	var warnings []string
	out := req.Clone()

	if to == FamilyAnthropic {
		// Anthropic has no per-message system role: fold system messages into
		// a single leading system message. Merging more than one is lossy.
		out, warnings = foldSystemMessages(out)
	}

	return out, warnings, nil
}

// ConvertResponse maps a normalized response's vocabulary between families.
// The normalized finish reasons are the OpenAI vocabulary, so only unknown
// reasons need attention: they pass through with a warning.
func (r *Registry) ConvertResponse(resp *providers.CompletionResponse, from, to Family) (*providers.CompletionResponse, []string, error) {
	if from == to {
		return resp, nil, nil
	}
	if !r.SupportsConversion(from, to) {
		return nil, nil, &UnsupportedConversionError{From: from, To: to}
	}

	var warnings []string
	switch resp.FinishReason {
	case providers.FinishReasonStop,
		providers.FinishReasonLength,
		providers.FinishReasonToolCalls,
		providers.FinishReasonContentFilter,
		providers.FinishReasonCancelled,
		providers.FinishReasonError,
		"":
	default:
		warnings = append(warnings, fmt.Sprintf("unknown finish reason %q passed through", resp.FinishReason))
	}

	return resp, warnings, nil
}

// foldSystemMessages merges all system messages into one leading system
// message, preserving the order of the rest.
func foldSystemMessages(req *providers.CompletionRequest) (*providers.CompletionRequest, []string) {
	var system string
	systemCount := 0
	rest := make([]providers.Message, 0, len(req.Messages))

	for _, msg := range req.Messages {
		if msg.Role == providers.RoleSystem {
			if system != "" {
				system += "\n"
			}
			system += msg.Content
			systemCount++
			continue
		}
		rest = append(rest, msg)
	}

	if systemCount == 0 {
		return req, nil
	}

	var warnings []string
	if systemCount > 1 {
		warnings = append(warnings, fmt.Sprintf("merged %d system messages into one (non-reversible)", systemCount))
	}

	out := req.Clone()
	out.Messages = append([]providers.Message{{Role: providers.RoleSystem, Content: system}}, rest...)
	return out, warnings
}

// NormalizeFinishReason maps a family-specific finish/stop reason into the
// normalized vocabulary. Unknown reasons pass through unchanged.
func NormalizeFinishReason(family Family, reason string) string {
	switch family {
	case FamilyAnthropic:
		switch reason {
		case "end_turn", "stop_sequence":
			return providers.FinishReasonStop
		case "max_tokens":
			return providers.FinishReasonLength
		case "tool_use":
			return providers.FinishReasonToolCalls
		}
	default:
		switch reason {
		case "stop", "length", "content_filter":
			return reason
		case "tool_calls", "function_call":
			return providers.FinishReasonToolCalls
		}
	}
	return reason
}

// DenormalizeFinishReason maps a normalized finish reason into a family's
// vocabulary. Unknown reasons pass through unchanged.
func DenormalizeFinishReason(family Family, reason string) string {
	if family != FamilyAnthropic {
		return reason
	}
	switch reason {
	case providers.FinishReasonStop:
		return "end_turn"
	case providers.FinishReasonLength:
		return "max_tokens"
	case providers.FinishReasonToolCalls:
		return "tool_use"
	default:
		return reason
	}
}
