package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
)

func testConfig(baseURL string, streaming bool) providers.ProviderConfig {
	return providers.ProviderConfig{
		Name:              "anthropic-main",
		Family:            "anthropic",
		BaseURL:           baseURL,
		AuthScheme:        providers.AuthBearer,
		APIKey:            "sk-ant",
		SupportsStreaming: streaming,
		Timeout:           2 * time.Second,
	}
}

func newTestClient(t *testing.T, baseURL string, streaming bool) *Client {
	t.Helper()
	client, err := NewClient(testConfig(baseURL, streaming), nil)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func sseBody(w http.ResponseWriter, payloads ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, p := range payloads {
		io.WriteString(w, "data: "+p+"\n\n")
	}
}

func collectChunks(t *testing.T, stream <-chan providers.StreamChunk) []providers.StreamChunk {
	t.Helper()
	var chunks []providers.StreamChunk
	deadline := time.After(2 * time.Second)
	for {
		select {
		case chunk, ok := <-stream:
			if !ok {
				return chunks
			}
			chunks = append(chunks, chunk)
		case <-deadline:
			t.Fatal("stream never closed")
		}
	}
}

func TestSendCompletion(t *testing.T) {
	var gotPath, gotVersion string
	var gotWire protocol.AnthropicRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotVersion = r.Header.Get("anthropic-version")
		if err := json.NewDecoder(r.Body).Decode(&gotWire); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		json.NewEncoder(w).Encode(protocol.AnthropicResponse{
			ID:         "msg_1",
			Type:       "message",
			Role:       "assistant",
			Model:      "claude-3",
			Content:    []protocol.ContentBlock{{Type: "text", Text: "hello there"}},
			StopReason: "end_turn",
			Usage:      protocol.AnthropicUsage{InputTokens: 2, OutputTokens: 3},
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, false)
	resp, err := client.SendCompletion(context.Background(), &providers.CompletionRequest{
		Model: "claude-3",
		Messages: []providers.Message{
			{Role: providers.RoleSystem, Content: "be brief"},
			{Role: providers.RoleUser, Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("SendCompletion: %v", err)
	}

	if gotPath != "/v1/messages" {
		t.Errorf("path = %q", gotPath)
	}
	if gotVersion != "2023-06-01" {
		t.Errorf("anthropic-version = %q", gotVersion)
	}
	if gotWire.System != "be brief" {
		t.Errorf("system = %q, want the hoisted system message", gotWire.System)
	}
	if len(gotWire.Messages) != 1 || gotWire.Messages[0].Role != providers.RoleUser {
		t.Errorf("wire messages = %+v", gotWire.Messages)
	}
	if gotWire.MaxTokens != 4096 {
		t.Errorf("MaxTokens = %d, want the default", gotWire.MaxTokens)
	}

	if resp.ID != "msg_1" || resp.Content != "hello there" {
		t.Errorf("response = %+v", resp)
	}
	if resp.FinishReason != providers.FinishReasonStop {
		t.Errorf("FinishReason = %q", resp.FinishReason)
	}
	if resp.Usage.TotalTokens != 5 {
		t.Errorf("TotalTokens = %d", resp.Usage.TotalTokens)
	}
}

func TestSendCompletionSurfacesClassifiedError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"type":"error","error":{"type":"authentication_error"}}`)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, false)
	_, err := client.SendCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "claude-3",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	})
	var authErr *providers.AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
}

func TestStreamCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseBody(w,
			`{"type":"message_start","message":{"id":"msg_1","model":"claude-3"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hel"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"lo"}}`,
			`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":2,"output_tokens":3}}`,
			`{"type":"message_stop"}`,
		)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, true)
	stream, err := client.StreamCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "claude-3",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	chunks := collectChunks(t, stream)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	var content string
	for _, chunk := range chunks {
		if chunk.Error != nil {
			t.Fatalf("unexpected stream error: %v", chunk.Error)
		}
		if chunk.ID != "msg_1" || chunk.Model != "claude-3" {
			t.Errorf("chunk identity = %q/%q", chunk.ID, chunk.Model)
		}
		content += chunk.Delta
	}
	if content != "Hello" {
		t.Errorf("content = %q", content)
	}
	final := chunks[len(chunks)-1]
	if final.FinishReason != providers.FinishReasonStop {
		t.Errorf("FinishReason = %q", final.FinishReason)
	}
	if final.Usage == nil || final.Usage.TotalTokens != 5 {
		t.Errorf("Usage = %+v", final.Usage)
	}
}

func TestStreamCompletionTruncated(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseBody(w,
			`{"type":"message_start","message":{"id":"msg_1","model":"claude-3"}}`,
			`{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"partial"}}`,
		)
		// Body ends without message_stop.
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, true)
	stream, err := client.StreamCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "claude-3",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	chunks := collectChunks(t, stream)

	if len(chunks) != 2 {
		t.Fatalf("got %d chunks, want delta plus error", len(chunks))
	}
	final := chunks[len(chunks)-1]
	if final.Error == nil || !strings.Contains(final.Error.Error(), "message_stop") {
		t.Errorf("final chunk error = %v", final.Error)
	}
}

func TestStreamCompletionProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sseBody(w,
			`{"type":"message_start","message":{"id":"msg_1","model":"claude-3"}}`,
			`{"type":"error","delta":{"type":"overloaded_error","message":"overloaded"}}`,
		)
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, true)
	stream, err := client.StreamCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "claude-3",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("StreamCompletion: %v", err)
	}
	chunks := collectChunks(t, stream)

	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	var streamErr *providers.StreamError
	if !errors.As(chunks[0].Error, &streamErr) || !strings.Contains(streamErr.Message, "overloaded") {
		t.Errorf("chunk error = %v", chunks[0].Error)
	}
}

func TestStreamCompletionUnsupported(t *testing.T) {
	client := newTestClient(t, "http://example.test", false)
	stream, err := client.StreamCompletion(context.Background(), &providers.CompletionRequest{
		Model:    "claude-3",
		Messages: []providers.Message{{Role: providers.RoleUser, Content: "hi"}},
	})
	var unsupported *providers.StreamingUnsupportedError
	if !errors.As(err, &unsupported) {
		t.Fatalf("err = %v, want StreamingUnsupportedError", err)
	}
	if got := providers.KindOf(err); got != providers.KindStreamingUnsupported {
		t.Errorf("KindOf = %s, want %s", got, providers.KindStreamingUnsupported)
	}
	if stream != nil {
		t.Error("stream returned alongside the error")
	}
}
