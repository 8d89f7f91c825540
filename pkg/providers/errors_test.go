package providers

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"router error carries its kind", &RouterError{ErrKind: KindBackpressure}, KindBackpressure},
		{"wrapped router error", fmt.Errorf("admit: %w", &RouterError{ErrKind: KindUnknownModel}), KindUnknownModel},
		{"auth error", &AuthError{Provider: "p"}, KindAuthFailed},
		{"rate limit error", &RateLimitError{Provider: "p"}, KindRateLimited},
		{"timeout error", &TimeoutError{Provider: "p"}, KindTimeout},
		{"network error", &NetworkError{Provider: "p", Cause: errors.New("refused")}, KindNetwork},
		{"stream error", &StreamError{Provider: "p"}, KindMalformedStream},
		{"streaming unsupported", &StreamingUnsupportedError{Provider: "p"}, KindStreamingUnsupported},
		{"parse error", &ParseError{Provider: "p"}, KindMalformedResponse},
		{"validation error", &ValidationError{Field: "model"}, KindInvalidRequest},
		{"provider 401", &ProviderError{StatusCode: 401}, KindAuthFailed},
		{"provider 429", &ProviderError{StatusCode: 429}, KindRateLimited},
		{"provider 503", &ProviderError{StatusCode: 503}, KindProviderUnavailable},
		{"provider 504", &ProviderError{StatusCode: 504}, KindTimeout},
		{"provider 400", &ProviderError{StatusCode: 400}, KindInvalidRequest},
		{"context deadline", context.DeadlineExceeded, KindCancelled},
		{"context cancel", context.Canceled, KindCancelled},
		{"plain error", errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	transient := []ErrorKind{KindTimeout, KindNetwork, KindRateLimited, KindProviderUnavailable}
	for _, k := range transient {
		if !k.IsTransient() {
			t.Errorf("%s.IsTransient() = false", k)
		}
	}
	terminal := []ErrorKind{
		KindInvalidRequest, KindUnknownModel, KindAuthFailed, KindCancelled,
		KindCircuitOpen, KindBackpressure, KindExhaustedTargets, KindInternal,
	}
	for _, k := range terminal {
		if k.IsTransient() {
			t.Errorf("%s.IsTransient() = true", k)
		}
	}
}

func TestRouterErrorMessage(t *testing.T) {
	err := &RouterError{
		ErrKind:          KindExhaustedTargets,
		Message:          "all targets exhausted",
		AttemptedTargets: []string{"openai/gpt-4", "anthropic/claude"},
		RetryAfter:       2 * time.Second,
	}
	msg := err.Error()
	if msg == "" || KindOf(err) != KindExhaustedTargets {
		t.Fatalf("Error() = %q", msg)
	}

	cause := errors.New("upstream down")
	wrapped := &RouterError{ErrKind: KindProviderUnavailable, Message: "x", Cause: cause}
	if !errors.Is(wrapped, cause) {
		t.Error("RouterError does not unwrap its cause")
	}
}
