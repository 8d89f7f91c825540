package providers

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies every failure the pipeline can surface.
// Strategy selection and the caller-visible error shape both branch on it.
type ErrorKind string

const (
	KindInvalidRequest        ErrorKind = "invalid_request"
	KindUnknownModel          ErrorKind = "unknown_model"
	KindBackpressure          ErrorKind = "backpressure"
	KindNoHealthyTarget       ErrorKind = "no_healthy_target"
	KindExhaustedTargets      ErrorKind = "exhausted_targets"
	KindAuthFailed            ErrorKind = "auth_failed"
	KindTimeout               ErrorKind = "timeout"
	KindNetwork               ErrorKind = "network"
	KindRateLimited           ErrorKind = "rate_limited"
	KindProviderUnavailable   ErrorKind = "provider_unavailable"
	KindCircuitOpen           ErrorKind = "circuit_open"
	KindMalformedResponse     ErrorKind = "malformed_response"
	KindMalformedStream       ErrorKind = "malformed_stream"
	KindUnsupportedConversion ErrorKind = "unsupported_conversion"
	KindStreamingUnsupported  ErrorKind = "streaming_unsupported"
	KindCancelled             ErrorKind = "cancelled"
	KindInternal              ErrorKind = "internal"
)

// Kinder is implemented by errors that know their pipeline classification.
// Packages outside providers (scheduler, breaker, protocol) attach kinds to
// their own error types through this interface.
type Kinder interface {
	Kind() ErrorKind
}

// KindOf classifies an arbitrary error into an ErrorKind.
// It walks the error chain looking for a Kinder, then falls back to the
// provider error types and context errors. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		return kinder.Kind()
	}

	var (
		authErr    *AuthError
		rateErr    *RateLimitError
		timeoutErr *TimeoutError
		parseErr   *ParseError
		streamErr  *StreamError
		netErr     *NetworkError
		provErr    *ProviderError
		valErr     *ValidationError
	)
	switch {
	case errors.As(err, &authErr):
		return KindAuthFailed
	case errors.As(err, &rateErr):
		return KindRateLimited
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &netErr):
		return KindNetwork
	case errors.As(err, &streamErr):
		return KindMalformedStream
	case errors.As(err, &parseErr):
		return KindMalformedResponse
	case errors.As(err, &valErr):
		return KindInvalidRequest
	case errors.As(err, &provErr):
		return kindFromStatus(provErr.StatusCode)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindInternal
	}
}

// kindFromStatus maps an upstream HTTP status to an ErrorKind.
func kindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuthFailed
	case status == 408 || status == 504:
		return KindTimeout
	case status == 429:
		return KindRateLimited
	case status == 500 || status == 502 || status == 503:
		return KindProviderUnavailable
	case status >= 400 && status < 500:
		return KindInvalidRequest
	default:
		return KindInternal
	}
}

// IsTransient reports whether errors of this kind are worth retrying.
func (k ErrorKind) IsTransient() bool {
	switch k {
	case KindTimeout, KindNetwork, KindRateLimited, KindProviderUnavailable:
		return true
	default:
		return false
	}
}

// RouterError is the structured error surfaced to callers of the scheduler.
// It carries the final classification, a human-readable message, and the
// targets attempted before giving up.
type RouterError struct {
	// ErrKind is the final error classification
	ErrKind ErrorKind

	// Message is a human-readable description
	Message string

	// Details carries optional structured context
	Details map[string]string

	// AttemptedTargets lists "provider/model" pairs tried before failure
	AttemptedTargets []string

	// RetryAfter is a hint for RateLimited and Backpressure failures
	RetryAfter time.Duration

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	if len(e.AttemptedTargets) > 0 {
		return fmt.Sprintf("%s: %s (attempted: %v)", e.ErrKind, e.Message, e.AttemptedTargets)
	}
	return fmt.Sprintf("%s: %s", e.ErrKind, e.Message)
}

// Kind implements Kinder.
func (e *RouterError) Kind() ErrorKind { return e.ErrKind }

// Unwrap returns the underlying error for error chain support.
func (e *RouterError) Unwrap() error { return e.Cause }

// ProviderError represents a general provider error.
// It includes the provider name, HTTP status code, and underlying error.
type ProviderError struct {
	// Provider is the name of the provider that returned the error
	Provider string

	// StatusCode is the HTTP status code (0 if not applicable)
	StatusCode int

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %q error (status %d): %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %q error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// AuthError represents an authentication failure.
// This occurs when the provider rejects the credentials (HTTP 401 or 403)
// or when no usable token is available for an oauth provider.
type AuthError struct {
	// Provider is the name of the provider that rejected authentication
	Provider string

	// Message is the error message
	Message string

	// Cause is the underlying error (if any)
	Cause error
}

// Error implements the error interface.
func (e *AuthError) Error() string {
	return fmt.Sprintf("provider %q authentication failed: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *AuthError) Unwrap() error { return e.Cause }

// RateLimitError represents a rate limit exceeded error (HTTP 429).
// It includes the retry-after duration if provided by the provider.
type RateLimitError struct {
	// Provider is the name of the provider that rate limited the request
	Provider string

	// RetryAfter is the duration to wait before retrying (if provided)
	RetryAfter time.Duration

	// Message is the error message from the provider
	Message string
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("provider %q rate limit exceeded (retry after %s): %s",
			e.Provider, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("provider %q rate limit exceeded: %s", e.Provider, e.Message)
}

// TimeoutError represents a request timeout.
type TimeoutError struct {
	// Provider is the name of the provider where the timeout occurred
	Provider string

	// Timeout is the configured timeout duration
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("provider %q request timeout after %s", e.Provider, e.Timeout)
}

// NetworkError represents a transport-level failure: connection refused or
// reset, DNS resolution failure, broken pipe.
type NetworkError struct {
	// Provider is the name of the provider the call was addressed to
	Provider string

	// Cause is the underlying transport error
	Cause error
}

// Error implements the error interface.
func (e *NetworkError) Error() string {
	return fmt.Sprintf("provider %q network error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *NetworkError) Unwrap() error { return e.Cause }

// ParseError represents a response parsing failure.
// This occurs when the provider returns a malformed response.
type ParseError struct {
	// Provider is the name of the provider that returned the malformed response
	Provider string

	// RawResponse is the raw response body that failed to parse
	RawResponse string

	// Cause is the underlying parse error
	Cause error
}

// Error implements the error interface.
func (e *ParseError) Error() string {
	return fmt.Sprintf("provider %q response parse error: %v", e.Provider, e.Cause)
}

// Unwrap returns the underlying error for error chain support.
func (e *ParseError) Unwrap() error {
	return e.Cause
}

// ValidationError represents a request validation failure.
// This occurs when the request has invalid fields before sending to the provider.
type ValidationError struct {
	// Field is the name of the invalid field
	Field string

	// Message describes what is invalid about the field
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field %q: %s", e.Field, e.Message)
}

// StreamError represents an error that occurred during streaming.
// A partial or truncated stream at EOF is reported through this type.
type StreamError struct {
	// Provider is the name of the provider where the error occurred
	Provider string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("provider %q stream error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("provider %q stream error: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying error for error chain support.
func (e *StreamError) Unwrap() error {
	return e.Cause
}

// StreamingUnsupportedError is returned when a streaming call is made
// against a provider whose configuration disables streaming. The workflow
// stage normally downgrades such requests before they reach the adapter.
type StreamingUnsupportedError struct {
	// Provider is the name of the provider that cannot stream
	Provider string
}

// Error implements the error interface.
func (e *StreamingUnsupportedError) Error() string {
	return fmt.Sprintf("provider %q does not support streaming", e.Provider)
}

// Kind implements Kinder.
func (e *StreamingUnsupportedError) Kind() ErrorKind { return KindStreamingUnsupported }

// ConfigError represents a provider configuration error.
type ConfigError struct {
	// Provider is the name of the provider with invalid configuration
	Provider string

	// Field is the configuration field that is invalid
	Field string

	// Message describes the configuration error
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("provider %q configuration error for field %q: %s",
		e.Provider, e.Field, e.Message)
}
