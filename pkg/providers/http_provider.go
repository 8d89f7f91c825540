package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Markers some providers put in error bodies instead of using the right
// status code. Checked case-insensitively.
var (
	authErrorMarkers      = []string{"invalid api key", "invalid_api_key", "authentication_error", "token expired"}
	rateLimitErrorMarkers = []string{"rate limit", "rate_limit", "quota exceeded", "too many requests"}
)

// HTTPProvider is the base implementation for HTTP-based provider adapters.
// It provides connection pooling, error classification, and health tracking.
// Each call is a single outbound attempt; recovery policy lives upstream in
// the strategy manager, not here.
//
// Concrete adapters (OpenAI, Anthropic, Qwen) embed this struct and implement
// the Provider interface methods.
type HTTPProvider struct {
	// config contains the provider configuration
	config ProviderConfig

	// creds supplies authentication headers; nil means static config auth
	creds CredentialSource

	// client is the HTTP client with connection pooling
	client *http.Client

	// streamClient is the HTTP client used for streaming calls. It has no
	// overall timeout; streams are bounded by the request deadline instead.
	streamClient *http.Client

	// health tracks the provider's health status
	health ProviderHealth

	// healthMu protects concurrent access to health status
	healthMu sync.RWMutex
}

// NewHTTPProvider creates a new base HTTP provider with connection pooling.
func NewHTTPProvider(config ProviderConfig, creds CredentialSource) *HTTPProvider {
	transport := &http.Transport{
		MaxIdleConns:        config.MaxIdleConns,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		DisableCompression:  false,
		ForceAttemptHTTP2:   true,
	}

	return &HTTPProvider{
		config: config,
		creds:  creds,
		client: &http.Client{
			Transport: transport,
			Timeout:   config.Timeout,
		},
		streamClient: &http.Client{
			Transport: transport,
		},
		health: ProviderHealth{
			IsHealthy:             true, // Start optimistic
			LastCheck:             time.Now(),
			LastSuccessfulRequest: time.Now(),
		},
	}
}

// GetName returns the provider's configured name.
func (p *HTTPProvider) GetName() string {
	return p.config.Name
}

// GetFamily returns the provider's protocol family.
func (p *HTTPProvider) GetFamily() string {
	return p.config.Family
}

// GetConfig returns the provider's configuration.
func (p *HTTPProvider) GetConfig() ProviderConfig {
	return p.config
}

// IsHealthy returns the current health status.
func (p *HTTPProvider) IsHealthy() bool {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health.IsHealthy
}

// GetHealth returns detailed health information.
func (p *HTTPProvider) GetHealth() ProviderHealth {
	p.healthMu.RLock()
	defer p.healthMu.RUnlock()
	return p.health
}

// updateHealth updates the provider's health status after a check or request.
func (p *HTTPProvider) updateHealth(success bool, err error) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	p.health.LastCheck = time.Now()

	if success {
		p.health.IsHealthy = true
		p.health.ConsecutiveFailures = 0
		p.health.LastError = nil
		p.health.LastSuccessfulRequest = time.Now()
		return
	}

	p.health.ConsecutiveFailures++
	p.health.LastError = err

	// Mark unhealthy after 3 consecutive failures
	if p.health.ConsecutiveFailures >= 3 {
		p.health.IsHealthy = false
		slog.Warn("provider marked unhealthy",
			"provider", p.config.Name,
			"consecutive_failures", p.health.ConsecutiveFailures,
			"error", err,
		)
	}
}

// recordRequest records request counters.
func (p *HTTPProvider) recordRequest(success bool) {
	p.healthMu.Lock()
	defer p.healthMu.Unlock()

	p.health.TotalRequests++
	if !success {
		p.health.FailedRequests++
	}
}

// authHeaders resolves the authentication headers for an outbound call.
func (p *HTTPProvider) authHeaders(ctx context.Context) (map[string]string, error) {
	if p.creds != nil {
		return p.creds.AuthHeaders(ctx, p.config.Name)
	}

	switch p.config.AuthScheme {
	case AuthNone:
		return nil, nil
	case AuthBearer:
		return map[string]string{"Authorization": "Bearer " + p.config.APIKey}, nil
	case AuthAPIKey:
		return map[string]string{"Authorization": "Bearer " + p.config.APIKey}, nil
	default:
		return nil, &AuthError{
			Provider: p.config.Name,
			Message:  fmt.Sprintf("no credential source for scheme %q", p.config.AuthScheme),
		}
	}
}

// DoRequest performs a single authenticated HTTP attempt and classifies the
// outcome into the provider error taxonomy. It never retries.
func (p *HTTPProvider) DoRequest(ctx context.Context, method, url string, body []byte, headers map[string]string, streaming bool) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	authHdrs, err := p.authHeaders(ctx)
	if err != nil {
		p.recordRequest(false)
		return nil, err
	}
	for key, value := range authHdrs {
		req.Header.Set(key, value)
	}
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	if req.Header.Get("Content-Type") == "" && body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	slog.Debug("sending request to provider",
		"provider", p.config.Name,
		"method", method,
		"url", url,
		"streaming", streaming,
	)

	client := p.client
	if streaming {
		client = p.streamClient
	}

	resp, err := client.Do(req)
	if err != nil {
		p.recordRequest(false)
		classified := p.classifyTransportError(ctx, err)
		p.updateHealth(false, classified)
		return nil, classified
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		p.recordRequest(true)
		p.updateHealth(true, nil)
		return resp, nil
	}

	errorBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	resp.Body.Close()

	classified := p.classifyStatus(resp.StatusCode, resp.Header, string(errorBody))
	p.recordRequest(false)
	p.updateHealth(false, classified)
	return nil, classified
}

// classifyTransportError maps a client-side error to the taxonomy.
func (p *HTTPProvider) classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		// Caller-level deadline or cancellation takes precedence
		return ctx.Err()
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{
			Provider: p.config.Name,
			Timeout:  p.config.Timeout,
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{
			Provider: p.config.Name,
			Timeout:  p.config.Timeout,
		}
	}

	return &NetworkError{
		Provider: p.config.Name,
		Cause:    err,
	}
}

// classifyStatus maps an error status and body to the taxonomy.
// Body markers are checked first so providers that hide auth or rate-limit
// failures behind generic statuses are still classified correctly.
func (p *HTTPProvider) classifyStatus(status int, header http.Header, body string) error {
	lower := strings.ToLower(body)
	for _, marker := range authErrorMarkers {
		if strings.Contains(lower, marker) {
			if p.creds != nil {
				p.creds.Invalidate(p.config.Name)
			}
			return &AuthError{Provider: p.config.Name, Message: body}
		}
	}
	for _, marker := range rateLimitErrorMarkers {
		if strings.Contains(lower, marker) {
			return &RateLimitError{
				Provider:   p.config.Name,
				RetryAfter: parseRetryAfter(header.Get("Retry-After")),
				Message:    body,
			}
		}
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		if p.creds != nil {
			p.creds.Invalidate(p.config.Name)
		}
		return &AuthError{Provider: p.config.Name, Message: body}

	case http.StatusTooManyRequests:
		return &RateLimitError{
			Provider:   p.config.Name,
			RetryAfter: parseRetryAfter(header.Get("Retry-After")),
			Message:    body,
		}

	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return &TimeoutError{Provider: p.config.Name, Timeout: p.config.Timeout}

	default:
		return &ProviderError{
			Provider:   p.config.Name,
			StatusCode: status,
			Message:    body,
		}
	}
}

// DoJSONRequest performs a single JSON request attempt and decodes the response.
func (p *HTTPProvider) DoJSONRequest(ctx context.Context, method, url string, reqBody interface{}, respBody interface{}, headers map[string]string) error {
	var bodyBytes []byte
	var err error
	if reqBody != nil {
		bodyBytes, err = json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	resp, err := p.DoRequest(ctx, method, url, bodyBytes, headers, false)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	responseBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ParseError{
			Provider: p.config.Name,
			Cause:    fmt.Errorf("failed to read response: %w", err),
		}
	}

	if respBody != nil && len(responseBytes) > 0 {
		if err := json.Unmarshal(responseBytes, respBody); err != nil {
			return &ParseError{
				Provider:    p.config.Name,
				RawResponse: string(responseBytes),
				Cause:       fmt.Errorf("failed to unmarshal response: %w", err),
			}
		}
	}

	return nil
}

// HealthCheck probes the provider's health endpoint with a short timeout.
func (p *HTTPProvider) HealthCheck(ctx context.Context) HealthCheckResult {
	path := p.config.HealthPath
	if path == "" {
		path = "/v1/models"
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, p.config.BaseURL+path, nil)
	if err != nil {
		return HealthCheckResult{Healthy: false, Err: err}
	}

	authHdrs, err := p.authHeaders(probeCtx)
	if err != nil {
		return HealthCheckResult{Healthy: false, ResponseTime: time.Since(start), Err: err}
	}
	for key, value := range authHdrs {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		p.updateHealth(false, err)
		return HealthCheckResult{Healthy: false, ResponseTime: elapsed, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4*1024))

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		p.updateHealth(true, nil)
		return HealthCheckResult{Healthy: true, ResponseTime: elapsed}
	}

	err = &ProviderError{
		Provider:   p.config.Name,
		StatusCode: resp.StatusCode,
		Message:    "health probe failed",
	}
	p.updateHealth(false, err)
	return HealthCheckResult{Healthy: false, ResponseTime: elapsed, Err: err}
}

// Close closes idle connections.
func (p *HTTPProvider) Close() error {
	p.client.CloseIdleConnections()
	slog.Debug("provider closed", "provider", p.config.Name)
	return nil
}

// parseRetryAfter parses the Retry-After header value.
// It supports both delay-seconds and HTTP-date formats.
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}

	var seconds int
	if _, err := fmt.Sscanf(header, "%d", &seconds); err == nil {
		return time.Duration(seconds) * time.Second
	}

	if t, err := http.ParseTime(header); err == nil {
		return time.Until(t)
	}

	return 0
}
