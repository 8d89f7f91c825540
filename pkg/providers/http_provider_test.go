package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type recordingCreds struct {
	headers     map[string]string
	err         error
	invalidated []string
}

func (c *recordingCreds) AuthHeaders(_ context.Context, _ string) (map[string]string, error) {
	return c.headers, c.err
}

func (c *recordingCreds) Invalidate(provider string) {
	c.invalidated = append(c.invalidated, provider)
}

func testConfig(baseURL string, scheme AuthScheme) ProviderConfig {
	return ProviderConfig{
		Name:       "openai-main",
		Family:     "openai",
		BaseURL:    baseURL,
		AuthScheme: scheme,
		APIKey:     "sk-test",
		Timeout:    2 * time.Second,
	}
}

func TestDoRequestStaticAuthSchemes(t *testing.T) {
	tests := []struct {
		scheme    AuthScheme
		wantAuth  string
		wantNoHdr bool
	}{
		{scheme: AuthBearer, wantAuth: "Bearer sk-test"},
		{scheme: AuthAPIKey, wantAuth: "Bearer sk-test"},
		{scheme: AuthNone, wantNoHdr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			var gotAuth string
			var gotContentType string
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotAuth = r.Header.Get("Authorization")
				gotContentType = r.Header.Get("Content-Type")
				w.Write([]byte(`{}`))
			}))
			defer server.Close()

			p := NewHTTPProvider(testConfig(server.URL, tt.scheme), nil)
			resp, err := p.DoRequest(context.Background(), "POST", server.URL+"/x", []byte(`{}`), nil, false)
			if err != nil {
				t.Fatalf("DoRequest: %v", err)
			}
			resp.Body.Close()

			if tt.wantNoHdr {
				if gotAuth != "" {
					t.Errorf("Authorization = %q, want none", gotAuth)
				}
			} else if gotAuth != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", gotAuth, tt.wantAuth)
			}
			if gotContentType != "application/json" {
				t.Errorf("Content-Type = %q", gotContentType)
			}
		})
	}
}

func TestDoRequestUnknownSchemeFailsFast(t *testing.T) {
	p := NewHTTPProvider(testConfig("http://127.0.0.1:0", AuthScheme("kerberos")), nil)
	_, err := p.DoRequest(context.Background(), "POST", "http://127.0.0.1:0/x", nil, nil, false)
	var authErr *AuthError
	if !errors.As(err, &authErr) {
		t.Fatalf("err = %v, want AuthError", err)
	}
}

func TestDoRequestCredentialSourceTakesPrecedence(t *testing.T) {
	var gotAPIKey, gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("x-api-key")
		gotAuth = r.Header.Get("Authorization")
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	creds := &recordingCreds{headers: map[string]string{"x-api-key": "sk-live"}}
	p := NewHTTPProvider(testConfig(server.URL, AuthBearer), creds)
	resp, err := p.DoRequest(context.Background(), "POST", server.URL+"/x", []byte(`{}`), nil, false)
	if err != nil {
		t.Fatalf("DoRequest: %v", err)
	}
	resp.Body.Close()

	if gotAPIKey != "sk-live" {
		t.Errorf("x-api-key = %q", gotAPIKey)
	}
	if gotAuth != "" {
		t.Errorf("Authorization = %q, want the credential source headers only", gotAuth)
	}
}

func TestDoRequestStatusClassification(t *testing.T) {
	tests := []struct {
		name           string
		status         int
		body           string
		retryAfter     string
		check          func(t *testing.T, err error)
		wantInvalidate bool
	}{
		{
			name:   "unauthorized",
			status: http.StatusUnauthorized,
			body:   "bad key",
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("err = %v, want AuthError", err)
				}
			},
			wantInvalidate: true,
		},
		{
			name:   "forbidden",
			status: http.StatusForbidden,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("err = %v, want AuthError", err)
				}
			},
			wantInvalidate: true,
		},
		{
			name:       "too many requests",
			status:     http.StatusTooManyRequests,
			retryAfter: "2",
			check: func(t *testing.T, err error) {
				var rlErr *RateLimitError
				if !errors.As(err, &rlErr) {
					t.Fatalf("err = %v, want RateLimitError", err)
				}
				if rlErr.RetryAfter != 2*time.Second {
					t.Errorf("RetryAfter = %s", rlErr.RetryAfter)
				}
			},
		},
		{
			name:   "auth marker behind generic status",
			status: http.StatusBadRequest,
			body:   `{"error": "Invalid API key provided"}`,
			check: func(t *testing.T, err error) {
				var authErr *AuthError
				if !errors.As(err, &authErr) {
					t.Fatalf("err = %v, want AuthError", err)
				}
			},
			wantInvalidate: true,
		},
		{
			name:   "rate limit marker behind generic status",
			status: http.StatusServiceUnavailable,
			body:   "Rate limit exceeded, slow down",
			check: func(t *testing.T, err error) {
				var rlErr *RateLimitError
				if !errors.As(err, &rlErr) {
					t.Fatalf("err = %v, want RateLimitError", err)
				}
			},
		},
		{
			name:   "request timeout",
			status: http.StatusRequestTimeout,
			check: func(t *testing.T, err error) {
				var toErr *TimeoutError
				if !errors.As(err, &toErr) {
					t.Fatalf("err = %v, want TimeoutError", err)
				}
			},
		},
		{
			name:   "gateway timeout",
			status: http.StatusGatewayTimeout,
			check: func(t *testing.T, err error) {
				var toErr *TimeoutError
				if !errors.As(err, &toErr) {
					t.Fatalf("err = %v, want TimeoutError", err)
				}
			},
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   "boom",
			check: func(t *testing.T, err error) {
				var pErr *ProviderError
				if !errors.As(err, &pErr) {
					t.Fatalf("err = %v, want ProviderError", err)
				}
				if pErr.StatusCode != http.StatusInternalServerError {
					t.Errorf("StatusCode = %d", pErr.StatusCode)
				}
				if pErr.Message != "boom" {
					t.Errorf("Message = %q", pErr.Message)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			creds := &recordingCreds{headers: map[string]string{"Authorization": "Bearer sk-test"}}
			p := NewHTTPProvider(testConfig(server.URL, AuthBearer), creds)
			_, err := p.DoRequest(context.Background(), "POST", server.URL+"/x", []byte(`{}`), nil, false)
			if err == nil {
				t.Fatal("no error for error status")
			}
			tt.check(t, err)

			if tt.wantInvalidate && len(creds.invalidated) == 0 {
				t.Error("credentials not invalidated on auth failure")
			}
			if !tt.wantInvalidate && len(creds.invalidated) != 0 {
				t.Errorf("credentials invalidated: %v", creds.invalidated)
			}
		})
	}
}

func TestDoRequestTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // refuse connections

	p := NewHTTPProvider(testConfig(server.URL, AuthBearer), nil)
	_, err := p.DoRequest(context.Background(), "POST", server.URL+"/x", []byte(`{}`), nil, false)
	var netErr *NetworkError
	if !errors.As(err, &netErr) {
		t.Fatalf("err = %v, want NetworkError", err)
	}
}

func TestDoRequestCancelledContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := NewHTTPProvider(testConfig(server.URL, AuthBearer), nil)
	_, err := p.DoRequest(ctx, "POST", server.URL+"/x", []byte(`{}`), nil, false)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestUnhealthyAfterConsecutiveFailures(t *testing.T) {
	var failing bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if failing {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	p := NewHTTPProvider(testConfig(server.URL, AuthBearer), nil)

	failing = true
	for i := 0; i < 3; i++ {
		if _, err := p.DoRequest(context.Background(), "POST", server.URL+"/x", nil, nil, false); err == nil {
			t.Fatal("expected failure")
		}
		if i < 2 && !p.IsHealthy() {
			t.Fatalf("unhealthy after %d failures", i+1)
		}
	}
	if p.IsHealthy() {
		t.Error("still healthy after 3 consecutive failures")
	}
	health := p.GetHealth()
	if health.ConsecutiveFailures != 3 {
		t.Errorf("ConsecutiveFailures = %d", health.ConsecutiveFailures)
	}
	if health.FailedRequests != 3 || health.TotalRequests != 3 {
		t.Errorf("counters = %d/%d", health.FailedRequests, health.TotalRequests)
	}

	failing = false
	resp, err := p.DoRequest(context.Background(), "POST", server.URL+"/x", nil, nil, false)
	if err != nil {
		t.Fatalf("DoRequest after recovery: %v", err)
	}
	resp.Body.Close()
	if !p.IsHealthy() {
		t.Error("one success should restore health")
	}
	if p.GetHealth().ConsecutiveFailures != 0 {
		t.Error("consecutive failures not reset")
	}
}

func TestHealthCheck(t *testing.T) {
	t.Run("default path healthy", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte(`{"data":[]}`))
		}))
		defer server.Close()

		p := NewHTTPProvider(testConfig(server.URL, AuthBearer), nil)
		result := p.HealthCheck(context.Background())
		if !result.Healthy {
			t.Fatalf("unhealthy: %v", result.Err)
		}
		if gotPath != "/v1/models" {
			t.Errorf("probe path = %q", gotPath)
		}
		if result.ResponseTime <= 0 {
			t.Error("no response time recorded")
		}
	})

	t.Run("custom path", func(t *testing.T) {
		var gotPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			w.Write([]byte(`ok`))
		}))
		defer server.Close()

		cfg := testConfig(server.URL, AuthBearer)
		cfg.HealthPath = "/healthz"
		p := NewHTTPProvider(cfg, nil)
		if result := p.HealthCheck(context.Background()); !result.Healthy {
			t.Fatalf("unhealthy: %v", result.Err)
		}
		if gotPath != "/healthz" {
			t.Errorf("probe path = %q", gotPath)
		}
	})

	t.Run("error status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		p := NewHTTPProvider(testConfig(server.URL, AuthBearer), nil)
		result := p.HealthCheck(context.Background())
		if result.Healthy {
			t.Fatal("healthy on a 500 probe")
		}
		var pErr *ProviderError
		if !errors.As(result.Err, &pErr) {
			t.Fatalf("Err = %v, want ProviderError", result.Err)
		}
	})

	t.Run("unreachable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		server.Close()

		p := NewHTTPProvider(testConfig(server.URL, AuthBearer), nil)
		result := p.HealthCheck(context.Background())
		if result.Healthy || result.Err == nil {
			t.Fatalf("result = %+v, want unreachable failure", result)
		}
	})
}

func TestParseRetryAfter(t *testing.T) {
	if got := parseRetryAfter("2"); got != 2*time.Second {
		t.Errorf("seconds form = %s", got)
	}
	if got := parseRetryAfter(""); got != 0 {
		t.Errorf("empty = %s", got)
	}

	date := time.Now().Add(30 * time.Second).UTC().Format(http.TimeFormat)
	got := parseRetryAfter(date)
	if got < 25*time.Second || got > 30*time.Second {
		t.Errorf("http-date form = %s", got)
	}
}
