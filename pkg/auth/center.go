package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// Center manages outbound credentials for every configured provider. Static
// schemes (api-key, bearer) read straight from configuration; the OAuth
// device flow persists token bundles under the state directory and refreshes
// them proactively before expiry.
//
// Refreshes are serialized per provider: when several requests observe an
// expiring token at once, exactly one performs the refresh and the rest wait
// for its result.
type Center struct {
	cfg    config.AuthConfig
	store  *config.Store
	logger *slog.Logger

	mu    sync.Mutex
	state map[string]*providerState
}

type providerState struct {
	mu          sync.Mutex
	bundle      *TokenBundle
	loaded      bool
	inflight    chan struct{} // closed when the current refresh finishes
	maintenance bool
}

// Status is a provider's credential health, surfaced through monitoring.
type Status struct {
	Provider    string    `json:"provider"`
	Scheme      string    `json:"scheme"`
	HasToken    bool      `json:"has_token"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
	Maintenance bool      `json:"maintenance"`
}

// NewCenter creates an auth center over the live configuration.
func NewCenter(cfg config.AuthConfig, store *config.Store) *Center {
	return &Center{
		cfg:    cfg,
		store:  store,
		logger: slog.Default().With("component", "auth.center"),
		state:  make(map[string]*providerState),
	}
}

// AuthHeaders implements providers.CredentialSource.
func (c *Center) AuthHeaders(ctx context.Context, provider string) (map[string]string, error) {
	spec := c.store.Current().Provider(provider)
	if spec == nil {
		return nil, &providers.AuthError{Provider: provider, Message: "unknown provider"}
	}

	switch providers.AuthScheme(spec.Auth.Scheme) {
	case providers.AuthNone:
		return nil, nil

	case providers.AuthAPIKey:
		// Anthropic-family endpoints take the key in x-api-key; everything
		// else uses a bearer Authorization header.
		if spec.Family == "anthropic" {
			return map[string]string{"x-api-key": spec.Auth.APIKey}, nil
		}
		return map[string]string{"Authorization": "Bearer " + spec.Auth.APIKey}, nil

	case providers.AuthBearer:
		return map[string]string{"Authorization": "Bearer " + spec.Auth.APIKey}, nil

	case providers.AuthDeviceFlow:
		token, err := c.accessToken(ctx, spec)
		if err != nil {
			return nil, err
		}
		return map[string]string{"Authorization": "Bearer " + token}, nil

	default:
		return nil, &providers.AuthError{
			Provider: provider,
			Message:  fmt.Sprintf("unsupported auth scheme %q", spec.Auth.Scheme),
		}
	}
}

// Invalidate implements providers.CredentialSource. The next AuthHeaders
// call for the provider forces a refresh.
func (c *Center) Invalidate(provider string) {
	ps := c.providerState(provider)
	ps.mu.Lock()
	defer ps.mu.Unlock()
	if ps.bundle != nil {
		ps.bundle.ExpiresIn = 1
		ps.bundle.CreatedAt = time.Time{}
	}
	c.logger.Info("credentials invalidated", "provider", provider)
}

// ForceRefresh refreshes the provider's token regardless of expiry. Used by
// the fallback strategy after an upstream auth failure.
func (c *Center) ForceRefresh(ctx context.Context, provider string) error {
	spec := c.store.Current().Provider(provider)
	if spec == nil {
		return &providers.AuthError{Provider: provider, Message: "unknown provider"}
	}
	if providers.AuthScheme(spec.Auth.Scheme) != providers.AuthDeviceFlow {
		return &providers.AuthError{Provider: provider, Message: "provider has no refreshable credentials"}
	}
	c.Invalidate(provider)
	_, err := c.accessToken(ctx, spec)
	return err
}

// StatusAll reports credential status for every configured provider.
func (c *Center) StatusAll() []Status {
	snapshot := c.store.Current()
	ids := make([]string, 0, len(snapshot.Providers))
	for id := range snapshot.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]Status, 0, len(ids))
	for _, id := range ids {
		spec := snapshot.Providers[id]
		st := Status{Provider: spec.ID, Scheme: spec.Auth.Scheme}
		if providers.AuthScheme(spec.Auth.Scheme) == providers.AuthDeviceFlow {
			ps := c.providerState(spec.ID)
			ps.mu.Lock()
			bundle := c.loadLocked(ps, spec.ID)
			st.HasToken = bundle != nil && bundle.AccessToken != ""
			if bundle != nil {
				st.ExpiresAt = bundle.ExpiresAt()
			}
			st.Maintenance = ps.maintenance
			ps.mu.Unlock()
		} else {
			st.HasToken = providers.AuthScheme(spec.Auth.Scheme) == providers.AuthNone || spec.Auth.APIKey != ""
		}
		out = append(out, st)
	}
	return out
}

// accessToken returns a valid access token for a device-flow provider,
// refreshing when the bundle is missing, expired, or near expiry.
func (c *Center) accessToken(ctx context.Context, spec *config.ProviderSpec) (string, error) {
	ps := c.providerState(spec.ID)

	for {
		ps.mu.Lock()
		if ps.maintenance {
			ps.mu.Unlock()
			return "", &providers.AuthError{
				Provider: spec.ID,
				Message:  "provider requires re-login (refresh token rejected)",
			}
		}

		bundle := c.loadLocked(ps, spec.ID)
		if bundle != nil && bundle.AccessToken != "" && !bundle.ExpiresWithin(c.cfg.RefreshThreshold) {
			token := bundle.AccessToken
			ps.mu.Unlock()
			return token, nil
		}

		if bundle == nil || bundle.RefreshToken == "" {
			ps.mu.Unlock()
			return "", &providers.AuthError{
				Provider: spec.ID,
				Message:  "no stored credentials, run device-flow login first",
			}
		}

		// Join an in-flight refresh instead of starting another.
		if ps.inflight != nil {
			wait := ps.inflight
			ps.mu.Unlock()
			select {
			case <-wait:
			case <-ctx.Done():
				return "", &providers.RouterError{
					ErrKind: providers.KindCancelled,
					Message: "cancelled while waiting for token refresh",
					Cause:   ctx.Err(),
				}
			}
			continue
		}

		done := make(chan struct{})
		ps.inflight = done
		refreshToken := bundle.RefreshToken
		ps.mu.Unlock()

		newBundle, err := c.refresh(ctx, spec, refreshToken)

		ps.mu.Lock()
		ps.inflight = nil
		if err == nil {
			ps.bundle = newBundle
		} else if isInvalidGrant(err) {
			// The refresh token itself was rejected. Until a human runs the
			// device flow again every call fails fast.
			ps.maintenance = true
			c.logger.Error("refresh token rejected, entering maintenance",
				"provider", spec.ID, "error", err)
		}
		ps.mu.Unlock()
		close(done)

		if err != nil {
			return "", &providers.AuthError{Provider: spec.ID, Message: "token refresh failed", Cause: err}
		}
	}
}

// refresh exchanges the refresh token and persists the new bundle.
func (c *Center) refresh(ctx context.Context, spec *config.ProviderSpec, refreshToken string) (*TokenBundle, error) {
	oc := oauthConfig(spec)
	src := oc.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	token, err := src.Token()
	if err != nil {
		return nil, err
	}

	bundle := bundleFromToken(token, refreshToken)
	if err := saveTokenBundle(c.cfg.StateDir, spec.ID, bundle); err != nil {
		return nil, err
	}
	c.logger.Info("token refreshed",
		"provider", spec.ID,
		"expires_at", bundle.ExpiresAt().Format(time.RFC3339),
	)
	return bundle, nil
}

func (c *Center) providerState(provider string) *providerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	ps, ok := c.state[provider]
	if !ok {
		ps = &providerState{}
		c.state[provider] = ps
	}
	return ps
}

// loadLocked lazily loads the persisted bundle. Caller holds ps.mu.
func (c *Center) loadLocked(ps *providerState, provider string) *TokenBundle {
	if !ps.loaded {
		bundle, err := loadTokenBundle(c.cfg.StateDir, provider)
		if err != nil {
			c.logger.Warn("failed to load token file", "provider", provider, "error", err)
		}
		ps.bundle = bundle
		ps.loaded = true
	}
	return ps.bundle
}

func bundleFromToken(token *oauth2.Token, previousRefresh string) *TokenBundle {
	bundle := &TokenBundle{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		CreatedAt:    time.Now(),
	}
	if bundle.RefreshToken == "" {
		// Some providers only return the refresh token once.
		bundle.RefreshToken = previousRefresh
	}
	if !token.Expiry.IsZero() {
		bundle.ExpiresIn = int64(time.Until(token.Expiry).Seconds())
	}
	return bundle
}

func oauthConfig(spec *config.ProviderSpec) *oauth2.Config {
	return &oauth2.Config{
		ClientID: spec.Auth.ClientID,
		Scopes:   spec.Auth.Scopes,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: spec.Auth.DeviceAuthURL,
			TokenURL:      spec.Auth.TokenURL,
		},
	}
}

func isInvalidGrant(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		return retrieveErr.ErrorCode == "invalid_grant"
	}
	return false
}
