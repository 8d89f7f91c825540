package auth

import (
	"context"
	"time"

	"golang.org/x/oauth2"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
)

// DevicePrompt is what a human needs to complete the device flow: visit the
// URL and enter the code.
type DevicePrompt struct {
	UserCode        string    `json:"user_code"`
	VerificationURI string    `json:"verification_uri"`
	ExpiresAt       time.Time `json:"expires_at"`

	response *oauth2.DeviceAuthResponse
	spec     *config.ProviderSpec
}

// BeginDeviceLogin starts the OAuth device flow for a provider and returns
// the prompt to display. Call WaitForDeviceLogin with the prompt to poll for
// completion.
func (c *Center) BeginDeviceLogin(ctx context.Context, provider string) (*DevicePrompt, error) {
	spec := c.store.Current().Provider(provider)
	if spec == nil {
		return nil, &providers.AuthError{Provider: provider, Message: "unknown provider"}
	}
	if providers.AuthScheme(spec.Auth.Scheme) != providers.AuthDeviceFlow {
		return nil, &providers.AuthError{Provider: provider, Message: "provider does not use the device flow"}
	}

	resp, err := oauthConfig(spec).DeviceAuth(ctx)
	if err != nil {
		return nil, &providers.AuthError{Provider: provider, Message: "device authorization failed", Cause: err}
	}

	uri := resp.VerificationURIComplete
	if uri == "" {
		uri = resp.VerificationURI
	}
	return &DevicePrompt{
		UserCode:        resp.UserCode,
		VerificationURI: uri,
		ExpiresAt:       resp.Expiry,
		response:        resp,
		spec:            spec,
	}, nil
}

// WaitForDeviceLogin polls the token endpoint until the user approves,
// then persists the bundle and clears maintenance mode.
func (c *Center) WaitForDeviceLogin(ctx context.Context, prompt *DevicePrompt) error {
	token, err := oauthConfig(prompt.spec).DeviceAccessToken(ctx, prompt.response)
	if err != nil {
		return &providers.AuthError{Provider: prompt.spec.ID, Message: "device login failed", Cause: err}
	}

	bundle := bundleFromToken(token, "")
	if err := saveTokenBundle(c.cfg.StateDir, prompt.spec.ID, bundle); err != nil {
		return err
	}

	ps := c.providerState(prompt.spec.ID)
	ps.mu.Lock()
	ps.bundle = bundle
	ps.loaded = true
	ps.maintenance = false
	ps.mu.Unlock()

	c.logger.Info("device login complete", "provider", prompt.spec.ID)
	return nil
}

// Logout removes the persisted bundle for a provider.
func (c *Center) Logout(provider string) error {
	if err := removeTokenBundle(c.cfg.StateDir, provider); err != nil {
		return err
	}
	ps := c.providerState(provider)
	ps.mu.Lock()
	ps.bundle = nil
	ps.loaded = true
	ps.maintenance = false
	ps.mu.Unlock()
	return nil
}
