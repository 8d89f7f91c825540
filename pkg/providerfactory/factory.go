// Package providerfactory builds provider adapters from configuration and
// assembles the provider registry.
package providerfactory

import (
	"fmt"
	"log/slog"

	"mercator-hq/janus/pkg/config"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/providers/anthropic"
	"mercator-hq/janus/pkg/providers/openai"
	"mercator-hq/janus/pkg/providers/qwen"
)

// NewProvider creates the adapter for one configured provider based on its
// protocol family.
func NewProvider(spec *config.ProviderSpec, creds providers.CredentialSource) (providers.Provider, error) {
	cfg := adapterConfig(spec)

	switch spec.Family {
	case "openai":
		return openai.NewClient(cfg, creds)
	case "anthropic":
		return anthropic.NewClient(cfg, creds)
	case "qwen":
		return qwen.NewClient(cfg, creds)
	default:
		return nil, &providers.ConfigError{
			Provider: spec.ID,
			Field:    "family",
			Message:  fmt.Sprintf("unknown protocol family %q", spec.Family),
		}
	}
}

// BuildRegistry instantiates every configured provider.
func BuildRegistry(snapshot *config.Snapshot, creds providers.CredentialSource) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	for _, spec := range snapshot.Providers {
		p, err := NewProvider(spec, creds)
		if err != nil {
			registry.Close()
			return nil, err
		}
		registry.Register(p)
		slog.Debug("provider registered",
			"provider", spec.ID,
			"family", spec.Family,
			"base_url", spec.BaseURL,
		)
	}
	return registry, nil
}

func adapterConfig(spec *config.ProviderSpec) providers.ProviderConfig {
	timeout := spec.Timeout
	if timeout <= 0 {
		timeout = config.DefaultProviderTimeout
	}
	return providers.ProviderConfig{
		Name:                spec.ID,
		Family:              spec.Family,
		BaseURL:             spec.BaseURL,
		AuthScheme:          providers.AuthScheme(spec.Auth.Scheme),
		APIKey:              spec.Auth.APIKey,
		SupportsStreaming:   spec.SupportsStreaming,
		MaxTokensLimit:      spec.MaxTokensLimit,
		HealthPath:          spec.HealthPath,
		Timeout:             timeout,
		MaxIdleConns:        spec.MaxIdleConns,
		MaxIdleConnsPerHost: spec.MaxIdleConnsPerHost,
		IdleConnTimeout:     spec.IdleConnTimeout,
	}
}
