// Package qwen adapts Alibaba Qwen endpoints through DashScope's
// OpenAI-compatible mode. The wire shape is OpenAI's; only the family tag
// and finish-reason vocabulary differ.
package qwen

import (
	"mercator-hq/janus/pkg/protocol"
	"mercator-hq/janus/pkg/providers"
	"mercator-hq/janus/pkg/providers/openai"
)

// Client is the Qwen adapter.
type Client struct {
	*openai.Client
}

// NewClient creates a Qwen adapter.
func NewClient(cfg providers.ProviderConfig, creds providers.CredentialSource) (*Client, error) {
	inner, err := openai.NewCompatibleClient(cfg, creds, protocol.FamilyQwen)
	if err != nil {
		return nil, err
	}
	return &Client{Client: inner}, nil
}
