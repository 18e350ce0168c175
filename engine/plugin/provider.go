package plugin

import (
	"context"

	"github.com/pluginmind/pluginmind/engine/registry"
	"github.com/pluginmind/pluginmind/pkg/config"
	"github.com/pluginmind/pluginmind/pkg/logger"
)

const healthPrompt = "ping"

// Provider adapts one chat-completion endpoint to the registry service
// contract. All providers share the Client; only endpoint, key, model, and
// descriptor differ.
type Provider struct {
	client     *Client
	cfg        config.ProviderConfig
	descriptor registry.Descriptor
}

// NewOpenAI builds the OpenAI plugin. It serves both pipeline stages and is
// the fallback analyzer behind Grok.
func NewOpenAI(client *Client, cfg config.ProviderConfig) *Provider {
	return &Provider{
		client: client,
		cfg:    cfg,
		descriptor: registry.Descriptor{
			ID:           "openai_service",
			Provider:     "openai",
			Model:        cfg.Model,
			ServiceTypes: []string{registry.TypePromptOptimizer, registry.TypeAnalyzer},
			Capabilities: []string{"document", "chat", "seo", "custom"},
			Priority:     2,
			Available:    true,
		},
	}
}

// NewGrok builds the xAI Grok plugin, the preferred analyzer.
func NewGrok(client *Client, cfg config.ProviderConfig) *Provider {
	return &Provider{
		client: client,
		cfg:    cfg,
		descriptor: registry.Descriptor{
			ID:           "grok_service",
			Provider:     "xai",
			Model:        cfg.Model,
			ServiceTypes: []string{registry.TypeAnalyzer},
			Capabilities: []string{"crypto", "chat", "custom"},
			Priority:     1,
			Available:    true,
		},
	}
}

// Invoke sends one prompt through the provider's chat-completion endpoint.
func (p *Provider) Invoke(ctx context.Context, prompt string, opts registry.InvokeOptions) (*registry.Result, error) {
	return p.client.Chat(ctx, p.cfg.APIURL, p.cfg.APIKey.Value(), p.cfg.Model, prompt, opts)
}

// Health probes the provider with a minimal one-token completion. Any error
// counts as unhealthy; the probe context bounds the call.
func (p *Provider) Health(ctx context.Context) bool {
	_, err := p.client.Chat(ctx, p.cfg.APIURL, p.cfg.APIKey.Value(), p.cfg.Model, healthPrompt,
		registry.InvokeOptions{MaxTokens: 1})
	if err != nil {
		logger.FromContext(ctx).Debug("Provider health probe failed",
			"provider", p.descriptor.ID, "error", err)
		return false
	}
	return true
}

// Capabilities returns the analysis types this provider advertises.
func (p *Provider) Capabilities() []string {
	return p.descriptor.Capabilities
}

// Metadata returns the registry descriptor for this provider.
func (p *Provider) Metadata() registry.Descriptor {
	return p.descriptor
}
