package factory

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"llmgate/internal/config"
	"llmgate/internal/provider"
	claudeProvider "llmgate/internal/provider/claude"
	cohereProvider "llmgate/internal/provider/cohere"
	geminiProvider "llmgate/internal/provider/gemini"
	openaiProvider "llmgate/internal/provider/openai"
)

const (
	defaultHTTPTimeout     = 120 * time.Second
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
)

type constructor func(config.ProviderConfig, *http.Client) (provider.Provider, error)

type entry struct {
	name    string
	aliases []string
	build   constructor
}

func wrap[P provider.Provider](fn func(config.ProviderConfig, *http.Client) (P, error)) constructor {
	return func(cfg config.ProviderConfig, client *http.Client) (provider.Provider, error) {
		p, err := fn(cfg, client)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

var entries = []entry{
	{config.ProviderClaude, []string{"anthropic"}, wrap(claudeProvider.New)},
	{config.ProviderOpenAI, nil, wrap(openaiProvider.NewOpenAI)},
	{config.ProviderGemini, []string{"google"}, wrap(geminiProvider.New)},
	{config.ProviderXAI, []string{"grok"}, wrap(openaiProvider.NewXAI)},
	{config.ProviderMistral, nil, wrap(openaiProvider.NewMistral)},
	{config.ProviderCohere, nil, wrap(cohereProvider.New)},
	{config.ProviderPerplexity, nil, wrap(openaiProvider.NewPerplexity)},
}

// RegisterConfiguredProviders constructs every backend from configuration and stores it in the registry.
// Backends share one tuned HTTP client whose timeout is the configured request timeout.
func RegisterConfiguredProviders(cfg config.Config, registry *provider.Registry) error {
	if registry == nil {
		return errors.New("registry must not be nil")
	}

	timeout := cfg.Server.RequestTimeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := newHTTPClient(timeout)

	byName := cfg.Providers.ByName()
	for _, e := range entries {
		p, err := e.build(byName[e.name], client)
		if err != nil {
			return fmt.Errorf("initialise %s provider: %w", e.name, err)
		}
		if err := registry.Register(p, e.aliases...); err != nil {
			return fmt.Errorf("register %s provider: %w", e.name, err)
		}
		slog.Debug("registered provider", "provider", e.name, "base_url", byName[e.name].BaseURL)
	}

	return nil
}

func newHTTPClient(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
