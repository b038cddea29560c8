package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"llmgate/internal/metrics"
	"llmgate/internal/models"
	"llmgate/internal/stream"
)

// DefaultProvider is selected when a configured name matches nothing.
const DefaultProvider = "claude"

// ErrUnknownProvider indicates the requested backend is not registered.
var ErrUnknownProvider = errors.New("unknown provider")

// ErrEmptyResponse indicates the backend answered without the fields a response needs.
var ErrEmptyResponse = errors.New("backend returned an empty response")

// Provider defines the behaviour required to serve canonical chat requests.
type Provider interface {
	// Name is the registry key, e.g. "claude".
	Name() string
	// DisplayName is the human readable backend name used in errors.
	DisplayName() string
	ListModels(ctx context.Context) ([]models.Model, error)
	Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error)
	// ChatStream writes canonical chunks to sink. It returns an error without
	// writing anything when the backend rejects the request.
	ChatStream(ctx context.Context, req *models.ChatRequest, sink stream.Sink) error
}

// Registry maintains a mapping of backend names and aliases to providers.
type Registry struct {
	mu       sync.RWMutex
	byName   map[string]Provider
	fallback string
}

// NewRegistry constructs an empty provider registry that falls back to DefaultProvider.
func NewRegistry() *Registry {
	return &Registry{
		byName:   make(map[string]Provider),
		fallback: DefaultProvider,
	}
}

// Register adds the provider under its name and any extra aliases.
func (r *Registry) Register(p Provider, aliases ...string) error {
	if p == nil {
		return errors.New("provider must not be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	keys := append([]string{p.Name()}, aliases...)
	for _, key := range keys {
		key = normalizeKey(key)
		if key == "" {
			return fmt.Errorf("provider %q: alias must not be empty", p.Name())
		}
		if existing, exists := r.byName[key]; exists {
			return fmt.Errorf("alias %q already registered by provider %q", key, existing.Name())
		}
	}
	for _, key := range keys {
		r.byName[normalizeKey(key)] = p
	}
	return nil
}

// Lookup returns the provider registered under name or alias.
func (r *Registry) Lookup(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.byName[normalizeKey(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return p, nil
}

// Select resolves name case-insensitively. Unknown names fall back to the
// default provider, which is logged and counted.
func (r *Registry) Select(name string) (Provider, error) {
	p, err := r.Lookup(name)
	if err == nil {
		return p, nil
	}

	fallback, fbErr := r.Lookup(r.fallback)
	if fbErr != nil {
		return nil, err
	}
	slog.Warn("unknown provider, using fallback", "requested", name, "fallback", fallback.Name())
	metrics.ProviderFallbackTotal.Inc()
	return fallback, nil
}

// Names lists the distinct registered backend names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{}, len(r.byName))
	names := make([]string, 0, len(r.byName))
	for _, p := range r.byName {
		if _, ok := seen[p.Name()]; ok {
			continue
		}
		seen[p.Name()] = struct{}{}
		names = append(names, p.Name())
	}
	sort.Strings(names)
	return names
}

func normalizeKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
