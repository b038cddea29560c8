package provider_test

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmgate/internal/metrics"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/stream"
)

type stubProvider struct {
	name string
}

func (s stubProvider) Name() string        { return s.name }
func (s stubProvider) DisplayName() string { return "Stub " + s.name }

func (s stubProvider) ListModels(context.Context) ([]models.Model, error) {
	return nil, nil
}

func (s stubProvider) Chat(context.Context, *models.ChatRequest) (*models.ChatResponse, error) {
	return nil, nil
}

func (s stubProvider) ChatStream(context.Context, *models.ChatRequest, stream.Sink) error {
	return nil
}

func newRegistry(t *testing.T) *provider.Registry {
	t.Helper()
	r := provider.NewRegistry()
	require.NoError(t, r.Register(stubProvider{"claude"}, "anthropic"))
	require.NoError(t, r.Register(stubProvider{"gemini"}, "google"))
	require.NoError(t, r.Register(stubProvider{"xai"}, "grok"))
	return r
}

func TestRegistry_SelectCaseInsensitive(t *testing.T) {
	r := newRegistry(t)

	for name, want := range map[string]string{
		"claude":    "claude",
		"Anthropic": "claude",
		" GOOGLE ":  "gemini",
		"gemini":    "gemini",
		"Grok":      "xai",
		"XAI":       "xai",
	} {
		p, err := r.Select(name)
		require.NoError(t, err)
		assert.Equal(t, want, p.Name(), name)
	}
}

func TestRegistry_UnknownFallsBackToClaude(t *testing.T) {
	r := newRegistry(t)
	before := testutil.ToFloat64(metrics.ProviderFallbackTotal)

	p, err := r.Select("llama-local")

	require.NoError(t, err)
	assert.Equal(t, "claude", p.Name())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ProviderFallbackTotal))
}

func TestRegistry_LookupUnknown(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Lookup("mistral")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestRegistry_NoFallbackRegistered(t *testing.T) {
	r := provider.NewRegistry()
	require.NoError(t, r.Register(stubProvider{"openai"}))

	_, err := r.Select("nope")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestRegistry_DuplicateAlias(t *testing.T) {
	r := newRegistry(t)

	err := r.Register(stubProvider{"other"}, "Google")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "google")

	_, err = r.Lookup("other")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider, "failed registration must not be partial")
}

func TestRegistry_RejectsNil(t *testing.T) {
	assert.Error(t, provider.NewRegistry().Register(nil))
}

func TestRegistry_Names(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, []string{"claude", "gemini", "xai"}, r.Names())
}
