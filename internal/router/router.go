package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"llmgate/internal/apierror"
	"llmgate/internal/metrics"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/stream"
)

const (
	modeSync   = "sync"
	modeStream = "stream"
)

// Router dispatches canonical requests to the active provider.
type Router struct {
	active provider.Provider
}

// New selects the active provider once. Unknown names fall back to the registry default.
func New(registry *provider.Registry, name string) (*Router, error) {
	if registry == nil {
		return nil, errors.New("registry must not be nil")
	}
	p, err := registry.Select(name)
	if err != nil {
		return nil, fmt.Errorf("select provider %q: %w", name, err)
	}
	return &Router{active: p}, nil
}

// Provider returns the active provider.
func (r *Router) Provider() provider.Provider {
	return r.active
}

// Models lists the canonical model identifiers the active provider answers to.
func (r *Router) Models(ctx context.Context) (models.ModelList, error) {
	list, err := r.active.ListModels(ctx)
	if err != nil {
		return models.ModelList{}, apierror.Normalize(err, r.active.DisplayName())
	}
	if list == nil {
		list = []models.Model{}
	}
	return models.ModelList{Object: models.ObjectList, Data: list}, nil
}

// Chat routes a chat completion request to the active provider.
// Failures are returned as *apierror.Error.
func (r *Router) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	p := r.active
	sanitisedReq := cloneRequest(req)

	slog.Info("provider call", "provider", p.Name(), "model", req.Model, "stream", false)
	start := time.Now()
	resp, err := p.Chat(ctx, sanitisedReq)
	metrics.ProviderLatency.WithLabelValues(p.Name(), modeSync).Observe(time.Since(start).Seconds())

	if err == nil && resp == nil {
		err = provider.ErrEmptyResponse
	}
	if err != nil {
		return nil, r.fail(modeSync, req.Model, err)
	}

	metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), modeSync, "ok").Inc()
	metrics.ProviderTokensTotal.WithLabelValues(p.Name(), "prompt").Add(float64(resp.Usage.PromptTokens))
	metrics.ProviderTokensTotal.WithLabelValues(p.Name(), "completion").Add(float64(resp.Usage.CompletionTokens))
	return resp, nil
}

// ChatStream routes a streaming request to the active provider.
// Failures are returned as *apierror.Error.
func (r *Router) ChatStream(ctx context.Context, req *models.ChatRequest, sink stream.Sink) error {
	p := r.active
	sanitisedReq := cloneRequest(req)
	sanitisedReq.Stream = true

	slog.Info("provider call", "provider", p.Name(), "model", req.Model, "stream", true)
	start := time.Now()
	err := p.ChatStream(ctx, sanitisedReq, sink)
	metrics.ProviderLatency.WithLabelValues(p.Name(), modeStream).Observe(time.Since(start).Seconds())

	if err != nil {
		return r.fail(modeStream, req.Model, err)
	}
	metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), modeStream, "ok").Inc()
	return nil
}

func (r *Router) fail(mode, model string, err error) *apierror.Error {
	p := r.active
	outcome := "error"
	if errors.Is(err, context.Canceled) {
		outcome = "canceled"
	}
	metrics.ProviderRequestsTotal.WithLabelValues(p.Name(), mode, outcome).Inc()

	norm := apierror.Normalize(err, p.DisplayName())
	slog.Error("provider call failed",
		"provider", p.Name(),
		"model", model,
		"mode", mode,
		"status", norm.Status,
		"type", norm.Type,
		"error", err.Error(),
	)
	return norm
}

func cloneRequest(req *models.ChatRequest) *models.ChatRequest {
	out := *req
	out.Messages = make([]models.Message, len(req.Messages))
	copy(out.Messages, req.Messages)
	return &out
}
