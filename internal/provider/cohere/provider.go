package cohere

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"llmgate/internal/config"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/provider/upstream"
	"llmgate/internal/stream"
)

const (
	name        = "cohere"
	displayName = "Cohere"
	chatPath    = "/v1/chat"

	roleUser    = "USER"
	roleChatbot = "CHATBOT"

	finishComplete = "COMPLETE"
)

// Models maps canonical identifiers to Cohere models.
var Models = provider.ModelMap{
	Aliases: map[string]string{
		"gpt-4":         "command-r-plus",
		"gpt-4-turbo":   "command-r-plus",
		"gpt-3.5-turbo": "command-r",
	},
	Default: "command-r-plus",
}

// Provider implements the Cohere v1 chat API.
type Provider struct {
	client *upstream.Client
	models provider.ModelMap
}

// New constructs a Cohere provider.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	up, err := upstream.New(client, cfg.BaseURL, headers)
	if err != nil {
		return nil, fmt.Errorf("cohere provider: %w", err)
	}

	return &Provider{
		client: up,
		models: Models.WithOverrides(cfg.Aliases, cfg.DefaultModel),
	}, nil
}

func (p *Provider) Name() string {
	return name
}

func (p *Provider) DisplayName() string {
	return displayName
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	return p.models.List("cohere"), nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Message     string        `json:"message"`
	ChatHistory []chatMessage `json:"chat_history,omitempty"`
	Preamble    string        `json:"preamble,omitempty"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Message string `json:"message"`
}

type chatResponse struct {
	Text         *string `json:"text"`
	GenerationID string  `json:"generation_id"`
	FinishReason string  `json:"finish_reason"`
	Meta         struct {
		Tokens tokenCounts `json:"tokens"`
	} `json:"meta"`
}

// tokenCounts are floats on the wire.
type tokenCounts struct {
	InputTokens  float64 `json:"input_tokens"`
	OutputTokens float64 `json:"output_tokens"`
}

func (p *Provider) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	body, err := json.Marshal(p.buildRequest(req, false))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := p.client.Post(ctx, chatPath, body, upstream.AcceptJSON)
	if err != nil {
		return nil, fmt.Errorf("cohere chat request failed: %w", err)
	}
	data, err := upstream.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode cohere response: %w", err)
	}
	if out.Text == nil {
		return nil, fmt.Errorf("cohere response has no text: %w", provider.ErrEmptyResponse)
	}

	usage := models.NewUsage(int(out.Meta.Tokens.InputTokens), int(out.Meta.Tokens.OutputTokens), 0)
	return provider.NewResponse(out.GenerationID, req.Model, *out.Text, finishReason(out.FinishReason), usage), nil
}

func (p *Provider) ChatStream(ctx context.Context, req *models.ChatRequest, sink stream.Sink) error {
	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := p.client.Post(ctx, chatPath, body, upstream.AcceptJSON)
	if err != nil {
		return fmt.Errorf("cohere stream request failed: %w", err)
	}
	defer resp.Body.Close()

	tr := stream.Translator{Provider: name, Framing: stream.FramingNDJSON, Decode: decodeEvent}
	_, err = tr.Run(ctx, resp.Body, stream.NewEmitter(sink, stream.NewMeta(req.Model)))
	return err
}

// buildRequest sends the last message as the prompt and everything before it as history.
// Image parts are dropped since the v1 chat API is text only.
func (p *Provider) buildRequest(req *models.ChatRequest, streaming bool) chatRequest {
	preamble, rest := provider.SplitPrompt(req.Messages)

	out := chatRequest{
		Model:       p.models.Resolve(req.Model),
		Preamble:    preamble,
		MaxTokens:   provider.MaxTokens(req, provider.DefaultMaxTokens),
		Temperature: req.Temperature,
		Stream:      streaming,
	}
	if len(rest) == 0 {
		return out
	}

	last := rest[len(rest)-1]
	out.Message = last.Content.PlainText()
	for _, msg := range rest[:len(rest)-1] {
		role := roleUser
		if provider.IsAssistant(msg.Role) {
			role = roleChatbot
		}
		out.ChatHistory = append(out.ChatHistory, chatMessage{Role: role, Message: msg.Content.PlainText()})
	}
	return out
}

func finishReason(reason string) string {
	return provider.FinishReason(reason == finishComplete)
}
