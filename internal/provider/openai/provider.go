package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/tidwall/sjson"

	"llmgate/internal/config"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/provider/upstream"
	"llmgate/internal/stream"
)

const chatPath = "/chat/completions"

// Spec describes one OpenAI-compatible backend.
type Spec struct {
	Name        string
	DisplayName string
	OwnedBy     string
	Models      provider.ModelMap
}

// Backends served by this adapter.
var (
	OpenAI = Spec{
		Name:        "openai",
		DisplayName: "OpenAI",
		OwnedBy:     "openai",
		Models:      provider.ModelMap{Default: "gpt-4o", Passthrough: true},
	}
	XAI = Spec{
		Name:        "xai",
		DisplayName: "xAI Grok",
		OwnedBy:     "xai",
		Models: provider.ModelMap{
			Aliases: map[string]string{
				"gpt-4":         "grok-beta",
				"gpt-4-turbo":   "grok-beta",
				"gpt-3.5-turbo": "grok-beta",
			},
			Default: "grok-beta",
		},
	}
	Mistral = Spec{
		Name:        "mistral",
		DisplayName: "Mistral AI",
		OwnedBy:     "mistralai",
		Models: provider.ModelMap{
			Aliases: map[string]string{
				"gpt-4":         "mistral-large-latest",
				"gpt-4-turbo":   "mistral-large-latest",
				"gpt-3.5-turbo": "mistral-small-latest",
			},
			Default: "mistral-large-latest",
		},
	}
	Perplexity = Spec{
		Name:        "perplexity",
		DisplayName: "Perplexity",
		OwnedBy:     "perplexity",
		Models: provider.ModelMap{
			Aliases: map[string]string{
				"gpt-4":         "llama-3.1-sonar-large-128k-online",
				"gpt-4-turbo":   "llama-3.1-sonar-large-128k-online",
				"gpt-3.5-turbo": "llama-3.1-sonar-small-128k-online",
			},
			Default: "llama-3.1-sonar-large-128k-online",
		},
	}
)

// Provider implements the Provider interface for OpenAI-compatible APIs.
type Provider struct {
	spec   Spec
	client *upstream.Client
	models provider.ModelMap
}

// New creates a provider for spec.
func New(spec Spec, cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	headers := map[string]string{}
	if cfg.APIKey != "" {
		headers["Authorization"] = "Bearer " + cfg.APIKey
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	up, err := upstream.New(client, cfg.BaseURL, headers)
	if err != nil {
		return nil, fmt.Errorf("%s provider: %w", spec.Name, err)
	}

	return &Provider{
		spec:   spec,
		client: up,
		models: spec.Models.WithOverrides(cfg.Aliases, cfg.DefaultModel),
	}, nil
}

// NewOpenAI creates the OpenAI adapter.
func NewOpenAI(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	return New(OpenAI, cfg, client)
}

// NewXAI creates the xAI Grok adapter.
func NewXAI(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	return New(XAI, cfg, client)
}

// NewMistral creates the Mistral AI adapter.
func NewMistral(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	return New(Mistral, cfg, client)
}

// NewPerplexity creates the Perplexity adapter.
func NewPerplexity(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	return New(Perplexity, cfg, client)
}

func (p *Provider) Name() string {
	return p.spec.Name
}

func (p *Provider) DisplayName() string {
	return p.spec.DisplayName
}

func (p *Provider) ListModels(ctx context.Context) ([]models.Model, error) {
	return p.models.List(p.spec.OwnedBy), nil
}

func (p *Provider) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	body, err := p.payload(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Post(ctx, chatPath, body, upstream.AcceptJSON)
	if err != nil {
		return nil, fmt.Errorf("%s chat request failed: %w", p.spec.Name, err)
	}
	data, err := upstream.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var out goopenai.ChatCompletionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.spec.Name, err)
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%s response has no choices: %w", p.spec.Name, provider.ErrEmptyResponse)
	}

	choice := out.Choices[0]
	usage := models.NewUsage(out.Usage.PromptTokens, out.Usage.CompletionTokens, out.Usage.TotalTokens)
	return provider.NewResponse(out.ID, req.Model, messageText(choice.Message), finishReason(choice.FinishReason), usage), nil
}

func (p *Provider) ChatStream(ctx context.Context, req *models.ChatRequest, sink stream.Sink) error {
	body, err := p.payload(req, true)
	if err != nil {
		return err
	}

	resp, err := p.client.Post(ctx, chatPath, body, upstream.AcceptEventStream)
	if err != nil {
		return fmt.Errorf("%s stream request failed: %w", p.spec.Name, err)
	}
	defer resp.Body.Close()

	tr := stream.Translator{Provider: p.spec.Name, Framing: stream.FramingSSE, Decode: decodeChunk}
	_, err = tr.Run(ctx, resp.Body, stream.NewEmitter(sink, stream.NewMeta(req.Model)))
	return err
}

// payload marshals the go-openai request. Temperature is written separately
// because the typed field is float32 with omitempty and would drop an explicit 0.
func (p *Provider) payload(req *models.ChatRequest, streaming bool) ([]byte, error) {
	out := goopenai.ChatCompletionRequest{
		Model:     p.models.Resolve(req.Model),
		Messages:  make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)),
		MaxTokens: provider.MaxTokens(req, provider.DefaultMaxTokens),
		Stream:    streaming,
	}
	for _, msg := range req.Messages {
		out.Messages = append(out.Messages, toMessage(msg))
	}

	body, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	body, err = keepEmptyContent(body, req.Messages, out.Messages)
	if err != nil {
		return nil, err
	}
	if req.Temperature != nil {
		body, err = sjson.SetBytes(body, "temperature", *req.Temperature)
		if err != nil {
			return nil, fmt.Errorf("set temperature: %w", err)
		}
	}
	return body, nil
}

// keepEmptyContent writes back the content of messages whose text or part
// list is empty, since go-openai omits both and backends reject a missing content.
func keepEmptyContent(body []byte, in []models.Message, out []goopenai.ChatCompletionMessage) ([]byte, error) {
	var err error
	for i, msg := range out {
		if msg.Content != "" || len(msg.MultiContent) > 0 {
			continue
		}
		path := fmt.Sprintf("messages.%d.content", i)
		if in[i].Content.IsMultiPart() {
			body, err = sjson.SetRawBytes(body, path, []byte("[]"))
		} else {
			body, err = sjson.SetBytes(body, path, "")
		}
		if err != nil {
			return nil, fmt.Errorf("set empty content: %w", err)
		}
	}
	return body, nil
}

func toMessage(msg models.Message) goopenai.ChatCompletionMessage {
	out := goopenai.ChatCompletionMessage{Role: msg.Role}
	if !msg.Content.IsMultiPart() {
		out.Content = msg.Content.Text
		return out
	}

	out.MultiContent = make([]goopenai.ChatMessagePart, 0, len(msg.Content.Parts))
	for _, part := range msg.Content.Parts {
		switch {
		case part.Type == models.PartTypeText:
			out.MultiContent = append(out.MultiContent, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeText,
				Text: part.Text,
			})
		case part.Type == models.PartTypeImageURL && part.ImageURL != nil:
			out.MultiContent = append(out.MultiContent, goopenai.ChatMessagePart{
				Type: goopenai.ChatMessagePartTypeImageURL,
				ImageURL: &goopenai.ChatMessageImageURL{
					URL:    part.ImageURL.URL,
					Detail: goopenai.ImageURLDetail(part.ImageURL.Detail),
				},
			})
		}
	}
	if len(out.MultiContent) == 0 {
		out.MultiContent = nil
	}
	return out
}

func messageText(msg goopenai.ChatCompletionMessage) string {
	if msg.Content != "" || len(msg.MultiContent) == 0 {
		return msg.Content
	}
	var text string
	for _, part := range msg.MultiContent {
		if part.Type == goopenai.ChatMessagePartTypeText {
			text += part.Text
		}
	}
	return text
}

func finishReason(reason goopenai.FinishReason) string {
	return provider.FinishReason(reason == goopenai.FinishReasonStop)
}
