package claude

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/tidwall/sjson"

	"llmgate/internal/config"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/provider/upstream"
	"llmgate/internal/stream"
)

const (
	name         = "claude"
	displayName  = "Anthropic Claude"
	apiVersion   = "2023-06-01"
	messagesPath = "/v1/messages"
)

// Models maps canonical identifiers to Claude models.
var Models = provider.ModelMap{
	Aliases: map[string]string{
		"gpt-4":         "claude-3-5-sonnet-20241022",
		"gpt-4-turbo":   "claude-3-5-sonnet-20241022",
		"gpt-3.5-turbo": "claude-3-5-haiku-20241022",
	},
	Default: "claude-3-5-sonnet-20241022",
}

// Provider implements Anthropic Claude API interactions.
type Provider struct {
	client *upstream.Client
	models provider.ModelMap
}

// New constructs a Claude provider instance.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	headers := map[string]string{
		"x-api-key":         cfg.APIKey,
		"anthropic-version": apiVersion,
	}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	up, err := upstream.New(client, cfg.BaseURL, headers)
	if err != nil {
		return nil, fmt.Errorf("claude provider: %w", err)
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
	return p.models.List("anthropic"), nil
}

func (p *Provider) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	body, err := p.payload(req, false)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Post(ctx, messagesPath, body, upstream.AcceptJSON)
	if err != nil {
		return nil, fmt.Errorf("claude chat request failed: %w", err)
	}
	data, err := upstream.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var msg anthropic.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode claude response: %w", err)
	}
	return toCanonical(req.Model, &msg)
}

func (p *Provider) ChatStream(ctx context.Context, req *models.ChatRequest, sink stream.Sink) error {
	body, err := p.payload(req, true)
	if err != nil {
		return err
	}

	resp, err := p.client.Post(ctx, messagesPath, body, upstream.AcceptEventStream)
	if err != nil {
		return fmt.Errorf("claude stream request failed: %w", err)
	}
	defer resp.Body.Close()

	tr := stream.Translator{Provider: name, Framing: stream.FramingSSE, Decode: decodeEvent}
	_, err = tr.Run(ctx, resp.Body, stream.NewEmitter(sink, stream.NewMeta(req.Model)))
	return err
}

func (p *Provider) payload(req *models.ChatRequest, streaming bool) ([]byte, error) {
	params := buildParams(req, p.models.Resolve(req.Model))
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	if streaming {
		body, err = sjson.SetBytes(body, "stream", true)
		if err != nil {
			return nil, fmt.Errorf("mark payload as streaming: %w", err)
		}
	}
	return body, nil
}

func buildParams(req *models.ChatRequest, model string) anthropic.MessageNewParams {
	system, rest := provider.SplitPrompt(req.Messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(provider.MaxTokens(req, provider.DefaultMaxTokens)),
		Messages:  make([]anthropic.MessageParam, 0, len(rest)),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	for _, msg := range rest {
		blocks := contentBlocks(msg.Content)
		if provider.IsAssistant(msg.Role) {
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(blocks...))
		} else {
			params.Messages = append(params.Messages, anthropic.NewUserMessage(blocks...))
		}
	}
	return params
}

func contentBlocks(content models.Content) []anthropic.ContentBlockParamUnion {
	if !content.IsMultiPart() {
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(content.Text)}
	}

	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch {
		case part.Type == models.PartTypeText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case part.Type == models.PartTypeImageURL && part.ImageURL != nil:
			blocks = append(blocks, imageBlock(part.ImageURL.URL))
		}
	}
	return blocks
}

func imageBlock(url string) anthropic.ContentBlockParamUnion {
	if mime, data, err := provider.ParseDataURL(url); err == nil {
		return anthropic.NewImageBlockBase64(mime, base64.StdEncoding.EncodeToString(data))
	}
	return anthropic.ContentBlockParamUnion{
		OfImage: &anthropic.ImageBlockParam{
			Source: anthropic.ImageBlockParamSourceUnion{
				OfURL: &anthropic.URLImageSourceParam{URL: url},
			},
		},
	}
}

func toCanonical(model string, msg *anthropic.Message) (*models.ChatResponse, error) {
	if len(msg.Content) == 0 {
		return nil, fmt.Errorf("claude response missing content blocks: %w", provider.ErrEmptyResponse)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := models.NewUsage(int(msg.Usage.InputTokens), int(msg.Usage.OutputTokens), 0)
	return provider.NewResponse(msg.ID, model, text.String(), finishReason(msg.StopReason), usage), nil
}

func finishReason(reason anthropic.StopReason) string {
	return provider.FinishReason(reason == anthropic.StopReasonEndTurn || reason == anthropic.StopReasonStopSequence)
}
