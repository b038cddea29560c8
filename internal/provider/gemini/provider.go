package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"

	"google.golang.org/genai"

	"llmgate/internal/config"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/provider/upstream"
	"llmgate/internal/stream"
)

const (
	name        = "gemini"
	displayName = "Google Gemini"
	apiPrefix   = "/v1beta/models/"
)

// Models maps canonical identifiers to Gemini models.
var Models = provider.ModelMap{
	Aliases: map[string]string{
		"gpt-4":         "gemini-3-pro-preview",
		"gpt-4-turbo":   "gemini-3-flash-preview",
		"gpt-3.5-turbo": "gemini-2.5-flash",
	},
	Default: "gemini-3-pro-preview",
}

// Provider implements the Gemini generateContent API.
type Provider struct {
	client *upstream.Client
	models provider.ModelMap
}

// New constructs a Gemini provider. The key travels in x-goog-api-key rather than the query string.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	headers := map[string]string{"x-goog-api-key": cfg.APIKey}
	for k, v := range cfg.Headers {
		headers[k] = v
	}

	up, err := upstream.New(client, cfg.BaseURL, headers)
	if err != nil {
		return nil, fmt.Errorf("gemini provider: %w", err)
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
	return p.models.List("google"), nil
}

// generateRequest is the REST body; genai keeps these fields on separate call arguments.
type generateRequest struct {
	Contents          []*genai.Content        `json:"contents"`
	SystemInstruction *genai.Content          `json:"systemInstruction,omitempty"`
	GenerationConfig  *genai.GenerationConfig `json:"generationConfig,omitempty"`
}

func (p *Provider) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := p.client.Post(ctx, p.endpoint(req.Model, "generateContent"), body, upstream.AcceptJSON)
	if err != nil {
		return nil, fmt.Errorf("gemini generate request failed: %w", err)
	}
	data, err := upstream.ReadBody(resp)
	if err != nil {
		return nil, err
	}

	var out genai.GenerateContentResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(out.Candidates) == 0 || out.Candidates[0] == nil {
		return nil, fmt.Errorf("gemini response has no candidates: %w", provider.ErrEmptyResponse)
	}

	candidate := out.Candidates[0]
	var usage models.Usage
	if meta := out.UsageMetadata; meta != nil {
		usage = models.NewUsage(int(meta.PromptTokenCount), int(meta.CandidatesTokenCount), int(meta.TotalTokenCount))
	}
	return provider.NewResponse(out.ResponseID, req.Model, candidateText(candidate), finishReason(candidate.FinishReason), usage), nil
}

func (p *Provider) ChatStream(ctx context.Context, req *models.ChatRequest, sink stream.Sink) error {
	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	resp, err := p.client.Post(ctx, p.endpoint(req.Model, "streamGenerateContent")+"?alt=sse", body, upstream.AcceptEventStream)
	if err != nil {
		return fmt.Errorf("gemini stream request failed: %w", err)
	}
	defer resp.Body.Close()

	tr := stream.Translator{Provider: name, Framing: stream.FramingSSE, Decode: decodeChunk}
	_, err = tr.Run(ctx, resp.Body, stream.NewEmitter(sink, stream.NewMeta(req.Model)))
	return err
}

func (p *Provider) endpoint(model, method string) string {
	return apiPrefix + url.PathEscape(p.models.Resolve(model)) + ":" + method
}

func buildRequest(req *models.ChatRequest) generateRequest {
	system, rest := provider.SplitPrompt(req.Messages)

	cfg := &genai.GenerationConfig{
		MaxOutputTokens: int32(provider.MaxTokens(req, provider.DefaultGeminiMaxTokens)),
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		cfg.Temperature = &t
	}

	out := generateRequest{
		Contents:         make([]*genai.Content, 0, len(rest)),
		GenerationConfig: cfg,
	}
	if system != "" {
		out.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	for _, msg := range rest {
		var role genai.Role = genai.RoleUser
		if provider.IsAssistant(msg.Role) {
			role = genai.RoleModel
		}
		out.Contents = append(out.Contents, genai.NewContentFromParts(parts(msg.Content), role))
	}
	return out
}

func parts(content models.Content) []*genai.Part {
	if !content.IsMultiPart() {
		return []*genai.Part{genai.NewPartFromText(content.Text)}
	}

	out := make([]*genai.Part, 0, len(content.Parts))
	for _, part := range content.Parts {
		switch {
		case part.Type == models.PartTypeText:
			out = append(out, genai.NewPartFromText(part.Text))
		case part.Type == models.PartTypeImageURL && part.ImageURL != nil:
			out = append(out, imagePart(part.ImageURL.URL))
		}
	}
	if len(out) == 0 {
		out = append(out, genai.NewPartFromText(""))
	}
	return out
}

func imagePart(uri string) *genai.Part {
	if mimeType, data, err := provider.ParseDataURL(uri); err == nil {
		return genai.NewPartFromBytes(data, mimeType)
	}
	return genai.NewPartFromURI(uri, guessMIME(uri))
}

func guessMIME(uri string) string {
	if u, err := url.Parse(uri); err == nil {
		if t := mime.TypeByExtension(strings.ToLower(path.Ext(u.Path))); t != "" {
			return t
		}
	}
	return "image/jpeg"
}

func candidateText(c *genai.Candidate) string {
	if c.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range c.Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func finishReason(reason genai.FinishReason) string {
	return provider.FinishReason(reason == genai.FinishReasonStop)
}
