package cohere

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"llmgate/internal/apierror"
	"llmgate/internal/config"
	"llmgate/internal/models"
	"llmgate/internal/provider"
	"llmgate/internal/stream/streamtest"
)

type captured struct {
	path   string
	header http.Header
	body   []byte
}

func newBackend(t *testing.T, status int, response string) (*Provider, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	p, err := New(config.ProviderConfig{APIKey: "co-key", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return p, got
}

func userRequest(model, text string) *models.ChatRequest {
	return &models.ChatRequest{
		Model:    model,
		Messages: []models.Message{{Role: models.RoleUser, Content: models.TextContent(text)}},
	}
}

func TestChat(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, `{
		"response_id":"r1","text":"Sure.","generation_id":"gen-1","finish_reason":"COMPLETE",
		"meta":{"api_version":{"version":"1"},"billed_units":{"input_tokens":12,"output_tokens":2},"tokens":{"input_tokens":12.0,"output_tokens":2.0}}}`)

	req := &models.ChatRequest{
		Model: "gpt-4",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: models.TextContent("You are terse.")},
			{Role: models.RoleUser, Content: models.TextContent("hi")},
			{Role: models.RoleAssistant, Content: models.TextContent("hello")},
			{Role: models.RoleUser, Content: models.TextContent("help me")},
		},
	}
	resp, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat", got.path)
	assert.Equal(t, "Bearer co-key", got.header.Get("Authorization"))

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "command-r-plus", body.Get("model").String())
	assert.Equal(t, "help me", body.Get("message").String())
	assert.Equal(t, "You are terse.", body.Get("preamble").String())
	assert.Equal(t, int64(4096), body.Get("max_tokens").Int())
	assert.False(t, body.Get("temperature").Exists())
	assert.False(t, body.Get("stream").Exists())
	assert.Equal(t, int64(2), body.Get("chat_history.#").Int())
	assert.Equal(t, "USER", body.Get("chat_history.0.role").String())
	assert.Equal(t, "hi", body.Get("chat_history.0.message").String())
	assert.Equal(t, "CHATBOT", body.Get("chat_history.1.role").String())

	assert.Equal(t, "gen-1", resp.ID)
	assert.Equal(t, "Sure.", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, models.Usage{PromptTokens: 12, CompletionTokens: 2, TotalTokens: 14}, resp.Usage)
}

func TestChat_SingleMessageAndParameters(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, `{"text":"","finish_reason":"MAX_TOKENS","meta":{"tokens":{"input_tokens":1,"output_tokens":3}}}`)

	temp := 0.0
	req := userRequest("gpt-3.5-turbo", "hi")
	req.Temperature = &temp

	resp, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "command-r", body.Get("model").String())
	assert.False(t, body.Get("chat_history").Exists())
	assert.False(t, body.Get("preamble").Exists())
	assert.True(t, body.Get("temperature").Exists())
	assert.Equal(t, "length", resp.Choices[0].FinishReason)
	assert.Equal(t, "", resp.Choices[0].Message.Content)
}

func TestChat_SystemOnlyBecomesPrompt(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, `{"text":"ok","finish_reason":"COMPLETE"}`)

	req := &models.ChatRequest{
		Model: "gpt-4",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: models.TextContent("Write a haiku.")},
		},
	}
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "Write a haiku.", body.Get("message").String())
	assert.False(t, body.Get("preamble").Exists())
	assert.False(t, body.Get("chat_history").Exists())
}

func TestChat_FlattensParts(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, `{"text":"ok","finish_reason":"COMPLETE"}`)

	req := &models.ChatRequest{
		Model: "gpt-4",
		Messages: []models.Message{{
			Role: models.RoleUser,
			Content: models.PartsContent(
				models.ContentPart{Type: models.PartTypeText, Text: "look "},
				models.ContentPart{Type: models.PartTypeImageURL, ImageURL: &models.ImageURL{URL: "https://example.com/x.png"}},
				models.ContentPart{Type: models.PartTypeText, Text: "here"},
			),
		}},
	}
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "look here", gjson.GetBytes(got.body, "message").String())
}

func TestChat_MissingText(t *testing.T) {
	p, _ := newBackend(t, http.StatusOK, `{"generation_id":"g","finish_reason":"ERROR"}`)

	_, err := p.Chat(context.Background(), userRequest("gpt-4", "hi"))
	assert.ErrorIs(t, err, provider.ErrEmptyResponse)
}

func TestChat_RateLimited(t *testing.T) {
	p, _ := newBackend(t, http.StatusTooManyRequests, `{"message":"You are using a Trial key, which is limited to 10 API calls / minute."}`)

	_, err := p.Chat(context.Background(), userRequest("gpt-4", "hi"))
	norm := apierror.Normalize(err, p.DisplayName())

	assert.Equal(t, apierror.TypeRateLimit, norm.Type)
	assert.Contains(t, norm.Message, "Trial key")
	assert.Equal(t, "Cohere", norm.Provider)
}

func TestChatStream(t *testing.T) {
	events := strings.Join([]string{
		`{"is_finished":false,"event_type":"stream-start","generation_id":"g-1"}`,
		`{"is_finished":false,"event_type":"text-generation","text":"Two"}`,
		``,
		`{"is_finished":false,"event_type":"text-generation","text":" words"}`,
		`{"is_finished":true,"event_type":"stream-end","finish_reason":"COMPLETE","response":{"text":"Two words"}}`,
		``,
	}, "\n")
	p, got := newBackend(t, http.StatusOK, events)

	rec := &streamtest.Recorder{}
	require.NoError(t, p.ChatStream(context.Background(), userRequest("gpt-4", "hi"), rec))

	assert.True(t, gjson.GetBytes(got.body, "stream").Bool())
	assert.Equal(t, "Two words", rec.Text())
	assert.Equal(t, []string{"stop"}, rec.FinishReasons())
	assert.Equal(t, 1, rec.DoneCount)
}

func TestChatStream_MaxTokensAndGarbage(t *testing.T) {
	events := "{\"event_type\":\"text-generation\",\"text\":\"a\"}\nnot json\n{\"event_type\":\"stream-end\",\"finish_reason\":\"MAX_TOKENS\"}\n"
	p, _ := newBackend(t, http.StatusOK, events)

	rec := &streamtest.Recorder{}
	require.NoError(t, p.ChatStream(context.Background(), userRequest("gpt-4", "hi"), rec))

	assert.Equal(t, "a", rec.Text())
	assert.Equal(t, []string{"length"}, rec.FinishReasons())
}
