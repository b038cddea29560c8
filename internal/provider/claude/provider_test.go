package claude

import (
	"context"
	"errors"
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

func newBackend(t *testing.T, status int, contentType, response string) (*Provider, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.path = r.URL.Path
		got.header = r.Header.Clone()
		got.body, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)

	p, err := New(config.ProviderConfig{APIKey: "sk-ant-test", BaseURL: srv.URL, Headers: config.Headers{"X-Trace": "1"}}, srv.Client())
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
	p, got := newBackend(t, http.StatusOK, "application/json", `{
		"id":"msg_01","type":"message","role":"assistant","model":"claude-3-5-sonnet-20241022",
		"content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],
		"stop_reason":"end_turn","usage":{"input_tokens":10,"output_tokens":3}}`)

	req := &models.ChatRequest{
		Model: "gpt-4",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: models.TextContent("Be brief.")},
			{Role: models.RoleUser, Content: models.TextContent("hi")},
			{Role: models.RoleAssistant, Content: models.TextContent("hello")},
			{Role: models.RoleSystem, Content: models.TextContent("No emoji.")},
			{Role: models.RoleUser, Content: models.TextContent("how are you")},
		},
	}

	resp, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", got.path)
	assert.Equal(t, "sk-ant-test", got.header.Get("x-api-key"))
	assert.Equal(t, "2023-06-01", got.header.Get("anthropic-version"))
	assert.Equal(t, "1", got.header.Get("X-Trace"))

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "claude-3-5-sonnet-20241022", body.Get("model").String())
	assert.Equal(t, int64(4096), body.Get("max_tokens").Int())
	assert.Equal(t, "Be brief.\nNo emoji.", body.Get("system.0.text").String())
	assert.False(t, body.Get("temperature").Exists())
	assert.False(t, body.Get("stream").Exists())
	assert.Equal(t, int64(3), body.Get("messages.#").Int())
	assert.Equal(t, "user", body.Get("messages.0.role").String())
	assert.Equal(t, "hi", body.Get("messages.0.content.0.text").String())
	assert.Equal(t, "assistant", body.Get("messages.1.role").String())

	assert.Equal(t, "msg_01", resp.ID)
	assert.Equal(t, models.ObjectChatCompletion, resp.Object)
	assert.Equal(t, "gpt-4", resp.Model)
	require.Len(t, resp.Choices, 1)
	assert.Equal(t, models.RoleAssistant, resp.Choices[0].Message.Role)
	assert.Equal(t, "Hello there", resp.Choices[0].Message.Content)
	assert.Equal(t, "stop", resp.Choices[0].FinishReason)
	assert.Equal(t, models.Usage{PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13}, resp.Usage)
}

func TestChat_ParametersAndLength(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, "application/json",
		`{"id":"msg_02","content":[{"type":"text","text":"cut"}],"stop_reason":"max_tokens","usage":{"input_tokens":1,"output_tokens":5}}`)

	temp := 0.0
	maxTokens := 5
	req := userRequest("gpt-3.5-turbo", "hi")
	req.Temperature = &temp
	req.MaxTokens = &maxTokens

	resp, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	body := gjson.ParseBytes(got.body)
	assert.Equal(t, "claude-3-5-haiku-20241022", body.Get("model").String())
	assert.True(t, body.Get("temperature").Exists())
	assert.Equal(t, 0.0, body.Get("temperature").Float())
	assert.Equal(t, int64(5), body.Get("max_tokens").Int())
	assert.Equal(t, "length", resp.Choices[0].FinishReason)
}

func TestChat_ImageParts(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, "application/json",
		`{"id":"msg_03","content":[{"type":"text","text":"a cat"}],"stop_reason":"end_turn","usage":{}}`)

	req := &models.ChatRequest{
		Model: "claude-3-opus",
		Messages: []models.Message{{
			Role: models.RoleUser,
			Content: models.PartsContent(
				models.ContentPart{Type: models.PartTypeText, Text: "what is this?"},
				models.ContentPart{Type: models.PartTypeImageURL, ImageURL: &models.ImageURL{URL: "data:image/png;base64,aGVsbG8="}},
				models.ContentPart{Type: models.PartTypeImageURL, ImageURL: &models.ImageURL{URL: "https://example.com/cat.jpg"}},
			),
		}},
	}

	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	content := gjson.GetBytes(got.body, "messages.0.content")
	assert.Equal(t, "claude-3-5-sonnet-20241022", gjson.GetBytes(got.body, "model").String())
	assert.Equal(t, "text", content.Get("0.type").String())
	assert.Equal(t, "image", content.Get("1.type").String())
	assert.Equal(t, "base64", content.Get("1.source.type").String())
	assert.Equal(t, "image/png", content.Get("1.source.media_type").String())
	assert.Equal(t, "aGVsbG8=", content.Get("1.source.data").String())
	assert.Equal(t, "url", content.Get("2.source.type").String())
	assert.Equal(t, "https://example.com/cat.jpg", content.Get("2.source.url").String())
}

func TestChat_SystemOnlyBecomesPrompt(t *testing.T) {
	p, got := newBackend(t, http.StatusOK, "application/json",
		`{"id":"msg_07","type":"message","role":"assistant","content":[{"type":"text","text":"ok"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`)

	req := &models.ChatRequest{
		Model: "gpt-4",
		Messages: []models.Message{
			{Role: models.RoleSystem, Content: models.TextContent("Write a haiku.")},
		},
	}
	_, err := p.Chat(context.Background(), req)
	require.NoError(t, err)

	body := gjson.ParseBytes(got.body)
	assert.False(t, body.Get("system").Exists())
	assert.Equal(t, int64(1), body.Get("messages.#").Int())
	assert.Equal(t, "user", body.Get("messages.0.role").String())
	assert.Equal(t, "Write a haiku.", body.Get("messages.0.content.0.text").String())
}

func TestChat_EmptyContent(t *testing.T) {
	p, _ := newBackend(t, http.StatusOK, "application/json", `{"id":"msg_04","content":[],"usage":{}}`)

	_, err := p.Chat(context.Background(), userRequest("gpt-4", "hi"))
	assert.ErrorIs(t, err, provider.ErrEmptyResponse)
}

func TestChat_Unauthorized(t *testing.T) {
	p, _ := newBackend(t, http.StatusUnauthorized, "application/json",
		`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`)

	_, err := p.Chat(context.Background(), userRequest("gpt-4", "hi"))
	require.Error(t, err)

	var statusErr *apierror.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)

	norm := apierror.Normalize(err, p.DisplayName())
	assert.Equal(t, apierror.TypeAuthentication, norm.Type)
	assert.Equal(t, "Anthropic Claude", norm.Provider)
}

func TestChatStream(t *testing.T) {
	events := strings.Join([]string{
		"event: message_start",
		`data: {"type":"message_start","message":{"id":"msg_05","type":"message","role":"assistant","content":[],"model":"claude-3-5-sonnet-20241022","usage":{"input_tokens":5,"output_tokens":1}}}`,
		"",
		"event: content_block_start",
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		"",
		"event: ping",
		`data: {"type":"ping"}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hello"}}`,
		"",
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" world"}}`,
		"",
		"event: content_block_stop",
		`data: {"type":"content_block_stop","index":0}`,
		"",
		"event: message_delta",
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":2}}`,
		"",
		"event: message_stop",
		`data: {"type":"message_stop"}`,
		"",
	}, "\n")
	p, got := newBackend(t, http.StatusOK, "text/event-stream", events)

	rec := &streamtest.Recorder{}
	err := p.ChatStream(context.Background(), userRequest("gpt-4", "hi"), rec)
	require.NoError(t, err)

	assert.True(t, gjson.GetBytes(got.body, "stream").Bool())
	assert.Equal(t, "text/event-stream", got.header.Get("Accept"))
	assert.Equal(t, "Hello world", rec.Text())
	assert.Equal(t, []string{"stop"}, rec.FinishReasons())
	assert.Equal(t, 1, rec.DoneCount)
	for _, chunk := range rec.Chunks {
		assert.Equal(t, "gpt-4", chunk.Model)
		assert.Equal(t, rec.Chunks[0].ID, chunk.ID)
	}
}

func TestChatStream_MaxTokensAndMalformed(t *testing.T) {
	events := "data: {\"type\":\"content_block_delta\",\"index\":0,\"delta\":{\"type\":\"text_delta\",\"text\":\"a\"}}\n\n" +
		"data: {broken\n\n" +
		"data: {\"type\":\"message_delta\",\"delta\":{\"stop_reason\":\"max_tokens\"}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"
	p, _ := newBackend(t, http.StatusOK, "text/event-stream", events)

	rec := &streamtest.Recorder{}
	require.NoError(t, p.ChatStream(context.Background(), userRequest("gpt-4", "hi"), rec))

	assert.Equal(t, "a", rec.Text())
	assert.Equal(t, []string{"length"}, rec.FinishReasons())
	assert.Equal(t, 1, rec.DoneCount)
}

func TestChatStream_RejectedBeforeStreaming(t *testing.T) {
	p, _ := newBackend(t, http.StatusTooManyRequests, "application/json", `{"type":"error","error":{"type":"rate_limit_error","message":"slow"}}`)

	rec := &streamtest.Recorder{}
	err := p.ChatStream(context.Background(), userRequest("gpt-4", "hi"), rec)

	require.Error(t, err)
	assert.Empty(t, rec.Chunks)
	assert.Zero(t, rec.DoneCount)
	assert.Equal(t, apierror.TypeRateLimit, apierror.Normalize(err, displayName).Type)
}

func TestListModels(t *testing.T) {
	p, err := New(config.ProviderConfig{BaseURL: "http://localhost", Aliases: map[string]string{"fast": "claude-3-5-haiku-20241022"}}, http.DefaultClient)
	require.NoError(t, err)

	list, err := p.ListModels(context.Background())
	require.NoError(t, err)

	var ids []string
	for _, m := range list {
		ids = append(ids, m.ID)
		assert.Equal(t, "anthropic", m.OwnedBy)
	}
	assert.Contains(t, ids, "gpt-4")
	assert.Contains(t, ids, "fast")
	assert.Contains(t, ids, "claude-3-5-sonnet-20241022")
}

func TestDecodeEvent_Error(t *testing.T) {
	events, err := decodeEvent([]byte(`{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "length", events[0].FinishReason)
}
