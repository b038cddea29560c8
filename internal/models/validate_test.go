package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateChatRequest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{
			name: "minimal valid request",
			body: `{"model":"gpt-4","messages":[{"role":"user","content":"hi"}]}`,
		},
		{
			name: "empty string content is valid",
			body: `{"model":"gpt-4","messages":[{"role":"assistant","content":""}]}`,
		},
		{
			name: "array content is valid",
			body: `{"model":"gpt-4","messages":[{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"https://example.com/a.png"}}]}]}`,
		},
		{
			name: "numeric fields are not range checked",
			body: `{"model":"gpt-4","temperature":-7,"max_tokens":-1,"messages":[{"role":"user","content":"hi"}]}`,
		},
		{
			name:    "not an object",
			body:    `[1,2,3]`,
			wantErr: "request body must be a JSON object",
		},
		{
			name:    "malformed json",
			body:    `{"model":`,
			wantErr: "request body must be a JSON object",
		},
		{
			name:    "missing model",
			body:    `{"messages":[{"role":"user","content":"hi"}]}`,
			wantErr: "Missing required parameter: model",
		},
		{
			name:    "empty model",
			body:    `{"model":"","messages":[{"role":"user","content":"hi"}]}`,
			wantErr: "Missing required parameter: model",
		},
		{
			name:    "model not a string",
			body:    `{"model":4,"messages":[{"role":"user","content":"hi"}]}`,
			wantErr: "model must be a string",
		},
		{
			name:    "missing messages",
			body:    `{"model":"gpt-4"}`,
			wantErr: "Missing required parameter: messages",
		},
		{
			name:    "messages not an array",
			body:    `{"model":"gpt-4","messages":{"role":"user"}}`,
			wantErr: "messages must be an array",
		},
		{
			name:    "empty messages",
			body:    `{"model":"gpt-4","messages":[]}`,
			wantErr: "messages array cannot be empty",
		},
		{
			name:    "message not an object",
			body:    `{"model":"gpt-4","messages":["hi"]}`,
			wantErr: "messages[0] must be an object",
		},
		{
			name:    "missing role",
			body:    `{"model":"gpt-4","messages":[{"role":"user","content":"a"},{"content":"b"}]}`,
			wantErr: "messages[1]: Missing required field 'role'",
		},
		{
			name:    "unknown role",
			body:    `{"model":"gpt-4","messages":[{"role":"tool","content":"b"}]}`,
			wantErr: "messages[0]: invalid role 'tool'",
		},
		{
			name:    "missing content",
			body:    `{"model":"gpt-4","messages":[{"role":"user"}]}`,
			wantErr: "messages[0]: Missing required field 'content'",
		},
		{
			name:    "null content",
			body:    `{"model":"gpt-4","messages":[{"role":"user","content":null}]}`,
			wantErr: "messages[0]: Missing required field 'content'",
		},
		{
			name:    "numeric content",
			body:    `{"model":"gpt-4","messages":[{"role":"user","content":42}]}`,
			wantErr: "messages[0]: content must be string or array",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateChatRequest([]byte(tt.body))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.wantErr, verr.Message)
		})
	}
}

func TestValidateChatRequest_FirstViolationWins(t *testing.T) {
	t.Parallel()

	err := ValidateChatRequest([]byte(`{"messages":[]}`))
	require.Error(t, err)
	assert.Equal(t, "Missing required parameter: model", err.Error())
}
