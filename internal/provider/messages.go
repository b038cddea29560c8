package provider

import (
	"encoding/base64"
	"errors"
	"strings"

	"llmgate/internal/models"
)

// Default max_tokens values applied when a request does not carry one.
const (
	DefaultMaxTokens       = 4096
	DefaultGeminiMaxTokens = 8192
)

// SplitSystem removes system messages, newline-joining their text into one instruction.
func SplitSystem(messages []models.Message) (string, []models.Message) {
	var system []string
	rest := make([]models.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			system = append(system, msg.Content.PlainText())
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n"), rest
}

// SplitPrompt is SplitSystem for backends that need at least one turn.
// A conversation of only system messages is sent as one user message.
func SplitPrompt(messages []models.Message) (string, []models.Message) {
	system, rest := SplitSystem(messages)
	if len(rest) == 0 && system != "" {
		return "", []models.Message{{Role: models.RoleUser, Content: models.TextContent(system)}}
	}
	return system, rest
}

// MaxTokens returns the request's max_tokens or def when absent.
func MaxTokens(req *models.ChatRequest, def int) int {
	if req.MaxTokens != nil {
		return *req.MaxTokens
	}
	return def
}

// IsAssistant reports whether role maps to the backend's assistant label.
// Every other role is sent as the user.
func IsAssistant(role string) bool {
	return role == models.RoleAssistant
}

// FinishReason collapses a backend's stop signal onto the canonical pair.
func FinishReason(natural bool) string {
	if natural {
		return models.FinishReasonStop
	}
	return models.FinishReasonLength
}

// ErrNotDataURL is returned by ParseDataURL for remote URLs.
var ErrNotDataURL = errors.New("not a base64 data url")

// ParseDataURL splits "data:<mime>;base64,<payload>" into its mime type and decoded bytes.
func ParseDataURL(url string) (string, []byte, error) {
	rest, ok := strings.CutPrefix(url, "data:")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	mime, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return "", nil, ErrNotDataURL
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, err
	}
	return mime, data, nil
}
