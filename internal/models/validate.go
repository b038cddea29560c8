package models

import (
	"fmt"

	"github.com/tidwall/gjson"
)

// ValidationError describes the first problem found in an inbound request.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ValidateChatRequest performs the shallow shape check on a raw request body.
// Numeric fields are not inspected; the backend rejects bad values itself.
func ValidateChatRequest(raw []byte) error {
	if !gjson.ValidBytes(raw) || !gjson.ParseBytes(raw).IsObject() {
		return invalid("request body must be a JSON object")
	}

	model := gjson.GetBytes(raw, "model")
	if !model.Exists() || model.Type == gjson.Null || model.String() == "" {
		return invalid("Missing required parameter: model")
	}
	if model.Type != gjson.String {
		return invalid("model must be a string")
	}

	messages := gjson.GetBytes(raw, "messages")
	if !messages.Exists() || messages.Type == gjson.Null {
		return invalid("Missing required parameter: messages")
	}
	if !messages.IsArray() {
		return invalid("messages must be an array")
	}

	items := messages.Array()
	if len(items) == 0 {
		return invalid("messages array cannot be empty")
	}

	for i, msg := range items {
		if !msg.IsObject() {
			return invalid("messages[%d] must be an object", i)
		}

		role := msg.Get("role")
		if !role.Exists() || role.Type == gjson.Null || role.String() == "" {
			return invalid("messages[%d]: Missing required field 'role'", i)
		}
		switch role.String() {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return invalid("messages[%d]: invalid role '%s'", i, role.String())
		}

		content := msg.Get("content")
		if !content.Exists() || content.Type == gjson.Null {
			return invalid("messages[%d]: Missing required field 'content'", i)
		}
		if content.Type != gjson.String && !content.IsArray() {
			return invalid("messages[%d]: content must be string or array", i)
		}
	}

	return nil
}
