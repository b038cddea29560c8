package provider

import (
	"time"

	"github.com/google/uuid"

	"llmgate/internal/models"
)

// NewResponse assembles a single-choice canonical response. An empty id is replaced with a generated one.
func NewResponse(id, model, content, finishReason string, usage models.Usage) *models.ChatResponse {
	if id == "" {
		id = "chatcmpl-" + uuid.NewString()
	}
	return &models.ChatResponse{
		ID:      id,
		Object:  models.ObjectChatCompletion,
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []models.Choice{{
			Index: 0,
			Message: models.ResponseMessage{
				Role:    models.RoleAssistant,
				Content: content,
			},
			FinishReason: finishReason,
		}},
		Usage: usage,
	}
}
