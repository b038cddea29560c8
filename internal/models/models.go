package models

// Message roles accepted by the gateway.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Object names used on the wire.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectModel               = "model"
	ObjectList                = "list"
)

// Finish reasons reported to clients.
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
)

// StreamDone is the payload of the frame that terminates an event stream.
const StreamDone = "[DONE]"

// Message represents a single conversational message in the canonical schema.
type Message struct {
	Role    string  `json:"role"`
	Content Content `json:"content"`
}

// ChatRequest is the canonical representation of a chat completion request.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

// ChatResponse is the canonical chat completion returned to clients.
type ChatResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is a single completion alternative.
type Choice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// ResponseMessage is the assistant message carried by a Choice.
type ResponseMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// NewUsage builds a Usage block. A zero total is derived from the other two counts.
func NewUsage(prompt, completion, total int) Usage {
	if total == 0 {
		total = prompt + completion
	}
	return Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      total,
	}
}

// ChatCompletionChunk is one event of a canonical stream.
type ChatCompletionChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Created int64         `json:"created"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries either a delta (FinishReason nil) or the terminal reason.
type ChunkChoice struct {
	Index        int     `json:"index"`
	Delta        Delta   `json:"delta"`
	FinishReason *string `json:"finish_reason"`
}

// Delta holds the text appended by a streaming event.
type Delta struct {
	Content string `json:"content,omitempty"`
}

// IsTerminal reports whether the chunk closes its choice.
func (c ChatCompletionChunk) IsTerminal() bool {
	return len(c.Choices) > 0 && c.Choices[0].FinishReason != nil
}

// Model identifies a model exposed by the gateway.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /v1/models response body.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
