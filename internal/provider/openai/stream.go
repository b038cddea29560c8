package openai

import (
	"encoding/json"
	"fmt"

	goopenai "github.com/sashabaranov/go-openai"

	"llmgate/internal/stream"
)

// decodeChunk maps one chat.completion.chunk payload onto stream events.
func decodeChunk(payload []byte) ([]stream.Event, error) {
	if stream.IsDone(payload) {
		return []stream.Event{stream.End()}, nil
	}

	var chunk goopenai.ChatCompletionStreamResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("decode chunk: %w", err)
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	choice := chunk.Choices[0]
	var events []stream.Event
	if choice.Delta.Content != "" {
		events = append(events, stream.Delta(choice.Delta.Content))
	}
	if choice.FinishReason != "" {
		events = append(events, stream.Finish(finishReason(choice.FinishReason)))
	}
	return events, nil
}
