package gemini

import (
	"encoding/json"
	"fmt"

	"google.golang.org/genai"

	"llmgate/internal/stream"
)

// decodeChunk maps one streamGenerateContent SSE payload onto stream events.
func decodeChunk(payload []byte) ([]stream.Event, error) {
	var chunk genai.GenerateContentResponse
	if err := json.Unmarshal(payload, &chunk); err != nil {
		return nil, fmt.Errorf("decode gemini chunk: %w", err)
	}
	if len(chunk.Candidates) == 0 || chunk.Candidates[0] == nil {
		return nil, nil
	}

	candidate := chunk.Candidates[0]
	var events []stream.Event
	if text := candidateText(candidate); text != "" {
		events = append(events, stream.Delta(text))
	}
	if candidate.FinishReason != "" && candidate.FinishReason != genai.FinishReasonUnspecified {
		events = append(events, stream.Finish(finishReason(candidate.FinishReason)))
	}
	return events, nil
}
