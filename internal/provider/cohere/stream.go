package cohere

import (
	"encoding/json"
	"fmt"

	"llmgate/internal/stream"
)

type streamEvent struct {
	EventType    string `json:"event_type"`
	Text         string `json:"text"`
	FinishReason string `json:"finish_reason"`
}

// decodeEvent maps one NDJSON stream line onto stream events.
func decodeEvent(payload []byte) ([]stream.Event, error) {
	var ev streamEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode cohere event: %w", err)
	}

	switch ev.EventType {
	case "text-generation":
		return []stream.Event{stream.Delta(ev.Text)}, nil
	case "stream-end":
		return []stream.Event{stream.Finish(finishReason(ev.FinishReason))}, nil
	}
	return nil, nil
}
