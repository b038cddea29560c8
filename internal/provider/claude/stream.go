package claude

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"

	"llmgate/internal/models"
	"llmgate/internal/stream"
)

// decodeEvent maps one Messages API SSE payload onto stream events.
// message_start, content_block_start/stop and ping carry nothing to forward.
func decodeEvent(payload []byte) ([]stream.Event, error) {
	var ev anthropic.MessageStreamEventUnion
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("decode claude event: %w", err)
	}

	switch ev.Type {
	case "content_block_delta":
		if ev.Delta.Type == "text_delta" && ev.Delta.Text != "" {
			return []stream.Event{stream.Delta(ev.Delta.Text)}, nil
		}
	case "message_delta":
		if ev.Delta.StopReason != "" {
			return []stream.Event{stream.Finish(finishReason(ev.Delta.StopReason))}, nil
		}
	case "message_stop":
		return []stream.Event{stream.End()}, nil
	case "error":
		slog.Warn("claude stream reported an error", "data", string(payload))
		return []stream.Event{stream.Finish(models.FinishReasonLength)}, nil
	}
	return nil, nil
}
