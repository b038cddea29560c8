package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"llmgate/internal/models"
)

// sseSink writes canonical chunks as server-sent events.
// Headers are committed on the first event so that failures before it can
// still be answered with a JSON error.
type sseSink struct {
	res     *echo.Response
	started bool
}

func newSSESink(res *echo.Response) *sseSink {
	return &sseSink{res: res}
}

// Started reports whether any bytes were written to the client.
func (s *sseSink) Started() bool {
	return s.started
}

func (s *sseSink) start() {
	if s.started {
		return
	}
	header := s.res.Header()
	header.Set(echo.HeaderContentType, "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	s.res.WriteHeader(http.StatusOK)
	s.started = true
}

func (s *sseSink) Send(chunk models.ChatCompletionChunk) error {
	data, err := json.Marshal(chunk)
	if err != nil {
		return fmt.Errorf("marshal chunk: %w", err)
	}
	return s.frame(data)
}

func (s *sseSink) Done() error {
	return s.frame([]byte(models.StreamDone))
}

func (s *sseSink) frame(data []byte) error {
	s.start()
	if _, err := fmt.Fprintf(s.res, "data: %s\n\n", data); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	s.res.Flush()
	return nil
}
