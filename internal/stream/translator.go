package stream

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"llmgate/internal/metrics"
	"llmgate/internal/models"
)

// Framing selects how payloads are found in the raw byte stream.
type Framing int

const (
	// FramingSSE takes the payload of `data:` lines and ignores everything else.
	FramingSSE Framing = iota
	// FramingNDJSON treats every non-blank line as one payload.
	FramingNDJSON
)

const (
	initialLineBuffer = 64 * 1024
	maxLineSize       = 1 << 20
)

// EventKind classifies a decoded backend fragment.
type EventKind int

const (
	// EventDelta carries newly generated text.
	EventDelta EventKind = iota
	// EventFinish carries the canonical finish reason.
	EventFinish
	// EventEnd marks the backend's own end-of-stream marker.
	EventEnd
)

// Event is the backend-neutral meaning of one fragment.
type Event struct {
	Kind         EventKind
	Text         string
	FinishReason string
}

// Delta builds a text event.
func Delta(text string) Event {
	return Event{Kind: EventDelta, Text: text}
}

// Finish builds a terminal event.
func Finish(reason string) Event {
	return Event{Kind: EventFinish, FinishReason: reason}
}

// End builds an end-of-stream event.
func End() Event {
	return Event{Kind: EventEnd}
}

// DecodeFunc parses one payload in a backend's native event shape.
// Payloads that carry nothing of interest return no events and no error.
type DecodeFunc func(payload []byte) ([]Event, error)

// Translator converts one backend stream body into canonical events.
type Translator struct {
	Provider string
	Framing  Framing
	Decode   DecodeFunc
}

// Result summarises a finished translation.
type Result struct {
	Payloads int
	Skipped  int
	Deltas   int
}

// Run reads body until the terminal event, the end of the body or
// cancellation. Malformed payloads and lines longer than the line limit are
// logged, counted and skipped. If the body ends without a terminal event the
// stream is closed with "stop", or with "length" when reading failed. On
// cancellation nothing more is written and the context error is returned.
func (t Translator) Run(ctx context.Context, body io.Reader, em *Emitter) (res Result, err error) {
	defer func() {
		res.Deltas = em.Deltas()
		metrics.StreamEventsTotal.WithLabelValues(t.Provider, "delta").Add(float64(em.Deltas()))
		if em.Finished() {
			metrics.StreamEventsTotal.WithLabelValues(t.Provider, "terminal").Inc()
		}
	}()

	reader := bufio.NewReaderSize(body, initialLineBuffer)
	buf := make([]byte, 0, initialLineBuffer)

	for {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}

		line, overlong, readErr := readLine(reader, buf, maxLineSize)
		buf = line[:0]

		if overlong {
			t.skip(&res, fmt.Errorf("line exceeds %d bytes", maxLineSize), line)
		} else if len(line) > 0 {
			done, applyErr := t.process(line, em, &res)
			if applyErr != nil {
				return res, applyErr
			}
			if done {
				return res, nil
			}
		}

		if readErr == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		if errors.Is(readErr, io.EOF) {
			return res, em.Finish(models.FinishReasonStop)
		}
		slog.Warn("backend stream interrupted", "provider", t.Provider, "error", readErr.Error())
		return res, em.Finish(models.FinishReasonLength)
	}
}

// readLine returns the next line including its newline, reusing buf.
// A line longer than limit is consumed up to its newline; only its first
// limit bytes are returned and overlong is set.
func readLine(r *bufio.Reader, buf []byte, limit int) (line []byte, overlong bool, err error) {
	line = buf[:0]
	for {
		frag, readErr := r.ReadSlice('\n')
		if !overlong {
			if len(line)+len(bytes.TrimSuffix(frag, []byte("\n"))) > limit {
				overlong = true
				if room := limit - len(line); room > 0 {
					line = append(line, frag[:room]...)
				}
			} else {
				line = append(line, frag...)
			}
		}
		if errors.Is(readErr, bufio.ErrBufferFull) {
			continue
		}
		return line, overlong, readErr
	}
}

// process frames and decodes one line. It reports whether the stream is finished.
func (t Translator) process(line []byte, em *Emitter, res *Result) (bool, error) {
	payload, ok := t.payload(bytes.TrimSuffix(line, []byte("\n")))
	if !ok {
		return false, nil
	}
	res.Payloads++

	events, err := t.Decode(payload)
	if err != nil {
		t.skip(res, err, payload)
		return false, nil
	}
	if err := apply(em, events); err != nil {
		return false, err
	}
	return em.Finished(), nil
}

func (t Translator) skip(res *Result, cause error, data []byte) {
	res.Skipped++
	metrics.StreamFragmentsSkippedTotal.WithLabelValues(t.Provider).Inc()
	slog.Warn("skipping malformed stream fragment",
		"provider", t.Provider,
		"error", cause.Error(),
		"data", truncate(data, 200),
	)
}

func apply(em *Emitter, events []Event) error {
	for _, ev := range events {
		var err error
		switch ev.Kind {
		case EventDelta:
			err = em.Delta(ev.Text)
		case EventFinish:
			err = em.Finish(ev.FinishReason)
		case EventEnd:
			err = em.Finish(models.FinishReasonStop)
		default:
			err = fmt.Errorf("unknown stream event kind %d", ev.Kind)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

var dataPrefix = []byte("data:")

func (t Translator) payload(line []byte) ([]byte, bool) {
	line = bytes.TrimRight(line, "\r")

	switch t.Framing {
	case FramingSSE:
		if !bytes.HasPrefix(line, dataPrefix) {
			return nil, false
		}
		payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))
		if len(bytes.TrimSpace(payload)) == 0 {
			return nil, false
		}
		return payload, true
	default:
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			return nil, false
		}
		return trimmed, true
	}
}

// IsDone reports whether an SSE payload is the `[DONE]` marker.
func IsDone(payload []byte) bool {
	return string(bytes.TrimSpace(payload)) == models.StreamDone
}

func truncate(b []byte, maxLen int) string {
	if len(b) <= maxLen {
		return string(b)
	}
	return string(b[:maxLen]) + "..."
}
