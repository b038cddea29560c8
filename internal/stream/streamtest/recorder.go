// Package streamtest provides a recording stream.Sink for tests.
package streamtest

import (
	"errors"
	"strings"
	"sync"

	"llmgate/internal/models"
)

// ErrClosed is returned by a Recorder configured to fail.
var ErrClosed = errors.New("sink closed")

// Recorder captures every chunk and sentinel it receives.
type Recorder struct {
	mu        sync.Mutex
	Chunks    []models.ChatCompletionChunk
	DoneCount int

	// FailAfter makes Send fail once this many chunks were accepted. Zero disables it.
	FailAfter int
}

func (r *Recorder) Send(chunk models.ChatCompletionChunk) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailAfter > 0 && len(r.Chunks) >= r.FailAfter {
		return ErrClosed
	}
	r.Chunks = append(r.Chunks, chunk)
	return nil
}

func (r *Recorder) Done() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.DoneCount++
	return nil
}

// Text concatenates the delta content of all recorded chunks.
func (r *Recorder) Text() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var b strings.Builder
	for _, c := range r.Chunks {
		for _, ch := range c.Choices {
			b.WriteString(ch.Delta.Content)
		}
	}
	return b.String()
}

// FinishReasons lists the finish reasons of terminal chunks in order.
func (r *Recorder) FinishReasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.Chunks {
		for _, ch := range c.Choices {
			if ch.FinishReason != nil {
				out = append(out, *ch.FinishReason)
			}
		}
	}
	return out
}
