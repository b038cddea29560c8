// Package stream turns backend event streams into canonical chat completion chunks.
//
// A Translator reads the raw body of a streaming backend response, splits it
// into lines, hands each framed payload to a backend-specific DecodeFunc and
// forwards the resulting events to an Emitter. The Emitter owns the ordering
// rules of the canonical stream: text deltas first, then exactly one terminal
// chunk, then exactly one end-of-stream sentinel.
package stream

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"llmgate/internal/models"
)

// Sink receives canonical stream events in order.
type Sink interface {
	Send(chunk models.ChatCompletionChunk) error
	Done() error
}

// Meta is the identity shared by every chunk of one stream.
type Meta struct {
	ID      string
	Created int64
	Model   string
}

// NewMeta returns a fresh identity for a stream answering the given model.
func NewMeta(model string) Meta {
	return Meta{
		ID:      "chatcmpl-" + uuid.NewString(),
		Created: time.Now().Unix(),
		Model:   model,
	}
}

// Emitter writes chunks for choice 0 to a Sink.
// Deltas after the terminal chunk and repeated terminals are dropped.
type Emitter struct {
	sink Sink
	meta Meta

	deltas   int
	finished bool
}

// NewEmitter binds a sink to a stream identity.
func NewEmitter(sink Sink, meta Meta) *Emitter {
	return &Emitter{sink: sink, meta: meta}
}

// Finished reports whether the terminal chunk and sentinel were written.
func (e *Emitter) Finished() bool {
	return e.finished
}

// Deltas returns how many delta chunks were written.
func (e *Emitter) Deltas() int {
	return e.deltas
}

// Delta writes one text fragment. Empty fragments are ignored.
func (e *Emitter) Delta(text string) error {
	if e.finished || text == "" {
		return nil
	}
	chunk := e.chunk(models.ChunkChoice{Delta: models.Delta{Content: text}})
	if err := e.sink.Send(chunk); err != nil {
		return fmt.Errorf("send delta: %w", err)
	}
	e.deltas++
	return nil
}

// Finish writes the terminal chunk followed by the end-of-stream sentinel.
// Only the first call has an effect.
func (e *Emitter) Finish(reason string) error {
	if e.finished {
		return nil
	}
	e.finished = true

	if reason != models.FinishReasonStop {
		reason = models.FinishReasonLength
	}
	chunk := e.chunk(models.ChunkChoice{FinishReason: &reason})
	if err := e.sink.Send(chunk); err != nil {
		return fmt.Errorf("send terminal: %w", err)
	}
	if err := e.sink.Done(); err != nil {
		return fmt.Errorf("send done: %w", err)
	}
	return nil
}

func (e *Emitter) chunk(choice models.ChunkChoice) models.ChatCompletionChunk {
	return models.ChatCompletionChunk{
		ID:      e.meta.ID,
		Object:  models.ObjectChatCompletionChunk,
		Created: e.meta.Created,
		Model:   e.meta.Model,
		Choices: []models.ChunkChoice{choice},
	}
}
