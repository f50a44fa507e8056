// Package stream turns a model token stream into client chunks and settles
// the turn once the stream is over.
package stream

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/agentoven/hearth/internal/router"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/rs/zerolog/log"
)

// Flush is what has to happen once a reply is over.
type Flush struct {
	Observer     *tracing.Observer
	GenerationID string
	// Messages is the prompt history; the reply is appended before the
	// trace is finalized.
	Messages []models.Message
	// Persist stores the assistant message. Empty replies are not persisted.
	Persist func(ctx context.Context, content string) error
}

// Finalizer pipes one reply and runs its Flush exactly once.
type Finalizer struct {
	id    string
	model string
	flush Flush

	once sync.Once
	err  error
}

func NewFinalizer(id, model string, flush Flush) *Finalizer {
	return &Finalizer{id: id, model: model, flush: flush}
}

// Pipe forwards src to sink until src ends, the sink fails or ctx is
// cancelled, then finishes the turn with whatever was accumulated. It returns
// the accumulated content.
func (f *Finalizer) Pipe(ctx context.Context, src router.TokenStream, sink Sink) (string, error) {
	defer src.Close()

	var (
		buf     strings.Builder
		pipeErr error
		sinkErr bool
	)
	for {
		if err := ctx.Err(); err != nil {
			pipeErr = err
			break
		}
		if !src.Next() {
			pipeErr = src.Err()
			break
		}
		delta := src.Current()
		if delta == "" {
			continue
		}
		buf.WriteString(delta)
		if err := sink.Send(models.NewStreamChunk(f.id, f.model, delta)); err != nil {
			pipeErr = fmt.Errorf("send chunk: %w", err)
			sinkErr = true
			break
		}
	}
	content := buf.String()

	// Settle the turn before closing the stream so a client reading [DONE]
	// observes the persisted message.
	finishErr := f.Finish(ctx, content, pipeErr)

	if ctx.Err() == nil && !sinkErr {
		if err := sink.Send(models.NewStopChunk(f.id, f.model)); err == nil {
			if err := sink.Done(); err != nil {
				log.Debug().Err(err).Msg("Stream terminator not delivered")
			}
		}
	}

	if pipeErr != nil {
		return content, pipeErr
	}
	return content, finishErr
}

// Finish ends the reply generation, finalizes the trace and persists content.
// Only the first call has any effect; later calls return its result. It
// runs detached from ctx cancellation so a disconnected client still gets
// its partial reply recorded.
func (f *Finalizer) Finish(ctx context.Context, content string, cause error) error {
	f.once.Do(func() {
		f.err = f.finish(context.WithoutCancel(ctx), content, cause)
	})
	return f.err
}

func (f *Finalizer) finish(ctx context.Context, content string, cause error) error {
	var errs []error
	obs := f.flush.Observer

	if obs != nil && f.flush.GenerationID != "" {
		var opts []tracing.EndOption
		if cause != nil && !errors.Is(cause, context.Canceled) {
			opts = append(opts, tracing.WithError(cause))
		}
		if err := obs.EndGeneration(ctx, f.flush.GenerationID, content, opts...); err != nil {
			errs = append(errs, err)
		}
	}

	if obs != nil {
		msgs := append(append([]models.Message(nil), f.flush.Messages...),
			models.Message{Role: models.RoleAssistant, Content: content})
		if err := obs.FinalizeTrace(ctx, msgs, content); err != nil {
			errs = append(errs, err)
		}
	}

	if f.flush.Persist != nil && content != "" {
		if err := f.flush.Persist(ctx, content); err != nil {
			errs = append(errs, fmt.Errorf("persist reply: %w", err))
		}
	}

	ev := log.Debug()
	if cause != nil {
		ev = log.Warn().Err(cause)
	}
	ev.Str("stream_id", f.id).Int("chars", len(content)).Msg("Reply finished")

	return errors.Join(errs...)
}
