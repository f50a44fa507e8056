package tracing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/hearth/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrTracingMisuse is returned for unknown ids, double ends and operations
// outside an active trace. Callers must not swallow it.
var ErrTracingMisuse = errors.New("tracing misuse")

func misuse(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrTracingMisuse, fmt.Sprintf(format, args...))
}

// Observer tracks the trace of a single reasoning cycle and forwards every
// change to an Exporter. One Observer serves one cycle at a time.
type Observer struct {
	mu       sync.Mutex
	exporter Exporter
	active   *Trace
	last     *Trace
	now      func() time.Time
}

// NewObserver creates an observer exporting to exp. A nil exporter drops
// everything.
func NewObserver(exp Exporter) *Observer {
	if exp == nil {
		exp = NopExporter{}
	}
	return &Observer{exporter: exp, now: func() time.Time { return time.Now().UTC() }}
}

// InitializeTrace opens the root trace of the cycle.
func (o *Observer) InitializeTrace(ctx context.Context, spec TraceSpec) (string, error) {
	o.mu.Lock()
	if o.active != nil {
		id := o.active.ID
		o.mu.Unlock()
		return "", misuse("trace %s is still active", id)
	}
	t := newTrace(uuid.NewString(), spec, o.now())
	o.active = t
	obs := Observation{Type: TraceCreate, Timestamp: t.StartTime, Trace: t.header()}
	o.mu.Unlock()

	o.export(ctx, obs)
	return t.ID, nil
}

// StartSpan opens a span under the active trace.
func (o *Observer) StartSpan(ctx context.Context, spec SpanSpec) (string, error) {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return "", misuse("span %q started without an active trace", spec.Name)
	}
	s := &Span{
		ID:        uuid.NewString(),
		TraceID:   t.ID,
		Name:      spec.Name,
		Input:     spec.Input,
		Metadata:  spec.Metadata,
		StartTime: o.now(),
	}
	t.spans[s.ID] = s
	t.spanOrder = append(t.spanOrder, s.ID)
	cp := *s
	o.mu.Unlock()

	o.export(ctx, Observation{Type: SpanCreate, Timestamp: cp.StartTime, Span: &cp})
	return cp.ID, nil
}

// StartGeneration opens a generation. An empty parentSpanID parents it to
// the trace; otherwise the span must exist in the active trace.
func (o *Observer) StartGeneration(ctx context.Context, spec GenerationSpec, parentSpanID string) (string, error) {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return "", misuse("generation %q started without an active trace", spec.Name)
	}
	if parentSpanID != "" {
		if _, ok := t.spans[parentSpanID]; !ok {
			o.mu.Unlock()
			return "", misuse("generation %q references unknown span %s", spec.Name, parentSpanID)
		}
	}
	g := &Generation{
		ID:              uuid.NewString(),
		TraceID:         t.ID,
		ParentSpanID:    parentSpanID,
		Name:            spec.Name,
		Model:           spec.Model,
		ModelParameters: spec.ModelParameters,
		Input:           spec.Input,
		Level:           LevelDefault,
		StartTime:       o.now(),
	}
	t.generations[g.ID] = g
	t.genOrder = append(t.genOrder, g.ID)
	cp := *g
	o.mu.Unlock()

	o.export(ctx, Observation{Type: GenerationCreate, Timestamp: cp.StartTime, Generation: &cp})
	return cp.ID, nil
}

// RecordEvent appends an event to the active trace, optionally under a span.
func (o *Observer) RecordEvent(ctx context.Context, spec EventSpec, parentSpanID string) (string, error) {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return "", misuse("event %q recorded without an active trace", spec.Name)
	}
	if parentSpanID != "" {
		if _, ok := t.spans[parentSpanID]; !ok {
			o.mu.Unlock()
			return "", misuse("event %q references unknown span %s", spec.Name, parentSpanID)
		}
	}
	level := spec.Level
	if level == "" {
		level = LevelDefault
	}
	e := &Event{
		ID:           uuid.NewString(),
		TraceID:      t.ID,
		ParentSpanID: parentSpanID,
		Name:         spec.Name,
		Input:        spec.Input,
		Output:       spec.Output,
		Level:        level,
		Time:         o.now(),
	}
	t.events = append(t.events, e)
	cp := *e
	o.mu.Unlock()

	o.export(ctx, Observation{Type: EventCreate, Timestamp: cp.Time, Event: &cp})
	return cp.ID, nil
}

// EndSpan closes a span exactly once.
func (o *Observer) EndSpan(ctx context.Context, id string, output interface{}) error {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return misuse("end of span %s without an active trace", id)
	}
	s, ok := t.spans[id]
	if !ok {
		o.mu.Unlock()
		return misuse("unknown span %s", id)
	}
	if s.EndTime != nil {
		o.mu.Unlock()
		return misuse("span %s already ended", id)
	}
	end := o.now()
	s.Output = output
	s.EndTime = &end
	cp := *s
	o.mu.Unlock()

	o.export(ctx, Observation{Type: SpanUpdate, Timestamp: end, Span: &cp})
	return nil
}

// EndOption adjusts a generation as it ends.
type EndOption func(*Generation)

// WithUsage attaches token usage reported by the provider.
func WithUsage(u models.TokenUsage) EndOption {
	return func(g *Generation) { g.Usage = &u }
}

// WithModel records the model that actually answered, which differs from
// the requested one after a fallback.
func WithModel(model string) EndOption {
	return func(g *Generation) {
		if model != "" {
			g.Model = model
		}
	}
}

// WithError marks the generation as failed.
func WithError(err error) EndOption {
	return func(g *Generation) {
		if err == nil {
			return
		}
		g.Level = LevelError
		g.StatusMessage = err.Error()
	}
}

// EndGeneration closes a generation exactly once.
func (o *Observer) EndGeneration(ctx context.Context, id string, output interface{}, opts ...EndOption) error {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return misuse("end of generation %s without an active trace", id)
	}
	g, ok := t.generations[id]
	if !ok {
		o.mu.Unlock()
		return misuse("unknown generation %s", id)
	}
	if g.EndTime != nil {
		o.mu.Unlock()
		return misuse("generation %s already ended", id)
	}
	end := o.now()
	g.Output = output
	g.EndTime = &end
	for _, opt := range opts {
		opt(g)
	}
	cp := *g
	o.mu.Unlock()

	o.export(ctx, Observation{Type: GenerationUpdate, Timestamp: end, Generation: &cp})
	return nil
}

// FinalizeTrace records the conversation and final output on the trace and
// clears it. Spans left open are closed first so the exported tree is
// complete.
func (o *Observer) FinalizeTrace(ctx context.Context, messages []models.Message, output interface{}) error {
	o.mu.Lock()
	t := o.active
	if t == nil {
		o.mu.Unlock()
		return misuse("finalize without an active trace")
	}
	end := o.now()
	var dangling []Observation
	for _, id := range t.spanOrder {
		s := t.spans[id]
		if s.EndTime == nil {
			s.EndTime = &end
			cp := *s
			dangling = append(dangling, Observation{Type: SpanUpdate, Timestamp: end, Span: &cp})
		}
	}
	t.Input = messages
	t.Output = output
	t.EndTime = &end
	o.active = nil
	o.last = t
	hdr := t.header()
	o.mu.Unlock()

	for _, obs := range dangling {
		log.Warn().Str("trace_id", t.ID).Str("span", obs.Span.Name).Msg("Span closed by trace finalization")
		o.export(ctx, obs)
	}
	o.export(ctx, Observation{Type: TraceUpdate, Timestamp: end, Trace: hdr})
	return nil
}

// Context returns the handle tools receive for the active trace.
func (o *Observer) Context(spanID string) TraceContext {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return TraceContext{}
	}
	return TraceContext{TraceID: o.active.ID, SpanID: spanID}
}

// Trace returns a copy of the active trace, or of the most recently
// finalized one. It is nil before the first trace.
func (o *Observer) Trace() *Trace {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch {
	case o.active != nil:
		return o.active.clone()
	case o.last != nil:
		return o.last.clone()
	}
	return nil
}

// Active reports whether a trace is open.
func (o *Observer) Active() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active != nil
}

// Shutdown flushes pending exports and shuts the exporter down. Every turn's
// observer shares one exporter, so this is the process-level shutdown and
// runs once, after the last turn.
func (o *Observer) Shutdown(ctx context.Context) error {
	if err := o.exporter.Flush(ctx); err != nil {
		return fmt.Errorf("flush trace exporter: %w", err)
	}
	if err := o.exporter.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown trace exporter: %w", err)
	}
	return nil
}

func (o *Observer) export(ctx context.Context, obs Observation) {
	if err := o.exporter.Export(ctx, obs); err != nil {
		log.Warn().Err(err).Str("type", string(obs.Type)).Msg("Trace export failed")
	}
}
