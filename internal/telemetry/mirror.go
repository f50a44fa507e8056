package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/hearth/internal/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// SpanMirror implements tracing.Exporter by replaying turn traces as
// OpenTelemetry spans: the trace becomes the root span, spans and
// generations its children and events span events. Timestamps are taken
// from the observations.
type SpanMirror struct {
	tracer trace.Tracer

	mu    sync.Mutex
	open  map[string]trace.Span      // observation id → span
	roots map[string]context.Context // trace id → root span context
}

// NewSpanMirror mirrors into tp; nil uses the global provider.
func NewSpanMirror(tp trace.TracerProvider) *SpanMirror {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &SpanMirror{
		tracer: tp.Tracer("github.com/agentoven/hearth/internal/tracing"),
		open:   make(map[string]trace.Span),
		roots:  make(map[string]context.Context),
	}
}

func (m *SpanMirror) Export(ctx context.Context, obs tracing.Observation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch obs.Type {
	case tracing.TraceCreate:
		t := obs.Trace
		rootCtx, span := m.tracer.Start(context.WithoutCancel(ctx), "turn "+t.Name,
			trace.WithTimestamp(t.StartTime),
			trace.WithNewRoot(),
			trace.WithAttributes(
				attribute.String("hearth.trace_id", t.ID),
				attribute.String("hearth.user_id", t.UserID),
				attribute.String("hearth.conversation_id", t.SessionID),
			),
		)
		m.roots[t.ID] = rootCtx
		m.open[t.ID] = span

	case tracing.TraceUpdate:
		t := obs.Trace
		span, ok := m.open[t.ID]
		if !ok {
			return fmt.Errorf("otel mirror: unknown trace %s", t.ID)
		}
		span.End(trace.WithTimestamp(obs.Timestamp))
		delete(m.open, t.ID)
		delete(m.roots, t.ID)

	case tracing.SpanCreate:
		s := obs.Span
		parent, ok := m.roots[s.TraceID]
		if !ok {
			return fmt.Errorf("otel mirror: span %s of unknown trace %s", s.ID, s.TraceID)
		}
		_, span := m.tracer.Start(parent, s.Name, trace.WithTimestamp(s.StartTime))
		m.open[s.ID] = span

	case tracing.SpanUpdate:
		return m.end(obs.Span.ID, obs.Timestamp, "", "")

	case tracing.GenerationCreate:
		g := obs.Generation
		parent, ok := m.parent(g.TraceID, g.ParentSpanID)
		if !ok {
			return fmt.Errorf("otel mirror: generation %s of unknown trace %s", g.ID, g.TraceID)
		}
		_, span := m.tracer.Start(parent, "generation "+g.Name,
			trace.WithTimestamp(g.StartTime),
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(attribute.String("gen_ai.request.model", g.Model)),
		)
		m.open[g.ID] = span

	case tracing.GenerationUpdate:
		g := obs.Generation
		if span, ok := m.open[g.ID]; ok {
			span.SetAttributes(attribute.String("gen_ai.response.model", g.Model))
			if g.Usage != nil {
				span.SetAttributes(
					attribute.Int64("gen_ai.usage.input_tokens", g.Usage.InputTokens),
					attribute.Int64("gen_ai.usage.output_tokens", g.Usage.OutputTokens),
				)
			}
		}
		return m.end(g.ID, obs.Timestamp, g.Level, g.StatusMessage)

	case tracing.EventCreate:
		e := obs.Event
		target := e.TraceID
		if e.ParentSpanID != "" {
			target = e.ParentSpanID
		}
		span, ok := m.open[target]
		if !ok {
			return fmt.Errorf("otel mirror: event %s has no open parent", e.ID)
		}
		span.AddEvent(e.Name, trace.WithTimestamp(e.Time), trace.WithAttributes(attribute.String("level", e.Level)))
	}
	return nil
}

func (m *SpanMirror) parent(traceID, spanID string) (context.Context, bool) {
	root, ok := m.roots[traceID]
	if !ok {
		return nil, false
	}
	if spanID == "" {
		return root, true
	}
	span, ok := m.open[spanID]
	if !ok {
		return root, true
	}
	return trace.ContextWithSpan(root, span), true
}

func (m *SpanMirror) end(id string, at time.Time, level, msg string) error {
	span, ok := m.open[id]
	if !ok {
		return fmt.Errorf("otel mirror: unknown observation %s", id)
	}
	if level == tracing.LevelError {
		span.SetStatus(codes.Error, msg)
	}
	span.End(trace.WithTimestamp(at))
	delete(m.open, id)
	return nil
}

func (m *SpanMirror) Flush(context.Context) error { return nil }

// Shutdown ends spans left open.
func (m *SpanMirror) Shutdown(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, span := range m.open {
		span.End()
		delete(m.open, id)
	}
	m.roots = make(map[string]context.Context)
	return nil
}
