// Package tracing records the hierarchical trace of one reasoning cycle.
//
// A Trace is the root of a turn. Spans group the phases of the loop and
// always hang off the trace. Generations record model calls and may hang off
// the trace or a span. Events are point-in-time records. Every element is
// append-only apart from a single End.
package tracing

import (
	"time"

	"github.com/agentoven/hearth/pkg/models"
)

// Trace is the root record of a turn. It owns the arena of spans,
// generations and events created under it.
type Trace struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	UserID    string                 `json:"user_id,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Input     interface{}            `json:"input,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time,omitempty"`

	spans       map[string]*Span
	generations map[string]*Generation
	events      []*Event
	spanOrder   []string
	genOrder    []string
}

func newTrace(id string, spec TraceSpec, now time.Time) *Trace {
	return &Trace{
		ID:          id,
		Name:        spec.Name,
		UserID:      spec.UserID,
		SessionID:   spec.SessionID,
		Input:       spec.Input,
		Metadata:    spec.Metadata,
		Tags:        spec.Tags,
		StartTime:   now,
		spans:       make(map[string]*Span),
		generations: make(map[string]*Generation),
	}
}

// header returns a copy of the trace without its arena.
func (t *Trace) header() *Trace {
	return &Trace{
		ID:        t.ID,
		Name:      t.Name,
		UserID:    t.UserID,
		SessionID: t.SessionID,
		Input:     t.Input,
		Output:    t.Output,
		Metadata:  t.Metadata,
		Tags:      t.Tags,
		StartTime: t.StartTime,
		EndTime:   t.EndTime,
	}
}

// clone copies the trace and its arena. Spans, generations and events are
// copied by value so later updates to t do not show through.
func (t *Trace) clone() *Trace {
	out := t.header()
	out.spans = make(map[string]*Span, len(t.spans))
	for id, sp := range t.spans {
		cp := *sp
		out.spans[id] = &cp
	}
	out.generations = make(map[string]*Generation, len(t.generations))
	for id, g := range t.generations {
		cp := *g
		out.generations[id] = &cp
	}
	out.events = make([]*Event, 0, len(t.events))
	for _, e := range t.events {
		cp := *e
		out.events = append(out.events, &cp)
	}
	out.spanOrder = append([]string(nil), t.spanOrder...)
	out.genOrder = append([]string(nil), t.genOrder...)
	return out
}

// Ended reports whether the trace has been finalized.
func (t *Trace) Ended() bool { return t.EndTime != nil }

// Spans returns copies of the spans in creation order.
func (t *Trace) Spans() []Span {
	out := make([]Span, 0, len(t.spanOrder))
	for _, id := range t.spanOrder {
		out = append(out, *t.spans[id])
	}
	return out
}

// Generations returns copies of the generations in creation order.
func (t *Trace) Generations() []Generation {
	out := make([]Generation, 0, len(t.genOrder))
	for _, id := range t.genOrder {
		out = append(out, *t.generations[id])
	}
	return out
}

// Events returns copies of the recorded events in order.
func (t *Trace) Events() []Event {
	out := make([]Event, 0, len(t.events))
	for _, e := range t.events {
		out = append(out, *e)
	}
	return out
}

// Span groups the work of one phase. Its parent is always the trace.
type Span struct {
	ID        string                 `json:"id"`
	TraceID   string                 `json:"trace_id"`
	Name      string                 `json:"name"`
	Input     interface{}            `json:"input,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	StartTime time.Time              `json:"start_time"`
	EndTime   *time.Time             `json:"end_time,omitempty"`
}

// Generation records one model call.
type Generation struct {
	ID              string                 `json:"id"`
	TraceID         string                 `json:"trace_id"`
	ParentSpanID    string                 `json:"parent_span_id,omitempty"`
	Name            string                 `json:"name"`
	Model           string                 `json:"model,omitempty"`
	ModelParameters map[string]interface{} `json:"model_parameters,omitempty"`
	Input           interface{}            `json:"input,omitempty"`
	Output          interface{}            `json:"output,omitempty"`
	Usage           *models.TokenUsage     `json:"usage,omitempty"`
	Level           string                 `json:"level,omitempty"`
	StatusMessage   string                 `json:"status_message,omitempty"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
}

// Event is a point-in-time record.
type Event struct {
	ID           string      `json:"id"`
	TraceID      string      `json:"trace_id"`
	ParentSpanID string      `json:"parent_span_id,omitempty"`
	Name         string      `json:"name"`
	Input        interface{} `json:"input,omitempty"`
	Output       interface{} `json:"output,omitempty"`
	Level        string      `json:"level,omitempty"`
	Time         time.Time   `json:"time"`
}

// Levels understood by exporters.
const (
	LevelDebug   = "DEBUG"
	LevelDefault = "DEFAULT"
	LevelWarning = "WARNING"
	LevelError   = "ERROR"
)

// TraceSpec describes a trace to open.
type TraceSpec struct {
	Name      string
	UserID    string
	SessionID string
	Input     interface{}
	Metadata  map[string]interface{}
	Tags      []string
}

type SpanSpec struct {
	Name     string
	Input    interface{}
	Metadata map[string]interface{}
}

type GenerationSpec struct {
	Name            string
	Model           string
	ModelParameters map[string]interface{}
	Input           interface{}
}

type EventSpec struct {
	Name   string
	Input  interface{}
	Output interface{}
	Level  string
}

// TraceContext is the minimal trace handle passed to tools.
type TraceContext struct {
	TraceID string
	SpanID  string
}
