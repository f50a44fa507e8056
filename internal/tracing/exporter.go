package tracing

import (
	"context"
	"errors"
	"sync"
	"time"
)

type ObservationType string

const (
	TraceCreate      ObservationType = "trace-create"
	TraceUpdate      ObservationType = "trace-update"
	SpanCreate       ObservationType = "span-create"
	SpanUpdate       ObservationType = "span-update"
	GenerationCreate ObservationType = "generation-create"
	GenerationUpdate ObservationType = "generation-update"
	EventCreate      ObservationType = "event-create"
)

// Observation is one change to a trace. Exactly one of the pointer fields is
// set, matching Type. The values are copies owned by the receiver.
type Observation struct {
	Type       ObservationType
	Timestamp  time.Time
	Trace      *Trace
	Span       *Span
	Generation *Generation
	Event      *Event
}

// Exporter ships observations to a tracing backend.
type Exporter interface {
	Export(ctx context.Context, obs Observation) error
	Flush(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// NopExporter discards everything.
type NopExporter struct{}

func (NopExporter) Export(context.Context, Observation) error { return nil }
func (NopExporter) Flush(context.Context) error               { return nil }
func (NopExporter) Shutdown(context.Context) error            { return nil }

// MultiExporter fans observations out to several exporters.
type MultiExporter []Exporter

func (m MultiExporter) Export(ctx context.Context, obs Observation) error {
	var errs []error
	for _, e := range m {
		if err := e.Export(ctx, obs); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiExporter) Flush(ctx context.Context) error {
	var errs []error
	for _, e := range m {
		if err := e.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m MultiExporter) Shutdown(ctx context.Context) error {
	var errs []error
	for _, e := range m {
		if err := e.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RecordingExporter keeps observations in memory.
type RecordingExporter struct {
	mu  sync.Mutex
	obs []Observation
}

func NewRecordingExporter() *RecordingExporter {
	return &RecordingExporter{}
}

func (r *RecordingExporter) Export(_ context.Context, obs Observation) error {
	r.mu.Lock()
	r.obs = append(r.obs, obs)
	r.mu.Unlock()
	return nil
}

func (r *RecordingExporter) Flush(context.Context) error    { return nil }
func (r *RecordingExporter) Shutdown(context.Context) error { return nil }

// Observations returns a copy of everything recorded so far.
func (r *RecordingExporter) Observations() []Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Observation(nil), r.obs...)
}

// Count returns how many observations of type t were recorded.
func (r *RecordingExporter) Count(t ObservationType) int {
	n := 0
	for _, o := range r.Observations() {
		if o.Type == t {
			n++
		}
	}
	return n
}
