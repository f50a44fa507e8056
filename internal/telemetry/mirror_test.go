package telemetry

import (
	"context"
	"errors"
	"testing"

	"github.com/agentoven/hearth/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSpanMirrorReplaysTurn(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	mirror := NewSpanMirror(tp)

	ctx := context.Background()
	obs := tracing.NewObserver(mirror)
	_, err := obs.InitializeTrace(ctx, tracing.TraceSpec{Name: "turn", SessionID: "c1"})
	require.NoError(t, err)
	span, err := obs.StartSpan(ctx, tracing.SpanSpec{Name: "observe"})
	require.NoError(t, err)
	gen, err := obs.StartGeneration(ctx, tracing.GenerationSpec{Name: "environment", Model: "gpt-4o-mini"}, span)
	require.NoError(t, err)
	require.NoError(t, obs.EndGeneration(ctx, gen, nil, tracing.WithError(errors.New("overloaded"))))
	_, err = obs.RecordEvent(ctx, tracing.EventSpec{Name: "act"}, span)
	require.NoError(t, err)
	require.NoError(t, obs.EndSpan(ctx, span, nil))
	require.NoError(t, obs.FinalizeTrace(ctx, nil, "ok"))

	ended := rec.Ended()
	require.Len(t, ended, 3)
	byName := map[string]sdktrace.ReadOnlySpan{}
	for _, s := range ended {
		byName[s.Name()] = s
	}

	root := byName["turn turn"]
	phase := byName["observe"]
	call := byName["generation environment"]
	require.NotNil(t, root)
	require.NotNil(t, phase)
	require.NotNil(t, call)

	assert.Equal(t, root.SpanContext().SpanID(), phase.Parent().SpanID())
	assert.Equal(t, phase.SpanContext().SpanID(), call.Parent().SpanID())
	assert.Equal(t, root.SpanContext().TraceID(), call.SpanContext().TraceID())
	assert.Equal(t, codes.Error, call.Status().Code)
	require.Len(t, phase.Events(), 1)
	assert.Equal(t, "act", phase.Events()[0].Name)

	require.NoError(t, mirror.Shutdown(ctx))
}

func TestSpanMirrorRejectsUnknownTrace(t *testing.T) {
	mirror := NewSpanMirror(sdktrace.NewTracerProvider())
	err := mirror.Export(context.Background(), tracing.Observation{
		Type: tracing.SpanCreate,
		Span: &tracing.Span{ID: "s", TraceID: "missing"},
	})
	assert.Error(t, err)
}
