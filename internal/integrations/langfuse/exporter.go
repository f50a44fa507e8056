// Package langfuse ships turn traces to a Langfuse instance through its
// batch ingestion API (/api/public/ingestion).
//
// Observations are buffered and pushed when the batch is full, on every
// flush interval and on Shutdown. The exporter is optional; it is installed
// when LANGFUSE_PUBLIC_KEY and LANGFUSE_SECRET_KEY are set.
package langfuse

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Langfuse Ingestion Format ────────────────────────────────

// Trace is a trace body. Langfuse upserts traces by id, so updates are sent
// as trace-create as well.
type Trace struct {
	ID        string                 `json:"id"`
	Name      string                 `json:"name"`
	Input     interface{}            `json:"input,omitempty"`
	Output    interface{}            `json:"output,omitempty"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
	UserID    string                 `json:"userId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Release   string                 `json:"release,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Observation is the body shared by spans, generations and events.
type Observation struct {
	ID                  string                 `json:"id"`
	TraceID             string                 `json:"traceId"`
	ParentObservationID string                 `json:"parentObservationId,omitempty"`
	Name                string                 `json:"name"`
	Model               string                 `json:"model,omitempty"`
	ModelParameters     map[string]interface{} `json:"modelParameters,omitempty"`
	Input               interface{}            `json:"input,omitempty"`
	Output              interface{}            `json:"output,omitempty"`
	Metadata            map[string]interface{} `json:"metadata,omitempty"`
	Usage               *Usage                 `json:"usage,omitempty"`
	Level               string                 `json:"level,omitempty"` // DEBUG, DEFAULT, WARNING, ERROR
	StatusMessage       string                 `json:"statusMessage,omitempty"`
	StartTime           time.Time              `json:"startTime"`
	EndTime             *time.Time             `json:"endTime,omitempty"`
}

// Usage tracks token usage in Langfuse format.
type Usage struct {
	Input  int64  `json:"input,omitempty"`
	Output int64  `json:"output,omitempty"`
	Total  int64  `json:"total,omitempty"`
	Unit   string `json:"unit,omitempty"` // "TOKENS"
}

// IngestionEvent is one event in a batch ingestion request.
type IngestionEvent struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Body      interface{} `json:"body"`
}

// IngestionBatch is the request body for /api/public/ingestion.
type IngestionBatch struct {
	Batch    []IngestionEvent       `json:"batch"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// ── Exporter ─────────────────────────────────────────────────

// maxBufferedBatches bounds what is kept while Langfuse is unreachable.
const maxBufferedBatches = 20

// Exporter implements tracing.Exporter.
type Exporter struct {
	client    *http.Client
	baseURL   string
	publicKey string
	secretKey string
	release   string
	batchSize int

	mu  sync.Mutex
	buf []IngestionEvent

	pushMu sync.Mutex // serializes pushes

	kick     chan struct{}
	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// NewExporter starts an exporter flushing every cfg.FlushInterval.
func NewExporter(cfg config.LangfuseConfig, release string) *Exporter {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}
	e := &Exporter{
		client:    &http.Client{Timeout: 30 * time.Second},
		baseURL:   cfg.BaseURL,
		publicKey: cfg.PublicKey,
		secretKey: cfg.SecretKey,
		release:   release,
		batchSize: batch,
		kick:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}
	go e.loop(interval)
	log.Info().Str("url", cfg.BaseURL).Msg("✅ Langfuse export enabled")
	return e
}

func (e *Exporter) loop(interval time.Duration) {
	defer close(e.stopped)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
		case <-e.kick:
		case <-e.done:
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.Flush(ctx); err != nil {
			log.Warn().Err(err).Msg("Langfuse flush failed")
		}
		cancel()
	}
}

// Export converts obs and buffers it.
func (e *Exporter) Export(_ context.Context, obs tracing.Observation) error {
	ev, err := e.convert(obs)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.buf = append(e.buf, ev)
	full := len(e.buf) >= e.batchSize
	e.mu.Unlock()

	if full {
		select {
		case e.kick <- struct{}{}:
		default:
		}
	}
	return nil
}

// Flush pushes everything buffered. Events of a failed push are put back
// as long as the buffer has room.
func (e *Exporter) Flush(ctx context.Context) error {
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	e.mu.Lock()
	pending := e.buf
	e.buf = nil
	e.mu.Unlock()

	for len(pending) > 0 {
		n := min(len(pending), e.batchSize)
		batch := IngestionBatch{
			Batch:    pending[:n],
			Metadata: map[string]interface{}{"source": "hearth", "batch_size": n},
		}
		if err := e.push(ctx, batch); err != nil {
			e.requeue(pending)
			return err
		}
		pending = pending[n:]
	}
	return nil
}

func (e *Exporter) requeue(events []IngestionEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()
	merged := append(append([]IngestionEvent(nil), events...), e.buf...)
	if limit := e.batchSize * maxBufferedBatches; len(merged) > limit {
		log.Warn().Int("dropped", len(merged)-limit).Msg("Langfuse buffer full, dropping oldest events")
		merged = merged[len(merged)-limit:]
	}
	e.buf = merged
}

// Shutdown stops the flush loop and pushes what is left.
func (e *Exporter) Shutdown(ctx context.Context) error {
	e.stopOnce.Do(func() { close(e.done) })
	select {
	case <-e.stopped:
	case <-ctx.Done():
		return ctx.Err()
	}
	return e.Flush(ctx)
}

// Pending returns how many events wait for the next push.
func (e *Exporter) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.buf)
}

func (e *Exporter) convert(obs tracing.Observation) (IngestionEvent, error) {
	ev := IngestionEvent{ID: uuid.NewString(), Type: string(obs.Type), Timestamp: obs.Timestamp}
	switch {
	case obs.Trace != nil:
		ev.Type = "trace-create"
		ev.Body = e.convertTrace(obs.Trace)
	case obs.Span != nil:
		s := obs.Span
		ev.Body = Observation{
			ID:        s.ID,
			TraceID:   s.TraceID,
			Name:      s.Name,
			Input:     s.Input,
			Output:    s.Output,
			Metadata:  s.Metadata,
			StartTime: s.StartTime,
			EndTime:   s.EndTime,
		}
	case obs.Generation != nil:
		g := obs.Generation
		body := Observation{
			ID:                  g.ID,
			TraceID:             g.TraceID,
			ParentObservationID: g.ParentSpanID,
			Name:                g.Name,
			Model:               g.Model,
			ModelParameters:     g.ModelParameters,
			Input:               g.Input,
			Output:              g.Output,
			Level:               g.Level,
			StatusMessage:       g.StatusMessage,
			StartTime:           g.StartTime,
			EndTime:             g.EndTime,
		}
		if g.Usage != nil {
			body.Usage = &Usage{
				Input:  g.Usage.InputTokens,
				Output: g.Usage.OutputTokens,
				Total:  g.Usage.TotalTokens,
				Unit:   "TOKENS",
			}
		}
		ev.Body = body
	case obs.Event != nil:
		x := obs.Event
		ev.Body = Observation{
			ID:                  x.ID,
			TraceID:             x.TraceID,
			ParentObservationID: x.ParentSpanID,
			Name:                x.Name,
			Input:               x.Input,
			Output:              x.Output,
			Level:               x.Level,
			StartTime:           x.Time,
		}
	default:
		return ev, fmt.Errorf("langfuse: empty %s observation", obs.Type)
	}
	return ev, nil
}

func (e *Exporter) convertTrace(t *tracing.Trace) Trace {
	return Trace{
		ID:        t.ID,
		Name:      t.Name,
		Input:     t.Input,
		Output:    t.Output,
		Metadata:  t.Metadata,
		Tags:      append([]string{"hearth"}, t.Tags...),
		UserID:    t.UserID,
		SessionID: t.SessionID,
		Release:   e.release,
		Timestamp: t.StartTime,
	}
}

func (e *Exporter) push(ctx context.Context, batch IngestionBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal langfuse batch: %w", err)
	}

	url := fmt.Sprintf("%s/api/public/ingestion", e.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build langfuse request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(e.publicKey, e.secretKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("langfuse push failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("langfuse returned HTTP %d", resp.StatusCode)
	}

	log.Debug().Int("events", len(batch.Batch)).Msg("Traces exported to Langfuse")
	return nil
}
