// Package router implements the Hearth model router.
//
// The router resolves a model name to a provider driver, paces calls with an
// optional rate limiter, records per-call latency and token usage, and retries a
// rate-limited call once against a fallback model.
package router

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Request is one model call. Name identifies the purpose of the call
// (observe, plan, reply, ...) for logs and traces.
type Request struct {
	Name        string
	Model       string
	Messages    []models.ChatMessage
	MaxTokens   int
	Temperature *float64
}

type Response struct {
	ID        string            `json:"id"`
	Provider  string            `json:"provider"`
	Model     string            `json:"model"`
	Content   string            `json:"content"`
	Usage     models.TokenUsage `json:"usage"`
	LatencyMs int64             `json:"latency_ms"`
}

// TokenStream yields content deltas of a streaming completion.
type TokenStream interface {
	Next() bool
	Current() string
	Err() error
	Close() error
}

// Driver talks to one provider.
type Driver interface {
	Kind() string
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream must report errors that happen before the first token from
	// Stream itself, so callers can fall back before anything is emitted.
	Stream(ctx context.Context, req Request) (TokenStream, error)
}

// ModelRouter routes model calls to provider drivers.
type ModelRouter struct {
	drivers     map[string]Driver
	defaultKind string
	limiter     *rate.Limiter
	maxTokens   int
	temperature float64

	// Usage tracking: model → accumulated tokens
	usageMu sync.RWMutex
	usage   map[string]*models.TokenUsage
}

// NewModelRouter creates a router over the given drivers.
func NewModelRouter(cfg config.ModelConfig, drivers ...Driver) *ModelRouter {
	mr := &ModelRouter{
		drivers:     make(map[string]Driver, len(drivers)),
		defaultKind: cfg.DefaultProvider,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		usage:       make(map[string]*models.TokenUsage),
	}
	for _, d := range drivers {
		mr.drivers[d.Kind()] = d
	}
	if cfg.RequestsPerSecond > 0 {
		mr.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if _, ok := mr.drivers[mr.defaultKind]; !ok && len(drivers) > 0 {
		mr.defaultKind = drivers[0].Kind()
	}
	return mr
}

// NewFromConfig builds drivers for every provider with credentials.
func NewFromConfig(cfg *config.Config) (*ModelRouter, error) {
	var drivers []Driver
	if cfg.Providers.OpenAIKey != "" {
		drivers = append(drivers, NewOpenAIDriver(cfg.Providers.OpenAIKey, cfg.Providers.OpenAIBaseURL))
	}
	if cfg.Providers.AnthropicKey != "" {
		drivers = append(drivers, NewAnthropicDriver(cfg.Providers.AnthropicKey))
	}
	if len(drivers) == 0 {
		return nil, fmt.Errorf("no model providers configured: set OPENAI_API_KEY or ANTHROPIC_API_KEY")
	}
	mr := NewModelRouter(cfg.Model, drivers...)
	log.Info().Strs("drivers", mr.ListDrivers()).Str("default", mr.defaultKind).Msg("✅ Model Router initialized")
	return mr, nil
}

// ListDrivers returns the registered driver kinds.
func (mr *ModelRouter) ListDrivers() []string {
	out := make([]string, 0, len(mr.drivers))
	for k := range mr.drivers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// resolve maps a model name to a driver. "kind/model" selects the driver
// explicitly; claude models go to anthropic; gpt and o-series to openai.
func (mr *ModelRouter) resolve(model string) (Driver, string, error) {
	kind := mr.defaultKind
	name := model
	if k, rest, ok := strings.Cut(model, "/"); ok {
		if _, known := mr.drivers[k]; known {
			kind, name = k, rest
		}
	} else {
		switch {
		case strings.HasPrefix(model, "claude"):
			kind = "anthropic"
		case strings.HasPrefix(model, "gpt"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"), strings.HasPrefix(model, "o4"):
			kind = "openai"
		}
	}
	d, ok := mr.drivers[kind]
	if !ok {
		return nil, "", fmt.Errorf("%w: %s", ErrNoDriver, model)
	}
	return d, name, nil
}

func (mr *ModelRouter) prepare(ctx context.Context, req Request) (Driver, Request, error) {
	d, name, err := mr.resolve(req.Model)
	if err != nil {
		return nil, req, err
	}
	req.Model = name
	if req.MaxTokens == 0 {
		req.MaxTokens = mr.maxTokens
	}
	if req.Temperature == nil {
		t := mr.temperature
		req.Temperature = &t
	}
	if mr.limiter != nil {
		if err := mr.limiter.Wait(ctx); err != nil {
			return nil, req, fmt.Errorf("rate limiter: %w", err)
		}
	}
	return d, req, nil
}

// Complete sends a non-streaming request.
func (mr *ModelRouter) Complete(ctx context.Context, req Request) (*Response, error) {
	d, req, err := mr.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	resp, err := d.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	mr.trackUsage(req.Model, resp.Usage)
	return resp, nil
}

// Stream opens a streaming request.
func (mr *ModelRouter) Stream(ctx context.Context, req Request) (TokenStream, error) {
	d, req, err := mr.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	return d.Stream(ctx, req)
}

// CompleteWithFallback calls req.Model and, only when that call is rate
// limited, retries exactly once with alt. It returns the model that answered.
func (mr *ModelRouter) CompleteWithFallback(ctx context.Context, req Request, alt string) (*Response, string, error) {
	resp, err := mr.Complete(ctx, req)
	if err == nil {
		return resp, req.Model, nil
	}
	if !IsRateLimited(err) || alt == "" || alt == req.Model {
		return nil, req.Model, err
	}
	log.Warn().Err(err).Str("call", req.Name).Str("model", req.Model).Str("fallback", alt).Msg("Rate limited, retrying on fallback model")
	req.Model = alt
	resp, err = mr.Complete(ctx, req)
	if err != nil {
		return nil, alt, err
	}
	return resp, alt, nil
}

// StreamWithFallback is the streaming counterpart of CompleteWithFallback.
func (mr *ModelRouter) StreamWithFallback(ctx context.Context, req Request, alt string) (TokenStream, string, error) {
	s, err := mr.Stream(ctx, req)
	if err == nil {
		return s, req.Model, nil
	}
	if !IsRateLimited(err) || alt == "" || alt == req.Model {
		return nil, req.Model, err
	}
	log.Warn().Err(err).Str("call", req.Name).Str("model", req.Model).Str("fallback", alt).Msg("Rate limited, retrying stream on fallback model")
	req.Model = alt
	s, err = mr.Stream(ctx, req)
	if err != nil {
		return nil, alt, err
	}
	return s, alt, nil
}

func (mr *ModelRouter) trackUsage(model string, u models.TokenUsage) {
	mr.usageMu.Lock()
	defer mr.usageMu.Unlock()
	acc, ok := mr.usage[model]
	if !ok {
		acc = &models.TokenUsage{}
		mr.usage[model] = acc
	}
	acc.InputTokens += u.InputTokens
	acc.OutputTokens += u.OutputTokens
	acc.TotalTokens += u.TotalTokens
}

// Usage returns accumulated token usage per model.
func (mr *ModelRouter) Usage() map[string]models.TokenUsage {
	mr.usageMu.RLock()
	defer mr.usageMu.RUnlock()
	out := make(map[string]models.TokenUsage, len(mr.usage))
	for k, v := range mr.usage {
		out[k] = *v
	}
	return out
}

// sliceStream replays a fixed list of deltas. Drivers use it to prepend a
// token read while checking for early errors.
type sliceStream struct {
	pending []string
	cur     string
	rest    TokenStream
}

func (s *sliceStream) Next() bool {
	if len(s.pending) > 0 {
		s.cur, s.pending = s.pending[0], s.pending[1:]
		return true
	}
	if s.rest == nil || !s.rest.Next() {
		return false
	}
	s.cur = s.rest.Current()
	return true
}

func (s *sliceStream) Current() string { return s.cur }

func (s *sliceStream) Err() error {
	if s.rest == nil {
		return nil
	}
	return s.rest.Err()
}

func (s *sliceStream) Close() error {
	if s.rest == nil {
		return nil
	}
	return s.rest.Close()
}

// primeStream reads the first token of s so that connection and rate limit
// errors surface before anything is emitted downstream.
func primeStream(s TokenStream, classify func(error) error) (TokenStream, error) {
	if s.Next() {
		return &sliceStream{pending: []string{s.Current()}, rest: s}, nil
	}
	if err := s.Err(); err != nil {
		s.Close()
		return nil, classify(err)
	}
	return &sliceStream{rest: s}, nil
}
