package router

import (
	"context"
	"errors"
	"strings"

	"github.com/agentoven/hearth/pkg/models"
	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
)

// AnthropicDriver calls the Messages API.
type AnthropicDriver struct {
	client *anthropic.Client
}

func NewAnthropicDriver(apiKey string) *AnthropicDriver {
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicDriver{client: &client}
}

func (d *AnthropicDriver) Kind() string { return "anthropic" }

// params folds system messages into the system prompt and merges adjacent
// turns of the same role, which the Messages API rejects.
func (d *AnthropicDriver) params(req Request) anthropic.MessageNewParams {
	var system []string
	var msgs []anthropic.MessageParam
	var lastRole models.Role
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		block := anthropic.NewTextBlock(strings.Join(buf, "\n\n"))
		if lastRole == models.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(block))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(block))
		}
		buf = nil
	}

	for _, m := range req.Messages {
		if m.Role == models.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := m.Role
		if role != models.RoleAssistant {
			role = models.RoleUser
		}
		if role != lastRole {
			flush()
			lastRole = role
		}
		buf = append(buf, m.Content)
	}
	flush()

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  msgs,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}
	return params
}

func (d *AnthropicDriver) classify(model string, err error) error {
	pe := &ProviderError{Provider: d.Kind(), Model: model, Err: err}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}

func (d *AnthropicDriver) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := d.client.Messages.New(ctx, d.params(req))
	if err != nil {
		return nil, d.classify(req.Model, err)
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.AsText().Text)
		}
	}
	return &Response{
		ID:       resp.ID,
		Provider: d.Kind(),
		Model:    string(resp.Model),
		Content:  sb.String(),
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.InputTokens,
			OutputTokens: resp.Usage.OutputTokens,
			TotalTokens:  resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func (d *AnthropicDriver) Stream(ctx context.Context, req Request) (TokenStream, error) {
	stream := d.client.Messages.NewStreaming(ctx, d.params(req))
	return primeStream(&anthropicStream{stream: stream}, func(err error) error { return d.classify(req.Model, err) })
}

type anthropicStream struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
	cur    string
}

func (s *anthropicStream) Next() bool {
	for s.stream.Next() {
		ev, ok := s.stream.Current().AsAny().(anthropic.ContentBlockDeltaEvent)
		if !ok {
			continue
		}
		delta, ok := ev.Delta.AsAny().(anthropic.TextDelta)
		if !ok || delta.Text == "" {
			continue
		}
		s.cur = delta.Text
		return true
	}
	return false
}

func (s *anthropicStream) Current() string { return s.cur }
func (s *anthropicStream) Err() error      { return s.stream.Err() }
func (s *anthropicStream) Close() error    { return s.stream.Close() }
