package router

import (
	"context"
	"errors"

	"github.com/agentoven/hearth/pkg/models"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIDriver calls the Chat Completions API, or any compatible endpoint
// when a base URL is set.
type OpenAIDriver struct {
	client *openai.Client
}

func NewOpenAIDriver(apiKey, baseURL string) *OpenAIDriver {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIDriver{client: &client}
}

func (d *OpenAIDriver) Kind() string { return "openai" }

func (d *OpenAIDriver) params(req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case models.RoleAssistant:
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    req.Model,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params
}

func (d *OpenAIDriver) classify(model string, err error) error {
	pe := &ProviderError{Provider: d.Kind(), Model: model, Err: err}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		pe.StatusCode = apiErr.StatusCode
	}
	return pe
}

func (d *OpenAIDriver) Complete(ctx context.Context, req Request) (*Response, error) {
	resp, err := d.client.Chat.Completions.New(ctx, d.params(req))
	if err != nil {
		return nil, d.classify(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ProviderError{Provider: d.Kind(), Model: req.Model, Err: errors.New("no choices returned")}
	}
	return &Response{
		ID:       resp.ID,
		Provider: d.Kind(),
		Model:    resp.Model,
		Content:  resp.Choices[0].Message.Content,
		Usage: models.TokenUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}, nil
}

func (d *OpenAIDriver) Stream(ctx context.Context, req Request) (TokenStream, error) {
	stream := d.client.Chat.Completions.NewStreaming(ctx, d.params(req))
	return primeStream(&openAIStream{stream: stream}, func(err error) error { return d.classify(req.Model, err) })
}

type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	cur    string
}

// Next skips chunks that carry no content, such as the role preamble.
func (s *openAIStream) Next() bool {
	for s.stream.Next() {
		ck := s.stream.Current()
		if len(ck.Choices) == 0 || ck.Choices[0].Delta.Content == "" {
			continue
		}
		s.cur = ck.Choices[0].Delta.Content
		return true
	}
	return false
}

func (s *openAIStream) Current() string { return s.cur }
func (s *openAIStream) Err() error      { return s.stream.Err() }
func (s *openAIStream) Close() error    { return s.stream.Close() }
