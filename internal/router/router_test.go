package router_test

import (
	"context"
	"errors"
	"testing"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/router"
	"github.com/agentoven/hearth/internal/router/routertest"
	"github.com/agentoven/hearth/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T, drivers ...router.Driver) *router.ModelRouter {
	t.Helper()
	return router.NewModelRouter(config.ModelConfig{DefaultProvider: "openai", MaxTokens: 256, Temperature: 0.2}, drivers...)
}

func TestResolveByPrefix(t *testing.T) {
	oa := routertest.New("openai").On("x", routertest.Reply{Content: "from openai"})
	an := routertest.New("anthropic").On("x", routertest.Reply{Content: "from anthropic"})
	mr := newTestRouter(t, oa, an)
	ctx := context.Background()

	resp, err := mr.Complete(ctx, router.Request{Name: "x", Model: "claude-3-5-haiku-latest"})
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", resp.Content)

	resp, err = mr.Complete(ctx, router.Request{Name: "x", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, "from openai", resp.Content)

	resp, err = mr.Complete(ctx, router.Request{Name: "x", Model: "anthropic/my-proxy-model"})
	require.NoError(t, err)
	assert.Equal(t, "from anthropic", resp.Content)
	assert.Equal(t, "my-proxy-model", an.Calls()[1].Model)

	// unknown names use the default provider
	resp, err = mr.Complete(ctx, router.Request{Name: "x", Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "from openai", resp.Content)

	assert.Equal(t, []string{"anthropic", "openai"}, mr.ListDrivers())
}

func TestNoDriver(t *testing.T) {
	mr := newTestRouter(t, routertest.New("openai"))
	_, err := mr.Complete(context.Background(), router.Request{Name: "x", Model: "claude-3"})
	require.ErrorIs(t, err, router.ErrNoDriver)
}

func TestFallbackOnlyOnRateLimit(t *testing.T) {
	d := routertest.New("openai").
		On("plan", routertest.Reply{Err: routertest.RateLimited("gpt-4o-mini")}, routertest.Reply{Content: "[]"})
	mr := newTestRouter(t, d)

	resp, used, err := mr.CompleteWithFallback(context.Background(), router.Request{Name: "plan", Model: "gpt-4o-mini"}, "gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o", used)
	assert.Equal(t, "[]", resp.Content)

	calls := d.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "gpt-4o-mini", calls[0].Model)
	assert.Equal(t, "gpt-4o", calls[1].Model)
}

func TestFallbackRetriesExactlyOnce(t *testing.T) {
	d := routertest.New("openai").On("plan", routertest.Reply{Err: routertest.RateLimited("m")})
	mr := newTestRouter(t, d)

	_, _, err := mr.CompleteWithFallback(context.Background(), router.Request{Name: "plan", Model: "gpt-a"}, "gpt-b")
	require.ErrorIs(t, err, router.ErrRateLimited)
	assert.Len(t, d.Calls(), 2)
}

func TestNoFallbackOnOtherErrors(t *testing.T) {
	d := routertest.New("openai").On("plan", routertest.Reply{Err: routertest.Unavailable("m")})
	mr := newTestRouter(t, d)

	_, _, err := mr.CompleteWithFallback(context.Background(), router.Request{Name: "plan", Model: "gpt-a"}, "gpt-b")
	require.ErrorIs(t, err, router.ErrProvider)
	assert.False(t, errors.Is(err, router.ErrRateLimited))
	assert.Len(t, d.Calls(), 1)
}

func TestStreamWithFallback(t *testing.T) {
	d := routertest.New("openai").
		On("reply", routertest.Reply{Err: routertest.RateLimited("m")}, routertest.Reply{Chunks: []string{"Hel", "lo"}})
	mr := newTestRouter(t, d)

	s, used, err := mr.StreamWithFallback(context.Background(), router.Request{Name: "reply", Model: "gpt-a"}, "gpt-b")
	require.NoError(t, err)
	assert.Equal(t, "gpt-b", used)

	var got string
	for s.Next() {
		got += s.Current()
	}
	require.NoError(t, s.Err())
	assert.Equal(t, "Hello", got)
}

func TestUsageAndDefaults(t *testing.T) {
	d := routertest.New("openai").On("x", routertest.Reply{Content: "ok"})
	mr := newTestRouter(t, d)
	resp, err := mr.Complete(context.Background(), router.Request{Name: "x", Model: "gpt-4o", Messages: []models.ChatMessage{{Role: models.RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, resp.LatencyMs, int64(0))
	assert.NotEmpty(t, resp.ID)
	_, ok := mr.Usage()["gpt-4o"]
	assert.True(t, ok)
}

func TestProviderErrorMatching(t *testing.T) {
	err := routertest.RateLimited("m")
	assert.True(t, router.IsRateLimited(err))
	assert.ErrorIs(t, err, router.ErrProvider)

	var pe *router.ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 429, pe.StatusCode)
}
