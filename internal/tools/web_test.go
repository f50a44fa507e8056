package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebFetchConvertsHTML(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><style>p{}</style><script>x()</script></head><body>
<h1>Forecast</h1>
<p>Sunny and 21C</p>
</body></html>`)
	}))
	defer srv.Close()

	tool, err := NewWeb(config.ToolsConfig{WebEnabled: true})
	require.NoError(t, err)
	ctx := context.Background()

	res, err := tool.Execute(ctx, "fetch", json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)), tracing.TraceContext{})
	require.NoError(t, err)
	require.True(t, res.Success, res.Error)
	out := res.Data.(fetchOutput)
	assert.Contains(t, out.Content, "# Forecast")
	assert.Contains(t, out.Content, "Sunny and 21C")

	res, err = tool.Execute(ctx, "fetch", json.RawMessage(fmt.Sprintf(`{"url":%q,"format":"text"}`, srv.URL)), tracing.TraceContext{})
	require.NoError(t, err)
	out = res.Data.(fetchOutput)
	assert.Equal(t, "Forecast\nSunny and 21C", out.Content)
}

func TestWebFetchHTTPErrorIsBusinessFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tool, err := NewWeb(config.ToolsConfig{WebEnabled: true})
	require.NoError(t, err)
	res, err := tool.Execute(context.Background(), "fetch", json.RawMessage(fmt.Sprintf(`{"url":%q}`, srv.URL)), tracing.TraceContext{})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "404")
}

func TestWebSearchOnlyWithEndpoint(t *testing.T) {
	tool, err := NewWeb(config.ToolsConfig{WebEnabled: true})
	require.NoError(t, err)
	require.Len(t, tool.Actions(), 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "weather berlin", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		fmt.Fprint(w, `{"results":[{"title":"a","url":"http://a","content":"x"},{"title":"b","url":"http://b"},{"title":"c","url":"http://c"}]}`)
	}))
	defer srv.Close()

	tool, err = NewWeb(config.ToolsConfig{WebEnabled: true, SearXNGURL: srv.URL + "/"})
	require.NoError(t, err)
	require.Len(t, tool.Actions(), 2)

	res, err := tool.Execute(context.Background(), "search", json.RawMessage(`{"query":"weather berlin","limit":2}`), tracing.TraceContext{})
	require.NoError(t, err)
	require.True(t, res.Success)
	hits := res.Data.([]searchHit)
	require.Len(t, hits, 2)
	assert.Equal(t, searchHit{Title: "a", URL: "http://a", Snippet: "x"}, hits[0])
}

func TestSpotifySearch(t *testing.T) {
	tokenCalls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token":
			tokenCalls++
			user, pass, ok := r.BasicAuth()
			assert.True(t, ok)
			assert.Equal(t, "id", user)
			assert.Equal(t, "secret", pass)
			fmt.Fprint(w, `{"access_token":"tok","expires_in":3600}`)
		case "/v1/search":
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			fmt.Fprint(w, `{"tracks":{"items":[{"name":"Song","artists":[{"name":"Band"}],"album":{"name":"LP"},"external_urls":{"spotify":"https://open.spotify.com/track/1"}}]}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	tool, err := newSpotify(config.ToolsConfig{SpotifyClientID: "id", SpotifyClientSecret: "secret"}, srv.URL, srv.URL)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		res, err := tool.Execute(context.Background(), "search", json.RawMessage(`{"query":"song"}`), tracing.TraceContext{})
		require.NoError(t, err)
		require.True(t, res.Success)
		items := res.Data.([]spotifyItem)
		require.Len(t, items, 1)
		assert.Equal(t, []string{"Band"}, items[0].Artists)
	}
	assert.Equal(t, 1, tokenCalls)
}

func TestSpotifyRequiresCredentials(t *testing.T) {
	_, err := NewSpotify(config.ToolsConfig{})
	require.Error(t, err)
}
