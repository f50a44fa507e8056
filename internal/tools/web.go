package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/tracing"
	"github.com/rs/zerolog/log"
)

const WebName = "web"

const maxFetchBytes = 5 * 1024 * 1024

// maxContentChars keeps tool output small enough for the next prompt.
const maxContentChars = 8000

type fetchInput struct {
	URL    string `json:"url" required:"true" description:"Absolute http(s) URL to fetch" validate:"required,url"`
	Format string `json:"format,omitempty" description:"text or markdown, default markdown" validate:"omitempty,oneof=text markdown"`
}

type fetchOutput struct {
	URL         string `json:"url"`
	StatusCode  int    `json:"status_code"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"`
	Truncated   bool   `json:"truncated,omitempty"`
}

type searchInput struct {
	Query string `json:"query" required:"true" description:"Search query" validate:"required"`
	Limit int    `json:"limit,omitempty" description:"Maximum results, default 5" validate:"omitempty,min=1,max=20"`
}

type searchHit struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

type webTool struct {
	client    *http.Client
	searchURL string
}

// NewWeb builds the web tool. The search action is only present when a
// SearXNG endpoint is configured.
func NewWeb(cfg config.ToolsConfig) (Tool, error) {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	w := &webTool{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		searchURL: strings.TrimRight(cfg.SearXNGURL, "/"),
	}

	fetch, err := Bind("fetch", "Download a web page and return its readable content", w.fetch)
	if err != nil {
		return nil, err
	}
	actions := []Action{fetch}
	if w.searchURL != "" {
		search, err := Bind("search", "Search the web and return the top results", w.search)
		if err != nil {
			return nil, err
		}
		actions = append(actions, search)
	}
	return NewTool(WebName, "Browse and search the web for current information.", actions...), nil
}

func (w *webTool) fetch(ctx context.Context, in fetchInput, tc tracing.TraceContext) (Result, error) {
	if !strings.HasPrefix(in.URL, "http://") && !strings.HasPrefix(in.URL, "https://") {
		return Fail("URL must start with http:// or https://"), nil
	}
	format := in.Format
	if format == "" {
		format = "markdown"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.URL, nil)
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "hearth/1.0")
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch %s: %w", in.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Fail("request failed with status code %d", resp.StatusCode), nil
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	content := string(body)
	if strings.Contains(contentType, "text/html") {
		var convErr error
		switch format {
		case "text":
			content, convErr = extractText(content)
		default:
			content, convErr = htmlToMarkdown(content)
		}
		if convErr != nil {
			log.Warn().Err(convErr).Str("url", in.URL).Msg("HTML conversion failed, returning raw content")
			content = string(body)
		}
	}

	out := fetchOutput{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		ContentType: contentType,
		Content:     content,
	}
	if len(out.Content) > maxContentChars {
		out.Content = out.Content[:maxContentChars]
		out.Truncated = true
	}

	log.Debug().
		Str("url", in.URL).
		Int("size", len(body)).
		Str("trace_id", tc.TraceID).
		Msg("Fetched web content")
	return Ok(out), nil
}

func (w *webTool) search(ctx context.Context, in searchInput, tc tracing.TraceContext) (Result, error) {
	limit := in.Limit
	if limit == 0 {
		limit = 5
	}
	q := url.Values{}
	q.Set("q", in.Query)
	q.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.searchURL+"/search?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("search returned status code %d", resp.StatusCode), nil
	}

	var payload struct {
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxFetchBytes)).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode search response: %w", err)
	}

	hits := make([]searchHit, 0, limit)
	for _, r := range payload.Results {
		if len(hits) == limit {
			break
		}
		hits = append(hits, searchHit{Title: r.Title, URL: r.URL, Snippet: r.Content})
	}
	log.Debug().Str("query", in.Query).Int("hits", len(hits)).Str("trace_id", tc.TraceID).Msg("Web search")
	return Ok(hits), nil
}

// extractText strips scripts and styles and collapses blank lines.
func extractText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse HTML: %w", err)
	}
	doc.Find("script, style, noscript").Each(func(_ int, s *goquery.Selection) {
		s.Remove()
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return strings.Join(lines, "\n"), nil
}

func htmlToMarkdown(html string) (string, error) {
	converter := md.NewConverter("", true, nil)
	markdown, err := converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert HTML to Markdown: %w", err)
	}
	markdown = strings.TrimSpace(markdown)
	return strings.ReplaceAll(markdown, "\n\n\n", "\n\n"), nil
}
