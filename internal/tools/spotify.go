package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/agentoven/hearth/internal/config"
	"github.com/agentoven/hearth/internal/tracing"
)

const SpotifyName = "spotify"

type spotifySearchInput struct {
	Query string `json:"query" required:"true" description:"Track, artist or album to look up" validate:"required"`
	Type  string `json:"type,omitempty" description:"track, artist or album, default track" validate:"omitempty,oneof=track artist album"`
	Limit int    `json:"limit,omitempty" description:"Maximum results, default 5" validate:"omitempty,min=1,max=20"`
}

type spotifyItem struct {
	Name    string   `json:"name"`
	Artists []string `json:"artists,omitempty"`
	Album   string   `json:"album,omitempty"`
	URL     string   `json:"url,omitempty"`
}

// spotifyClient uses the client credentials flow, which covers catalog
// lookups but not playback control.
type spotifyClient struct {
	client       *http.Client
	clientID     string
	clientSecret string
	accountsURL  string
	apiURL       string

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewSpotify builds the Spotify catalog tool.
func NewSpotify(cfg config.ToolsConfig) (Tool, error) {
	return newSpotify(cfg, "https://accounts.spotify.com", "https://api.spotify.com")
}

func newSpotify(cfg config.ToolsConfig, accountsURL, apiURL string) (Tool, error) {
	if cfg.SpotifyClientID == "" || cfg.SpotifyClientSecret == "" {
		return nil, fmt.Errorf("spotify credentials missing")
	}
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	s := &spotifyClient{
		client:       &http.Client{Timeout: timeout},
		clientID:     cfg.SpotifyClientID,
		clientSecret: cfg.SpotifyClientSecret,
		accountsURL:  accountsURL,
		apiURL:       apiURL,
	}
	search, err := Bind("search", "Look up tracks, artists or albums in the Spotify catalog", s.search)
	if err != nil {
		return nil, err
	}
	return NewTool(SpotifyName, "Find music on Spotify.", search), nil
}

func (s *spotifyClient) accessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && time.Now().Before(s.expires) {
		return s.token, nil
	}

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.accountsURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(s.clientID, s.clientSecret)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("spotify token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("spotify token returned HTTP %d", resp.StatusCode)
	}
	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("decode spotify token: %w", err)
	}
	s.token = tok.AccessToken
	// refresh a minute early
	s.expires = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return s.token, nil
}

func (s *spotifyClient) search(ctx context.Context, in spotifySearchInput, _ tracing.TraceContext) (Result, error) {
	kind := in.Type
	if kind == "" {
		kind = "track"
	}
	limit := in.Limit
	if limit == 0 {
		limit = 5
	}

	token, err := s.accessToken(ctx)
	if err != nil {
		return Result{}, err
	}
	q := url.Values{}
	q.Set("q", in.Query)
	q.Set("type", kind)
	q.Set("limit", fmt.Sprint(limit))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"/v1/search?"+q.Encode(), nil)
	if err != nil {
		return Result{}, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("spotify search: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Fail("spotify search returned status code %d", resp.StatusCode), nil
	}

	type item struct {
		Name         string            `json:"name"`
		ExternalURLs map[string]string `json:"external_urls"`
		Artists      []struct {
			Name string `json:"name"`
		} `json:"artists"`
		Album struct {
			Name string `json:"name"`
		} `json:"album"`
	}
	var payload map[string]struct {
		Items []item `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, fmt.Errorf("decode spotify search: %w", err)
	}

	var out []spotifyItem
	for _, it := range payload[kind+"s"].Items {
		si := spotifyItem{Name: it.Name, Album: it.Album.Name, URL: it.ExternalURLs["spotify"]}
		for _, a := range it.Artists {
			si.Artists = append(si.Artists, a.Name)
		}
		out = append(out, si)
	}
	return Ok(out), nil
}
