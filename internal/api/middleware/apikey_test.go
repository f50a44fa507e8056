package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentoven/hearth/internal/api/middleware"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAPIKeyAuth_Disabled(t *testing.T) {
	auth := middleware.NewAPIKeyAuth(nil)
	if auth.Enabled() {
		t.Fatal("Auth should be disabled with no keys")
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	w := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Disabled auth: status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestAPIKeyAuth_BlankKeysIgnored(t *testing.T) {
	if middleware.NewAPIKeyAuth([]string{" ", ""}).Enabled() {
		t.Error("Blank keys should not enable auth")
	}
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"key-1", "key-2"})
	handler := auth.Middleware(okHandler())

	tests := []struct {
		name  string
		setup func(r *http.Request)
	}{
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer key-1") }},
		{"header", func(r *http.Request) { r.Header.Set("X-API-Key", "key-2") }},
		{"query", func(r *http.Request) {
			q := r.URL.Query()
			q.Set("api_key", "key-1")
			r.URL.RawQuery = q.Encode()
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
			tt.setup(req)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
			}
		})
	}
}

func TestAPIKeyAuth_InvalidKey(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"valid-key"})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Invalid key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("Missing WWW-Authenticate header")
	}
}

func TestAPIKeyAuth_MissingKey(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"valid-key"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/conversations/c1/chat", nil)
	w := httptest.NewRecorder()
	auth.Middleware(okHandler()).ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Missing key: status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyAuth_PublicPaths(t *testing.T) {
	auth := middleware.NewAPIKeyAuth([]string{"valid-key"})
	handler := auth.Middleware(okHandler())

	for _, path := range []string{"/health", "/version"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Public path %q: status = %d, want %d", path, w.Code, http.StatusOK)
		}
	}
}

func TestUserExtractor(t *testing.T) {
	var got string
	handler := middleware.UserExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = middleware.GetUserID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/tools", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != middleware.DefaultUser {
		t.Errorf("no header: user = %q, want %q", got, middleware.DefaultUser)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tools?user=sam", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "sam" {
		t.Errorf("query: user = %q, want %q", got, "sam")
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/tools?user=sam", nil)
	req.Header.Set("X-User-Id", "alex")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	if got != "alex" {
		t.Errorf("header wins: user = %q, want %q", got, "alex")
	}
}

func TestLoggerKeepsFlusher(t *testing.T) {
	var flushable bool
	handler := middleware.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, flushable = w.(http.Flusher)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !flushable {
		t.Error("Logger must keep the response writer flushable")
	}
}
