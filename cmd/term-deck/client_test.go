package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newStubDaemon(t *testing.T, handler http.HandlerFunc) *apiClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return newAPIClient(globalFlags{Addr: srv.URL, Token: "tok"})
}

func TestSessionPath(t *testing.T) {
	tests := []struct {
		ref, action, want string
	}{
		{"", "", "/api/sessions/default"},
		{"build", "", "/api/sessions/build"},
		{"build", "resize", "/api/sessions/build/resize"},
		{"my shell", "screen", "/api/sessions/my%20shell/screen"},
		{"a/b", "", "/api/sessions/a%2Fb"},
	}
	for _, tt := range tests {
		if got := sessionPath(tt.ref, tt.action); got != tt.want {
			t.Errorf("sessionPath(%q, %q) = %q, want %q", tt.ref, tt.action, got, tt.want)
		}
	}
}

func TestNewAPIClientAddsScheme(t *testing.T) {
	c := newAPIClient(globalFlags{Addr: "127.0.0.1:8420/"})
	if c.base != "http://127.0.0.1:8420" {
		t.Fatalf("base = %q", c.base)
	}
	c = newAPIClient(globalFlags{Addr: "https://deck.example"})
	if c.base != "https://deck.example" {
		t.Fatalf("base = %q", c.base)
	}
}

func TestWSURL(t *testing.T) {
	c := newAPIClient(globalFlags{Addr: "127.0.0.1:8420", Token: "s3cret"})
	got := c.wsURL("", "cli-1")
	want := "ws://127.0.0.1:8420/ws/session/default?client_id=cli-1&token=s3cret"
	if got != want {
		t.Fatalf("wsURL = %q, want %q", got, want)
	}

	c = newAPIClient(globalFlags{Addr: "https://deck.example"})
	if got := c.wsURL("build", ""); got != "wss://deck.example/ws/session/build" {
		t.Fatalf("wsURL tls = %q", got)
	}
}

func TestClientSendsTokenAndDecodes(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet || r.URL.Path != "/api/sessions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"default_id":"abc","sessions":[{"id":"abc","name":"build","cols":80,"rows":24,"client_count":2,"default":true}]}`))
	})

	list, err := c.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if list.DefaultID != "abc" || len(list.Sessions) != 1 {
		t.Fatalf("unexpected list %+v", list)
	}
	s := list.Sessions[0]
	if s.Name != "build" || s.Clients != 2 || !s.Default {
		t.Fatalf("unexpected summary %+v", s)
	}
}

func TestClientDecodesAPIError(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"session not found"}}`))
	})

	err := c.Delete(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *apiError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected *apiError, got %T", err)
	}
	if apiErr.Status != http.StatusNotFound || apiErr.Code != "NOT_FOUND" {
		t.Fatalf("unexpected error %+v", apiErr)
	}
	if !isNotFound(err) {
		t.Fatal("isNotFound should be true")
	}
	if !strings.Contains(err.Error(), "session not found") {
		t.Fatalf("error text = %q", err.Error())
	}
}

func TestClientErrorWithoutBody(t *testing.T) {
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	_, err := c.Health(context.Background())
	if err == nil || err.Error() != "daemon returned 502" {
		t.Fatalf("unexpected error %v", err)
	}
	if isNotFound(err) {
		t.Fatal("502 is not a not-found error")
	}
}

func TestClientPostsJSONBodies(t *testing.T) {
	var got map[string]any
	var path string
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"abc","name":"build","cols":120,"rows":40}`))
	})

	s, err := c.Resize(context.Background(), "build", 120, 40)
	if err != nil {
		t.Fatalf("Resize: %v", err)
	}
	if path != "/api/sessions/build/resize" {
		t.Fatalf("path = %q", path)
	}
	if got["cols"] != float64(120) || got["rows"] != float64(40) {
		t.Fatalf("body = %v", got)
	}
	if s.Cols != 120 || s.Rows != 40 {
		t.Fatalf("decoded = %+v", s)
	}
}

func TestClientInputNoContent(t *testing.T) {
	var data string
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Data string `json:"data"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		data = body.Data
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.Input(context.Background(), "", "ls\r"); err != nil {
		t.Fatalf("Input: %v", err)
	}
	if data != "ls\r" {
		t.Fatalf("data = %q", data)
	}
}

func TestClientBlocksLimit(t *testing.T) {
	var query string
	c := newStubDaemon(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"session_id":"abc","blocks":[]}`))
	})
	if _, err := c.Blocks(context.Background(), "abc", 5); err != nil {
		t.Fatalf("Blocks: %v", err)
	}
	if query != "limit=5" {
		t.Fatalf("query = %q", query)
	}
}

func TestClientUnreachable(t *testing.T) {
	c := newAPIClient(globalFlags{Addr: "127.0.0.1:1"})
	_, err := c.Health(context.Background())
	if err == nil || !strings.Contains(err.Error(), "daemon not reachable") {
		t.Fatalf("unexpected error %v", err)
	}
}
