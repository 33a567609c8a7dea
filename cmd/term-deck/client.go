package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/asheshgoplani/term-deck/internal/session"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

const clientTimeout = 10 * time.Second

// apiClient talks to a running daemon's control interface.
type apiClient struct {
	base  string
	token string
	http  *http.Client
}

// apiError is an error response from the daemon.
type apiError struct {
	Status  int
	Code    string
	Message string
}

func (e *apiError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("daemon returned %d", e.Status)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// sessionInfo mirrors the daemon's session details response.
type sessionInfo struct {
	session.Summary
	ShmPath   string         `json:"shm_path"`
	ClientIDs []string       `json:"clients"`
	Stats     *session.Stats `json:"stats,omitempty"`
}

type sessionList struct {
	DefaultID string            `json:"default_id"`
	Sessions  []session.Summary `json:"sessions"`
}

type blockList struct {
	SessionID string                `json:"session_id"`
	Blocks    []*zones.CommandBlock `json:"blocks"`
	Current   *zones.CommandBlock   `json:"current,omitempty"`
}

type lastOutput struct {
	SessionID string `json:"session_id"`
	Found     bool   `json:"found"`
	Text      string `json:"text"`
}

type health struct {
	OK       bool   `json:"ok"`
	Version  string `json:"version"`
	ReadOnly bool   `json:"readOnly"`
	Sessions int    `json:"sessions"`
	Time     string `json:"time"`
}

func newAPIClient(g globalFlags) *apiClient {
	base := g.Addr
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &apiClient{
		base:  strings.TrimRight(base, "/"),
		token: g.Token,
		http:  &http.Client{Timeout: clientTimeout},
	}
}

// sessionPath builds /api/sessions/{ref}[/action]. An empty ref means the
// default session.
func sessionPath(ref, action string) string {
	if ref == "" {
		ref = "default"
	}
	p := "/api/sessions/" + url.PathEscape(ref)
	if action != "" {
		p += "/" + action
	}
	return p
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", c.base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&envelope)
		return &apiError{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *apiClient) Health(ctx context.Context) (*health, error) {
	var h health
	return &h, c.do(ctx, http.MethodGet, "/healthz", nil, &h)
}

func (c *apiClient) List(ctx context.Context) (*sessionList, error) {
	var l sessionList
	return &l, c.do(ctx, http.MethodGet, "/api/sessions", nil, &l)
}

func (c *apiClient) Get(ctx context.Context, ref string) (*sessionInfo, error) {
	var s sessionInfo
	return &s, c.do(ctx, http.MethodGet, sessionPath(ref, ""), nil, &s)
}

func (c *apiClient) Create(ctx context.Context, name string, cols, rows int) (*sessionInfo, error) {
	var s sessionInfo
	body := map[string]any{"name": name, "cols": cols, "rows": rows}
	return &s, c.do(ctx, http.MethodPost, "/api/sessions", body, &s)
}

func (c *apiClient) Delete(ctx context.Context, ref string) error {
	return c.do(ctx, http.MethodDelete, sessionPath(ref, ""), nil, nil)
}

func (c *apiClient) Rename(ctx context.Context, ref, name string) (*sessionInfo, error) {
	var s sessionInfo
	return &s, c.do(ctx, http.MethodPatch, sessionPath(ref, ""), map[string]string{"name": name}, &s)
}

func (c *apiClient) Resize(ctx context.Context, ref string, cols, rows int) (*sessionInfo, error) {
	var s sessionInfo
	return &s, c.do(ctx, http.MethodPost, sessionPath(ref, "resize"), map[string]int{"cols": cols, "rows": rows}, &s)
}

func (c *apiClient) SetDefault(ctx context.Context, ref string) (*sessionInfo, error) {
	var s sessionInfo
	return &s, c.do(ctx, http.MethodPost, sessionPath(ref, "default"), nil, &s)
}

func (c *apiClient) Input(ctx context.Context, ref, data string) error {
	return c.do(ctx, http.MethodPost, sessionPath(ref, "input"), map[string]string{"data": data}, nil)
}

func (c *apiClient) Screen(ctx context.Context, ref string) (*session.Screen, error) {
	var sc session.Screen
	return &sc, c.do(ctx, http.MethodGet, sessionPath(ref, "screen"), nil, &sc)
}

func (c *apiClient) Blocks(ctx context.Context, ref string, limit int) (*blockList, error) {
	var b blockList
	path := sessionPath(ref, "blocks")
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	return &b, c.do(ctx, http.MethodGet, path, nil, &b)
}

func (c *apiClient) Output(ctx context.Context, ref string) (*lastOutput, error) {
	var o lastOutput
	return &o, c.do(ctx, http.MethodGet, sessionPath(ref, "output"), nil, &o)
}

// wsURL returns the websocket attach URL for ref.
func (c *apiClient) wsURL(ref, clientID string) string {
	if ref == "" {
		ref = "default"
	}
	u := c.base
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	q := url.Values{}
	if clientID != "" {
		q.Set("client_id", clientID)
	}
	if c.token != "" {
		q.Set("token", c.token)
	}
	u += "/ws/session/" + url.PathEscape(ref)
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	return u
}

// isNotFound reports a NOT_FOUND response.
func isNotFound(err error) bool {
	var apiErr *apiError
	return errors.As(err, &apiErr) && apiErr.Code == session.CodeNotFound
}
