package web

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/asheshgoplani/term-deck/internal/session"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

const maxRequestBody = 1 << 20

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type apiErrorResponse struct {
	Error apiError `json:"error"`
}

type sessionListResponse struct {
	DefaultID string            `json:"default_id,omitempty"`
	Sessions  []session.Summary `json:"sessions"`
}

type sessionDetailsResponse struct {
	session.Summary
	ShmPath   string         `json:"shm_path"`
	ClientIDs []string       `json:"clients"`
	Stats     *session.Stats `json:"stats,omitempty"`
}

type createSessionRequest struct {
	Name string `json:"name"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

type renameSessionRequest struct {
	Name string `json:"name"`
}

type resizeSessionRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

type inputRequest struct {
	Data string `json:"data"`
}

type blocksResponse struct {
	SessionID string                `json:"session_id"`
	Blocks    []*zones.CommandBlock `json:"blocks"`
	Current   *zones.CommandBlock   `json:"current,omitempty"`
}

type outputResponse struct {
	SessionID string `json:"session_id"`
	Found     bool   `json:"found"`
	Text      string `json:"text"`
}

// handleSessions serves GET (list) and POST (create) on /api/sessions.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, sessionListResponse{
			DefaultID: s.manager.DefaultID(),
			Sessions:  s.manager.ListSessions(),
		})
		return
	}

	var req createSessionRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	sess, err := s.manager.CreateSession(r.Context(), req.Name, req.Cols, req.Rows)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s.details(sess, false))
}

// findSession resolves ref for r. GET requests fall back to a fuzzy name
// match; anything that changes a session needs an exact reference.
func (s *Server) findSession(r *http.Request, ref string) (*session.Session, error) {
	if r.Method == http.MethodGet {
		return s.manager.Resolve(ref)
	}
	return s.manager.Lookup(ref)
}

// handleSessionRoutes dispatches /api/sessions/{id}[/{action}].
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	const prefix = "/api/sessions/"
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	sessionID, action, _ := strings.Cut(rest, "/")
	if sessionID == "" || strings.Contains(action, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}

	switch action {
	case "":
		if !s.guard(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete) {
			return
		}
	case "blocks", "screen", "output":
		if !s.guard(w, r, http.MethodGet) {
			return
		}
	case "resize", "input", "default":
		if !s.guard(w, r, http.MethodPost) {
			return
		}
	default:
		writeAPIError(w, http.StatusNotFound, "NOT_FOUND", "route not found")
		return
	}

	sess, err := s.findSession(r, sessionID)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}

	switch action {
	case "":
		s.handleSessionByID(w, r, sess)
	case "blocks":
		s.handleBlocks(w, r, sess)
	case "screen":
		screen, err := sess.Screen()
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, screen)
	case "output":
		text, found, err := sess.LastOutput()
		if err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, outputResponse{SessionID: sess.ID(), Found: found, Text: text})
	case "resize":
		var req resizeSessionRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := s.manager.ResizeSession(sess.ID(), req.Cols, req.Rows); err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.details(sess, false))
	case "input":
		var req inputRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := sess.WriteInput([]byte(req.Data)); err != nil {
			s.writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case "default":
		if err := s.manager.SetDefault(sess.ID()); err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.details(sess, false))
	}
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.details(sess, true))
	case http.MethodPatch:
		var req renameSessionRequest
		if !decodeBody(w, r, &req, false) {
			return
		}
		if err := s.manager.RenameSession(sess.ID(), req.Name); err != nil {
			s.writeSessionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, s.details(sess, false))
	case http.MethodDelete:
		if err := s.manager.DeleteSession(sess.ID()); err != nil {
			s.writeSessionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleBlocks(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	blocks, err := sess.Blocks()
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "limit must be a non-negative integer")
			return
		}
		if limit < len(blocks) {
			blocks = blocks[len(blocks)-limit:]
		}
	}
	current, err := sess.CurrentBlock()
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	if blocks == nil {
		blocks = []*zones.CommandBlock{}
	}
	writeJSON(w, http.StatusOK, blocksResponse{SessionID: sess.ID(), Blocks: blocks, Current: current})
}

// handleControl accepts one command envelope. In read-only mode only
// list is allowed.
func (s *Server) handleControl(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeAPIError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}
	if !s.authorizeRequest(r) {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return
	}

	var cmd session.Command
	if !decodeBody(w, r, &cmd, false) {
		return
	}
	if s.cfg.ReadOnly && cmd.Type != session.CmdList {
		writeAPIError(w, http.StatusForbidden, "READ_ONLY", "server is in read-only mode")
		return
	}

	resp := s.manager.Handle(r.Context(), cmd)
	status := http.StatusOK
	if resp.Type == session.RespError {
		status = httpStatus(resp.Code)
	}
	writeJSON(w, status, resp)
}

func (s *Server) details(sess *session.Session, withStats bool) sessionDetailsResponse {
	sum := sess.Summary()
	sum.Default = sess.ID() == s.manager.DefaultID()
	resp := sessionDetailsResponse{
		Summary:   sum,
		ShmPath:   sess.ShmPath(),
		ClientIDs: sess.Clients(),
	}
	if withStats {
		if st, err := sess.Stats(); err == nil {
			resp.Stats = &st
		}
	}
	return resp
}

func (s *Server) writeSessionError(w http.ResponseWriter, err error) {
	code := session.ErrorCode(err)
	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("request_failed", slog.String("code", code), slog.String("error", err.Error()))
	}
	writeAPIError(w, status, code, err.Error())
}

func httpStatus(code string) int {
	switch code {
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeConflict:
		return http.StatusConflict
	case session.CodeInvalidRequest, session.CodeUnknownCommand, session.CodeTooLarge:
		return http.StatusBadRequest
	case session.CodeUnavailable:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// decodeBody reads a JSON body into v. allowEmpty accepts a missing body
// and leaves v zeroed.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "invalid json body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, apiErrorResponse{
		Error: apiError{
			Code:    code,
			Message: message,
		},
	})
}
