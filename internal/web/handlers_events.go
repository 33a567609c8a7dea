package web

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

var blockEventsHeartbeatInterval = 15 * time.Second

// sseStream writes server-sent events, flushing after each one.
type sseStream struct {
	w http.ResponseWriter
	f http.Flusher
}

func newSSEStream(w http.ResponseWriter) (*sseStream, bool) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	return &sseStream{w: w, f: f}, true
}

func (s *sseStream) event(name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseStream) comment(text string) error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// handleBlockEvents streams finished command blocks of one session as
// server-sent events: "session" first, then one "block" per finished
// command, then "exited" when the shell exits.
func (s *Server) handleBlockEvents(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/events/sessions/")
	if ref == "" || strings.Contains(ref, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}
	sess, err := s.findSession(r, ref)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	stream, ok := newSSEStream(w)
	if !ok {
		writeAPIError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "stream unavailable")
		return
	}

	blocks, cancel := sess.SubscribeBlocks()
	defer cancel()

	w.WriteHeader(http.StatusOK)
	if err := stream.event("session", s.details(sess, false)); err != nil {
		return
	}

	keepalive := time.NewTicker(blockEventsHeartbeatInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepalive.C:
			if stream.comment("keepalive") != nil {
				return
			}
		case block, ok := <-blocks:
			if !ok {
				_ = stream.event("exited", map[string]string{"session_id": sess.ID()})
				return
			}
			if err := stream.event("block", block); err != nil {
				s.log.Debug("block_stream_write_failed",
					slog.String("session_id", sess.ID()),
					slog.String("error", err.Error()))
				return
			}
		}
	}
}
