package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/term-deck/internal/session"
)

// wsClientMessage is sent by clients: input, resize or ping.
type wsClientMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// wsServerMessage is a JSON text frame: a status event or an error.
type wsServerMessage struct {
	Type      string    `json:"type"`
	Event     string    `json:"event,omitempty"`
	Code      string    `json:"code,omitempty"`
	Message   string    `json:"message,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	ClientID  string    `json:"clientId,omitempty"`
	Cols      int       `json:"cols,omitempty"`
	Rows      int       `json:"rows,omitempty"`
	ReadOnly  bool      `json:"readOnly,omitempty"`
	ExitCode  *int      `json:"exitCode,omitempty"`
	Time      time.Time `json:"time,omitempty"`
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     sameOrigin,
}

// sameOrigin accepts non-browser clients (no Origin header) and browsers
// loading the page from the daemon itself.
func sameOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, r.Host)
}

// wsAttachment is one websocket client attached to one session.
type wsAttachment struct {
	srv      *Server
	sess     *session.Session
	clientID string
	out      *wsConnWriter
}

func (a *wsAttachment) send(msg wsServerMessage) {
	msg.SessionID = a.sess.ID()
	msg.Time = time.Now().UTC()
	_ = a.out.WriteJSON(msg)
}

func (a *wsAttachment) fail(code, message string) {
	a.send(wsServerMessage{Type: "error", Code: code, Message: message})
}

// dispatch applies one client frame to the session.
func (a *wsAttachment) dispatch(payload []byte) {
	var msg wsClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		a.fail("INVALID_MESSAGE", "invalid json payload")
		return
	}
	if a.srv.cfg.ReadOnly && (msg.Type == "input" || msg.Type == "resize") {
		a.fail("READ_ONLY", msg.Type+" is disabled in read-only mode")
		return
	}

	switch msg.Type {
	case "ping":
		a.send(wsServerMessage{Type: "status", Event: "pong"})
	case "input":
		if err := a.sess.WriteInput([]byte(msg.Data)); err != nil {
			a.fail(session.ErrorCode(err), "failed to send input to terminal")
		}
	case "resize":
		if err := a.srv.manager.ResizeSession(a.sess.ID(), msg.Cols, msg.Rows); err != nil {
			a.fail(session.ErrorCode(err), err.Error())
			return
		}
		a.send(wsServerMessage{Type: "status", Event: "resized", Cols: msg.Cols, Rows: msg.Rows})
	default:
		a.fail("UNSUPPORTED_MESSAGE", "supported message types: ping,input,resize")
	}
}

// handleSessionWS attaches a websocket client to a session. PTY output is
// sent as binary frames; control and errors travel as JSON text frames.
// The client is detached when the connection closes.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	if !s.guard(w, r, http.MethodGet) {
		return
	}

	ref := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	if ref == "" || strings.Contains(ref, "/") {
		writeAPIError(w, http.StatusBadRequest, "INVALID_REQUEST", "session id is required")
		return
	}
	sess, err := s.manager.Lookup(ref)
	if err != nil {
		s.writeSessionError(w, err)
		return
	}
	clientID := strings.TrimSpace(r.URL.Query().Get("client_id"))
	if clientID == "" {
		clientID = uuid.NewString()
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	a := &wsAttachment{srv: s, sess: sess, clientID: clientID, out: newWSConnWriter(conn)}
	log := s.log.With(slog.String("session_id", sess.ID()), slog.String("client_id", clientID))

	if err := s.manager.AttachClient(sess.ID(), clientID); err != nil {
		a.fail(session.ErrorCode(err), "failed to attach client")
		return
	}
	defer func() {
		if err := s.manager.DetachClient(sess.ID(), clientID); err != nil {
			log.Warn("client_detach_failed", slog.String("error", err.Error()))
		}
	}()

	cols, rows := sess.Size()
	a.send(wsServerMessage{
		Type:     "status",
		Event:    "connected",
		ClientID: clientID,
		Cols:     cols,
		Rows:     rows,
		ReadOnly: s.cfg.ReadOnly,
	})

	bridge, err := newSessionBridge(sess, a.out)
	if err != nil {
		log.Error("terminal_attach_failed", slog.String("error", err.Error()))
		a.fail("TERMINAL_ATTACH_FAILED", "failed to attach terminal bridge")
		return
	}
	defer bridge.Close()

	// Unblock ReadMessage when the shell exits or the server shuts down.
	go func() {
		select {
		case <-bridge.Done():
		case <-r.Context().Done():
		}
		_ = conn.SetReadDeadline(time.Now())
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !sess.Exited() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				log.Debug("websocket_closed", slog.String("error", err.Error()))
			}
			return
		}
		a.dispatch(payload)
	}
}
