package web

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/asheshgoplani/term-deck/internal/session"
)

const wsWriteTimeout = 10 * time.Second

type wsConnWriter struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func newWSConnWriter(conn *websocket.Conn) *wsConnWriter {
	return &wsConnWriter{conn: conn}
}

func (w *wsConnWriter) WriteJSON(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteJSON(v)
}

func (w *wsConnWriter) WriteBinary(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return w.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (w *wsConnWriter) WriteClose(code int, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, text),
		time.Now().Add(wsWriteTimeout))
}

// sessionBridge copies a session's PTY output to one websocket.
type sessionBridge struct {
	sess   *session.Session
	writer *wsConnWriter

	output    <-chan []byte
	cancel    func()
	closeOnce sync.Once
	done      chan struct{}
}

// newSessionBridge primes the client with the current screen and then
// streams output produced after it.
func newSessionBridge(sess *session.Session, writer *wsConnWriter) (*sessionBridge, error) {
	screen, output, cancel, err := sess.SnapshotAndSubscribe()
	if err != nil {
		return nil, err
	}
	if err := writer.WriteBinary(renderScreen(screen)); err != nil {
		cancel()
		return nil, err
	}

	b := &sessionBridge{
		sess:   sess,
		writer: writer,
		output: output,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go b.streamOutput()
	return b, nil
}

func (b *sessionBridge) streamOutput() {
	defer close(b.done)

	for chunk := range b.output {
		if err := b.writer.WriteBinary(chunk); err != nil {
			b.Close()
			return
		}
	}

	// The subscription closes when the shell exits.
	if b.sess.Exited() {
		code, _ := b.sess.ExitCode()
		_ = b.writer.WriteJSON(wsServerMessage{
			Type:      "status",
			Event:     "session_exited",
			SessionID: b.sess.ID(),
			ExitCode:  &code,
			Time:      time.Now().UTC(),
		})
		_ = b.writer.WriteClose(websocket.CloseNormalClosure, "session exited")
	}
}

// Done is closed once output streaming stops.
func (b *sessionBridge) Done() <-chan struct{} { return b.done }

func (b *sessionBridge) Close() {
	b.closeOnce.Do(b.cancel)
}

// renderScreen draws a screen as a clear followed by its rows, leaving the
// cursor where the terminal has it.
func renderScreen(sc session.Screen) []byte {
	var sb strings.Builder
	sb.WriteString("\x1b[H\x1b[2J")
	for i, line := range sc.Lines {
		if i > 0 {
			sb.WriteString("\r\n")
		}
		sb.WriteString(line)
	}
	fmt.Fprintf(&sb, "\x1b[%d;%dH", sc.CursorY+1, sc.CursorX+1)
	return []byte(sb.String())
}
