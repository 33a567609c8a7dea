package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gorilla/websocket"
	"golang.org/x/term"
)

// detachKey is Ctrl+Q.
const detachKey = 0x11

// attachMessage is the client side of the websocket protocol.
type attachMessage struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Cols int    `json:"cols,omitempty"`
	Rows int    `json:"rows,omitempty"`
}

// attachEvent is a JSON text frame from the daemon.
type attachEvent struct {
	Type      string `json:"type"`
	Event     string `json:"event"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	ExitCode  *int   `json:"exitCode"`
}

// attachConn serializes writes; gorilla allows one concurrent writer.
type attachConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *attachConn) send(msg attachMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

func (c *attachConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "detach"))
	_ = c.conn.Close()
}

// attachResult says why an attach ended.
type attachResult struct {
	detached bool
	exitCode *int
	err      error
}

func handleAttach(g globalFlags, args []string) error {
	fs := newFlagSet("attach", "attach [session] [--client-id ID]",
		"term-deck attach", "term-deck a build")
	clientID := fs.String("client-id", "", "Client id reported to the daemon (default cli-<pid>)")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("attach needs an interactive terminal")
	}
	id := firstNonEmpty(*clientID, fmt.Sprintf("cli-%d", os.Getpid()))
	ref := fs.Arg(0)

	client := newAPIClient(g)
	ctx, cancel := requestContext()
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, client.wsURL(ref, id), nil)
	cancel()
	if err != nil {
		return dialError(resp, err)
	}
	ac := &attachConn{conn: conn}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		ac.close()
		return fmt.Errorf("enter raw mode: %w", err)
	}

	result := runAttach(ac, fd, os.Stdin, os.Stdout)

	_ = term.Restore(fd, oldState)
	fmt.Println()
	switch {
	case result.err != nil:
		return result.err
	case result.exitCode != nil:
		fmt.Printf("%s session exited with code %d\n", dimStyle.Render("·"), *result.exitCode)
	case result.detached:
		fmt.Printf("%s detached\n", successStyle.Render(successSymbol))
	default:
		fmt.Printf("%s connection closed\n", dimStyle.Render("·"))
	}
	return nil
}

// runAttach pumps stdin to the session and session output to stdout until
// the user detaches, the shell exits or the connection drops.
func runAttach(ac *attachConn, fd int, in io.Reader, out io.Writer) attachResult {
	done := make(chan attachResult, 3)

	if cols, rows, err := term.GetSize(fd); err == nil {
		_ = ac.send(attachMessage{Type: "resize", Cols: cols, Rows: rows})
	}

	winch := make(chan os.Signal, 1)
	signal.Notify(winch, syscall.SIGWINCH)
	defer signal.Stop(winch)
	stopWinch := make(chan struct{})
	defer close(stopWinch)
	go func() {
		for {
			select {
			case <-stopWinch:
				return
			case <-winch:
				if cols, rows, err := term.GetSize(fd); err == nil {
					_ = ac.send(attachMessage{Type: "resize", Cols: cols, Rows: rows})
				}
			}
		}
	}()

	go func() { done <- readSession(ac.conn, out) }()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := in.Read(buf)
			if n > 0 {
				input, detach := splitDetach(buf[:n])
				if len(input) > 0 {
					if err := ac.send(attachMessage{Type: "input", Data: string(input)}); err != nil {
						done <- attachResult{}
						return
					}
				}
				if detach {
					done <- attachResult{detached: true}
					return
				}
			}
			if err != nil {
				done <- attachResult{detached: true}
				return
			}
		}
	}()

	result := <-done
	ac.close()
	return result
}

// readSession copies binary frames to out and interprets status frames.
func readSession(conn *websocket.Conn, out io.Writer) attachResult {
	var result attachResult
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return result
		}
		if msgType == websocket.BinaryMessage {
			if _, err := out.Write(data); err != nil {
				return attachResult{err: err}
			}
			continue
		}

		var ev attachEvent
		if json.Unmarshal(data, &ev) != nil {
			continue
		}
		switch {
		case ev.Type == "status" && ev.Event == "session_exited":
			code := 0
			if ev.ExitCode != nil {
				code = *ev.ExitCode
			}
			result.exitCode = &code
		case ev.Type == "error" && ev.Code == "READ_ONLY":
			// Input is ignored by a read-only daemon; keep viewing.
		case ev.Type == "error":
			fmt.Fprintf(os.Stderr, "\r\n%s %s\r\n", errorStyle.Render(errorSymbol), ev.Message)
		}
	}
}

// splitDetach returns the bytes before the first detach key and whether the
// key was present.
func splitDetach(b []byte) ([]byte, bool) {
	if i := bytes.IndexByte(b, detachKey); i >= 0 {
		return b[:i], true
	}
	return b, false
}

// dialError turns a failed upgrade into the daemon's JSON error when one
// was returned.
func dialError(resp *http.Response, err error) error {
	if resp == nil {
		return fmt.Errorf("daemon not reachable: %w", err)
	}
	defer resp.Body.Close()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.NewDecoder(resp.Body).Decode(&envelope) == nil && envelope.Error.Code != "" {
		return &apiError{Status: resp.StatusCode, Code: envelope.Error.Code, Message: envelope.Error.Message}
	}
	return &apiError{Status: resp.StatusCode}
}
