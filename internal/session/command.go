package session

import (
	"context"
	"errors"

	"github.com/asheshgoplani/term-deck/internal/shm"
)

// CommandType names a control command.
type CommandType string

const (
	CmdCreate CommandType = "create"
	CmdDelete CommandType = "delete"
	CmdList   CommandType = "list"
	CmdAttach CommandType = "attach"
	CmdDetach CommandType = "detach"
	CmdRename CommandType = "rename"
	CmdResize CommandType = "resize"
)

// ResponseType names a control response.
type ResponseType string

const (
	RespCreated  ResponseType = "created"
	RespDeleted  ResponseType = "deleted"
	RespList     ResponseType = "list"
	RespAttached ResponseType = "attached"
	RespDetached ResponseType = "detached"
	RespRenamed  ResponseType = "renamed"
	RespResized  ResponseType = "resized"
	RespError    ResponseType = "error"
)

// Error codes carried by error responses.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeUnavailable    = "UNAVAILABLE"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeUnknownCommand = "UNKNOWN_COMMAND"
	CodeTooLarge       = "TOO_LARGE"
)

// Command is a control request. ID may be empty for attach, detach and
// resize to address the default session.
type Command struct {
	Type     CommandType `json:"type"`
	ID       string      `json:"id,omitempty"`
	Name     string      `json:"name,omitempty"`
	Cols     int         `json:"cols,omitempty"`
	Rows     int         `json:"rows,omitempty"`
	ClientID string      `json:"client_id,omitempty"`
}

// Response answers a Command.
type Response struct {
	Type     ResponseType `json:"type"`
	ID       string       `json:"id,omitempty"`
	Name     string       `json:"name,omitempty"`
	Cols     int          `json:"cols,omitempty"`
	Rows     int          `json:"rows,omitempty"`
	ClientID string       `json:"client_id,omitempty"`
	ShmPath  string       `json:"shm_path,omitempty"`
	Sessions []Summary    `json:"sessions,omitempty"`
	Code     string       `json:"code,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Handle executes one control command. Failures come back as an error
// response rather than a Go error.
func (m *Manager) Handle(ctx context.Context, cmd Command) Response {
	switch cmd.Type {
	case CmdCreate:
		s, err := m.CreateSession(ctx, cmd.Name, cmd.Cols, cmd.Rows)
		if err != nil {
			return errorResponse(err)
		}
		cols, rows := s.Size()
		return Response{Type: RespCreated, ID: s.ID(), Name: s.Name(), Cols: cols, Rows: rows, ShmPath: s.ShmPath()}

	case CmdDelete:
		if err := m.DeleteSession(cmd.ID); err != nil {
			return errorResponse(err)
		}
		return Response{Type: RespDeleted, ID: cmd.ID}

	case CmdList:
		return Response{Type: RespList, Sessions: m.ListSessions()}

	case CmdAttach:
		s, err := m.target(cmd.ID)
		if err != nil {
			return errorResponse(err)
		}
		if cmd.ClientID == "" {
			return Response{Type: RespError, Code: CodeInvalidRequest, Error: "client_id is required"}
		}
		if err := m.AttachClient(s.ID(), cmd.ClientID); err != nil {
			return errorResponse(err)
		}
		cols, rows := s.Size()
		return Response{Type: RespAttached, ID: s.ID(), Name: s.Name(), ClientID: cmd.ClientID, Cols: cols, Rows: rows, ShmPath: s.ShmPath()}

	case CmdDetach:
		s, err := m.target(cmd.ID)
		if err != nil {
			return errorResponse(err)
		}
		if err := m.DetachClient(s.ID(), cmd.ClientID); err != nil {
			return errorResponse(err)
		}
		return Response{Type: RespDetached, ID: s.ID(), ClientID: cmd.ClientID}

	case CmdRename:
		if err := m.RenameSession(cmd.ID, cmd.Name); err != nil {
			return errorResponse(err)
		}
		return Response{Type: RespRenamed, ID: cmd.ID, Name: cmd.Name}

	case CmdResize:
		s, err := m.target(cmd.ID)
		if err != nil {
			return errorResponse(err)
		}
		if err := m.ResizeSession(s.ID(), cmd.Cols, cmd.Rows); err != nil {
			return errorResponse(err)
		}
		return Response{Type: RespResized, ID: s.ID(), Cols: cmd.Cols, Rows: cmd.Rows}

	default:
		return Response{Type: RespError, Code: CodeUnknownCommand, Error: "unknown command: " + string(cmd.Type)}
	}
}

func (m *Manager) target(id string) (*Session, error) {
	if id == "" {
		return m.DefaultSession()
	}
	return m.GetSession(id)
}

func errorResponse(err error) Response {
	return Response{Type: RespError, Code: ErrorCode(err), Error: err.Error()}
}

// ErrorCode maps an error to a stable response code.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrSessionNotFound):
		return CodeNotFound
	case errors.Is(err, ErrClientsAttached):
		return CodeConflict
	case errors.Is(err, ErrInvalidSize), errors.Is(err, ErrInvalidName):
		return CodeInvalidRequest
	case errors.Is(err, shm.ErrDimensionsTooLarge):
		return CodeTooLarge
	case errors.Is(err, ErrSessionClosed), errors.Is(err, ErrSessionExited):
		return CodeUnavailable
	default:
		return CodeInternalError
	}
}
