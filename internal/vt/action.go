package vt

import "fmt"

// ActionKind tags the variant carried by an Action.
type ActionKind uint8

const (
	// ActionPrint carries a run of printable UTF-8 text in Text.
	ActionPrint ActionKind = iota + 1
	// ActionExecute carries a C0 control byte in Byte.
	ActionExecute
	// ActionCsiDispatch carries a complete control sequence.
	ActionCsiDispatch
	// ActionEscDispatch carries an escape sequence final byte and intermediates.
	ActionEscDispatch
	// ActionOscDispatch carries the ';'-separated OSC fields.
	ActionOscDispatch
	// ActionHook starts a DCS string.
	ActionHook
	// ActionPut carries one DCS data byte.
	ActionPut
	// ActionUnhook ends a DCS string.
	ActionUnhook
)

func (k ActionKind) String() string {
	switch k {
	case ActionPrint:
		return "print"
	case ActionExecute:
		return "execute"
	case ActionCsiDispatch:
		return "csi"
	case ActionEscDispatch:
		return "esc"
	case ActionOscDispatch:
		return "osc"
	case ActionHook:
		return "hook"
	case ActionPut:
		return "put"
	case ActionUnhook:
		return "unhook"
	default:
		return fmt.Sprintf("action(%d)", uint8(k))
	}
}

// Action is one grid operation produced by the Parser. Only the fields
// relevant to Kind are set. Slices point into parser buffers and are
// valid only for the duration of the callback that receives the action.
type Action struct {
	Kind ActionKind

	// Print
	Text []byte

	// Execute, Put
	Byte byte

	// CsiDispatch, EscDispatch, Hook
	Final         byte
	Private       byte
	Params        []int
	Intermediates []byte
	// Ignore is set when the sequence overflowed parameter or
	// intermediate limits; interpreters should not act on it.
	Ignore bool

	// OscDispatch
	OSC            [][]byte
	BellTerminated bool
}

// Param returns params[i], or def when it is absent or zero.
func (a *Action) Param(i, def int) int {
	if i < len(a.Params) && a.Params[i] != 0 {
		return a.Params[i]
	}
	return def
}

func (a *Action) String() string {
	switch a.Kind {
	case ActionPrint:
		return fmt.Sprintf("print(%q)", a.Text)
	case ActionExecute, ActionPut:
		return fmt.Sprintf("%s(0x%02x)", a.Kind, a.Byte)
	case ActionCsiDispatch, ActionHook:
		priv := ""
		if a.Private != 0 {
			priv = string(a.Private)
		}
		return fmt.Sprintf("%s(%s%v %q %c)", a.Kind, priv, a.Params, a.Intermediates, a.Final)
	case ActionEscDispatch:
		return fmt.Sprintf("esc(%q %c)", a.Intermediates, a.Final)
	case ActionOscDispatch:
		return fmt.Sprintf("osc(%q bel=%t)", a.OSC, a.BellTerminated)
	default:
		return a.Kind.String()
	}
}
