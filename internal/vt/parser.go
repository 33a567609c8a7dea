// Package vt implements the terminal byte-stream parser and the
// interpreter that applies its actions to a cell grid.
package vt

import "unicode/utf8"

type state uint8

const (
	stateGround state = iota
	stateEscape
	stateEscapeIntermediate
	stateCsiEntry
	stateCsiParam
	stateCsiIntermediate
	stateCsiIgnore
	stateOscString
	stateDcsEntry
	stateDcsParam
	stateDcsIntermediate
	stateDcsPassthrough
	stateDcsIgnore
	stateSosPmApcString
)

var stateNames = [...]string{
	stateGround:             "ground",
	stateEscape:             "escape",
	stateEscapeIntermediate: "escape_intermediate",
	stateCsiEntry:           "csi_entry",
	stateCsiParam:           "csi_param",
	stateCsiIntermediate:    "csi_intermediate",
	stateCsiIgnore:          "csi_ignore",
	stateOscString:          "osc_string",
	stateDcsEntry:           "dcs_entry",
	stateDcsParam:           "dcs_param",
	stateDcsIntermediate:    "dcs_intermediate",
	stateDcsPassthrough:     "dcs_passthrough",
	stateDcsIgnore:          "dcs_ignore",
	stateSosPmApcString:     "sos_pm_apc_string",
}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

const (
	maxParams        = 32
	maxParamValue    = 65535
	maxIntermediates = 2
	maxOSCBytes      = 4096
	maxOSCFields     = 16
)

// Parser is a byte-driven ANSI/VT state machine. It never fails: malformed
// input is dropped and the machine resumes in the ground state.
type Parser struct {
	state state

	params   []int
	cur      int
	hasParam bool
	private  byte
	inter    []byte
	ignore   bool

	osc         []byte
	oscFields   [][]byte
	oscOverflow bool

	utf8Buf [utf8.UTFMax]byte
	utf8Len int

	action Action

	// Anomalies counts sequences discarded as malformed.
	Anomalies uint64
}

// NewParser returns a parser in the ground state.
func NewParser() *Parser {
	return &Parser{
		params:    make([]int, 0, maxParams),
		inter:     make([]byte, 0, maxIntermediates),
		osc:       make([]byte, 0, 256),
		oscFields: make([][]byte, 0, maxOSCFields),
	}
}

// State returns the current state name.
func (p *Parser) State() string {
	return p.state.String()
}

// Advance feeds data through the state machine and calls emit for every
// action produced. The action and its slices are reused across calls.
func (p *Parser) Advance(data []byte, emit func(*Action)) {
	i := 0
	for i < len(data) {
		if p.state != stateGround {
			p.step(data[i], emit)
			i++
			continue
		}
		if p.utf8Len > 0 {
			i += p.continueUTF8(data[i:], emit)
			continue
		}
		n := FindControl(data[i:])
		if n > 0 {
			run := data[i : i+n]
			if i+n == len(data) {
				run = p.stashIncomplete(run)
			}
			if len(run) > 0 {
				p.emitPrint(run, emit)
			}
			i += n
			continue
		}
		p.step(data[i], emit)
		i++
	}
}

// stashIncomplete keeps a trailing partial UTF-8 sequence for the next call.
func (p *Parser) stashIncomplete(run []byte) []byte {
	start := len(run) - 1
	limit := len(run) - utf8.UTFMax
	for ; start >= 0 && start > limit; start-- {
		if !utf8.RuneStart(run[start]) {
			continue
		}
		if run[start] < utf8.RuneSelf || utf8.FullRune(run[start:]) {
			return run
		}
		p.utf8Len = copy(p.utf8Buf[:], run[start:])
		return run[:start]
	}
	return run
}

// continueUTF8 completes a sequence split across calls and returns the
// number of bytes consumed.
func (p *Parser) continueUTF8(data []byte, emit func(*Action)) int {
	used := 0
	for used < len(data) && p.utf8Len < utf8.UTFMax {
		b := data[used]
		if b < 0x80 || b >= 0xC0 {
			break
		}
		p.utf8Buf[p.utf8Len] = b
		p.utf8Len++
		used++
		if utf8.FullRune(p.utf8Buf[:p.utf8Len]) {
			break
		}
	}
	if used == len(data) && !utf8.FullRune(p.utf8Buf[:p.utf8Len]) && p.utf8Len < utf8.UTFMax {
		return used
	}
	n := p.utf8Len
	p.utf8Len = 0
	p.emitPrint(p.utf8Buf[:n], emit)
	return used
}

func (p *Parser) emitPrint(text []byte, emit func(*Action)) {
	p.action = Action{Kind: ActionPrint, Text: text}
	emit(&p.action)
}

func (p *Parser) emitByte(kind ActionKind, b byte, emit func(*Action)) {
	p.action = Action{Kind: kind, Byte: b}
	emit(&p.action)
}

func (p *Parser) clear() {
	p.params = p.params[:0]
	p.cur = 0
	p.hasParam = false
	p.private = 0
	p.inter = p.inter[:0]
	p.ignore = false
}

func (p *Parser) collect(b byte) {
	if len(p.inter) >= maxIntermediates {
		p.ignore = true
		return
	}
	p.inter = append(p.inter, b)
}

func (p *Parser) param(b byte) {
	if b == ';' || b == ':' {
		p.pushParam()
		p.hasParam = true
		return
	}
	p.hasParam = true
	p.cur = p.cur*10 + int(b-'0')
	if p.cur > maxParamValue {
		p.cur = maxParamValue
	}
}

func (p *Parser) pushParam() {
	if len(p.params) >= maxParams {
		p.ignore = true
	} else {
		p.params = append(p.params, p.cur)
	}
	p.cur = 0
}

func (p *Parser) finishParams() {
	if p.hasParam {
		p.pushParam()
	}
}

func (p *Parser) dispatchCSI(final byte, emit func(*Action)) {
	p.finishParams()
	if p.ignore {
		p.Anomalies++
	}
	p.action = Action{
		Kind:          ActionCsiDispatch,
		Final:         final,
		Private:       p.private,
		Params:        p.params,
		Intermediates: p.inter,
		Ignore:        p.ignore,
	}
	emit(&p.action)
}

func (p *Parser) dispatchEsc(final byte, emit func(*Action)) {
	p.action = Action{
		Kind:          ActionEscDispatch,
		Final:         final,
		Intermediates: p.inter,
		Ignore:        p.ignore,
	}
	emit(&p.action)
}

func (p *Parser) hook(final byte, emit func(*Action)) {
	p.finishParams()
	p.action = Action{
		Kind:          ActionHook,
		Final:         final,
		Private:       p.private,
		Params:        p.params,
		Intermediates: p.inter,
		Ignore:        p.ignore,
	}
	emit(&p.action)
}

func (p *Parser) dispatchOSC(bell bool, emit func(*Action)) {
	if p.oscOverflow {
		p.Anomalies++
	}
	p.oscFields = p.oscFields[:0]
	rest := p.osc
	for len(p.oscFields) < maxOSCFields-1 {
		idx := -1
		for j, c := range rest {
			if c == ';' {
				idx = j
				break
			}
		}
		if idx < 0 {
			break
		}
		p.oscFields = append(p.oscFields, rest[:idx])
		rest = rest[idx+1:]
	}
	p.oscFields = append(p.oscFields, rest)
	p.action = Action{
		Kind:           ActionOscDispatch,
		OSC:            p.oscFields,
		BellTerminated: bell,
		Ignore:         p.oscOverflow,
	}
	emit(&p.action)
}

// leaveString runs the exit action of string states before a transition.
func (p *Parser) leaveString(bell bool, emit func(*Action)) {
	switch p.state {
	case stateOscString:
		p.dispatchOSC(bell, emit)
	case stateDcsPassthrough:
		p.action = Action{Kind: ActionUnhook}
		emit(&p.action)
	}
}

func (p *Parser) enter(s state) {
	switch s {
	case stateEscape, stateCsiEntry, stateDcsEntry:
		p.clear()
	case stateOscString:
		p.osc = p.osc[:0]
		p.oscOverflow = false
	}
	p.state = s
}

func isExecutable(b byte) bool {
	return b <= 0x17 || b == 0x19 || (b >= 0x1C && b <= 0x1F)
}

func (p *Parser) step(b byte, emit func(*Action)) {
	// Transitions valid from any state.
	switch b {
	case 0x18, 0x1A:
		if p.state != stateGround && p.state != stateEscape {
			p.Anomalies++
		}
		// A cancelled OSC string is dropped; DCS handlers still see unhook.
		if p.state == stateDcsPassthrough {
			p.leaveString(false, emit)
		}
		p.emitByte(ActionExecute, b, emit)
		p.state = stateGround
		return
	case 0x1B:
		p.leaveString(false, emit)
		p.enter(stateEscape)
		return
	}

	switch p.state {
	case stateGround:
		if isExecutable(b) {
			p.emitByte(ActionExecute, b, emit)
			return
		}
		// Reached only for single bytes handed over by Advance.
		p.emitPrint([]byte{b}, emit)

	case stateEscape:
		switch {
		case isExecutable(b):
			p.emitByte(ActionExecute, b, emit)
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
			p.state = stateEscapeIntermediate
		case b == '[':
			p.enter(stateCsiEntry)
		case b == ']':
			p.enter(stateOscString)
		case b == 'P':
			p.enter(stateDcsEntry)
		case b == 'X' || b == '^' || b == '_':
			p.state = stateSosPmApcString
		case b >= 0x30 && b <= 0x7E:
			p.dispatchEsc(b, emit)
			p.state = stateGround
		case b == 0x7F:
		default:
			p.Anomalies++
			p.state = stateGround
		}

	case stateEscapeIntermediate:
		switch {
		case isExecutable(b):
			p.emitByte(ActionExecute, b, emit)
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
		case b >= 0x30 && b <= 0x7E:
			p.dispatchEsc(b, emit)
			p.state = stateGround
		case b == 0x7F:
		default:
			p.Anomalies++
			p.state = stateGround
		}

	case stateCsiEntry:
		switch {
		case isExecutable(b):
			p.emitByte(ActionExecute, b, emit)
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
			p.state = stateCsiIntermediate
		case (b >= '0' && b <= '9') || b == ';' || b == ':':
			p.param(b)
			p.state = stateCsiParam
		case b >= 0x3C && b <= 0x3F:
			p.private = b
			p.state = stateCsiParam
		case b >= 0x40 && b <= 0x7E:
			p.dispatchCSI(b, emit)
			p.state = stateGround
		case b == 0x7F:
		default:
			p.Anomalies++
			p.state = stateGround
		}

	case stateCsiParam:
		switch {
		case isExecutable(b):
			p.emitByte(ActionExecute, b, emit)
		case (b >= '0' && b <= '9') || b == ';' || b == ':':
			p.param(b)
		case b >= 0x3C && b <= 0x3F:
			p.state = stateCsiIgnore
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
			p.state = stateCsiIntermediate
		case b >= 0x40 && b <= 0x7E:
			p.dispatchCSI(b, emit)
			p.state = stateGround
		case b == 0x7F:
		default:
			p.Anomalies++
			p.state = stateGround
		}

	case stateCsiIntermediate:
		switch {
		case isExecutable(b):
			p.emitByte(ActionExecute, b, emit)
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
		case b >= 0x30 && b <= 0x3F:
			p.state = stateCsiIgnore
		case b >= 0x40 && b <= 0x7E:
			p.dispatchCSI(b, emit)
			p.state = stateGround
		case b == 0x7F:
		default:
			p.Anomalies++
			p.state = stateGround
		}

	case stateCsiIgnore:
		switch {
		case isExecutable(b):
			p.emitByte(ActionExecute, b, emit)
		case b >= 0x40 && b <= 0x7E:
			p.Anomalies++
			p.state = stateGround
		}

	case stateOscString:
		switch {
		case b == 0x07:
			p.dispatchOSC(true, emit)
			p.state = stateGround
		case b < 0x20:
		default:
			if len(p.osc) >= maxOSCBytes {
				p.oscOverflow = true
				return
			}
			p.osc = append(p.osc, b)
		}

	case stateDcsEntry:
		switch {
		case isExecutable(b):
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
			p.state = stateDcsIntermediate
		case (b >= '0' && b <= '9') || b == ';' || b == ':':
			p.param(b)
			p.state = stateDcsParam
		case b >= 0x3C && b <= 0x3F:
			p.private = b
			p.state = stateDcsParam
		case b >= 0x40 && b <= 0x7E:
			p.hook(b, emit)
			p.state = stateDcsPassthrough
		}

	case stateDcsParam:
		switch {
		case isExecutable(b):
		case (b >= '0' && b <= '9') || b == ';' || b == ':':
			p.param(b)
		case b >= 0x3C && b <= 0x3F:
			p.state = stateDcsIgnore
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
			p.state = stateDcsIntermediate
		case b >= 0x40 && b <= 0x7E:
			p.hook(b, emit)
			p.state = stateDcsPassthrough
		}

	case stateDcsIntermediate:
		switch {
		case isExecutable(b):
		case b >= 0x20 && b <= 0x2F:
			p.collect(b)
		case b >= 0x30 && b <= 0x3F:
			p.state = stateDcsIgnore
		case b >= 0x40 && b <= 0x7E:
			p.hook(b, emit)
			p.state = stateDcsPassthrough
		}

	case stateDcsPassthrough:
		if b != 0x7F {
			p.emitByte(ActionPut, b, emit)
		}

	case stateDcsIgnore, stateSosPmApcString:
		// Consumed until ESC, CAN or SUB.
	}
}
