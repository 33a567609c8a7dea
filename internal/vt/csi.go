package vt

import (
	"fmt"
	"log/slog"

	"github.com/asheshgoplani/term-deck/internal/logging"
)

type opKind uint8

const (
	opCursorUp opKind = iota + 1
	opCursorDown
	opCursorForward
	opCursorBack
	opCursorNextLine
	opCursorPrevLine
	opCursorColumn
	opCursorRow
	opCursorPosition
	opEraseDisplay
	opEraseLine
	opSGR
)

// csiOp is the compiled, parameter-resolved form of a cacheable sequence.
type csiOp struct {
	kind opKind
	a, b int
	sgr  []sgrStep
}

// cacheable reports whether a sequence compiles to a csiOp. These are the
// sequences that dominate shell and TUI output.
func cacheable(a *Action) bool {
	if a.Private != 0 || len(a.Intermediates) != 0 {
		return false
	}
	switch a.Final {
	case 'A', 'B', 'C', 'D', 'E', 'F', 'G', '`', 'd', 'H', 'f', 'J', 'K', 'm':
		return true
	}
	return false
}

func compileCSI(a *Action) csiOp {
	switch a.Final {
	case 'A':
		return csiOp{kind: opCursorUp, a: a.Param(0, 1)}
	case 'B':
		return csiOp{kind: opCursorDown, a: a.Param(0, 1)}
	case 'C':
		return csiOp{kind: opCursorForward, a: a.Param(0, 1)}
	case 'D':
		return csiOp{kind: opCursorBack, a: a.Param(0, 1)}
	case 'E':
		return csiOp{kind: opCursorNextLine, a: a.Param(0, 1)}
	case 'F':
		return csiOp{kind: opCursorPrevLine, a: a.Param(0, 1)}
	case 'G', '`':
		return csiOp{kind: opCursorColumn, a: a.Param(0, 1) - 1}
	case 'd':
		return csiOp{kind: opCursorRow, a: a.Param(0, 1) - 1}
	case 'H', 'f':
		return csiOp{kind: opCursorPosition, a: a.Param(1, 1) - 1, b: a.Param(0, 1) - 1}
	case 'J':
		return csiOp{kind: opEraseDisplay, a: rawParam(a, 0)}
	case 'K':
		return csiOp{kind: opEraseLine, a: rawParam(a, 0)}
	default:
		return csiOp{kind: opSGR, sgr: compileSGR(a.Params)}
	}
}

func rawParam(a *Action, i int) int {
	if i < len(a.Params) {
		return a.Params[i]
	}
	return 0
}

func (t *Terminal) csiDispatch(a *Action) {
	if a.Ignore {
		return
	}
	if !cacheable(a) {
		t.csiUncached(a)
		return
	}
	key, ok := makeCSIKey(a)
	if !ok {
		t.execOp(compileCSI(a))
		return
	}
	op, hit := t.cache.get(key)
	if !hit {
		op = compileCSI(a)
		t.cache.put(key, op)
	}
	t.execOp(op)
}

func (t *Terminal) execOp(op csiOp) {
	g := t.g
	x, y := g.Cursor()
	switch op.kind {
	case opCursorUp:
		t.moveTo(x, t.clampUp(y, op.a))
	case opCursorDown:
		t.moveTo(x, t.clampDown(y, op.a))
	case opCursorForward:
		t.moveTo(x+op.a, y)
	case opCursorBack:
		t.moveTo(x-op.a, y)
	case opCursorNextLine:
		t.moveTo(0, t.clampDown(y, op.a))
	case opCursorPrevLine:
		t.moveTo(0, t.clampUp(y, op.a))
	case opCursorColumn:
		t.moveTo(op.a, y)
	case opCursorRow:
		t.moveTo(x, t.originRow(op.a))
	case opCursorPosition:
		t.moveTo(op.a, t.originRow(op.b))
	case opEraseDisplay:
		t.eraseDisplay(op.a)
	case opEraseLine:
		t.eraseLine(op.a)
	case opSGR:
		t.applySGR(op.sgr)
	}
}

func (t *Terminal) moveTo(x, y int) {
	t.g.SetCursor(x, y)
	t.wrapPending = false
}

// clampUp keeps upward motion inside the scroll region when starting in it.
func (t *Terminal) clampUp(y, n int) int {
	limit := 0
	if y >= t.top {
		limit = t.top
	}
	return max(y-n, limit)
}

func (t *Terminal) clampDown(y, n int) int {
	limit := t.g.Height() - 1
	if y <= t.bottom {
		limit = t.bottom
	}
	return min(y+n, limit)
}

func (t *Terminal) originRow(row int) int {
	if !t.originMode {
		return row
	}
	return min(t.top+row, t.bottom)
}

func (t *Terminal) eraseDisplay(mode int) {
	g := t.g
	x, y := g.Cursor()
	bg := t.pen.bg
	switch mode {
	case 0:
		g.ClearRange(y, x, g.Width(), bg)
		g.ClearRows(y+1, g.Height(), bg)
	case 1:
		g.ClearRows(0, y, bg)
		g.ClearRange(y, 0, x+1, bg)
	case 2:
		g.ClearRows(0, g.Height(), bg)
	case 3:
		g.ClearRows(0, g.Height(), bg)
		if g == t.primary {
			n := t.scrollback.Len()
			t.scrollback.Clear()
			t.zones.AdjustForScroll(-n)
		}
	}
}

func (t *Terminal) eraseLine(mode int) {
	g := t.g
	x, y := g.Cursor()
	switch mode {
	case 0:
		g.ClearRange(y, x, g.Width(), t.pen.bg)
	case 1:
		g.ClearRange(y, 0, x+1, t.pen.bg)
	case 2:
		g.ClearRange(y, 0, g.Width(), t.pen.bg)
	}
}

// csiUncached handles the sequences that are rare enough, or stateful
// enough, to be interpreted straight from the action.
func (t *Terminal) csiUncached(a *Action) {
	g := t.g
	x, y := g.Cursor()
	switch {
	case a.Private == '?' && (a.Final == 'h' || a.Final == 'l'):
		for _, m := range a.Params {
			t.setPrivateMode(m, a.Final == 'h')
		}
		return
	case a.Private == '>' && a.Final == 'c':
		t.respond("\x1b[>0;10;1c")
		return
	case a.Private != 0 || len(a.Intermediates) != 0:
		// Private and intermediate variants we do not model (DECSCUSR,
		// DECSTR, key modifiers) are accepted silently.
		if len(a.Intermediates) == 1 && a.Intermediates[0] == '!' && a.Final == 'p' {
			t.softReset()
		}
		return
	}

	switch a.Final {
	case '@':
		g.InsertBlank(x, y, a.Param(0, 1), t.pen.bg)
	case 'P':
		g.DeleteChars(x, y, a.Param(0, 1), t.pen.bg)
	case 'X':
		g.ClearRange(y, x, x+a.Param(0, 1), t.pen.bg)
	case 'L':
		if y >= t.top && y <= t.bottom {
			g.ScrollDown(y, t.bottom, a.Param(0, 1), t.pen.bg)
			t.moveTo(0, y)
		}
	case 'M':
		if y >= t.top && y <= t.bottom {
			g.DeleteRows(y, t.bottom, a.Param(0, 1), t.pen.bg)
			t.moveTo(0, y)
		}
	case 'S':
		t.scrollUp(a.Param(0, 1))
	case 'T':
		g.ScrollDown(t.top, t.bottom, a.Param(0, 1), t.pen.bg)
	case 'r':
		top := a.Param(0, 1) - 1
		bottom := a.Param(1, g.Height()) - 1
		bottom = min(bottom, g.Height()-1)
		if top < bottom {
			t.top, t.bottom = top, bottom
			t.moveTo(0, t.originRow(0))
		}
	case 's':
		t.saveCursor()
	case 'u':
		t.restoreCursor()
	case 'h', 'l':
		on := a.Final == 'h'
		for _, m := range a.Params {
			switch m {
			case 4:
				t.insertMode = on
			case 20:
				t.newlineMode = on
			}
		}
	case 'n':
		switch rawParam(a, 0) {
		case 5:
			t.respond("\x1b[0n")
		case 6:
			row := y + 1
			if t.originMode {
				row = y - t.top + 1
			}
			t.respond(fmt.Sprintf("\x1b[%d;%dR", row, x+1))
		}
	case 'c':
		if rawParam(a, 0) == 0 {
			t.respond("\x1b[?62;22c")
		}
	case 'g':
		switch rawParam(a, 0) {
		case 0:
			if x < len(t.tabs) {
				t.tabs[x] = false
			}
		case 3:
			clear(t.tabs)
		}
	case 'I':
		t.tabForward(a.Param(0, 1))
	case 'Z':
		t.tabBackward(a.Param(0, 1))
	case 'b', 't':
		// REP and window manipulation are not supported.
	default:
		logging.Aggregate(logging.CompVT, "csi_unhandled", slog.String("final", string(a.Final)))
	}
}

func (t *Terminal) setPrivateMode(mode int, on bool) {
	switch mode {
	case 1:
		// DECCKM is handled by the client encoding keys.
	case 6:
		t.originMode = on
		t.moveTo(0, t.originRow(0))
	case 7:
		t.autowrap = on
	case 25:
		t.cursorVisible = on
	case 47, 1047:
		if on {
			t.enterAltScreen(false, mode == 1047)
		} else {
			if mode == 1047 && t.alt != nil {
				t.alt.Reset()
			}
			t.leaveAltScreen(false)
		}
	case 1048:
		if on {
			t.saveCursor()
		} else {
			t.restoreCursor()
		}
	case 1049:
		if on {
			t.enterAltScreen(true, true)
		} else {
			t.leaveAltScreen(true)
		}
	case 2004:
		t.bracketedPaste = on
	}
}

// softReset is DECSTR: modes and pen return to defaults, content stays.
func (t *Terminal) softReset() {
	t.pen = defaultPen()
	t.autowrap = true
	t.originMode = false
	t.insertMode = false
	t.cursorVisible = true
	t.saved = savedCursor{}
	t.wrapPending = false
	t.resetScrollRegion()
}
