package vt

import (
	"io"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"

	"github.com/asheshgoplani/term-deck/internal/grid"
	"github.com/asheshgoplani/term-deck/internal/logging"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

// Batch defaults: input is buffered up to DefaultBatchCapacity bytes and
// parsed once DefaultBatchThreshold bytes are pending.
const (
	DefaultBatchCapacity  = 4096
	DefaultBatchThreshold = 3072
)

// Options configures a Terminal. Zero values select defaults.
type Options struct {
	Cols            int
	Rows            int
	ScrollbackLines int
	MaxBlocks       int
	BatchCapacity   int
	BatchThreshold  int
	CacheSize       int
	// DisableCache turns off the CSI cache.
	DisableCache bool
	// Responder receives replies to device queries (usually the PTY).
	Responder io.Writer
	// Clock stamps zone markers. Defaults to time.Now.
	Clock func() time.Time
}

type pen struct {
	fg    uint32
	bg    uint32
	flags grid.Flags
}

func defaultPen() pen {
	return pen{fg: grid.DefaultFg, bg: grid.DefaultBg}
}

type savedCursor struct {
	x, y   int
	pen    pen
	origin bool
	set    bool
}

// Terminal interprets parser actions against a cell grid, a scrollback
// store and a zone tracker. It has a single mutator and no locking.
type Terminal struct {
	parser *Parser
	cache  *CSICache
	apply  func(*Action)

	primary    *grid.Grid
	alt        *grid.Grid
	g          *grid.Grid
	scrollback *grid.Scrollback
	zones      *zones.Tracker

	pen         pen
	saved       savedCursor
	savedAlt    savedCursor
	top, bottom int
	wrapPending bool
	tabs        []bool

	autowrap       bool
	originMode     bool
	insertMode     bool
	newlineMode    bool
	cursorVisible  bool
	bracketedPaste bool

	title string
	cwd   string
	bells uint64

	batch     []byte
	threshold int

	responder io.Writer
	clock     func() time.Time
}

// NewTerminal creates a terminal of opts.Cols x opts.Rows (80x24 default).
func NewTerminal(opts Options) *Terminal {
	if opts.Cols <= 0 {
		opts.Cols = 80
	}
	if opts.Rows <= 0 {
		opts.Rows = 24
	}
	if opts.BatchCapacity <= 0 {
		opts.BatchCapacity = DefaultBatchCapacity
	}
	if opts.BatchThreshold <= 0 || opts.BatchThreshold > opts.BatchCapacity {
		opts.BatchThreshold = opts.BatchCapacity * 3 / 4
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	sb := grid.NewScrollback(opts.ScrollbackLines)
	t := &Terminal{
		parser:        NewParser(),
		cache:         NewCSICache(opts.CacheSize, !opts.DisableCache),
		scrollback:    sb,
		primary:       grid.New(opts.Cols, opts.Rows, sb),
		zones:         zones.NewTracker(opts.MaxBlocks),
		pen:           defaultPen(),
		autowrap:      true,
		cursorVisible: true,
		batch:         make([]byte, 0, opts.BatchCapacity),
		threshold:     opts.BatchThreshold,
		responder:     opts.Responder,
		clock:         opts.Clock,
	}
	t.g = t.primary
	t.apply = t.Apply
	t.resetScrollRegion()
	t.resetTabs()
	return t
}

// Feed queues data for parsing. Parsing happens whenever the pending
// batch reaches the threshold; call Flush to process the remainder.
func (t *Terminal) Feed(data []byte) {
	for len(data) > 0 {
		room := cap(t.batch) - len(t.batch)
		if room == 0 {
			t.Flush()
			room = cap(t.batch)
		}
		n := min(room, len(data))
		t.batch = append(t.batch, data[:n]...)
		data = data[n:]
		if len(t.batch) >= t.threshold {
			t.Flush()
		}
	}
}

// Flush parses every pending byte.
func (t *Terminal) Flush() {
	if len(t.batch) == 0 {
		return
	}
	t.parser.Advance(t.batch, t.apply)
	t.batch = t.batch[:0]
}

// Pending returns the number of queued, unparsed bytes.
func (t *Terminal) Pending() int {
	return len(t.batch)
}

// Write feeds p and flushes, so a Terminal can sit behind an io.Writer.
func (t *Terminal) Write(p []byte) (int, error) {
	t.Feed(p)
	t.Flush()
	return len(p), nil
}

// Apply executes one parser action. It is the only path that mutates the
// grid in response to input.
func (t *Terminal) Apply(a *Action) {
	switch a.Kind {
	case ActionPrint:
		t.print(a.Text)
	case ActionExecute:
		t.execute(a.Byte)
	case ActionCsiDispatch:
		t.csiDispatch(a)
	case ActionEscDispatch:
		t.escDispatch(a)
	case ActionOscDispatch:
		t.oscDispatch(a)
	case ActionHook, ActionPut, ActionUnhook:
		// DCS strings carry no grid semantics here.
	}
}

// Grid returns the active grid (primary or alternate screen).
func (t *Terminal) Grid() *grid.Grid { return t.g }

// Primary returns the primary screen grid.
func (t *Terminal) Primary() *grid.Grid { return t.primary }

// Scrollback returns the history store of the primary screen.
func (t *Terminal) Scrollback() *grid.Scrollback { return t.scrollback }

// Zones returns the semantic zone tracker.
func (t *Terminal) Zones() *zones.Tracker { return t.zones }

// CacheStats returns CSI cache counters.
func (t *Terminal) CacheStats() CacheStats { return t.cache.Stats() }

// Anomalies returns how many malformed sequences were discarded.
func (t *Terminal) Anomalies() uint64 { return t.parser.Anomalies }

// Title returns the last title set via OSC 0/2.
func (t *Terminal) Title() string { return t.title }

// Cwd returns the working directory reported via OSC 7.
func (t *Terminal) Cwd() string { return t.cwd }

// Bells returns how many BEL bytes were received.
func (t *Terminal) Bells() uint64 { return t.bells }

// CursorVisible reports the DECTCEM state.
func (t *Terminal) CursorVisible() bool { return t.cursorVisible }

// AltScreen reports whether the alternate screen is active.
func (t *Terminal) AltScreen() bool { return t.g == t.alt }

// BracketedPaste reports whether mode 2004 is set.
func (t *Terminal) BracketedPaste() bool { return t.bracketedPaste }

// Size returns the grid dimensions.
func (t *Terminal) Size() (cols, rows int) { return t.g.Width(), t.g.Height() }

// Resize changes both screens to cols x rows, clamping the cursor.
// Scrollback and zones are left untouched.
func (t *Terminal) Resize(cols, rows int) {
	t.Flush()
	t.primary.Resize(cols, rows)
	if t.alt != nil {
		t.alt.Resize(cols, rows)
	}
	t.wrapPending = false
	t.resetScrollRegion()
	t.resetTabs()
}

// Reset performs a full terminal reset (RIS).
func (t *Terminal) Reset() {
	t.g = t.primary
	t.alt = nil
	t.primary.Reset()
	t.pen = defaultPen()
	t.saved = savedCursor{}
	t.savedAlt = savedCursor{}
	t.wrapPending = false
	t.autowrap = true
	t.originMode = false
	t.insertMode = false
	t.newlineMode = false
	t.cursorVisible = true
	t.bracketedPaste = false
	t.title = ""
	t.resetScrollRegion()
	t.resetTabs()
}

func (t *Terminal) resetScrollRegion() {
	t.top = 0
	t.bottom = t.g.Height() - 1
}

func (t *Terminal) resetTabs() {
	t.tabs = make([]bool, t.g.Width())
	for x := 8; x < len(t.tabs); x += 8 {
		t.tabs[x] = true
	}
}

func (t *Terminal) print(text []byte) {
	for len(text) > 0 {
		b := text[0]
		if b < utf8.RuneSelf {
			text = text[1:]
			if b == 0x7F {
				continue
			}
			t.putRune(rune(b), 1)
			continue
		}
		r, size := utf8.DecodeRune(text)
		text = text[size:]
		w := runewidth.RuneWidth(r)
		if w == 0 {
			// Combining marks are not composed onto the previous cell.
			continue
		}
		t.putRune(r, w)
	}
}

func (t *Terminal) putRune(r rune, width int) {
	g := t.g
	cols := g.Width()
	if width > cols {
		return
	}
	if t.wrapPending {
		t.wrapPending = false
		if t.autowrap {
			t.carriageReturn()
			t.lineFeed()
		}
	}
	x, y := g.Cursor()
	if width == 2 && x == cols-1 {
		if !t.autowrap {
			x = cols - 2
		} else {
			g.SetCell(x, y, grid.BlankWith(t.pen.bg))
			t.carriageReturn()
			t.lineFeed()
			x, y = g.Cursor()
		}
	}
	if t.insertMode {
		g.InsertBlank(x, y, width, t.pen.bg)
	}
	g.SetCell(x, y, grid.Cell{Codepoint: uint32(r), Fg: t.pen.fg, Bg: t.pen.bg, Flags: t.pen.flags})
	if width == 2 {
		g.SetCell(x+1, y, grid.Cell{Fg: t.pen.fg, Bg: t.pen.bg, Flags: t.pen.flags | grid.FlagWideTail})
	}
	if x+width >= cols {
		g.SetCursor(cols-1, y)
		t.wrapPending = true
		return
	}
	g.SetCursor(x+width, y)
}

func (t *Terminal) execute(b byte) {
	switch b {
	case 0x07:
		t.bells++
	case 0x08:
		x, y := t.g.Cursor()
		t.wrapPending = false
		t.g.SetCursor(x-1, y)
	case 0x09:
		t.tabForward(1)
	case 0x0A, 0x0B, 0x0C:
		t.lineFeed()
		if t.newlineMode {
			t.carriageReturn()
		}
	case 0x0D:
		t.carriageReturn()
	}
}

func (t *Terminal) carriageReturn() {
	_, y := t.g.Cursor()
	t.g.SetCursor(0, y)
	t.wrapPending = false
}

// lineFeed moves down one row, scrolling the region at its bottom margin.
func (t *Terminal) lineFeed() {
	x, y := t.g.Cursor()
	t.wrapPending = false
	if y == t.bottom {
		t.scrollUp(1)
		return
	}
	t.g.SetCursor(x, y+1)
}

func (t *Terminal) reverseIndex() {
	x, y := t.g.Cursor()
	t.wrapPending = false
	if y == t.top {
		t.g.ScrollDown(t.top, t.bottom, 1, t.pen.bg)
		return
	}
	t.g.SetCursor(x, y-1)
}

// scrollUp scrolls the region and keeps zone rows aligned with history
// eviction.
func (t *Terminal) scrollUp(n int) {
	evicted := t.g.ScrollUp(t.top, t.bottom, n, t.pen.bg)
	if evicted > 0 && t.g == t.primary {
		t.zones.AdjustForScroll(-evicted)
	}
}

func (t *Terminal) tabForward(n int) {
	x, y := t.g.Cursor()
	for ; n > 0; n-- {
		x++
		for x < len(t.tabs) && !t.tabs[x] {
			x++
		}
	}
	t.g.SetCursor(x, y)
}

func (t *Terminal) tabBackward(n int) {
	x, y := t.g.Cursor()
	for ; n > 0 && x > 0; n-- {
		x--
		for x > 0 && !t.tabs[x] {
			x--
		}
	}
	t.g.SetCursor(x, y)
}

func (t *Terminal) saveCursor() {
	x, y := t.g.Cursor()
	s := savedCursor{x: x, y: y, pen: t.pen, origin: t.originMode, set: true}
	if t.g == t.alt {
		t.savedAlt = s
		return
	}
	t.saved = s
}

func (t *Terminal) restoreCursor() {
	s := t.saved
	if t.g == t.alt {
		s = t.savedAlt
	}
	if !s.set {
		t.g.SetCursor(0, 0)
		t.pen = defaultPen()
		t.originMode = false
		t.wrapPending = false
		return
	}
	t.pen = s.pen
	t.originMode = s.origin
	t.g.SetCursor(s.x, s.y)
	t.wrapPending = false
}

func (t *Terminal) enterAltScreen(save, clearScreen bool) {
	if t.g == t.alt && t.alt != nil {
		return
	}
	if save {
		t.saveCursor()
	}
	if t.alt == nil {
		t.alt = grid.New(t.primary.Width(), t.primary.Height(), nil)
	} else if clearScreen {
		t.alt.Reset()
	}
	x, y := t.primary.Cursor()
	t.g = t.alt
	t.g.SetCursor(x, y)
	t.wrapPending = false
	t.resetScrollRegion()
}

func (t *Terminal) leaveAltScreen(restore bool) {
	if t.g != t.alt || t.alt == nil {
		return
	}
	x, y := t.alt.Cursor()
	t.g = t.primary
	t.g.SetCursor(x, y)
	t.wrapPending = false
	t.resetScrollRegion()
	if restore {
		t.restoreCursor()
	}
}

func (t *Terminal) escDispatch(a *Action) {
	if a.Ignore {
		return
	}
	if len(a.Intermediates) > 0 {
		// Charset designation and DEC line attributes are accepted and ignored.
		return
	}
	switch a.Final {
	case '7':
		t.saveCursor()
	case '8':
		t.restoreCursor()
	case 'D':
		t.lineFeed()
	case 'E':
		t.carriageReturn()
		t.lineFeed()
	case 'M':
		t.reverseIndex()
	case 'H':
		x, _ := t.g.Cursor()
		if x < len(t.tabs) {
			t.tabs[x] = true
		}
	case 'c':
		t.Reset()
	case '=', '>', '\\':
	default:
		logging.Aggregate(logging.CompVT, "esc_unhandled", slog.String("final", string(a.Final)))
	}
}

func (t *Terminal) respond(s string) {
	if t.responder == nil {
		return
	}
	if _, err := io.WriteString(t.responder, s); err != nil {
		vtLog.Debug("responder_write_failed", slog.String("error", err.Error()))
	}
}

var vtLog = logging.ForComponent(logging.CompVT)
