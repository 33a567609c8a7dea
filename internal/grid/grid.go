// Package grid holds the live character grid and its scrollback history.
//
// A Grid is plain data with a single mutator: the session loop that drives
// the VT interpreter. It performs no locking of its own.
package grid

import (
	"fmt"
	"strings"
)

// Grid is a fixed-size row-major array of cells plus a cursor.
type Grid struct {
	width   int
	height  int
	cells   []Cell
	cursorX int
	cursorY int

	scrollback *Scrollback
}

// New creates a blank grid. sb may be nil for grids without history
// (the alternate screen).
func New(width, height int, sb *Scrollback) *Grid {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	g := &Grid{
		width:      width,
		height:     height,
		cells:      make([]Cell, width*height),
		scrollback: sb,
	}
	g.fill(g.cells, Blank())
	return g
}

func (g *Grid) fill(cells []Cell, c Cell) {
	for i := range cells {
		cells[i] = c
	}
}

func (g *Grid) String() string {
	return fmt.Sprintf("grid(%dx%d cursor=%d,%d)", g.width, g.height, g.cursorX, g.cursorY)
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Scrollback returns the attached history store (may be nil).
func (g *Grid) Scrollback() *Scrollback { return g.scrollback }

// Cursor returns the cursor position.
func (g *Grid) Cursor() (x, y int) { return g.cursorX, g.cursorY }

// SetCursor moves the cursor, clamping it into bounds.
func (g *Grid) SetCursor(x, y int) {
	g.cursorX = clamp(x, 0, g.width-1)
	g.cursorY = clamp(y, 0, g.height-1)
}

// Cells exposes the backing array. Callers must treat it as read-only.
func (g *Grid) Cells() []Cell { return g.cells }

// Cell returns the cell at (x, y); out of range yields a blank cell.
func (g *Grid) Cell(x, y int) Cell {
	if !g.inBounds(x, y) {
		return Blank()
	}
	return g.cells[y*g.width+x]
}

// SetCell writes a cell; out of range writes are ignored.
func (g *Grid) SetCell(x, y int, c Cell) {
	if !g.inBounds(x, y) {
		return
	}
	g.cells[y*g.width+x] = c
}

// Row returns a copy of row y.
func (g *Grid) Row(y int) []Cell {
	if y < 0 || y >= g.height {
		return nil
	}
	row := make([]Cell, g.width)
	copy(row, g.cells[y*g.width:(y+1)*g.width])
	return row
}

// RowText returns row y as a string with trailing blanks trimmed.
func (g *Grid) RowText(y int) string {
	if y < 0 || y >= g.height {
		return ""
	}
	return cellsText(g.cells[y*g.width : (y+1)*g.width])
}

// ClearRange erases cells [x0, x1) on row y.
func (g *Grid) ClearRange(y, x0, x1 int, bg uint32) {
	if y < 0 || y >= g.height {
		return
	}
	x0 = clamp(x0, 0, g.width)
	x1 = clamp(x1, 0, g.width)
	if x0 >= x1 {
		return
	}
	g.fill(g.cells[y*g.width+x0:y*g.width+x1], BlankWith(bg))
}

// ClearRows erases rows [y0, y1).
func (g *Grid) ClearRows(y0, y1 int, bg uint32) {
	y0 = clamp(y0, 0, g.height)
	y1 = clamp(y1, 0, g.height)
	if y0 >= y1 {
		return
	}
	g.fill(g.cells[y0*g.width:y1*g.width], BlankWith(bg))
}

// ScrollUp moves rows [top, bottom] up by n, blanking the rows exposed at
// the bottom. When the region starts at row 0 and a scrollback is attached,
// the rows leaving the top are pushed into it. It returns the number of
// scrollback lines evicted to make room.
func (g *Grid) ScrollUp(top, bottom, n int, bg uint32) int {
	top, bottom, ok := g.region(top, bottom)
	if !ok || n <= 0 {
		return 0
	}
	span := bottom - top + 1
	if n > span {
		n = span
	}
	evicted := 0
	if top == 0 && g.scrollback != nil {
		for y := 0; y < n; y++ {
			evicted += g.scrollback.Push(Line{Cells: g.Row(y), Width: g.width})
		}
	}
	g.shiftUp(top, bottom, n, bg)
	return evicted
}

// DeleteRows removes n rows at top within [top, bottom]. Unlike ScrollUp,
// removed rows are discarded rather than saved to history.
func (g *Grid) DeleteRows(top, bottom, n int, bg uint32) {
	top, bottom, ok := g.region(top, bottom)
	if !ok || n <= 0 {
		return
	}
	g.shiftUp(top, bottom, min(n, bottom-top+1), bg)
}

func (g *Grid) shiftUp(top, bottom, n int, bg uint32) {
	w := g.width
	copy(g.cells[top*w:(bottom+1-n)*w], g.cells[(top+n)*w:(bottom+1)*w])
	g.fill(g.cells[(bottom+1-n)*w:(bottom+1)*w], BlankWith(bg))
}

// ScrollDown moves rows [top, bottom] down by n, blanking the rows exposed
// at the top. Rows pushed past bottom are discarded.
func (g *Grid) ScrollDown(top, bottom, n int, bg uint32) {
	top, bottom, ok := g.region(top, bottom)
	if !ok || n <= 0 {
		return
	}
	span := bottom - top + 1
	if n > span {
		n = span
	}
	w := g.width
	copy(g.cells[(top+n)*w:(bottom+1)*w], g.cells[top*w:(bottom+1-n)*w])
	g.fill(g.cells[top*w:(top+n)*w], BlankWith(bg))
}

// InsertBlank shifts cells right of x on row y by n, inserting blanks.
func (g *Grid) InsertBlank(x, y, n int, bg uint32) {
	if !g.inBounds(x, y) || n <= 0 {
		return
	}
	row := g.cells[y*g.width : (y+1)*g.width]
	if n > g.width-x {
		n = g.width - x
	}
	copy(row[x+n:], row[x:g.width-n])
	g.fill(row[x:x+n], BlankWith(bg))
}

// DeleteChars removes n cells at x on row y, pulling the rest left.
func (g *Grid) DeleteChars(x, y, n int, bg uint32) {
	if !g.inBounds(x, y) || n <= 0 {
		return
	}
	row := g.cells[y*g.width : (y+1)*g.width]
	if n > g.width-x {
		n = g.width - x
	}
	copy(row[x:], row[x+n:])
	g.fill(row[g.width-n:], BlankWith(bg))
}

// Resize replaces the cell array with one of the new dimensions, copying
// the overlapping top-left area and clamping the cursor. Scrollback is
// left untouched.
func (g *Grid) Resize(width, height int) {
	if width < 1 {
		width = 1
	}
	if height < 1 {
		height = 1
	}
	if width == g.width && height == g.height {
		return
	}
	cells := make([]Cell, width*height)
	g.fill(cells, Blank())
	copyW := min(width, g.width)
	copyH := min(height, g.height)
	for y := 0; y < copyH; y++ {
		copy(cells[y*width:y*width+copyW], g.cells[y*g.width:y*g.width+copyW])
	}
	g.cells = cells
	g.width = width
	g.height = height
	g.SetCursor(g.cursorX, g.cursorY)
}

// Reset blanks every cell and homes the cursor.
func (g *Grid) Reset() {
	g.fill(g.cells, Blank())
	g.cursorX, g.cursorY = 0, 0
}

// Text returns all rows joined by newlines with trailing blank rows dropped.
func (g *Grid) Text() string {
	rows := make([]string, g.height)
	last := -1
	for y := 0; y < g.height; y++ {
		rows[y] = g.RowText(y)
		if rows[y] != "" {
			last = y
		}
	}
	return strings.Join(rows[:last+1], "\n")
}

func (g *Grid) inBounds(x, y int) bool {
	return x >= 0 && x < g.width && y >= 0 && y < g.height
}

func (g *Grid) region(top, bottom int) (int, int, bool) {
	top = clamp(top, 0, g.height-1)
	bottom = clamp(bottom, 0, g.height-1)
	return top, bottom, top <= bottom
}

func cellsText(cells []Cell) string {
	var b strings.Builder
	end := len(cells)
	for end > 0 && cells[end-1].IsBlank() && !cells[end-1].Flags.Has(FlagWideTail) {
		end--
	}
	for _, c := range cells[:end] {
		if c.Flags.Has(FlagWideTail) {
			continue
		}
		if c.Codepoint == 0 {
			b.WriteByte(' ')
			continue
		}
		b.WriteRune(c.Rune())
	}
	return b.String()
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
