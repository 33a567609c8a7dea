package grid

// ViewportRow is a row index into the live grid, 0 being the top row.
type ViewportRow int

// ScrollbackRow is a row index into the retained history followed by the
// live grid: rows [0, Scrollback.Len()) are history, the rest are the
// viewport. A line keeps its ScrollbackRow while it scrolls out of the
// viewport; it only changes when older history is evicted.
type ScrollbackRow int

// ToScrollback converts a viewport row into the combined history space.
func (g *Grid) ToScrollback(v ViewportRow) ScrollbackRow {
	return ScrollbackRow(g.historyLen() + int(v))
}

// ToViewport converts a combined-space row back into the live grid.
// ok is false when the row is in history or below the grid.
func (g *Grid) ToViewport(s ScrollbackRow) (ViewportRow, bool) {
	v := int(s) - g.historyLen()
	if v < 0 || v >= g.height {
		return 0, false
	}
	return ViewportRow(v), true
}

// CursorRow returns the cursor row in the combined history space.
func (g *Grid) CursorRow() ScrollbackRow {
	return g.ToScrollback(ViewportRow(g.cursorY))
}

// LineText returns the text of any row in the combined history space.
func (g *Grid) LineText(s ScrollbackRow) string {
	n := g.historyLen()
	if int(s) < n {
		line, ok := g.scrollback.Line(int(s))
		if !ok {
			return ""
		}
		return line.Text()
	}
	return g.RowText(int(s) - n)
}

func (g *Grid) historyLen() int {
	if g.scrollback == nil {
		return 0
	}
	return g.scrollback.Len()
}
