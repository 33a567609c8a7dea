package grid

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeRow(g *Grid, y int, s string) {
	for x, r := range []rune(s) {
		g.SetCell(x, y, Cell{Codepoint: uint32(r), Fg: DefaultFg, Bg: DefaultBg})
	}
}

func TestNewGridIsBlank(t *testing.T) {
	g := New(80, 24, nil)
	require.Len(t, g.Cells(), 80*24)
	for _, c := range g.Cells() {
		assert.Equal(t, Blank(), c)
	}
	x, y := g.Cursor()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestSetCursorClamps(t *testing.T) {
	g := New(10, 5, nil)
	g.SetCursor(50, 50)
	x, y := g.Cursor()
	assert.Equal(t, 9, x)
	assert.Equal(t, 4, y)

	g.SetCursor(-3, -1)
	x, y = g.Cursor()
	assert.Equal(t, 0, x)
	assert.Equal(t, 0, y)
}

func TestResizeKeepsInvariantAndClampsCursor(t *testing.T) {
	sb := NewScrollback(100)
	g := New(80, 24, sb)
	writeRow(g, 0, "hello")
	sb.Push(Line{Cells: g.Row(0), Width: 80})
	g.SetCursor(79, 23)

	g.Resize(120, 40)
	require.Len(t, g.Cells(), 120*40)
	assert.Equal(t, "hello", g.RowText(0))
	x, y := g.Cursor()
	assert.Equal(t, 79, x)
	assert.Equal(t, 23, y)

	g.Resize(20, 10)
	require.Len(t, g.Cells(), 20*10)
	x, y = g.Cursor()
	assert.Equal(t, 19, x)
	assert.Equal(t, 9, y)

	assert.Equal(t, 1, sb.Len(), "scrollback must not change on resize")
}

func TestScrollUpPushesIntoScrollback(t *testing.T) {
	sb := NewScrollback(2)
	g := New(10, 3, sb)
	writeRow(g, 0, "one")
	writeRow(g, 1, "two")
	writeRow(g, 2, "three")

	evicted := g.ScrollUp(0, 2, 1, DefaultBg)
	assert.Equal(t, 0, evicted)
	assert.Equal(t, "two", g.RowText(0))
	assert.Equal(t, "three", g.RowText(1))
	assert.Equal(t, "", g.RowText(2))
	require.Equal(t, 1, sb.Len())

	evicted = g.ScrollUp(0, 2, 2, DefaultBg)
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 2, sb.Len())
	first, ok := sb.Line(0)
	require.True(t, ok)
	assert.Equal(t, "two", first.Text())
	assert.Equal(t, 10, first.Width)
}

func TestScrollRegionDoesNotTouchScrollback(t *testing.T) {
	sb := NewScrollback(10)
	g := New(10, 4, sb)
	for y := 0; y < 4; y++ {
		writeRow(g, y, fmt.Sprintf("r%d", y))
	}
	g.ScrollUp(1, 2, 1, DefaultBg)
	assert.Equal(t, 0, sb.Len())
	assert.Equal(t, "r0", g.RowText(0))
	assert.Equal(t, "r2", g.RowText(1))
	assert.Equal(t, "", g.RowText(2))
	assert.Equal(t, "r3", g.RowText(3))

	g.ScrollDown(0, 3, 2, DefaultBg)
	assert.Equal(t, "", g.RowText(0))
	assert.Equal(t, "", g.RowText(1))
	assert.Equal(t, "r0", g.RowText(2))
	assert.Equal(t, "r2", g.RowText(3))
}

func TestInsertAndDeleteChars(t *testing.T) {
	g := New(6, 1, nil)
	writeRow(g, 0, "abcdef")
	g.InsertBlank(1, 0, 2, DefaultBg)
	assert.Equal(t, "a  bcd", g.RowText(0))
	g.DeleteChars(1, 0, 2, DefaultBg)
	assert.Equal(t, "abcd", g.RowText(0))
	g.DeleteChars(0, 0, 100, DefaultBg)
	assert.Equal(t, "", g.RowText(0))
}

func TestClearRangeAndRows(t *testing.T) {
	g := New(5, 3, nil)
	for y := 0; y < 3; y++ {
		writeRow(g, y, "xxxxx")
	}
	g.ClearRange(0, 1, 3, DefaultBg)
	assert.Equal(t, "x  xx", g.RowText(0))
	g.ClearRows(1, 3, 0xFF112233)
	assert.Equal(t, "", g.RowText(1))
	assert.Equal(t, uint32(0xFF112233), g.Cell(0, 2).Bg)
	assert.Equal(t, "x  xx", g.Text())
}

func TestOutOfRangeAccessIsSafe(t *testing.T) {
	g := New(3, 3, nil)
	g.SetCell(-1, 0, Cell{Codepoint: 'x'})
	g.SetCell(3, 3, Cell{Codepoint: 'x'})
	assert.Equal(t, Blank(), g.Cell(99, 99))
	assert.Nil(t, g.Row(7))
	g.ScrollUp(5, 1, 1, DefaultBg)
	g.InsertBlank(9, 9, 1, DefaultBg)
	require.Len(t, g.Cells(), 9)
}

func TestRowCoordinates(t *testing.T) {
	sb := NewScrollback(3)
	g := New(4, 2, sb)
	assert.Equal(t, ScrollbackRow(1), g.ToScrollback(1))

	writeRow(g, 0, "a")
	writeRow(g, 1, "b")
	g.ScrollUp(0, 1, 1, DefaultBg)
	writeRow(g, 1, "c")

	// "b" moved from viewport row 1 to row 0 but kept its combined row.
	assert.Equal(t, ScrollbackRow(1), g.ToScrollback(0))
	assert.Equal(t, "a", g.LineText(0))
	assert.Equal(t, "b", g.LineText(1))
	assert.Equal(t, "c", g.LineText(2))

	v, ok := g.ToViewport(2)
	require.True(t, ok)
	assert.Equal(t, ViewportRow(1), v)

	_, ok = g.ToViewport(0)
	assert.False(t, ok)
	_, ok = g.ToViewport(5)
	assert.False(t, ok)
}

func TestWideTailTextRendering(t *testing.T) {
	g := New(4, 1, nil)
	g.SetCell(0, 0, Cell{Codepoint: '中'})
	g.SetCell(1, 0, Cell{Flags: FlagWideTail})
	g.SetCell(2, 0, Cell{Codepoint: 'x'})
	assert.Equal(t, "中x", g.RowText(0))
}
