package grid

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func textLine(s string) Line {
	cells := make([]Cell, 0, len(s))
	for _, r := range s {
		cells = append(cells, Cell{Codepoint: uint32(r)})
	}
	return Line{Cells: cells, Width: len(cells)}
}

func TestScrollbackBoundedFIFO(t *testing.T) {
	sb := NewScrollback(3)
	evicted := 0
	for i := 0; i < 5; i++ {
		evicted += sb.Push(textLine(fmt.Sprintf("line%d", i)))
		assert.LessOrEqual(t, sb.Len(), sb.Cap())
	}
	assert.Equal(t, 2, evicted)
	assert.Equal(t, uint64(5), sb.Total())

	lines := sb.Lines()
	require.Len(t, lines, 3)
	assert.Equal(t, "line2", lines[0].Text())
	assert.Equal(t, "line4", lines[2].Text())

	_, ok := sb.Line(3)
	assert.False(t, ok)
}

func TestScrollbackClear(t *testing.T) {
	sb := NewScrollback(4)
	sb.Push(textLine("a"))
	sb.Push(textLine("b"))
	assert.Equal(t, 2, sb.Clear())
	assert.Equal(t, 0, sb.Len())
	sb.Push(textLine("c"))
	line, ok := sb.Line(0)
	require.True(t, ok)
	assert.Equal(t, "c", line.Text())
}

func TestScrollbackDefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultScrollbackLines, NewScrollback(0).Cap())
}

func TestPalette(t *testing.T) {
	tests := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"ansi black", ANSIColor(0), 0xFF000000},
		{"ansi red", ANSIColor(1), 0xFFCD0000},
		{"ansi white", ANSIColor(7), 0xFFE5E5E5},
		{"ansi out of range", ANSIColor(9), DefaultFg},
		{"bright blue", BrightColor(4), 0xFF5C5CFF},
		{"256 standard", Color256(1), 0xFFCD0000},
		{"256 bright", Color256(9), 0xFFFF0000},
		{"256 cube origin", Color256(16), 0xFF000000},
		{"256 cube max", Color256(231), 0xFFFFFFFF},
		{"256 cube mixed", Color256(16 + 36*1 + 6*2 + 3), RGB(51, 102, 153)},
		{"256 gray first", Color256(232), RGB(8, 8, 8)},
		{"256 gray last", Color256(255), RGB(238, 238, 238)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}
