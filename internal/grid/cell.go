package grid

// Flags is the style bitset carried by every cell.
type Flags uint8

const (
	FlagBold Flags = 1 << iota
	FlagItalic
	FlagUnderline
	FlagInverse
	FlagDim
	FlagStrikethrough
	// FlagWideTail marks the second column of a double-width glyph.
	FlagWideTail
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Default colors, packed 0xAARRGGBB.
const (
	DefaultFg uint32 = 0xFFCCCCCC
	DefaultBg uint32 = 0xFF000000
)

// BlankCodepoint is written into erased cells.
const BlankCodepoint = ' '

// Cell is one character position on the grid.
type Cell struct {
	Codepoint uint32
	Fg        uint32
	Bg        uint32
	Flags     Flags
}

// Blank returns an erased cell with default colors.
func Blank() Cell {
	return Cell{Codepoint: BlankCodepoint, Fg: DefaultFg, Bg: DefaultBg}
}

// BlankWith returns an erased cell that keeps the given background,
// matching how erase operations honor the current pen.
func BlankWith(bg uint32) Cell {
	return Cell{Codepoint: BlankCodepoint, Fg: DefaultFg, Bg: bg}
}

// Rune returns the cell codepoint as a rune.
func (c Cell) Rune() rune {
	return rune(c.Codepoint)
}

// IsBlank reports whether the cell shows nothing.
func (c Cell) IsBlank() bool {
	return c.Codepoint == 0 || c.Codepoint == BlankCodepoint
}
