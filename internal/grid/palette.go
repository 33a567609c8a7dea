package grid

var ansiColors = [8]uint32{
	0xFF000000, // black
	0xFFCD0000, // red
	0xFF00CD00, // green
	0xFFCDCD00, // yellow
	0xFF0000EE, // blue
	0xFFCD00CD, // magenta
	0xFF00CDCD, // cyan
	0xFFE5E5E5, // white
}

var brightColors = [8]uint32{
	0xFF7F7F7F,
	0xFFFF0000,
	0xFF00FF00,
	0xFFFFFF00,
	0xFF5C5CFF,
	0xFFFF00FF,
	0xFF00FFFF,
	0xFFFFFFFF,
}

// ANSIColor maps a 0-7 index to its packed color. Out of range yields DefaultFg.
func ANSIColor(i int) uint32 {
	if i < 0 || i >= len(ansiColors) {
		return DefaultFg
	}
	return ansiColors[i]
}

// BrightColor maps a 0-7 index to its bright variant.
func BrightColor(i int) uint32 {
	if i < 0 || i >= len(brightColors) {
		return DefaultFg
	}
	return brightColors[i]
}

// Color256 maps an xterm 256-color palette index.
func Color256(i uint8) uint32 {
	switch {
	case i < 8:
		return ansiColors[i]
	case i < 16:
		return brightColors[i-8]
	case i < 232:
		idx := uint32(i - 16)
		r := (idx / 36) * 51
		g := ((idx % 36) / 6) * 51
		b := (idx % 6) * 51
		return RGB(uint8(r), uint8(g), uint8(b))
	default:
		gray := uint8(8 + (uint32(i)-232)*10)
		return RGB(gray, gray, gray)
	}
}

// RGB packs an opaque truecolor value.
func RGB(r, g, b uint8) uint32 {
	return 0xFF000000 | uint32(r)<<16 | uint32(g)<<8 | uint32(b)
}
