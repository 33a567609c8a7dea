package vt

import "github.com/asheshgoplani/term-deck/internal/grid"

type sgrKind uint8

const (
	sgrReset sgrKind = iota
	sgrSetFlags
	sgrClearFlags
	sgrFg
	sgrBg
	sgrDefaultFg
	sgrDefaultBg
)

// sgrStep is one pen change decoded from an SGR parameter list.
type sgrStep struct {
	kind  sgrKind
	flags grid.Flags
	color uint32
}

// compileSGR decodes SGR parameters. Unknown attributes are skipped.
func compileSGR(params []int) []sgrStep {
	if len(params) == 0 {
		return []sgrStep{{kind: sgrReset}}
	}
	steps := make([]sgrStep, 0, len(params))
	for i := 0; i < len(params); i++ {
		p := params[i]
		switch {
		case p == 0:
			steps = append(steps, sgrStep{kind: sgrReset})
		case p == 1:
			steps = append(steps, sgrStep{kind: sgrSetFlags, flags: grid.FlagBold})
		case p == 2:
			steps = append(steps, sgrStep{kind: sgrSetFlags, flags: grid.FlagDim})
		case p == 3:
			steps = append(steps, sgrStep{kind: sgrSetFlags, flags: grid.FlagItalic})
		case p == 4 || p == 21:
			steps = append(steps, sgrStep{kind: sgrSetFlags, flags: grid.FlagUnderline})
		case p == 7:
			steps = append(steps, sgrStep{kind: sgrSetFlags, flags: grid.FlagInverse})
		case p == 9:
			steps = append(steps, sgrStep{kind: sgrSetFlags, flags: grid.FlagStrikethrough})
		case p == 22:
			steps = append(steps, sgrStep{kind: sgrClearFlags, flags: grid.FlagBold | grid.FlagDim})
		case p == 23:
			steps = append(steps, sgrStep{kind: sgrClearFlags, flags: grid.FlagItalic})
		case p == 24:
			steps = append(steps, sgrStep{kind: sgrClearFlags, flags: grid.FlagUnderline})
		case p == 27:
			steps = append(steps, sgrStep{kind: sgrClearFlags, flags: grid.FlagInverse})
		case p == 29:
			steps = append(steps, sgrStep{kind: sgrClearFlags, flags: grid.FlagStrikethrough})
		case p >= 30 && p <= 37:
			steps = append(steps, sgrStep{kind: sgrFg, color: grid.ANSIColor(p - 30)})
		case p == 39:
			steps = append(steps, sgrStep{kind: sgrDefaultFg})
		case p >= 40 && p <= 47:
			steps = append(steps, sgrStep{kind: sgrBg, color: grid.ANSIColor(p - 40)})
		case p == 49:
			steps = append(steps, sgrStep{kind: sgrDefaultBg})
		case p >= 90 && p <= 97:
			steps = append(steps, sgrStep{kind: sgrFg, color: grid.BrightColor(p - 90)})
		case p >= 100 && p <= 107:
			steps = append(steps, sgrStep{kind: sgrBg, color: grid.BrightColor(p - 100)})
		case p == 38 || p == 48:
			color, used, ok := extendedColor(params[i+1:])
			i += used
			if !ok {
				continue
			}
			kind := sgrFg
			if p == 48 {
				kind = sgrBg
			}
			steps = append(steps, sgrStep{kind: kind, color: color})
		}
	}
	return steps
}

// extendedColor decodes "5;n" or "2;r;g;b" and reports how many params it used.
func extendedColor(rest []int) (uint32, int, bool) {
	if len(rest) == 0 {
		return 0, 0, false
	}
	switch rest[0] {
	case 5:
		if len(rest) < 2 {
			return 0, len(rest), false
		}
		return grid.Color256(uint8(min(rest[1], 255))), 2, true
	case 2:
		if len(rest) < 4 {
			return 0, len(rest), false
		}
		r, g, b := min(rest[1], 255), min(rest[2], 255), min(rest[3], 255)
		return grid.RGB(uint8(r), uint8(g), uint8(b)), 4, true
	default:
		return 0, 1, false
	}
}

func (t *Terminal) applySGR(steps []sgrStep) {
	for _, s := range steps {
		switch s.kind {
		case sgrReset:
			t.pen = defaultPen()
		case sgrSetFlags:
			t.pen.flags |= s.flags
		case sgrClearFlags:
			t.pen.flags &^= s.flags
		case sgrFg:
			t.pen.fg = s.color
		case sgrBg:
			t.pen.bg = s.color
		case sgrDefaultFg:
			t.pen.fg = grid.DefaultFg
		case sgrDefaultBg:
			t.pen.bg = grid.DefaultBg
		}
	}
}
