package vt

import (
	"log/slog"
	"net/url"
	"strconv"

	"github.com/asheshgoplani/term-deck/internal/grid"
	"github.com/asheshgoplani/term-deck/internal/logging"
)

func (t *Terminal) oscDispatch(a *Action) {
	if a.Ignore || len(a.OSC) == 0 {
		return
	}
	switch string(a.OSC[0]) {
	case "0", "2":
		if len(a.OSC) > 1 {
			t.title = joinFields(a.OSC[1:])
		}
	case "1":
		// Icon name only.
	case "7":
		if len(a.OSC) > 1 {
			t.cwd = parseCwd(string(a.OSC[1]))
		}
	case "133":
		t.shellIntegration(a.OSC[1:])
	default:
		logging.Aggregate(logging.CompVT, "osc_unhandled", slog.String("code", string(a.OSC[0])))
	}
}

// shellIntegration applies an OSC 133 marker at the cursor row.
func (t *Terminal) shellIntegration(fields [][]byte) {
	if len(fields) == 0 || len(fields[0]) == 0 {
		return
	}
	// Markers emitted by full-screen programs would point into the
	// alternate screen, which has no history.
	if t.g != t.primary {
		logging.Aggregate(logging.CompZones, "marker_ignored_alt_screen")
		return
	}
	row := t.primary.CursorRow()
	now := t.clock()
	switch fields[0][0] {
	case 'A':
		t.zones.MarkPromptStart(row, now)
	case 'B':
		t.zones.MarkCommandStart(row, now)
		if len(fields) > 1 && len(fields[1]) > 0 {
			t.zones.SetCommandText(joinFields(fields[1:]))
		}
	case 'C':
		t.zones.MarkCommandExecuted(row, now)
	case 'D':
		exit := 0
		if len(fields) > 1 {
			if n, err := strconv.Atoi(string(fields[1])); err == nil {
				exit = n
			}
		}
		t.zones.MarkCommandFinished(finishedRow(t.primary, row), exit, now)
	case 'E':
		if len(fields) > 1 {
			t.zones.SetCommandText(joinFields(fields[1:]))
		}
	default:
		logging.Aggregate(logging.CompZones, "marker_unknown", slog.String("marker", string(fields[0])))
	}
}

// finishedRow is the last output row: the row above the cursor when the
// cursor sits at column 0 of a fresh line.
func finishedRow(g *grid.Grid, row grid.ScrollbackRow) grid.ScrollbackRow {
	x, _ := g.Cursor()
	if x == 0 && row > 0 {
		return row - 1
	}
	return row
}

// parseCwd accepts "file://host/path" and plain paths.
func parseCwd(s string) string {
	u, err := url.Parse(s)
	if err != nil || u.Scheme != "file" {
		return s
	}
	return u.Path
}

func joinFields(fields [][]byte) string {
	n := len(fields) - 1
	for _, f := range fields {
		n += len(f)
	}
	buf := make([]byte, 0, n)
	for i, f := range fields {
		if i > 0 {
			buf = append(buf, ';')
		}
		buf = append(buf, f...)
	}
	return string(buf)
}
