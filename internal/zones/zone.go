// Package zones tracks prompt, input and output regions announced by shell
// integration markers and assembles them into a bounded history of
// command blocks.
package zones

import (
	"time"

	"github.com/asheshgoplani/term-deck/internal/grid"
)

// ZoneType classifies a semantic zone.
type ZoneType uint8

const (
	ZonePrompt ZoneType = iota
	ZoneInput
	ZoneOutput
)

func (t ZoneType) String() string {
	switch t {
	case ZonePrompt:
		return "prompt"
	case ZoneInput:
		return "input"
	case ZoneOutput:
		return "output"
	default:
		return "unknown"
	}
}

// MarshalText renders the zone type by name in JSON payloads.
func (t ZoneType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// SemanticZone is one classified region of terminal output. Rows are in
// the combined scrollback space.
type SemanticZone struct {
	ID        uint64             `json:"id"`
	Type      ZoneType           `json:"type"`
	StartRow  grid.ScrollbackRow `json:"start_row"`
	EndRow    grid.ScrollbackRow `json:"end_row"`
	Command   string             `json:"command,omitempty"`
	ExitCode  *int               `json:"exit_code,omitempty"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
	Complete  bool               `json:"complete"`
}

func newZone(id uint64, typ ZoneType, row grid.ScrollbackRow, at time.Time) SemanticZone {
	return SemanticZone{
		ID:        id,
		Type:      typ,
		StartRow:  row,
		EndRow:    row,
		StartedAt: at,
	}
}

// complete closes the zone at endRow. A zone closed before it started
// (end < start) is valid and represents an empty region.
func (z *SemanticZone) complete(endRow grid.ScrollbackRow, at time.Time) {
	z.EndRow = endRow
	z.Complete = true
	if d := at.Sub(z.StartedAt); d >= 0 {
		z.Duration = d
	}
}

// ContainsLine reports whether row lies within [StartRow, EndRow].
func (z SemanticZone) ContainsLine(row grid.ScrollbackRow) bool {
	return z.StartRow <= row && row <= z.EndRow
}

// LineCount returns the number of rows covered, at least 1.
func (z SemanticZone) LineCount() int {
	if z.EndRow < z.StartRow {
		return 1
	}
	return int(z.EndRow-z.StartRow) + 1
}

// IsSuccess reports a zero exit code.
func (z SemanticZone) IsSuccess() bool {
	return z.ExitCode != nil && *z.ExitCode == 0
}

// IsFailure reports a non-zero exit code.
func (z SemanticZone) IsFailure() bool {
	return z.ExitCode != nil && *z.ExitCode != 0
}

func (z *SemanticZone) shift(delta int) {
	z.StartRow = shiftRow(z.StartRow, delta)
	z.EndRow = shiftRow(z.EndRow, delta)
}

func shiftRow(row grid.ScrollbackRow, delta int) grid.ScrollbackRow {
	v := int(row) + delta
	if v < 0 {
		return 0
	}
	return grid.ScrollbackRow(v)
}
