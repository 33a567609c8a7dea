package zones

import (
	"time"

	"github.com/asheshgoplani/term-deck/internal/grid"
)

// CommandBlock groups the prompt, input and output zones of one command.
type CommandBlock struct {
	ID        uint64             `json:"id"`
	Prompt    *SemanticZone      `json:"prompt,omitempty"`
	Input     *SemanticZone      `json:"input,omitempty"`
	Output    *SemanticZone      `json:"output,omitempty"`
	StartRow  grid.ScrollbackRow `json:"start_row"`
	EndRow    grid.ScrollbackRow `json:"end_row"`
	StartedAt time.Time          `json:"started_at"`
	Duration  time.Duration      `json:"duration"`
}

func newBlock(id uint64, prompt SemanticZone) *CommandBlock {
	return &CommandBlock{
		ID:        id,
		Prompt:    &prompt,
		StartRow:  prompt.StartRow,
		EndRow:    prompt.EndRow,
		StartedAt: prompt.StartedAt,
	}
}

func (b *CommandBlock) setInput(z SemanticZone) {
	b.Input = &z
	b.extend(z.EndRow)
}

func (b *CommandBlock) setOutput(z SemanticZone) {
	b.Output = &z
	b.extend(z.EndRow)
	if z.Complete {
		finished := z.StartedAt.Add(z.Duration)
		if d := finished.Sub(b.StartedAt); d >= 0 {
			b.Duration = d
		}
	}
}

func (b *CommandBlock) extend(row grid.ScrollbackRow) {
	if row > b.EndRow {
		b.EndRow = row
	}
}

// IsComplete reports whether the output zone has been closed.
func (b *CommandBlock) IsComplete() bool {
	return b.Output != nil && b.Output.Complete
}

// ExitCode returns the command exit code, if known.
func (b *CommandBlock) ExitCode() *int {
	if b.Output == nil {
		return nil
	}
	return b.Output.ExitCode
}

// IsSuccess reports a zero exit code.
func (b *CommandBlock) IsSuccess() bool {
	return b.Output != nil && b.Output.IsSuccess()
}

// IsFailure reports a non-zero exit code.
func (b *CommandBlock) IsFailure() bool {
	return b.Output != nil && b.Output.IsFailure()
}

// Command returns the command text recorded on the input zone.
func (b *CommandBlock) Command() string {
	if b.Input == nil {
		return ""
	}
	return b.Input.Command
}

// ContainsLine reports whether row lies within the block.
func (b *CommandBlock) ContainsLine(row grid.ScrollbackRow) bool {
	return b.StartRow <= row && row <= b.EndRow
}

func (b *CommandBlock) clone() *CommandBlock {
	c := *b
	if b.Prompt != nil {
		p := *b.Prompt
		c.Prompt = &p
	}
	if b.Input != nil {
		in := *b.Input
		c.Input = &in
	}
	if b.Output != nil {
		out := *b.Output
		if out.ExitCode != nil {
			code := *out.ExitCode
			out.ExitCode = &code
		}
		c.Output = &out
	}
	return &c
}

func (b *CommandBlock) shift(delta int) {
	b.StartRow = shiftRow(b.StartRow, delta)
	b.EndRow = shiftRow(b.EndRow, delta)
	for _, z := range []*SemanticZone{b.Prompt, b.Input, b.Output} {
		if z != nil {
			z.shift(delta)
		}
	}
}
