package zones

import (
	"time"

	"github.com/asheshgoplani/term-deck/internal/grid"
)

// DefaultMaxBlocks is the history capacity used when none is configured.
const DefaultMaxBlocks = 100

// Tracker is a state machine driven by the four shell-integration markers.
// It is owned by one goroutine and is not safe for concurrent use.
type Tracker struct {
	nextID    uint64
	maxBlocks int
	maxZones  int

	zones   []SemanticZone
	blocks  []*CommandBlock
	current *CommandBlock
}

// NewTracker creates a tracker retaining at most maxBlocks finished blocks.
func NewTracker(maxBlocks int) *Tracker {
	if maxBlocks <= 0 {
		maxBlocks = DefaultMaxBlocks
	}
	return &Tracker{
		nextID:    1,
		maxBlocks: maxBlocks,
		// Three zones per block plus the block being built.
		maxZones: maxBlocks*3 + 3,
	}
}

func (t *Tracker) id() uint64 {
	id := t.nextID
	t.nextID++
	return id
}

// MaxBlocks returns the configured history capacity.
func (t *Tracker) MaxBlocks() int {
	return t.maxBlocks
}

// MarkPromptStart opens a prompt zone and starts a new command block.
// A block that was still being built is abandoned.
func (t *Tracker) MarkPromptStart(row grid.ScrollbackRow, at time.Time) {
	z := newZone(t.id(), ZonePrompt, row, at)
	t.current = newBlock(z.ID, z)
	t.push(z)
}

// MarkCommandStart closes the open prompt on the previous row and opens
// an input zone.
func (t *Tracker) MarkCommandStart(row grid.ScrollbackRow, at time.Time) {
	if p := t.lastOpen(ZonePrompt); p != nil {
		p.complete(shiftRow(row, -1), at)
		if t.current != nil && t.current.Prompt != nil && t.current.Prompt.ID == p.ID {
			t.current.Prompt = ptr(*p)
		}
	}
	z := newZone(t.id(), ZoneInput, row, at)
	if t.current != nil {
		t.current.setInput(z)
	}
	t.push(z)
}

// SetCommandText records the command line on the latest input zone.
func (t *Tracker) SetCommandText(text string) {
	for i := len(t.zones) - 1; i >= 0; i-- {
		if t.zones[i].Type == ZoneInput {
			t.zones[i].Command = text
			break
		}
	}
	if t.current != nil && t.current.Input != nil {
		t.current.Input.Command = text
	}
}

// MarkCommandExecuted closes the open input on the previous row and opens
// an output zone.
func (t *Tracker) MarkCommandExecuted(row grid.ScrollbackRow, at time.Time) {
	if in := t.lastOpen(ZoneInput); in != nil {
		in.complete(shiftRow(row, -1), at)
		if t.current != nil && t.current.Input != nil && t.current.Input.ID == in.ID {
			t.current.Input = ptr(*in)
		}
	}
	z := newZone(t.id(), ZoneOutput, row, at)
	if t.current != nil {
		t.current.setOutput(z)
	}
	t.push(z)
}

// MarkCommandFinished closes the open output zone at row with exitCode and
// moves the current block into history. Without an open output zone no
// block is recorded. The current block is cleared either way.
func (t *Tracker) MarkCommandFinished(row grid.ScrollbackRow, exitCode int, at time.Time) {
	defer func() { t.current = nil }()

	out := t.lastOpen(ZoneOutput)
	if out == nil {
		return
	}
	out.complete(row, at)
	code := exitCode
	out.ExitCode = &code

	if t.current == nil {
		return
	}
	t.current.setOutput(*out)
	t.current.Output.ExitCode = ptr(code)
	t.blocks = append(t.blocks, t.current)
	if over := len(t.blocks) - t.maxBlocks; over > 0 {
		clear(t.blocks[:over])
		t.blocks = t.blocks[over:]
	}
}

// AdjustForScroll shifts every stored row by delta, saturating at 0.
func (t *Tracker) AdjustForScroll(delta int) {
	if delta == 0 {
		return
	}
	for i := range t.zones {
		t.zones[i].shift(delta)
	}
	for _, b := range t.blocks {
		b.shift(delta)
	}
	if t.current != nil {
		t.current.shift(delta)
	}
}

// Zones returns a copy of the tracked zones, oldest first.
func (t *Tracker) Zones() []SemanticZone {
	out := make([]SemanticZone, len(t.zones))
	copy(out, t.zones)
	return out
}

// Blocks returns copies of the finished blocks, oldest first.
func (t *Tracker) Blocks() []*CommandBlock {
	out := make([]*CommandBlock, len(t.blocks))
	for i, b := range t.blocks {
		out[i] = b.clone()
	}
	return out
}

// BlocksAfter returns copies of the finished blocks with ID greater than
// id, oldest first.
func (t *Tracker) BlocksAfter(id uint64) []*CommandBlock {
	i := len(t.blocks)
	for i > 0 && t.blocks[i-1].ID > id {
		i--
	}
	out := make([]*CommandBlock, 0, len(t.blocks)-i)
	for _, b := range t.blocks[i:] {
		out = append(out, b.clone())
	}
	return out
}

// LastBlock returns a copy of the most recent finished block, or nil.
func (t *Tracker) LastBlock() *CommandBlock {
	if len(t.blocks) == 0 {
		return nil
	}
	return t.blocks[len(t.blocks)-1].clone()
}

// CurrentBlock returns a copy of the block being built, or nil.
func (t *Tracker) CurrentBlock() *CommandBlock {
	if t.current == nil {
		return nil
	}
	return t.current.clone()
}

// FindZoneAtLine returns the most recent zone containing row.
func (t *Tracker) FindZoneAtLine(row grid.ScrollbackRow) (SemanticZone, bool) {
	for i := len(t.zones) - 1; i >= 0; i-- {
		if t.zones[i].ContainsLine(row) {
			return t.zones[i], true
		}
	}
	return SemanticZone{}, false
}

// FindBlockAtLine returns the most recent finished block containing row.
func (t *Tracker) FindBlockAtLine(row grid.ScrollbackRow) *CommandBlock {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		if t.blocks[i].ContainsLine(row) {
			return t.blocks[i].clone()
		}
	}
	return nil
}

// LastOutputZone returns the output zone of the most recent finished block.
func (t *Tracker) LastOutputZone() (SemanticZone, bool) {
	for i := len(t.blocks) - 1; i >= 0; i-- {
		if out := t.blocks[i].Output; out != nil {
			return *out, true
		}
	}
	return SemanticZone{}, false
}

// Clear drops all zones and blocks. Ids keep increasing.
func (t *Tracker) Clear() {
	t.zones = nil
	t.blocks = nil
	t.current = nil
}

func (t *Tracker) push(z SemanticZone) {
	t.zones = append(t.zones, z)
	if over := len(t.zones) - t.maxZones; over > 0 {
		t.zones = append(t.zones[:0], t.zones[over:]...)
	}
}

func (t *Tracker) lastOpen(typ ZoneType) *SemanticZone {
	for i := len(t.zones) - 1; i >= 0; i-- {
		if t.zones[i].Type == typ && !t.zones[i].Complete {
			return &t.zones[i]
		}
	}
	return nil
}

func ptr[T any](v T) *T {
	return &v
}
