package zones

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/term-deck/internal/grid"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(seconds float64) time.Time {
	return epoch.Add(time.Duration(seconds * float64(time.Second)))
}

// runCommand drives one full prompt/input/output cycle.
func runCommand(tr *Tracker, prompt, output, end grid.ScrollbackRow, start float64, code int) {
	tr.MarkPromptStart(prompt, at(start))
	tr.MarkCommandStart(prompt, at(start+0.1))
	tr.MarkCommandExecuted(output, at(start+0.2))
	tr.MarkCommandFinished(end, code, at(start+1))
}

func TestFullCommandLifecycle(t *testing.T) {
	tr := NewTracker(100)

	tr.MarkPromptStart(100, at(1.0))
	tr.MarkCommandStart(100, at(1.1))
	tr.SetCommandText("ls -la")
	tr.MarkCommandExecuted(101, at(1.2))
	require.NotNil(t, tr.CurrentBlock())
	tr.MarkCommandFinished(120, 0, at(2.0))

	blocks := tr.Blocks()
	require.Len(t, blocks, 1)
	b := blocks[0]
	assert.Equal(t, grid.ScrollbackRow(100), b.StartRow)
	assert.Equal(t, grid.ScrollbackRow(120), b.EndRow)
	assert.True(t, b.IsComplete())
	assert.True(t, b.IsSuccess())
	assert.False(t, b.IsFailure())
	assert.Equal(t, "ls -la", b.Command())
	assert.InDelta(t, time.Second, b.Duration, float64(time.Millisecond))
	assert.Nil(t, tr.CurrentBlock())

	zs := tr.Zones()
	require.Len(t, zs, 3)

	assert.Equal(t, ZonePrompt, zs[0].Type)
	assert.Equal(t, grid.ScrollbackRow(100), zs[0].StartRow)
	assert.Equal(t, grid.ScrollbackRow(99), zs[0].EndRow)
	assert.True(t, zs[0].Complete)
	assert.Equal(t, 1, zs[0].LineCount())

	assert.Equal(t, ZoneInput, zs[1].Type)
	assert.Equal(t, grid.ScrollbackRow(100), zs[1].StartRow)
	assert.Equal(t, grid.ScrollbackRow(100), zs[1].EndRow)
	assert.Equal(t, "ls -la", zs[1].Command)

	assert.Equal(t, ZoneOutput, zs[2].Type)
	assert.Equal(t, grid.ScrollbackRow(101), zs[2].StartRow)
	assert.Equal(t, grid.ScrollbackRow(120), zs[2].EndRow)
	require.NotNil(t, zs[2].ExitCode)
	assert.Equal(t, 0, *zs[2].ExitCode)
	assert.Equal(t, 20, zs[2].LineCount())
	assert.InDelta(t, 800*time.Millisecond, zs[2].Duration, float64(time.Millisecond))
}

func TestExitCodeDeterminesSuccess(t *testing.T) {
	for _, code := range []int{0, 1, 2, 127, -1} {
		tr := NewTracker(10)
		runCommand(tr, 0, 1, 5, 0, code)
		blocks := tr.Blocks()
		require.Len(t, blocks, 1)
		assert.Equal(t, code == 0, blocks[0].IsSuccess(), "code %d", code)
		assert.Equal(t, code != 0, blocks[0].IsFailure(), "code %d", code)
		require.NotNil(t, blocks[0].ExitCode())
		assert.Equal(t, code, *blocks[0].ExitCode())
	}
}

func TestHistoryBound(t *testing.T) {
	tr := NewTracker(3)
	for i := 0; i < 5; i++ {
		base := grid.ScrollbackRow(i * 10)
		runCommand(tr, base, base+1, base+5, float64(i), 0)
	}
	blocks := tr.Blocks()
	require.Len(t, blocks, 3)
	assert.Equal(t, grid.ScrollbackRow(20), blocks[0].StartRow)
	assert.Equal(t, grid.ScrollbackRow(40), blocks[2].StartRow)
}

func TestMissingFinishLeavesOutputOpen(t *testing.T) {
	tr := NewTracker(10)
	tr.MarkPromptStart(0, at(0))
	tr.MarkCommandStart(0, at(0.1))
	tr.MarkCommandExecuted(1, at(0.2))

	assert.Empty(t, tr.Blocks())
	zs := tr.Zones()
	require.Len(t, zs, 3)
	assert.False(t, zs[2].Complete)

	// A new prompt abandons the unfinished block without fabricating one.
	tr.MarkPromptStart(10, at(1))
	assert.Empty(t, tr.Blocks())
	assert.False(t, tr.Zones()[2].Complete)
}

func TestFinishWithoutPromptRecordsNoBlock(t *testing.T) {
	tr := NewTracker(10)
	tr.MarkCommandFinished(4, 0, at(1))
	assert.Empty(t, tr.Blocks())

	tr.MarkCommandExecuted(2, at(0))
	tr.MarkCommandFinished(4, 1, at(1))
	assert.Empty(t, tr.Blocks())
	zs := tr.Zones()
	require.Len(t, zs, 1)
	assert.True(t, zs[0].IsFailure())
}

func TestFindZoneAndBlock(t *testing.T) {
	tr := NewTracker(10)
	runCommand(tr, 10, 11, 15, 0, 0)
	runCommand(tr, 16, 17, 20, 1, 0)

	z, ok := tr.FindZoneAtLine(12)
	require.True(t, ok)
	assert.Equal(t, ZoneOutput, z.Type)
	assert.Equal(t, grid.ScrollbackRow(11), z.StartRow)

	z, ok = tr.FindZoneAtLine(16)
	require.True(t, ok)
	assert.Equal(t, ZoneInput, z.Type)

	_, ok = tr.FindZoneAtLine(50)
	assert.False(t, ok)

	b := tr.FindBlockAtLine(18)
	require.NotNil(t, b)
	assert.Equal(t, grid.ScrollbackRow(16), b.StartRow)
	assert.Nil(t, tr.FindBlockAtLine(3))
}

func TestLastOutputZone(t *testing.T) {
	tr := NewTracker(10)
	_, ok := tr.LastOutputZone()
	assert.False(t, ok)

	runCommand(tr, 0, 1, 3, 0, 0)
	runCommand(tr, 4, 5, 9, 1, 2)
	z, ok := tr.LastOutputZone()
	require.True(t, ok)
	assert.Equal(t, grid.ScrollbackRow(5), z.StartRow)
	assert.Equal(t, grid.ScrollbackRow(9), z.EndRow)
	assert.True(t, z.IsFailure())
}

func TestAdjustForScroll(t *testing.T) {
	tr := NewTracker(10)
	runCommand(tr, 10, 11, 12, 0, 0)
	tr.MarkPromptStart(13, at(5))

	before := tr.Zones()
	tr.AdjustForScroll(5)
	after := tr.Zones()
	require.Len(t, after, len(before))
	for i := range before {
		assert.Equal(t, before[i].StartRow+5, after[i].StartRow)
		assert.Equal(t, before[i].EndRow+5, after[i].EndRow)
	}

	blocks := tr.Blocks()
	require.Len(t, blocks, 1)
	assert.Equal(t, grid.ScrollbackRow(15), blocks[0].StartRow)
	assert.Equal(t, grid.ScrollbackRow(17), blocks[0].EndRow)
	assert.Equal(t, grid.ScrollbackRow(16), blocks[0].Output.StartRow)
	assert.Equal(t, grid.ScrollbackRow(18), tr.CurrentBlock().StartRow)

	// Containment is preserved under the shifted coordinates.
	z, ok := tr.FindZoneAtLine(16)
	require.True(t, ok)
	assert.Equal(t, ZoneOutput, z.Type)

	tr.AdjustForScroll(-100)
	for _, z := range tr.Zones() {
		assert.Equal(t, grid.ScrollbackRow(0), z.StartRow)
		assert.Equal(t, grid.ScrollbackRow(0), z.EndRow)
	}
}

func TestBlocksReturnsCopies(t *testing.T) {
	tr := NewTracker(10)
	runCommand(tr, 0, 1, 2, 0, 3)
	blocks := tr.Blocks()
	*blocks[0].Output.ExitCode = 0
	blocks[0].StartRow = 99
	fresh := tr.Blocks()
	assert.Equal(t, 3, *fresh[0].ExitCode())
	assert.Equal(t, grid.ScrollbackRow(0), fresh[0].StartRow)
}

func TestClearKeepsIDsMonotonic(t *testing.T) {
	tr := NewTracker(10)
	runCommand(tr, 0, 1, 2, 0, 0)
	last := tr.Zones()[2].ID
	tr.Clear()
	assert.Empty(t, tr.Zones())
	assert.Empty(t, tr.Blocks())
	tr.MarkPromptStart(0, at(1))
	assert.Greater(t, tr.Zones()[0].ID, last)
}

func TestZoneListIsBounded(t *testing.T) {
	tr := NewTracker(2)
	for i := 0; i < 50; i++ {
		runCommand(tr, grid.ScrollbackRow(i*3), grid.ScrollbackRow(i*3+1), grid.ScrollbackRow(i*3+2), float64(i), 0)
	}
	assert.LessOrEqual(t, len(tr.Zones()), 2*3+3)
	assert.Len(t, tr.Blocks(), 2)
}

func TestBlocksAfter(t *testing.T) {
	tr := NewTracker(10)
	assert.Empty(t, tr.BlocksAfter(0))

	runCommand(tr, 0, 1, 3, 0, 0)
	runCommand(tr, 4, 5, 7, 2, 1)
	runCommand(tr, 8, 9, 11, 4, 0)
	all := tr.Blocks()
	require.Len(t, all, 3)

	got := tr.BlocksAfter(0)
	require.Len(t, got, 3)
	assert.Equal(t, all[0].ID, got[0].ID, "oldest first")

	got = tr.BlocksAfter(all[0].ID)
	require.Len(t, got, 2)
	assert.Equal(t, all[1].ID, got[0].ID)
	assert.Equal(t, all[2].ID, got[1].ID)

	assert.Empty(t, tr.BlocksAfter(all[2].ID))
}

func TestLastBlock(t *testing.T) {
	tr := NewTracker(10)
	assert.Nil(t, tr.LastBlock())

	runCommand(tr, 0, 1, 3, 0, 0)
	first := tr.LastBlock()
	require.NotNil(t, first)

	// A block in progress does not replace the last finished one.
	tr.MarkPromptStart(4, at(2))
	assert.Equal(t, first.ID, tr.LastBlock().ID)

	tr.MarkCommandStart(4, at(2.1))
	tr.MarkCommandExecuted(5, at(2.2))
	tr.MarkCommandFinished(6, 1, at(3))
	last := tr.LastBlock()
	require.NotNil(t, last)
	assert.Greater(t, last.ID, first.ID)
	assert.True(t, last.IsFailure())

	last.StartRow = 99
	assert.NotEqual(t, grid.ScrollbackRow(99), tr.LastBlock().StartRow, "returns a copy")
}
