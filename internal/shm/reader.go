package shm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/asheshgoplani/term-deck/internal/grid"
)

// Snapshot is one consistent copy of a published grid.
type Snapshot struct {
	Sequence uint64
	Width    int
	Height   int
	CursorX  int
	CursorY  int
	Cells    []grid.Cell
}

// Cell returns the cell at (x, y) or a blank cell when out of range.
func (s Snapshot) Cell(x, y int) grid.Cell {
	if x < 0 || x >= s.Width || y < 0 || y >= s.Height {
		return grid.Blank()
	}
	return s.Cells[y*s.Width+x]
}

// Text renders every row with trailing blanks and blank rows trimmed.
func (s Snapshot) Text() string {
	if s.Width == 0 || s.Height == 0 {
		return ""
	}
	g := grid.New(s.Width, s.Height, nil)
	copy(g.Cells(), s.Cells)
	return g.Text()
}

// Lines renders every row, keeping blank rows.
func (s Snapshot) Lines() []string {
	text := s.Text()
	lines := strings.Split(text, "\n")
	for len(lines) < s.Height {
		lines = append(lines, "")
	}
	return lines
}

// Reader maps a region read-only.
type Reader struct {
	path    string
	r       region
	lock    *Seqlock
	maxCols int
	maxRows int
}

// Read retry policy.
const (
	readMaxAttempts  = 1000
	readInitialDelay = time.Microsecond
	readMaxDelay     = time.Millisecond
)

// Open maps the region at path and validates its descriptor.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("shm: open %s: %w", path, err)
	}
	// The mapping outlives the descriptor.
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("shm: stat %s: %w", path, err)
	}
	size := int(st.Size())
	if size < offCells {
		return nil, fmt.Errorf("shm: open %s: %d bytes: %w", path, size, ErrRegionTooSmall)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}
	r := region{mem: mem}
	if r.load64(offMagic) != Magic {
		unix.Munmap(mem)
		return nil, fmt.Errorf("shm: open %s: %w", path, ErrBadMagic)
	}
	cols, rows := r.loadPair(offBounds)
	if need := RegionSize(int(cols), int(rows)); size < need {
		unix.Munmap(mem)
		return nil, fmt.Errorf("shm: open %s: have %d bytes, need %d: %w", path, size, need, ErrRegionTooSmall)
	}
	return &Reader{
		path:    path,
		r:       r,
		lock:    newSeqlock(r),
		maxCols: int(cols),
		maxRows: int(rows),
	}, nil
}

// Bounds returns the region's maximum grid size.
func (rd *Reader) Bounds() (maxCols, maxRows int) { return rd.maxCols, rd.maxRows }

// Sequence returns the current sequence without reading the snapshot.
func (rd *Reader) Sequence() uint64 { return rd.lock.Sequence() }

// ErrorMode returns the mode advertised by the publisher.
func (rd *Reader) ErrorMode() ErrorMode {
	return ErrorMode(rd.r.load32(offMode) >> 8)
}

// TryRead attempts one seqlock read. ok is false when a write was in
// progress or completed during the copy.
func (rd *Reader) TryRead() (Snapshot, bool) {
	var snap Snapshot
	valid := true
	seq, ok := rd.lock.TryRead(func() {
		w, h := rd.r.loadPair(offSize)
		cx, cy := rd.r.loadPair(offCursor)
		if int(w) > rd.maxCols || int(h) > rd.maxRows {
			valid = false
			return
		}
		snap.Width, snap.Height = int(w), int(h)
		snap.CursorX, snap.CursorY = int(cx), int(cy)
		snap.Cells = make([]grid.Cell, snap.Width*snap.Height)
		off := offCells
		for i := range snap.Cells {
			snap.Cells[i] = grid.Cell{
				Codepoint: rd.r.load32(off),
				Fg:        rd.r.load32(off + 4),
				Bg:        rd.r.load32(off + 8),
				Flags:     grid.Flags(rd.r.load32(off + 12)),
			}
			off += CellSize
		}
	})
	if !ok || !valid {
		return Snapshot{}, false
	}
	snap.Sequence = seq
	return snap, true
}

// Read retries TryRead with exponential backoff until it succeeds, ctx is
// done, or the attempt budget runs out (ErrReadContention).
func (rd *Reader) Read(ctx context.Context) (Snapshot, error) {
	delay := readInitialDelay
	for attempt := 0; attempt < readMaxAttempts; attempt++ {
		if snap, ok := rd.TryRead(); ok {
			return snap, nil
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, readMaxDelay)
	}
	return Snapshot{}, fmt.Errorf("shm: read %s: %w", rd.path, ErrReadContention)
}

// Close unmaps the region.
func (rd *Reader) Close() error {
	if rd.r.mem == nil {
		return nil
	}
	err := unix.Munmap(rd.r.mem)
	rd.r.mem = nil
	if err != nil {
		return fmt.Errorf("shm: munmap %s: %w", rd.path, err)
	}
	return nil
}
