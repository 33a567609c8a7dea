package shm

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/asheshgoplani/term-deck/internal/grid"
	"github.com/asheshgoplani/term-deck/internal/logging"
)

var shmLog = logging.ForComponent(logging.CompShm)

// Publisher is the single writer of a region.
type Publisher struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	r       region
	lock    *Seqlock
	maxCols int
	maxRows int
	closed  bool

	// midWrite runs between the header and cell writes. Tests use it to
	// widen the window in which the sequence is odd.
	midWrite func()
}

// Create makes (or truncates) the file at path, sizes it for maxCols x
// maxRows and maps it shared.
func Create(path string, maxCols, maxRows int) (*Publisher, error) {
	if maxCols <= 0 {
		maxCols = DefaultMaxCols
	}
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}
	if maxCols > maxDimension || maxRows > maxDimension {
		return nil, fmt.Errorf("shm: create %s: %w", path, ErrDimensionsTooLarge)
	}
	size := RegionSize(maxCols, maxRows)

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("shm: create %s: %w", path, err)
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: size %s: %w", path, err)
	}
	mem, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("shm: mmap %s: %w", path, err)
	}

	r := region{mem: mem}
	p := &Publisher{
		path:    path,
		file:    f,
		r:       r,
		lock:    newSeqlock(r),
		maxCols: maxCols,
		maxRows: maxRows,
	}
	r.storePair(offBounds, uint16(maxCols), uint16(maxRows))
	r.store32(offMode, uint32(Version))
	// Magic last: a reader that sees it sees a complete descriptor.
	r.store64(offMagic, Magic)

	shmLog.Debug("region_created",
		slog.String("path", path),
		slog.Int("max_cols", maxCols),
		slog.Int("max_rows", maxRows),
		slog.Int("bytes", size))
	return p, nil
}

// Path returns the backing file path.
func (p *Publisher) Path() string { return p.path }

// Bounds returns the maximum publishable grid size.
func (p *Publisher) Bounds() (maxCols, maxRows int) { return p.maxCols, p.maxRows }

// Sequence returns the current sequence number.
func (p *Publisher) Sequence() uint64 { return p.lock.Sequence() }

// Publish writes a snapshot of g under the seqlock. Grids larger than the
// region bounds are rejected and nothing is written.
func (p *Publisher) Publish(g *grid.Grid) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	w, h := g.Width(), g.Height()
	if w > p.maxCols || h > p.maxRows {
		return fmt.Errorf("shm: publish %dx%d into %dx%d: %w", w, h, p.maxCols, p.maxRows, ErrDimensionsTooLarge)
	}
	cx, cy := g.Cursor()
	cells := g.Cells()

	p.lock.BeginWrite()
	p.r.storePair(offSize, uint16(w), uint16(h))
	p.r.storePair(offCursor, uint16(cx), uint16(cy))
	if p.midWrite != nil {
		p.midWrite()
	}
	off := offCells
	for i := range cells {
		c := &cells[i]
		p.r.store32(off, c.Codepoint)
		p.r.store32(off+4, c.Fg)
		p.r.store32(off+8, c.Bg)
		p.r.store32(off+12, uint32(c.Flags))
		off += CellSize
	}
	p.lock.EndWrite()
	return nil
}

// SetErrorMode flags the region for readers, e.g. after the PTY exits.
func (p *Publisher) SetErrorMode(mode ErrorMode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.r.store32(offMode, uint32(Version)|uint32(mode)<<8)
}

// ErrorMode returns the mode currently advertised.
func (p *Publisher) ErrorMode() ErrorMode {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrorModeUnavailable
	}
	return ErrorMode(p.r.load32(offMode) >> 8)
}

// Close unmaps the region and removes the file. Readers holding their own
// mapping keep the last snapshot.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var firstErr error
	if err := unix.Munmap(p.r.mem); err != nil {
		firstErr = fmt.Errorf("shm: munmap %s: %w", p.path, err)
	}
	p.r.mem = nil
	if err := p.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("shm: close %s: %w", p.path, err)
	}
	if err := os.Remove(p.path); err != nil && !os.IsNotExist(err) && firstErr == nil {
		firstErr = fmt.Errorf("shm: remove %s: %w", p.path, err)
	}
	return firstErr
}
