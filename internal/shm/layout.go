// Package shm publishes terminal snapshots into a memory-mapped file that
// other processes can read without locks, using a seqlock to detect torn
// reads.
//
// Region layout (native byte order, little-endian on supported platforms):
//
//	offset 0   u64 magic
//	offset 8   u16 maxCols, u16 maxRows
//	offset 12  u8 version, u8 errorMode, u16 reserved
//	offset 16  u64 sequence
//	offset 24  u16 width, u16 height
//	offset 28  u16 cursorX, u16 cursorY
//	offset 32  maxCols*maxRows cells of 16 bytes:
//	           u32 codepoint, u32 fg, u32 bg, u32 flags
package shm

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/asheshgoplani/term-deck/internal/platform"
)

// Magic identifies a term-deck region ("SCARABSH").
const Magic uint64 = 0x5343415241425348

// Version is the layout version written into the descriptor.
const Version = 1

// Default region bounds. Grids larger than these cannot be published.
const (
	DefaultMaxCols = 200
	DefaultMaxRows = 100
)

const (
	offMagic     = 0
	offBounds    = 8
	offMode      = 12
	offSequence  = 16
	offSize      = 24
	offCursor    = 28
	offCells     = 32
	maxDimension = 0xFFFF
)

// CellSize is the byte size of one published cell.
const CellSize = 16

// ErrorMode tells readers whether the publisher is still live.
type ErrorMode uint8

const (
	// ErrorModeNone means snapshots are current.
	ErrorModeNone ErrorMode = 0
	// ErrorModeUnavailable means the PTY or publisher stopped; the last
	// snapshot is stale.
	ErrorModeUnavailable ErrorMode = 1
)

func (m ErrorMode) String() string {
	switch m {
	case ErrorModeNone:
		return "none"
	case ErrorModeUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

var (
	// ErrRegionTooSmall is returned when a mapped file cannot hold the
	// layout its descriptor declares.
	ErrRegionTooSmall = errors.New("shm: region too small")
	// ErrBadMagic is returned when a file is not a term-deck region.
	ErrBadMagic = errors.New("shm: bad magic")
	// ErrDimensionsTooLarge is returned when a grid exceeds the region bounds.
	ErrDimensionsTooLarge = errors.New("shm: dimensions exceed region bounds")
	// ErrReadContention is returned when a consistent snapshot could not be
	// read within the retry budget.
	ErrReadContention = errors.New("shm: read contention")
	// ErrClosed is returned by operations on a closed publisher or reader.
	ErrClosed = errors.New("shm: closed")
)

// RegionSize returns the byte size of a region for the given bounds.
func RegionSize(maxCols, maxRows int) int {
	return offCells + maxCols*maxRows*CellSize
}

// DefaultDir returns where session regions live: $TERMDECK_SHMEM_DIR,
// else /dev/shm when present, else the OS temp dir.
func DefaultDir() string {
	if dir := os.Getenv("TERMDECK_SHMEM_DIR"); dir != "" {
		return dir
	}
	return platform.SharedMemoryDir()
}

// SessionPath returns the region path for a session id inside dir.
func SessionPath(dir, sessionID string) string {
	return filepath.Join(dir, "term-deck-"+sessionID+".shm")
}
