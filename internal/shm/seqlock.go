package shm

import (
	"sync/atomic"
	"unsafe"
)

// region is a view of mapped memory accessed only through 32- and 64-bit
// atomic words, so concurrent readers and the writer never race on plain
// loads and stores. Offsets must be aligned to the word size.
type region struct {
	mem []byte
}

func (r region) word32(off int) *uint32 {
	_ = r.mem[off+3]
	return (*uint32)(unsafe.Pointer(&r.mem[off]))
}

func (r region) word64(off int) *uint64 {
	_ = r.mem[off+7]
	return (*uint64)(unsafe.Pointer(&r.mem[off]))
}

func (r region) load32(off int) uint32     { return atomic.LoadUint32(r.word32(off)) }
func (r region) store32(off int, v uint32) { atomic.StoreUint32(r.word32(off), v) }
func (r region) load64(off int) uint64     { return atomic.LoadUint64(r.word64(off)) }
func (r region) store64(off int, v uint64) { atomic.StoreUint64(r.word64(off), v) }

func (r region) loadPair(off int) (lo, hi uint16) {
	w := r.load32(off)
	return uint16(w), uint16(w >> 16)
}

func (r region) storePair(off int, lo, hi uint16) {
	r.store32(off, uint32(lo)|uint32(hi)<<16)
}

// Seqlock is the sequence counter guarding a region's snapshot. The count
// is even while the snapshot is consistent and odd while a write is in
// progress. There is exactly one writer; readers never block it.
type Seqlock struct {
	seq *uint64
}

func newSeqlock(r region) *Seqlock {
	return &Seqlock{seq: r.word64(offSequence)}
}

// BeginWrite makes the sequence odd. Every BeginWrite must be paired with
// EndWrite.
func (s *Seqlock) BeginWrite() uint64 {
	return atomic.AddUint64(s.seq, 1)
}

// EndWrite makes the sequence even again and returns it.
func (s *Seqlock) EndWrite() uint64 {
	return atomic.AddUint64(s.seq, 1)
}

// Sequence returns the current count.
func (s *Seqlock) Sequence() uint64 {
	return atomic.LoadUint64(s.seq)
}

// TryRead runs read between two loads of the sequence. It reports the
// sequence observed and whether the data read is consistent: the count was
// even and unchanged across read.
func (s *Seqlock) TryRead(read func()) (uint64, bool) {
	before := atomic.LoadUint64(s.seq)
	if before&1 == 1 {
		return before, false
	}
	read()
	after := atomic.LoadUint64(s.seq)
	return before, before == after
}
