package logging

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// RecordRing keeps the most recent log records within a byte budget.
// slog handlers issue one Write per record, so a dump never starts in the
// middle of a line.
type RecordRing struct {
	mu      sync.Mutex
	budget  int
	used    int
	records [][]byte
	head    int
}

// NewRecordRing creates a ring holding at most budget bytes of records.
func NewRecordRing(budget int) *RecordRing {
	if budget <= 0 {
		budget = 1
	}
	return &RecordRing{budget: budget}
}

// Write stores a copy of p as one record, evicting the oldest records
// until the budget holds. A record larger than the budget keeps its tail.
func (r *RecordRing) Write(p []byte) (int, error) {
	rec := p
	if len(rec) > r.budget {
		rec = rec[len(rec)-r.budget:]
	}
	rec = bytes.Clone(rec)

	r.mu.Lock()
	defer r.mu.Unlock()
	for r.used+len(rec) > r.budget && r.head < len(r.records) {
		r.used -= len(r.records[r.head])
		r.records[r.head] = nil
		r.head++
	}
	if r.head > len(r.records)/2 {
		r.records = append(r.records[:0], r.records[r.head:]...)
		r.head = 0
	}
	r.records = append(r.records, rec)
	r.used += len(rec)
	return len(p), nil
}

// Len returns the number of retained records.
func (r *RecordRing) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records) - r.head
}

// Size returns the retained bytes.
func (r *RecordRing) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.used
}

// Bytes returns the retained records, oldest first.
func (r *RecordRing) Bytes() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]byte, 0, r.used)
	for _, rec := range r.records[r.head:] {
		out = append(out, rec...)
	}
	return out
}

// DumpToFile writes the retained records to path via a temp file and
// rename, creating the directory if needed.
func (r *RecordRing) DumpToFile(path string) error {
	data := r.Bytes()
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("logging: create dump dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("logging: write dump: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("logging: finalize dump: %w", err)
	}
	return nil
}
