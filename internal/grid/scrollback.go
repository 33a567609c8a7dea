package grid

// DefaultScrollbackLines is the capacity used when none is configured.
const DefaultScrollbackLines = 10000

// Line is a row saved into scrollback together with the grid width it had.
type Line struct {
	Cells []Cell
	Width int
}

// Text returns the line contents with trailing blanks removed.
func (l Line) Text() string {
	return cellsText(l.Cells)
}

// Scrollback is a bounded FIFO of rows evicted from the live grid.
// It is owned by a single writer and is not safe for concurrent use.
type Scrollback struct {
	lines []Line
	start int
	count int
	total uint64
}

// NewScrollback creates a store holding at most capacity lines.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = DefaultScrollbackLines
	}
	return &Scrollback{lines: make([]Line, capacity)}
}

// Push appends a line and returns how many old lines were evicted (0 or 1).
func (s *Scrollback) Push(line Line) int {
	capacity := len(s.lines)
	s.total++
	if s.count < capacity {
		s.lines[(s.start+s.count)%capacity] = line
		s.count++
		return 0
	}
	s.lines[s.start] = line
	s.start = (s.start + 1) % capacity
	return 1
}

// Len returns the number of stored lines.
func (s *Scrollback) Len() int {
	return s.count
}

// Cap returns the configured capacity.
func (s *Scrollback) Cap() int {
	return len(s.lines)
}

// Total returns how many lines were ever pushed.
func (s *Scrollback) Total() uint64 {
	return s.total
}

// Line returns the i-th stored line, 0 being the oldest.
func (s *Scrollback) Line(i int) (Line, bool) {
	if i < 0 || i >= s.count {
		return Line{}, false
	}
	return s.lines[(s.start+i)%len(s.lines)], true
}

// Lines returns the stored lines oldest first.
func (s *Scrollback) Lines() []Line {
	out := make([]Line, 0, s.count)
	for i := 0; i < s.count; i++ {
		out = append(out, s.lines[(s.start+i)%len(s.lines)])
	}
	return out
}

// Clear drops every stored line and returns how many were removed.
func (s *Scrollback) Clear() int {
	n := s.count
	for i := range s.lines {
		s.lines[i] = Line{}
	}
	s.start = 0
	s.count = 0
	return n
}
