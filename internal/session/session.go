// Package session runs terminal sessions: a shell in a PTY whose output
// drives a VT terminal, with snapshots published to shared memory, and a
// manager that persists sessions and tracks attached clients.
package session

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/asheshgoplani/term-deck/internal/grid"
	"github.com/asheshgoplani/term-deck/internal/logging"
	"github.com/asheshgoplani/term-deck/internal/shm"
	"github.com/asheshgoplani/term-deck/internal/vt"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

var (
	// ErrSessionNotFound is returned for unknown session ids or names.
	ErrSessionNotFound = errors.New("session not found")
	// ErrClientsAttached is returned when deleting a session that still
	// has attached clients.
	ErrClientsAttached = errors.New("session has attached clients")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrSessionExited is returned when writing to a session whose shell
	// has exited.
	ErrSessionExited = errors.New("session exited")
	// ErrInvalidSize is returned for non-positive dimensions.
	ErrInvalidSize = errors.New("invalid size")
	// ErrInvalidName is returned for blank session names.
	ErrInvalidName = errors.New("invalid name")
)

const (
	readBufSize       = 32 * 1024
	outputQueue       = 64
	outputSubscribers = 256
	blockSubscribers  = 32
)

// Summary describes a session for listings.
type Summary struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
	LastAttached time.Time `json:"last_attached"`
	Clients      int       `json:"client_count"`
	Cols         int       `json:"cols"`
	Rows         int       `json:"rows"`
	Exited       bool      `json:"exited"`
	Default      bool      `json:"default"`
}

// Screen is a text rendering of the visible grid.
type Screen struct {
	Cols          int      `json:"cols"`
	Rows          int      `json:"rows"`
	CursorX       int      `json:"cursor_x"`
	CursorY       int      `json:"cursor_y"`
	CursorVisible bool     `json:"cursor_visible"`
	AltScreen     bool     `json:"alt_screen"`
	Title         string   `json:"title,omitempty"`
	Cwd           string   `json:"cwd,omitempty"`
	Lines         []string `json:"lines"`
	Scrollback    int      `json:"scrollback"`
	Sequence      uint64   `json:"sequence"`
}

// Stats reports parser and publisher counters.
type Stats struct {
	CSICache    vt.CacheStats `json:"csi_cache"`
	Anomalies   uint64        `json:"anomalies"`
	Bells       uint64        `json:"bells"`
	Sequence    uint64        `json:"sequence"`
	Subscribers int           `json:"subscribers"`
}

type sessionParams struct {
	id           string
	name         string
	createdAt    time.Time
	lastAttached time.Time
	cols         int
	rows         int
}

// Session is one shell in a PTY. A single loop goroutine owns the
// terminal; every read or mutation of it runs on that loop.
type Session struct {
	id        string
	createdAt time.Time
	log       *slog.Logger
	clock     func() time.Time
	maxCols   int
	maxRows   int

	mu           sync.RWMutex
	name         string
	lastAttached time.Time
	cols, rows   int
	clients      map[string]time.Time

	cmd     *exec.Cmd
	ptmx    *os.File
	pub     *shm.Publisher
	limiter *rate.Limiter

	// Loop-owned.
	term        *vt.Terminal
	idle        time.Duration
	lastBlockID uint64

	output chan []byte
	reqs   chan func()
	stop   chan struct{}
	done   chan struct{}
	exited chan struct{}
	waited chan struct{}

	outputSubs *fanout[[]byte]
	blockSubs  *fanout[*zones.CommandBlock]

	exitOnce  sync.Once
	closeOnce sync.Once
	closeErr  error
}

// newSession creates the shared region, spawns the shell and starts the
// loop. PTY failures are returned and leave nothing behind.
func newSession(p sessionParams, opts Options) (*Session, error) {
	if p.cols <= 0 || p.rows <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, p.cols, p.rows)
	}
	if p.cols > opts.MaxCols || p.rows > opts.MaxRows {
		return nil, fmt.Errorf("session %dx%d: %w", p.cols, p.rows, shm.ErrDimensionsTooLarge)
	}
	if err := os.MkdirAll(opts.ShmDir, 0o700); err != nil {
		return nil, fmt.Errorf("create shm dir: %w", err)
	}
	pub, err := shm.Create(shm.SessionPath(opts.ShmDir, p.id), opts.MaxCols, opts.MaxRows)
	if err != nil {
		return nil, err
	}
	cmd, ptmx, err := spawnShell(opts.Shell, opts.ShellArgs, p.id, p.cols, p.rows)
	if err != nil {
		pub.Close()
		return nil, err
	}

	topts := opts.Terminal
	topts.Cols, topts.Rows = p.cols, p.rows
	topts.Responder = ptmx
	topts.Clock = opts.Clock

	s := &Session{
		id:           p.id,
		createdAt:    p.createdAt,
		log:          logging.ForSession(p.id),
		clock:        opts.Clock,
		maxCols:      opts.MaxCols,
		maxRows:      opts.MaxRows,
		name:         p.name,
		lastAttached: p.lastAttached,
		cols:         p.cols,
		rows:         p.rows,
		clients:      make(map[string]time.Time),
		cmd:          cmd,
		ptmx:         ptmx,
		pub:          pub,
		limiter:      rate.NewLimiter(rate.Limit(opts.MaxFPS), 1),
		term:         vt.NewTerminal(topts),
		idle:         opts.IdleFlush,
		output:       make(chan []byte, outputQueue),
		reqs:         make(chan func()),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		exited:       make(chan struct{}),
		waited:       make(chan struct{}),
		outputSubs:   newFanout[[]byte](outputSubscribers, "subscriber_dropped", p.id),
		blockSubs:    newFanout[*zones.CommandBlock](blockSubscribers, "block_subscriber_dropped", p.id),
	}
	s.publish()

	go s.readPTY()
	go s.wait()
	go s.loop()

	s.log.Info("session_started",
		slog.String("name", p.name),
		slog.Int("pid", cmd.Process.Pid),
		slog.Int("cols", p.cols),
		slog.Int("rows", p.rows),
		slog.String("shm", pub.Path()))
	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// CreatedAt returns when the session was first created.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// ShmPath returns the shared-memory region path.
func (s *Session) ShmPath() string { return s.pub.Path() }

// Name returns the display name.
func (s *Session) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

func (s *Session) setName(name string) {
	s.mu.Lock()
	s.name = name
	s.mu.Unlock()
}

// LastAttached returns the last attach or detach time.
func (s *Session) LastAttached() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAttached
}

// Size returns the current grid size.
func (s *Session) Size() (cols, rows int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols, s.rows
}

// Summary returns a listing entry. Default is filled in by the manager.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:           s.id,
		Name:         s.name,
		CreatedAt:    s.createdAt,
		LastAttached: s.lastAttached,
		Clients:      len(s.clients),
		Cols:         s.cols,
		Rows:         s.rows,
		Exited:       s.Exited(),
	}
}

// AttachClient adds clientID to the attached set and stamps LastAttached.
func (s *Session) AttachClient(clientID string) time.Time {
	now := s.clock()
	s.mu.Lock()
	s.clients[clientID] = now
	s.lastAttached = now
	s.mu.Unlock()
	return now
}

// DetachClient removes clientID. ok is false when it was not attached.
func (s *Session) DetachClient(clientID string) (at time.Time, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[clientID]; !ok {
		return time.Time{}, false
	}
	delete(s.clients, clientID)
	s.lastAttached = s.clock()
	return s.lastAttached, true
}

// Clients returns the attached client ids, sorted.
func (s *Session) Clients() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.clients))
	for id := range s.clients {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// ClientCount returns the number of attached clients.
func (s *Session) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Exited reports whether the shell has exited.
func (s *Session) Exited() bool {
	select {
	case <-s.exited:
		return true
	default:
		return false
	}
}

// Done is closed when the shell exits or the session is closed.
func (s *Session) Done() <-chan struct{} { return s.exited }

// ExitCode returns the shell's exit status once it has been reaped.
func (s *Session) ExitCode() (int, bool) {
	select {
	case <-s.waited:
		if s.cmd.ProcessState == nil {
			return -1, true
		}
		return s.cmd.ProcessState.ExitCode(), true
	default:
		return 0, false
	}
}

// WriteInput sends bytes to the shell.
func (s *Session) WriteInput(data []byte) error {
	if s.closing() {
		return ErrSessionClosed
	}
	if s.Exited() {
		return ErrSessionExited
	}
	if len(data) == 0 {
		return nil
	}
	if _, err := s.ptmx.Write(data); err != nil {
		return fmt.Errorf("write input: %w", err)
	}
	return nil
}

// Resize changes the PTY and grid size. Sizes beyond the shared region
// are rejected before anything changes.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidSize, cols, rows)
	}
	if cols > s.maxCols || rows > s.maxRows {
		return fmt.Errorf("resize %dx%d: %w", cols, rows, shm.ErrDimensionsTooLarge)
	}
	if s.closing() {
		return ErrSessionClosed
	}
	if err := setSize(s.ptmx, cols, rows); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	if err := s.do(func() {
		s.term.Resize(cols, rows)
		s.publish()
	}); err != nil {
		return err
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	s.log.Debug("session_resized", slog.Int("cols", cols), slog.Int("rows", rows))
	return nil
}

// Blocks returns the finished command blocks, oldest first.
func (s *Session) Blocks() ([]*zones.CommandBlock, error) {
	var blocks []*zones.CommandBlock
	err := s.do(func() {
		s.term.Flush()
		blocks = s.term.Zones().Blocks()
	})
	return blocks, err
}

// CurrentBlock returns the block being built, or nil.
func (s *Session) CurrentBlock() (*zones.CommandBlock, error) {
	var b *zones.CommandBlock
	err := s.do(func() {
		s.term.Flush()
		b = s.term.Zones().CurrentBlock()
	})
	return b, err
}

// BlockAtLine returns the finished block covering row, or nil.
func (s *Session) BlockAtLine(row grid.ScrollbackRow) (*zones.CommandBlock, error) {
	var b *zones.CommandBlock
	err := s.do(func() {
		s.term.Flush()
		b = s.term.Zones().FindBlockAtLine(row)
	})
	return b, err
}

// Zones returns the tracked zones, oldest first.
func (s *Session) Zones() ([]zones.SemanticZone, error) {
	var zs []zones.SemanticZone
	err := s.do(func() {
		s.term.Flush()
		zs = s.term.Zones().Zones()
	})
	return zs, err
}

// LastOutput returns the text of the most recent finished output zone.
// ok is false when no command has finished.
func (s *Session) LastOutput() (text string, ok bool, err error) {
	err = s.do(func() {
		s.term.Flush()
		z, found := s.term.Zones().LastOutputZone()
		if !found {
			return
		}
		ok = true
		g := s.term.Primary()
		lines := make([]string, 0, z.LineCount())
		for r := z.StartRow; r <= z.EndRow; r++ {
			lines = append(lines, g.LineText(r))
		}
		text = strings.TrimRight(strings.Join(lines, "\n"), "\n")
	})
	return text, ok, err
}

// Screen renders the visible grid.
func (s *Session) Screen() (Screen, error) {
	var sc Screen
	err := s.do(func() { sc = s.screen() })
	return sc, err
}

// SnapshotAndSubscribe renders the screen and subscribes to output in one
// step on the loop, so each chunk lands in the screen or on the channel,
// never both.
func (s *Session) SnapshotAndSubscribe() (Screen, <-chan []byte, func(), error) {
	var (
		sc     Screen
		ch     <-chan []byte
		cancel func()
	)
	err := s.do(func() {
		sc = s.screen()
		ch, cancel = s.outputSubs.subscribe()
	})
	return sc, ch, cancel, err
}

func (s *Session) screen() Screen {
	s.term.Flush()
	g := s.term.Grid()
	lines := make([]string, g.Height())
	for y := range lines {
		lines[y] = g.RowText(y)
	}
	cx, cy := g.Cursor()
	return Screen{
		Cols:          g.Width(),
		Rows:          g.Height(),
		CursorX:       cx,
		CursorY:       cy,
		CursorVisible: s.term.CursorVisible(),
		AltScreen:     s.term.AltScreen(),
		Title:         s.term.Title(),
		Cwd:           s.term.Cwd(),
		Lines:         lines,
		Scrollback:    s.term.Scrollback().Len(),
		Sequence:      s.pub.Sequence(),
	}
}

// Stats returns parser and publisher counters.
func (s *Session) Stats() (Stats, error) {
	var st Stats
	err := s.do(func() {
		st = Stats{
			CSICache:    s.term.CacheStats(),
			Anomalies:   s.term.Anomalies(),
			Bells:       s.term.Bells(),
			Sequence:    s.pub.Sequence(),
			Subscribers: s.outputSubs.count(),
		}
	})
	return st, err
}

// Subscribe streams raw PTY output. The channel closes when the shell
// exits, the session closes, or cancel is called. Slow subscribers miss
// chunks rather than stalling the session.
func (s *Session) Subscribe() (<-chan []byte, func()) {
	return s.outputSubs.subscribe()
}

// SubscribeBlocks streams command blocks as they finish.
func (s *Session) SubscribeBlocks() (<-chan *zones.CommandBlock, func()) {
	return s.blockSubs.subscribe()
}

// SetMaxFPS changes the publish rate limit.
func (s *Session) SetMaxFPS(fps int) {
	if fps > 0 {
		s.limiter.SetLimit(rate.Limit(fps))
	}
}

// Close stops the loop, terminates the shell's process group and removes
// the shared region. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		<-s.done

		signalGroup(s.cmd, syscall.SIGHUP)
		select {
		case <-s.waited:
		case <-time.After(terminateGrace):
			signalGroup(s.cmd, syscall.SIGKILL)
			<-s.waited
		}
		_ = s.ptmx.Close()
		s.markExited()
		s.closeErr = s.pub.Close()
		s.log.Info("session_closed")
	})
	return s.closeErr
}

func (s *Session) closing() bool {
	select {
	case <-s.stop:
		return true
	default:
		return false
	}
}

// do runs fn on the loop and waits for it.
func (s *Session) do(fn func()) error {
	finished := make(chan struct{})
	select {
	case s.reqs <- func() { fn(); close(finished) }:
	case <-s.done:
		return ErrSessionClosed
	}
	<-finished
	return nil
}

func (s *Session) loop() {
	defer close(s.done)

	idle := time.NewTimer(s.idle)
	idle.Stop()
	dirty := false
	output := s.output

	for {
		select {
		case chunk, ok := <-output:
			if !ok {
				output = nil
				s.publish()
				s.markExited()
				continue
			}
			s.term.Feed(chunk)
			s.outputSubs.send(chunk)
			dirty = true
			if s.limiter.Allow() {
				s.publish()
				dirty = false
			}
			idle.Reset(s.idle)

		case <-idle.C:
			if dirty {
				s.publish()
				dirty = false
			}

		case fn := <-s.reqs:
			fn()

		case <-s.stop:
			idle.Stop()
			return
		}
	}
}

// publish flushes batched input, writes a snapshot and announces every
// block finished since the last publish.
func (s *Session) publish() {
	s.term.Flush()
	if err := s.pub.Publish(s.term.Grid()); err != nil {
		s.log.Warn("publish_failed", slog.String("error", err.Error()))
	}
	for _, b := range s.term.Zones().BlocksAfter(s.lastBlockID) {
		s.lastBlockID = b.ID
		s.blockSubs.send(b)
	}
}

func (s *Session) markExited() {
	s.exitOnce.Do(func() {
		s.pub.SetErrorMode(shm.ErrorModeUnavailable)
		close(s.exited)
		s.outputSubs.close()
		s.blockSubs.close()
		s.log.Info("session_exited")
	})
}

func (s *Session) readPTY() {
	defer close(s.output)
	buf := make([]byte, readBufSize)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.output <- chunk:
			case <-s.stop:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !isPTYClosed(err) {
				logging.ForComponent(logging.CompPTY).Warn("pty_read_failed",
					slog.String("session_id", s.id),
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

func (s *Session) wait() {
	// A non-zero exit status is reported through ExitCode.
	_ = s.cmd.Wait()
	close(s.waited)
	code := -1
	if s.cmd.ProcessState != nil {
		code = s.cmd.ProcessState.ExitCode()
	}
	logging.ForComponent(logging.CompPTY).Debug("shell_reaped",
		slog.String("session_id", s.id),
		slog.Int("exit_code", code))
}
