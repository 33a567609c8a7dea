package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sahilm/fuzzy"
	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/term-deck/internal/logging"
	"github.com/asheshgoplani/term-deck/internal/statedb"
)

// restoreParallelism caps concurrent shell spawns during restore.
const restoreParallelism = 8

// Store is the durable catalogue the manager writes through to.
// *statedb.StateDB implements it.
type Store interface {
	SaveSession(row *statedb.SessionRow) error
	LoadSessions() ([]*statedb.SessionRow, error)
	DeleteSession(id string) error
	UpdateLastAttached(id string, at time.Time) error
	RenameSession(id, name string) error
	UpdateSize(id string, cols, rows int) error
	SetMeta(key, value string) error
	GetMeta(key string) (string, error)
	DeleteMeta(key string) error
}

// Manager owns every live session, the default-session choice and the
// write-through to the store.
type Manager struct {
	store Store
	opts  Options
	log   *slog.Logger

	mu        sync.RWMutex
	sessions  map[string]*Session
	defaultID string
	closed    bool
}

// NewManager returns a manager with no sessions. Call RestoreSessions to
// bring back persisted ones.
func NewManager(store Store, opts Options) *Manager {
	opts.applyDefaults()
	return &Manager{
		store:    store,
		opts:     opts,
		log:      logging.ForComponent(logging.CompSession),
		sessions: make(map[string]*Session),
	}
}

// RestoreSessions spawns a shell for every stored session. Individual
// spawn failures are logged and skipped; the stored row is kept so a later
// start can retry. It returns the number of sessions restored.
func (m *Manager) RestoreSessions(ctx context.Context) (int, error) {
	rows, err := m.store.LoadSessions()
	if err != nil {
		return 0, fmt.Errorf("restore sessions: %w", err)
	}
	storedDefault, err := m.store.GetMeta(statedb.MetaDefaultSession)
	if err != nil {
		m.log.Warn("default_session_load_failed", slog.String("error", err.Error()))
	}

	var (
		mu       sync.Mutex
		restored []*Session
		g        errgroup.Group
	)
	g.SetLimit(restoreParallelism)
	for _, row := range rows {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			s, err := newSession(sessionParams{
				id:           row.ID,
				name:         row.Name,
				createdAt:    row.CreatedAt,
				lastAttached: row.LastAttached,
				cols:         clampSize(row.Cols, m.opts.Cols, m.opts.MaxCols),
				rows:         clampSize(row.Rows, m.opts.Rows, m.opts.MaxRows),
			}, m.opts)
			if err != nil {
				m.log.Warn("session_restore_failed",
					slog.String("session_id", row.ID),
					slog.String("name", row.Name),
					slog.String("error", err.Error()))
				return nil
			}
			mu.Lock()
			restored = append(restored, s)
			mu.Unlock()
			return nil
		})
	}
	waitErr := g.Wait()

	m.mu.Lock()
	for _, s := range restored {
		m.sessions[s.ID()] = s
	}
	if _, ok := m.sessions[storedDefault]; ok {
		m.defaultID = storedDefault
	} else {
		m.defaultID = m.electDefaultLocked()
	}
	newDefault := m.defaultID
	m.mu.Unlock()

	if newDefault != storedDefault {
		m.persistDefault(newDefault)
	}
	m.log.Info("sessions_restored",
		slog.Int("restored", len(restored)),
		slog.Int("stored", len(rows)))
	return len(restored), waitErr
}

// CreateSession spawns a shell and registers the session in memory and in
// the store. Zero cols or rows use the configured defaults; an empty name
// gets a generated one. The first session becomes the default.
func (m *Manager) CreateSession(ctx context.Context, name string, cols, rows int) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cols <= 0 {
		cols = m.opts.Cols
	}
	if rows <= 0 {
		rows = m.opts.Rows
	}
	name = strings.TrimSpace(name)

	m.mu.RLock()
	closed := m.closed
	if name == "" {
		name = GenerateUniqueName(m.namesLocked())
	}
	m.mu.RUnlock()
	if closed {
		return nil, ErrSessionClosed
	}

	now := m.opts.Clock()
	id := uuid.NewString()
	s, err := newSession(sessionParams{
		id:           id,
		name:         name,
		createdAt:    now,
		lastAttached: now,
		cols:         cols,
		rows:         rows,
	}, m.opts)
	if err != nil {
		return nil, fmt.Errorf("create session %q: %w", name, err)
	}
	if err := m.store.SaveSession(&statedb.SessionRow{
		ID:           id,
		Name:         name,
		CreatedAt:    now,
		LastAttached: now,
		Cols:         cols,
		Rows:         rows,
	}); err != nil {
		s.Close()
		return nil, fmt.Errorf("create session %q: %w", name, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Close()
		return nil, ErrSessionClosed
	}
	m.sessions[id] = s
	becameDefault := m.defaultID == ""
	if becameDefault {
		m.defaultID = id
	}
	m.mu.Unlock()

	if becameDefault {
		m.persistDefault(id)
	}
	m.log.Info("session_created",
		slog.String("session_id", id),
		slog.String("name", name),
		slog.Bool("default", becameDefault))
	return s, nil
}

// DeleteSession removes a session from the store and memory and stops its
// shell. It fails with ErrClientsAttached while any client is attached.
// Deleting the default session elects a new one.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, ErrSessionNotFound)
	}
	if n := s.ClientCount(); n > 0 {
		m.mu.Unlock()
		return fmt.Errorf("delete %s (%d clients): %w", id, n, ErrClientsAttached)
	}
	if err := m.store.DeleteSession(id); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("delete %s: %w", id, err)
	}
	delete(m.sessions, id)
	wasDefault := m.defaultID == id
	if wasDefault {
		m.defaultID = m.electDefaultLocked()
	}
	newDefault := m.defaultID
	m.mu.Unlock()

	if err := s.Close(); err != nil {
		m.log.Warn("session_close_failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}
	if wasDefault {
		m.persistDefault(newDefault)
	}
	m.log.Info("session_deleted", slog.String("session_id", id), slog.String("new_default", newDefault))
	return nil
}

// GetSession returns a live session by id.
func (m *Manager) GetSession(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[id]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("%s: %w", id, ErrSessionNotFound)
}

// DefaultSession returns the default session.
func (m *Manager) DefaultSession() (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.sessions[m.defaultID]; ok {
		return s, nil
	}
	return nil, fmt.Errorf("default: %w", ErrSessionNotFound)
}

// DefaultID returns the default session id, or "" when there are no
// sessions.
func (m *Manager) DefaultID() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultID
}

// SetDefault makes id the default session.
func (m *Manager) SetDefault(id string) error {
	m.mu.Lock()
	if _, ok := m.sessions[id]; !ok {
		m.mu.Unlock()
		return fmt.Errorf("set default %s: %w", id, ErrSessionNotFound)
	}
	m.defaultID = id
	m.mu.Unlock()
	m.persistDefault(id)
	return nil
}

// ListSessions returns summaries sorted by most recent attach first.
func (m *Manager) ListSessions() []Summary {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.sessions))
	for id, s := range m.sessions {
		sum := s.Summary()
		sum.Default = id == m.defaultID
		out = append(out, sum)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.LastAttached.Equal(b.LastAttached) {
			return a.LastAttached.After(b.LastAttached)
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}

// SessionCount returns the number of live sessions.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// AttachClient attaches clientID to session id and persists the attach
// time.
func (m *Manager) AttachClient(id, clientID string) error {
	m.mu.RLock()
	s, ok := m.sessions[id]
	var at time.Time
	if ok {
		at = s.AttachClient(clientID)
	}
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("attach %s: %w", id, ErrSessionNotFound)
	}
	if err := m.store.UpdateLastAttached(id, at); err != nil {
		return fmt.Errorf("attach %s: %w", id, err)
	}
	m.log.Info("client_attached", slog.String("session_id", id), slog.String("client_id", clientID))
	return nil
}

// DetachClient detaches clientID. Detaching a client that is not attached
// is a no-op.
func (m *Manager) DetachClient(id, clientID string) error {
	s, err := m.GetSession(id)
	if err != nil {
		return fmt.Errorf("detach: %w", err)
	}
	at, ok := s.DetachClient(clientID)
	if !ok {
		return nil
	}
	if err := m.store.UpdateLastAttached(id, at); err != nil {
		return fmt.Errorf("detach %s: %w", id, err)
	}
	m.log.Info("client_detached", slog.String("session_id", id), slog.String("client_id", clientID))
	return nil
}

// RenameSession changes a session's name in the store and in memory.
func (m *Manager) RenameSession(id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("rename %s: empty name: %w", id, ErrInvalidName)
	}
	s, err := m.GetSession(id)
	if err != nil {
		return fmt.Errorf("rename: %w", err)
	}
	if err := m.store.RenameSession(id, name); err != nil {
		return fmt.Errorf("rename %s: %w", id, err)
	}
	s.setName(name)
	m.log.Info("session_renamed", slog.String("session_id", id), slog.String("name", name))
	return nil
}

// ResizeSession resizes the PTY and grid, then records the new size.
func (m *Manager) ResizeSession(id string, cols, rows int) error {
	s, err := m.GetSession(id)
	if err != nil {
		return fmt.Errorf("resize: %w", err)
	}
	if err := s.Resize(cols, rows); err != nil {
		return err
	}
	if err := m.store.UpdateSize(id, cols, rows); err != nil {
		m.log.Warn("session_size_save_failed", slog.String("session_id", id), slog.String("error", err.Error()))
		return fmt.Errorf("resize %s: save size: %w", id, err)
	}
	return nil
}

// CleanupDetachedSessions deletes sessions with no clients whose last
// attach is older than maxAge. The default session is kept.
func (m *Manager) CleanupDetachedSessions(maxAge time.Duration) (int, error) {
	now := m.opts.Clock()
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if id == m.defaultID || s.ClientCount() > 0 {
			continue
		}
		if now.Sub(s.LastAttached()) > maxAge {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	removed := 0
	for _, id := range stale {
		err := m.DeleteSession(id)
		switch {
		case err == nil:
			removed++
		case errors.Is(err, ErrClientsAttached), errors.Is(err, ErrSessionNotFound):
			// Attached or deleted since the scan.
		default:
			return removed, err
		}
	}
	if removed > 0 {
		m.log.Info("detached_sessions_cleaned", slog.Int("removed", removed))
	}
	return removed, nil
}

// Lookup finds a session by id, exact name, or unique id prefix. An empty
// query or "default" (when no session has that name) means the default
// session.
func (m *Manager) Lookup(query string) (*Session, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return m.DefaultSession()
	}

	m.mu.RLock()
	s := m.lookupLocked(query)
	m.mu.RUnlock()
	if s != nil {
		return s, nil
	}
	if query == "default" {
		return m.DefaultSession()
	}
	return nil, fmt.Errorf("%q: %w", query, ErrSessionNotFound)
}

// Resolve is Lookup with a final fuzzy match on session names.
func (m *Manager) Resolve(query string) (*Session, error) {
	s, err := m.Lookup(query)
	if err == nil || !errors.Is(err, ErrSessionNotFound) || strings.TrimSpace(query) == "" {
		return s, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.sessions))
	byName := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		names = append(names, s.Name())
		byName = append(byName, s)
	}
	if matches := fuzzy.Find(strings.TrimSpace(query), names); len(matches) > 0 {
		return byName[matches[0].Index], nil
	}
	return nil, err
}

func (m *Manager) lookupLocked(query string) *Session {
	if s, ok := m.sessions[query]; ok {
		return s
	}
	var prefixed *Session
	prefixCount := 0
	for id, s := range m.sessions {
		if s.Name() == query {
			return s
		}
		if strings.HasPrefix(id, query) {
			prefixed = s
			prefixCount++
		}
	}
	if prefixCount == 1 {
		return prefixed
	}
	return nil
}

// SetMaxFPS applies a new publish rate to every session.
func (m *Manager) SetMaxFPS(fps int) {
	m.mu.Lock()
	m.opts.MaxFPS = fps
	for _, s := range m.sessions {
		s.SetMaxFPS(fps)
	}
	m.mu.Unlock()
}

// Shutdown closes every session without removing it from the store, so
// the next RestoreSessions brings them back.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var g errgroup.Group
	for _, s := range sessions {
		g.Go(s.Close)
	}
	err := g.Wait()
	m.log.Info("sessions_shutdown", slog.Int("count", len(sessions)))
	return err
}

// electDefaultLocked picks the most recently attached session.
func (m *Manager) electDefaultLocked() string {
	var best *Session
	for _, s := range m.sessions {
		if best == nil || newer(s, best) {
			best = s
		}
	}
	if best == nil {
		return ""
	}
	return best.ID()
}

func newer(a, b *Session) bool {
	la, lb := a.LastAttached(), b.LastAttached()
	if !la.Equal(lb) {
		return la.After(lb)
	}
	if !a.CreatedAt().Equal(b.CreatedAt()) {
		return a.CreatedAt().Before(b.CreatedAt())
	}
	return a.ID() < b.ID()
}

// persistDefault records id as the default; an empty id clears it.
func (m *Manager) persistDefault(id string) {
	var err error
	if id == "" {
		err = m.store.DeleteMeta(statedb.MetaDefaultSession)
	} else {
		err = m.store.SetMeta(statedb.MetaDefaultSession, id)
	}
	if err != nil {
		m.log.Warn("default_session_save_failed", slog.String("session_id", id), slog.String("error", err.Error()))
	}
}

func (m *Manager) namesLocked() map[string]bool {
	names := make(map[string]bool, len(m.sessions))
	for _, s := range m.sessions {
		names[s.Name()] = true
	}
	return names
}

func clampSize(v, def, max int) int {
	if v <= 0 {
		v = def
	}
	return min(v, max)
}
