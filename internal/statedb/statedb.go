// Package statedb is the durable session catalogue: a SQLite database in
// WAL mode holding session metadata, daemon heartbeats and key/value
// metadata such as the default session.
package statedb

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
const SchemaVersion = 1

// Metadata keys.
const (
	MetaSchemaVersion  = "schema_version"
	MetaDefaultSession = "default_session"
)

// ErrNotFound is returned when a session id has no row.
var ErrNotFound = errors.New("statedb: not found")

// StateDB wraps a SQLite database. A mutex serializes every statement
// because the engine does not support concurrent writers on one
// connection; other processes coordinate through WAL and the busy timeout.
type StateDB struct {
	mu  sync.Mutex
	db  *sql.DB
	pid int
}

// SessionRow is the stored form of a session.
type SessionRow struct {
	ID           string
	Name         string
	CreatedAt    time.Time
	LastAttached time.Time
	Cols         int
	Rows         int
}

// Open creates or opens a SQLite database at dbPath.
func Open(dbPath string) (*StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}
	// Pragmas below are per connection.
	db.SetMaxOpenConns(1)

	pragmas := []struct{ name, stmt string }{
		{"wal mode", "PRAGMA journal_mode=WAL"},
		{"synchronous", "PRAGMA synchronous=NORMAL"},
		{"busy timeout", "PRAGMA busy_timeout=5000"},
		{"foreign keys", "PRAGMA foreign_keys=ON"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("statedb: %s: %w", p.name, err)
		}
	}

	return &StateDB{db: db, pid: os.Getpid()}, nil
}

// Close checkpoints the WAL and closes the database.
func (s *StateDB) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := []struct{ name, sql string }{
		{"metadata", `
			CREATE TABLE IF NOT EXISTS metadata (
				key   TEXT PRIMARY KEY,
				value TEXT NOT NULL
			)`},
		{"sessions", `
			CREATE TABLE IF NOT EXISTS sessions (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL,
				created_at    INTEGER NOT NULL,
				last_attached INTEGER NOT NULL,
				cols          INTEGER NOT NULL DEFAULT 80,
				rows          INTEGER NOT NULL DEFAULT 24
			)`},
		{"sessions name index", `
			CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name)`},
		{"daemon heartbeats", `
			CREATE TABLE IF NOT EXISTS daemon_heartbeats (
				pid        INTEGER PRIMARY KEY,
				started    INTEGER NOT NULL,
				heartbeat  INTEGER NOT NULL,
				is_primary INTEGER NOT NULL DEFAULT 0
			)`},
	}
	for _, st := range stmts {
		if _, err := tx.Exec(st.sql); err != nil {
			return fmt.Errorf("statedb: create %s: %w", st.name, err)
		}
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		MetaSchemaVersion, strconv.Itoa(SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	return tx.Commit()
}

// --- Sessions ---

// SaveSession inserts or replaces a session row.
func (s *StateDB) SaveSession(row *SessionRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (id, name, created_at, last_attached, cols, rows)
		VALUES (?, ?, ?, ?, ?, ?)
	`, row.ID, row.Name, row.CreatedAt.UnixMilli(), row.LastAttached.UnixMilli(), row.Cols, row.Rows)
	if err != nil {
		return fmt.Errorf("statedb: save session %s: %w", row.ID, err)
	}
	return nil
}

// LoadSessions returns every session, most recently attached first.
func (s *StateDB) LoadSessions() ([]*SessionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT id, name, created_at, last_attached, cols, rows
		FROM sessions ORDER BY last_attached DESC, created_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: load sessions: %w", err)
	}
	defer rows.Close()

	var result []*SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("statedb: scan session: %w", err)
		}
		result = append(result, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("statedb: load sessions: %w", err)
	}
	return result, nil
}

// GetSession returns one session or ErrNotFound.
func (s *StateDB) GetSession(id string) (*SessionRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT id, name, created_at, last_attached, cols, rows
		FROM sessions WHERE id = ?
	`, id)
	r, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("statedb: get session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("statedb: get session %s: %w", id, err)
	}
	return r, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (*SessionRow, error) {
	r := &SessionRow{}
	var created, attached int64
	if err := sc.Scan(&r.ID, &r.Name, &created, &attached, &r.Cols, &r.Rows); err != nil {
		return nil, err
	}
	r.CreatedAt = time.UnixMilli(created)
	r.LastAttached = time.UnixMilli(attached)
	return r, nil
}

// DeleteSession removes a session row. Deleting a missing id is not an error.
func (s *StateDB) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM sessions WHERE id = ?", id); err != nil {
		return fmt.Errorf("statedb: delete session %s: %w", id, err)
	}
	return nil
}

// UpdateLastAttached stamps a session's last_attached time.
func (s *StateDB) UpdateLastAttached(id string, at time.Time) error {
	return s.updateSession(id, "update last_attached", "UPDATE sessions SET last_attached = ? WHERE id = ?", at.UnixMilli(), id)
}

// RenameSession changes a session's name.
func (s *StateDB) RenameSession(id, name string) error {
	return s.updateSession(id, "rename session", "UPDATE sessions SET name = ? WHERE id = ?", name, id)
}

// UpdateSize records a session's grid size.
func (s *StateDB) UpdateSize(id string, cols, rows int) error {
	return s.updateSession(id, "update size", "UPDATE sessions SET cols = ?, rows = ? WHERE id = ?", cols, rows, id)
}

func (s *StateDB) updateSession(id, op, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("statedb: %s %s: %w", op, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("statedb: %s %s: %w", op, id, err)
	}
	if n == 0 {
		return fmt.Errorf("statedb: %s %s: %w", op, id, ErrNotFound)
	}
	return nil
}

// SessionCount returns the number of stored sessions.
func (s *StateDB) SessionCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM sessions").Scan(&count); err != nil {
		return 0, fmt.Errorf("statedb: count sessions: %w", err)
	}
	return count, nil
}

// --- Daemon heartbeat ---

// RegisterDaemon records this process as a running daemon.
func (s *StateDB) RegisterDaemon() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO daemon_heartbeats (pid, started, heartbeat, is_primary)
		VALUES (?, ?, ?, 0)
	`, s.pid, now, now)
	if err != nil {
		return fmt.Errorf("statedb: register daemon: %w", err)
	}
	return nil
}

// Heartbeat refreshes this process's heartbeat timestamp.
func (s *StateDB) Heartbeat() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"UPDATE daemon_heartbeats SET heartbeat = ? WHERE pid = ?",
		time.Now().Unix(), s.pid,
	); err != nil {
		return fmt.Errorf("statedb: heartbeat: %w", err)
	}
	return nil
}

// UnregisterDaemon removes this process from the heartbeat table.
func (s *StateDB) UnregisterDaemon() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM daemon_heartbeats WHERE pid = ?", s.pid); err != nil {
		return fmt.Errorf("statedb: unregister daemon: %w", err)
	}
	return nil
}

// CleanDeadDaemons removes heartbeats older than timeout.
func (s *StateDB) CleanDeadDaemons(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-timeout).Unix()
	if _, err := s.db.Exec("DELETE FROM daemon_heartbeats WHERE heartbeat < ?", cutoff); err != nil {
		return fmt.Errorf("statedb: clean dead daemons: %w", err)
	}
	return nil
}

// AliveDaemonCount returns how many daemons heartbeated within timeout.
func (s *StateDB) AliveDaemonCount(timeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	cutoff := time.Now().Add(-timeout).Unix()
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM daemon_heartbeats WHERE heartbeat >= ?", cutoff,
	).Scan(&count); err != nil {
		return 0, fmt.Errorf("statedb: count daemons: %w", err)
	}
	return count, nil
}

// ElectPrimary makes this daemon the primary unless another daemon with a
// fresh heartbeat already holds it. It reports whether this process is the
// primary afterwards.
func (s *StateDB) ElectPrimary(timeout time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("statedb: begin elect: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	cutoff := time.Now().Add(-timeout).Unix()
	if _, err := tx.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 0 WHERE heartbeat < ? AND is_primary = 1",
		cutoff,
	); err != nil {
		return false, fmt.Errorf("statedb: clear stale primary: %w", err)
	}

	var existingPID int
	err = tx.QueryRow(
		"SELECT pid FROM daemon_heartbeats WHERE is_primary = 1 AND heartbeat >= ? LIMIT 1",
		cutoff,
	).Scan(&existingPID)
	switch {
	case err == nil:
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("statedb: commit elect: %w", err)
		}
		return existingPID == s.pid, nil
	case !errors.Is(err, sql.ErrNoRows):
		return false, fmt.Errorf("statedb: find primary: %w", err)
	}

	if _, err := tx.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 1 WHERE pid = ?",
		s.pid,
	); err != nil {
		return false, fmt.Errorf("statedb: claim primary: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("statedb: commit elect: %w", err)
	}
	return true, nil
}

// ResignPrimary clears the primary flag for this process.
func (s *StateDB) ResignPrimary() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"UPDATE daemon_heartbeats SET is_primary = 0 WHERE pid = ?",
		s.pid,
	); err != nil {
		return fmt.Errorf("statedb: resign primary: %w", err)
	}
	return nil
}

// --- Metadata ---

// SetMeta sets a key-value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)",
		key, value,
	); err != nil {
		return fmt.Errorf("statedb: set meta %s: %w", key, err)
	}
	return nil
}

// GetMeta gets a value from the metadata table. Returns "" if not found.
func (s *StateDB) GetMeta(key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("statedb: get meta %s: %w", key, err)
	}
	return value, nil
}

// DeleteMeta removes a metadata key.
func (s *StateDB) DeleteMeta(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec("DELETE FROM metadata WHERE key = ?", key); err != nil {
		return fmt.Errorf("statedb: delete meta %s: %w", key, err)
	}
	return nil
}
