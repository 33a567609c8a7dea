package statedb

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *StateDB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testRow(id, name string, attached time.Time) *SessionRow {
	return &SessionRow{
		ID:           id,
		Name:         name,
		CreatedAt:    attached.Add(-time.Hour),
		LastAttached: attached,
		Cols:         80,
		Rows:         24,
	}
}

func TestOpenClose(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "state.db")

	// Open and write
	db1, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db1.Migrate(); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := db1.SaveSession(testRow("s-1", "main", time.Now())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	db1.Close()

	// Reopen and verify
	db2, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Reopen: %v", err)
	}
	defer db2.Close()
	if err := db2.Migrate(); err != nil {
		t.Fatalf("Migrate (repeat): %v", err)
	}

	rows, err := db2.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("Expected 1 session, got %d", len(rows))
	}
	if rows[0].ID != "s-1" || rows[0].Name != "main" {
		t.Errorf("Unexpected data: %+v", rows[0])
	}

	version, err := db2.GetMeta(MetaSchemaVersion)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if version != fmt.Sprint(SchemaVersion) {
		t.Errorf("Expected schema version %d, got %q", SchemaVersion, version)
	}
}

func TestSaveLoadSessionsOrder(t *testing.T) {
	db := newTestDB(t)

	base := time.UnixMilli(1_700_000_000_000)
	for _, r := range []*SessionRow{
		testRow("old", "old", base),
		testRow("new", "new", base.Add(2*time.Second)),
		testRow("mid", "mid", base.Add(time.Second)),
	} {
		if err := db.SaveSession(r); err != nil {
			t.Fatalf("SaveSession %s: %v", r.ID, err)
		}
	}

	loaded, err := db.LoadSessions()
	if err != nil {
		t.Fatalf("LoadSessions: %v", err)
	}
	if len(loaded) != 3 {
		t.Fatalf("Expected 3 sessions, got %d", len(loaded))
	}
	want := []string{"new", "mid", "old"}
	for i, id := range want {
		if loaded[i].ID != id {
			t.Errorf("Position %d: expected %s, got %s", i, id, loaded[i].ID)
		}
	}
	if !loaded[0].LastAttached.Equal(base.Add(2 * time.Second)) {
		t.Errorf("LastAttached round-trip: got %v", loaded[0].LastAttached)
	}
	if !loaded[0].CreatedAt.Equal(base.Add(2*time.Second - time.Hour)) {
		t.Errorf("CreatedAt round-trip: got %v", loaded[0].CreatedAt)
	}
}

func TestSaveSessionReplaces(t *testing.T) {
	db := newTestDB(t)

	r := testRow("s", "first", time.Now())
	if err := db.SaveSession(r); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	r.Name = "second"
	r.Cols, r.Rows = 132, 50
	if err := db.SaveSession(r); err != nil {
		t.Fatalf("SaveSession (replace): %v", err)
	}

	got, err := db.GetSession("s")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Name != "second" || got.Cols != 132 || got.Rows != 50 {
		t.Errorf("Replace not applied: %+v", got)
	}
	count, _ := db.SessionCount()
	if count != 1 {
		t.Errorf("Expected 1 session, got %d", count)
	}
}

func TestGetSessionNotFound(t *testing.T) {
	db := newTestDB(t)

	_, err := db.GetSession("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestDeleteSession(t *testing.T) {
	db := newTestDB(t)

	if err := db.SaveSession(testRow("del-1", "x", time.Now())); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}
	if err := db.DeleteSession("del-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	count, err := db.SessionCount()
	if err != nil {
		t.Fatalf("SessionCount: %v", err)
	}
	if count != 0 {
		t.Errorf("Expected 0 after delete, got %d", count)
	}

	// Deleting again is fine
	if err := db.DeleteSession("del-1"); err != nil {
		t.Errorf("DeleteSession (missing): %v", err)
	}
}

func TestUpdateSessionFields(t *testing.T) {
	db := newTestDB(t)

	created := time.UnixMilli(1_700_000_000_000)
	if err := db.SaveSession(testRow("u", "before", created)); err != nil {
		t.Fatalf("SaveSession: %v", err)
	}

	later := created.Add(time.Minute)
	if err := db.UpdateLastAttached("u", later); err != nil {
		t.Fatalf("UpdateLastAttached: %v", err)
	}
	if err := db.RenameSession("u", "after"); err != nil {
		t.Fatalf("RenameSession: %v", err)
	}
	if err := db.UpdateSize("u", 100, 30); err != nil {
		t.Fatalf("UpdateSize: %v", err)
	}

	got, err := db.GetSession("u")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.Name != "after" {
		t.Errorf("Expected name 'after', got %q", got.Name)
	}
	if !got.LastAttached.Equal(later) {
		t.Errorf("Expected last_attached %v, got %v", later, got.LastAttached)
	}
	if got.Cols != 100 || got.Rows != 30 {
		t.Errorf("Expected 100x30, got %dx%d", got.Cols, got.Rows)
	}

	// Missing ids report ErrNotFound
	if err := db.RenameSession("nope", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameSession missing: expected ErrNotFound, got %v", err)
	}
	if err := db.UpdateLastAttached("nope", later); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateLastAttached missing: expected ErrNotFound, got %v", err)
	}
}

func TestHeartbeat(t *testing.T) {
	db := newTestDB(t)

	// Register
	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	// Heartbeat
	if err := db.Heartbeat(); err != nil {
		t.Fatalf("Heartbeat: %v", err)
	}

	// Check alive count
	count, err := db.AliveDaemonCount(30 * time.Second)
	if err != nil {
		t.Fatalf("AliveDaemonCount: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected 1 alive, got %d", count)
	}

	// Unregister
	if err := db.UnregisterDaemon(); err != nil {
		t.Fatalf("UnregisterDaemon: %v", err)
	}

	count, _ = db.AliveDaemonCount(30 * time.Second)
	if count != 0 {
		t.Errorf("Expected 0 alive after unregister, got %d", count)
	}
}

func TestHeartbeatCleanup(t *testing.T) {
	db := newTestDB(t)

	// Insert a fake stale heartbeat (pid=99999, heartbeat 2 minutes ago)
	stale := time.Now().Add(-2 * time.Minute).Unix()
	_, err := db.db.Exec(
		"INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		99999, stale, stale, 0,
	)
	if err != nil {
		t.Fatalf("Insert stale: %v", err)
	}

	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	// Clean dead (30s timeout should remove the stale one)
	if err := db.CleanDeadDaemons(30 * time.Second); err != nil {
		t.Fatalf("CleanDeadDaemons: %v", err)
	}

	var total int
	if err := db.db.QueryRow("SELECT COUNT(*) FROM daemon_heartbeats").Scan(&total); err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 1 {
		t.Errorf("Expected 1 heartbeat row after cleanup, got %d", total)
	}
}

func TestConcurrentAccess(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("concurrent-%d", i)
		if err := db.SaveSession(testRow(id, id, time.Now())); err != nil {
			t.Fatalf("SaveSession: %v", err)
		}
	}
	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	// Concurrent readers and writers
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if _, err := db.LoadSessions(); err != nil {
					t.Errorf("LoadSessions: %v", err)
					return
				}
			}
		}()
	}

	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			id := fmt.Sprintf("concurrent-%d", idx)
			for j := 0; j < 10; j++ {
				if err := db.UpdateLastAttached(id, time.Now()); err != nil {
					t.Errorf("UpdateLastAttached: %v", err)
					return
				}
				_ = db.Heartbeat()
			}
		}(i)
	}

	wg.Wait()

	count, _ := db.SessionCount()
	if count != 10 {
		t.Errorf("Expected 10 sessions, got %d", count)
	}
}

func TestMetadata(t *testing.T) {
	db := newTestDB(t)

	// Missing key returns empty
	val, err := db.GetMeta(MetaDefaultSession)
	if err != nil {
		t.Fatalf("GetMeta: %v", err)
	}
	if val != "" {
		t.Errorf("Expected empty, got %q", val)
	}

	// Set and get
	if err := db.SetMeta(MetaDefaultSession, "abc"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	val, _ = db.GetMeta(MetaDefaultSession)
	if val != "abc" {
		t.Errorf("Expected 'abc', got %q", val)
	}

	// Overwrite
	if err := db.SetMeta(MetaDefaultSession, "def"); err != nil {
		t.Fatalf("SetMeta: %v", err)
	}
	val, _ = db.GetMeta(MetaDefaultSession)
	if val != "def" {
		t.Errorf("Expected 'def', got %q", val)
	}

	// Delete
	if err := db.DeleteMeta(MetaDefaultSession); err != nil {
		t.Fatalf("DeleteMeta: %v", err)
	}
	val, _ = db.GetMeta(MetaDefaultSession)
	if val != "" {
		t.Errorf("Expected empty after delete, got %q", val)
	}
}

func TestElectPrimary_FirstDaemon(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !isPrimary {
		t.Error("First daemon should become primary")
	}

	// Calling again should still return true (already primary)
	isPrimary, err = db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary (repeat): %v", err)
	}
	if !isPrimary {
		t.Error("Should still be primary on repeat call")
	}
}

func TestElectPrimary_SecondDaemon(t *testing.T) {
	db := newTestDB(t)

	// Simulate another daemon (PID 10001) as primary with fresh heartbeat
	now := time.Now().Unix()
	_, err := db.db.Exec(
		"INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		10001, now, now, 1,
	)
	if err != nil {
		t.Fatalf("Insert primary: %v", err)
	}

	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if isPrimary {
		t.Error("Second daemon should NOT become primary while first is alive")
	}
}

func TestElectPrimary_Failover(t *testing.T) {
	db := newTestDB(t)

	// Simulate a stale primary (heartbeat 2 minutes ago)
	stale := time.Now().Add(-2 * time.Minute).Unix()
	_, err := db.db.Exec(
		"INSERT INTO daemon_heartbeats (pid, started, heartbeat, is_primary) VALUES (?, ?, ?, ?)",
		10001, stale, stale, 1,
	)
	if err != nil {
		t.Fatalf("Insert stale primary: %v", err)
	}

	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}

	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !isPrimary {
		t.Error("Should become primary after stale primary is cleared")
	}

	var stalePrimary int
	err = db.db.QueryRow(
		"SELECT is_primary FROM daemon_heartbeats WHERE pid = 10001",
	).Scan(&stalePrimary)
	if err != nil {
		t.Fatalf("Query stale PID: %v", err)
	}
	if stalePrimary != 0 {
		t.Error("Stale PID should have is_primary=0")
	}
}

func TestResignPrimary(t *testing.T) {
	db := newTestDB(t)

	if err := db.RegisterDaemon(); err != nil {
		t.Fatalf("RegisterDaemon: %v", err)
	}
	isPrimary, err := db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary: %v", err)
	}
	if !isPrimary {
		t.Fatal("Should be primary")
	}

	if err := db.ResignPrimary(); err != nil {
		t.Fatalf("ResignPrimary: %v", err)
	}

	var isPrim int
	err = db.db.QueryRow(
		"SELECT is_primary FROM daemon_heartbeats WHERE pid = ?",
		db.pid,
	).Scan(&isPrim)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if isPrim != 0 {
		t.Error("Should not be primary after resign")
	}

	// Re-elect should work since no primary exists
	isPrimary, err = db.ElectPrimary(30 * time.Second)
	if err != nil {
		t.Fatalf("ElectPrimary after resign: %v", err)
	}
	if !isPrimary {
		t.Error("Should become primary again after resign")
	}
}
