package logging

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// readRecords parses every JSONL record in the daemon log under dir.
func readRecords(t *testing.T, dir string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, DefaultLogFile))
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	var out []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("failed to parse JSONL line %q: %v", sc.Text(), err)
		}
		out = append(out, rec)
	}
	return out
}

func findRecord(records []map[string]any, msg string) map[string]any {
	for _, rec := range records {
		if rec["msg"] == msg {
			return rec
		}
	}
	return nil
}

func TestInitWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	t.Cleanup(Shutdown)

	ForComponent(CompShm).Info("region_created", slog.String("path", "/dev/shm/x"))
	ForSession("abc123").Warn("pty_read_failed")

	records := readRecords(t, dir)
	rec := findRecord(records, "region_created")
	if rec == nil {
		t.Fatalf("region_created not logged: %v", records)
	}
	if rec["component"] != CompShm || rec["path"] != "/dev/shm/x" {
		t.Errorf("unexpected record %v", rec)
	}
	rec = findRecord(records, "pty_read_failed")
	if rec == nil || rec["component"] != CompSession || rec["session_id"] != "abc123" {
		t.Errorf("session record missing attributes: %v", rec)
	}
}

func TestSetLevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Level: "info"})
	t.Cleanup(Shutdown)

	log := ForComponent(CompVT)
	log.Debug("hidden_debug")
	SetLevel("debug")
	log.Debug("visible_debug")
	SetLevel("error")
	log.Warn("hidden_warn")

	records := readRecords(t, dir)
	if findRecord(records, "hidden_debug") != nil || findRecord(records, "hidden_warn") != nil {
		t.Fatalf("filtered records were written: %v", records)
	}
	if findRecord(records, "visible_debug") == nil {
		t.Fatalf("debug record missing after SetLevel: %v", records)
	}
}

func TestDebugDefaultsLevel(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, Debug: true})
	t.Cleanup(Shutdown)

	Logger().Debug("debug_on")
	if findRecord(readRecords(t, dir), "debug_on") == nil {
		t.Fatal("Debug should lower the level when Level is unset")
	}
}

func TestComponentLoggerCreatedBeforeInit(t *testing.T) {
	Shutdown()
	log := ForComponent(CompStorage).With(slog.String("db", "state.db")).WithGroup("op")

	dir := t.TempDir()
	Init(Config{LogDir: dir})
	t.Cleanup(Shutdown)

	log.Info("migrated", slog.Int("version", 2))
	rec := findRecord(readRecords(t, dir), "migrated")
	if rec == nil {
		t.Fatal("record from early logger missing")
	}
	if rec["component"] != CompStorage || rec["db"] != "state.db" {
		t.Errorf("unexpected attributes: %v", rec)
	}
	group, ok := rec["op"].(map[string]any)
	if !ok || group["version"] != float64(2) {
		t.Errorf("group not applied: %v", rec)
	}
}

func TestLoggingBeforeInitAndAfterShutdown(t *testing.T) {
	Shutdown()
	// Nothing configured: these must not panic.
	Logger().Info("ignored")
	ForComponent(CompWeb).Error("ignored")
	Aggregate(CompVT, "ignored")
	if counts := AggregateCounts(); len(counts) != 0 {
		t.Fatalf("expected no counts, got %v", counts)
	}
	if err := DumpRingBuffer(filepath.Join(t.TempDir(), "dump.jsonl")); err != nil {
		t.Fatalf("DumpRingBuffer before Init: %v", err)
	}
	Shutdown()
}

func TestInitWithoutDirDiscards(t *testing.T) {
	Init(Config{})
	t.Cleanup(Shutdown)
	if Logger() != discard {
		t.Fatal("expected the discard logger without a log dir")
	}
	// Discarded sinks still count events so callers can inspect them.
	Aggregate(CompShm, "publish_skipped")
	if AggregateCounts()[CompShm+"/publish_skipped"] != 1 {
		t.Fatalf("unexpected counts %v", AggregateCounts())
	}
}

func TestDumpRingBuffer(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir})
	t.Cleanup(Shutdown)

	ForComponent(CompDaemon).Info("before_crash", slog.Int("n", 1))
	dump := filepath.Join(dir, "crash", "dump.jsonl")
	if err := DumpRingBuffer(dump); err != nil {
		t.Fatalf("DumpRingBuffer: %v", err)
	}
	data, err := os.ReadFile(dump)
	if err != nil {
		t.Fatalf("read dump: %v", err)
	}
	if !strings.Contains(string(data), `"msg":"before_crash"`) {
		t.Fatalf("dump missing record: %s", data)
	}
}

func TestAggregateFlushedOnShutdown(t *testing.T) {
	dir := t.TempDir()
	Init(Config{LogDir: dir, AggregateIntervalSecs: 3600})

	for i := 0; i < 3; i++ {
		Aggregate(CompVT, "unhandled_csi", slog.String("final", "q"))
	}
	if got := AggregateCounts()[CompVT+"/unhandled_csi"]; got != 3 {
		t.Fatalf("count = %d, want 3", got)
	}
	Shutdown()

	rec := findRecord(readRecords(t, dir), "event_summary")
	if rec == nil {
		t.Fatal("event_summary not written on shutdown")
	}
	if rec["event"] != "unhandled_csi" || rec["count"] != float64(3) || rec["final"] != "q" {
		t.Errorf("unexpected summary %v", rec)
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
