// Package logging wires the daemon's structured logs: a rotating JSONL
// file, an in-memory record ring for crash dumps, and an aggregator for
// high-frequency events such as unhandled escape sequences.
package logging

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Component names attached to every record as the "component" attribute.
const (
	CompDaemon  = "daemon"
	CompSession = "session"
	CompPTY     = "pty"
	CompVT      = "vt"
	CompZones   = "zones"
	CompShm     = "shm"
	CompStorage = "storage"
	CompConfig  = "config"
	CompWeb     = "web"
	CompPerf    = "perf"
)

// DefaultLogFile is the file name used inside Config.LogDir.
const DefaultLogFile = "daemon.log"

// Config holds logging configuration.
type Config struct {
	// LogDir is the directory for log files (e.g. ~/.term-deck/logs)
	LogDir string

	// FileName overrides DefaultLogFile.
	FileName string

	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string

	// Format is "json" (default) or "text"
	Format string

	// MaxSizeMB is the max size in MB before rotation (default: 10)
	MaxSizeMB int

	// MaxBackups is rotated files to keep (default: 5)
	MaxBackups int

	// MaxAgeDays is days to keep rotated files (default: 10)
	MaxAgeDays int

	Compress bool

	// RingBufferSize is the crash-dump record budget in bytes (default: 4MB)
	RingBufferSize int

	// AggregateIntervalSecs is the aggregation flush interval (default: 30)
	AggregateIntervalSecs int

	// PprofAddr starts a pprof server when non-empty (e.g. "localhost:6060")
	PprofAddr string

	// Debug lowers the default level to debug when Level is unset. Without
	// a LogDir it also sends text records to stderr instead of discarding.
	Debug bool
}

func (c *Config) applyDefaults() {
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 10
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 5
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = 10
	}
	if c.RingBufferSize <= 0 {
		c.RingBufferSize = 4 * 1024 * 1024
	}
	if c.AggregateIntervalSecs <= 0 {
		c.AggregateIntervalSecs = 30
	}
	if c.FileName == "" {
		c.FileName = DefaultLogFile
	}
}

// sink is everything one Init call owns. Init swaps in a new sink and
// closes the old one.
type sink struct {
	logger *slog.Logger
	ring   *RecordRing
	agg    *Aggregator
	file   *lumberjack.Logger
	pprof  *http.Server
}

func (s *sink) close() {
	if s.agg != nil {
		s.agg.Stop()
	}
	if s.pprof != nil {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_ = s.pprof.Shutdown(ctx)
		cancel()
	}
	if s.file != nil {
		_ = s.file.Close()
	}
}

var (
	current atomic.Pointer[sink]

	// level lets SetLevel change verbosity without rebuilding handlers.
	level slog.LevelVar

	discard = slog.New(slog.NewJSONHandler(io.Discard, nil))
)

// ParseLevel maps a config string to a slog level. Unknown values yield info.
func ParseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Init (re)configures logging. Without a LogDir, records are discarded
// unless Debug is set.
func Init(cfg Config) {
	cfg.applyDefaults()

	lvl := ParseLevel(cfg.Level)
	if cfg.Debug && cfg.Level == "" {
		lvl = slog.LevelDebug
	}
	level.Set(lvl)

	s := &sink{ring: NewRecordRing(cfg.RingBufferSize)}
	var out io.Writer
	switch {
	case cfg.LogDir != "":
		s.file = &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, cfg.FileName),
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		out = io.MultiWriter(s.file, s.ring)
	case cfg.Debug:
		out = io.MultiWriter(os.Stderr, s.ring)
		cfg.Format = "text"
	}

	if out == nil {
		s.logger = discard
		s.agg = NewAggregator(nil, time.Duration(cfg.AggregateIntervalSecs)*time.Second)
	} else {
		opts := &slog.HandlerOptions{Level: &level}
		if cfg.Format == "text" {
			s.logger = slog.New(slog.NewTextHandler(out, opts))
		} else {
			s.logger = slog.New(slog.NewJSONHandler(out, opts))
		}
		s.agg = NewAggregator(s.logger, time.Duration(cfg.AggregateIntervalSecs)*time.Second)
		s.agg.Start()
	}

	if cfg.PprofAddr != "" {
		s.pprof = startPprof(cfg.PprofAddr, s.logger)
	}

	if old := current.Swap(s); old != nil {
		old.close()
	}
}

// SetLevel changes the minimum level of the running logger, e.g. after a
// config reload.
func SetLevel(name string) {
	level.Set(ParseLevel(name))
}

// Logger returns the configured logger. Safe to call before Init.
func Logger() *slog.Logger {
	if s := current.Load(); s != nil {
		return s.logger
	}
	return discard
}

// ForComponent returns a logger tagged with the component name. The
// handler is resolved at log time, so package-level loggers created before
// Init still reach the configured output.
func ForComponent(name string) *slog.Logger {
	return slog.New(&componentHandler{component: name})
}

// ForSession returns a session-component logger carrying session_id.
func ForSession(id string) *slog.Logger {
	return ForComponent(CompSession).With(slog.String("session_id", id))
}

// componentHandler defers to whatever logger is current when a record is
// handled. WithAttrs and WithGroup calls are replayed in order.
type componentHandler struct {
	component string
	ops       []func(slog.Handler) slog.Handler
}

func (h *componentHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return Logger().Handler().Enabled(ctx, l)
}

func (h *componentHandler) Handle(ctx context.Context, r slog.Record) error {
	handler := Logger().Handler().WithAttrs([]slog.Attr{slog.String("component", h.component)})
	for _, op := range h.ops {
		handler = op(handler)
	}
	return handler.Handle(ctx, r)
}

func (h *componentHandler) with(op func(slog.Handler) slog.Handler) *componentHandler {
	ops := make([]func(slog.Handler) slog.Handler, len(h.ops), len(h.ops)+1)
	copy(ops, h.ops)
	return &componentHandler{component: h.component, ops: append(ops, op)}
}

func (h *componentHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithAttrs(attrs) })
}

func (h *componentHandler) WithGroup(name string) slog.Handler {
	return h.with(func(next slog.Handler) slog.Handler { return next.WithGroup(name) })
}

// Aggregate records a high-frequency event for batched logging.
func Aggregate(component, event string, fields ...slog.Attr) {
	if s := current.Load(); s != nil {
		s.agg.Record(component, event, fields...)
	}
}

// AggregateCounts returns the events recorded since the last flush, keyed
// "component/event".
func AggregateCounts() map[string]int64 {
	if s := current.Load(); s != nil {
		return s.agg.Counts()
	}
	return map[string]int64{}
}

// DumpRingBuffer writes the retained records to path as JSONL.
func DumpRingBuffer(path string) error {
	s := current.Load()
	if s == nil {
		return nil
	}
	return s.ring.DumpToFile(path)
}

// Shutdown flushes the aggregator and closes writers. Later records are
// discarded until the next Init.
func Shutdown() {
	if s := current.Swap(nil); s != nil {
		s.close()
	}
}
