// Package config loads the daemon's config.toml from the data directory.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/term-deck/internal/grid"
	"github.com/asheshgoplani/term-deck/internal/logging"
	"github.com/asheshgoplani/term-deck/internal/shm"
	"github.com/asheshgoplani/term-deck/internal/vt"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

const (
	// FileName is the config file inside the data directory.
	FileName = "config.toml"
	// DBFileName is the default session store inside the data directory.
	DBFileName = "state.db"
	// LogsDirName holds daemon.log and crash dumps.
	LogsDirName = "logs"
	// DefaultListen is the control interface address.
	DefaultListen = "127.0.0.1:8420"
)

// Config is the root of config.toml.
type Config struct {
	Daemon   DaemonSettings   `toml:"daemon"`
	Terminal TerminalSettings `toml:"terminal"`
	Parser   ParserSettings   `toml:"parser"`
	Publish  PublishSettings  `toml:"publish"`
	Logs     LogSettings      `toml:"logs"`
}

// DaemonSettings configures the control interface and store.
type DaemonSettings struct {
	// Listen is the HTTP address (default: 127.0.0.1:8420)
	Listen string `toml:"listen"`

	// Token, when set, is required as a bearer token or ?token= parameter
	Token string `toml:"token"`

	// ReadOnly rejects input and mutating requests
	ReadOnly bool `toml:"read_only"`

	// DBPath overrides <data dir>/state.db
	DBPath string `toml:"db_path"`

	// DetachedMaxAgeHours removes sessions detached longer than this.
	// 0 disables cleanup.
	DetachedMaxAgeHours int `toml:"detached_max_age_hours"`
}

// TerminalSettings configures new sessions.
type TerminalSettings struct {
	// Shell is the program started in each PTY (default: $SHELL, then /bin/sh)
	Shell string `toml:"shell"`

	Cols int `toml:"cols"`
	Rows int `toml:"rows"`

	// ScrollbackLines caps retained history per session (default: 10000)
	ScrollbackLines int `toml:"scrollback_lines"`

	// MaxBlocks caps completed command blocks per session (default: 100)
	MaxBlocks int `toml:"max_blocks"`
}

// ParserSettings tunes the VT parser.
type ParserSettings struct {
	BatchCapacity  int `toml:"batch_capacity"`
	BatchThreshold int `toml:"batch_threshold"`
	CSICacheSize   int `toml:"csi_cache_size"`

	// CSICacheEnabled defaults to true when unset
	CSICacheEnabled *bool `toml:"csi_cache_enabled"`
}

// CacheEnabled reports whether the CSI cache is on.
func (p *ParserSettings) CacheEnabled() bool {
	if p.CSICacheEnabled == nil {
		return true
	}
	return *p.CSICacheEnabled
}

// PublishSettings configures shared-memory snapshots.
type PublishSettings struct {
	// ShmDir overrides $TERMDECK_SHMEM_DIR and /dev/shm
	ShmDir string `toml:"shm_dir"`

	// MaxFPS caps snapshot publishes per session per second (default: 120)
	MaxFPS int `toml:"max_fps"`

	// IdleFlushMs publishes pending state after this much PTY silence (default: 8)
	IdleFlushMs int `toml:"idle_flush_ms"`

	MaxCols int `toml:"max_cols"`
	MaxRows int `toml:"max_rows"`
}

// LogSettings mirrors logging.Config.
type LogSettings struct {
	// Level is "debug", "info" (default), "warn" or "error"
	Level string `toml:"level"`

	// Format is "json" (default) or "text"
	Format string `toml:"format"`

	MaxMB         int `toml:"max_mb"`
	Backups       int `toml:"backups"`
	RetentionDays int `toml:"retention_days"`

	// Compress defaults to true when unset
	Compress *bool `toml:"compress"`

	RingBufferMB int `toml:"ring_buffer_mb"`

	// Pprof is a listen address such as "localhost:6060"; empty disables it
	Pprof string `toml:"pprof"`

	AggregateIntervalS int `toml:"aggregate_interval_s"`
}

// Default returns a config with every default applied.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.Daemon.Listen == "" {
		c.Daemon.Listen = DefaultListen
	}

	if c.Terminal.Shell == "" {
		c.Terminal.Shell = os.Getenv("SHELL")
		if c.Terminal.Shell == "" {
			c.Terminal.Shell = "/bin/sh"
		}
	}
	if c.Terminal.Cols <= 0 {
		c.Terminal.Cols = 80
	}
	if c.Terminal.Rows <= 0 {
		c.Terminal.Rows = 24
	}
	if c.Terminal.ScrollbackLines <= 0 {
		c.Terminal.ScrollbackLines = grid.DefaultScrollbackLines
	}
	if c.Terminal.MaxBlocks <= 0 {
		c.Terminal.MaxBlocks = zones.DefaultMaxBlocks
	}

	if c.Parser.BatchCapacity <= 0 {
		c.Parser.BatchCapacity = vt.DefaultBatchCapacity
	}
	if c.Parser.BatchThreshold <= 0 || c.Parser.BatchThreshold > c.Parser.BatchCapacity {
		c.Parser.BatchThreshold = c.Parser.BatchCapacity * 3 / 4
	}
	if c.Parser.CSICacheSize <= 0 {
		c.Parser.CSICacheSize = vt.DefaultCacheSize
	}

	if c.Publish.MaxFPS <= 0 {
		c.Publish.MaxFPS = 120
	}
	if c.Publish.IdleFlushMs <= 0 {
		c.Publish.IdleFlushMs = 8
	}
	if c.Publish.MaxCols <= 0 {
		c.Publish.MaxCols = shm.DefaultMaxCols
	}
	if c.Publish.MaxRows <= 0 {
		c.Publish.MaxRows = shm.DefaultMaxRows
	}

	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	if c.Logs.Format == "" {
		c.Logs.Format = "json"
	}
	if c.Logs.MaxMB <= 0 {
		c.Logs.MaxMB = 10
	}
	if c.Logs.Backups <= 0 {
		c.Logs.Backups = 5
	}
	if c.Logs.RetentionDays <= 0 {
		c.Logs.RetentionDays = 10
	}
	if c.Logs.RingBufferMB <= 0 {
		c.Logs.RingBufferMB = 4
	}
	if c.Logs.AggregateIntervalS <= 0 {
		c.Logs.AggregateIntervalS = 30
	}
}

// ShmDir resolves the region directory.
func (c *Config) ShmDir() string {
	if c.Publish.ShmDir != "" {
		return c.Publish.ShmDir
	}
	return shm.DefaultDir()
}

// DBPath resolves the session store path.
func (c *Config) DBPath() (string, error) {
	if c.Daemon.DBPath != "" {
		return c.Daemon.DBPath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DBFileName), nil
}

// LoggingConfig converts the [logs] section for logging.Init.
// TERMDECK_DEBUG forces debug level when no level was configured.
func (c *Config) LoggingConfig(logDir string) logging.Config {
	compress := true
	if c.Logs.Compress != nil {
		compress = *c.Logs.Compress
	}
	return logging.Config{
		LogDir:                logDir,
		Level:                 c.Logs.Level,
		Format:                c.Logs.Format,
		MaxSizeMB:             c.Logs.MaxMB,
		MaxBackups:            c.Logs.Backups,
		MaxAgeDays:            c.Logs.RetentionDays,
		Compress:              compress,
		RingBufferSize:        c.Logs.RingBufferMB * 1024 * 1024,
		AggregateIntervalSecs: c.Logs.AggregateIntervalS,
		PprofAddr:             c.Logs.Pprof,
		Debug:                 os.Getenv("TERMDECK_DEBUG") != "",
	}
}

// TerminalOptions converts the [terminal] and [parser] sections for a
// session of the given size.
func (c *Config) TerminalOptions(cols, rows int) vt.Options {
	return vt.Options{
		Cols:            cols,
		Rows:            rows,
		ScrollbackLines: c.Terminal.ScrollbackLines,
		MaxBlocks:       c.Terminal.MaxBlocks,
		BatchCapacity:   c.Parser.BatchCapacity,
		BatchThreshold:  c.Parser.BatchThreshold,
		CacheSize:       c.Parser.CSICacheSize,
		DisableCache:    !c.Parser.CacheEnabled(),
	}
}

// Dir returns the data directory: $TERMDECK_HOME, else ~/.term-deck.
func Dir() (string, error) {
	if dir := os.Getenv("TERMDECK_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".term-deck"), nil
}

// Path returns the config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

// Cache for the loaded config (loaded once per process)
var (
	cache   *Config
	cacheMu sync.RWMutex
)

// Load returns the cached config, reading config.toml on first use.
// A missing file yields defaults. A parse error yields defaults plus the
// error; the defaults are cached so the file is not re-parsed every call.
func Load() (*Config, error) {
	cacheMu.RLock()
	if cache != nil {
		defer cacheMu.RUnlock()
		return cache, nil
	}
	cacheMu.RUnlock()

	cacheMu.Lock()
	defer cacheMu.Unlock()

	// Double-check after acquiring write lock
	if cache != nil {
		return cache, nil
	}

	path, err := Path()
	if err != nil {
		cache = Default()
		return cache, nil
	}
	cfg, err := LoadFile(path)
	cache = cfg
	return cache, err
}

// LoadFile decodes one file without touching the cache.
func LoadFile(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), fmt.Errorf("config.toml parse error: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Reload drops the cache and reads the file again.
func Reload() (*Config, error) {
	ClearCache()
	return Load()
}

// ClearCache forgets the cached config. The next Load reads from disk.
func ClearCache() {
	cacheMu.Lock()
	cache = nil
	cacheMu.Unlock()
}

// Save writes cfg to config.toml: temp file, fsync, rename.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	if err := SaveFile(path, cfg); err != nil {
		return err
	}
	ClearCache()
	return nil
}

// SaveFile atomically writes cfg to path.
func SaveFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("# term-deck daemon configuration\n\n")
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := syncFile(tmpPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize config save: %w", err)
	}
	return nil
}

func syncFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
