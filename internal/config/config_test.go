package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asheshgoplani/term-deck/internal/grid"
	"github.com/asheshgoplani/term-deck/internal/shm"
	"github.com/asheshgoplani/term-deck/internal/vt"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

func setHome(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("TERMDECK_HOME", dir)
	ClearCache()
	t.Cleanup(ClearCache)
	return dir
}

func TestDefaults(t *testing.T) {
	t.Setenv("SHELL", "/bin/zsh")
	c := Default()

	assert.Equal(t, DefaultListen, c.Daemon.Listen)
	assert.Equal(t, "/bin/zsh", c.Terminal.Shell)
	assert.Equal(t, 80, c.Terminal.Cols)
	assert.Equal(t, 24, c.Terminal.Rows)
	assert.Equal(t, grid.DefaultScrollbackLines, c.Terminal.ScrollbackLines)
	assert.Equal(t, zones.DefaultMaxBlocks, c.Terminal.MaxBlocks)
	assert.Equal(t, vt.DefaultBatchCapacity, c.Parser.BatchCapacity)
	assert.Equal(t, vt.DefaultBatchThreshold, c.Parser.BatchThreshold)
	assert.Equal(t, vt.DefaultCacheSize, c.Parser.CSICacheSize)
	assert.True(t, c.Parser.CacheEnabled())
	assert.Equal(t, 120, c.Publish.MaxFPS)
	assert.Equal(t, 8, c.Publish.IdleFlushMs)
	assert.Equal(t, shm.DefaultMaxCols, c.Publish.MaxCols)
	assert.Equal(t, shm.DefaultMaxRows, c.Publish.MaxRows)
	assert.Equal(t, "info", c.Logs.Level)
	assert.Equal(t, "json", c.Logs.Format)
}

func TestShellFallback(t *testing.T) {
	t.Setenv("SHELL", "")
	assert.Equal(t, "/bin/sh", Default().Terminal.Shell)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	setHome(t)

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultListen, c.Daemon.Listen)

	again, err := Load()
	require.NoError(t, err)
	assert.Same(t, c, again, "second load comes from the cache")
}

func TestLoadFile(t *testing.T) {
	home := setHome(t)
	path := filepath.Join(home, FileName)
	require.NoError(t, os.WriteFile(path, []byte(`
[daemon]
listen = "0.0.0.0:9000"
token = "secret"
read_only = true

[terminal]
shell = "/bin/bash"
cols = 132
rows = 50

[parser]
batch_capacity = 1024
batch_threshold = 4096
csi_cache_enabled = false

[publish]
max_fps = 30

[logs]
level = "debug"
compress = false
pprof = "localhost:6060"
`), 0o600))

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", c.Daemon.Listen)
	assert.Equal(t, "secret", c.Daemon.Token)
	assert.True(t, c.Daemon.ReadOnly)
	assert.Equal(t, "/bin/bash", c.Terminal.Shell)
	assert.Equal(t, 132, c.Terminal.Cols)
	assert.Equal(t, 50, c.Terminal.Rows)
	assert.Equal(t, 1024, c.Parser.BatchCapacity)
	assert.Equal(t, 768, c.Parser.BatchThreshold, "threshold above capacity is reset")
	assert.False(t, c.Parser.CacheEnabled())
	assert.Equal(t, 30, c.Publish.MaxFPS)
	assert.Equal(t, 8, c.Publish.IdleFlushMs, "unset keys keep defaults")

	opts := c.TerminalOptions(100, 30)
	assert.Equal(t, 100, opts.Cols)
	assert.Equal(t, 30, opts.Rows)
	assert.True(t, opts.DisableCache)
	assert.Equal(t, 1024, opts.BatchCapacity)

	lc := c.LoggingConfig("/tmp/logs")
	assert.Equal(t, "debug", lc.Level)
	assert.False(t, lc.Compress)
	assert.Equal(t, "localhost:6060", lc.PprofAddr)
	assert.Equal(t, 4*1024*1024, lc.RingBufferSize)
}

func TestLoadParseError(t *testing.T) {
	home := setHome(t)
	require.NoError(t, os.WriteFile(filepath.Join(home, FileName), []byte("[daemon\nlisten="), 0o600))

	c, err := Load()
	require.Error(t, err)
	require.NotNil(t, c)
	assert.Equal(t, DefaultListen, c.Daemon.Listen)
}

func TestSaveReload(t *testing.T) {
	home := setHome(t)

	c := Default()
	c.Daemon.Token = "abc"
	c.Terminal.Cols = 100
	require.NoError(t, Save(c))

	_, err := os.Stat(filepath.Join(home, FileName+".tmp"))
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")

	got, err := Reload()
	require.NoError(t, err)
	assert.Equal(t, "abc", got.Daemon.Token)
	assert.Equal(t, 100, got.Terminal.Cols)
}

func TestPaths(t *testing.T) {
	home := setHome(t)

	p, err := Path()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, FileName), p)

	c := Default()
	db, err := c.DBPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, DBFileName), db)

	c.Daemon.DBPath = "/var/lib/td.db"
	db, err = c.DBPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/td.db", db)

	c.Publish.ShmDir = "/run/td"
	assert.Equal(t, "/run/td", c.ShmDir())
}

func TestWatcherReloads(t *testing.T) {
	home := setHome(t)
	path := filepath.Join(home, FileName)
	require.NoError(t, os.WriteFile(path, []byte("[publish]\nmax_fps = 10\n"), 0o600))

	changes := make(chan *Config, 4)
	w, err := NewWatcher(path, func(c *Config) { changes <- c })
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// Several writes inside the debounce window collapse into one reload.
	for _, fps := range []string{"20", "30", "60"} {
		require.NoError(t, os.WriteFile(path, []byte("[publish]\nmax_fps = "+fps+"\n"), 0o600))
	}

	select {
	case c := <-changes:
		assert.Equal(t, 60, c.Publish.MaxFPS)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not reload")
	}

	cached, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60, cached.Publish.MaxFPS)
}
