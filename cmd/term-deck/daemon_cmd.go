package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/asheshgoplani/term-deck/internal/config"
	"github.com/asheshgoplani/term-deck/internal/logging"
	"github.com/asheshgoplani/term-deck/internal/platform"
	"github.com/asheshgoplani/term-deck/internal/session"
	"github.com/asheshgoplani/term-deck/internal/statedb"
	"github.com/asheshgoplani/term-deck/internal/web"
)

const (
	heartbeatInterval = 10 * time.Second
	daemonTimeout     = 30 * time.Second
	cleanupInterval   = 5 * time.Minute
	shutdownTimeout   = 5 * time.Second
)

// runDaemon runs the session daemon in the foreground until SIGINT or
// SIGTERM. SIGUSR1 dumps the in-memory log ring buffer.
func runDaemon(_ globalFlags, args []string) error {
	fs := newFlagSet("daemon", "daemon [--listen addr] [--token T] [--read-only] [--config path]")
	listen := fs.String("listen", "", "Listen address (default from config, then "+config.DefaultListen+")")
	token := fs.String("token", "", "Require this bearer token")
	readOnly := fs.Bool("read-only", false, "Reject input and mutating requests")
	configPath := fs.String("config", "", "Config file (default <data dir>/config.toml)")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	cfg, cfgFile, err := loadDaemonConfig(*configPath)
	if err != nil {
		return err
	}
	cfg.Daemon.Listen = firstNonEmpty(*listen, os.Getenv("TERMDECK_ADDR"), cfg.Daemon.Listen)
	cfg.Daemon.Token = firstNonEmpty(*token, os.Getenv("TERMDECK_TOKEN"), cfg.Daemon.Token)
	cfg.Daemon.ReadOnly = cfg.Daemon.ReadOnly || *readOnly

	dataDir, err := config.Dir()
	if err != nil {
		return err
	}
	logDir := filepath.Join(dataDir, config.LogsDirName)
	logging.Init(cfg.LoggingConfig(logDir))
	defer logging.Shutdown()
	daemonLog := logging.ForComponent(logging.CompDaemon)

	host := platform.Detect()
	if !host.SupportsPTY() {
		return fmt.Errorf("the daemon cannot spawn terminals on %s", host)
	}
	if shmDir := cfg.ShmDir(); !platform.IsMemoryBacked(shmDir) {
		daemonLog.Warn("shm_dir_not_memory_backed",
			slog.String("dir", shmDir),
			slog.String("fs", platform.FilesystemType(shmDir)))
	}

	dbPath, err := cfg.DBPath()
	if err != nil {
		return err
	}
	db, err := openStore(dbPath)
	if err != nil {
		return err
	}
	defer func() {
		_ = db.ResignPrimary()
		_ = db.UnregisterDaemon()
		_ = db.Close()
	}()

	mgr := session.NewManager(db, session.OptionsFromConfig(cfg))
	defer func() {
		if err := mgr.Shutdown(); err != nil {
			daemonLog.Warn("shutdown_error", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	restored, err := mgr.RestoreSessions(ctx)
	if err != nil {
		daemonLog.Warn("restore_failed", slog.String("error", err.Error()))
	}
	if mgr.SessionCount() == 0 {
		if _, err := mgr.CreateSession(ctx, "", 0, 0); err != nil {
			return fmt.Errorf("create initial session: %w", err)
		}
	}
	daemonLog.Info("daemon_started",
		slog.String("version", Version),
		slog.String("platform", host.String()),
		slog.String("db", dbPath),
		slog.Int("restored", restored),
		slog.Int("pid", os.Getpid()))

	server := web.NewServer(web.Config{
		ListenAddr: cfg.Daemon.Listen,
		ReadOnly:   cfg.Daemon.ReadOnly,
		Token:      cfg.Daemon.Token,
		Version:    Version,
		Manager:    mgr,
		ErrorLog:   log.New(logging.NewBridgeWriter(logging.CompWeb), "", 0),
	})

	fmt.Printf("%s term-deck daemon listening on %s\n", successStyle.Render(successSymbol), cfg.Daemon.Listen)

	grp, gctx := errgroup.WithContext(ctx)
	grp.Go(server.Start)
	grp.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	grp.Go(func() error {
		return watchConfig(gctx, cfgFile, mgr)
	})
	grp.Go(func() error {
		runHeartbeat(gctx, db)
		return nil
	})
	if hours := cfg.Daemon.DetachedMaxAgeHours; hours > 0 {
		grp.Go(func() error {
			runDetachedCleanup(gctx, mgr, time.Duration(hours)*time.Hour)
			return nil
		})
	}
	grp.Go(func() error {
		dumpOnSignal(gctx, logDir)
		return nil
	})

	err = grp.Wait()
	daemonLog.Info("daemon_stopping")
	return err
}

// loadDaemonConfig reads an explicit config file or the cached default one.
// It returns the path that should be watched for changes.
func loadDaemonConfig(path string) (*config.Config, string, error) {
	if path != "" {
		cfg, err := config.LoadFile(path)
		if err != nil {
			return nil, "", err
		}
		return cfg, path, nil
	}
	path, err := config.Path()
	if err != nil {
		return nil, "", err
	}
	cfg, err := config.Load()
	if err != nil {
		// Defaults are returned with the parse error; keep going.
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	return cfg, path, nil
}

// openStore opens and migrates the session store, then claims the primary
// daemon slot.
func openStore(dbPath string) (*statedb.StateDB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := statedb.Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := db.RegisterDaemon(); err != nil {
		db.Close()
		return nil, err
	}
	primary, err := db.ElectPrimary(daemonTimeout)
	if err != nil {
		_ = db.UnregisterDaemon()
		db.Close()
		return nil, err
	}
	if !primary {
		_ = db.UnregisterDaemon()
		db.Close()
		return nil, errors.New("another term-deck daemon is already running against " + dbPath)
	}
	return db, nil
}

func watchConfig(ctx context.Context, path string, mgr *session.Manager) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	if warning := platform.CheckFsnotifySupport(path); warning != "" {
		logging.ForComponent(logging.CompConfig).Warn("config_watch_unreliable",
			slog.String("path", path), slog.String("reason", warning))
	}
	w, err := config.NewWatcher(path, func(c *config.Config) {
		logging.SetLevel(c.Logs.Level)
		mgr.SetMaxFPS(c.Publish.MaxFPS)
	})
	if err != nil {
		// Hot reload is optional.
		logging.ForComponent(logging.CompConfig).Warn("config_watch_unavailable",
			slog.String("path", path), slog.String("error", err.Error()))
		return nil
	}
	return w.Run(ctx)
}

func runHeartbeat(ctx context.Context, db *statedb.StateDB) {
	storeLog := logging.ForComponent(logging.CompStorage)
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := db.Heartbeat(); err != nil {
				storeLog.Warn("heartbeat_failed", slog.String("error", err.Error()))
			}
			if err := db.CleanDeadDaemons(daemonTimeout); err != nil {
				storeLog.Warn("clean_dead_daemons_failed", slog.String("error", err.Error()))
			}
			if n, err := db.AliveDaemonCount(daemonTimeout); err == nil && n > 1 {
				storeLog.Warn("other_daemons_alive", slog.Int("count", n))
			}
		}
	}
}

func runDetachedCleanup(ctx context.Context, mgr *session.Manager, maxAge time.Duration) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := mgr.CleanupDetachedSessions(maxAge); err != nil {
				logging.ForComponent(logging.CompSession).Warn("detached_cleanup_failed",
					slog.String("error", err.Error()))
			}
		}
	}
}

// dumpOnSignal writes the log ring buffer to logs/crash-dump-<unix>.jsonl on
// each SIGUSR1.
func dumpOnSignal(ctx context.Context, logDir string) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGUSR1)
	defer signal.Stop(sigCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			path := filepath.Join(logDir, fmt.Sprintf("crash-dump-%d.jsonl", time.Now().Unix()))
			if err := logging.DumpRingBuffer(path); err != nil {
				logging.ForComponent(logging.CompDaemon).Warn("ring_dump_failed", slog.String("error", err.Error()))
				continue
			}
			logging.ForComponent(logging.CompDaemon).Info("ring_dumped", slog.String("path", path))
		}
	}
}
