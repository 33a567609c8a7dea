package session

import (
	"time"

	"github.com/asheshgoplani/term-deck/internal/config"
	"github.com/asheshgoplani/term-deck/internal/shm"
	"github.com/asheshgoplani/term-deck/internal/vt"
)

// Options configures every session a Manager spawns.
type Options struct {
	// Shell and ShellArgs are started in each PTY.
	Shell     string
	ShellArgs []string

	// Cols and Rows are used when a create request leaves them unset.
	Cols int
	Rows int

	// Terminal is the template for each session's terminal. Cols, Rows,
	// Responder and Clock are filled in per session.
	Terminal vt.Options

	// ShmDir holds one region per session. MaxCols and MaxRows bound
	// the region and therefore the largest allowed size.
	ShmDir  string
	MaxCols int
	MaxRows int

	// MaxFPS caps publishes per second; IdleFlush publishes pending state
	// after this much PTY silence.
	MaxFPS    int
	IdleFlush time.Duration

	// Clock stamps zones and attach times. Defaults to time.Now.
	Clock func() time.Time
}

// OptionsFromConfig builds session options from the daemon config.
func OptionsFromConfig(c *config.Config) Options {
	return Options{
		Shell:     c.Terminal.Shell,
		Cols:      c.Terminal.Cols,
		Rows:      c.Terminal.Rows,
		Terminal:  c.TerminalOptions(c.Terminal.Cols, c.Terminal.Rows),
		ShmDir:    c.ShmDir(),
		MaxCols:   c.Publish.MaxCols,
		MaxRows:   c.Publish.MaxRows,
		MaxFPS:    c.Publish.MaxFPS,
		IdleFlush: time.Duration(c.Publish.IdleFlushMs) * time.Millisecond,
	}
}

func (o *Options) applyDefaults() {
	if o.Shell == "" {
		o.Shell = "/bin/sh"
	}
	if o.Cols <= 0 {
		o.Cols = 80
	}
	if o.Rows <= 0 {
		o.Rows = 24
	}
	if o.ShmDir == "" {
		o.ShmDir = shm.DefaultDir()
	}
	if o.MaxCols <= 0 {
		o.MaxCols = shm.DefaultMaxCols
	}
	if o.MaxRows <= 0 {
		o.MaxRows = shm.DefaultMaxRows
	}
	if o.MaxFPS <= 0 {
		o.MaxFPS = 120
	}
	if o.IdleFlush <= 0 {
		o.IdleFlush = 8 * time.Millisecond
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}
