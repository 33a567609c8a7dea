package session

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// terminateGrace is how long a shell gets to exit after SIGHUP.
const terminateGrace = 2 * time.Second

// spawnShell starts shell in a new PTY sized cols x rows. The child gets
// its own session (and process group) so it can be signalled as a whole.
func spawnShell(shell string, args []string, sessionID string, cols, rows int) (*exec.Cmd, *os.File, error) {
	if shell == "" {
		return nil, nil, fmt.Errorf("start pty: no shell configured")
	}
	cmd := exec.Command(shell, args...)
	cmd.Env = append(environWithout(os.Environ(), "TERM", "TERMDECK_SESSION"),
		"TERM=xterm-256color",
		"TERMDECK_SESSION="+sessionID,
	)
	if home, err := os.UserHomeDir(); err == nil {
		cmd.Dir = home
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
	if err != nil {
		return nil, nil, fmt.Errorf("start pty: %w", err)
	}
	return cmd, ptmx, nil
}

// setSize propagates a new window size to the PTY.
func setSize(ptmx *os.File, cols, rows int) error {
	return pty.Setsize(ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// signalGroup sends sig to the child's process group, falling back to
// the process itself.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	if pgid, err := syscall.Getpgid(cmd.Process.Pid); err == nil {
		_ = syscall.Kill(-pgid, sig)
		return
	}
	_ = cmd.Process.Signal(sig)
}

// isPTYClosed reports errors that mean the other side of the PTY is gone.
// Linux reports EIO once the child closes its end.
func isPTYClosed(err error) bool {
	return errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO)
}

func environWithout(env []string, keys ...string) []string {
	filtered := make([]string, 0, len(env))
outer:
	for _, kv := range env {
		for _, k := range keys {
			if strings.HasPrefix(kv, k+"=") {
				continue outer
			}
		}
		filtered = append(filtered, kv)
	}
	return filtered
}
