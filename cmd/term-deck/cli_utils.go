package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// normalizeArgs moves flags ahead of positional arguments so that
// "blocks build --json" parses --json. Everything after "--" is positional.
func normalizeArgs(fs *flag.FlagSet, args []string) []string {
	takesValue := func(name string) bool {
		f := fs.Lookup(name)
		if f == nil {
			return true
		}
		b, ok := f.Value.(interface{ IsBoolFlag() bool })
		return !ok || !b.IsBoolFlag()
	}

	flags := make([]string, 0, len(args))
	var positional []string
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--":
			positional = append(positional, args[i+1:]...)
			return append(flags, positional...)
		case len(a) < 2 || a[0] != '-':
			positional = append(positional, a)
		default:
			flags = append(flags, a)
			name := strings.TrimLeft(a, "-")
			if !strings.Contains(name, "=") && takesValue(name) && i+1 < len(args) {
				i++
				flags = append(flags, args[i])
			}
		}
	}
	return append(flags, positional...)
}

// firstNonEmpty returns the first non-empty string after trimming whitespace.
func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// printer writes command results either for humans or as indented JSON.
type printer struct {
	w     io.Writer
	json  bool
	quiet bool
}

func newPrinter(jsonMode, quiet bool) *printer {
	return &printer{w: os.Stdout, json: jsonMode, quiet: quiet}
}

// done reports a completed mutation.
func (p *printer) done(message string, v any) error {
	return p.show(fmt.Sprintf("%s %s\n", successStyle.Render(successSymbol), message), v)
}

// show writes human, or v when in JSON mode.
func (p *printer) show(human string, v any) error {
	switch {
	case p.quiet:
		return nil
	case p.json:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		_, err := io.WriteString(p.w, human)
		return err
	}
}

const (
	successSymbol = "✓"
	errorSymbol   = "✕"
	defaultSymbol = "●"
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	accentStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
)

// truncate shortens s to max display columns, marking the cut with "…".
func truncate(s string, max int) string {
	if runewidth.StringWidth(s) <= max {
		return s
	}
	return runewidth.Truncate(s, max, "…")
}

// pad right-pads s to width display columns.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}

// shortID returns the first 8 characters of an id.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// formatAge renders how long ago t was, coarsely.
func formatAge(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
