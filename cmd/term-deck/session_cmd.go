package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/asheshgoplani/term-deck/internal/config"
	"github.com/asheshgoplani/term-deck/internal/session"
	"github.com/asheshgoplani/term-deck/internal/zones"
)

// Table column widths for list output
const (
	tableColName    = 24
	tableColID      = 8
	tableColSize    = 9
	tableColClients = 7
	tableColAge     = 10
)

// parseArgs parses args into fs. ok is false when help was requested.
func parseArgs(fs *flag.FlagSet, args []string) (ok bool, err error) {
	if err := fs.Parse(normalizeArgs(fs, args)); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func newFlagSet(name, usage string, examples ...string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Printf("Usage: term-deck %s\n", usage)
		fmt.Println()
		fmt.Println("Options:")
		fs.PrintDefaults()
		if len(examples) > 0 {
			fmt.Println()
			fmt.Println("Examples:")
			for _, ex := range examples {
				fmt.Println("  " + ex)
			}
		}
	}
	return fs
}

func requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), clientTimeout)
}

func handleStatus(g globalFlags, args []string) error {
	fs := newFlagSet("status", "status [--json]")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	h, err := newAPIClient(g).Health(ctx)
	if err != nil {
		return err
	}
	mode := "read-write"
	if h.ReadOnly {
		mode = "read-only"
	}
	return newPrinter(*jsonOutput, false).show(
		fmt.Sprintf("%s daemon v%s at %s (%s), %d sessions\n",
			successStyle.Render(successSymbol), h.Version, g.Addr, mode, h.Sessions),
		h)
}

func handleList(g globalFlags, args []string) error {
	fs := newFlagSet("list", "list [--json]", "term-deck list", "term-deck ls --json")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	list, err := newAPIClient(g).List(ctx)
	if err != nil {
		return err
	}

	if len(list.Sessions) == 0 && !*jsonOutput {
		fmt.Println("No sessions.")
		return nil
	}
	return newPrinter(*jsonOutput, false).show(renderSessionTable(list.Sessions, time.Now()), list)
}

// renderSessionTable formats sessions as an aligned table, default first
// marker included.
func renderSessionTable(sessions []session.Summary, now time.Time) string {
	var sb strings.Builder
	header := "  " + pad("NAME", tableColName) + " " +
		pad("ID", tableColID) + " " +
		pad("SIZE", tableColSize) + " " +
		pad("CLIENTS", tableColClients) + " " +
		pad("ATTACHED", tableColAge) + " STATE"
	sb.WriteString(headerStyle.Render(header))
	sb.WriteString("\n")

	for _, s := range sessions {
		marker := "  "
		if s.Default {
			marker = accentStyle.Render(defaultSymbol) + " "
		}
		state := successStyle.Render("running")
		if s.Exited {
			state = dimStyle.Render("exited")
		}
		fmt.Fprintf(&sb, "%s%s %s %s %s %s %s\n",
			marker,
			pad(truncate(s.Name, tableColName), tableColName),
			pad(shortID(s.ID), tableColID),
			pad(fmt.Sprintf("%dx%d", s.Cols, s.Rows), tableColSize),
			pad(strconv.Itoa(s.Clients), tableColClients),
			pad(formatAge(s.LastAttached, now), tableColAge),
			state)
	}
	fmt.Fprintf(&sb, "\nTotal: %d sessions\n", len(sessions))
	return sb.String()
}

func handleCreate(g globalFlags, args []string) error {
	fs := newFlagSet("create", "create [name] [--cols N] [--rows N]",
		"term-deck create", "term-deck new build --cols 120 --rows 40")
	cols := fs.Int("cols", 0, "Columns (default from config)")
	rows := fs.Int("rows", 0, "Rows (default from config)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	quiet := fs.Bool("q", false, "Print nothing on success")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}
	if fs.NArg() > 1 {
		return fmt.Errorf("unexpected arguments: %v", fs.Args()[1:])
	}

	ctx, cancel := requestContext()
	defer cancel()
	s, err := newAPIClient(g).Create(ctx, fs.Arg(0), *cols, *rows)
	if err != nil {
		return err
	}
	return newPrinter(*jsonOutput, *quiet).done(
		fmt.Sprintf("Created %s (%s, %dx%d)", s.Name, shortID(s.ID), s.Cols, s.Rows), s)
}

func handleDelete(g globalFlags, args []string) error {
	fs := newFlagSet("delete", "delete <session>")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("session is required")
	}

	ctx, cancel := requestContext()
	defer cancel()
	if err := newAPIClient(g).Delete(ctx, fs.Arg(0)); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("no session matches %q", fs.Arg(0))
		}
		return err
	}
	return newPrinter(*jsonOutput, false).done("Deleted "+fs.Arg(0),
		map[string]any{"success": true, "session": fs.Arg(0)})
}

func handleRename(g globalFlags, args []string) error {
	fs := newFlagSet("rename", "rename <session> <new-name>")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return errors.New("session and new name are required")
	}

	ctx, cancel := requestContext()
	defer cancel()
	s, err := newAPIClient(g).Rename(ctx, fs.Arg(0), fs.Arg(1))
	if err != nil {
		return err
	}
	return newPrinter(false, false).done(fmt.Sprintf("Renamed %s to %s", shortID(s.ID), s.Name), s)
}

func handleResize(g globalFlags, args []string) error {
	fs := newFlagSet("resize", "resize <session> <cols> <rows>")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}
	if fs.NArg() != 3 {
		fs.Usage()
		return errors.New("session, cols and rows are required")
	}
	cols, err1 := strconv.Atoi(fs.Arg(1))
	rows, err2 := strconv.Atoi(fs.Arg(2))
	if err1 != nil || err2 != nil {
		return fmt.Errorf("cols and rows must be integers")
	}

	ctx, cancel := requestContext()
	defer cancel()
	s, err := newAPIClient(g).Resize(ctx, fs.Arg(0), cols, rows)
	if err != nil {
		return err
	}
	return newPrinter(false, false).done(fmt.Sprintf("Resized %s to %dx%d", s.Name, s.Cols, s.Rows), s)
}

func handleSetDefault(g globalFlags, args []string) error {
	fs := newFlagSet("default", "default <session>")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errors.New("session is required")
	}

	ctx, cancel := requestContext()
	defer cancel()
	s, err := newAPIClient(g).SetDefault(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return newPrinter(false, false).done(s.Name+" is now the default session", s)
}

func handleSend(g globalFlags, args []string) error {
	fs := newFlagSet("send", "send <session> <text...> [--no-enter]",
		`term-deck send build "make test"`)
	noEnter := fs.Bool("no-enter", false, "Do not append a newline")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}
	if fs.NArg() < 2 {
		fs.Usage()
		return errors.New("session and text are required")
	}
	text := strings.Join(fs.Args()[1:], " ")
	if !*noEnter {
		text += "\r"
	}

	ctx, cancel := requestContext()
	defer cancel()
	return newAPIClient(g).Input(ctx, fs.Arg(0), text)
}

func handleScreen(g globalFlags, args []string) error {
	fs := newFlagSet("screen", "screen [session] [--json]")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	sc, err := newAPIClient(g).Screen(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return newPrinter(*jsonOutput, false).show(strings.TrimRight(strings.Join(sc.Lines, "\n"), "\n")+"\n", sc)
}

func handleBlocks(g globalFlags, args []string) error {
	fs := newFlagSet("blocks", "blocks [session] [--limit N] [--json]",
		"term-deck blocks", "term-deck blocks build --limit 5")
	limit := fs.Int("limit", 20, "Show at most N most recent blocks (0 = all)")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	bl, err := newAPIClient(g).Blocks(ctx, fs.Arg(0), *limit)
	if err != nil {
		return err
	}
	if len(bl.Blocks) == 0 && !*jsonOutput {
		fmt.Println("No finished commands. Shell integration (OSC 133) must be enabled in the shell.")
		return nil
	}
	return newPrinter(*jsonOutput, false).show(renderBlocks(bl.Blocks), bl)
}

// renderBlocks formats command blocks oldest first.
func renderBlocks(blocks []*zones.CommandBlock) string {
	var sb strings.Builder
	sb.WriteString(headerStyle.Render(pad("ID", 6)+" "+pad("EXIT", 5)+" "+pad("TIME", 9)+" "+pad("LINES", 11)+" COMMAND") + "\n")
	for _, b := range blocks {
		exit := dimStyle.Render(pad("-", 5))
		if code := b.ExitCode(); code != nil {
			style := successStyle
			if *code != 0 {
				style = errorStyle
			}
			exit = style.Render(pad(strconv.Itoa(*code), 5))
		}
		cmd := b.Command()
		if cmd == "" {
			cmd = dimStyle.Render("(unknown)")
		}
		fmt.Fprintf(&sb, "%s %s %s %s %s\n",
			pad(strconv.FormatUint(b.ID, 10), 6),
			exit,
			pad(b.Duration.Round(time.Millisecond).String(), 9),
			pad(fmt.Sprintf("%d-%d", b.StartRow, b.EndRow), 11),
			truncate(cmd, 60))
	}
	return sb.String()
}

func handleOutput(g globalFlags, args []string) error {
	fs := newFlagSet("output", "output [session] [--json]")
	jsonOutput := fs.Bool("json", false, "Output as JSON")
	if ok, err := parseArgs(fs, args); !ok {
		return err
	}

	ctx, cancel := requestContext()
	defer cancel()
	out, err := newAPIClient(g).Output(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	if !out.Found && !*jsonOutput {
		return errors.New("no finished command output")
	}
	return newPrinter(*jsonOutput, false).show(out.Text+"\n", out)
}

func handleConfig(args []string) error {
	sub := "show"
	if len(args) > 0 {
		sub = args[0]
	}
	path, err := config.Path()
	if err != nil {
		return err
	}

	switch sub {
	case "path":
		fmt.Println(path)
		return nil
	case "show":
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		return toml.NewEncoder(os.Stdout).Encode(cfg)
	case "init":
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := config.Save(config.Default()); err != nil {
			return err
		}
		return newPrinter(false, false).done("Wrote "+path, nil)
	default:
		return fmt.Errorf("unknown config command %q (want path, show or init)", sub)
	}
}
