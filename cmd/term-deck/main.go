package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/asheshgoplani/term-deck/internal/config"
)

const Version = "0.3.0"

// init sets up color profile for consistent terminal colors across environments
func init() {
	initColorProfile()
}

// initColorProfile configures the lipgloss color profile.
// TERMDECK_COLOR overrides detection: truecolor, 256, 16, none.
func initColorProfile() {
	if colorEnv := os.Getenv("TERMDECK_COLOR"); colorEnv != "" {
		switch strings.ToLower(colorEnv) {
		case "truecolor", "true", "24bit":
			lipgloss.SetColorProfile(termenv.TrueColor)
			return
		case "256", "ansi256":
			lipgloss.SetColorProfile(termenv.ANSI256)
			return
		case "16", "ansi", "basic":
			lipgloss.SetColorProfile(termenv.ANSI)
			return
		case "none", "off", "ascii":
			lipgloss.SetColorProfile(termenv.Ascii)
			return
		}
	}

	if os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
		return
	}

	colorTerm := os.Getenv("COLORTERM")
	if colorTerm == "truecolor" || colorTerm == "24bit" {
		lipgloss.SetColorProfile(termenv.TrueColor)
		return
	}

	// Fall back to whatever the output stream supports.
	lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
}

func main() {
	global, args := extractGlobalFlags(os.Args[1:])

	if len(args) == 0 {
		printHelp()
		os.Exit(1)
	}

	var err error
	switch args[0] {
	case "version", "--version", "-v":
		fmt.Printf("term-deck v%s\n", Version)
		return
	case "help", "--help", "-h":
		printHelp()
		return
	case "daemon":
		err = runDaemon(global, args[1:])
	case "status":
		err = handleStatus(global, args[1:])
	case "list", "ls":
		err = handleList(global, args[1:])
	case "create", "new":
		err = handleCreate(global, args[1:])
	case "delete", "rm":
		err = handleDelete(global, args[1:])
	case "rename":
		err = handleRename(global, args[1:])
	case "resize":
		err = handleResize(global, args[1:])
	case "default":
		err = handleSetDefault(global, args[1:])
	case "send":
		err = handleSend(global, args[1:])
	case "screen":
		err = handleScreen(global, args[1:])
	case "blocks":
		err = handleBlocks(global, args[1:])
	case "output":
		err = handleOutput(global, args[1:])
	case "attach", "a":
		err = handleAttach(global, args[1:])
	case "config":
		err = handleConfig(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		printHelp()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %s\n", errorStyle.Render(errorSymbol), err)
		os.Exit(1)
	}
}

// globalFlags holds options accepted before any subcommand.
type globalFlags struct {
	Addr  string
	Token string
}

// extractGlobalFlags pulls --addr and --token out of args, returning them
// with the remaining args. Unset values fall back to TERMDECK_ADDR,
// TERMDECK_TOKEN and then config.toml.
func extractGlobalFlags(args []string) (globalFlags, []string) {
	var g globalFlags
	var remaining []string

	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--addr" || arg == "--token":
			if i+1 < len(args) {
				if arg == "--addr" {
					g.Addr = args[i+1]
				} else {
					g.Token = args[i+1]
				}
				i++
			}
		case strings.HasPrefix(arg, "--addr="):
			g.Addr = strings.TrimPrefix(arg, "--addr=")
		case strings.HasPrefix(arg, "--token="):
			g.Token = strings.TrimPrefix(arg, "--token=")
		default:
			remaining = append(remaining, arg)
		}
	}

	g.Addr = firstNonEmpty(g.Addr, os.Getenv("TERMDECK_ADDR"))
	g.Token = firstNonEmpty(g.Token, os.Getenv("TERMDECK_TOKEN"))
	if g.Addr == "" || g.Token == "" {
		if cfg, err := config.Load(); err == nil {
			g.Addr = firstNonEmpty(g.Addr, cfg.Daemon.Listen)
			g.Token = firstNonEmpty(g.Token, cfg.Daemon.Token)
		}
	}
	g.Addr = firstNonEmpty(g.Addr, config.DefaultListen)
	return g, remaining
}

func printHelp() {
	fmt.Printf("term-deck v%s\n", Version)
	fmt.Println("Terminal sessions with shared-memory snapshots and command blocks.")
	fmt.Println()
	fmt.Println("Usage: term-deck [--addr host:port] [--token T] <command> [options]")
	fmt.Println()
	fmt.Println("Daemon:")
	fmt.Println("  daemon                 Run the session daemon in the foreground")
	fmt.Println("  status                 Show daemon health")
	fmt.Println("  config [path|show|init]  Inspect or create config.toml")
	fmt.Println()
	fmt.Println("Sessions:")
	fmt.Println("  list, ls               List sessions")
	fmt.Println("  create, new [name]     Create a session")
	fmt.Println("  delete, rm <session>   Delete a session")
	fmt.Println("  rename <session> <name>")
	fmt.Println("  resize <session> <cols> <rows>")
	fmt.Println("  default <session>      Make a session the default")
	fmt.Println("  attach, a [session]    Attach this terminal (Ctrl+Q detaches)")
	fmt.Println("  send <session> <text>  Type text into a session")
	fmt.Println()
	fmt.Println("Inspection:")
	fmt.Println("  screen [session]       Print the visible screen")
	fmt.Println("  blocks [session]       List finished command blocks")
	fmt.Println("  output [session]       Print the last command's output")
	fmt.Println()
	fmt.Println("A session is named by id, id prefix, or name; omitted means the default session.")
	fmt.Println()
	fmt.Println("Environment:")
	fmt.Println("  TERMDECK_HOME          Data directory (default ~/.term-deck)")
	fmt.Println("  TERMDECK_ADDR          Daemon address")
	fmt.Println("  TERMDECK_TOKEN         Bearer token")
	fmt.Println("  TERMDECK_SHMEM_DIR     Shared-memory directory")
	fmt.Println("  TERMDECK_DEBUG         Log at debug level")
	fmt.Println("  TERMDECK_COLOR         truecolor, 256, 16, none")
}
