package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/asheshgoplani/term-deck/internal/config"
)

// TestMain points the data directory at a temp dir so tests never read or
// write the user's config.toml or state.db.
func TestMain(m *testing.M) {
	home, err := os.MkdirTemp("", "term-deck-cmd-*")
	if err != nil {
		panic(err)
	}
	os.Setenv("TERMDECK_HOME", home)
	os.Unsetenv("TERMDECK_ADDR")
	os.Unsetenv("TERMDECK_TOKEN")
	os.Setenv("TERMDECK_COLOR", "none")
	initColorProfile()

	code := m.Run()
	os.RemoveAll(home)
	os.Exit(code)
}

func TestExtractGlobalFlags(t *testing.T) {
	tests := []struct {
		name      string
		args      []string
		wantAddr  string
		wantToken string
		wantRest  []string
	}{
		{
			name:     "defaults",
			args:     []string{"list"},
			wantAddr: config.DefaultListen,
			wantRest: []string{"list"},
		},
		{
			name:      "separate values",
			args:      []string{"--addr", "10.0.0.2:9000", "--token", "abc", "list", "--json"},
			wantAddr:  "10.0.0.2:9000",
			wantToken: "abc",
			wantRest:  []string{"list", "--json"},
		},
		{
			name:      "equals syntax after subcommand",
			args:      []string{"attach", "build", "--addr=host:1", "--token=t"},
			wantAddr:  "host:1",
			wantToken: "t",
			wantRest:  []string{"attach", "build"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, rest := extractGlobalFlags(tt.args)
			if g.Addr != tt.wantAddr || g.Token != tt.wantToken {
				t.Errorf("flags = %+v, want addr=%q token=%q", g, tt.wantAddr, tt.wantToken)
			}
			if !reflect.DeepEqual(rest, tt.wantRest) {
				t.Errorf("rest = %v, want %v", rest, tt.wantRest)
			}
		})
	}
}

func TestExtractGlobalFlagsEnvironment(t *testing.T) {
	t.Setenv("TERMDECK_ADDR", "envhost:7000")
	t.Setenv("TERMDECK_TOKEN", "envtoken")

	g, _ := extractGlobalFlags([]string{"status"})
	if g.Addr != "envhost:7000" || g.Token != "envtoken" {
		t.Fatalf("env not applied: %+v", g)
	}

	g, _ = extractGlobalFlags([]string{"--addr", "flaghost:1", "status"})
	if g.Addr != "flaghost:1" {
		t.Fatalf("flag should win over env: %+v", g)
	}
}

func TestHandleConfigInitAndPath(t *testing.T) {
	path, err := config.Path()
	if err != nil {
		t.Fatalf("Path: %v", err)
	}
	if filepath.Dir(path) != os.Getenv("TERMDECK_HOME") {
		t.Fatalf("config path %q outside TERMDECK_HOME", path)
	}
	os.Remove(path)
	t.Cleanup(func() { os.Remove(path) })

	if err := handleConfig([]string{"init"}); err != nil {
		t.Fatalf("config init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	if err := handleConfig([]string{"init"}); err == nil {
		t.Fatal("second init should refuse to overwrite")
	}
	if err := handleConfig([]string{"bogus"}); err == nil {
		t.Fatal("unknown subcommand should fail")
	}
}
