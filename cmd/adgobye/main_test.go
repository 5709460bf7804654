package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestBlocklistCheck(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.toml")
	bad := filepath.Join(dir, "bad.toml")
	if err := os.WriteFile(good, []byte(`
title = "Mine"
[[block]]
world_id = "wrld_1"
game_objects = [{ name = "Ad" }, { name = "Poster" }]
`), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(bad, []byte("[[block]]\ngame_objects = []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs([]string{"blocklist", "check", good, bad})
	err := root.Execute()
	if err == nil || !strings.Contains(err.Error(), "bad.toml") {
		t.Fatalf("err = %v, want failure naming bad.toml", err)
	}
	if !strings.Contains(out.String(), `good.toml: ok ("Mine", 1 worlds, 2 rules)`) {
		t.Fatalf("output = %q", out.String())
	}
}

func TestLoadConfig_FlagsOverrideFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(p, []byte("log_level: info\nlisten: 127.0.0.1:9100\nindexer:\n  working_folder: /games/vrc\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var gf globalFlags
	cmd := &cobra.Command{Use: "test"}
	gf.bind(cmd.Flags())
	if err := cmd.ParseFlags([]string{"--config", p, "--log-level", "debug", "--dry-run"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(&gf, cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.LogLevel != "debug" || !cfg.Patcher.DryRun {
		t.Fatalf("flags not applied: level=%q dry_run=%v", cfg.LogLevel, cfg.Patcher.DryRun)
	}
	if cfg.Listen != "127.0.0.1:9100" {
		t.Fatalf("unset flag overrode listen: %q", cfg.Listen)
	}
}

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := newLogger("loud"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := newLogger("warn"); err != nil {
		t.Fatal(err)
	}
}
