package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeSettings(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write settings: %v", err)
	}
	return p
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	p := writeSettings(t, `
log_level: DEBUG
indexer:
  working_folder: /games/vrc
  allowlist: [wrld_a, " wrld_a ", "", wrld_b]
  scan_retry_delay: 2s
patcher:
  dry_run: true
  max_patch_threads: 0
blocklist:
  urls: [https://example.test/list.toml]
plugins:
  enabled: [Chairs]
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
	if got := cfg.Indexer.Allowlist; len(got) != 2 || got[0] != "wrld_a" || got[1] != "wrld_b" {
		t.Fatalf("allowlist = %v", got)
	}
	if cfg.Indexer.ScanRetryDelay != 2*time.Second {
		t.Fatalf("scan_retry_delay = %v", cfg.Indexer.ScanRetryDelay)
	}
	if !cfg.Patcher.DryRun || cfg.Patcher.MaxPatchThreads != 2 {
		t.Fatalf("patcher = %+v", cfg.Patcher)
	}
	// untouched sections keep their defaults
	if cfg.Patcher.ZipBombSizeLimitMB != 500 || !cfg.Patcher.EnableRecompression {
		t.Fatalf("patcher defaults lost: %+v", cfg.Patcher)
	}
	if cfg.Live.LoadStopIndicator != "Entering world" {
		t.Fatalf("live defaults lost: %+v", cfg.Live)
	}
	if want := filepath.Join("/games/vrc", "Cache-WindowsPlayer"); cfg.CacheDir() != want {
		t.Fatalf("CacheDir = %q, want %q", cfg.CacheDir(), want)
	}
}

func TestLoad_RequiresWorkingFolder(t *testing.T) {
	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "working_folder") {
		t.Fatalf("err = %v, want working_folder error", err)
	}
}

func TestLoad_RejectsBadValues(t *testing.T) {
	p := writeSettings(t, `
log_level: verbose
indexer:
  working_folder: /games/vrc
blocklist:
  send_unmatched_objects_to_devs: true
`)
	_, err := Load(p)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"log_level", "unmatched_server"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("err = %v, missing %q", err, want)
		}
	}
}

func TestLoad_SyntaxError(t *testing.T) {
	p := writeSettings(t, "indexer: [\n")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "settings.yaml") {
		t.Fatalf("err = %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("AGB_DRY_RUN", "true")
	t.Setenv("AGB_LIVE", "false")
	t.Setenv("AGB_LISTEN", " 127.0.0.1:9100 ")
	t.Setenv("AGB_MAX_PATCH_THREADS", "6")
	p := writeSettings(t, "indexer:\n  working_folder: /games/vrc\n")

	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.Patcher.DryRun || cfg.Live.Enabled || cfg.Listen != "127.0.0.1:9100" || cfg.Patcher.MaxPatchThreads != 6 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestEnvHelpersFallBack(t *testing.T) {
	t.Setenv("AGB_TEST_BOOL", "maybe")
	t.Setenv("AGB_TEST_INT", "-3")
	if !envBool("AGB_TEST_BOOL", true) {
		t.Fatal("invalid bool should fall back")
	}
	if envInt("AGB_TEST_INT", 7) != 7 {
		t.Fatal("non-positive int should fall back")
	}
}
