// Package config loads settings.yaml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel     string `yaml:"log_level"`
	DatabasePath string `yaml:"database_path"`
	JournalDir   string `yaml:"journal_dir"`
	// Listen enables the local HTTP surface (metrics, observer feed).
	Listen string `yaml:"listen"`

	Indexer   IndexerConfig   `yaml:"indexer"`
	Patcher   PatcherConfig   `yaml:"patcher"`
	Blocklist BlocklistConfig `yaml:"blocklist"`
	Live      LiveConfig      `yaml:"live"`
	Plugins   PluginsConfig   `yaml:"plugins"`
}

type IndexerConfig struct {
	// WorkingFolder is the game's data folder; it holds the logs and the
	// cache folder.
	WorkingFolder     string        `yaml:"working_folder"`
	CacheFolderName   string        `yaml:"cache_folder_name"`
	Allowlist         []string      `yaml:"allowlist"`
	MaxIndexerThreads int           `yaml:"max_indexer_threads"`
	ScanRetries       int           `yaml:"scan_retries"`
	ScanRetryDelay    time.Duration `yaml:"scan_retry_delay"`
}

type PatcherConfig struct {
	DryRun                   bool  `yaml:"dry_run"`
	ZipBombSizeLimitMB       int64 `yaml:"zip_bomb_size_limit_mb"`
	EnableRecompression      bool  `yaml:"enable_recompression"`
	RecompressionMemoryMaxMB int64 `yaml:"recompression_memory_max_mb"`
	DisableBackupFile        bool  `yaml:"disable_backup_file"`
	MaxPatchThreads          int   `yaml:"max_patch_threads"`
}

type BlocklistConfig struct {
	Directory                 string   `yaml:"directory"`
	URLs                      []string `yaml:"urls"`
	SendUnmatchedObjectsToDev bool     `yaml:"send_unmatched_objects_to_devs"`
	UnmatchedServer           string   `yaml:"unmatched_server"`
	ReportSalt                string   `yaml:"report_salt"`
}

type LiveConfig struct {
	Enabled            bool          `yaml:"enabled"`
	LoadStartIndicator string        `yaml:"load_start_indicator"`
	LoadStopIndicator  string        `yaml:"load_stop_indicator"`
	LogPollInterval    time.Duration `yaml:"log_poll_interval"`
}

type PluginsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// Load reads path over the defaults, applies AGB_* environment overrides,
// then normalizes and validates. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Defaults()
	name := "settings.yaml"
	if strings.TrimSpace(path) != "" {
		name = filepath.Base(path)
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
	}
	cfg.ApplyEnv()
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		LogLevel:     "info",
		DatabasePath: "database.db",
		JournalDir:   "journal",
		Indexer: IndexerConfig{
			CacheFolderName:   "Cache-WindowsPlayer",
			MaxIndexerThreads: 4,
			ScanRetries:       3,
			ScanRetryDelay:    500 * time.Millisecond,
		},
		Patcher: PatcherConfig{
			ZipBombSizeLimitMB:       500,
			EnableRecompression:      true,
			RecompressionMemoryMaxMB: 250,
			MaxPatchThreads:          2,
		},
		Blocklist: BlocklistConfig{
			Directory: "Blocklists",
		},
		Live: LiveConfig{
			Enabled:            true,
			LoadStartIndicator: "[Behaviour] Preparing assets...",
			LoadStopIndicator:  "Entering world",
			LogPollInterval:    300 * time.Millisecond,
		},
	}
}

// ApplyEnv overlays AGB_* environment variables.
func (c *Config) ApplyEnv() {
	c.Patcher.DryRun = envBool("AGB_DRY_RUN", c.Patcher.DryRun)
	c.Live.Enabled = envBool("AGB_LIVE", c.Live.Enabled)
	c.Patcher.MaxPatchThreads = envInt("AGB_MAX_PATCH_THREADS", c.Patcher.MaxPatchThreads)
	if v, ok := os.LookupEnv("AGB_LISTEN"); ok {
		c.Listen = strings.TrimSpace(v)
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.Indexer.WorkingFolder = strings.TrimSpace(c.Indexer.WorkingFolder)
	if strings.TrimSpace(c.Indexer.CacheFolderName) == "" {
		c.Indexer.CacheFolderName = "Cache-WindowsPlayer"
	}
	c.Indexer.Allowlist = compact(c.Indexer.Allowlist)
	c.Blocklist.URLs = compact(c.Blocklist.URLs)
	c.Plugins.Enabled = compact(c.Plugins.Enabled)
	if c.Indexer.MaxIndexerThreads <= 0 {
		c.Indexer.MaxIndexerThreads = 4
	}
	if c.Patcher.MaxPatchThreads <= 0 {
		c.Patcher.MaxPatchThreads = 2
	}
	if c.Indexer.ScanRetries <= 0 {
		c.Indexer.ScanRetries = 1
	}
	if c.Live.LogPollInterval <= 0 {
		c.Live.LogPollInterval = 300 * time.Millisecond
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.Indexer.WorkingFolder == "" {
		errs = append(errs, errors.New("indexer.working_folder must be set to the game's data folder"))
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q must be one of debug, info, warn, error", c.LogLevel))
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		errs = append(errs, errors.New("database_path must not be empty"))
	}
	if c.Patcher.ZipBombSizeLimitMB < 0 {
		errs = append(errs, errors.New("patcher.zip_bomb_size_limit_mb must be >= 0"))
	}
	if c.Patcher.RecompressionMemoryMaxMB < 0 {
		errs = append(errs, errors.New("patcher.recompression_memory_max_mb must be >= 0"))
	}
	if c.Blocklist.SendUnmatchedObjectsToDev && strings.TrimSpace(c.Blocklist.UnmatchedServer) == "" {
		errs = append(errs, errors.New("blocklist.unmatched_server must be set when send_unmatched_objects_to_devs is enabled"))
	}
	if c.Live.Enabled {
		if strings.TrimSpace(c.Live.LoadStartIndicator) == "" || strings.TrimSpace(c.Live.LoadStopIndicator) == "" {
			errs = append(errs, errors.New("live load indicators must not be empty"))
		}
	}
	return errors.Join(errs...)
}

// CacheDir is where the game keeps one directory per stable name.
func (c Config) CacheDir() string {
	return filepath.Join(c.Indexer.WorkingFolder, c.Indexer.CacheFolderName)
}

// LogDir holds the game's output logs.
func (c Config) LogDir() string { return c.Indexer.WorkingFolder }

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
