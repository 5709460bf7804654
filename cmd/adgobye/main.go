// Command adgobye strips blocklisted objects out of cached game worlds.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"adgobye.dev/internal/config"
)

// Version is set via -ldflags.
var Version = "dev"

type globalFlags struct {
	configPath string
	logLevel   string
	dryRun     bool
	listen     string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var gf globalFlags
	root := &cobra.Command{
		Use:           "adgobye",
		Short:         "Remove blocklisted objects from cached worlds",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDefault(&gf, cmd)
		},
	}
	gf.bind(root.PersistentFlags())

	root.AddCommand(
		newRunCmd(&gf),
		newIndexCmd(&gf),
		newPatchCmd(&gf),
		newBlocklistCmd(&gf),
	)
	return root
}

func (gf *globalFlags) bind(fs *pflag.FlagSet) {
	fs.StringVarP(&gf.configPath, "config", "c", "settings.yaml", "settings file")
	fs.StringVar(&gf.logLevel, "log-level", "", "override log_level (debug, info, warn, error)")
	fs.BoolVar(&gf.dryRun, "dry-run", false, "never write data files")
	fs.StringVar(&gf.listen, "listen", "", "override listen address for /metrics and the observer feed")
}

// loadConfig reads settings and applies flags that were set explicitly.
func loadConfig(gf *globalFlags, cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(gf.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.LogLevel = gf.logLevel
	}
	if flags.Changed("dry-run") {
		cfg.Patcher.DryRun = gf.dryRun
	}
	if flags.Changed("listen") {
		cfg.Listen = gf.listen
	}
	cfg.Normalize()
	return cfg, cfg.Validate()
}

func newLogger(level string) (*slog.Logger, error) {
	lvl, err := charmlog.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	h := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.DateTime,
		Level:           lvl,
	})
	return slog.New(h), nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(ch)
	}()
	return ctx, cancel
}
