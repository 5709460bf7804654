package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"adgobye.dev/internal/blocklist"
	"adgobye.dev/internal/live"
	"adgobye.dev/internal/transport/observer"
)

// withApp loads settings, builds the app and runs fn under a signal context.
func withApp(gf *globalFlags, cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig(gf, cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	if cfg.Patcher.DryRun {
		logger.Warn("dry run enabled, data files will not be modified")
	}
	return fn(ctx, a)
}

func newRunCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Index, patch everything, then follow the game live (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDefault(gf, cmd)
		},
	}
}

func runDefault(gf *globalFlags, cmd *cobra.Command) error {
	return withApp(gf, cmd, func(ctx context.Context, a *app) error {
		if err := a.indexer.Manage(ctx); err != nil {
			return fmt.Errorf("index: %w", err)
		}
		if err := a.patchIndexed(ctx); err != nil {
			return fmt.Errorf("patch: %w", err)
		}
		if !a.cfg.Live.Enabled && a.cfg.Listen == "" {
			return nil
		}
		return a.runLive(ctx)
	})
}

// runLive serves the HTTP surface and, when enabled, live synchronization
// until ctx ends.
func (a *app) runLive(ctx context.Context) error {
	gate := live.NewGate()
	gate.OnChange(a.metrics.SetGate)
	a.metrics.SetGate(true)
	obs := observer.NewServer(a.observerState(gate), a.log, a.metrics)
	gate.OnChange(obs.PublishGate)
	gate.OnChange(func(open bool) {
		if open {
			a.log.Info("world load finished, patching resumed")
			return
		}
		a.log.Info("world loading, holding patches")
	})

	g, gctx := errgroup.WithContext(ctx)
	if a.cfg.Listen != "" {
		g.Go(func() error { return a.serveHTTP(gctx, obs) })
	}
	if a.cfg.Live.Enabled {
		src, err := live.NewFSContentSource(a.cfg.CacheDir(), a.log, a.metrics)
		if err != nil {
			return err
		}
		logs := live.NewLogWatcher(live.LogWatcherConfig{
			Dir:            a.cfg.LogDir(),
			StartIndicator: a.cfg.Live.LoadStartIndicator,
			StopIndicator:  a.cfg.Live.LoadStopIndicator,
			PollInterval:   a.cfg.Live.LogPollInterval,
		}, gate, a.log, a.metrics)
		syncer := live.NewSynchronizer(live.SyncConfig{}, src, logs, gate, a.indexer, a.patcher, a.store, obs, a.log, a.metrics)
		g.Go(func() error { return syncer.Run(gctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newIndexCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "index",
		Short: "Reconcile the index and scan the cache for new content",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(gf, cmd, func(ctx context.Context, a *app) error {
				if err := a.indexer.Manage(ctx); err != nil {
					return err
				}
				n, err := a.store.Count(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d contents indexed\n", n)
				return nil
			})
		},
	}
}

func newPatchCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "patch [content-id...]",
		Short: "Index, then patch every world or only the given ids",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(gf, cmd, func(ctx context.Context, a *app) error {
				if err := a.indexer.Manage(ctx); err != nil {
					return fmt.Errorf("index: %w", err)
				}
				if len(args) == 0 {
					return a.patchIndexed(ctx)
				}
				return a.patchIDs(ctx, args)
			})
		},
	}
}

func (a *app) patchIDs(ctx context.Context, ids []string) error {
	var missing []string
	for _, id := range ids {
		c, ok, err := a.indexer.LookupByID(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			missing = append(missing, id)
			continue
		}
		out, err := a.patcher.Patch(ctx, &c)
		if err != nil {
			a.log.Error("patch failed", "id", id, "err", err)
			continue
		}
		if out.Changed && !a.cfg.Patcher.DryRun {
			if err := a.persist(ctx, c); err != nil {
				return err
			}
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("not indexed: %v", missing)
	}
	return nil
}

func newBlocklistCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "blocklist",
		Short: "Manage blocklists",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "update",
		Short: "Refresh network blocklists and report the merged rule count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(gf, cmd, func(ctx context.Context, a *app) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%d rules for %d worlds\n", a.rules.Len(), len(a.rules.Worlds()))
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <file>...",
		Short: "Validate blocklist files without touching any content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkBlocklists(cmd, args)
		},
	})
	return cmd
}

func checkBlocklists(cmd *cobra.Command, paths []string) error {
	var errs []error
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		doc, err := blocklist.Parse(data)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p, err))
			continue
		}
		rules := 0
		for _, b := range doc.Blocks {
			rules += len(b.GameObjects)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%q, %d worlds, %d rules)\n", p, doc.Title, len(doc.Blocks), rules)
	}
	return errors.Join(errs...)
}
