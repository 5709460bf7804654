package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"adgobye.dev/internal/assets/bundle"
	"adgobye.dev/internal/blocklist"
	"adgobye.dev/internal/blocklist/report"
	"adgobye.dev/internal/config"
	"adgobye.dev/internal/content"
	"adgobye.dev/internal/indexer"
	"adgobye.dev/internal/live"
	"adgobye.dev/internal/metrics"
	"adgobye.dev/internal/observerproto"
	"adgobye.dev/internal/patcher"
	"adgobye.dev/internal/persistence/indexdb"
	"adgobye.dev/internal/persistence/journal"
	"adgobye.dev/internal/plugin"
	"adgobye.dev/internal/plugin/chairs"
	"adgobye.dev/internal/transport/observer"
)

// app holds the long-lived components shared by every command.
type app struct {
	cfg     config.Config
	log     *slog.Logger
	metrics *metrics.Metrics

	store    *indexdb.SQLiteIndex
	codec    *bundle.Codec
	indexer  *indexer.Indexer
	rules    *blocklist.Set
	plugins  []plugin.Entry
	reporter *report.Reporter
	journal  *journal.Writer
	patcher  *patcher.Patcher
}

func openApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, log: logger, metrics: metrics.New()}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	var err error
	if a.store, err = indexdb.OpenSQLite(cfg.DatabasePath); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if a.codec, err = bundle.New(); err != nil {
		return nil, err
	}
	a.indexer = indexer.New(indexer.Config{
		CacheDir:       cfg.CacheDir(),
		Allowlist:      cfg.Indexer.Allowlist,
		MaxThreads:     cfg.Indexer.MaxIndexerThreads,
		ScanRetries:    cfg.Indexer.ScanRetries,
		ScanRetryDelay: cfg.Indexer.ScanRetryDelay,
	}, a.store, a.codec, logger, a.metrics)

	if err := a.updateBlocklists(ctx); err != nil {
		logger.Warn("network blocklist update failed, using cached copies", "err", err)
	}
	if a.rules, err = a.loadBlocklists(ctx); err != nil {
		return nil, fmt.Errorf("load blocklists: %w", err)
	}

	reg := plugin.NewRegistry()
	if err := reg.Register(chairs.Entry(logger)); err != nil {
		return nil, err
	}
	if a.plugins, err = reg.Select(cfg.Plugins.Enabled); err != nil {
		return nil, err
	}
	for _, e := range a.plugins {
		logger.Info("plugin enabled", "plugin", e.Name, "maintainer", e.Maintainer, "version", e.Version)
	}

	if cfg.Blocklist.SendUnmatchedObjectsToDev {
		a.reporter = report.New(report.Config{
			URL:  cfg.Blocklist.UnmatchedServer,
			Salt: cfg.Blocklist.ReportSalt,
		}, logger, a.metrics)
	}
	a.journal = journal.New(cfg.JournalDir)

	a.patcher = patcher.New(patcher.Config{
		DryRun:                cfg.Patcher.DryRun,
		ZipBombLimitMB:        cfg.Patcher.ZipBombSizeLimitMB,
		Recompress:            cfg.Patcher.EnableRecompression,
		RecompressMemoryMaxMB: cfg.Patcher.RecompressionMemoryMaxMB,
		DisableBackup:         cfg.Patcher.DisableBackupFile,
		MaxThreads:            cfg.Patcher.MaxPatchThreads,
		Allowlist:             cfg.Indexer.Allowlist,
	}, a.codec, a.rules, a.plugins, a.reporter, a.journal, logger, a.metrics)

	ok = true
	return a, nil
}

func (a *app) updateBlocklists(ctx context.Context) error {
	u := blocklist.Updater{URLs: a.cfg.Blocklist.URLs, Store: a.store, Log: a.log}
	return u.Update(ctx)
}

func (a *app) loadBlocklists(ctx context.Context) (*blocklist.Set, error) {
	l := blocklist.Loader{Dir: a.cfg.Blocklist.Directory, URLs: a.cfg.Blocklist.URLs, Store: a.store, Log: a.log}
	return l.Load(ctx)
}

func (a *app) Close() {
	a.reporter.Close()
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn("close journal", "err", err)
		}
	}
	if a.store != nil {
		_ = a.store.Close()
	}
}

// patchIndexed runs the pipeline over every indexed world.
func (a *app) patchIndexed(ctx context.Context) error {
	rows, err := a.store.All(ctx)
	if err != nil {
		return err
	}
	sum, err := a.patcher.PatchAll(ctx, rows, a.store)
	if err != nil {
		return err
	}
	a.log.Info("patch run complete",
		"patched", sum.Patched, "clean", sum.Clean, "dry_run", sum.DryRun,
		"aborted", sum.Aborted, "failed", sum.Failed, "skipped", sum.Skipped)
	return nil
}

// persist records c's patch bookkeeping.
func (a *app) persist(ctx context.Context, c content.Content) error {
	b := indexdb.NewBatch()
	b.Edit(c)
	_, err := a.store.Apply(ctx, b)
	return err
}

func (a *app) pluginNames() []string {
	names := make([]string, 0, len(a.plugins))
	for _, e := range a.plugins {
		names = append(names, e.Name)
	}
	return names
}

// serveHTTP exposes health, metrics and the observer feed until ctx ends.
func (a *app) serveHTTP(ctx context.Context, obs *observer.Server) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusOK)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.Handle("/metrics", a.metrics.Handler())
	mux.HandleFunc("/observer/bootstrap", obs.BootstrapHandler())
	mux.HandleFunc("/observer/ws", obs.WSHandler())

	srv := &http.Server{
		Addr:              a.cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx2)
	}()

	a.log.Info("listening", "addr", a.cfg.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *app) observerState(gate *live.Gate) observer.StateFunc {
	return func(ctx context.Context) observerproto.BootstrapResponse {
		n, err := a.store.Count(ctx)
		if err != nil {
			a.log.Warn("count index rows", "err", err)
		}
		return observerproto.BootstrapResponse{
			GateOpen: gate.IsOpen(),
			Indexed:  n,
			Rules:    a.rules.Len(),
			Plugins:  a.pluginNames(),
			DryRun:   a.cfg.Patcher.DryRun,
			Live:     a.cfg.Live.Enabled,
		}
	}
}
