// Package indexer keeps the persisted content index in step with the game's
// cache directory.
package indexer

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/content"
	"adgobye.dev/internal/metrics"
	"adgobye.dev/internal/persistence/indexdb"
)

// Store is the persisted record contract the indexer mutates.
type Store interface {
	All(ctx context.Context) ([]content.Content, error)
	Count(ctx context.Context) (int, error)
	FindByStableName(ctx context.Context, stableName string) (content.Content, bool, error)
	FindByID(ctx context.Context, id string) (content.Content, bool, error)
	Apply(ctx context.Context, b *indexdb.Batch) (indexdb.BatchStats, error)
	Remove(ctx context.Context, id string) error
}

type Config struct {
	// CacheDir holds one directory per stable name.
	CacheDir string
	// Allowlist ids are never patched; the scan fast path discounts them.
	Allowlist      []string
	MaxThreads     int
	ScanRetries    int
	ScanRetryDelay time.Duration
}

func (c Config) threads() int {
	if c.MaxThreads <= 0 {
		return 4
	}
	return c.MaxThreads
}

type Indexer struct {
	cfg     Config
	store   Store
	codec   assets.Codec
	log     *slog.Logger
	metrics *metrics.Metrics
}

func New(cfg Config, store Store, codec assets.Codec, logger *slog.Logger, m *metrics.Metrics) *Indexer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Indexer{
		cfg:     cfg,
		store:   store,
		codec:   codec,
		log:     logger.With("component", "indexer"),
		metrics: m,
	}
}

func (ix *Indexer) CacheDir() string { return ix.cfg.CacheDir }

// LookupByPath resolves the row owning the stable name of path. path may be
// a version directory or a file inside one.
func (ix *Indexer) LookupByPath(ctx context.Context, path string) (content.Content, bool, error) {
	return ix.store.FindByStableName(ctx, content.StableNameOf(path))
}

func (ix *Indexer) LookupByID(ctx context.Context, id string) (content.Content, bool, error) {
	return ix.store.FindByID(ctx, id)
}

// RemoveByPath drops the row owning path's stable name. Deleting a version
// other than the indexed one keeps the row while the indexed version still
// exists. It reports whether a row was removed.
func (ix *Indexer) RemoveByPath(ctx context.Context, path string) (bool, error) {
	c, ok, err := ix.LookupByPath(ctx, path)
	if err != nil || !ok {
		return false, err
	}
	if !samePath(content.VersionDir(path), c.VersionMeta.Path) && isFile(c.DataPath()) {
		ix.log.Debug("superseded version removed", "path", path, "indexed", c.VersionMeta.Path)
		return false, nil
	}
	if err := ix.store.Remove(ctx, c.ID); err != nil {
		return false, err
	}
	ix.log.Info("removed from index", "id", c.ID, "stable_name", c.StableName)
	ix.refreshCount(ctx)
	return true, nil
}

func (ix *Indexer) refreshCount(ctx context.Context) {
	if ix.metrics == nil {
		return
	}
	if n, err := ix.store.Count(ctx); err == nil {
		ix.metrics.SetIndexed(n)
	}
}

func samePath(a, b string) bool { return filepath.Clean(a) == filepath.Clean(b) }
