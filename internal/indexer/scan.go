package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"adgobye.dev/internal/content"
)

// ScanForNewContent ingests the highest version of every stable name under
// root that the index does not track yet.
func (ix *Indexer) ScanForNewContent(ctx context.Context, root string) (IngestResult, error) {
	ents, err := os.ReadDir(root)
	if err != nil {
		return IngestResult{}, err
	}
	var children []string
	for _, e := range ents {
		if e.IsDir() {
			children = append(children, e.Name())
		}
	}

	rows, err := ix.store.All(ctx)
	if err != nil {
		return IngestResult{}, err
	}
	if len(children) == len(rows)-len(ix.cfg.Allowlist) {
		ix.log.Debug("cache unchanged, skipping scan", "dirs", len(children), "rows", len(rows))
		return IngestResult{}, nil
	}

	tracked := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		tracked[r.StableName] = struct{}{}
	}
	var paths []string
	for _, name := range children {
		if _, ok := tracked[name]; ok {
			continue
		}
		dir, _, ok, err := content.HighestVersion(filepath.Join(root, name))
		if err != nil {
			ix.log.Warn("cannot list versions", "dir", name, "err", err)
			continue
		}
		if ok {
			paths = append(paths, dir)
		}
	}
	if len(paths) == 0 {
		return IngestResult{}, nil
	}
	res, err := ix.Ingest(ctx, paths...)
	if err != nil {
		return IngestResult{}, err
	}
	ix.log.Info("scanned cache", "candidates", len(paths), "added", res.Added, "updated", res.Edited)
	return res, nil
}

// Manage reconciles the index and then scans the cache directory for new
// content. A missing cache directory is retried ScanRetries times.
func (ix *Indexer) Manage(ctx context.Context) error {
	n, err := ix.store.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		if _, err := ix.Reconcile(ctx); err != nil {
			return fmt.Errorf("reconcile: %w", err)
		}
	}

	root := ix.cfg.CacheDir
	retries := max(ix.cfg.ScanRetries, 1)
	for attempt := 1; ; attempt++ {
		_, err = os.Stat(root)
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if attempt >= retries {
			return fmt.Errorf("cache directory %s not found after %d attempts; set indexer.working_folder", root, attempt)
		}
		ix.log.Error("cache directory not found, retrying", "dir", root, "attempt", attempt, "of", retries)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ix.cfg.ScanRetryDelay):
		}
	}

	if _, err := ix.ScanForNewContent(ctx, root); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	ix.log.Info("finished index processing")
	return nil
}
