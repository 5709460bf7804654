package indexer

import (
	"context"
	"os"
	"path/filepath"

	"adgobye.dev/internal/content"
	"adgobye.dev/internal/persistence/indexdb"
)

// Reconcile checks every indexed row against the filesystem and commits the
// resulting removals and version bumps as one batch.
func (ix *Indexer) Reconcile(ctx context.Context) (indexdb.BatchStats, error) {
	rows, err := ix.store.All(ctx)
	if err != nil {
		return indexdb.BatchStats{}, err
	}
	b := indexdb.NewBatch()
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return indexdb.BatchStats{}, err
		}
		ix.reconcileRow(row, b)
	}
	stats, err := ix.store.Apply(ctx, b)
	if err != nil {
		return indexdb.BatchStats{}, err
	}
	ix.metrics.ReconcileOps("remove", stats.Removed)
	ix.metrics.ReconcileOps("update", stats.Edited)
	ix.refreshCount(ctx)
	if stats.Removed+stats.Edited > 0 {
		ix.log.Info("reconciled index", "rows", len(rows), "removed", stats.Removed, "updated", stats.Edited)
	}
	return stats, nil
}

func (ix *Indexer) reconcileRow(row content.Content, b *indexdb.Batch) {
	stableDir := filepath.Dir(filepath.Clean(row.VersionMeta.Path))
	if !isDir(stableDir) {
		ix.log.Debug("stable name directory gone", "id", row.ID, "dir", stableDir)
		b.Remove(row.ID)
		return
	}
	dir, version, ok, err := content.HighestVersion(stableDir)
	if err != nil {
		ix.log.Warn("cannot list versions", "id", row.ID, "dir", stableDir, "err", err)
		return
	}
	if !ok {
		ix.log.Warn("stable name directory has no versions, leaving row for now", "id", row.ID, "dir", stableDir)
		return
	}
	if !isFile(filepath.Join(dir, content.DataFile)) {
		ix.log.Warn("highest version has no data file, removing from index", "id", row.ID, "dir", dir)
		b.Remove(row.ID)
		return
	}
	// An equal version is left alone even if its directory name differs.
	if version <= row.VersionMeta.Version {
		return
	}
	ix.log.Info("content version advanced", "id", row.ID, "from", row.VersionMeta.Version, "to", version)
	row.SetVersion(version, dir)
	b.Edit(row)
}

func isDir(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.IsDir()
}

func isFile(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}
