package indexer

import (
	"cmp"
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/content"
	"adgobye.dev/internal/persistence/indexdb"
)

// IngestResult reports a committed Ingest batch. Truncated lists paths whose
// data file was still being written; callers may retry them.
type IngestResult struct {
	indexdb.BatchStats
	Truncated []string
}

type candidate struct {
	content.Content
	desc descriptor
}

// Ingest indexes version directories (or files inside them). Phase one
// resolves each path independently; phase two settles id conflicts with one
// worker per id. Everything staged commits in one batch.
func (ix *Indexer) Ingest(ctx context.Context, paths ...string) (IngestResult, error) {
	var (
		res IngestResult
		mu  sync.Mutex
		// ordered by input so grouping is deterministic
		cands = make([]*candidate, len(paths))
	)
	b := indexdb.NewBatch()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.threads())
	for i, p := range paths {
		g.Go(func() error {
			c, err := ix.stage(gctx, p, b)
			if errors.Is(err, assets.ErrTruncated) {
				ix.log.Debug("data file still being written", "path", p)
				ix.metrics.IngestResult("truncated")
				mu.Lock()
				res.Truncated = append(res.Truncated, p)
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			cands[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IngestResult{}, err
	}

	groups := map[string][]*candidate{}
	var order []string
	for _, c := range cands {
		if c == nil {
			continue
		}
		if _, ok := groups[c.ID]; !ok {
			order = append(order, c.ID)
		}
		groups[c.ID] = append(groups[c.ID], c)
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(ix.cfg.threads())
	for _, id := range order {
		group := groups[id]
		slices.SortStableFunc(group, func(a, b *candidate) int {
			return cmp.Compare(a.VersionMeta.Version, b.VersionMeta.Version)
		})
		g.Go(func() error {
			for _, c := range group {
				if err := ix.settle(gctx, c, b); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IngestResult{}, err
	}

	stats, err := ix.store.Apply(ctx, b)
	if err != nil {
		return IngestResult{}, err
	}
	res.BatchStats = stats
	ix.refreshCount(ctx)
	return res, nil
}

// stage is phase one for a single path. It returns a candidate only for
// untracked stable names; tracked ones are staged as edits directly.
func (ix *Indexer) stage(ctx context.Context, path string, b *indexdb.Batch) (*candidate, error) {
	dir := content.VersionDir(path)
	stable := filepath.Base(filepath.Dir(dir))
	version, err := content.DecodeVersion(filepath.Base(dir))
	if err != nil {
		ix.log.Warn("not a version directory", "path", dir, "err", err)
		ix.metrics.IngestResult("invalid")
		return nil, nil
	}

	existing, ok, err := ix.store.FindByStableName(ctx, stable)
	if err != nil {
		return nil, err
	}
	if ok {
		if version <= existing.VersionMeta.Version {
			ix.log.Debug("not an upgrade, skipping", "path", dir, "indexed", existing.VersionMeta.Version, "found", version)
			ix.metrics.IngestResult("stale")
			return nil, nil
		}
		existing.SetVersion(version, dir)
		if b.EditNewer(existing) {
			ix.log.Info("content version advanced", "id", existing.ID, "version", version)
			ix.metrics.IngestResult("updated")
		}
		return nil, nil
	}

	dataPath := filepath.Join(dir, content.DataFile)
	if !isFile(dataPath) {
		ix.log.Debug("no data file yet", "path", dir)
		ix.metrics.IngestResult("missing")
		return nil, nil
	}
	desc, err := ix.describe(dataPath)
	switch {
	case errors.Is(err, assets.ErrTruncated):
		return nil, err
	case errors.Is(err, ErrNotIndexable), errors.Is(err, assets.ErrUnsupported), errors.Is(err, assets.ErrNotFound):
		ix.log.Warn("skipping unindexable content", "path", dir, "err", err)
		ix.metrics.IngestResult("unindexable")
		return nil, nil
	case err != nil:
		ix.log.Warn("cannot read content descriptor", "path", dir, "err", err)
		ix.metrics.IngestResult("unindexable")
		return nil, nil
	}
	return &candidate{
		Content: content.Content{
			ID:         desc.ID,
			Type:       desc.Type,
			StableName: stable,
			VersionMeta: content.VersionMeta{
				Version: version,
				Path:    dir,
			},
		},
		desc: desc,
	}, nil
}

// settle is phase two for one candidate. Callers serialize candidates that
// share an id.
func (ix *Indexer) settle(ctx context.Context, c *candidate, b *indexdb.Batch) error {
	existing, staged, ok, err := ix.existing(ctx, c.ID, b)
	if err != nil {
		return err
	}
	if !ok {
		if c.Type == content.Avatar && c.desc.Impostor {
			ix.log.Info("skipping impostor avatar", "path", c.VersionMeta.Path)
			ix.metrics.IngestResult("impostor")
			return nil
		}
		b.Add(c.Content)
		ix.log.Info("added to index", "id", c.ID, "type", c.Type.String(), "version", c.VersionMeta.Version)
		ix.metrics.IngestResult("added")
		return nil
	}

	// Another version of the same slot arrived in this batch.
	if staged && existing.StableName == c.StableName {
		if c.VersionMeta.Version > existing.VersionMeta.Version {
			existing.SetVersion(c.VersionMeta.Version, c.VersionMeta.Path)
			b.Add(existing)
		}
		return nil
	}

	switch existing.Type {
	case content.World:
		higher, err := ix.higherEngine(existing, c)
		if err != nil {
			ix.log.Warn("cannot compare engine versions", "id", c.ID, "path", c.VersionMeta.Path, "err", err)
			ix.metrics.IngestResult("unindexable")
			return nil
		}
		if !higher {
			ix.log.Debug("duplicate world without engine upgrade", "id", c.ID, "path", c.VersionMeta.Path)
			ix.metrics.IngestResult("duplicate")
			return nil
		}
		ix.log.Info("migrating world to newer engine build", "id", c.ID, "from", existing.StableName, "to", c.StableName)
		existing.StableName = c.StableName
		existing.VersionMeta = content.VersionMeta{Version: c.VersionMeta.Version, Path: c.VersionMeta.Path}
		b.Edit(existing)
		ix.metrics.IngestResult("migrated")
	case content.Avatar:
		if c.desc.Impostor {
			ix.log.Info("skipping impostor avatar", "path", c.VersionMeta.Path)
			ix.metrics.IngestResult("impostor")
			return nil
		}
		ix.log.Debug("avatar already indexed under another stable name", "id", c.ID, "path", c.VersionMeta.Path)
		ix.metrics.IngestResult("duplicate")
	}
	return nil
}

// existing finds the current row for id, preferring rows staged earlier in
// this batch over the store.
func (ix *Indexer) existing(ctx context.Context, id string, b *indexdb.Batch) (c content.Content, staged bool, ok bool, err error) {
	if sc, removed, found := b.Staged(id); found {
		if removed {
			return content.Content{}, false, false, nil
		}
		return sc, true, true, nil
	}
	c, ok, err = ix.store.FindByID(ctx, id)
	return c, false, ok, err
}

func (ix *Indexer) higherEngine(indexed content.Content, cand *candidate) (bool, error) {
	old, err := ix.describe(indexed.DataPath())
	if err != nil {
		return false, err
	}
	oldMajor, ok1 := engineMajor(old.EngineVersion)
	newMajor, ok2 := engineMajor(cand.desc.EngineVersion)
	if !ok1 || !ok2 {
		return false, nil
	}
	return newMajor > oldMajor, nil
}
