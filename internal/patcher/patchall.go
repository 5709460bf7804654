package patcher

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"adgobye.dev/internal/content"
	"adgobye.dev/internal/persistence/indexdb"
)

// Store persists PatchedBy changes.
type Store interface {
	Apply(ctx context.Context, b *indexdb.Batch) (indexdb.BatchStats, error)
}

type Summary struct {
	Patched int
	Clean   int
	DryRun  int
	Aborted int
	Failed  int
	Skipped int
}

func (s *Summary) count(st Status) {
	switch st {
	case StatusPatched:
		s.Patched++
	case StatusClean:
		s.Clean++
	case StatusDryRun:
		s.DryRun++
	case StatusAborted:
		s.Aborted++
	case StatusFailed:
		s.Failed++
	default:
		s.Skipped++
	}
}

// PatchAll patches worlds in parallel and commits every changed PatchedBy
// in one batch. A failure on one item is logged and does not stop the
// others; only cancellation and the final commit return an error.
func (p *Patcher) PatchAll(ctx context.Context, items []content.Content, store Store) (Summary, error) {
	var (
		sum Summary
		mu  sync.Mutex
	)
	b := indexdb.NewBatch()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.threads())
	for _, item := range items {
		if item.Type != content.World || p.allowlisted(item.ID) {
			mu.Lock()
			sum.Skipped++
			mu.Unlock()
			continue
		}
		c := item.Clone()
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := p.Patch(gctx, &c)
			switch {
			case err != nil:
				p.log.Error("patch failed", "id", c.ID, "path", c.VersionMeta.Path, "err", err)
			case out.Changed && !p.cfg.DryRun:
				b.Edit(c)
			}
			mu.Lock()
			sum.count(out.Status)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return sum, err
	}

	if b.Len() > 0 && store != nil {
		if _, err := store.Apply(ctx, b); err != nil {
			return sum, err
		}
	}
	p.log.Info("patch run finished", "patched", sum.Patched, "clean", sum.Clean, "dry_run", sum.DryRun,
		"aborted", sum.Aborted, "failed", sum.Failed, "skipped", sum.Skipped)
	return sum, nil
}
