package live

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"adgobye.dev/internal/content"
	"adgobye.dev/internal/indexer"
	"adgobye.dev/internal/metrics"
	"adgobye.dev/internal/patcher"
	"adgobye.dev/internal/persistence/indexdb"
)

type Indexer interface {
	Ingest(ctx context.Context, paths ...string) (indexer.IngestResult, error)
	LookupByPath(ctx context.Context, path string) (content.Content, bool, error)
	RemoveByPath(ctx context.Context, path string) (bool, error)
}

type Patcher interface {
	Patch(ctx context.Context, c *content.Content) (patcher.Outcome, error)
}

type Store interface {
	Apply(ctx context.Context, b *indexdb.Batch) (indexdb.BatchStats, error)
}

// Notifier is told about index and patch activity. Implementations must
// not block.
type Notifier interface {
	Indexed(kind EventKind, path string, c *content.Content)
	Patched(c content.Content, out patcher.Outcome)
}

type SyncConfig struct {
	// TruncatedRetries bounds how often a still-downloading data file is
	// re-ingested before the event is dropped.
	TruncatedRetries int
	RetryDelay       time.Duration
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.TruncatedRetries <= 0 {
		c.TruncatedRetries = 20
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 500 * time.Millisecond
	}
	return c
}

// Synchronizer reacts to content events: created versions are indexed and,
// once the gate is open, patched; deleted versions leave the index.
type Synchronizer struct {
	cfg      SyncConfig
	source   ContentSource
	logs     *LogWatcher
	gate     *Gate
	index    Indexer
	patch    Patcher
	store    Store
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics

	locks pathLocks
}

func NewSynchronizer(cfg SyncConfig, source ContentSource, logs *LogWatcher, gate *Gate, ix Indexer, p Patcher, store Store, n Notifier, logger *slog.Logger, m *metrics.Metrics) *Synchronizer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Synchronizer{
		cfg:      cfg.withDefaults(),
		source:   source,
		logs:     logs,
		gate:     gate,
		index:    ix,
		patch:    p,
		store:    store,
		notifier: n,
		log:      logger.With("component", "sync"),
		metrics:  m,
		locks:    pathLocks{m: map[string]*pathLock{}},
	}
}

// Run blocks until ctx ends or a watcher fails. Each event is handled on its
// own goroutine; events for the same data file are serialised.
func (s *Synchronizer) Run(ctx context.Context) error {
	events := make(chan ContentEvent, 64)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.source.Run(gctx, events) })
	if s.logs != nil {
		g.Go(func() error { return s.logs.Run(gctx) })
	}
	g.Go(func() error {
		var wg sync.WaitGroup
		defer wg.Wait()
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev := <-events:
				wg.Add(1)
				go func() {
					defer wg.Done()
					s.Handle(gctx, ev)
				}()
			}
		}
	})
	s.log.Info("live synchronization started")
	err := g.Wait()
	s.log.Info("live synchronization stopped")
	return err
}

// Handle processes one event to completion. Events are serialised per
// stable name: every version directory of one stable name resolves to the
// same row and data file.
func (s *Synchronizer) Handle(ctx context.Context, ev ContentEvent) {
	unlock := s.locks.lock(content.StableDir(ev.Path))
	defer unlock()

	log := s.log.With("event", ev.Kind.String(), "path", ev.Path)
	switch ev.Kind {
	case Created:
		s.created(ctx, log, ev.Path)
	case Deleted:
		removed, err := s.index.RemoveByPath(ctx, ev.Path)
		if err != nil {
			log.Error("remove from index failed", "err", err)
			return
		}
		if removed && s.notifier != nil {
			s.notifier.Indexed(Deleted, ev.Path, nil)
		}
	}
}

func (s *Synchronizer) created(ctx context.Context, log *slog.Logger, path string) {
	for attempt := 1; ; attempt++ {
		res, err := s.index.Ingest(ctx, path)
		if err != nil {
			log.Error("ingest failed", "err", err)
			return
		}
		if len(res.Truncated) == 0 {
			break
		}
		if attempt >= s.cfg.TruncatedRetries {
			log.Warn("data file never completed, giving up", "attempts", attempt)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.RetryDelay):
		}
	}

	if !s.gate.IsOpen() {
		log.Debug("waiting for world load to finish")
	}
	select {
	case <-ctx.Done():
		return
	case <-s.gate.Ready():
	}

	// The row may have moved on while we waited.
	c, ok, err := s.index.LookupByPath(ctx, path)
	if err != nil {
		log.Error("lookup failed", "err", err)
		return
	}
	if !ok {
		log.Debug("not indexed, nothing to patch")
		return
	}
	if s.notifier != nil {
		s.notifier.Indexed(Created, path, &c)
	}
	if c.Type != content.World {
		return
	}

	out, err := s.patch.Patch(ctx, &c)
	if err != nil {
		log.Error("patch failed", "id", c.ID, "err", err)
		return
	}
	if out.Changed {
		b := indexdb.NewBatch()
		b.Edit(c)
		if _, err := s.store.Apply(ctx, b); err != nil {
			log.Error("persist patch state failed", "id", c.ID, "err", err)
			return
		}
	}
	if s.notifier != nil {
		s.notifier.Patched(c, out)
	}
}

type pathLock struct {
	mu   sync.Mutex
	refs int
}

// pathLocks is a keyed mutex whose entries are dropped when unused.
type pathLocks struct {
	mu sync.Mutex
	m  map[string]*pathLock
}

func (l *pathLocks) lock(key string) func() {
	l.mu.Lock()
	pl, ok := l.m[key]
	if !ok {
		pl = &pathLock{}
		l.m[key] = pl
	}
	pl.refs++
	l.mu.Unlock()

	pl.mu.Lock()
	return func() {
		pl.mu.Unlock()
		l.mu.Lock()
		if pl.refs--; pl.refs == 0 {
			delete(l.m, key)
		}
		l.mu.Unlock()
	}
}
