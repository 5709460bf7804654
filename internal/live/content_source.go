package live

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"adgobye.dev/internal/content"
	"adgobye.dev/internal/metrics"
)

type EventKind int

const (
	Created EventKind = iota
	Deleted
)

func (k EventKind) String() string {
	if k == Created {
		return "created"
	}
	return "deleted"
}

// ContentEvent reports a version appearing or disappearing. Path is the
// version's data file.
type ContentEvent struct {
	Kind EventKind
	Path string
}

// ContentSource streams content events until ctx ends.
type ContentSource interface {
	Run(ctx context.Context, out chan<- ContentEvent) error
}

// FSContentSource watches a cache directory tree. The game writes InfoFile
// before DataFile, and DataFile creation is not reliably reported on every
// platform, so InfoFile events stand in for their sibling DataFile.
type FSContentSource struct {
	root    string
	fsw     *fsnotify.Watcher
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewFSContentSource(root string, logger *slog.Logger, m *metrics.Metrics) (*FSContentSource, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("live: create content watcher: %w", err)
	}
	s := &FSContentSource{root: root, fsw: fsw, log: logger.With("component", "content_watcher"), metrics: m}
	if err := s.addTree(root, nil); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return s, nil
}

// addTree watches dir and every directory below it. When found is non-nil
// it receives each InfoFile already present, covering files created before
// the watch on their directory was in place.
func (s *FSContentSource) addTree(dir string, found func(path string)) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == dir {
				return err
			}
			s.log.Warn("skipping unreadable path", "path", p, "err", err)
			return nil
		}
		if !d.IsDir() {
			if found != nil && d.Name() == content.InfoFile {
				found(p)
			}
			return nil
		}
		if err := s.fsw.Add(p); err != nil {
			return fmt.Errorf("live: watch %s: %w", p, err)
		}
		return nil
	})
}

func dataPathFor(info string) string {
	return filepath.Join(filepath.Dir(info), content.DataFile)
}

// Run forwards events to out until ctx ends. It closes the underlying
// watcher on return.
func (s *FSContentSource) Run(ctx context.Context, out chan<- ContentEvent) error {
	defer s.fsw.Close()
	emit := func(kind EventKind, info string) {
		s.metrics.WatcherEvent("content_" + kind.String())
		select {
		case out <- ContentEvent{Kind: kind, Path: dataPathFor(info)}:
		case <-ctx.Done():
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-s.fsw.Events:
			if !ok {
				return errors.New("live: content watcher closed")
			}
			switch {
			case ev.Has(fsnotify.Create):
				if st, err := os.Stat(ev.Name); err == nil && st.IsDir() {
					if err := s.addTree(ev.Name, func(p string) { emit(Created, p) }); err != nil {
						s.log.Warn("cannot watch new directory", "path", ev.Name, "err", err)
					}
					continue
				}
				if filepath.Base(ev.Name) == content.InfoFile {
					emit(Created, ev.Name)
				}
			case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
				if filepath.Base(ev.Name) == content.InfoFile {
					emit(Deleted, ev.Name)
				}
			}

		case err, ok := <-s.fsw.Errors:
			if !ok {
				return errors.New("live: content watcher closed")
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				s.metrics.WatcherEvent("overflow")
				s.log.Warn("filesystem event buffer overflowed, some content events were missed and the index may be stale until the next restart")
				continue
			}
			s.log.Error("content watcher error", "err", err)
		}
	}
}
