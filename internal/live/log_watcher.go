package live

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"adgobye.dev/internal/metrics"
)

const (
	DefaultLoadStartIndicator = "[Behaviour] Preparing assets..."
	DefaultLoadStopIndicator  = "Entering world"
	DefaultLogPollInterval    = 300 * time.Millisecond
)

type LogWatcherConfig struct {
	// Dir holds the game's *.txt logs.
	Dir            string
	StartIndicator string
	StopIndicator  string
	PollInterval   time.Duration
}

// LogWatcher follows the newest game log and drives the gate from world
// loading markers.
type LogWatcher struct {
	cfg     LogWatcherConfig
	gate    *Gate
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewLogWatcher(cfg LogWatcherConfig, gate *Gate, logger *slog.Logger, m *metrics.Metrics) *LogWatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if cfg.StartIndicator == "" {
		cfg.StartIndicator = DefaultLoadStartIndicator
	}
	if cfg.StopIndicator == "" {
		cfg.StopIndicator = DefaultLoadStopIndicator
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultLogPollInterval
	}
	return &LogWatcher{cfg: cfg, gate: gate, log: logger.With("component", "log_watcher"), metrics: m}
}

func isLog(name string) bool { return strings.EqualFold(filepath.Ext(name), ".txt") }

// gameLogPrefix starts every log the game writes; the rest of the name is
// its creation timestamp.
const gameLogPrefix = "output_log_"

// newestLog returns the most recently created log in dir, or "". Birth time
// is not portable, so game logs are ordered by their timestamped names and
// any other *.txt falls back to modification time.
func newestLog(dir string) (string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		newestGame string
		best       string
		bestMod    time.Time
	)
	for _, e := range ents {
		if e.IsDir() || !isLog(e.Name()) {
			continue
		}
		if strings.HasPrefix(e.Name(), gameLogPrefix) {
			newestGame = max(newestGame, e.Name())
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = filepath.Join(dir, e.Name()), info.ModTime()
		}
	}
	if newestGame != "" {
		return filepath.Join(dir, newestGame), nil
	}
	return best, nil
}

type tailTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (t *tailTask) stop() {
	if t == nil {
		return
	}
	t.cancel()
	<-t.done
}

// Run tails the newest existing log from its end. A newly created log
// replaces the current tail, is read from its start, and forces the gate
// open since a fresh game process is not mid-load.
func (w *LogWatcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("live: create log watcher: %w", err)
	}
	defer fsw.Close()
	if err := fsw.Add(w.cfg.Dir); err != nil {
		return fmt.Errorf("live: watch %s: %w", w.cfg.Dir, err)
	}

	var cur *tailTask
	defer func() { cur.stop() }()
	start := func(path string, fromEnd bool) {
		tctx, cancel := context.WithCancel(ctx)
		t := &tailTask{cancel: cancel, done: make(chan struct{})}
		go func() {
			defer close(t.done)
			if err := w.tail(tctx, path, fromEnd); err != nil {
				w.log.Error("log tail stopped", "path", path, "err", err)
			}
		}()
		cur = t
	}

	path, err := newestLog(w.cfg.Dir)
	if err != nil {
		return err
	}
	if path != "" {
		w.log.Info("reading log file", "path", path)
		start(path, true)
	} else {
		w.log.Info("no log file yet, waiting for one", "dir", w.cfg.Dir)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fsw.Events:
			if !ok {
				return errors.New("live: log watcher closed")
			}
			if !ev.Has(fsnotify.Create) || !isLog(ev.Name) {
				continue
			}
			cur.stop()
			w.metrics.WatcherEvent("log_rotated")
			w.gate.Open()
			w.log.Info("rotated log parsing", "path", ev.Name)
			start(ev.Name, false)

		case err, ok := <-fsw.Errors:
			if !ok {
				return errors.New("live: log watcher closed")
			}
			w.log.Warn("log watcher error", "err", err)
		}
	}
}

// tail reads appended lines until ctx ends. A trailing partial line is held
// until its newline arrives.
func (w *LogWatcher) tail(ctx context.Context, path string, fromEnd bool) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			return err
		}
	}

	r := bufio.NewReader(f)
	var partial strings.Builder
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()
	for {
		for {
			chunk, err := r.ReadString('\n')
			partial.WriteString(chunk)
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			w.handleLine(strings.TrimRight(partial.String(), "\r\n"))
			partial.Reset()
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (w *LogWatcher) handleLine(line string) {
	switch {
	case strings.Contains(line, w.cfg.StartIndicator):
		w.log.Debug("expecting world load", "line", line)
		w.metrics.WatcherEvent("load_start")
		w.gate.Close()
	case strings.Contains(line, w.cfg.StopIndicator):
		w.log.Debug("world load finished", "line", line)
		w.metrics.WatcherEvent("load_stop")
		w.gate.Open()
	}
}
