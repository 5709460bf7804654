package blocklist

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"adgobye.dev/internal/persistence/indexdb"
)

// NetworkStore caches remote blocklists between runs.
type NetworkStore interface {
	NetworkBlocklists(ctx context.Context) ([]indexdb.NetworkBlocklist, error)
	PutNetworkBlocklist(ctx context.Context, nb indexdb.NetworkBlocklist) error
	DeleteNetworkBlocklist(ctx context.Context, url string) error
}

// Loader assembles the rule Set from local files and cached network lists.
type Loader struct {
	Dir   string
	URLs  []string
	Store NetworkStore
	Log   *slog.Logger
}

// Load parses every *.toml file in Dir (created when missing) and, when
// URLs are configured, every cached network blocklist. Documents that fail
// to parse are logged and skipped.
func (l *Loader) Load(ctx context.Context) (*Set, error) {
	log := l.Log
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	set := NewSet()

	if l.Dir != "" {
		if err := os.MkdirAll(l.Dir, 0o755); err != nil {
			return nil, err
		}
		ents, err := os.ReadDir(l.Dir)
		if err != nil {
			return nil, err
		}
		for _, e := range ents {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".toml") {
				continue
			}
			p := filepath.Join(l.Dir, e.Name())
			data, err := os.ReadFile(p)
			if err != nil {
				log.Error("cannot read blocklist", "path", p, "err", err)
				continue
			}
			mergeDoc(set, log, p, data)
		}
	}

	if len(l.URLs) > 0 && l.Store != nil {
		cached, err := l.Store.NetworkBlocklists(ctx)
		if err != nil {
			return nil, err
		}
		for _, nb := range cached {
			if !slices.Contains(l.URLs, nb.URL) {
				continue
			}
			mergeDoc(set, log, nb.URL, []byte(nb.Contents))
		}
	}
	log.Info("loaded blocklists", "worlds", len(set.Worlds()), "rules", set.Len())
	return set, nil
}

func mergeDoc(set *Set, log *slog.Logger, location string, data []byte) {
	doc, err := Parse(data)
	if err != nil {
		log.Error("failed to parse blocklist", "location", location, "err", err)
		return
	}
	log.Info("read blocklist", "title", doc.Title, "maintainer", doc.Maintainer, "location", location)
	set.Merge(doc)
}
