package blocklist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"adgobye.dev/internal/persistence/indexdb"
)

const sampleList = `
title = "Base"
description = "Sample rules"
maintainer = "someone"

[[block]]
friendly_name = "Hub"
world_id = "wrld_hub"
game_objects = [
  { name = "Ad_Panel" },
  { name = "Screen", position = { x = 1, y = 2.5, z = -3 }, parent = { name = "Billboard" } },
]

[[block]]
world_id = "wrld_other"
game_objects = [{ name = "Poster" }]
`

func TestParse(t *testing.T) {
	doc, err := Parse([]byte(sampleList))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if doc.Title != "Base" || doc.Maintainer != "someone" || len(doc.Blocks) != 2 {
		t.Fatalf("doc=%+v", doc)
	}
	hub := doc.Blocks[0]
	if hub.FriendlyName != "Hub" || hub.WorldID != "wrld_hub" || len(hub.GameObjects) != 2 {
		t.Fatalf("hub=%+v", hub)
	}
	screen := hub.GameObjects[1]
	if screen.Position == nil || *screen.Position != (Position{X: 1, Y: 2.5, Z: -3}) {
		t.Fatalf("position=%+v", screen.Position)
	}
	if screen.Parent == nil || screen.Parent.Name != "Billboard" || screen.Parent.Position != nil {
		t.Fatalf("parent=%+v", screen.Parent)
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"syntax":        "title = ",
		"missing world": "[[block]]\ngame_objects = [{ name = \"x\" }]\n",
		"empty name":    "[[block]]\nworld_id = \"w\"\ngame_objects = [{ name = \"\" }]\n",
		"bad position":  "[[block]]\nworld_id = \"w\"\ngame_objects = [{ name = \"x\", position = { x = 1 } }]\n",
		"unknown key":   "[[block]]\nworld_id = \"w\"\ngame_objects = [{ name = \"x\", colour = \"red\" }]\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestSet_DeduplicatesByValue(t *testing.T) {
	s := NewSet()
	if n := s.Add("w", ObjectRule{Name: "A"}, ObjectRule{Name: "A"}, ObjectRule{Name: "B", Position: pos(1, 2, 3)}); n != 2 {
		t.Fatalf("added=%d", n)
	}
	if n := s.Add("w", ObjectRule{Name: "B", Position: pos(1, 2, 3)}); n != 0 {
		t.Fatalf("duplicate rule added")
	}
	s.Add("v", ObjectRule{Name: "A"})
	if s.Len() != 3 || len(s.For("w")) != 2 || len(s.For("v")) != 1 {
		t.Fatalf("len=%d w=%v v=%v", s.Len(), s.For("w"), s.For("v"))
	}
	if s.Has("missing") || len(s.For("missing")) != 0 {
		t.Fatalf("unknown world must have no rules")
	}
	if got := s.Worlds(); len(got) != 2 || got[0] != "v" || got[1] != "w" {
		t.Fatalf("worlds=%v", got)
	}
}

func openStore(t *testing.T) *indexdb.SQLiteIndex {
	t.Helper()
	st, err := indexdb.OpenSQLite(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestLoader_MergesFilesAndCachedLists(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "Blocklists")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "base.toml"), []byte(sampleList), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "broken.toml"), []byte("[[block]"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	st := openStore(t)
	remote := "[[block]]\nworld_id = \"wrld_hub\"\ngame_objects = [{ name = \"Ad_Panel\" }, { name = \"Kiosk\" }]\n"
	if err := st.PutNetworkBlocklist(ctx, indexdb.NetworkBlocklist{URL: "https://lists/a.toml", Contents: remote}); err != nil {
		t.Fatal(err)
	}

	set, err := (&Loader{Dir: dir, URLs: []string{"https://lists/a.toml"}, Store: st}).Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := set.For("wrld_hub"); len(got) != 3 {
		t.Fatalf("wrld_hub rules=%v", got)
	}
	if got := set.For("wrld_other"); len(got) != 1 {
		t.Fatalf("wrld_other rules=%v", got)
	}

	// Without configured URLs the cache is ignored.
	set, err = (&Loader{Dir: dir, Store: st}).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := set.For("wrld_hub"); len(got) != 2 {
		t.Fatalf("wrld_hub rules=%v", got)
	}
}

func TestLoader_CreatesMissingDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "Blocklists")
	set, err := (&Loader{Dir: dir}).Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 0 {
		t.Fatalf("len=%d", set.Len())
	}
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		t.Fatalf("dir not created: %v", err)
	}
}

func TestUpdater_ETagRevalidation(t *testing.T) {
	ctx := context.Background()
	var (
		hits      atomic.Int32
		fail      atomic.Bool
		gotUA     atomic.Value
		gotIfNone atomic.Value
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		gotUA.Store(r.Header.Get("User-Agent"))
		gotIfNone.Store(r.Header.Get("If-None-Match"))
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte(sampleList))
	}))
	defer srv.Close()

	st := openStore(t)
	if err := st.PutNetworkBlocklist(ctx, indexdb.NetworkBlocklist{URL: "https://gone/list.toml", Contents: "x"}); err != nil {
		t.Fatal(err)
	}
	u := &Updater{URLs: []string{srv.URL}, Store: st, Client: srv.Client()}

	if err := u.Update(ctx); err != nil {
		t.Fatalf("Update: %v", err)
	}
	rows, _ := st.NetworkBlocklists(ctx)
	if len(rows) != 1 || rows[0].URL != srv.URL || rows[0].ETag != `"v1"` || rows[0].Contents != sampleList {
		t.Fatalf("rows=%+v", rows)
	}
	if gotUA.Load() != DefaultUserAgent || gotIfNone.Load() != "" {
		t.Fatalf("headers ua=%v inm=%v", gotUA.Load(), gotIfNone.Load())
	}

	if err := u.Update(ctx); err != nil {
		t.Fatal(err)
	}
	if gotIfNone.Load() != `"v1"` {
		t.Fatalf("If-None-Match=%v", gotIfNone.Load())
	}

	fail.Store(true)
	if err := u.Update(ctx); err != nil {
		t.Fatal(err)
	}
	rows, _ = st.NetworkBlocklists(ctx)
	if len(rows) != 1 || rows[0].Contents != sampleList {
		t.Fatalf("failed fetch must keep the cache: %+v", rows)
	}
	if hits.Load() != 3 {
		t.Fatalf("hits=%d", hits.Load())
	}
}
