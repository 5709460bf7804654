package indexdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"

	_ "modernc.org/sqlite"

	"adgobye.dev/internal/content"
)

func openTemp(t *testing.T) (*SQLiteIndex, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.db")
	idx, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx, path
}

func world(id, stable string, v uint32) content.Content {
	return content.Content{
		ID:         id,
		Type:       content.World,
		StableName: stable,
		VersionMeta: content.VersionMeta{
			Version:   v,
			Path:      "/cache/" + stable + "/0000000" + string(rune('0'+v)),
			PatchedBy: content.PatchedBy{"Blocklist"},
		},
	}
}

func TestSQLiteIndex_ApplyAndFind(t *testing.T) {
	ctx := context.Background()
	idx, path := openTemp(t)

	b := NewBatch()
	b.Add(world("wrld_a", "A", 1))
	b.Add(world("wrld_b", "B", 2))
	stats, err := idx.Apply(ctx, b)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.Added != 2 || b.Len() != 0 {
		t.Fatalf("stats=%+v len=%d", stats, b.Len())
	}

	got, ok, err := idx.FindByStableName(ctx, "A")
	if err != nil || !ok {
		t.Fatalf("FindByStableName: ok=%v err=%v", ok, err)
	}
	if got.ID != "wrld_a" || got.VersionMeta.Version != 1 || !got.VersionMeta.PatchedBy.Has("Blocklist") {
		t.Fatalf("row mismatch: %+v", got)
	}
	if _, ok, _ := idx.FindByID(ctx, "missing"); ok {
		t.Fatalf("FindByID(missing) should not be found")
	}

	// Independent reader sees the committed rows.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	defer db.Close()
	var patched string
	if err := db.QueryRow(`SELECT patched_by FROM contents WHERE id='wrld_b'`).Scan(&patched); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if patched != `["Blocklist"]` {
		t.Fatalf("patched_by=%q", patched)
	}
}

func TestSQLiteIndex_LastStagedWriteWins(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)

	seed := NewBatch()
	seed.Add(world("wrld_a", "A", 1))
	seed.Add(world("wrld_b", "B", 1))
	if _, err := idx.Apply(ctx, seed); err != nil {
		t.Fatal(err)
	}

	b := NewBatch()
	edited := world("wrld_a", "A", 2)
	edited.VersionMeta.PatchedBy = nil
	b.Edit(edited)
	b.Remove("wrld_b")
	b.Add(world("wrld_b", "B", 3))
	b.Remove("wrld_b")
	stats, err := idx.Apply(ctx, b)
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if stats.Edited != 1 || stats.Removed != 1 || stats.Added != 0 {
		t.Fatalf("stats=%+v", stats)
	}

	all, err := idx.All(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != "wrld_a" || all[0].VersionMeta.Version != 2 {
		t.Fatalf("rows=%+v", all)
	}
	if len(all[0].VersionMeta.PatchedBy) != 0 {
		t.Fatalf("patched_by should be empty: %v", all[0].VersionMeta.PatchedBy)
	}
}

func TestSQLiteIndex_MigrationReplacesStableSlot(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)

	seed := NewBatch()
	seed.Add(world("wrld_a", "A", 1))
	if _, err := idx.Apply(ctx, seed); err != nil {
		t.Fatal(err)
	}

	b := NewBatch()
	b.Edit(world("wrld_a", "A2", 1))
	if _, err := idx.Apply(ctx, b); err != nil {
		t.Fatal(err)
	}
	n, err := idx.Count(ctx)
	if err != nil || n != 1 {
		t.Fatalf("Count=%d err=%v", n, err)
	}
	if _, ok, _ := idx.FindByStableName(ctx, "A"); ok {
		t.Fatalf("old stable name should be gone")
	}
	if c, ok, _ := idx.FindByStableName(ctx, "A2"); !ok || c.ID != "wrld_a" {
		t.Fatalf("migrated row missing: %+v", c)
	}
}

func TestBatch_ConcurrentStaging(t *testing.T) {
	b := NewBatch()
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c := world("id", "S", 1)
			c.ID = string(rune('a' + i%8))
			b.Add(c)
		}(i)
	}
	wg.Wait()
	if b.Len() != 8 {
		t.Fatalf("Len=%d want 8", b.Len())
	}
	if _, removed, ok := b.Staged("a"); !ok || removed {
		t.Fatalf("Staged(a): ok=%v removed=%v", ok, removed)
	}
}

func TestSQLiteIndex_NetworkBlocklists(t *testing.T) {
	ctx := context.Background()
	idx, _ := openTemp(t)

	if err := idx.PutNetworkBlocklist(ctx, NetworkBlocklist{URL: "https://x/list.toml", Contents: "title='x'", ETag: `"v1"`}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := idx.PutNetworkBlocklist(ctx, NetworkBlocklist{URL: "https://y/list.toml", Contents: "title='y'"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := idx.NetworkBlocklists(ctx)
	if err != nil || len(got) != 2 {
		t.Fatalf("NetworkBlocklists: %v %+v", err, got)
	}
	if got[0].ETag != `"v1"` || got[1].ETag != "" || got[0].UpdatedAt.IsZero() {
		t.Fatalf("rows=%+v", got)
	}
	if err := idx.DeleteNetworkBlocklist(ctx, "https://x/list.toml"); err != nil {
		t.Fatal(err)
	}
	got, _ = idx.NetworkBlocklists(ctx)
	if len(got) != 1 || got[0].URL != "https://y/list.toml" {
		t.Fatalf("after delete: %+v", got)
	}
}

func TestSQLiteIndex_ClosedIsIdempotent(t *testing.T) {
	idx, _ := openTemp(t)
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if err := idx.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := idx.All(context.Background()); err != ErrClosed {
		t.Fatalf("All after close: %v", err)
	}
}
