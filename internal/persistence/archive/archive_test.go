package archive

import (
	"os"
	"path/filepath"
	"testing"
)

func TestPreserve_SurvivesReplace(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "__data")
	if err := os.WriteFile(src, []byte("old"), 0o644); err != nil {
		t.Fatalf("write src: %v", err)
	}
	if err := os.WriteFile(src+".bak", []byte("stale"), 0o644); err != nil {
		t.Fatalf("write stale: %v", err)
	}

	bak, err := Preserve(src, ".bak")
	if err != nil {
		t.Fatalf("Preserve: %v", err)
	}
	if bak != src+".bak" {
		t.Fatalf("bak=%s", bak)
	}

	tmp := filepath.Join(dir, "__data.clean")
	if err := os.WriteFile(tmp, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.Rename(tmp, src); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(bak)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(got) != "old" {
		t.Fatalf("backup=%q want old", got)
	}
	got, _ = os.ReadFile(src)
	if string(got) != "new" {
		t.Fatalf("src=%q want new", got)
	}
}

func TestCopyFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a")
	if err := os.WriteFile(src, []byte("payload"), 0o600); err != nil {
		t.Fatal(err)
	}
	dst := filepath.Join(dir, "b")
	if err := copyFile(src, dst); err != nil {
		t.Fatalf("copyFile: %v", err)
	}
	got, _ := os.ReadFile(dst)
	if string(got) != "payload" {
		t.Fatalf("dst=%q", got)
	}
}

func TestPreserve_MissingSource(t *testing.T) {
	if _, err := Preserve(filepath.Join(t.TempDir(), "nope"), ".bak"); err == nil {
		t.Fatalf("expected error")
	}
}
