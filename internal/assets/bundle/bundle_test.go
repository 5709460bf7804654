package bundle_test

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/assets/assettest"
)

func TestOpen_ReadsObjects(t *testing.T) {
	b := assettest.New()
	b.Descriptor("wrld_1", 1)
	panel := b.GameObject("Ad_Panel").At(1.5, 2, -3)
	b.GameObject("Child").Under(panel).Rect()
	b.Padding(20 << 10)

	p := filepath.Join(t.TempDir(), "__data")
	b.WriteFile(t, p)

	codec := assettest.Codec(t)
	c, err := codec.Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if c.Compression() != assets.CompressionLZ4 {
		t.Fatalf("compression=%s", c.Compression())
	}
	if c.EngineVersion() != assettest.DefaultEngine {
		t.Fatalf("engine=%q", c.EngineVersion())
	}
	if c.DecompressedSize() < 20<<10 {
		t.Fatalf("DecompressedSize=%d", c.DecompressedSize())
	}

	obj := assettest.Find(t, c, "Ad_Panel")
	if !assets.IsActive(obj) {
		t.Fatalf("Ad_Panel should start active")
	}
	comps, err := assets.Components(c, obj)
	if err != nil || len(comps) != 1 {
		t.Fatalf("components=%d err=%v", len(comps), err)
	}
	pos, err := comps[0].Field(assets.FieldLocalPosition)
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	v, ok := pos.AsVector3()
	if !ok || v != (assets.Vector3{X: 1.5, Y: 2, Z: -3}) {
		t.Fatalf("position=%+v ok=%v", v, ok)
	}

	child := assettest.Find(t, c, "Child")
	cc, _ := assets.Components(c, child)
	if len(cc) != 1 || cc[0].Class() != assets.ClassRectTransform {
		t.Fatalf("child transform: %+v", cc)
	}
	father, err := assets.Father(c, cc[0])
	if err != nil {
		t.Fatalf("Father: %v", err)
	}
	owner, err := assets.Owner(c, father)
	if err != nil || assets.Name(owner) != "Ad_Panel" {
		t.Fatalf("owner=%v err=%v", owner, err)
	}
	if _, err := assets.Father(c, comps[0]); !errors.Is(err, assets.ErrNoObject) {
		t.Fatalf("root Father: expected ErrNoObject, got %v", err)
	}
	if _, err := obj.Field("m_Missing"); !errors.Is(err, assets.ErrNoField) {
		t.Fatalf("expected ErrNoField, got %v", err)
	}
}

func TestOpen_Errors(t *testing.T) {
	codec := assettest.Codec(t)
	dir := t.TempDir()

	if _, err := codec.Open(filepath.Join(dir, "missing")); !errors.Is(err, assets.ErrNotFound) {
		t.Fatalf("missing: expected ErrNotFound, got %v", err)
	}

	b := assettest.New()
	b.GameObject("A")
	b.Padding(8 << 10)
	full := b.Bytes(t)

	short := filepath.Join(dir, "short")
	if err := os.WriteFile(short, full[:len(full)-10], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Open(short); !errors.Is(err, assets.ErrTruncated) {
		t.Fatalf("short payload: expected ErrTruncated, got %v", err)
	}

	tiny := filepath.Join(dir, "tiny")
	if err := os.WriteFile(tiny, full[:5], 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Open(tiny); !errors.Is(err, assets.ErrTruncated) {
		t.Fatalf("short header: expected ErrTruncated, got %v", err)
	}

	garbage := filepath.Join(dir, "garbage")
	if err := os.WriteFile(garbage, []byte("UnityWeb-not-a-bundle"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := codec.Open(garbage); !errors.Is(err, assets.ErrUnsupported) {
		t.Fatalf("garbage: expected ErrUnsupported, got %v", err)
	}
}

func TestSerializeAndPack(t *testing.T) {
	b := assettest.New()
	b.GameObject("Ad_Panel")
	b.Padding(16 << 10)
	p := filepath.Join(t.TempDir(), "__data")
	b.WriteFile(t, p)

	codec := assettest.Codec(t)
	c, err := codec.Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	obj := assettest.Find(t, c, "Ad_Panel")
	if err := obj.SetField(assets.FieldIsActive, false); err != nil {
		t.Fatalf("SetField: %v", err)
	}
	if !c.Dirty() {
		t.Fatalf("SetField must mark the container dirty")
	}

	var native bytes.Buffer
	if err := c.Serialize(&native); err != nil {
		t.Fatalf("Serialize: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	for _, scheme := range []assets.Compression{assets.CompressionNone, assets.CompressionLZ4, assets.CompressionZstd} {
		var packed bytes.Buffer
		if err := codec.Pack(&packed, bytes.NewReader(native.Bytes()), scheme); err != nil {
			t.Fatalf("Pack(%s): %v", scheme, err)
		}
		out := filepath.Join(t.TempDir(), "__data")
		if err := os.WriteFile(out, packed.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
		re, err := codec.Open(out)
		if err != nil {
			t.Fatalf("reopen(%s): %v", scheme, err)
		}
		if re.Compression() != scheme {
			t.Fatalf("reopen: compression=%s want %s", re.Compression(), scheme)
		}
		if assets.IsActive(assettest.Find(t, re, "Ad_Panel")) {
			t.Fatalf("%s: edit lost in round trip", scheme)
		}
		if re.Dirty() {
			t.Fatalf("%s: freshly opened container is dirty", scheme)
		}
		_ = re.Close()
	}
}

func TestObjects_AfterCloseFails(t *testing.T) {
	b := assettest.New()
	b.GameObject("A")
	p := filepath.Join(t.TempDir(), "__data")
	b.WriteFile(t, p)

	c, err := assettest.Codec(t).Open(p)
	if err != nil {
		t.Fatal(err)
	}
	_ = c.Close()
	if _, err := c.Objects(assets.ClassGameObject); err == nil {
		t.Fatalf("expected error after Close")
	}
}
