package bundle

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"adgobye.dev/internal/assets"
)

func writeRaw(t *testing.T, h *header, payload []byte) string {
	t.Helper()
	var buf bytes.Buffer
	if err := writeHeader(&buf, h); err != nil {
		t.Fatalf("writeHeader: %v", err)
	}
	buf.Write(payload)
	p := filepath.Join(t.TempDir(), "__data")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestOpen_MixedSchemesUnsupported(t *testing.T) {
	h := &header{engineVersion: "2022.3.6f1", blocks: []blockInfo{
		{flags: uint8(assets.CompressionLZ4), compressedSize: 2, rawSize: 4},
		{flags: uint8(assets.CompressionZstd), compressedSize: 2, rawSize: 4},
	}}
	p := writeRaw(t, h, []byte{1, 2, 3, 4})

	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Open(p); !errors.Is(err, assets.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestOpen_StoredBlocksKeepScheme(t *testing.T) {
	h := &header{blocks: []blockInfo{
		{flags: uint8(assets.CompressionLZ4) | flagStored, compressedSize: 3, rawSize: 3},
		{flags: uint8(assets.CompressionLZ4), compressedSize: 2, rawSize: 9},
	}}
	p := writeRaw(t, h, []byte{1, 2, 3, 4, 5})

	c, err := New()
	if err != nil {
		t.Fatal(err)
	}
	ct, err := c.Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer ct.Close()
	if ct.Compression() != assets.CompressionLZ4 {
		t.Fatalf("compression=%s", ct.Compression())
	}
	if ct.DecompressedSize() != 12 {
		t.Fatalf("DecompressedSize=%d want 12", ct.DecompressedSize())
	}
}

func TestOpen_UnknownFormatVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString(magic)
	buf.Write([]byte{0, 9, 0, 0, 0, 0, 0, 0})
	p := filepath.Join(t.TempDir(), "__data")
	if err := os.WriteFile(p, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	c, _ := New()
	if _, err := c.Open(p); !errors.Is(err, assets.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestBlockCodec_IncompressibleIsStored(t *testing.T) {
	bc, err := newBlockCodec()
	if err != nil {
		t.Fatal(err)
	}
	raw := []byte{0x42}
	for _, scheme := range []assets.Compression{assets.CompressionLZ4, assets.CompressionZstd} {
		out, info, err := bc.compress(raw, scheme)
		if err != nil {
			t.Fatalf("%s: %v", scheme, err)
		}
		if !info.stored() || info.scheme() != scheme {
			t.Fatalf("%s: flags=%#x", scheme, info.flags)
		}
		back, err := bc.decompress(out, info)
		if err != nil || !bytes.Equal(back, raw) {
			t.Fatalf("%s: roundtrip %v %v", scheme, back, err)
		}
	}
}
