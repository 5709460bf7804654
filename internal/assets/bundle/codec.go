package bundle

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"adgobye.dev/internal/assets"
)

// Codec implements assets.Codec for bundle files. The zero value is not
// usable; call New.
type Codec struct {
	blockSize int
	blocks    *blockCodec
	enc       cbor.EncMode
	dec       cbor.DecMode
}

var _ assets.Codec = (*Codec)(nil)

type Option func(*Codec)

// WithBlockSize sets the raw size of blocks written by Serialize.
func WithBlockSize(n int) Option {
	return func(c *Codec) {
		if n > 0 {
			c.blockSize = n
		}
	}
}

func New(opts ...Option) (*Codec, error) {
	bc, err := newBlockCodec()
	if err != nil {
		return nil, err
	}
	enc, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, err
	}
	c := &Codec{blockSize: DefaultBlockSize, blocks: bc, enc: enc, dec: dec}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Open reads the header and block table. Blocks are decompressed on first
// object access.
func (c *Codec) Open(path string) (assets.Container, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, path)
		}
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	h, err := readHeader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	scheme, err := h.compression()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if need := h.size() + h.payloadSize(); st.Size() < need {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w: have %d bytes, header declares %d", path, assets.ErrTruncated, st.Size(), need)
	}
	return &container{
		codec:   c,
		path:    path,
		f:       f,
		hdr:     h,
		scheme:  scheme,
		dataOff: h.size(),
	}, nil
}

// Pack recompresses an uncompressed stream block by block. Output blocks keep
// the input chunking.
func (c *Codec) Pack(dst io.Writer, src io.Reader, scheme assets.Compression) error {
	if scheme > assets.CompressionZstd {
		return fmt.Errorf("%w: scheme %s", assets.ErrUnsupported, scheme)
	}
	in, err := readHeader(src)
	if err != nil {
		return err
	}
	out := &header{engineVersion: in.engineVersion, blocks: make([]blockInfo, len(in.blocks))}
	payload := make([][]byte, len(in.blocks))
	for i, b := range in.blocks {
		data := make([]byte, b.compressedSize)
		if _, err := io.ReadFull(src, data); err != nil {
			return truncated(err)
		}
		raw, err := c.blocks.decompress(data, b)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		comp, info, err := c.blocks.compress(raw, scheme)
		if err != nil {
			return fmt.Errorf("block %d: %w", i, err)
		}
		payload[i] = comp
		out.blocks[i] = info
	}
	if err := writeHeader(dst, out); err != nil {
		return err
	}
	for _, p := range payload {
		if _, err := dst.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// Encode writes objects as a complete bundle compressed with scheme. It is
// the constructor for new files; Container.Serialize covers rewrites.
func (c *Codec) Encode(w io.Writer, engineVersion string, objects []Record, scheme assets.Compression) error {
	raw, err := c.enc.Marshal(objectTable{Objects: objects})
	if err != nil {
		return fmt.Errorf("encode object table: %w", err)
	}
	return c.writeBlocks(w, engineVersion, raw, scheme)
}

func (c *Codec) writeBlocks(w io.Writer, engineVersion string, raw []byte, scheme assets.Compression) error {
	h := &header{engineVersion: engineVersion}
	var payload bytes.Buffer
	for off := 0; off < len(raw); off += c.blockSize {
		end := min(off+c.blockSize, len(raw))
		comp, info, err := c.blocks.compress(raw[off:end], scheme)
		if err != nil {
			return err
		}
		h.blocks = append(h.blocks, info)
		payload.Write(comp)
	}
	if err := writeHeader(w, h); err != nil {
		return err
	}
	_, err := payload.WriteTo(w)
	return err
}

// Record is one serialized object.
type Record struct {
	PathID int64          `cbor:"1,keyasint"`
	Class  assets.ClassID `cbor:"2,keyasint"`
	Fields map[string]any `cbor:"3,keyasint"`
}

type objectTable struct {
	Objects []Record `cbor:"1,keyasint"`
}
