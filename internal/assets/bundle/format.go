// Package bundle is a block-compressed container codec. A file is a header
// with a block table followed by the block payloads; the concatenated
// decompressed blocks hold a CBOR object table.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"adgobye.dev/internal/assets"
)

const (
	magic         = "AGBundle"
	formatVersion = 1

	// DefaultBlockSize matches the chunking used by the game's own bundles.
	DefaultBlockSize = 128 << 10

	flagStored  = 0x80
	schemeMask  = 0x3f
	maxBlocks   = 1 << 20
	maxEngineLn = 256
)

type blockInfo struct {
	flags          uint8
	compressedSize uint32
	rawSize        uint32
}

func (b blockInfo) scheme() assets.Compression { return assets.Compression(b.flags & schemeMask) }
func (b blockInfo) stored() bool               { return b.flags&flagStored != 0 }

type header struct {
	engineVersion string
	blocks        []blockInfo
}

func (h *header) size() int64 {
	return int64(len(magic)) + 2 + 2 + int64(len(h.engineVersion)) + 4 + int64(len(h.blocks))*9
}

func (h *header) payloadSize() int64 {
	var n int64
	for _, b := range h.blocks {
		n += int64(b.compressedSize)
	}
	return n
}

func (h *header) rawSize() uint64 {
	var n uint64
	for _, b := range h.blocks {
		n += uint64(b.rawSize)
	}
	return n
}

// compression returns the single scheme used by every block. Containers
// mixing schemes are rejected.
func (h *header) compression() (assets.Compression, error) {
	c := assets.CompressionNone
	for i, b := range h.blocks {
		s := b.scheme()
		if s > assets.CompressionZstd {
			return 0, fmt.Errorf("%w: block %d scheme %d", assets.ErrUnsupported, i, s)
		}
		if i == 0 {
			c = s
			continue
		}
		if s != c {
			return 0, fmt.Errorf("%w: mixed block schemes %s and %s", assets.ErrUnsupported, c, s)
		}
	}
	return c, nil
}

func readHeader(r io.Reader) (*header, error) {
	var m [len(magic)]byte
	if _, err := io.ReadFull(r, m[:]); err != nil {
		return nil, truncated(err)
	}
	if string(m[:]) != magic {
		return nil, fmt.Errorf("%w: bad magic", assets.ErrUnsupported)
	}
	var fixed [4]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		return nil, truncated(err)
	}
	if v := binary.BigEndian.Uint16(fixed[0:2]); v != formatVersion {
		return nil, fmt.Errorf("%w: format version %d", assets.ErrUnsupported, v)
	}
	engineLen := binary.BigEndian.Uint16(fixed[2:4])
	if engineLen > maxEngineLn {
		return nil, fmt.Errorf("%w: engine version length %d", assets.ErrUnsupported, engineLen)
	}
	engine := make([]byte, engineLen)
	if _, err := io.ReadFull(r, engine); err != nil {
		return nil, truncated(err)
	}
	var cnt [4]byte
	if _, err := io.ReadFull(r, cnt[:]); err != nil {
		return nil, truncated(err)
	}
	n := binary.BigEndian.Uint32(cnt[:])
	if n > maxBlocks {
		return nil, fmt.Errorf("%w: %d blocks", assets.ErrUnsupported, n)
	}
	h := &header{engineVersion: string(engine), blocks: make([]blockInfo, n)}
	var rec [9]byte
	for i := range h.blocks {
		if _, err := io.ReadFull(r, rec[:]); err != nil {
			return nil, truncated(err)
		}
		h.blocks[i] = blockInfo{
			flags:          rec[0],
			compressedSize: binary.BigEndian.Uint32(rec[1:5]),
			rawSize:        binary.BigEndian.Uint32(rec[5:9]),
		}
	}
	return h, nil
}

func writeHeader(w io.Writer, h *header) error {
	if len(h.engineVersion) > maxEngineLn {
		return fmt.Errorf("engine version too long: %d", len(h.engineVersion))
	}
	buf := make([]byte, 0, h.size())
	buf = append(buf, magic...)
	buf = binary.BigEndian.AppendUint16(buf, formatVersion)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(h.engineVersion)))
	buf = append(buf, h.engineVersion...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(h.blocks)))
	for _, b := range h.blocks {
		buf = append(buf, b.flags)
		buf = binary.BigEndian.AppendUint32(buf, b.compressedSize)
		buf = binary.BigEndian.AppendUint32(buf, b.rawSize)
	}
	_, err := w.Write(buf)
	return err
}

func truncated(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", assets.ErrTruncated, err)
	}
	return err
}
