package bundle

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"adgobye.dev/internal/assets"
)

type blockCodec struct {
	enc *zstd.Encoder
	dec *zstd.Decoder
}

func newBlockCodec() (*blockCodec, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = enc.Close()
		return nil, err
	}
	return &blockCodec{enc: enc, dec: dec}, nil
}

// compress encodes raw with scheme. Blocks that do not shrink are stored and
// flagged so the container keeps a single declared scheme.
func (bc *blockCodec) compress(raw []byte, scheme assets.Compression) ([]byte, blockInfo, error) {
	info := blockInfo{flags: uint8(scheme), rawSize: uint32(len(raw))}
	var out []byte
	switch scheme {
	case assets.CompressionNone:
		out = raw
	case assets.CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, blockInfo{}, fmt.Errorf("lz4 compress: %w", err)
		}
		if n > 0 && n < len(raw) {
			out = dst[:n]
		}
	case assets.CompressionZstd:
		if enc := bc.enc.EncodeAll(raw, nil); len(enc) < len(raw) {
			out = enc
		}
	default:
		return nil, blockInfo{}, fmt.Errorf("%w: scheme %s", assets.ErrUnsupported, scheme)
	}
	if out == nil {
		out = raw
		info.flags |= flagStored
	}
	info.compressedSize = uint32(len(out))
	return out, info, nil
}

// decompress expands one block to exactly its declared size.
func (bc *blockCodec) decompress(data []byte, info blockInfo) ([]byte, error) {
	want := int(info.rawSize)
	if info.stored() || info.scheme() == assets.CompressionNone {
		if len(data) != want {
			return nil, fmt.Errorf("stored block: size %d, declared %d", len(data), want)
		}
		return data, nil
	}
	switch info.scheme() {
	case assets.CompressionLZ4:
		dst := make([]byte, want)
		n, err := lz4.UncompressBlock(data, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != want {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, declared %d", n, want)
		}
		return dst, nil
	case assets.CompressionZstd:
		out, err := bc.dec.DecodeAll(data, make([]byte, 0, want))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != want {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, declared %d", len(out), want)
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: scheme %s", assets.ErrUnsupported, info.scheme())
}
