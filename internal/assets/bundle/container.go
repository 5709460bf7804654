package bundle

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"adgobye.dev/internal/assets"
)

type container struct {
	codec   *Codec
	path    string
	f       *os.File
	hdr     *header
	scheme  assets.Compression
	dataOff int64

	loaded  bool
	objects []*object
	byPath  map[int64]*object
	dirty   bool

	closeOnce sync.Once
	closeErr  error
	closed    bool
}

var _ assets.Container = (*container)(nil)

func (c *container) EngineVersion() string           { return c.hdr.engineVersion }
func (c *container) Compression() assets.Compression { return c.scheme }
func (c *container) DecompressedSize() uint64        { return c.hdr.rawSize() }
func (c *container) Dirty() bool                     { return c.dirty }

func (c *container) load() error {
	if c.loaded {
		return nil
	}
	if c.closed {
		return errors.New("bundle: container closed")
	}
	raw := make([]byte, 0, c.hdr.rawSize())
	off := c.dataOff
	for i, b := range c.hdr.blocks {
		data := make([]byte, b.compressedSize)
		if _, err := c.f.ReadAt(data, off); err != nil {
			return fmt.Errorf("%s block %d: %w", c.path, i, truncated(err))
		}
		off += int64(b.compressedSize)
		block, err := c.codec.blocks.decompress(data, b)
		if err != nil {
			return fmt.Errorf("%s block %d: %w", c.path, i, err)
		}
		raw = append(raw, block...)
	}
	var tbl objectTable
	if err := c.codec.dec.Unmarshal(raw, &tbl); err != nil {
		return fmt.Errorf("%s: %w: object table: %v", c.path, assets.ErrUnsupported, err)
	}
	c.objects = make([]*object, 0, len(tbl.Objects))
	c.byPath = make(map[int64]*object, len(tbl.Objects))
	for _, r := range tbl.Objects {
		if r.Fields == nil {
			r.Fields = map[string]any{}
		}
		o := &object{owner: c, rec: r}
		c.objects = append(c.objects, o)
		c.byPath[r.PathID] = o
	}
	c.loaded = true
	return nil
}

func (c *container) Objects(class assets.ClassID) ([]assets.Object, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	var out []assets.Object
	for _, o := range c.objects {
		if o.rec.Class == class {
			out = append(out, o)
		}
	}
	return out, nil
}

func (c *container) Object(ptr assets.PPtr) (assets.Object, error) {
	if err := c.load(); err != nil {
		return nil, err
	}
	// FileID != 0 points into an external container.
	if ptr.FileID != 0 {
		return nil, fmt.Errorf("%w: external reference %d/%d", assets.ErrNoObject, ptr.FileID, ptr.PathID)
	}
	o, ok := c.byPath[ptr.PathID]
	if !ok {
		return nil, fmt.Errorf("%w: path id %d", assets.ErrNoObject, ptr.PathID)
	}
	return o, nil
}

func (c *container) Serialize(w io.Writer) error {
	if err := c.load(); err != nil {
		return err
	}
	tbl := objectTable{Objects: make([]Record, len(c.objects))}
	for i, o := range c.objects {
		tbl.Objects[i] = o.rec
	}
	raw, err := c.codec.enc.Marshal(tbl)
	if err != nil {
		return fmt.Errorf("encode object table: %w", err)
	}
	return c.codec.writeBlocks(w, c.hdr.engineVersion, raw, assets.CompressionNone)
}

func (c *container) Close() error {
	c.closeOnce.Do(func() {
		c.closed = true
		c.closeErr = c.f.Close()
	})
	return c.closeErr
}

type object struct {
	owner *container
	rec   Record
}

func (o *object) PathID() int64         { return o.rec.PathID }
func (o *object) Class() assets.ClassID { return o.rec.Class }

func (o *object) Field(path string) (assets.Value, error) {
	var cur any = o.rec.Fields
	for _, key := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return assets.Value{}, fmt.Errorf("%w: %s", assets.ErrNoField, path)
		}
		cur, ok = m[key]
		if !ok {
			return assets.Value{}, fmt.Errorf("%w: %s", assets.ErrNoField, path)
		}
	}
	return assets.NewValue(cur), nil
}

// SetField replaces an existing leaf or adds a key to an existing map.
func (o *object) SetField(path string, v any) error {
	keys := strings.Split(path, ".")
	m := o.rec.Fields
	for _, key := range keys[:len(keys)-1] {
		next, ok := m[key].(map[string]any)
		if !ok {
			return fmt.Errorf("%w: %s", assets.ErrNoField, path)
		}
		m = next
	}
	m[keys[len(keys)-1]] = v
	o.owner.dirty = true
	return nil
}
