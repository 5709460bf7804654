package assettest

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/assets/bundle"
	"adgobye.dev/internal/content"
)

const DefaultEngine = "2022.3.6f1"

// Builder assembles an object table for a bundle fixture.
//
// Objects are created through exported helpers only so fixtures stay valid
// against the same accessors the production code uses.
type Builder struct {
	Engine      string
	Compression assets.Compression

	recs   []bundle.Record
	byPath map[int64]int
	next   int64
}

func New() *Builder {
	return &Builder{Engine: DefaultEngine, Compression: assets.CompressionLZ4, byPath: map[int64]int{}, next: 1}
}

// GameObject is a handle to a fixture game object and its transform.
type GameObject struct {
	b         *Builder
	GO        int64
	Transform int64
}

func (b *Builder) add(class assets.ClassID, fields map[string]any) int64 {
	id := b.next
	b.next++
	b.byPath[id] = len(b.recs)
	b.recs = append(b.recs, bundle.Record{PathID: id, Class: class, Fields: fields})
	return id
}

func (b *Builder) fields(id int64) map[string]any { return b.recs[b.byPath[id]].Fields }

func ptr(id int64) map[string]any { return assets.PPtrValue(assets.PPtr{PathID: id}) }

// GameObject adds an active game object with a root Transform at the origin.
func (b *Builder) GameObject(name string) *GameObject {
	goID := b.add(assets.ClassGameObject, map[string]any{
		assets.FieldName:      name,
		assets.FieldIsActive:  true,
		assets.FieldComponent: []any{},
	})
	tr := b.add(assets.ClassTransform, map[string]any{
		assets.FieldGameObject:    ptr(goID),
		assets.FieldFather:        ptr(0),
		assets.FieldLocalPosition: assets.Vector3Value(assets.Vector3{}),
	})
	g := &GameObject{b: b, GO: goID, Transform: tr}
	g.attach(tr)
	return g
}

func (g *GameObject) attach(component int64) {
	f := g.b.fields(g.GO)
	f[assets.FieldComponent] = append(f[assets.FieldComponent].([]any), map[string]any{"component": ptr(component)})
}

func (g *GameObject) Inactive() *GameObject {
	g.b.fields(g.GO)[assets.FieldIsActive] = false
	return g
}

func (g *GameObject) At(x, y, z float32) *GameObject {
	g.b.fields(g.Transform)[assets.FieldLocalPosition] = assets.Vector3Value(assets.Vector3{X: x, Y: y, Z: z})
	return g
}

func (g *GameObject) Under(parent *GameObject) *GameObject {
	g.b.fields(g.Transform)[assets.FieldFather] = ptr(parent.Transform)
	return g
}

// Rect turns the object's transform into a RectTransform.
func (g *GameObject) Rect() *GameObject {
	g.b.recs[g.b.byPath[g.Transform]].Class = assets.ClassRectTransform
	return g
}

// Behaviour attaches a MonoBehaviour with fields and returns its path id.
func (g *GameObject) Behaviour(fields map[string]any) int64 {
	f := map[string]any{assets.FieldGameObject: ptr(g.GO)}
	for k, v := range fields {
		f[k] = v
	}
	id := g.b.add(assets.ClassMonoBehaviour, f)
	g.attach(id)
	return id
}

// Descriptor adds the pipeline descriptor behaviour carrying the content id,
// content type ordinal and engine version.
func (b *Builder) Descriptor(id string, contentType int) *Builder {
	b.GameObject("PipelineManager").Behaviour(map[string]any{
		"blueprintId":  id,
		"contentType":  int64(contentType),
		"unityVersion": b.Engine,
	})
	return b
}

// Impostor adds the placeholder avatar script.
func (b *Builder) Impostor() *Builder {
	b.add(assets.ClassMonoScript, map[string]any{
		assets.FieldName:      "Impostor",
		assets.FieldClassName: "Impostor",
	})
	return b
}

// Padding adds an opaque object so the container spans several blocks.
func (b *Builder) Padding(n int) *Builder {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(i * 7)
	}
	b.add(assets.ClassMonoBehaviour, map[string]any{"blob": buf})
	return b
}

func (b *Builder) Bytes(t testing.TB) []byte {
	t.Helper()
	c := Codec(t)
	var buf bytes.Buffer
	if err := c.Encode(&buf, b.Engine, b.recs, b.Compression); err != nil {
		t.Fatalf("encode bundle: %v", err)
	}
	return buf.Bytes()
}

// WriteFile writes the fixture to path, creating parent directories.
func (b *Builder) WriteFile(t testing.TB, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, b.Bytes(t), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// WriteVersion writes <root>/<stable>/<version>/__info and __data and returns
// the version directory.
func (b *Builder) WriteVersion(t testing.TB, root, stable, version string) string {
	t.Helper()
	dir := filepath.Join(root, stable, version)
	b.WriteFile(t, filepath.Join(dir, content.DataFile))
	if err := os.WriteFile(filepath.Join(dir, content.InfoFile), nil, 0o644); err != nil {
		t.Fatalf("write info: %v", err)
	}
	return dir
}

// Codec returns a bundle codec with small blocks so fixtures exercise the
// multi-block paths.
func Codec(t testing.TB) *bundle.Codec {
	t.Helper()
	c, err := bundle.New(bundle.WithBlockSize(4 << 10))
	if err != nil {
		t.Fatalf("bundle.New: %v", err)
	}
	return c
}

// Find returns the first object named name, failing the test if absent.
func Find(t testing.TB, c assets.Container, name string) assets.Object {
	t.Helper()
	objs, err := c.Objects(assets.ClassGameObject)
	if err != nil {
		t.Fatalf("Objects: %v", err)
	}
	for _, o := range objs {
		if assets.Name(o) == name {
			return o
		}
	}
	t.Fatalf("object %q not found", name)
	return nil
}
