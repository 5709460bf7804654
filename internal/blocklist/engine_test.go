package blocklist

import (
	"path/filepath"
	"testing"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/assets/assettest"
)

func open(t *testing.T, b *assettest.Builder) assets.Container {
	t.Helper()
	p := filepath.Join(t.TempDir(), "__data")
	b.WriteFile(t, p)
	c, err := assettest.Codec(t).Open(p)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func pos(x, y, z float64) *Position { return &Position{X: x, Y: y, Z: z} }

func TestApply_NameOnlyDisablesActiveObject(t *testing.T) {
	b := assettest.New()
	b.GameObject("Ad_Panel").At(4, 5, 6)
	b.GameObject("Floor")
	c := open(t, b)

	res, err := NewEngine(nil).Apply(c, []ObjectRule{{Name: "Ad_Panel"}})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Dirty || res.Disabled != 1 || len(res.Matched) != 1 || len(res.Unmatched) != 0 {
		t.Fatalf("result=%+v", res)
	}
	if assets.IsActive(assettest.Find(t, c, "Ad_Panel")) {
		t.Fatalf("Ad_Panel still active")
	}
	if !assets.IsActive(assettest.Find(t, c, "Floor")) {
		t.Fatalf("Floor must not be touched")
	}
	if !c.Dirty() {
		t.Fatalf("container not dirty")
	}
}

func TestApply_NameIsCaseSensitive(t *testing.T) {
	b := assettest.New()
	b.GameObject("ad_panel")
	c := open(t, b)

	res, err := NewEngine(nil).Apply(c, []ObjectRule{{Name: "Ad_Panel"}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dirty || len(res.Unmatched) != 1 {
		t.Fatalf("result=%+v", res)
	}
}

func TestApply_Idempotent(t *testing.T) {
	b := assettest.New()
	b.GameObject("Ad_Panel")
	parent := b.GameObject("Billboard").At(1, 0, 0)
	b.GameObject("Screen").At(0.25, 1.5, -2).Under(parent)
	c := open(t, b)

	rules := []ObjectRule{
		{Name: "Ad_Panel"},
		{Name: "Screen", Position: pos(0.25, 1.5, -2), Parent: &ObjectRule{Name: "Billboard", Position: pos(1, 0, 0)}},
	}
	e := NewEngine(nil)
	first, err := e.Apply(c, rules)
	if err != nil {
		t.Fatal(err)
	}
	if first.Disabled != 2 || len(first.Unmatched) != 0 {
		t.Fatalf("first=%+v", first)
	}
	second, err := e.Apply(c, rules)
	if err != nil {
		t.Fatal(err)
	}
	if second.Dirty || second.Disabled != 0 || len(second.Unmatched) != 0 || len(second.Matched) != 2 {
		t.Fatalf("second=%+v", second)
	}
}

func TestApply_PositionComparedAfterFloat32Cast(t *testing.T) {
	b := assettest.New()
	b.GameObject("Sign").At(0.1, 0.2, 0.3)
	b.GameObject("Other").At(0.1, 0.2, 0.3)
	c := open(t, b)

	// 0.1 as float64 differs from float32(0.1) widened, so only the cast
	// comparison can match.
	if float64(float32(0.1)) == 0.1 {
		t.Fatalf("test precondition: 0.1 must not be exactly representable")
	}
	res, err := NewEngine(nil).Apply(c, []ObjectRule{
		{Name: "Sign", Position: pos(0.1, 0.2, 0.3)},
		{Name: "Other", Position: pos(0.1, 0.2, 0.30001)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Matched) != 1 || res.Matched[0].Name != "Sign" {
		t.Fatalf("matched=%+v", res.Matched)
	}
	if len(res.Unmatched) != 1 || res.Unmatched[0].Name != "Other" {
		t.Fatalf("unmatched=%+v", res.Unmatched)
	}
	if !assets.IsActive(assettest.Find(t, c, "Other")) {
		t.Fatalf("Other must stay active")
	}
}

func TestApply_ParentMismatchNeverConfirms(t *testing.T) {
	b := assettest.New()
	wrong := b.GameObject("Kiosk")
	b.GameObject("Ad_Panel").At(1, 2, 3).Under(wrong)
	c := open(t, b)

	res, err := NewEngine(nil).Apply(c, []ObjectRule{
		{Name: "Ad_Panel", Position: pos(1, 2, 3), Parent: &ObjectRule{Name: "Billboard"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dirty || len(res.Unmatched) != 1 {
		t.Fatalf("result=%+v", res)
	}
	if !assets.IsActive(assettest.Find(t, c, "Ad_Panel")) {
		t.Fatalf("Ad_Panel must stay active")
	}
}

func TestApply_ParentRuleOnRootObject(t *testing.T) {
	b := assettest.New()
	b.GameObject("Ad_Panel")
	c := open(t, b)

	res, err := NewEngine(nil).Apply(c, []ObjectRule{{Name: "Ad_Panel", Parent: &ObjectRule{Name: "Any"}}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dirty || len(res.Unmatched) != 1 {
		t.Fatalf("result=%+v", res)
	}
}

func TestApply_PicksMatchingObjectAmongDuplicates(t *testing.T) {
	b := assettest.New()
	b.GameObject("Poster").At(1, 1, 1)
	b.GameObject("Poster").At(2, 2, 2).Rect()
	c := open(t, b)

	res, err := NewEngine(nil).Apply(c, []ObjectRule{{Name: "Poster", Position: pos(2, 2, 2)}})
	if err != nil {
		t.Fatal(err)
	}
	if res.Disabled != 1 {
		t.Fatalf("disabled=%d", res.Disabled)
	}
	objs, _ := c.Objects(assets.ClassGameObject)
	active := 0
	for _, o := range objs {
		if assets.Name(o) == "Poster" && assets.IsActive(o) {
			active++
		}
	}
	if active != 1 {
		t.Fatalf("exactly one Poster should remain active, got %d", active)
	}
}

func TestApply_InactiveObjectMatchesWithoutWrite(t *testing.T) {
	b := assettest.New()
	b.GameObject("Ad_Panel").Inactive()
	b.GameObject("Banner").At(1, 2, 3).Inactive()
	c := open(t, b)

	res, err := NewEngine(nil).Apply(c, []ObjectRule{
		{Name: "Ad_Panel"},
		{Name: "Banner", Position: pos(1, 2, 3)},
		{Name: "Banner", Position: pos(9, 9, 9)},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Dirty || c.Dirty() {
		t.Fatalf("no write expected")
	}
	if len(res.Matched) != 2 || len(res.Unmatched) != 1 {
		t.Fatalf("result=%+v", res)
	}
}
