package plugin

import (
	"testing"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/content"
)

type stub struct {
	Base
	kind Kind
	ids  []string
}

func (s stub) Kind() Kind               { return s.kind }
func (s stub) ResponsibleIDs() []string { return s.ids }
func (stub) Apply(*content.Content, assets.Container, bool) (Result, error) {
	return Skipped, nil
}

func TestRegistry_RejectsDuplicatesAndReserved(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(Entry{Name: "A", Plugin: stub{}}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(Entry{Name: "A", Plugin: stub{}}); err == nil {
		t.Fatalf("duplicate accepted")
	}
	if err := r.Register(Entry{Name: content.BlocklistMarker, Plugin: stub{}}); err == nil {
		t.Fatalf("reserved name accepted")
	}
	if err := r.Register(Entry{Name: "", Plugin: stub{}}); err == nil {
		t.Fatalf("empty name accepted")
	}
	if err := r.Register(Entry{Name: "B"}); err == nil {
		t.Fatalf("nil plugin accepted")
	}
}

func TestRegistry_SelectKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	for _, n := range []string{"A", "B", "C"} {
		if err := r.Register(Entry{Name: n, Plugin: stub{}}); err != nil {
			t.Fatal(err)
		}
	}
	got, err := r.Select([]string{"C", "A"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(got) != 2 || got[0].Name != "A" || got[1].Name != "C" {
		t.Fatalf("got=%v", got)
	}
	if got, _ := r.Select(nil); len(got) != 0 {
		t.Fatalf("nothing enabled must select nothing, got %v", got)
	}
	if _, err := r.Select([]string{"missing"}); err == nil {
		t.Fatalf("unknown plugin accepted")
	}
	if len(r.Entries()) != 3 {
		t.Fatalf("entries=%d", len(r.Entries()))
	}
}

func TestEntry_AppliesTo(t *testing.T) {
	global := Entry{Name: "g", Plugin: stub{kind: Global}}
	specific := Entry{Name: "s", Plugin: stub{kind: ContentSpecific, ids: []string{"wrld_a"}}}
	if !global.AppliesTo("anything") {
		t.Fatalf("global must apply everywhere")
	}
	if !specific.AppliesTo("wrld_a") || specific.AppliesTo("wrld_b") {
		t.Fatalf("content specific applicability wrong")
	}
}
