// Package plugin defines the contract third-party patchers implement and
// the registry the patch pipeline draws them from.
package plugin

import (
	"fmt"
	"slices"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/content"
)

type Kind int

const (
	// Global plugins run for every world.
	Global Kind = iota
	// ContentSpecific plugins run only for the ids they name.
	ContentSpecific
)

func (k Kind) String() string {
	switch k {
	case Global:
		return "global"
	case ContentSpecific:
		return "content_specific"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

type Verdict int

const (
	VerifySuccess Verdict = iota
	VerifyFail
)

type Result int

const (
	Success Result = iota
	Skipped
	Fail
)

func (r Result) String() string {
	switch r {
	case Success:
		return "success"
	case Skipped:
		return "skipped"
	case Fail:
		return "fail"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

// Plugin is called synchronously by the patch pipeline, once per content
// run, in this order: OverridesBlocklist, Initialize, Verify, Apply,
// PostApply, then PostWrite after a successful write-back. A returned error
// or a panic discards that plugin's effect for the run only.
type Plugin interface {
	Kind() Kind
	// ResponsibleIDs is consulted for ContentSpecific plugins only.
	ResponsibleIDs() []string
	OverridesBlocklist(c *content.Content) bool
	// WantsTracking makes the pipeline skip content whose PatchedBy already
	// names this plugin.
	WantsTracking() bool
	Initialize(c *content.Content) error
	Verify(c *content.Content, ctr assets.Container) (Verdict, error)
	// Apply must not mutate ctr when dryRun is set.
	Apply(c *content.Content, ctr assets.Container, dryRun bool) (Result, error)
	PostApply(c *content.Content) error
	PostWrite(c *content.Content) error
}

// Base supplies the no-op defaults: a global, tracked plugin that never
// overrides the blocklist. Embedders implement Apply.
type Base struct{}

func (Base) Kind() Kind                               { return Global }
func (Base) ResponsibleIDs() []string                 { return nil }
func (Base) OverridesBlocklist(*content.Content) bool { return false }
func (Base) WantsTracking() bool                      { return true }
func (Base) Initialize(*content.Content) error        { return nil }
func (Base) PostApply(*content.Content) error         { return nil }
func (Base) PostWrite(*content.Content) error         { return nil }
func (Base) Verify(*content.Content, assets.Container) (Verdict, error) {
	return VerifySuccess, nil
}

// Entry is a registered plugin with its identity. Name is what PatchedBy
// records.
type Entry struct {
	Name       string
	Maintainer string
	Version    string
	Plugin     Plugin
}

// AppliesTo reports whether e is responsible for contentID.
func (e Entry) AppliesTo(contentID string) bool {
	switch e.Plugin.Kind() {
	case Global:
		return true
	case ContentSpecific:
		return slices.Contains(e.Plugin.ResponsibleIDs(), contentID)
	default:
		return false
	}
}

// Registry holds plugins in registration order.
type Registry struct {
	entries []Entry
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(e Entry) error {
	if e.Name == "" {
		return fmt.Errorf("plugin: empty name")
	}
	if e.Name == content.BlocklistMarker {
		return fmt.Errorf("plugin: name %q is reserved", e.Name)
	}
	if e.Plugin == nil {
		return fmt.Errorf("plugin %q: nil implementation", e.Name)
	}
	for _, have := range r.entries {
		if have.Name == e.Name {
			return fmt.Errorf("plugin %q: already registered", e.Name)
		}
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *Registry) Entries() []Entry { return slices.Clone(r.entries) }

// Select returns the registered plugins named in enabled, keeping
// registration order. Unknown names are an error.
func (r *Registry) Select(enabled []string) ([]Entry, error) {
	for _, name := range enabled {
		if !slices.ContainsFunc(r.entries, func(e Entry) bool { return e.Name == name }) {
			return nil, fmt.Errorf("plugin %q: not registered", name)
		}
	}
	var out []Entry
	for _, e := range r.entries {
		if slices.Contains(enabled, e.Name) {
			out = append(out, e)
		}
	}
	return out, nil
}
