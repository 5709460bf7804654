// Package blocklist loads world-scoped block rules and disables matching
// scene objects inside an open container.
package blocklist

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Position is stored in double precision but compared after narrowing to
// the engine's single precision.
type Position struct {
	X float64 `toml:"x" json:"x"`
	Y float64 `toml:"y" json:"y"`
	Z float64 `toml:"z" json:"z"`
}

// ObjectRule identifies a scene object by name and optionally by local
// position and parent chain.
type ObjectRule struct {
	Name     string      `toml:"name" json:"name"`
	Position *Position   `toml:"position,omitempty" json:"position,omitempty"`
	Parent   *ObjectRule `toml:"parent,omitempty" json:"parent,omitempty"`
}

// BlockRule is one ObjectRule scoped to a world.
type BlockRule struct {
	WorldID string
	Rule    ObjectRule
}

// Key is the canonical encoding used for value deduplication and report
// hashing.
func (r ObjectRule) Key() string {
	b, err := json.Marshal(r)
	if err != nil {
		// json.Marshal rejects only NaN and Inf positions.
		return r.String()
	}
	return string(b)
}

func (r ObjectRule) String() string {
	var sb strings.Builder
	sb.WriteString(r.Name)
	if r.Position != nil {
		fmt.Fprintf(&sb, "@(%g,%g,%g)", r.Position.X, r.Position.Y, r.Position.Z)
	}
	if r.Parent != nil {
		sb.WriteString(" < ")
		sb.WriteString(r.Parent.String())
	}
	return sb.String()
}

func (r ObjectRule) structural() bool { return r.Position != nil || r.Parent != nil }
