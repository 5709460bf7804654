package content

import (
	"fmt"
	"path/filepath"
	"slices"
)

const (
	// DataFile is the primary payload inside every version directory.
	DataFile = "__data"
	// InfoFile is written by the game before DataFile and is the reliable
	// filesystem signal that a new version directory is being populated.
	InfoFile = "__info"
	// BlocklistMarker is recorded in PatchedBy once the block rules have
	// been written into a version.
	BlocklistMarker = "Blocklist"
)

type Type int

const (
	Avatar Type = iota
	World
)

func (t Type) String() string {
	switch t {
	case Avatar:
		return "Avatar"
	case World:
		return "World"
	default:
		return fmt.Sprintf("Type(%d)", int(t))
	}
}

// Valid reports whether t is one of the known content types.
func (t Type) Valid() bool { return t == Avatar || t == World }

// Content is one logical avatar or world as tracked by the index.
type Content struct {
	ID          string      `json:"id"`
	Type        Type        `json:"type"`
	StableName  string      `json:"stable_name"`
	VersionMeta VersionMeta `json:"version_meta"`
}

type VersionMeta struct {
	Version   uint32    `json:"version"`
	Path      string    `json:"path"`
	PatchedBy PatchedBy `json:"patched_by"`
}

// DataPath is the primary data file of the current version.
func (c *Content) DataPath() string {
	return filepath.Join(c.VersionMeta.Path, DataFile)
}

// SetVersion moves c to a new version directory. PatchedBy is cleared when
// the version changes.
func (c *Content) SetVersion(version uint32, path string) {
	if version != c.VersionMeta.Version {
		c.VersionMeta.PatchedBy.Reset()
	}
	c.VersionMeta.Version = version
	c.VersionMeta.Path = path
}

// Clone returns a deep copy so staged edits never alias rows held by readers.
func (c Content) Clone() Content {
	c.VersionMeta.PatchedBy = slices.Clone(c.VersionMeta.PatchedBy)
	return c
}

// PatchedBy is the ordered set of subsystem/plugin names already applied to
// the current version.
type PatchedBy []string

func (p PatchedBy) Has(name string) bool { return slices.Contains(p, name) }

func (p *PatchedBy) Add(name string) {
	if p.Has(name) {
		return
	}
	*p = append(*p, name)
}

func (p *PatchedBy) Reset() { *p = nil }

func (p PatchedBy) Equal(o PatchedBy) bool { return slices.Equal(p, o) }
