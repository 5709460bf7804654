package indexer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"adgobye.dev/internal/assets"
	"adgobye.dev/internal/content"
)

// ErrNotIndexable marks content that is skipped without failing the pass.
var ErrNotIndexable = errors.New("indexer: content not indexable")

const impostorClass = "Impostor"

// descriptor is everything ingest needs from one container open.
type descriptor struct {
	ID            string
	Type          content.Type
	EngineVersion string
	Impostor      bool
}

func (ix *Indexer) describe(dataPath string) (descriptor, error) {
	c, err := ix.codec.Open(dataPath)
	if err != nil {
		return descriptor{}, err
	}
	defer c.Close()
	return readDescriptor(c)
}

// readDescriptor extracts the content id, type, engine version and the
// impostor marker. The first behaviour carrying both blueprintId and
// contentType is authoritative.
func readDescriptor(c assets.Container) (descriptor, error) {
	d := descriptor{EngineVersion: c.EngineVersion()}

	behaviours, err := c.Objects(assets.ClassMonoBehaviour)
	if err != nil {
		return d, err
	}
	found := false
	engineSeen := false
	for _, mb := range behaviours {
		if !engineSeen {
			if v, err := mb.Field("unityVersion"); err == nil {
				if s, ok := v.AsString(); ok && s != "" {
					d.EngineVersion = s
					engineSeen = true
				}
			}
		}
		if found {
			continue
		}
		idv, err1 := mb.Field("blueprintId")
		typv, err2 := mb.Field("contentType")
		if err1 != nil || err2 != nil {
			continue
		}
		found = true
		id, _ := idv.AsString()
		if id == "" {
			return d, fmt.Errorf("%w: empty content id", ErrNotIndexable)
		}
		typ, ok := typv.AsInt()
		if !ok || !content.Type(typ).Valid() {
			return d, fmt.Errorf("%w: content type %v out of range", ErrNotIndexable, typv.Raw())
		}
		d.ID = id
		d.Type = content.Type(typ)
	}
	if !found {
		return d, fmt.Errorf("%w: no descriptor", ErrNotIndexable)
	}

	scripts, err := c.Objects(assets.ClassMonoScript)
	if err != nil {
		return d, err
	}
	for _, s := range scripts {
		v, err := s.Field(assets.FieldClassName)
		if err != nil {
			continue
		}
		if name, _ := v.AsString(); name == impostorClass {
			d.Impostor = true
			break
		}
	}
	return d, nil
}

// engineMajor parses the leading major component of an engine version such
// as "2022.3.6f1".
func engineMajor(v string) (int, bool) {
	head, _, _ := strings.Cut(v, ".")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0, false
	}
	return n, true
}
