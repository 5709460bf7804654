package blocklist

import (
	"errors"
	"log/slog"

	"adgobye.dev/internal/assets"
)

// Result of applying one world's rules to a container.
type Result struct {
	Matched   []ObjectRule
	Unmatched []ObjectRule
	// Disabled counts objects flipped inactive by this run.
	Disabled int
	Dirty    bool
}

// Engine disables scene objects that match block rules. It holds no state
// between calls.
type Engine struct {
	log *slog.Logger
}

func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{log: logger.With("component", "blocklist")}
}

// Apply matches rules against every game object in c. rules must all belong
// to the world c was opened for. Objects already inactive count as matched
// without a write, so repeated runs are no-ops.
func (e *Engine) Apply(c assets.Container, rules []ObjectRule) (Result, error) {
	var res Result
	if len(rules) == 0 {
		return res, nil
	}
	objs, err := c.Objects(assets.ClassGameObject)
	if err != nil {
		return res, err
	}

	matched := make([]bool, len(rules))
	for _, o := range objs {
		name := assets.Name(o)
		for i, r := range rules {
			if r.Name != name {
				continue
			}
			if r.structural() {
				ok, err := e.spatialMatch(c, o, r)
				if err != nil {
					return res, err
				}
				if !ok {
					continue
				}
			}
			matched[i] = true
			if !assets.IsActive(o) {
				continue
			}
			if err := o.SetField(assets.FieldIsActive, false); err != nil {
				return res, err
			}
			res.Disabled++
			res.Dirty = true
			e.log.Debug("disabled game object", "name", name, "path_id", o.PathID())
		}
	}

	for i, r := range rules {
		if matched[i] {
			res.Matched = append(res.Matched, r)
		} else {
			res.Unmatched = append(res.Unmatched, r)
		}
	}
	return res, nil
}

// spatialMatch reports whether at least one transform component of o
// satisfies every structural constraint of r.
func (e *Engine) spatialMatch(c assets.Container, o assets.Object, r ObjectRule) (bool, error) {
	comps, err := assets.Components(c, o)
	if err != nil {
		return false, err
	}
	for _, comp := range comps {
		if !assets.IsSpatial(comp) {
			continue
		}
		ok, err := e.transformMatch(c, comp, r)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *Engine) transformMatch(c assets.Container, tr assets.Object, r ObjectRule) (bool, error) {
	if r.Position != nil {
		v, err := tr.Field(assets.FieldLocalPosition)
		if errors.Is(err, assets.ErrNoField) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		pos, ok := v.AsVector3()
		if !ok || !positionEqual(*r.Position, pos) {
			return false, nil
		}
	}
	if r.Parent == nil {
		return true, nil
	}

	father, err := assets.Father(c, tr)
	if errors.Is(err, assets.ErrNoObject) || errors.Is(err, assets.ErrNoField) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	owner, err := assets.Owner(c, father)
	if errors.Is(err, assets.ErrNoObject) || errors.Is(err, assets.ErrNoField) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if assets.Name(owner) != r.Parent.Name {
		return false, nil
	}
	return e.transformMatch(c, father, *r.Parent)
}

// positionEqual compares after narrowing the rule to float32. Rule values
// originate from float32 data, so equality is exact.
func positionEqual(p Position, v assets.Vector3) bool {
	return float32(p.X) == v.X && float32(p.Y) == v.Y && float32(p.Z) == v.Z
}
