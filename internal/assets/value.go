package assets

import "math"

// Value is a decoded field. The zero Value is absent.
type Value struct {
	raw any
}

func NewValue(raw any) Value { return Value{raw: raw} }

func (v Value) Raw() any      { return v.raw }
func (v Value) Present() bool { return v.raw != nil }

func (v Value) AsString() (string, bool) {
	s, ok := v.raw.(string)
	return s, ok
}

func (v Value) AsBool() (bool, bool) {
	switch b := v.raw.(type) {
	case bool:
		return b, true
	case uint64:
		return b != 0, true
	case int64:
		return b != 0, true
	}
	return false, false
}

func (v Value) AsInt() (int64, bool) {
	switch n := v.raw.(type) {
	case int64:
		return n, true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func (v Value) AsFloat() (float64, bool) {
	switch n := v.raw.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// Get returns a key of a map value.
func (v Value) Get(key string) (Value, bool) {
	m, ok := v.raw.(map[string]any)
	if !ok {
		return Value{}, false
	}
	r, ok := m[key]
	if !ok {
		return Value{}, false
	}
	return Value{raw: r}, true
}

func (v Value) Array() ([]Value, bool) {
	a, ok := v.raw.([]any)
	if !ok {
		return nil, false
	}
	out := make([]Value, len(a))
	for i, r := range a {
		out[i] = Value{raw: r}
	}
	return out, true
}

func (v Value) AsPPtr() (PPtr, bool) {
	fid, ok1 := v.Get("m_FileID")
	pid, ok2 := v.Get("m_PathID")
	if !ok1 || !ok2 {
		return PPtr{}, false
	}
	f, ok1 := fid.AsInt()
	p, ok2 := pid.AsInt()
	if !ok1 || !ok2 {
		return PPtr{}, false
	}
	return PPtr{FileID: int32(f), PathID: p}, true
}

// AsVector3 reads an {x,y,z} map. Components are narrowed to float32, which
// is lossless for values that were serialized from float32.
func (v Value) AsVector3() (Vector3, bool) {
	var out Vector3
	for _, c := range []struct {
		key string
		dst *float32
	}{{"x", &out.X}, {"y", &out.Y}, {"z", &out.Z}} {
		f, ok := v.Get(c.key)
		if !ok {
			return Vector3{}, false
		}
		n, ok := f.AsFloat()
		if !ok {
			return Vector3{}, false
		}
		*c.dst = float32(n)
	}
	return out, true
}

// PPtrValue is the raw encoding of p accepted by Object.SetField.
func PPtrValue(p PPtr) map[string]any {
	return map[string]any{"m_FileID": int64(p.FileID), "m_PathID": p.PathID}
}

// Vector3Value is the raw encoding of v accepted by Object.SetField.
func Vector3Value(v Vector3) map[string]any {
	return map[string]any{"x": float64(v.X), "y": float64(v.Y), "z": float64(v.Z)}
}
