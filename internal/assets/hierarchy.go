package assets

import (
	"errors"
	"fmt"
)

// Name returns an object's m_Name, or "" when it has none.
func Name(o Object) string {
	v, err := o.Field(FieldName)
	if err != nil {
		return ""
	}
	s, _ := v.AsString()
	return s
}

// IsActive reports m_IsActive. Objects without the field count as active.
func IsActive(o Object) bool {
	v, err := o.Field(FieldIsActive)
	if err != nil {
		return true
	}
	b, ok := v.AsBool()
	return !ok || b
}

// IsSpatial reports whether o is a transform kind.
func IsSpatial(o Object) bool {
	return o.Class() == ClassTransform || o.Class() == ClassRectTransform
}

// Components resolves a game object's m_Component list. Dangling pointers
// are skipped.
func Components(c Container, gameObject Object) ([]Object, error) {
	v, err := gameObject.Field(FieldComponent)
	if errors.Is(err, ErrNoField) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	items, ok := v.Array()
	if !ok {
		return nil, fmt.Errorf("%s on object %d is not an array", FieldComponent, gameObject.PathID())
	}
	out := make([]Object, 0, len(items))
	for _, it := range items {
		pv, ok := it.Get("component")
		if !ok {
			pv = it
		}
		ptr, ok := pv.AsPPtr()
		if !ok || ptr.IsNull() {
			continue
		}
		obj, err := c.Object(ptr)
		if errors.Is(err, ErrNoObject) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// Owner resolves the game object a component belongs to.
func Owner(c Container, component Object) (Object, error) {
	return follow(c, component, FieldGameObject)
}

// Father resolves a transform's parent transform. It returns ErrNoObject for
// root transforms.
func Father(c Container, transform Object) (Object, error) {
	return follow(c, transform, FieldFather)
}

func follow(c Container, o Object, field string) (Object, error) {
	v, err := o.Field(field)
	if err != nil {
		return nil, err
	}
	ptr, ok := v.AsPPtr()
	if !ok {
		return nil, fmt.Errorf("%s on object %d is not a pointer", field, o.PathID())
	}
	if ptr.IsNull() {
		return nil, ErrNoObject
	}
	return c.Object(ptr)
}
