// Package assets defines the contract for opening, inspecting and rewriting
// binary content containers. Container codecs live in subpackages.
package assets

import (
	"errors"
	"fmt"
	"io"
)

var (
	ErrNotFound    = errors.New("assets: container not found")
	ErrUnsupported = errors.New("assets: unsupported container variant")
	ErrTruncated   = errors.New("assets: truncated container")
	ErrNoField     = errors.New("assets: no such field")
	ErrNoObject    = errors.New("assets: no such object")
)

// ClassID is the engine class of a serialized object.
type ClassID int32

const (
	ClassGameObject    ClassID = 1
	ClassTransform     ClassID = 4
	ClassMonoBehaviour ClassID = 114
	ClassMonoScript    ClassID = 115
	ClassRectTransform ClassID = 224
)

func (c ClassID) String() string {
	switch c {
	case ClassGameObject:
		return "GameObject"
	case ClassTransform:
		return "Transform"
	case ClassMonoBehaviour:
		return "MonoBehaviour"
	case ClassMonoScript:
		return "MonoScript"
	case ClassRectTransform:
		return "RectTransform"
	default:
		return fmt.Sprintf("Class(%d)", int32(c))
	}
}

// Compression is the block scheme a container declares.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// Field names shared by the codecs and their consumers.
const (
	FieldName          = "m_Name"
	FieldIsActive      = "m_IsActive"
	FieldComponent     = "m_Component"
	FieldGameObject    = "m_GameObject"
	FieldFather        = "m_Father"
	FieldLocalPosition = "m_LocalPosition"
	FieldClassName     = "m_ClassName"
	FieldScript        = "m_Script"
)

// PPtr references another object in the same container.
type PPtr struct {
	FileID int32
	PathID int64
}

func (p PPtr) IsNull() bool { return p.PathID == 0 }

// Vector3 is the engine's native single-precision vector.
type Vector3 struct {
	X, Y, Z float32
}

// Object is one serialized object inside an open container. Field paths are
// dot separated ("m_LocalPosition.x").
type Object interface {
	PathID() int64
	Class() ClassID
	Field(path string) (Value, error)
	SetField(path string, v any) error
}

// Container is an open content file. A Container is owned by exactly one
// caller and is not safe for concurrent use.
type Container interface {
	EngineVersion() string
	Compression() Compression
	// DecompressedSize sums the declared decompressed block sizes. It is
	// available without decompressing anything.
	DecompressedSize() uint64
	Objects(class ClassID) ([]Object, error)
	Object(ptr PPtr) (Object, error)
	Dirty() bool
	// Serialize writes the container in its uncompressed native form.
	Serialize(w io.Writer) error
	Close() error
}

// Codec opens containers and recompresses serialized streams.
type Codec interface {
	// Open returns ErrNotFound, ErrUnsupported or ErrTruncated (wrapped) for
	// files it cannot present as a Container.
	Open(path string) (Container, error)
	// Pack reads an uncompressed stream produced by Container.Serialize and
	// writes it compressed with scheme.
	Pack(dst io.Writer, src io.Reader, scheme Compression) error
}
