package datamodel

import (
	"math"
	"strings"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// ElementType identifies the scalar type stored in a DataArray.
type ElementType int

const (
	ElementUnknown ElementType = iota
	ElementInt8
	ElementUint8
	ElementInt16
	ElementUint16
	ElementInt32
	ElementUint32
	ElementInt64
	ElementUint64
	ElementFloat32
	ElementFloat64
	ElementBool
)

// Element is the closed set of scalar types an Array may hold.
type Element interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 | float32 | float64 | bool
}

var elementNames = map[ElementType]string{
	ElementInt8:    "int8",
	ElementUint8:   "uint8",
	ElementInt16:   "int16",
	ElementUint16:  "uint16",
	ElementInt32:   "int32",
	ElementUint32:  "uint32",
	ElementInt64:   "int64",
	ElementUint64:  "uint64",
	ElementFloat32: "float32",
	ElementFloat64: "float64",
	ElementBool:    "bool",
}

// aliases accepted by ParseElementType in addition to the canonical names.
var elementAliases = map[string]ElementType{
	"float":  ElementFloat32,
	"double": ElementFloat64,
	"char":   ElementInt8,
	"uchar":  ElementUint8,
	"short":  ElementInt16,
	"ushort": ElementUint16,
	"int":    ElementInt32,
	"uint":   ElementUint32,
	"long":   ElementInt64,
	"ulong":  ElementUint64,
}

func (t ElementType) String() string {
	if n, ok := elementNames[t]; ok {
		return n
	}
	return "unknown"
}

// Size returns the byte size of one element.
func (t ElementType) Size() int {
	switch t {
	case ElementInt8, ElementUint8, ElementBool:
		return 1
	case ElementInt16, ElementUint16:
		return 2
	case ElementInt32, ElementUint32, ElementFloat32:
		return 4
	case ElementInt64, ElementUint64, ElementFloat64:
		return 8
	default:
		return 0
	}
}

// IsFloat reports whether t is a floating point type.
func (t ElementType) IsFloat() bool {
	return t == ElementFloat32 || t == ElementFloat64
}

// Range returns the smallest and largest value t can represent as float64.
func (t ElementType) Range() (float64, float64) {
	switch t {
	case ElementInt8:
		return math.MinInt8, math.MaxInt8
	case ElementUint8:
		return 0, math.MaxUint8
	case ElementInt16:
		return math.MinInt16, math.MaxInt16
	case ElementUint16:
		return 0, math.MaxUint16
	case ElementInt32:
		return math.MinInt32, math.MaxInt32
	case ElementUint32:
		return 0, math.MaxUint32
	case ElementInt64:
		return math.MinInt64, math.MaxInt64
	case ElementUint64:
		return 0, math.MaxUint64
	case ElementFloat32:
		return -math.MaxFloat32, math.MaxFloat32
	case ElementBool:
		return 0, 1
	default:
		return -math.MaxFloat64, math.MaxFloat64
	}
}

// ParseElementType accepts canonical names ("float32") and the common C
// aliases ("double", "int").
func ParseElementType(s string) (ElementType, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "unknown" {
		return ElementUnknown, nil
	}
	for t, n := range elementNames {
		if n == key {
			return t, nil
		}
	}
	if t, ok := elementAliases[key]; ok {
		return t, nil
	}
	return ElementUnknown, errors.Newf(errors.ErrorTypeInvalidParameter, "unknown element type %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (t ElementType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *ElementType) UnmarshalText(b []byte) error {
	parsed, err := ParseElementType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ElementTypeOf returns the ElementType for T.
func ElementTypeOf[T Element]() ElementType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return ElementInt8
	case uint8:
		return ElementUint8
	case int16:
		return ElementInt16
	case uint16:
		return ElementUint16
	case int32:
		return ElementInt32
	case uint32:
		return ElementUint32
	case int64:
		return ElementInt64
	case uint64:
		return ElementUint64
	case float32:
		return ElementFloat32
	case float64:
		return ElementFloat64
	case bool:
		return ElementBool
	}
	return ElementUnknown
}

// toFloat widens v to float64; true maps to 1.
func toFloat[T Element](v T) float64 {
	switch x := any(v).(type) {
	case int8:
		return float64(x)
	case uint8:
		return float64(x)
	case int16:
		return float64(x)
	case uint16:
		return float64(x)
	case int32:
		return float64(x)
	case uint32:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return float64(x)
	case float32:
		return float64(x)
	case float64:
		return x
	case bool:
		if x {
			return 1
		}
	}
	return 0
}

// fromFloat narrows f to T with Go conversion semantics; any non-zero value
// becomes true.
func fromFloat[T Element](f float64) T {
	var out any
	var zero T
	switch any(zero).(type) {
	case int8:
		out = int8(f)
	case uint8:
		out = uint8(f)
	case int16:
		out = int16(f)
	case uint16:
		out = uint16(f)
	case int32:
		out = int32(f)
	case uint32:
		out = uint32(f)
	case int64:
		out = int64(f)
	case uint64:
		out = uint64(f)
	case float32:
		out = float32(f)
	case float64:
		out = f
	case bool:
		out = f != 0
	}
	return out.(T)
}
