package datamodel

import (
	"math"
	"sort"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// maxArrayBytes bounds a single array. Requests above it fail with an
// allocation error instead of reaching the runtime allocator.
const maxArrayBytes = int64(1) << 40

// DataArray is the type-erased view of an Array used by containers, the
// pipeline and type-generic filters.
type DataArray interface {
	Name() string
	Type() ElementType
	NumTuples() int
	NumComponents() int
	// Len is NumTuples * NumComponents.
	Len() int
	// Bytes is the memory footprint of the backing storage.
	Bytes() int64
	Resize(numTuples int) error
	CopyTuple(src, dst int) error
	// EraseTuples removes the listed tuples, shifting the rest down.
	EraseTuples(tuples []int) error
	// Value and SetValue go through float64 so callers need not know T.
	Value(tuple, comp int) (float64, error)
	SetValue(tuple, comp int, v float64) error
	// Raw returns the backing []T.
	Raw() any
	Clone() DataArray

	setName(name string)
}

// Array is a named, dense array of NumTuples tuples with NumComponents
// values each, stored tuple-major.
type Array[T Element] struct {
	name      string
	comps     int
	numTuples int
	data      []T
	fill      T
}

// NewArray allocates an array filled with the zero value.
func NewArray[T Element](name string, numTuples, numComponents int) (*Array[T], error) {
	var zero T
	return NewArrayWithFill(name, numTuples, numComponents, zero)
}

// NewArrayWithFill allocates an array whose tuples, including tuples added by
// later resizes, start as fill.
func NewArrayWithFill[T Element](name string, numTuples, numComponents int, fill T) (*Array[T], error) {
	if numComponents < 1 {
		return nil, errors.Newf(errors.ErrorTypeAllocation, "array %q: component count must be at least 1, got %d", name, numComponents)
	}
	n, err := checkedLen(name, numTuples, numComponents, ElementTypeOf[T]())
	if err != nil {
		return nil, err
	}
	a := &Array[T]{
		name:      name,
		comps:     numComponents,
		numTuples: numTuples,
		data:      make([]T, n),
		fill:      fill,
	}
	var zero T
	if fill != zero {
		for i := range a.data {
			a.data[i] = fill
		}
	}
	return a, nil
}

// NewArrayFrom wraps values (not copied). len(values) must be a multiple of
// numComponents.
func NewArrayFrom[T Element](name string, numComponents int, values []T) (*Array[T], error) {
	if numComponents < 1 || len(values)%numComponents != 0 {
		return nil, errors.Newf(errors.ErrorTypeAllocation,
			"array %q: %d values do not form tuples of %d components", name, len(values), numComponents)
	}
	return &Array[T]{
		name:      name,
		comps:     numComponents,
		numTuples: len(values) / numComponents,
		data:      values,
	}, nil
}

func checkedLen(name string, numTuples, numComponents int, t ElementType) (int, error) {
	if numTuples < 0 {
		return 0, errors.Newf(errors.ErrorTypeAllocation, "array %q: negative tuple count %d", name, numTuples)
	}
	if numTuples > 0 && numComponents > math.MaxInt/numTuples {
		return 0, errors.Newf(errors.ErrorTypeAllocation, "array %q: %d x %d elements overflows", name, numTuples, numComponents)
	}
	n := numTuples * numComponents
	size := int64(t.Size())
	if size > 0 && int64(n) > maxArrayBytes/size {
		return 0, errors.Newf(errors.ErrorTypeAllocation, "array %q: %d elements of %s exceeds the per-array limit", name, n, t)
	}
	return n, nil
}

func (a *Array[T]) Name() string        { return a.name }
func (a *Array[T]) setName(name string) { a.name = name }
func (a *Array[T]) Type() ElementType   { return ElementTypeOf[T]() }
func (a *Array[T]) NumTuples() int      { return a.numTuples }
func (a *Array[T]) NumComponents() int  { return a.comps }
func (a *Array[T]) Len() int            { return len(a.data) }
func (a *Array[T]) Raw() any            { return a.data }
func (a *Array[T]) Bytes() int64        { return int64(len(a.data)) * int64(a.Type().Size()) }

// Values is a view of the backing storage. Writes through it are visible to
// the array; the view is invalidated by Resize and EraseTuples.
func (a *Array[T]) Values() []T { return a.data }

// Tuple returns a view of one tuple.
func (a *Array[T]) Tuple(tuple int) ([]T, error) {
	if tuple < 0 || tuple >= a.numTuples {
		return nil, a.indexError(tuple, 0)
	}
	start := tuple * a.comps
	return a.data[start : start+a.comps : start+a.comps], nil
}

// Get returns the value at (tuple, comp).
func (a *Array[T]) Get(tuple, comp int) (T, error) {
	if !a.inRange(tuple, comp) {
		var zero T
		return zero, a.indexError(tuple, comp)
	}
	return a.data[tuple*a.comps+comp], nil
}

// Set stores v at (tuple, comp).
func (a *Array[T]) Set(tuple, comp int, v T) error {
	if !a.inRange(tuple, comp) {
		return a.indexError(tuple, comp)
	}
	a.data[tuple*a.comps+comp] = v
	return nil
}

// At is the unchecked form of Get for hot loops that already validated
// their bounds.
func (a *Array[T]) At(tuple, comp int) T { return a.data[tuple*a.comps+comp] }

func (a *Array[T]) Value(tuple, comp int) (float64, error) {
	v, err := a.Get(tuple, comp)
	if err != nil {
		return 0, err
	}
	return toFloat(v), nil
}

func (a *Array[T]) SetValue(tuple, comp int, v float64) error {
	return a.Set(tuple, comp, fromFloat[T](v))
}

// Fill sets every element to v.
func (a *Array[T]) Fill(v T) {
	for i := range a.data {
		a.data[i] = v
	}
}

// Resize changes the tuple count. Existing tuples below min(old, new) keep
// their values and new tuples take the fill value.
func (a *Array[T]) Resize(numTuples int) error {
	n, err := checkedLen(a.name, numTuples, a.comps, a.Type())
	if err != nil {
		return err
	}
	if n <= len(a.data) {
		a.data = a.data[:n:n]
		a.numTuples = numTuples
		return nil
	}
	grown := make([]T, n)
	copy(grown, a.data)
	var zero T
	if a.fill != zero {
		for i := len(a.data); i < n; i++ {
			grown[i] = a.fill
		}
	}
	a.data = grown
	a.numTuples = numTuples
	return nil
}

// CopyTuple copies every component of tuple src over tuple dst.
func (a *Array[T]) CopyTuple(src, dst int) error {
	if src < 0 || src >= a.numTuples {
		return a.indexError(src, 0)
	}
	if dst < 0 || dst >= a.numTuples {
		return a.indexError(dst, 0)
	}
	copy(a.data[dst*a.comps:(dst+1)*a.comps], a.data[src*a.comps:(src+1)*a.comps])
	return nil
}

func (a *Array[T]) EraseTuples(tuples []int) error {
	if len(tuples) == 0 {
		return nil
	}
	drop := append([]int(nil), tuples...)
	sort.Ints(drop)
	for i, t := range drop {
		if t < 0 || t >= a.numTuples {
			return a.indexError(t, 0)
		}
		if i > 0 && drop[i-1] == t {
			return errors.Newf(errors.ErrorTypeIndex, "array %q: tuple %d listed twice for removal", a.name, t)
		}
	}

	w, next := 0, 0
	for r := 0; r < a.numTuples; r++ {
		if next < len(drop) && drop[next] == r {
			next++
			continue
		}
		if w != r {
			copy(a.data[w*a.comps:(w+1)*a.comps], a.data[r*a.comps:(r+1)*a.comps])
		}
		w++
	}
	a.numTuples = w
	a.data = a.data[:w*a.comps]
	return nil
}

// Clone deep-copies the array.
func (a *Array[T]) Clone() DataArray {
	return a.CloneArray()
}

// CloneArray is Clone without the type erasure.
func (a *Array[T]) CloneArray() *Array[T] {
	data := make([]T, len(a.data))
	copy(data, a.data)
	return &Array[T]{name: a.name, comps: a.comps, numTuples: a.numTuples, data: data, fill: a.fill}
}

func (a *Array[T]) inRange(tuple, comp int) bool {
	return tuple >= 0 && tuple < a.numTuples && comp >= 0 && comp < a.comps
}

func (a *Array[T]) indexError(tuple, comp int) *errors.Error {
	return errors.Newf(errors.ErrorTypeIndex, "array %q: index (%d, %d) out of range (%d tuples, %d components)",
		a.name, tuple, comp, a.numTuples, a.comps).
		WithDetail("tuple", tuple).
		WithDetail("component", comp)
}

// AsArray returns arr as *Array[T] or a type mismatch error. No coercion is
// attempted.
func AsArray[T Element](arr DataArray) (*Array[T], error) {
	if arr == nil {
		return nil, errors.New(errors.ErrorTypeMissingPrerequisite, "nil array")
	}
	typed, ok := arr.(*Array[T])
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeTypeMismatch, "array %q holds %s, expected %s",
			arr.Name(), arr.Type(), ElementTypeOf[T]())
	}
	return typed, nil
}

func erase[T Element](a *Array[T], err error) (DataArray, error) {
	if err != nil {
		return nil, err
	}
	return a, nil
}

// NewDataArray allocates a zero-filled array of a runtime-selected element
// type.
func NewDataArray(t ElementType, name string, numTuples, numComponents int) (DataArray, error) {
	return NewDataArrayWithFill(t, name, numTuples, numComponents, 0)
}

// NewDataArrayWithFill is NewDataArray with a fill value, narrowed to the
// element type. The fill also applies to tuples added by later resizes.
func NewDataArrayWithFill(t ElementType, name string, numTuples, numComponents int, fill float64) (DataArray, error) {
	switch t {
	case ElementInt8:
		return newFilled[int8](name, numTuples, numComponents, fill)
	case ElementUint8:
		return newFilled[uint8](name, numTuples, numComponents, fill)
	case ElementInt16:
		return newFilled[int16](name, numTuples, numComponents, fill)
	case ElementUint16:
		return newFilled[uint16](name, numTuples, numComponents, fill)
	case ElementInt32:
		return newFilled[int32](name, numTuples, numComponents, fill)
	case ElementUint32:
		return newFilled[uint32](name, numTuples, numComponents, fill)
	case ElementInt64:
		return newFilled[int64](name, numTuples, numComponents, fill)
	case ElementUint64:
		return newFilled[uint64](name, numTuples, numComponents, fill)
	case ElementFloat32:
		return newFilled[float32](name, numTuples, numComponents, fill)
	case ElementFloat64:
		return newFilled[float64](name, numTuples, numComponents, fill)
	case ElementBool:
		return newFilled[bool](name, numTuples, numComponents, fill)
	default:
		return nil, errors.Newf(errors.ErrorTypeInvalidParameter, "cannot allocate array %q of element type %s", name, t)
	}
}

func newFilled[T Element](name string, numTuples, numComponents int, fill float64) (DataArray, error) {
	return erase(NewArrayWithFill(name, numTuples, numComponents, fromFloat[T](fill)))
}
