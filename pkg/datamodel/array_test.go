package datamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

func TestNewArray(t *testing.T) {
	a, err := NewArray[float32]("Confidence", 4, 3)
	require.NoError(t, err)

	assert.Equal(t, "Confidence", a.Name())
	assert.Equal(t, ElementFloat32, a.Type())
	assert.Equal(t, 4, a.NumTuples())
	assert.Equal(t, 3, a.NumComponents())
	assert.Equal(t, 12, a.Len())
	assert.Equal(t, int64(48), a.Bytes())
	for _, v := range a.Values() {
		assert.Zero(t, v)
	}
}

func TestNewArrayRejectsBadSizes(t *testing.T) {
	_, err := NewArray[int32]("x", -1, 1)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAllocation))

	_, err = NewArray[int32]("x", 1, 0)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAllocation))

	_, err = NewArray[float64]("x", 1<<40, 1<<20)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAllocation))
}

func TestArrayGetSetBounds(t *testing.T) {
	a, err := NewArray[int16]("a", 2, 2)
	require.NoError(t, err)

	require.NoError(t, a.Set(1, 1, 7))
	v, err := a.Get(1, 1)
	require.NoError(t, err)
	assert.Equal(t, int16(7), v)

	tests := []struct {
		name        string
		tuple, comp int
	}{
		{"negative tuple", -1, 0},
		{"tuple past end", 2, 0},
		{"negative component", 0, -1},
		{"component past end", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.Get(tt.tuple, tt.comp)
			assert.True(t, errors.IsType(err, errors.ErrorTypeIndex))
			assert.True(t, errors.IsType(a.Set(tt.tuple, tt.comp, 1), errors.ErrorTypeIndex))
		})
	}
}

func TestArrayResizeKeepsPrefixAndFills(t *testing.T) {
	a, err := NewArrayWithFill[int32]("ids", 3, 2, -1)
	require.NoError(t, err)
	for i := range a.Values() {
		a.Values()[i] = int32(i)
	}

	require.NoError(t, a.Resize(5))
	assert.Equal(t, []int32{0, 1, 2, 3, 4, 5, -1, -1, -1, -1}, a.Values())

	require.NoError(t, a.Resize(2))
	assert.Equal(t, []int32{0, 1, 2, 3}, a.Values())
	assert.Equal(t, 2, a.NumComponents())

	require.NoError(t, a.Resize(3))
	assert.Equal(t, []int32{0, 1, 2, 3, -1, -1}, a.Values())
}

func TestArrayCopyTuple(t *testing.T) {
	a, err := NewArrayFrom("v", 3, []float64{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)

	require.NoError(t, a.CopyTuple(0, 1))
	assert.Equal(t, []float64{1, 2, 3, 1, 2, 3}, a.Values())

	assert.Error(t, a.CopyTuple(0, 2))
	assert.Error(t, a.CopyTuple(-1, 0))
}

func TestArrayEraseTuples(t *testing.T) {
	a, err := NewArrayFrom("v", 1, []uint8{10, 11, 12, 13, 14})
	require.NoError(t, err)

	require.NoError(t, a.EraseTuples([]int{3, 1}))
	assert.Equal(t, []uint8{10, 12, 14}, a.Values())
	assert.Equal(t, 3, a.NumTuples())

	assert.Error(t, a.EraseTuples([]int{0, 0}))
	assert.Error(t, a.EraseTuples([]int{3}))
}

func TestArrayValueConversion(t *testing.T) {
	b, err := NewArray[bool]("mask", 2, 1)
	require.NoError(t, err)
	require.NoError(t, b.SetValue(1, 0, 3.5))

	v, err := b.Value(1, 0)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	u, err := NewArray[uint8]("u", 1, 1)
	require.NoError(t, err)
	require.NoError(t, u.SetValue(0, 0, 200.7))
	got, _ := u.Get(0, 0)
	assert.Equal(t, uint8(200), got)
}

func TestAsArrayNoCoercion(t *testing.T) {
	a, err := NewArray[float32]("f", 1, 1)
	require.NoError(t, err)

	_, err = AsArray[float64](a)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTypeMismatch))

	typed, err := AsArray[float32](a)
	require.NoError(t, err)
	assert.Same(t, a, typed)
}

func TestCloneIsDeep(t *testing.T) {
	a, err := NewArrayFrom("v", 1, []int64{1, 2})
	require.NoError(t, err)

	c := a.CloneArray()
	c.Values()[0] = 99
	assert.Equal(t, int64(1), a.Values()[0])
}

func TestNewDataArrayAllTypes(t *testing.T) {
	for et := range elementNames {
		arr, err := NewDataArray(et, "x", 3, 2)
		require.NoError(t, err, et.String())
		assert.Equal(t, et, arr.Type())
		assert.Equal(t, int64(6*et.Size()), arr.Bytes())
	}

	arr, err := NewDataArray(ElementUnknown, "x", 1, 1)
	assert.Error(t, err)
	assert.Nil(t, arr)
}

func TestParseElementType(t *testing.T) {
	tests := map[string]ElementType{
		"float32": ElementFloat32,
		"Double":  ElementFloat64,
		"int":     ElementInt32,
		" bool ":  ElementBool,
		"uint64":  ElementUint64,
	}
	for in, want := range tests {
		got, err := ParseElementType(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseElementType("complex128")
	assert.Error(t, err)
}

func TestNewDataArrayWithFillAppliesToResize(t *testing.T) {
	arr, err := NewDataArrayWithFill(ElementUint8, "x", 2, 1, 9.7)
	require.NoError(t, err)
	require.NoError(t, arr.Resize(4))

	a, err := AsArray[uint8](arr)
	require.NoError(t, err)
	assert.Equal(t, []uint8{9, 9, 9, 9}, a.Values())
}
