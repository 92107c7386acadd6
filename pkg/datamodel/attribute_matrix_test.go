package datamodel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

func newCellMatrix(t *testing.T, dims ...int) *AttributeMatrix {
	t.Helper()
	m, err := NewAttributeMatrix("CellData", dims, MatrixCell)
	require.NoError(t, err)
	return m
}

func TestAttributeMatrixNumTuples(t *testing.T) {
	assert.Equal(t, 24, newCellMatrix(t, 2, 3, 4).NumTuples())
	assert.Equal(t, 0, newCellMatrix(t).NumTuples())
	assert.Equal(t, 0, newCellMatrix(t, 5, 0).NumTuples())

	_, err := NewAttributeMatrix("m", []int{2, -1}, MatrixCell)
	assert.Error(t, err)
	_, err = NewAttributeMatrix("", []int{1}, MatrixCell)
	assert.Equal(t, errors.CodeInvalidArrayName, errors.CodeOf(err))
}

func TestGetOrCreateArray(t *testing.T) {
	m := newCellMatrix(t, 10)

	created, err := GetOrCreateArray[float32](m, "Confidence", 1, false, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 10, created.NumTuples())
	assert.Equal(t, float32(0.5), created.Values()[9])

	found, err := GetOrCreateArray[float32](m, "Confidence", 1, true, 0)
	require.NoError(t, err)
	assert.Same(t, created, found)
}

func TestGetPrereqArrayCodes(t *testing.T) {
	m := newCellMatrix(t, 10)
	_, err := CreateArray[float32](m, "Confidence", 1, 0)
	require.NoError(t, err)

	tests := []struct {
		name     string
		lookup   func() error
		wantType errors.ErrorType
		wantCode int
	}{
		{
			name: "missing",
			lookup: func() error {
				_, err := GetPrereqArray[float32](m, "Phases", 1)
				return err
			},
			wantType: errors.ErrorTypeMissingPrerequisite,
			wantCode: errors.CodeMissingPrerequisiteArray,
		},
		{
			name: "wrong element type",
			lookup: func() error {
				_, err := GetPrereqArray[int32](m, "Confidence", 1)
				return err
			},
			wantType: errors.ErrorTypeTypeMismatch,
			wantCode: errors.CodeTypeMismatch,
		},
		{
			name: "wrong component count",
			lookup: func() error {
				_, err := GetPrereqArray[float32](m, "Confidence", 3)
				return err
			},
			wantType: errors.ErrorTypeTypeMismatch,
			wantCode: errors.CodeComponentMismatch,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.lookup()
			require.Error(t, err)
			assert.True(t, errors.IsType(err, tt.wantType), err.Error())
			assert.Equal(t, tt.wantCode, errors.CodeOf(err))
		})
	}

	_, err = GetPrereqArray[float32](m, "Confidence", AnyComponents)
	assert.NoError(t, err)
}

func TestGetPrereqArrayTupleMismatch(t *testing.T) {
	m := newCellMatrix(t, 4)
	arr, err := CreateArray[int32](m, "ids", 1, 0)
	require.NoError(t, err)

	// shrink behind the matrix's back
	require.NoError(t, arr.Resize(2))

	_, err = GetPrereqArray[int32](m, "ids", 1)
	assert.Equal(t, errors.CodeTupleCountMismatch, errors.CodeOf(err))
	assert.Equal(t, errors.CodeTupleValidation, errors.CodeOf(m.ValidateArraySizes()))
}

func TestCreateArrayReplacesInPlace(t *testing.T) {
	m := newCellMatrix(t, 3)
	_, err := CreateArray[int8](m, "a", 1, 0)
	require.NoError(t, err)
	_, err = CreateArray[int8](m, "b", 1, 0)
	require.NoError(t, err)

	_, err = CreateArray[float64](m, "a", 2, 1)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, m.ArrayNames())
	arr, ok := m.Array("a")
	require.True(t, ok)
	assert.Equal(t, ElementFloat64, arr.Type())

	_, err = CreateArray[int8](m, "", 1, 0)
	assert.Equal(t, errors.CodeInvalidArrayName, errors.CodeOf(err))
}

func TestAddArrayRejectsTupleMismatch(t *testing.T) {
	m := newCellMatrix(t, 3)
	arr, err := NewArray[int32]("x", 4, 1)
	require.NoError(t, err)

	err = m.AddArray(arr)
	assert.Equal(t, errors.CodeTupleCountMismatch, errors.CodeOf(err))
	assert.False(t, m.HasArray("x"))
}

func TestRenameArray(t *testing.T) {
	m := newCellMatrix(t, 2)
	for _, n := range []string{"a", "b", "c"} {
		_, err := CreateArray[int32](m, n, 1, 0)
		require.NoError(t, err)
	}

	require.NoError(t, m.RenameArray("b", "B", false))
	assert.Equal(t, []string{"a", "B", "c"}, m.ArrayNames())
	arr, ok := m.Array("B")
	require.True(t, ok)
	assert.Equal(t, "B", arr.Name())

	err := m.RenameArray("missing", "x", false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	err = m.RenameArray("a", "c", false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeAlreadyExists))

	require.NoError(t, m.RenameArray("a", "c", true))
	assert.Equal(t, []string{"c", "B"}, m.ArrayNames())
}

func TestRemoveArray(t *testing.T) {
	m := newCellMatrix(t, 2)
	_, err := CreateArray[int32](m, "a", 1, 0)
	require.NoError(t, err)

	removed, ok := m.RemoveArray("a")
	assert.True(t, ok)
	assert.Equal(t, "a", removed.Name())
	assert.Empty(t, m.ArrayNames())

	_, ok = m.RemoveArray("a")
	assert.False(t, ok)
}

func TestSetTupleDimensionsResizesEveryArray(t *testing.T) {
	m, err := NewAttributeMatrix("CellFeatureData", []int{1}, MatrixCellFeature)
	require.NoError(t, err)
	_, err = CreateArray[int32](m, "Sizes", 1, 0)
	require.NoError(t, err)
	_, err = CreateArray[float32](m, "Centroids", 3, 0)
	require.NoError(t, err)

	require.NoError(t, m.SetTupleDimensions([]int{51}))

	assert.Equal(t, 51, m.NumTuples())
	for _, arr := range m.Arrays() {
		assert.Equal(t, 51, arr.NumTuples(), arr.Name())
	}
	assert.NoError(t, m.ValidateArraySizes())
}

func TestSetTupleDimensionsGrowFillsDefault(t *testing.T) {
	m := newCellMatrix(t, 10)
	arr, err := CreateArray[float32](m, "Arr", 1, 2.5)
	require.NoError(t, err)
	for i := range arr.Values() {
		arr.Values()[i] = float32(i)
	}

	require.NoError(t, m.SetTupleDimensions([]int{25}))

	require.Equal(t, 25, arr.NumTuples())
	for i := 0; i < 10; i++ {
		assert.Equal(t, float32(i), arr.At(i, 0), "tuple %d", i)
	}
	for i := 10; i < 25; i++ {
		assert.Equal(t, float32(2.5), arr.At(i, 0), "tuple %d", i)
	}
}

func TestSetTupleDimensionsConsultsGuard(t *testing.T) {
	dc, err := NewDataContainer("dc")
	require.NoError(t, err)
	refused := errors.New(errors.ErrorTypeAllocation, "no memory")
	dc.setGuard(AllocationGuardFunc(func(bytes int64) error {
		if bytes > 1024 {
			return refused
		}
		return nil
	}))
	m, err := dc.CreateAttributeMatrix("m", []int{1}, MatrixCellFeature)
	require.NoError(t, err)
	_, err = CreateArray[float64](m, "v", 1, 0)
	require.NoError(t, err)

	err = m.SetTupleDimensions([]int{1000})
	assert.ErrorIs(t, err, refused)
	assert.Equal(t, 1, m.NumTuples())
}

func TestRemoveInactiveObjects(t *testing.T) {
	m, err := NewAttributeMatrix("CellFeatureData", []int{5}, MatrixCellFeature)
	require.NoError(t, err)
	sizes, err := CreateArray[int32](m, "Sizes", 1, 0)
	require.NoError(t, err)
	copy(sizes.Values(), []int32{0, 10, 1, 20, 2})

	ids, err := NewArrayFrom("FeatureIds", 1, []int32{0, 1, 2, 3, 4, 1, 3, 2})
	require.NoError(t, err)

	active := []bool{false, true, false, true, false}
	require.NoError(t, m.RemoveInactiveObjects(active, ids))

	assert.Equal(t, 3, m.NumTuples())
	assert.Equal(t, []int32{0, 10, 20}, sizes.Values())
	assert.Equal(t, []int32{0, 1, 0, 2, 0, 1, 2, 0}, ids.Values())
}

func TestRemoveInactiveObjectsBadIDLeavesMatrixUnchanged(t *testing.T) {
	m, err := NewAttributeMatrix("CellFeatureData", []int{4}, MatrixCellFeature)
	require.NoError(t, err)
	sizes, err := CreateArray[int32](m, "Sizes", 1, 0)
	require.NoError(t, err)
	copy(sizes.Values(), []int32{0, 5, 6, 7})

	ids, err := NewArrayFrom("FeatureIds", 1, []int32{1, 2, 9, 3})
	require.NoError(t, err)

	err = m.RemoveInactiveObjects([]bool{true, true, false, true}, ids)
	assert.True(t, errors.IsType(err, errors.ErrorTypeIndex))
	assert.Equal(t, 4, m.NumTuples())
	assert.Equal(t, []int32{0, 5, 6, 7}, sizes.Values())
	assert.Equal(t, []int32{1, 2, 9, 3}, ids.Values())
}

func TestRemoveInactiveObjectsRejectsCellMatrix(t *testing.T) {
	m := newCellMatrix(t, 2)
	err := m.RemoveInactiveObjects([]bool{true, false}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeInvalidParameter))
}

func TestParseMatrixType(t *testing.T) {
	mt, err := ParseMatrixType("CellFeature")
	require.NoError(t, err)
	assert.Equal(t, MatrixCellFeature, mt)

	mt, err = ParseMatrixType("3")
	require.NoError(t, err)
	assert.Equal(t, MatrixCell, mt)

	mt, err = ParseMatrixType("999")
	require.NoError(t, err)
	assert.Equal(t, MatrixUnknown, mt)

	_, err = ParseMatrixType("Voxel")
	assert.Error(t, err)
}
