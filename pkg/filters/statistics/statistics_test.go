package statistics

import (
	"context"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

type fixture struct {
	dca      *datamodel.DataContainerArray
	cells    *datamodel.AttributeMatrix
	features *datamodel.AttributeMatrix
}

// newFixture builds "Image" with a CellData matrix over the grid and a
// CellFeatureData matrix of numFeatures tuples.
func newFixture(t *testing.T, dims [3]int, spacing [3]float64, numFeatures int) fixture {
	t.Helper()
	dca := datamodel.NewDataContainerArray()
	dc, err := dca.CreateDataContainer("Image")
	require.NoError(t, err)
	dc.SetGeometry(&datamodel.ImageGeometry{Dimensions: dims, Spacing: spacing})
	cells, err := dc.CreateAttributeMatrix("CellData", dims[:], datamodel.MatrixCell)
	require.NoError(t, err)
	features, err := dc.CreateAttributeMatrix("CellFeatureData", []int{numFeatures}, datamodel.MatrixCellFeature)
	require.NoError(t, err)
	return fixture{dca: dca, cells: cells, features: features}
}

func addArray[T datamodel.Element](t *testing.T, am *datamodel.AttributeMatrix, name string, vals []T) *datamodel.Array[T] {
	t.Helper()
	arr, err := datamodel.CreateArray[T](am, name, 1, *new(T))
	require.NoError(t, err)
	require.Len(t, vals, arr.Len())
	copy(arr.Values(), vals)
	return arr
}

func run(t *testing.T, f filter.Filter, values map[string]any, dca *datamodel.DataContainerArray) filter.Status {
	t.Helper()
	require.NoError(t, f.SetParameters(values))
	f.Preflight(context.Background(), dca.Clone())
	if st := f.Status(); st.Failed() {
		return st
	}
	f.Execute(context.Background(), dca)
	return f.Status()
}

func parsePath(t *testing.T, s string) datamodel.DataArrayPath {
	t.Helper()
	p, err := datamodel.ParseDataArrayPath(s)
	require.NoError(t, err)
	return p
}

func floatArray(t *testing.T, dca *datamodel.DataContainerArray, path string) []float64 {
	t.Helper()
	arr, err := dca.DataArray(parsePath(t, path))
	require.NoError(t, err)
	return datamodel.Float64Values(arr)
}

func TestCalculateArrayStatisticsWholeArray(t *testing.T) {
	fx := newFixture(t, [3]int{4, 1, 1}, [3]float64{1, 1, 1}, 1)
	addArray(t, fx.cells, "Values", []float32{4, 1, 3, 2})

	st := run(t, NewCalculateArrayStatistics(), map[string]any{
		"SelectedArrayPath":          "Image|CellData|Values",
		"FindMedian":                 true,
		"FindSummation":              true,
		"FindLength":                 true,
		"DestinationAttributeMatrix": "Image|Stats",
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	am, err := fx.dca.AttributeMatrix(parsePath(t, "Image|Stats"))
	require.NoError(t, err)
	assert.Equal(t, datamodel.MatrixGeneric, am.Type())
	assert.Equal(t, 1, am.NumTuples())

	assert.Equal(t, []float64{1}, floatArray(t, fx.dca, "Image|Stats|Minimum"))
	assert.Equal(t, []float64{4}, floatArray(t, fx.dca, "Image|Stats|Maximum"))
	assert.Equal(t, []float64{2.5}, floatArray(t, fx.dca, "Image|Stats|Mean"))
	assert.InDelta(t, math.Sqrt(1.25), floatArray(t, fx.dca, "Image|Stats|StandardDeviation")[0], 1e-12)
	assert.Equal(t, []float64{2.5}, floatArray(t, fx.dca, "Image|Stats|Median"))
	assert.Equal(t, []float64{10}, floatArray(t, fx.dca, "Image|Stats|Summation"))

	length, err := fx.dca.DataArray(parsePath(t, "Image|Stats|Length"))
	require.NoError(t, err)
	assert.Equal(t, datamodel.ElementInt64, length.Type())
	assert.Equal(t, []float64{4}, datamodel.Float64Values(length))
}

func TestCalculateArrayStatisticsMasked(t *testing.T) {
	fx := newFixture(t, [3]int{4, 1, 1}, [3]float64{1, 1, 1}, 1)
	addArray(t, fx.cells, "Values", []int32{4, 1, 3, 2})
	addArray(t, fx.cells, "Mask", []bool{false, true, true, true})

	st := run(t, NewCalculateArrayStatistics(), map[string]any{
		"SelectedArrayPath":          "Image|CellData|Values",
		"UseMask":                    true,
		"MaskArrayPath":              "Image|CellData|Mask",
		"FindMedian":                 true,
		"DestinationAttributeMatrix": "Image|Stats",
		"ArrayPrefix":                "Values",
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	assert.Equal(t, []float64{3}, floatArray(t, fx.dca, "Image|Stats|ValuesMaximum"))
	assert.Equal(t, []float64{2}, floatArray(t, fx.dca, "Image|Stats|ValuesMean"))
	assert.Equal(t, []float64{2}, floatArray(t, fx.dca, "Image|Stats|ValuesMedian"))
}

// Every element is its own feature, so each per-feature statistic must
// reproduce the input element-wise.
func TestCalculateArrayStatisticsByIndexElementWise(t *testing.T) {
	fx := newFixture(t, [3]int{3, 2, 1}, [3]float64{1, 1, 1}, 1)
	input := []float64{0.5, -3, 12, 7.25, 1e3, 42}
	addArray(t, fx.cells, "Input", input)
	addArray(t, fx.cells, "FeatureIds", []int32{1, 2, 3, 4, 5, 6})

	st := run(t, NewCalculateArrayStatistics(), map[string]any{
		"SelectedArrayPath":          "Image|CellData|Input",
		"ComputeByIndex":             true,
		"FeatureIdsArrayPath":        "Image|CellData|FeatureIds",
		"FindMedian":                 true,
		"DestinationAttributeMatrix": "Image|FeatureStats",
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	am, err := fx.dca.AttributeMatrix(parsePath(t, "Image|FeatureStats"))
	require.NoError(t, err)
	assert.Equal(t, datamodel.MatrixCellFeature, am.Type())
	require.Equal(t, len(input)+1, am.NumTuples())

	mins := floatArray(t, fx.dca, "Image|FeatureStats|Minimum")
	means := floatArray(t, fx.dca, "Image|FeatureStats|Mean")
	medians := floatArray(t, fx.dca, "Image|FeatureStats|Median")
	stds := floatArray(t, fx.dca, "Image|FeatureStats|StandardDeviation")
	for i, v := range input {
		id := i + 1
		assert.Equal(t, v, mins[id], "feature %d", id)
		assert.Equal(t, v, means[id], "feature %d", id)
		assert.Equal(t, v, medians[id], "feature %d", id)
		assert.Zero(t, stds[id], "feature %d", id)
	}
	assert.Zero(t, means[0], "empty feature 0 reports zero")
}

func TestCalculateArrayStatisticsByIndexGroups(t *testing.T) {
	fx := newFixture(t, [3]int{6, 1, 1}, [3]float64{1, 1, 1}, 1)
	addArray(t, fx.cells, "Values", []uint8{1, 3, 5, 6, 10, 100})
	addArray(t, fx.cells, "FeatureIds", []int32{1, 1, 2, 2, 2, 0})

	st := run(t, NewCalculateArrayStatistics(), map[string]any{
		"SelectedArrayPath":          "Image|CellData|Values",
		"ComputeByIndex":             true,
		"FeatureIdsArrayPath":        "Image|CellData|FeatureIds",
		"FindMedian":                 true,
		"FindLength":                 true,
		"DestinationAttributeMatrix": "Image|FeatureStats",
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	assert.Equal(t, []float64{100, 2, 7}, floatArray(t, fx.dca, "Image|FeatureStats|Mean"))
	assert.Equal(t, []float64{100, 2, 6}, floatArray(t, fx.dca, "Image|FeatureStats|Median"))
	assert.Equal(t, []float64{100, 3, 10}, floatArray(t, fx.dca, "Image|FeatureStats|Maximum"))
	assert.Equal(t, []float64{1, 2, 3}, floatArray(t, fx.dca, "Image|FeatureStats|Length"))
}

func TestCalculateArrayStatisticsValidation(t *testing.T) {
	fx := newFixture(t, [3]int{2, 1, 1}, [3]float64{1, 1, 1}, 1)
	_, err := datamodel.CreateArray[float32](fx.cells, "Vector", 3, 0)
	require.NoError(t, err)
	addArray(t, fx.cells, "Scalar", []float32{1, 2})

	tests := []struct {
		name   string
		values map[string]any
		code   int
	}{
		{
			name: "nothing selected",
			values: map[string]any{
				"SelectedArrayPath": "Image|CellData|Scalar", "FindMin": false, "FindMax": false,
				"FindMean": false, "FindStdDeviation": false, "DestinationAttributeMatrix": "Image|Stats",
			},
			code: errors.CodeInvalidParameter,
		},
		{
			name:   "vector input",
			values: map[string]any{"SelectedArrayPath": "Image|CellData|Vector", "DestinationAttributeMatrix": "Image|Stats"},
			code:   errors.CodeComponentMismatch,
		},
		{
			name:   "missing destination container",
			values: map[string]any{"SelectedArrayPath": "Image|CellData|Scalar", "DestinationAttributeMatrix": "Other|Stats"},
			code:   errors.CodeMissingDataContainer,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := run(t, NewCalculateArrayStatistics(), tt.values, fx.dca)
			assert.Equal(t, tt.code, st.ErrorCode, st.ErrorMessage)
		})
	}
}

func TestFindSizes3D(t *testing.T) {
	fx := newFixture(t, [3]int{2, 2, 2}, [3]float64{1, 2, 0.5}, 3)
	addArray(t, fx.cells, "FeatureIds", []int32{1, 1, 1, 1, 2, 2, 2, 0})

	st := run(t, NewFindSizes(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	assert.Equal(t, []float64{0, 4, 3}, floatArray(t, fx.dca, "Image|CellFeatureData|NumElements"))
	assert.Equal(t, []float64{0, 4, 3}, floatArray(t, fx.dca, "Image|CellFeatureData|Volumes"))
	diameters := floatArray(t, fx.dca, "Image|CellFeatureData|EquivalentDiameters")
	assert.Zero(t, diameters[0])
	assert.InDelta(t, 2*math.Cbrt(4/(4.0/3.0*math.Pi)), diameters[1], 1e-6)
	assert.InDelta(t, 2*math.Cbrt(3/(4.0/3.0*math.Pi)), diameters[2], 1e-6)
}

func TestFindSizes2D(t *testing.T) {
	fx := newFixture(t, [3]int{4, 2, 1}, [3]float64{0.5, 2, 9}, 3)
	addArray(t, fx.cells, "FeatureIds", []int32{1, 1, 1, 2, 2, 2, 2, 2})

	st := run(t, NewFindSizes(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	// the z spacing is ignored for a single-slice image
	assert.Equal(t, []float64{0, 3, 5}, floatArray(t, fx.dca, "Image|CellFeatureData|Volumes"))
	diameters := floatArray(t, fx.dca, "Image|CellFeatureData|EquivalentDiameters")
	assert.InDelta(t, 2*math.Sqrt(3/math.Pi), diameters[1], 1e-6)
	assert.InDelta(t, 2*math.Sqrt(5/math.Pi), diameters[2], 1e-6)
}

func TestFindSizesFeatureIDOutOfRange(t *testing.T) {
	fx := newFixture(t, [3]int{3, 1, 1}, [3]float64{1, 1, 1}, 2)
	addArray(t, fx.cells, "FeatureIds", []int32{0, 1, 2})

	st := run(t, NewFindSizes(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
	}, fx.dca)
	assert.Equal(t, codeFeatureIDRange, st.ErrorCode)
}

func TestElementCountBounds(t *testing.T) {
	n, ok := elementCount(math.MaxInt32)
	assert.True(t, ok)
	assert.Equal(t, int32(math.MaxInt32), n)

	_, ok = elementCount(math.MaxInt32 + 1)
	assert.False(t, ok)
	_, ok = elementCount(1 << 40)
	assert.False(t, ok)
}

func TestFindSizesNeedsGeometry(t *testing.T) {
	dca := datamodel.NewDataContainerArray()
	dc, err := dca.CreateDataContainer("Plain")
	require.NoError(t, err)
	cells, err := dc.CreateAttributeMatrix("CellData", []int{2}, datamodel.MatrixCell)
	require.NoError(t, err)
	_, err = dc.CreateAttributeMatrix("CellFeatureData", []int{2}, datamodel.MatrixCellFeature)
	require.NoError(t, err)
	addArray(t, cells, "FeatureIds", []int32{1, 1})

	f := NewFindSizes()
	require.NoError(t, f.SetParameters(map[string]any{
		"FeatureIdsArrayPath":            "Plain|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Plain|CellFeatureData",
	}))
	f.Preflight(context.Background(), dca)
	assert.Equal(t, codeMissingGeometry, f.Status().ErrorCode)
}

func TestRemoveSmallFeatures(t *testing.T) {
	fx := newFixture(t, [3]int{5, 1, 1}, [3]float64{1, 1, 1}, 4)
	ids := addArray(t, fx.cells, "FeatureIds", []int32{1, 1, 2, 3, 3})
	sizes := addArray(t, fx.features, "Label", []int32{0, 10, 20, 30})

	st := run(t, NewRemoveSmallFeatures(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
		"MinAllowedFeatureSize":          2,
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	assert.Equal(t, []int32{1, 1, 0, 2, 2}, ids.Values())
	assert.Equal(t, 3, fx.features.NumTuples())
	assert.Equal(t, []int32{0, 10, 30}, sizes.Values())
}

func TestRemoveSmallFeaturesFillGaps(t *testing.T) {
	fx := newFixture(t, [3]int{4, 1, 1}, [3]float64{1, 1, 1}, 4)
	ids := addArray(t, fx.cells, "FeatureIds", []int32{1, 1, 2, 3})
	phases := addArray(t, fx.cells, "Phases", []int32{5, 5, 7, 8})

	st := run(t, NewRemoveSmallFeatures(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
		"MinAllowedFeatureSize":          2,
		"FillGaps":                       true,
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	assert.Equal(t, []int32{1, 1, 1, 1}, ids.Values())
	assert.Equal(t, []int32{5, 5, 5, 5}, phases.Values())
	assert.Equal(t, 2, fx.features.NumTuples())
}

func TestRemoveSmallFeaturesGapFillReportsProgress(t *testing.T) {
	fx := newFixture(t, [3]int{6, 1, 1}, [3]float64{1, 1, 1}, 6)
	ids := addArray(t, fx.cells, "FeatureIds", []int32{1, 1, 2, 3, 4, 5})

	f := NewRemoveSmallFeatures()
	var percents []int
	f.Attach(filter.NotifierFunc(func(m filter.Message) {
		if m.Kind == filter.MessageProgress && strings.HasPrefix(m.Text, "Gap fill") {
			percents = append(percents, m.Progress)
		}
	}), 0)

	st := run(t, f, map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
		"MinAllowedFeatureSize":          2,
		"FillGaps":                       true,
	}, fx.dca)
	require.False(t, st.Failed(), st.ErrorMessage)

	assert.Equal(t, []int32{1, 1, 1, 1, 1, 1}, ids.Values())
	assert.Equal(t, []int{25, 50, 75, 100}, percents)
}

func TestRemoveSmallFeaturesRefusesToRemoveAll(t *testing.T) {
	fx := newFixture(t, [3]int{3, 1, 1}, [3]float64{1, 1, 1}, 3)
	ids := addArray(t, fx.cells, "FeatureIds", []int32{1, 2, 2})

	st := run(t, NewRemoveSmallFeatures(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
		"MinAllowedFeatureSize":          5,
	}, fx.dca)
	assert.Equal(t, codeAllFeaturesRemoved, st.ErrorCode)
	assert.Equal(t, []int32{1, 2, 2}, ids.Values(), "ids untouched on failure")
	assert.Equal(t, 3, fx.features.NumTuples())
}

func TestRemoveSmallFeaturesRejectsCellMatrix(t *testing.T) {
	fx := newFixture(t, [3]int{2, 1, 1}, [3]float64{1, 1, 1}, 2)
	addArray(t, fx.cells, "FeatureIds", []int32{1, 1})

	st := run(t, NewRemoveSmallFeatures(), map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellData",
	}, fx.dca)
	assert.Equal(t, errors.CodeInvalidParameter, st.ErrorCode)
}

func TestStatisticsCancelled(t *testing.T) {
	fx := newFixture(t, [3]int{2, 1, 1}, [3]float64{1, 1, 1}, 2)
	addArray(t, fx.cells, "FeatureIds", []int32{1, 1})

	f := NewFindSizes()
	require.NoError(t, f.SetParameters(map[string]any{
		"FeatureIdsArrayPath":            "Image|CellData|FeatureIds",
		"CellFeatureAttributeMatrixPath": "Image|CellFeatureData",
	}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.Execute(ctx, fx.dca)
	assert.Equal(t, filter.StateCancelled, f.Status().State)
	assert.Equal(t, errors.CodeCancelled, f.Status().ErrorCode)
}
