// Package statistics holds filters that summarize element data per feature
// or per array.
package statistics

import (
	"context"
	"fmt"
	"math"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

// Group is the filter group of every filter in this package.
const Group = "Statistics"

const (
	codeMissingGeometry = -385
	codeFeatureIDRange  = -5555
	codeFeatureTooLarge = -78231
	maxFeatureCount     = math.MaxInt32
)

type findSizesParams struct {
	FeatureIdsArrayPath            datamodel.DataArrayPath `mapstructure:"FeatureIdsArrayPath" json:"FeatureIdsArrayPath"`
	CellFeatureAttributeMatrixPath datamodel.DataArrayPath `mapstructure:"CellFeatureAttributeMatrixPath" json:"CellFeatureAttributeMatrixPath"`
	VolumesArrayName               string                  `mapstructure:"VolumesArrayName" json:"VolumesArrayName"`
	EquivalentDiametersArrayName   string                  `mapstructure:"EquivalentDiametersArrayName" json:"EquivalentDiametersArrayName"`
	NumElementsArrayName           string                  `mapstructure:"NumElementsArrayName" json:"NumElementsArrayName"`
}

// FindSizes computes the element count, volume and equivalent diameter of
// every feature of an image geometry. When any grid dimension is 1 the image
// is treated as 2D: volumes are areas and diameters are those of the circle
// of equal area. Feature 0 is left at zero.
type FindSizes struct {
	filter.Base
	params findSizesParams

	geom      datamodel.ImageGeometry
	ids       *datamodel.Array[int32]
	volumes   *datamodel.Array[float32]
	diameters *datamodel.Array[float32]
	counts    *datamodel.Array[int32]
}

func NewFindSizes() filter.Filter {
	f := &FindSizes{params: findSizesParams{
		VolumesArrayName:             "Volumes",
		EquivalentDiametersArrayName: "EquivalentDiameters",
		NumElementsArrayName:         "NumElements",
	}}
	f.Init(filter.Info{
		ClassName:  "FindSizes",
		HumanLabel: "Find Feature Sizes",
		Group:      Group,
		SubGroup:   "Morphological",
	})
	return f
}

func (f *FindSizes) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "FeatureIdsArrayPath", Label: "Feature Ids", Kind: filter.KindArrayPath, Required: true},
		{Key: "CellFeatureAttributeMatrixPath", Label: "Cell Feature Attribute Matrix", Kind: filter.KindMatrixPath, Required: true},
		{Key: "VolumesArrayName", Label: "Volumes", Kind: filter.KindString, Default: "Volumes"},
		{Key: "EquivalentDiametersArrayName", Label: "Equivalent Diameters", Kind: filter.KindString, Default: "EquivalentDiameters"},
		{Key: "NumElementsArrayName", Label: "Number of Elements", Kind: filter.KindString, Default: "NumElements"},
	}
}

func (f *FindSizes) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *FindSizes) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *FindSizes) dataCheck(dca *datamodel.DataContainerArray) {
	f.ids, f.volumes, f.diameters, f.counts = nil, nil, nil, nil
	p := f.params

	ids, err := datamodel.GetPrereqArrayFromPath[int32](dca, p.FeatureIdsArrayPath, 1)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	features, err := dca.AttributeMatrix(p.CellFeatureAttributeMatrixPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	volumes, err := datamodel.CreateArray[float32](features, p.VolumesArrayName, 1, 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	diameters, err := datamodel.CreateArray[float32](features, p.EquivalentDiametersArrayName, 1, 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	counts, err := datamodel.CreateArray[int32](features, p.NumElementsArrayName, 1, 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}

	dc, err := dca.DataContainer(p.FeatureIdsArrayPath.DataContainer)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	geom := dc.Geometry()
	if geom == nil {
		f.SetErrorCondition(codeMissingGeometry, fmt.Sprintf("Data container %q has no image geometry", dc.Name()))
		return
	}
	if ids.NumTuples() != geom.NumElements() {
		f.SetErrorCondition(errors.CodeTupleValidation, fmt.Sprintf(
			"The number of tuples for the array %s is %d and for the geometry is %d. The number of tuples must match.",
			ids.Name(), ids.NumTuples(), geom.NumElements()))
		return
	}
	f.geom, f.ids, f.volumes, f.diameters, f.counts = *geom, ids, volumes, diameters, counts
}

func (f *FindSizes) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *FindSizes) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}

	numFeatures := f.volumes.NumTuples()
	featureCounts := make([]uint64, numFeatures)
	for i, id := range f.ids.Values() {
		if id < 0 || int(id) >= numFeatures {
			f.SetErrorCondition(codeFeatureIDRange, fmt.Sprintf(
				"Element %d has feature id %d but the feature attribute matrix has %d tuples", i, id, numFeatures))
			return
		}
		featureCounts[id]++
	}
	if filter.Cancelled(ctx) {
		return
	}

	dims, spacing := f.geom.Dimensions, f.geom.Spacing
	flat := dims[0] == 1 || dims[1] == 1 || dims[2] == 1
	var cell float64
	switch {
	case dims[0] == 1:
		cell = spacing[1] * spacing[2]
	case dims[1] == 1:
		cell = spacing[0] * spacing[2]
	case dims[2] == 1:
		cell = spacing[0] * spacing[1]
	default:
		cell = spacing[0] * spacing[1] * spacing[2]
	}

	volumes, diameters, counts := f.volumes.Values(), f.diameters.Values(), f.counts.Values()
	for i := 1; i < numFeatures; i++ {
		n, ok := elementCount(featureCounts[i])
		if !ok {
			f.SetErrorCondition(codeFeatureTooLarge, fmt.Sprintf(
				"Feature %d has %d elements, more than the %d an element count can hold", i, featureCounts[i], maxFeatureCount))
			return
		}
		counts[i] = n
		size := float64(featureCounts[i]) * cell
		volumes[i] = float32(size)
		if flat {
			diameters[i] = float32(2 * math.Sqrt(size/math.Pi))
		} else {
			diameters[i] = float32(2 * math.Cbrt(size/(4.0/3.0*math.Pi)))
		}
	}
	f.NotifyStatus(fmt.Sprintf("Measured %d features", numFeatures-1))
}

// elementCount narrows n to the int32 NumElements array type.
func elementCount(n uint64) (int32, bool) {
	if n > maxFeatureCount {
		return 0, false
	}
	return int32(n), true
}
