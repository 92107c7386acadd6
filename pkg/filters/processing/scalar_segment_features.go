package processing

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

const (
	codeMissingGeometry = -385
	codeNotScalar       = -11001
	codeNoFeatures      = -87000
)

type scalarSegmentParams struct {
	ScalarArrayPath     datamodel.DataArrayPath `mapstructure:"ScalarArrayPath" json:"ScalarArrayPath"`
	ScalarTolerance     float64                 `mapstructure:"ScalarTolerance" json:"ScalarTolerance"`
	UseGoodVoxels       bool                    `mapstructure:"UseGoodVoxels" json:"UseGoodVoxels"`
	GoodVoxelsArrayPath datamodel.DataArrayPath `mapstructure:"GoodVoxelsArrayPath" json:"GoodVoxelsArrayPath"`
	FeatureIdsArrayName string                  `mapstructure:"FeatureIdsArrayName" json:"FeatureIdsArrayName"`
	// CellFeatureAttributeMatrixName is created in the container of the
	// scalar array and sized to the number of features found plus one.
	CellFeatureAttributeMatrixName string `mapstructure:"CellFeatureAttributeMatrixName" json:"CellFeatureAttributeMatrixName"`
	ActiveArrayName                string `mapstructure:"ActiveArrayName" json:"ActiveArrayName"`
	RandomizeFeatureIds            bool   `mapstructure:"RandomizeFeatureIds" json:"RandomizeFeatureIds"`
	Seed                           uint64 `mapstructure:"Seed" json:"Seed"`
}

// ScalarSegmentFeatures groups face-connected cells whose scalar values
// differ by at most ScalarTolerance into features. Cells are numbered from 1
// in scan order of their seed cell; 0 marks cells outside any feature.
type ScalarSegmentFeatures struct {
	filter.Base
	params scalarSegmentParams

	geom     datamodel.ImageGeometry
	input    datamodel.DataArray
	good     *datamodel.Array[bool]
	ids      *datamodel.Array[int32]
	features *datamodel.AttributeMatrix
}

func NewScalarSegmentFeatures() filter.Filter {
	f := &ScalarSegmentFeatures{params: scalarSegmentParams{
		ScalarTolerance:                5,
		FeatureIdsArrayName:            "FeatureIds",
		CellFeatureAttributeMatrixName: "CellFeatureData",
		ActiveArrayName:                "Active",
	}}
	f.Init(filter.Info{
		ClassName:   "ScalarSegmentFeatures",
		HumanLabel:  "Segment Features (Scalar)",
		Group:       Group,
		SubGroup:    "Segmentation",
		Description: "Flood fills an image geometry into features of similar scalar value",
	})
	return f
}

func (f *ScalarSegmentFeatures) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "ScalarArrayPath", Label: "Scalar Array to Segment", Kind: filter.KindArrayPath, Required: true},
		{Key: "ScalarTolerance", Label: "Scalar Tolerance", Kind: filter.KindFloat, Default: 5.0},
		{Key: "UseGoodVoxels", Label: "Use Mask Array", Kind: filter.KindBool, Default: false},
		{Key: "GoodVoxelsArrayPath", Label: "Mask", Kind: filter.KindArrayPath},
		{Key: "FeatureIdsArrayName", Label: "Feature Ids", Kind: filter.KindString, Default: "FeatureIds"},
		{Key: "CellFeatureAttributeMatrixName", Label: "Cell Feature Attribute Matrix", Kind: filter.KindString, Default: "CellFeatureData"},
		{Key: "ActiveArrayName", Label: "Active", Kind: filter.KindString, Default: "Active"},
		{Key: "RandomizeFeatureIds", Label: "Randomize Feature Ids", Kind: filter.KindBool, Default: false},
		{Key: "Seed", Label: "Random Seed", Kind: filter.KindInt, Default: 0},
	}
}

func (f *ScalarSegmentFeatures) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *ScalarSegmentFeatures) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *ScalarSegmentFeatures) dataCheck(dca *datamodel.DataContainerArray) {
	f.input, f.good, f.ids, f.features = nil, nil, nil, nil
	p := f.params
	if p.ScalarTolerance < 0 {
		f.SetErrorCondition(errors.CodeInvalidParameter, "The scalar tolerance must not be negative")
		return
	}
	if p.FeatureIdsArrayName == "" || p.CellFeatureAttributeMatrixName == "" || p.ActiveArrayName == "" {
		f.SetErrorCondition(errors.CodeInvalidArrayName, "The output names must be set")
		return
	}

	in, err := dca.DataArray(p.ScalarArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if in.NumComponents() != 1 {
		f.SetErrorCondition(codeNotScalar, fmt.Sprintf("The array %s has %d components; a scalar array is required",
			p.ScalarArrayPath, in.NumComponents()))
		return
	}
	dc, err := dca.DataContainer(p.ScalarArrayPath.DataContainer)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	geom := dc.Geometry()
	if geom == nil {
		f.SetErrorCondition(codeMissingGeometry, fmt.Sprintf("Data container %q has no image geometry", dc.Name()))
		return
	}
	if geom.NumElements() != in.NumTuples() {
		f.SetErrorCondition(errors.CodeTupleValidation, fmt.Sprintf(
			"The array %s has %d tuples but the geometry has %d cells", p.ScalarArrayPath, in.NumTuples(), geom.NumElements()))
		return
	}

	cells, err := dca.AttributeMatrix(p.ScalarArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if p.UseGoodVoxels {
		good, err := datamodel.GetPrereqArrayFromPath[bool](dca, p.GoodVoxelsArrayPath, 1)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		if good.NumTuples() != in.NumTuples() {
			f.SetErrorCondition(errors.CodeTupleValidation, "The mask and the scalar array have different tuple counts")
			return
		}
		f.good = good
	}
	ids, err := datamodel.CreateArray[int32](cells, p.FeatureIdsArrayName, 1, 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	features, err := dc.CreateAttributeMatrix(p.CellFeatureAttributeMatrixName, []int{1}, datamodel.MatrixCellFeature)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if _, err := datamodel.CreateArray[bool](features, p.ActiveArrayName, 1, true); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	f.geom, f.input, f.ids, f.features = *geom, in, ids, features
}

func (f *ScalarSegmentFeatures) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *ScalarSegmentFeatures) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}

	n, ok := f.segment(ctx)
	if !ok {
		return
	}
	if n == 0 {
		f.SetErrorCondition(codeNoFeatures, "No features were found; check the tolerance and the mask")
		return
	}
	if err := f.features.SetTupleDimensions([]int{n + 1}); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	active, err := datamodel.GetPrereqArray[bool](f.features, f.params.ActiveArrayName, 1)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	vals := active.Values()
	for i := range vals {
		vals[i] = i > 0
	}
	if f.params.RandomizeFeatureIds {
		f.randomize(n)
	}
	f.NotifyStatus(fmt.Sprintf("Found %d features", n))
}

// segment flood fills from every unassigned cell in scan order and returns
// the number of features. ok is false when ctx was cancelled.
func (f *ScalarSegmentFeatures) segment(ctx context.Context) (int, bool) {
	vals := datamodel.Float64Values(f.input)
	ids := f.ids.Values()
	var good []bool
	if f.good != nil {
		good = f.good.Values()
	}
	usable := func(i int) bool { return good == nil || good[i] }

	dx, dy, dz := f.geom.Dimensions[0], f.geom.Dimensions[1], f.geom.Dimensions[2]
	plane := dx * dy
	total := len(ids)
	tol := f.params.ScalarTolerance

	var stack []int
	gnum := int32(0)
	lastPercent := 0
	for seed := 0; seed < total; seed++ {
		if ids[seed] != 0 || !usable(seed) {
			continue
		}
		if filter.Cancelled(ctx) {
			return 0, false
		}
		gnum++
		ids[seed] = gnum
		stack = append(stack[:0], seed)
		for len(stack) > 0 {
			ref := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			x, y, z := ref%dx, (ref/dx)%dy, ref/plane
			visit := func(nb int) {
				if ids[nb] == 0 && usable(nb) && math.Abs(vals[ref]-vals[nb]) <= tol {
					ids[nb] = gnum
					stack = append(stack, nb)
				}
			}
			if x > 0 {
				visit(ref - 1)
			}
			if x < dx-1 {
				visit(ref + 1)
			}
			if y > 0 {
				visit(ref - dx)
			}
			if y < dy-1 {
				visit(ref + dx)
			}
			if z > 0 {
				visit(ref - plane)
			}
			if z < dz-1 {
				visit(ref + plane)
			}
		}
		if pct := seed * 100 / total; pct >= lastPercent+10 {
			lastPercent = pct
			f.NotifyProgress(pct, fmt.Sprintf("%d features so far", gnum))
		}
	}
	return int(gnum), true
}

// randomize relabels features 1..n with a permutation drawn from Seed.
func (f *ScalarSegmentFeatures) randomize(n int) {
	rng := rand.New(rand.NewPCG(f.params.Seed, f.params.Seed^0x9e3779b97f4a7c15))
	perm := rng.Perm(n)
	ids := f.ids.Values()
	for i, id := range ids {
		if id > 0 {
			ids[i] = int32(perm[id-1] + 1)
		}
	}
}
