package statistics

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

const (
	codeAllFeaturesRemoved = -1
	codeGapsUnfilled       = -5556
)

type removeSmallFeaturesParams struct {
	FeatureIdsArrayPath            datamodel.DataArrayPath `mapstructure:"FeatureIdsArrayPath" json:"FeatureIdsArrayPath"`
	CellFeatureAttributeMatrixPath datamodel.DataArrayPath `mapstructure:"CellFeatureAttributeMatrixPath" json:"CellFeatureAttributeMatrixPath"`
	MinAllowedFeatureSize          int                     `mapstructure:"MinAllowedFeatureSize" json:"MinAllowedFeatureSize"`
	// FillGaps grows the surviving features into the cells of the removed
	// ones, copying every cell array from the winning neighbor.
	FillGaps bool `mapstructure:"FillGaps" json:"FillGaps"`
}

// RemoveSmallFeatures drops every feature with fewer than
// MinAllowedFeatureSize elements from the feature matrix and renumbers the
// rest. Cells of removed features are set to feature 0 unless FillGaps is on.
type RemoveSmallFeatures struct {
	filter.Base
	params removeSmallFeaturesParams

	geom     *datamodel.ImageGeometry
	cells    *datamodel.AttributeMatrix
	ids      *datamodel.Array[int32]
	features *datamodel.AttributeMatrix
}

func NewRemoveSmallFeatures() filter.Filter {
	f := &RemoveSmallFeatures{params: removeSmallFeaturesParams{MinAllowedFeatureSize: 1}}
	f.Init(filter.Info{
		ClassName:  "RemoveSmallFeatures",
		HumanLabel: "Minimum Size",
		Group:      Group,
		SubGroup:   "Cleanup",
	})
	return f
}

func (f *RemoveSmallFeatures) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "FeatureIdsArrayPath", Label: "Feature Ids", Kind: filter.KindArrayPath, Required: true},
		{Key: "CellFeatureAttributeMatrixPath", Label: "Cell Feature Attribute Matrix", Kind: filter.KindMatrixPath, Required: true},
		{Key: "MinAllowedFeatureSize", Label: "Minimum Allowed Feature Size", Kind: filter.KindInt, Default: 1},
		{Key: "FillGaps", Label: "Fill Gaps", Kind: filter.KindBool, Default: false},
	}
}

func (f *RemoveSmallFeatures) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *RemoveSmallFeatures) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *RemoveSmallFeatures) dataCheck(dca *datamodel.DataContainerArray) {
	f.geom, f.cells, f.ids, f.features = nil, nil, nil, nil
	p := f.params
	if p.MinAllowedFeatureSize < 0 {
		f.SetErrorCondition(errors.CodeInvalidParameter, "The minimum allowed feature size must not be negative")
		return
	}
	ids, err := datamodel.GetPrereqArrayFromPath[int32](dca, p.FeatureIdsArrayPath, 1)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	cells, err := dca.AttributeMatrix(p.FeatureIdsArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	features, err := dca.AttributeMatrix(p.CellFeatureAttributeMatrixPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if !features.Type().IsFeature() {
		f.SetErrorCondition(errors.CodeInvalidParameter, fmt.Sprintf(
			"Attribute matrix %q is of type %s; a feature matrix is required", features.Name(), features.Type()))
		return
	}
	if p.FillGaps {
		dc, err := dca.DataContainer(p.FeatureIdsArrayPath.DataContainer)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		geom := dc.Geometry()
		if geom == nil {
			f.SetErrorCondition(codeMissingGeometry, fmt.Sprintf("Data container %q has no image geometry; it is needed to fill gaps", dc.Name()))
			return
		}
		if geom.NumElements() != ids.NumTuples() {
			f.SetErrorCondition(errors.CodeTupleValidation, "The feature ids and the geometry have different element counts")
			return
		}
		f.geom = geom
	}
	f.cells, f.ids, f.features = cells, ids, features
}

func (f *RemoveSmallFeatures) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *RemoveSmallFeatures) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}

	numFeatures := f.features.NumTuples()
	ids := f.ids.Values()
	sizes := make([]int, numFeatures)
	for i, id := range ids {
		if id < 0 || int(id) >= numFeatures {
			f.SetErrorCondition(codeFeatureIDRange, fmt.Sprintf(
				"Element %d has feature id %d but the feature attribute matrix has %d tuples", i, id, numFeatures))
			return
		}
		sizes[id]++
	}

	active := make([]bool, numFeatures)
	kept := 0
	for i := 1; i < numFeatures; i++ {
		active[i] = sizes[i] >= f.params.MinAllowedFeatureSize
		if active[i] {
			kept++
		}
	}
	if kept == 0 && numFeatures > 1 {
		f.SetErrorCondition(codeAllFeaturesRemoved, fmt.Sprintf(
			"The minimum size %d would remove every feature", f.params.MinAllowedFeatureSize))
		return
	}

	var gaps []bool
	if f.params.FillGaps {
		gaps = make([]bool, len(ids))
		for i, id := range ids {
			gaps[i] = id > 0 && !active[id]
		}
	}
	if filter.Cancelled(ctx) {
		return
	}
	if err := f.features.RemoveInactiveObjects(active, f.ids); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if gaps != nil {
		if !f.fillGaps(ctx, gaps) {
			return
		}
	}
	f.NotifyStatus(fmt.Sprintf("Removed %d of %d features", numFeatures-1-kept, numFeatures-1))
}

// fillGaps repeatedly assigns every gap cell the most common feature among
// its face neighbors (smallest id on ties) until no gap can grow further.
// Returns false when ctx was cancelled.
func (f *RemoveSmallFeatures) fillGaps(ctx context.Context, gaps []bool) bool {
	ids := f.ids.Values()
	dx, dy, dz := f.geom.Dimensions[0], f.geom.Dimensions[1], f.geom.Dimensions[2]
	plane := dx * dy
	arrays := f.cells.Arrays()

	source := make([]int, len(ids))
	counts := map[int32]int{}
	initial := 0
	for iteration := 0; ; iteration++ {
		if filter.Cancelled(ctx) {
			return false
		}
		remaining, changed := 0, 0
		for i := range source {
			source[i] = -1
		}
		for i, gap := range gaps {
			if !gap || ids[i] != 0 {
				continue
			}
			remaining++
			clear(counts)
			x, y, z := i%dx, (i/dx)%dy, i/plane
			best, bestID, bestCount := -1, int32(0), 0
			consider := func(nb int) {
				id := ids[nb]
				if id <= 0 {
					return
				}
				counts[id]++
				c := counts[id]
				if c > bestCount || (c == bestCount && id < bestID) {
					best, bestID, bestCount = nb, id, c
				}
			}
			if x > 0 {
				consider(i - 1)
			}
			if x < dx-1 {
				consider(i + 1)
			}
			if y > 0 {
				consider(i - dx)
			}
			if y < dy-1 {
				consider(i + dx)
			}
			if z > 0 {
				consider(i - plane)
			}
			if z < dz-1 {
				consider(i + plane)
			}
			source[i] = best
		}
		if iteration == 0 {
			initial = remaining
		}
		if remaining == 0 {
			return true
		}
		for i, src := range source {
			if src < 0 {
				continue
			}
			for _, arr := range arrays {
				if err := arr.CopyTuple(src, i); err != nil {
					f.SetErrorFromErr(err)
					return false
				}
			}
			changed++
		}
		if changed == 0 {
			f.SetWarningCondition(codeGapsUnfilled, fmt.Sprintf("%d cells could not be reached by any feature", remaining))
			return true
		}
		filled := initial - (remaining - changed)
		f.NotifyProgress(filled*100/initial, fmt.Sprintf("Gap fill iteration %d: %d of %d cells assigned", iteration+1, changed, remaining))
	}
}
