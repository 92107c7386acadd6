package statistics

import (
	"context"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

type calculateArrayStatisticsParams struct {
	SelectedArrayPath datamodel.DataArrayPath `mapstructure:"SelectedArrayPath" json:"SelectedArrayPath"`

	FindMinimum      bool `mapstructure:"FindMin" json:"FindMin"`
	FindMaximum      bool `mapstructure:"FindMax" json:"FindMax"`
	FindMean         bool `mapstructure:"FindMean" json:"FindMean"`
	FindStdDeviation bool `mapstructure:"FindStdDeviation" json:"FindStdDeviation"`
	FindMedian       bool `mapstructure:"FindMedian" json:"FindMedian"`
	FindSummation    bool `mapstructure:"FindSummation" json:"FindSummation"`
	FindLength       bool `mapstructure:"FindLength" json:"FindLength"`

	// ComputeByIndex groups the elements by FeatureIds and writes one tuple
	// per feature id.
	ComputeByIndex      bool                    `mapstructure:"ComputeByIndex" json:"ComputeByIndex"`
	FeatureIdsArrayPath datamodel.DataArrayPath `mapstructure:"FeatureIdsArrayPath" json:"FeatureIdsArrayPath"`
	UseMask             bool                    `mapstructure:"UseMask" json:"UseMask"`
	MaskArrayPath       datamodel.DataArrayPath `mapstructure:"MaskArrayPath" json:"MaskArrayPath"`

	// DestinationAttributeMatrix ("dc|am") is created if missing and resized
	// to the number of groups during execution.
	DestinationAttributeMatrix datamodel.DataArrayPath `mapstructure:"DestinationAttributeMatrix" json:"DestinationAttributeMatrix"`
	ArrayPrefix                string                  `mapstructure:"ArrayPrefix" json:"ArrayPrefix"`
}

// Output array names, prefixed with ArrayPrefix.
const (
	MinimumArrayName      = "Minimum"
	MaximumArrayName      = "Maximum"
	MeanArrayName         = "Mean"
	StdDeviationArrayName = "StandardDeviation"
	MedianArrayName       = "Median"
	SummationArrayName    = "Summation"
	LengthArrayName       = "Length"
)

// CalculateArrayStatistics computes summary statistics of a scalar array,
// either over all elements or per feature. The standard deviation is the
// population one; the median of an even count averages the middle pair.
// Groups without elements report zeros.
type CalculateArrayStatistics struct {
	filter.Base
	params calculateArrayStatisticsParams

	input   datamodel.DataArray
	ids     *datamodel.Array[int32]
	mask    *datamodel.Array[bool]
	dest    *datamodel.AttributeMatrix
	outputs map[string]*datamodel.Array[float64]
	length  *datamodel.Array[int64]
}

func NewCalculateArrayStatistics() filter.Filter {
	f := &CalculateArrayStatistics{params: calculateArrayStatisticsParams{
		FindMinimum:      true,
		FindMaximum:      true,
		FindMean:         true,
		FindStdDeviation: true,
	}}
	f.Init(filter.Info{
		ClassName:  "CalculateArrayStatistics",
		HumanLabel: "Calculate Array Statistics",
		Group:      Group,
		SubGroup:   "Ensemble",
	})
	return f
}

func (f *CalculateArrayStatistics) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "SelectedArrayPath", Label: "Attribute Array to Compute Statistics", Kind: filter.KindArrayPath, Required: true},
		{Key: "FindMin", Label: "Find Minimum", Kind: filter.KindBool, Default: true},
		{Key: "FindMax", Label: "Find Maximum", Kind: filter.KindBool, Default: true},
		{Key: "FindMean", Label: "Find Mean", Kind: filter.KindBool, Default: true},
		{Key: "FindStdDeviation", Label: "Find Standard Deviation", Kind: filter.KindBool, Default: true},
		{Key: "FindMedian", Label: "Find Median", Kind: filter.KindBool, Default: false},
		{Key: "FindSummation", Label: "Find Summation", Kind: filter.KindBool, Default: false},
		{Key: "FindLength", Label: "Find Length", Kind: filter.KindBool, Default: false},
		{Key: "ComputeByIndex", Label: "Compute by Feature Id", Kind: filter.KindBool, Default: false},
		{Key: "FeatureIdsArrayPath", Label: "Feature Ids", Kind: filter.KindArrayPath},
		{Key: "UseMask", Label: "Use Mask", Kind: filter.KindBool, Default: false},
		{Key: "MaskArrayPath", Label: "Mask", Kind: filter.KindArrayPath},
		{Key: "DestinationAttributeMatrix", Label: "Destination Attribute Matrix", Kind: filter.KindMatrixPath, Required: true},
		{Key: "ArrayPrefix", Label: "Output Array Prefix", Kind: filter.KindString},
	}
}

func (f *CalculateArrayStatistics) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *CalculateArrayStatistics) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *CalculateArrayStatistics) selected() []string {
	p := f.params
	var names []string
	for _, s := range []struct {
		on   bool
		name string
	}{
		{p.FindMinimum, MinimumArrayName},
		{p.FindMaximum, MaximumArrayName},
		{p.FindMean, MeanArrayName},
		{p.FindStdDeviation, StdDeviationArrayName},
		{p.FindMedian, MedianArrayName},
		{p.FindSummation, SummationArrayName},
	} {
		if s.on {
			names = append(names, s.name)
		}
	}
	return names
}

func (f *CalculateArrayStatistics) dataCheck(dca *datamodel.DataContainerArray) {
	f.input, f.ids, f.mask, f.dest, f.outputs, f.length = nil, nil, nil, nil, nil, nil
	p := f.params
	stats := f.selected()
	if len(stats) == 0 && !p.FindLength {
		f.SetErrorCondition(errors.CodeInvalidParameter, "No statistics were selected")
		return
	}

	in, err := dca.DataArray(p.SelectedArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if in.NumComponents() != 1 {
		f.SetErrorCondition(errors.CodeComponentMismatch, fmt.Sprintf(
			"The array %s has %d components; a scalar array is required", p.SelectedArrayPath, in.NumComponents()))
		return
	}
	if p.ComputeByIndex {
		ids, err := datamodel.GetPrereqArrayFromPath[int32](dca, p.FeatureIdsArrayPath, 1)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		if ids.NumTuples() != in.NumTuples() {
			f.SetErrorCondition(errors.CodeTupleValidation, "The feature ids and the input array have different tuple counts")
			return
		}
		f.ids = ids
	}
	if p.UseMask {
		mask, err := datamodel.GetPrereqArrayFromPath[bool](dca, p.MaskArrayPath, 1)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		if mask.NumTuples() != in.NumTuples() {
			f.SetErrorCondition(errors.CodeTupleValidation, "The mask and the input array have different tuple counts")
			return
		}
		f.mask = mask
	}

	if err := p.DestinationAttributeMatrix.ValidateMatrix(); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	dc, err := dca.DataContainer(p.DestinationAttributeMatrix.DataContainer)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	kind := datamodel.MatrixGeneric
	if p.ComputeByIndex {
		kind = datamodel.MatrixCellFeature
	}
	dest, err := dc.CreateAttributeMatrix(p.DestinationAttributeMatrix.AttributeMatrix, []int{1}, kind)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	outputs := make(map[string]*datamodel.Array[float64], len(stats))
	for _, name := range stats {
		arr, err := datamodel.CreateArray[float64](dest, p.ArrayPrefix+name, 1, 0)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		outputs[name] = arr
	}
	if p.FindLength {
		length, err := datamodel.CreateArray[int64](dest, p.ArrayPrefix+LengthArrayName, 1, 0)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		f.length = length
	}
	f.input, f.dest, f.outputs = in, dest, outputs
}

func (f *CalculateArrayStatistics) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *CalculateArrayStatistics) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}

	groups, err := f.group()
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if err := f.dest.SetTupleDimensions([]int{len(groups)}); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	for g, vals := range groups {
		if g%1024 == 0 && filter.Cancelled(ctx) {
			return
		}
		s := summarize(vals)
		for name, arr := range f.outputs {
			arr.Values()[g] = s.value(name)
		}
		if f.length != nil {
			f.length.Values()[g] = int64(len(vals))
		}
	}
	f.NotifyStatus(fmt.Sprintf("Computed statistics for %d group(s)", len(groups)))
}

// group splits the (masked) input values by feature id, or returns a single
// group when not computing by index.
func (f *CalculateArrayStatistics) group() ([][]float64, error) {
	vals := datamodel.Float64Values(f.input)
	var mask []bool
	if f.mask != nil {
		mask = f.mask.Values()
	}
	if f.ids == nil {
		if mask == nil {
			return [][]float64{vals}, nil
		}
		kept := make([]float64, 0, len(vals))
		for i, v := range vals {
			if mask[i] {
				kept = append(kept, v)
			}
		}
		return [][]float64{kept}, nil
	}

	ids := f.ids.Values()
	maxID := int32(0)
	for i, id := range ids {
		if id < 0 {
			return nil, errors.Newf(errors.ErrorTypeComputation, "element %d has negative feature id %d", i, id).
				WithCode(codeFeatureIDRange)
		}
		maxID = max(maxID, id)
	}
	groups := make([][]float64, int(maxID)+1)
	for i, v := range vals {
		if mask != nil && !mask[i] {
			continue
		}
		groups[ids[i]] = append(groups[ids[i]], v)
	}
	return groups, nil
}

type summary struct {
	min, max, mean, std, median, sum float64
}

func summarize(x []float64) summary {
	if len(x) == 0 {
		return summary{}
	}
	var s summary
	s.min = floats.Min(x)
	s.max = floats.Max(x)
	s.sum = floats.Sum(x)
	s.mean, s.std = stat.PopMeanStdDev(x, nil)

	sorted := append([]float64(nil), x...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		s.median = sorted[n/2]
	} else {
		s.median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return s
}

func (s summary) value(name string) float64 {
	switch name {
	case MinimumArrayName:
		return s.min
	case MaximumArrayName:
		return s.max
	case MeanArrayName:
		return s.mean
	case StdDeviationArrayName:
		return s.std
	case MedianArrayName:
		return s.median
	case SummationArrayName:
		return s.sum
	}
	return 0
}
