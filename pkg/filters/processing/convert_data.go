package processing

import (
	"context"
	"fmt"
	"math"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

// warnValuesClamped is reported when the input held values the target type
// cannot represent.
const warnValuesClamped = -15001

type convertDataParams struct {
	SelectedArrayPath datamodel.DataArrayPath `mapstructure:"SelectedArrayPath" json:"SelectedArrayPath"`
	ScalarType        datamodel.ElementType   `mapstructure:"ScalarType" json:"ScalarType"`
	OutputArrayName   string                  `mapstructure:"OutputArrayName" json:"OutputArrayName"`
}

// ConvertData copies an array into a new array of another element type in
// the same matrix. Values outside the target range are clamped to it and
// fractions are truncated toward zero.
type ConvertData struct {
	filter.Base
	params convertDataParams

	input  datamodel.DataArray
	output datamodel.DataArray
}

func NewConvertData() filter.Filter {
	f := &ConvertData{params: convertDataParams{ScalarType: datamodel.ElementFloat32}}
	f.Init(filter.Info{
		ClassName:  "ConvertData",
		HumanLabel: "Convert Attribute Data Type",
		Group:      Group,
		SubGroup:   "Conversion",
	})
	return f
}

func (f *ConvertData) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "SelectedArrayPath", Label: "Attribute Array to Convert", Kind: filter.KindArrayPath, Required: true},
		{Key: "ScalarType", Label: "Scalar Type", Kind: filter.KindElementType, Default: "float32"},
		{Key: "OutputArrayName", Label: "Converted Attribute Array", Kind: filter.KindString, Required: true},
	}
}

func (f *ConvertData) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *ConvertData) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *ConvertData) dataCheck(dca *datamodel.DataContainerArray) {
	f.input, f.output = nil, nil
	p := f.params
	if p.ScalarType == datamodel.ElementUnknown {
		f.SetErrorCondition(errors.CodeInvalidParameter, "A scalar type must be selected")
		return
	}
	if p.OutputArrayName == "" || p.OutputArrayName == p.SelectedArrayPath.DataArray {
		f.SetErrorCondition(errors.CodeInvalidArrayName, "The converted array needs a name different from the input")
		return
	}
	in, err := dca.DataArray(p.SelectedArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	am, err := dca.AttributeMatrix(p.SelectedArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	out, err := am.CreateDataArray(p.ScalarType, p.OutputArrayName, in.NumComponents(), 0)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	f.input, f.output = in, out
}

func (f *ConvertData) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *ConvertData) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}

	vals := datamodel.Float64Values(f.input)
	lo, hi := f.params.ScalarType.Range()
	clamped := 0
	for i, v := range vals {
		switch {
		case math.IsNaN(v):
			if !f.params.ScalarType.IsFloat() {
				vals[i] = 0
				clamped++
			}
		case v < lo:
			vals[i] = lo
			clamped++
		case v > hi:
			vals[i] = hi
			clamped++
		}
	}
	if err := datamodel.SetFloat64Values(f.output, vals); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if clamped > 0 {
		f.SetWarningCondition(warnValuesClamped, fmt.Sprintf("%d values were clamped to the range of %s", clamped, f.params.ScalarType))
	}
	f.NotifyStatus("Complete")
}
