// Package processing holds filters that derive new element-level arrays from
// existing ones.
package processing

import (
	"context"
	"fmt"
	"strings"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

// Group is the filter group of every filter in this package.
const Group = "Processing"

// Operator is a comparison applied by ThresholdObjects.
type Operator int

const (
	OpLess Operator = iota
	OpGreater
	OpEqual
	OpNotEqual
)

var operatorSymbols = [...]string{"<", ">", "==", "!="}

func (o Operator) String() string {
	if o >= 0 && int(o) < len(operatorSymbols) {
		return operatorSymbols[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

// ParseOperator accepts the symbols, their names and the numeric codes 0-3
// used by older pipeline files.
func ParseOperator(s string) (Operator, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "<", "lt", "less", "0":
		return OpLess, nil
	case ">", "gt", "greater", "1":
		return OpGreater, nil
	case "==", "=", "eq", "equal", "2":
		return OpEqual, nil
	case "!=", "ne", "not_equal", "3":
		return OpNotEqual, nil
	}
	return 0, errors.Newf(errors.ErrorTypeInvalidParameter, "unknown comparison operator %q", s)
}

func (o Operator) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Operator) UnmarshalText(b []byte) error {
	parsed, err := ParseOperator(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

func (o Operator) apply(a, b float64) bool {
	switch o {
	case OpLess:
		return a < b
	case OpGreater:
		return a > b
	case OpEqual:
		return a == b
	case OpNotEqual:
		return a != b
	}
	return false
}

// Comparison is one "array op value" term.
type Comparison struct {
	ArrayPath datamodel.DataArrayPath `mapstructure:"ArrayPath" json:"ArrayPath"`
	Operator  Operator                `mapstructure:"Operator" json:"Operator"`
	Value     float64                 `mapstructure:"Value" json:"Value"`
}

type thresholdObjectsParams struct {
	Comparisons []Comparison `mapstructure:"ComparisonInputs" json:"ComparisonInputs"`
	// UnionOperator joins the terms: "and" or "or".
	UnionOperator        string `mapstructure:"UnionOperator" json:"UnionOperator"`
	DestinationArrayName string `mapstructure:"DestinationArrayName" json:"DestinationArrayName"`
}

// ThresholdObjects writes a bool mask marking the tuples that satisfy every
// (or any) comparison. All compared arrays must be scalar and live in the
// same attribute matrix; the mask is created there.
type ThresholdObjects struct {
	filter.Base
	params thresholdObjectsParams

	inputs []datamodel.DataArray
	mask   *datamodel.Array[bool]
}

func NewThresholdObjects() filter.Filter {
	f := &ThresholdObjects{params: thresholdObjectsParams{UnionOperator: "and", DestinationArrayName: "Mask"}}
	f.Init(filter.Info{
		ClassName:   "ThresholdObjects",
		HumanLabel:  "Threshold Objects",
		Group:       Group,
		SubGroup:    "Threshold",
		Description: "Creates a bool mask from comparisons against scalar arrays",
	})
	return f
}

func (f *ThresholdObjects) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "ComparisonInputs", Label: "Comparisons", Kind: filter.KindComparisonChain, Required: true},
		{Key: "UnionOperator", Label: "Union", Kind: filter.KindChoice, Default: "and", Choices: []string{"and", "or"}},
		{Key: "DestinationArrayName", Label: "Output Mask", Kind: filter.KindString, Default: "Mask"},
	}
}

func (f *ThresholdObjects) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *ThresholdObjects) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *ThresholdObjects) dataCheck(dca *datamodel.DataContainerArray) {
	f.inputs, f.mask = nil, nil
	p := f.params
	if len(p.Comparisons) == 0 {
		f.SetErrorCondition(errors.CodeInvalidParameter, "At least one comparison is required")
		return
	}
	if union := strings.ToLower(p.UnionOperator); union != "and" && union != "or" {
		f.SetErrorCondition(errors.CodeInvalidParameter, fmt.Sprintf("Unknown union operator %q", p.UnionOperator))
		return
	}
	if p.DestinationArrayName == "" {
		f.SetErrorCondition(errors.CodeInvalidArrayName, "The output array name must be set")
		return
	}
	first := p.Comparisons[0].ArrayPath
	inputs := make([]datamodel.DataArray, 0, len(p.Comparisons))
	for _, c := range p.Comparisons {
		if !c.ArrayPath.SameMatrix(first) {
			f.SetErrorCondition(errors.CodeInvalidParameter, fmt.Sprintf(
				"Array %s is not in attribute matrix %s; all compared arrays must share one", c.ArrayPath, first.MatrixPath()))
			return
		}
		arr, err := dca.DataArray(c.ArrayPath)
		if err != nil {
			f.SetErrorFromErr(err)
			return
		}
		if arr.NumComponents() != 1 {
			f.SetErrorCondition(errors.CodeComponentMismatch, fmt.Sprintf(
				"Array %s has %d components; only scalar arrays can be thresholded", c.ArrayPath, arr.NumComponents()))
			return
		}
		inputs = append(inputs, arr)
	}
	am, err := dca.AttributeMatrix(first)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	mask, err := datamodel.CreateArray[bool](am, p.DestinationArrayName, 1, false)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	f.inputs, f.mask = inputs, mask
}

func (f *ThresholdObjects) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *ThresholdObjects) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}

	or := strings.EqualFold(f.params.UnionOperator, "or")
	out := f.mask.Values()
	for i, c := range f.params.Comparisons {
		if filter.Cancelled(ctx) {
			return
		}
		vals := datamodel.Float64Values(f.inputs[i])
		for t, v := range vals {
			hit := c.Operator.apply(v, c.Value)
			switch {
			case i == 0:
				out[t] = hit
			case or:
				out[t] = out[t] || hit
			default:
				out[t] = out[t] && hit
			}
		}
		f.NotifyProgress((i+1)*100/len(f.params.Comparisons), fmt.Sprintf("Applied %s %s %v", c.ArrayPath.DataArray, c.Operator, c.Value))
	}
	f.NotifyStatus("Complete")
}
