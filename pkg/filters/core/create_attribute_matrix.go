package core

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

type createAttributeMatrixParams struct {
	DataContainerName   string               `mapstructure:"DataContainerName" json:"DataContainerName"`
	AttributeMatrixName string               `mapstructure:"AttributeMatrixName" json:"AttributeMatrixName"`
	AttributeMatrixType datamodel.MatrixType `mapstructure:"AttributeMatrixType" json:"AttributeMatrixType"`
	TupleDimensions     []int                `mapstructure:"TupleDimensions" json:"TupleDimensions"`
}

// CreateAttributeMatrix adds a matrix with fixed tuple dimensions to an
// existing container. An existing matrix of the same name must already have
// those dimensions.
type CreateAttributeMatrix struct {
	filter.Base
	params createAttributeMatrixParams
}

func NewCreateAttributeMatrix() filter.Filter {
	f := &CreateAttributeMatrix{params: createAttributeMatrixParams{
		AttributeMatrixName: "AttributeMatrix",
		AttributeMatrixType: datamodel.MatrixGeneric,
		TupleDimensions:     []int{1},
	}}
	f.Init(filter.Info{
		ClassName:  "CreateAttributeMatrix",
		HumanLabel: "Create Attribute Matrix",
		Group:      Group,
		SubGroup:   "Generation",
	})
	return f
}

func (f *CreateAttributeMatrix) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "DataContainerName", Label: "Data Container", Kind: filter.KindContainerName, Required: true},
		{Key: "AttributeMatrixName", Label: "Attribute Matrix Name", Kind: filter.KindString, Default: "AttributeMatrix", Required: true},
		{Key: "AttributeMatrixType", Label: "Attribute Matrix Type", Kind: filter.KindMatrixType, Default: "Generic"},
		{Key: "TupleDimensions", Label: "Tuple Dimensions", Kind: filter.KindDimensions, Default: []int{1}, Required: true},
	}
}

func (f *CreateAttributeMatrix) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *CreateAttributeMatrix) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *CreateAttributeMatrix) dataCheck(dca *datamodel.DataContainerArray) {
	p := f.params
	if p.AttributeMatrixName == "" {
		f.SetErrorCondition(errors.CodeInvalidArrayName, "The attribute matrix name must be set")
		return
	}
	if len(p.TupleDimensions) == 0 {
		f.SetErrorCondition(errors.CodeInvalidParameter, "At least one tuple dimension is required")
		return
	}
	for i, d := range p.TupleDimensions {
		if d <= 0 {
			f.SetErrorCondition(errors.CodeInvalidParameter, fmt.Sprintf("Tuple dimension %d must be positive, got %d", i, d))
			return
		}
	}
	dc, err := dca.DataContainer(p.DataContainerName)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	am, err := dc.CreateAttributeMatrix(p.AttributeMatrixName, p.TupleDimensions, p.AttributeMatrixType)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	want := 1
	for _, d := range p.TupleDimensions {
		want *= d
	}
	if am.NumTuples() != want {
		f.SetErrorCondition(errors.CodeTupleValidation, fmt.Sprintf(
			"Attribute matrix %q already exists with %d tuples, requested %d", p.AttributeMatrixName, am.NumTuples(), want))
	}
}

func (f *CreateAttributeMatrix) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *CreateAttributeMatrix) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}
	f.NotifyStatus("Complete")
}
