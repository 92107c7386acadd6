package core

import (
	"context"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

type renameAttributeArrayParams struct {
	SelectedArrayPath datamodel.DataArrayPath `mapstructure:"SelectedArrayPath" json:"SelectedArrayPath"`
	NewArrayName      string                  `mapstructure:"NewArrayName" json:"NewArrayName"`
}

// RenameAttributeArray renames an array inside its matrix. Renaming onto an
// existing name fails.
type RenameAttributeArray struct {
	filter.Base
	params renameAttributeArrayParams
}

func NewRenameAttributeArray() filter.Filter {
	f := &RenameAttributeArray{}
	f.Init(filter.Info{
		ClassName:  "RenameAttributeArray",
		HumanLabel: "Rename Attribute Array",
		Group:      Group,
		SubGroup:   "Memory/Management",
	})
	return f
}

func (f *RenameAttributeArray) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "SelectedArrayPath", Label: "Array to Rename", Kind: filter.KindArrayPath, Required: true},
		{Key: "NewArrayName", Label: "New Array Name", Kind: filter.KindString, Required: true},
	}
}

func (f *RenameAttributeArray) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *RenameAttributeArray) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *RenameAttributeArray) dataCheck(dca *datamodel.DataContainerArray) {
	p := f.params
	if p.NewArrayName == "" {
		f.SetErrorCondition(errors.CodeInvalidArrayName, "The new array name must be set")
		return
	}
	if _, err := dca.DataArray(p.SelectedArrayPath); err != nil {
		f.SetErrorFromErr(err)
		return
	}
	am, err := dca.AttributeMatrix(p.SelectedArrayPath)
	if err != nil {
		f.SetErrorFromErr(err)
		return
	}
	if err := am.RenameArray(p.SelectedArrayPath.DataArray, p.NewArrayName, false); err != nil {
		f.SetErrorFromErr(err)
	}
}

func (f *RenameAttributeArray) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *RenameAttributeArray) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}
	f.NotifyStatus("Complete")
}
