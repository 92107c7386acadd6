package core

import (
	"context"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

type deleteDataParams struct {
	// DataArraysToRemove holds container ("dc"), matrix ("dc|am") and array
	// ("dc|am|array") paths.
	DataArraysToRemove []datamodel.DataArrayPath `mapstructure:"DataArraysToRemove" json:"DataArraysToRemove"`
}

// DeleteData removes containers, matrices and arrays. Every listed object
// must exist.
type DeleteData struct {
	filter.Base
	params deleteDataParams
}

func NewDeleteData() filter.Filter {
	f := &DeleteData{}
	f.Init(filter.Info{
		ClassName:  "DeleteData",
		HumanLabel: "Delete Data",
		Group:      Group,
		SubGroup:   "Memory/Management",
	})
	return f
}

func (f *DeleteData) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "DataArraysToRemove", Label: "Objects to Delete", Kind: filter.KindDataPathList, Required: true},
	}
}

func (f *DeleteData) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *DeleteData) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *DeleteData) remove(dca *datamodel.DataContainerArray, p datamodel.DataArrayPath) error {
	switch {
	case p.IsEmpty():
		return errors.New(errors.ErrorTypeInvalidPath, "path is empty").WithCode(errors.CodeEmptyPath)
	case p.AttributeMatrix == "":
		if _, ok := dca.RemoveDataContainer(p.DataContainer); !ok {
			return errors.Newf(errors.ErrorTypeMissingDataContainer, "data container %q does not exist", p.DataContainer)
		}
	case p.DataArray == "":
		dc, err := dca.DataContainer(p.DataContainer)
		if err != nil {
			return err
		}
		if _, ok := dc.RemoveAttributeMatrix(p.AttributeMatrix); !ok {
			return errors.Newf(errors.ErrorTypeMissingAttributeMatrix,
				"attribute matrix %q does not exist in data container %q", p.AttributeMatrix, p.DataContainer)
		}
	default:
		am, err := dca.AttributeMatrix(p)
		if err != nil {
			return err
		}
		if _, ok := am.RemoveArray(p.DataArray); !ok {
			return errors.Newf(errors.ErrorTypeMissingPrerequisite, "array %q does not exist", p.String())
		}
	}
	return nil
}

func (f *DeleteData) dataCheck(dca *datamodel.DataContainerArray) {
	for _, p := range f.params.DataArraysToRemove {
		if err := f.remove(dca, p); err != nil {
			f.SetErrorFromErr(err)
			return
		}
	}
}

func (f *DeleteData) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *DeleteData) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}
	f.NotifyStatus("Complete")
}
