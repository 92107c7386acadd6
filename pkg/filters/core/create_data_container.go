// Package core holds the structural filters: they create, rename and delete
// containers, matrices and arrays without computing anything.
package core

import (
	"context"

	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
)

// Group is the filter group of every filter in this package.
const Group = "Core"

type createDataContainerParams struct {
	DataContainerName string `mapstructure:"DataContainerName" json:"DataContainerName"`
}

// CreateDataContainer adds an empty data container.
type CreateDataContainer struct {
	filter.Base
	params createDataContainerParams
}

func NewCreateDataContainer() filter.Filter {
	f := &CreateDataContainer{params: createDataContainerParams{DataContainerName: "DataContainer"}}
	f.Init(filter.Info{
		ClassName:   "CreateDataContainer",
		HumanLabel:  "Create Data Container",
		Group:       Group,
		SubGroup:    "Generation",
		Description: "Creates an empty data container",
	})
	return f
}

func (f *CreateDataContainer) Parameters() []filter.Parameter {
	return []filter.Parameter{
		{Key: "DataContainerName", Label: "Data Container Name", Kind: filter.KindContainerName, Default: "DataContainer", Required: true},
	}
}

func (f *CreateDataContainer) SetParameters(values map[string]any) error {
	return filter.DecodeParameters(values, &f.params)
}

func (f *CreateDataContainer) ParameterValues() map[string]any {
	return filter.EncodeParameters(f.params)
}

func (f *CreateDataContainer) dataCheck(dca *datamodel.DataContainerArray) {
	if f.params.DataContainerName == "" {
		f.SetErrorCondition(errors.CodeInvalidArrayName, "The data container name must be set")
		return
	}
	if _, err := dca.CreateDataContainer(f.params.DataContainerName); err != nil {
		f.SetErrorFromErr(err)
	}
}

func (f *CreateDataContainer) Preflight(_ context.Context, dca *datamodel.DataContainerArray) {
	f.BeginPreflight()
	defer f.EndPreflight()
	f.dataCheck(dca)
}

func (f *CreateDataContainer) Execute(ctx context.Context, dca *datamodel.DataContainerArray) {
	f.BeginExecute()
	defer f.EndExecute(ctx)
	f.dataCheck(dca)
	if f.ErrorCode() < 0 {
		return
	}
	f.NotifyStatus("Complete")
}
