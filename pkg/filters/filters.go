// Package filters wires the built-in filters into a registry.
package filters

import (
	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/filters/core"
	"github.com/ajitpratap0/voxelflow/pkg/filters/fileio"
	"github.com/ajitpratap0/voxelflow/pkg/filters/processing"
	"github.com/ajitpratap0/voxelflow/pkg/filters/statistics"
	"github.com/ajitpratap0/voxelflow/pkg/registry"
	"github.com/ajitpratap0/voxelflow/pkg/snapshot"
)

// Options carries the shared dependencies of the built-in filters.
type Options struct {
	// Snapshots resolves snapshot locations for the snapshot filters. Nil
	// uses a resolver with the default AWS configuration.
	Snapshots *snapshot.Resolver
}

// Builtins returns the factories of every built-in filter.
func Builtins(opts Options) []registry.Factory {
	snapshots := opts.Snapshots
	if snapshots == nil {
		snapshots = snapshot.NewResolver(snapshot.S3Config{}, nil)
	}
	return []registry.Factory{
		core.NewCreateDataContainer,
		core.NewCreateAttributeMatrix,
		core.NewCreateDataArray,
		core.NewRenameAttributeArray,
		core.NewDeleteData,
		core.NewSetImageGeometry,

		processing.NewThresholdObjects,
		processing.NewConvertData,
		processing.NewScalarSegmentFeatures,

		statistics.NewFindSizes,
		statistics.NewCalculateArrayStatistics,
		statistics.NewRemoveSmallFeatures,

		fileio.NewRawBinaryReader,
		func() filter.Filter { return fileio.NewWriteSnapshotWith(snapshots) },
		func() filter.Filter { return fileio.NewReadSnapshotWith(snapshots) },
	}
}

// RegisterBuiltins adds every built-in filter to reg.
func RegisterBuiltins(reg *registry.Registry, opts Options) error {
	for _, f := range Builtins(opts) {
		if err := reg.Register(f); err != nil {
			return err
		}
	}
	return nil
}
