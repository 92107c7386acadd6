// Package voxelflow runs ordered filter pipelines over volumetric image data
// held in an in-memory hierarchical store.
//
// # Architecture
//
// The data store (pkg/datamodel) is a tree of data containers, each with an
// optional image geometry and named attribute matrices. A matrix fixes a
// tuple shape shared by all of its typed, multi-component arrays.
//
// A filter (pkg/filter) validates its parameters against the store in a
// preflight pass, creating placeholder arrays so later filters can validate
// too, then executes against the real store. Filters report a status code
// and messages rather than returning errors.
//
// A pipeline (internal/pipeline) runs preflight then execute across its
// filters, stops at the first negative code, supports cancellation from
// another goroutine and delivers messages to observers in order.
//
// # Quick Start
//
//	reg := registry.New(logger.Get())
//	_ = filters.RegisterBuiltins(reg, filters.Options{})
//
//	def, _ := pipeline.ReadDefinition("segment.yaml")
//	p, _, _ := def.Build(reg)
//	res, _ := p.Run(ctx, datamodel.NewDataContainerArray())
//	os.Exit(res.ExitCode())
//
// The voxelflow command (cmd/voxelflow) wraps the same steps with
// configuration, metrics, tracing, snapshots and run history.
//
// # Packages
//
//   - pkg/datamodel: containers, matrices, typed arrays and paths
//   - pkg/filter, pkg/registry: the filter contract and the factory registry
//   - pkg/filters/...: core, processing, statistics and IO filters
//   - pkg/snapshot, pkg/compression: store persistence to files and S3
//   - pkg/performance: the allocation guard, resource usage and profiling
//   - pkg/config, pkg/logger, pkg/metrics, pkg/observability: ambient stack
//   - internal/pipeline, internal/history: execution and run records
package voxelflow
