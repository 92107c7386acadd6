package main

import (
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/internal/history"
	"github.com/ajitpratap0/voxelflow/pkg/config"
	"github.com/ajitpratap0/voxelflow/pkg/datamodel"
	"github.com/ajitpratap0/voxelflow/pkg/filters"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
	"github.com/ajitpratap0/voxelflow/pkg/observability"
	"github.com/ajitpratap0/voxelflow/pkg/performance"
	"github.com/ajitpratap0/voxelflow/pkg/registry"
	"github.com/ajitpratap0/voxelflow/pkg/snapshot"
)

// app is the state shared by the commands of one invocation.
type app struct {
	cfgFile string
	stdout  io.Writer

	cfg       *config.Config
	log       *zap.Logger
	registry  *registry.Registry
	snapshots *snapshot.Resolver
	guard     *performance.MemoryGuard
	shutdown  observability.ShutdownFunc
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(a.cfgFile, cmd.Flags())
	if err != nil {
		return err
	}
	if cfg.Tracing.ServiceVersion == "" {
		cfg.Tracing.ServiceVersion = version
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	a.cfg = cfg
	a.log = logger.With(zap.String("component", "voxelflow-cli"))

	shutdown, err := observability.InitTracing(cfg.Tracing)
	if err != nil {
		return err
	}
	a.shutdown = shutdown

	a.snapshots = snapshot.NewResolver(cfg.Snapshot.S3, a.log)
	a.registry = registry.New(a.log)
	if err := filters.RegisterBuiltins(a.registry, filters.Options{Snapshots: a.snapshots}); err != nil {
		return err
	}
	a.guard = performance.NewMemoryGuard(cfg.Execution.GuardConfig, a.log)
	return nil
}

func (a *app) teardown() {
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil && a.log != nil {
			a.log.Warn("failed to flush traces", zap.Error(err))
		}
		a.shutdown = nil
	}
	if a.log != nil {
		_ = logger.Sync()
	}
}

// newStore returns an empty data store whose allocations go through the
// memory guard.
func (a *app) newStore() *datamodel.DataContainerArray {
	return datamodel.NewDataContainerArray(datamodel.WithAllocationGuard(a.guard))
}

// openHistory returns nil when history is disabled.
func (a *app) openHistory(ctx context.Context) (*history.Store, error) {
	if !a.cfg.History.Enabled {
		return nil, nil
	}
	return history.Open(ctx, a.cfg.History.Path, a.log)
}
