// Package performance guards data store allocations against the memory of
// the host and reports process resource usage.
package performance

import (
	"sync/atomic"

	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
)

// GuardConfig configures a MemoryGuard.
type GuardConfig struct {
	// MemoryFraction is the largest share of the currently available system
	// memory a single allocation may take. 0 disables the check.
	MemoryFraction float64 `mapstructure:"memory_fraction" json:"memory_fraction" yaml:"memory_fraction"`
	// MaxAllocationBytes caps a single allocation. 0 disables the cap.
	MaxAllocationBytes int64 `mapstructure:"max_allocation_bytes" json:"max_allocation_bytes" yaml:"max_allocation_bytes"`
}

// MemoryGuard refuses array allocations that would not fit in memory. It is
// installed on a DataContainerArray with datamodel.WithAllocationGuard.
type MemoryGuard struct {
	cfg       GuardConfig
	available func() (uint64, error)
	logger    *zap.Logger

	reserved atomic.Int64
	refused  atomic.Int64
}

// NewMemoryGuard creates a guard reading available memory from the host. A
// nil logger falls back to the process logger.
func NewMemoryGuard(cfg GuardConfig, log *zap.Logger) *MemoryGuard {
	if log == nil {
		log = logger.Get()
	}
	return &MemoryGuard{
		cfg:       cfg,
		available: systemAvailable,
		logger:    log.With(zap.String("component", "memory_guard")),
	}
}

func systemAvailable() (uint64, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return 0, err
	}
	return vm.Available, nil
}

// Reserve implements datamodel.AllocationGuard. When the host memory cannot
// be read only the absolute cap applies.
func (g *MemoryGuard) Reserve(bytes int64) error {
	if bytes <= 0 {
		return nil
	}
	if g.cfg.MaxAllocationBytes > 0 && bytes > g.cfg.MaxAllocationBytes {
		return g.refuse(errors.Newf(errors.ErrorTypeAllocation,
			"allocation of %d bytes exceeds the configured cap of %d bytes", bytes, g.cfg.MaxAllocationBytes))
	}
	if g.cfg.MemoryFraction > 0 {
		avail, err := g.available()
		if err != nil {
			g.logger.Debug("available memory unknown", zap.Error(err))
		} else if float64(bytes) > g.cfg.MemoryFraction*float64(avail) {
			return g.refuse(errors.Newf(errors.ErrorTypeAllocation,
				"allocation of %d bytes exceeds %.0f%% of the %d bytes of available memory",
				bytes, g.cfg.MemoryFraction*100, avail).
				WithDetail("available", avail))
		}
	}
	g.reserved.Add(bytes)
	return nil
}

func (g *MemoryGuard) refuse(err *errors.Error) error {
	g.refused.Add(1)
	g.logger.Warn("allocation refused", zap.Error(err))
	return err.WithCode(errors.CodeAllocationFailed)
}

// Reserved is the total of the allocations granted so far.
func (g *MemoryGuard) Reserved() int64 { return g.reserved.Load() }

// Refused is the number of allocations refused so far.
func (g *MemoryGuard) Refused() int64 { return g.refused.Load() }
