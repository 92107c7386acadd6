// Package registry maps filter class names to factories. A Registry is an
// explicit value handed to whoever loads pipelines; there is no process-wide
// instance.
package registry

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
	"github.com/ajitpratap0/voxelflow/pkg/filter"
	"github.com/ajitpratap0/voxelflow/pkg/logger"
)

// Factory builds a new, unconfigured filter instance.
type Factory func() filter.Filter

// Registry manages filter registration and instantiation
type Registry struct {
	factories map[string]Factory
	infos     map[string]filter.Info
	mu        sync.RWMutex
	logger    *zap.Logger
}

// New creates an empty registry. A nil logger falls back to the process
// logger.
func New(log *zap.Logger) *Registry {
	if log == nil {
		log = logger.Get()
	}
	return &Registry{
		factories: make(map[string]Factory),
		infos:     make(map[string]filter.Info),
		logger:    log.With(zap.String("component", "filter_registry")),
	}
}

// Register adds a factory under the class name reported by the filters it
// builds.
func (r *Registry) Register(factory Factory) error {
	if factory == nil {
		return errors.New(errors.ErrorTypeConfig, "nil filter factory")
	}
	info := factory().Info()
	if info.ClassName == "" {
		return errors.New(errors.ErrorTypeConfig, "filter factory builds a filter without a class name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[info.ClassName]; exists {
		return errors.Newf(errors.ErrorTypeAlreadyExists, "filter %s already registered", info.ClassName)
	}

	r.factories[info.ClassName] = factory
	r.infos[info.ClassName] = info
	r.logger.Debug("filter registered", zap.String("class", info.ClassName), zap.String("group", info.Group))
	return nil
}

// MustRegister is Register for static wiring at start-up.
func (r *Registry) MustRegister(factories ...Factory) {
	for _, f := range factories {
		if err := r.Register(f); err != nil {
			panic(err)
		}
	}
}

// Create builds a new filter instance by class name.
func (r *Registry) Create(className string) (filter.Filter, error) {
	r.mu.RLock()
	factory, exists := r.factories[className]
	r.mu.RUnlock()

	if !exists {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "filter %s not registered", className).
			WithCode(errors.CodeUnknownFilter)
	}
	return factory(), nil
}

// Has checks if a class name is registered
func (r *Registry) Has(className string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.factories[className]
	return exists
}

// Names returns the registered class names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos returns the descriptions of every registered filter sorted by group
// then class name.
func (r *Registry) Infos() []filter.Info {
	r.mu.RLock()
	infos := make([]filter.Info, 0, len(r.infos))
	for _, info := range r.infos {
		infos = append(infos, info)
	}
	r.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Group != infos[j].Group {
			return infos[i].Group < infos[j].Group
		}
		return infos[i].ClassName < infos[j].ClassName
	})
	return infos
}
