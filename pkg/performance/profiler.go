package performance

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ajitpratap0/voxelflow/pkg/errors"
)

// ProfileType names a runtime profile.
type ProfileType string

const (
	CPUProfile       ProfileType = "cpu"
	MemoryProfile    ProfileType = "memory"
	BlockProfile     ProfileType = "block"
	MutexProfile     ProfileType = "mutex"
	GoroutineProfile ProfileType = "goroutine"
	TraceProfile     ProfileType = "trace"
)

var profileTypes = []ProfileType{CPUProfile, MemoryProfile, BlockProfile, MutexProfile, GoroutineProfile, TraceProfile}

// ParseProfileTypes accepts profile names and "all".
func ParseProfileTypes(names []string) ([]ProfileType, error) {
	var out []ProfileType
	seen := map[ProfileType]bool{}
	add := func(t ProfileType) {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "all" {
			for _, t := range profileTypes {
				add(t)
			}
			continue
		}
		found := false
		for _, t := range profileTypes {
			if string(t) == n {
				add(t)
				found = true
			}
		}
		if !found {
			return nil, errors.Newf(errors.ErrorTypeInvalidParameter, "unknown profile type %q", n)
		}
	}
	return out, nil
}

// ProfileConfig selects the profiles collected around a run.
type ProfileConfig struct {
	Types     []ProfileType
	OutputDir string
	// BlockProfileRate and MutexProfileFraction apply when the block or
	// mutex profile is requested.
	BlockProfileRate     int
	MutexProfileFraction int
}

// Profiler collects pprof profiles and an execution trace for the span
// between Start and Stop.
type Profiler struct {
	config    ProfileConfig
	logger    *zap.Logger
	stamp     string
	cpuFile   *os.File
	traceFile *os.File
	written   []string
}

func NewProfiler(cfg ProfileConfig, log *zap.Logger) *Profiler {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BlockProfileRate <= 0 {
		cfg.BlockProfileRate = 1
	}
	if cfg.MutexProfileFraction <= 0 {
		cfg.MutexProfileFraction = 1
	}
	return &Profiler{config: cfg, logger: log.With(zap.String("component", "profiler"))}
}

func (p *Profiler) wants(t ProfileType) bool {
	for _, have := range p.config.Types {
		if have == t {
			return true
		}
	}
	return false
}

func (p *Profiler) path(t ProfileType, ext string) string {
	return filepath.Join(p.config.OutputDir, fmt.Sprintf("%s_%s.%s", t, p.stamp, ext))
}

// Start creates the output directory and begins the CPU profile and trace
// when requested.
func (p *Profiler) Start() error {
	p.stamp = time.Now().Format("20060102-150405.000")
	if err := os.MkdirAll(p.config.OutputDir, 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create profile directory")
	}
	if p.wants(BlockProfile) {
		runtime.SetBlockProfileRate(p.config.BlockProfileRate)
	}
	if p.wants(MutexProfile) {
		runtime.SetMutexProfileFraction(p.config.MutexProfileFraction)
	}

	if p.wants(CPUProfile) {
		f, err := os.Create(p.path(CPUProfile, "prof"))
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start CPU profiling")
		}
		p.cpuFile = f
	}
	if p.wants(TraceProfile) {
		f, err := os.Create(p.path(TraceProfile, "out"))
		if err != nil {
			p.stopCPU()
			return errors.Wrap(err, errors.ErrorTypeFile, "failed to create trace file")
		}
		if err := trace.Start(f); err != nil {
			_ = f.Close()
			p.stopCPU()
			return errors.Wrap(err, errors.ErrorTypeInternal, "failed to start tracing")
		}
		p.traceFile = f
	}

	p.logger.Info("profiling started",
		zap.String("output_dir", p.config.OutputDir),
		zap.Any("types", p.config.Types))
	return nil
}

func (p *Profiler) stopCPU() {
	if p.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = p.cpuFile.Close()
	p.written = append(p.written, p.cpuFile.Name())
	p.cpuFile = nil
}

// Stop ends the CPU profile and trace, writes the snapshot profiles and
// returns every file written.
func (p *Profiler) Stop() ([]string, error) {
	p.stopCPU()
	if p.traceFile != nil {
		trace.Stop()
		_ = p.traceFile.Close()
		p.written = append(p.written, p.traceFile.Name())
		p.traceFile = nil
	}

	var firstErr error
	for _, t := range []struct {
		kind ProfileType
		name string
	}{
		{MemoryProfile, "heap"},
		{BlockProfile, "block"},
		{MutexProfile, "mutex"},
		{GoroutineProfile, "goroutine"},
	} {
		if !p.wants(t.kind) {
			continue
		}
		if err := p.writeLookup(t.kind, t.name); err != nil {
			p.logger.Error("failed to save profile", zap.String("type", string(t.kind)), zap.Error(err))
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	if p.wants(BlockProfile) {
		runtime.SetBlockProfileRate(0)
	}
	if p.wants(MutexProfile) {
		runtime.SetMutexProfileFraction(0)
	}

	p.logger.Info("profiling completed", zap.Strings("files", p.written))
	return p.written, firstErr
}

func (p *Profiler) writeLookup(t ProfileType, name string) error {
	prof := pprof.Lookup(name)
	if prof == nil {
		return errors.Newf(errors.ErrorTypeInternal, "no %s profile", name)
	}
	f, err := os.Create(p.path(t, "prof"))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to create profile file")
	}
	defer f.Close()
	if t == MemoryProfile {
		runtime.GC()
	}
	if err := prof.WriteTo(f, 0); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "failed to write profile")
	}
	p.written = append(p.written, f.Name())
	return nil
}
