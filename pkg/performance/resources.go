package performance

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// ResourceUsage contains resource usage information
type ResourceUsage struct {
	CPUPercent            float64
	MemoryRSS             uint64
	MemoryVMS             uint64
	HeapAlloc             uint64
	SystemMemoryPercent   float64
	SystemMemoryAvailable uint64
	GoroutineCount        int
	ThreadCount           int32
}

// ResourceMonitor reports the resource usage of the current process since
// it was created.
type ResourceMonitor struct {
	process      *process.Process
	startCPUTime float64
	startTime    time.Time
}

// NewResourceMonitor creates a resource monitor for this process. Process
// level fields stay zero on platforms gopsutil cannot inspect.
func NewResourceMonitor() *ResourceMonitor {
	rm := &ResourceMonitor{startTime: time.Now()}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return rm
	}
	rm.process = proc
	if t, err := proc.Times(); err == nil {
		rm.startCPUTime = t.Total()
	}
	return rm
}

// Usage returns current resource usage
func (rm *ResourceMonitor) Usage() ResourceUsage {
	var usage ResourceUsage

	if rm.process != nil {
		if t, err := rm.process.Times(); err == nil {
			if elapsed := time.Since(rm.startTime).Seconds(); elapsed > 0 {
				usage.CPUPercent = (t.Total() - rm.startCPUTime) / elapsed * 100
			}
		}
		if mi, err := rm.process.MemoryInfo(); err == nil {
			usage.MemoryRSS = mi.RSS
			usage.MemoryVMS = mi.VMS
		}
		usage.ThreadCount, _ = rm.process.NumThreads()
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		usage.SystemMemoryPercent = vm.UsedPercent
		usage.SystemMemoryAvailable = vm.Available
	}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	usage.HeapAlloc = ms.HeapAlloc
	usage.GoroutineCount = runtime.NumGoroutine()
	return usage
}

// Fields renders u for structured logging.
func (u ResourceUsage) Fields() []zap.Field {
	return []zap.Field{
		zap.Float64("cpu_percent", u.CPUPercent),
		zap.Uint64("rss_bytes", u.MemoryRSS),
		zap.Uint64("heap_bytes", u.HeapAlloc),
		zap.Float64("system_memory_percent", u.SystemMemoryPercent),
		zap.Uint64("system_memory_available", u.SystemMemoryAvailable),
		zap.Int("goroutines", u.GoroutineCount),
		zap.Int32("threads", u.ThreadCount),
	}
}
