package workload

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Host describes the machine a benchmark runs on.
type Host struct {
	LogicalCPUs  int
	PhysicalCPUs int
	MemoryTotal  uint64 // bytes, zero if unknown
	GOMAXPROCS   int
}

// DetectHost queries the CPU and memory of the current machine. Values the
// platform cannot report fall back to the Go runtime's view or zero.
func DetectHost() Host {
	h := Host{GOMAXPROCS: runtime.GOMAXPROCS(0)}
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		h.LogicalCPUs = n
	} else {
		h.LogicalCPUs = runtime.NumCPU()
	}
	if n, err := cpu.Counts(false); err == nil {
		h.PhysicalCPUs = n
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		h.MemoryTotal = vm.Total
	}
	return h
}

// DefaultThreads is the worker count used when none is configured.
func (h Host) DefaultThreads() int {
	if h.LogicalCPUs > 0 {
		return h.LogicalCPUs
	}
	return 1
}
