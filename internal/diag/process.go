// Package diag samples the daemon's own process for the health
// endpoint.
package diag

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
)

// Snapshot is one self-usage sample.
type Snapshot struct {
	PID        int     `json:"pid"`
	CPUPercent float64 `json:"cpuPercent"`
	MemoryRSS  uint64  `json:"memoryRss"`
	Goroutines int     `json:"goroutines"`
}

// Collect samples the current process.
func Collect() (*Snapshot, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		PID:        os.Getpid(),
		Goroutines: runtime.NumGoroutine(),
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		snap.CPUPercent = cpu
	}
	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		snap.MemoryRSS = mem.RSS
	}
	return snap, nil
}
