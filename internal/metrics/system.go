package metrics

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

// SampleInterval is how often the system sampler refreshes its gauges.
const SampleInterval = 10 * time.Second

// Sampler periodically feeds runtime and process stats into the
// registry's system gauges.
type Sampler struct {
	reg  *Registry
	proc *process.Process
}

// NewSampler creates a sampler for the current process. A gopsutil
// failure only disables the CPU gauge; the runtime gauges still work.
func NewSampler(reg *Registry) *Sampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		slog.Warn("process handle unavailable, cpu gauge disabled", "error", err)
		proc = nil
	}
	return &Sampler{reg: reg, proc: proc}
}

// Run samples until the context is canceled.
func (s *Sampler) Run(ctx context.Context) error {
	ticker := time.NewTicker(SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sample()
		}
	}
}

func (s *Sampler) sample() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	s.reg.GoroutineCount.Set(float64(runtime.NumGoroutine()))
	s.reg.HeapBytes.Set(float64(mem.HeapAlloc))

	if s.proc != nil {
		if pct, err := s.proc.CPUPercent(); err == nil {
			s.reg.CPUPercent.Set(pct)
		}
	}
}
