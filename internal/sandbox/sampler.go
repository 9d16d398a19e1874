package sandbox

import (
	"runtime"
	"time"

	"github.com/prometheus/procfs"
	"github.com/rs/zerolog/log"
)

// Sampler produces point-in-time resource usage readings for the monitor.
type Sampler interface {
	Sample() (ResourceSample, error)
}

// NewSelfSampler returns a sampler for the current process: /proc based
// where available, Go runtime stats otherwise.
func NewSelfSampler() Sampler {
	proc, err := procfs.Self()
	if err != nil {
		log.Debug().Err(err).Msg("procfs unavailable, sampling Go runtime stats")
		return &memStatsSampler{}
	}
	return &procSampler{proc: proc}
}

// procSampler reads RSS and cumulative CPU time from /proc/self/stat.
// CPU percent is the utime+stime delta over the wall-clock delta between
// consecutive samples.
type procSampler struct {
	proc        procfs.Proc
	lastCPUTime float64
	lastAt      time.Time
}

func (s *procSampler) Sample() (ResourceSample, error) {
	stat, err := s.proc.Stat()
	if err != nil {
		return ResourceSample{}, err
	}

	now := time.Now()
	cpuTime := stat.CPUTime()

	var cpuPercent float64
	if !s.lastAt.IsZero() {
		elapsed := now.Sub(s.lastAt).Seconds()
		if elapsed > 0 {
			cpuPercent = (cpuTime - s.lastCPUTime) / elapsed * 100
		}
	}
	s.lastCPUTime = cpuTime
	s.lastAt = now

	return ResourceSample{
		Timestamp:  now,
		MemoryMB:   float64(stat.ResidentMemory()) / (1024 * 1024),
		CPUPercent: cpuPercent,
	}, nil
}

// memStatsSampler is the portable fallback. Heap allocation stands in for
// RSS; CPU percent is not available and stays zero.
type memStatsSampler struct{}

func (s *memStatsSampler) Sample() (ResourceSample, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return ResourceSample{
		Timestamp: time.Now(),
		MemoryMB:  float64(m.HeapAlloc) / (1024 * 1024),
	}, nil
}
