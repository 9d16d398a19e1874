package sandbox

import (
	"time"

	"github.com/rs/zerolog"
)

// resourceMonitor samples resource usage of a running sandbox at a fixed
// interval, appending samples to the sandbox telemetry and raising
// ResourceExceeded violations the moment a limit is breached. It runs on
// its own goroutine and never outlives its sandbox: teardown performs a
// bounded join.
type resourceMonitor struct {
	sb       *Sandbox
	sampler  Sampler
	interval time.Duration
	logger   zerolog.Logger

	stop chan struct{}
	done chan struct{}
}

func newResourceMonitor(sb *Sandbox, sampler Sampler, interval time.Duration, logger zerolog.Logger) *resourceMonitor {
	return &resourceMonitor{
		sb:       sb,
		sampler:  sampler,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (m *resourceMonitor) start() {
	go m.loop()
}

// stopAndJoin signals the loop to exit and waits up to timeout for it.
// Returns false if the join timed out.
func (m *resourceMonitor) stopAndJoin(timeout time.Duration) bool {
	close(m.stop)
	select {
	case <-m.done:
		return true
	case <-time.After(timeout):
		m.logger.Warn().Msg("resource monitor join timed out")
		return false
	}
}

func (m *resourceMonitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.sampleOnce()
		}
	}
}

func (m *resourceMonitor) sampleOnce() {
	sample, err := m.sampler.Sample()
	if err != nil {
		m.logger.Debug().Err(err).Msg("resource sample failed")
		return
	}

	m.sb.recordSample(sample)
	m.enforce(sample)
}

// enforce checks the sample against the limits. A breach records a
// violation and signals the sandbox to begin cancelling the running
// plugin call; sampling itself continues until the sandbox tears down so
// the telemetry stays forensically complete.
func (m *resourceMonitor) enforce(sample ResourceSample) {
	m.sb.enforceLimits(sample, true)
}
