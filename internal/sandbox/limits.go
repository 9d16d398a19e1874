package sandbox

import (
	"fmt"
	"time"
)

// Limits caps what one plugin invocation may consume. A zero field means
// "use the system default", never unlimited.
type Limits struct {
	MaxMemoryMB         uint64  `json:"max_memory_mb" yaml:"max_memory_mb"`
	MaxExecutionSeconds uint64  `json:"max_execution_seconds" yaml:"max_execution_seconds"`
	MaxCPUPercent       float64 `json:"max_cpu_percent,omitempty" yaml:"max_cpu_percent"`
}

func DefaultLimits() Limits {
	return Limits{
		MaxMemoryMB:         256,
		MaxExecutionSeconds: 30,
		MaxCPUPercent:       80,
	}
}

// WithDefaults fills zero fields from DefaultLimits.
func (l Limits) WithDefaults() Limits {
	def := DefaultLimits()
	if l.MaxMemoryMB == 0 {
		l.MaxMemoryMB = def.MaxMemoryMB
	}
	if l.MaxExecutionSeconds == 0 {
		l.MaxExecutionSeconds = def.MaxExecutionSeconds
	}
	if l.MaxCPUPercent == 0 {
		l.MaxCPUPercent = def.MaxCPUPercent
	}
	return l
}

func (l Limits) Validate() error {
	if l.MaxMemoryMB < 1 || l.MaxMemoryMB > 16384 {
		return fmt.Errorf("%w: max_memory_mb must be 1-16384, got %d", ErrInvalidConfig, l.MaxMemoryMB)
	}
	if l.MaxExecutionSeconds < 1 || l.MaxExecutionSeconds > 3600 {
		return fmt.Errorf("%w: max_execution_seconds must be 1-3600, got %d", ErrInvalidConfig, l.MaxExecutionSeconds)
	}
	if l.MaxCPUPercent < 0 || l.MaxCPUPercent > 100 {
		return fmt.Errorf("%w: max_cpu_percent must be 0-100, got %.1f", ErrInvalidConfig, l.MaxCPUPercent)
	}
	return nil
}

// ExecutionBudget returns the hard wall-clock budget for one run.
func (l Limits) ExecutionBudget() time.Duration {
	return time.Duration(l.MaxExecutionSeconds) * time.Second
}

// Tightened returns limits halved for a recovery retry. Values never drop
// below 1 so a retried plugin still gets a runnable budget.
func (l Limits) Tightened() Limits {
	t := l
	if t.MaxMemoryMB > 1 {
		t.MaxMemoryMB /= 2
	}
	if t.MaxExecutionSeconds > 1 {
		t.MaxExecutionSeconds /= 2
	}
	return t
}

// Permissions lists the capabilities granted to plugin code. The zero
// value denies everything; capabilities are never implied.
type Permissions struct {
	CanReadFiles      bool `json:"can_read_files" yaml:"can_read_files"`
	CanWriteFiles     bool `json:"can_write_files" yaml:"can_write_files"`
	CanAccessNetwork  bool `json:"can_access_network" yaml:"can_access_network"`
	CanSpawnProcesses bool `json:"can_spawn_processes" yaml:"can_spawn_processes"`
}
