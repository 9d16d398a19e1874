package sandbox

import (
	"fmt"
	"time"
)

// IsolationLevel is the named degree of restriction applied to a run.
// Each level is a strict superset of the restrictions below it.
type IsolationLevel int

const (
	// IsolationMinimal enforces limits on a best-effort, post-hoc basis
	// only. No monitor, no process separation.
	IsolationMinimal IsolationLevel = iota
	// IsolationStandard adds the real-time resource monitor and the
	// permission gate.
	IsolationStandard
	// IsolationStrict additionally runs subprocess entrypoints in a
	// killable process group and denies network egress unless the
	// network capability is explicitly granted.
	IsolationStrict
	// IsolationMaximum additionally confines all filesystem access to
	// the sandbox scratch directory, regardless of granted permissions.
	// Permission flags never relax a level floor.
	IsolationMaximum
)

func (l IsolationLevel) String() string {
	switch l {
	case IsolationMinimal:
		return "minimal"
	case IsolationStandard:
		return "standard"
	case IsolationStrict:
		return "strict"
	case IsolationMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// ParseIsolationLevel maps a config string to a level.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	switch s {
	case "minimal":
		return IsolationMinimal, nil
	case "standard", "":
		return IsolationStandard, nil
	case "strict":
		return IsolationStrict, nil
	case "maximum":
		return IsolationMaximum, nil
	default:
		return 0, fmt.Errorf("%w: unknown isolation level %q", ErrInvalidConfig, s)
	}
}

// IsolationConfig bundles the isolation behavior for a sandbox.
type IsolationConfig struct {
	Level                    IsolationLevel
	EnableRealTimeMonitoring bool
	SampleInterval           time.Duration
	AutoRecoveryEnabled      bool
	ViolationThreshold       uint
}

func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		Level:                    IsolationStandard,
		EnableRealTimeMonitoring: true,
		SampleInterval:           time.Second,
		AutoRecoveryEnabled:      true,
		ViolationThreshold:       3,
	}
}

func (c IsolationConfig) Validate() error {
	if c.Level < IsolationMinimal || c.Level > IsolationMaximum {
		return fmt.Errorf("%w: isolation level out of range", ErrInvalidConfig)
	}
	if c.EnableRealTimeMonitoring && c.SampleInterval <= 0 {
		return fmt.Errorf("%w: sample_interval must be > 0 when monitoring is enabled", ErrInvalidConfig)
	}
	if c.ViolationThreshold == 0 {
		return fmt.Errorf("%w: violation_threshold must be >= 1", ErrInvalidConfig)
	}
	return nil
}

// monitoringActive reports whether the real-time monitor runs at this
// level. Minimal is post-hoc only.
func (c IsolationConfig) monitoringActive() bool {
	return c.EnableRealTimeMonitoring && c.Level >= IsolationStandard
}
