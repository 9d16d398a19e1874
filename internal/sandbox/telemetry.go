package sandbox

import (
	"time"

	"github.com/google/uuid"
)

// ViolationType classifies a detected breach.
type ViolationType string

const (
	ViolationResourceExceeded ViolationType = "resource_exceeded"
	ViolationPermissionDenied ViolationType = "permission_denied"
	ViolationTimeout          ViolationType = "timeout"
	ViolationIllegalOperation ViolationType = "illegal_operation"
)

// Severity grades a violation.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Violation records one breach of a declared limit or permission. It is
// never mutated after creation.
type Violation struct {
	ID          string        `json:"id"`
	Type        ViolationType `json:"type"`
	Timestamp   time.Time     `json:"timestamp"`
	PluginID    string        `json:"plugin_id"`
	SandboxID   string        `json:"sandbox_id"`
	Description string        `json:"description"`
	Severity    Severity      `json:"severity"`
}

func newViolation(vt ViolationType, pluginID, sandboxID, description string, sev Severity) Violation {
	return Violation{
		ID:          uuid.New().String(),
		Type:        vt,
		Timestamp:   time.Now(),
		PluginID:    pluginID,
		SandboxID:   sandboxID,
		Description: description,
		Severity:    sev,
	}
}

// ResourceSample is one point-in-time usage reading.
type ResourceSample struct {
	Timestamp  time.Time `json:"timestamp"`
	MemoryMB   float64   `json:"memory_mb"`
	CPUPercent float64   `json:"cpu_percent"`
}

// Telemetry is the time-ordered record of one sandbox's lifetime. It is
// owned exclusively by its sandbox while execution is in progress: only
// the monitor appends samples, only the monitor or the execution wrapper
// appends violations. Once the sandbox exits it is read-only.
type Telemetry struct {
	SandboxID       string           `json:"sandbox_id"`
	PluginID        string           `json:"plugin_id"`
	StartTime       time.Time        `json:"start_time"`
	EndTime         time.Time        `json:"end_time"`
	PeakMemoryMB    float64          `json:"peak_memory_mb"`
	PeakCPUPercent  float64          `json:"peak_cpu_percent"`
	ResourceSamples []ResourceSample `json:"resource_samples"`
	Violations      []Violation      `json:"violations"`
}

func (t *Telemetry) appendSample(s ResourceSample) {
	t.ResourceSamples = append(t.ResourceSamples, s)
	if s.MemoryMB > t.PeakMemoryMB {
		t.PeakMemoryMB = s.MemoryMB
	}
	if s.CPUPercent > t.PeakCPUPercent {
		t.PeakCPUPercent = s.CPUPercent
	}
}

// Duration returns the sandbox lifetime, or time since start if the
// sandbox has not exited yet.
func (t *Telemetry) Duration() time.Duration {
	if t.EndTime.IsZero() {
		return time.Since(t.StartTime)
	}
	return t.EndTime.Sub(t.StartTime)
}
