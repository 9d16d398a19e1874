package storage

import "time"

// ValidationRecord is a persisted validation verdict.
type ValidationRecord struct {
	ID               string    `json:"id" db:"id"`
	PluginID         string    `json:"plugin_id" db:"plugin_id"`
	PluginName       string    `json:"plugin_name" db:"plugin_name"`
	ContentHash      string    `json:"content_hash" db:"content_hash"`
	SignatureValid   bool      `json:"signature_valid" db:"signature_valid"`
	RiskScore        int       `json:"risk_score" db:"risk_score"`
	RiskFactors      []string  `json:"risk_factors" db:"risk_factors"`
	Status           string    `json:"status" db:"status"`
	QuarantineReason string    `json:"quarantine_reason,omitempty" db:"quarantine_reason"`
	ValidatedAt      time.Time `json:"validated_at" db:"validated_at"`
}

// ExecutionRecord is a persisted sandbox telemetry summary.
type ExecutionRecord struct {
	SandboxID      string     `json:"sandbox_id" db:"sandbox_id"`
	PluginID       string     `json:"plugin_id" db:"plugin_id"`
	Status         string     `json:"status" db:"status"` // completed, timeout, cancelled, plugin_error, infra_error
	DurationMS     int64      `json:"duration_ms" db:"duration_ms"`
	PeakMemoryMB   float64    `json:"peak_memory_mb" db:"peak_memory_mb"`
	PeakCPUPercent float64    `json:"peak_cpu_percent" db:"peak_cpu_percent"`
	SampleCount    int        `json:"sample_count" db:"sample_count"`
	ViolationCount int        `json:"violation_count" db:"violation_count"`
	StartedAt      time.Time  `json:"started_at" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// ViolationRecord stores violation details for audit.
type ViolationRecord struct {
	ID          string    `json:"id" db:"id"`
	SandboxID   string    `json:"sandbox_id" db:"sandbox_id"`
	PluginID    string    `json:"plugin_id" db:"plugin_id"`
	Type        string    `json:"type" db:"type"`
	Severity    string    `json:"severity" db:"severity"`
	Description string    `json:"description" db:"description"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// ValidationFilter provides criteria for querying validations.
type ValidationFilter struct {
	PluginID string
	Status   string
	Limit    int
	Offset   int
}
