package engine

import (
	"time"

	"plugin-guard/internal/sandbox"
	"plugin-guard/internal/storage"
	"plugin-guard/internal/validator"
	"plugin-guard/pkg/plugin"
)

// Sink receives validation verdicts, telemetry and violations for
// persistence. The registry owns long-term storage; the engine only
// emits.
type Sink interface {
	EmitValidation(identity plugin.Identity, result *validator.Result)
	EmitTelemetry(identity plugin.Identity, t *sandbox.Telemetry, status string)
	EmitViolation(v sandbox.Violation)
}

// NopSink discards everything. Used when no registry is configured.
type NopSink struct{}

func (NopSink) EmitValidation(plugin.Identity, *validator.Result) {}
func (NopSink) EmitTelemetry(plugin.Identity, *sandbox.Telemetry, string) {}
func (NopSink) EmitViolation(sandbox.Violation) {}

// AuditSink forwards records to the buffered storage writer.
type AuditSink struct {
	writer *storage.AuditWriter
}

func NewAuditSink(writer *storage.AuditWriter) *AuditSink {
	return &AuditSink{writer: writer}
}

func (s *AuditSink) EmitValidation(identity plugin.Identity, result *validator.Result) {
	s.writer.LogValidation(&storage.ValidationRecord{
		PluginID:         identity.ID,
		PluginName:       result.PluginName,
		ContentHash:      result.ContentHash,
		SignatureValid:   result.SignatureValid,
		RiskScore:        int(result.RiskScore),
		RiskFactors:      result.RiskFactors,
		Status:           string(result.Status),
		QuarantineReason: result.QuarantineReason,
		ValidatedAt:      result.ValidatedAt,
	})
}

func (s *AuditSink) EmitTelemetry(identity plugin.Identity, t *sandbox.Telemetry, status string) {
	completed := t.EndTime
	var completedAt *time.Time
	if !completed.IsZero() {
		completedAt = &completed
	}

	s.writer.LogExecution(&storage.ExecutionRecord{
		SandboxID:      t.SandboxID,
		PluginID:       identity.ID,
		Status:         status,
		DurationMS:     t.Duration().Milliseconds(),
		PeakMemoryMB:   t.PeakMemoryMB,
		PeakCPUPercent: t.PeakCPUPercent,
		SampleCount:    len(t.ResourceSamples),
		ViolationCount: len(t.Violations),
		StartedAt:      t.StartTime,
		CompletedAt:    completedAt,
	})
}

func (s *AuditSink) EmitViolation(v sandbox.Violation) {
	s.writer.LogViolation(&storage.ViolationRecord{
		ID:          v.ID,
		SandboxID:   v.SandboxID,
		PluginID:    v.PluginID,
		Type:        string(v.Type),
		Severity:    v.Severity.String(),
		Description: v.Description,
		CreatedAt:   v.Timestamp,
	})
}
