// Package engine is the top of the isolation pipeline: validate a plugin
// artifact, execute its entrypoint in a sandbox under the configured
// limits and isolation level, feed violations through the recovery
// manager, and emit verdicts and telemetry to the registry sinks.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"plugin-guard/internal/monitor"
	"plugin-guard/internal/sandbox"
	"plugin-guard/internal/validator"
	"plugin-guard/pkg/plugin"
)

// ErrQuarantined marks plugins barred from execution, whether by a
// validation verdict or by runtime violation escalation.
var ErrQuarantined = errors.New("plugin is quarantined")

// Execution statuses recorded in telemetry sinks and metrics.
const (
	StatusCompleted   = "completed"
	StatusTimeout     = "timeout"
	StatusCancelled   = "cancelled"
	StatusPluginError = "plugin_error"
	StatusInfraError  = "infra_error"
	StatusQuarantined = "quarantined"
)

// Execution is the full report of one ExecutePlugin call.
type Execution struct {
	Validation *validator.Result
	Telemetry  *sandbox.Telemetry
	Result     any
	Status     string
	Retried    bool
}

// PerfPoint is one entry in a plugin's performance history.
type PerfPoint struct {
	Timestamp    time.Time     `json:"timestamp"`
	Duration     time.Duration `json:"duration"`
	PeakMemoryMB float64       `json:"peak_memory_mb"`
	Violations   int           `json:"violations"`
	Succeeded    bool          `json:"succeeded"`
}

// Health is a point-in-time snapshot of the engine.
type Health struct {
	ActiveSandboxes    int64    `json:"active_sandboxes"`
	QuarantinedPlugins []string `json:"quarantined_plugins"`
	RecoveryActions    int      `json:"recovery_actions"`
}

// Engine wires the validator, sandbox, recovery manager, metrics, tracer
// and sinks. Safe for concurrent use; concurrent executions are fully
// independent sandboxes.
type Engine struct {
	validator *validator.Validator
	recovery  *sandbox.RecoveryManager
	metrics   *monitor.Metrics
	tracer    *monitor.Tracer
	sink      Sink
	cfg       sandbox.IsolationConfig

	sampler sandbox.Sampler // test override, nil in production

	active atomic.Int64

	mu      sync.Mutex
	history map[string][]PerfPoint
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the registry sink.
func WithSink(s Sink) Option {
	return func(e *Engine) { e.sink = s }
}

// WithSampler overrides the sandbox resource sampler (tests).
func WithSampler(s sandbox.Sampler) Option {
	return func(e *Engine) { e.sampler = s }
}

func New(v *validator.Validator, cfg sandbox.IsolationConfig, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		validator: v,
		recovery:  sandbox.NewRecoveryManager(cfg),
		metrics:   monitor.NewMetrics(),
		tracer:    monitor.NewTracer(),
		sink:      NopSink{},
		cfg:       cfg,
		history:   make(map[string][]PerfPoint),
	}
	for _, opt := range opts {
		opt(e)
	}

	log.Info().
		Str("isolation", cfg.Level.String()).
		Bool("auto_recovery", cfg.AutoRecoveryEnabled).
		Uint("violation_threshold", cfg.ViolationThreshold).
		Msg("isolation engine initialized")
	return e, nil
}

// Metrics exposes the engine's Prometheus registry.
func (e *Engine) Metrics() *monitor.Metrics { return e.metrics }

// Recovery exposes the shared recovery manager.
func (e *Engine) Recovery() *sandbox.RecoveryManager { return e.recovery }

// ExecutePlugin validates the artifact and, when the gate passes, runs
// the entrypoint in a sandbox. A recoverable violation triggers one
// retry with tightened limits; escalation quarantines the plugin.
func (e *Engine) ExecutePlugin(ctx context.Context, identity plugin.Identity, limits sandbox.Limits, perms sandbox.Permissions, ep plugin.Entrypoint) (*Execution, error) {
	if reason, quarantined := e.recovery.IsQuarantined(identity.ID); quarantined {
		return nil, fmt.Errorf("%w: %s: %s", ErrQuarantined, identity.ID, reason)
	}

	ctx, span := e.tracer.StartSpan(ctx, "execute_plugin",
		monitor.AttrPluginID.String(identity.ID))
	defer span.End()

	exec := &Execution{}

	result, err := e.validator.Validate(identity)
	exec.Validation = result
	e.metrics.RecordValidation(string(result.Status), result.RiskScore)
	e.sink.EmitValidation(identity, result)
	span.SetAttributes(
		monitor.AttrRiskScore.Int(int(result.RiskScore)),
		monitor.AttrStatus.String(string(result.Status)),
	)
	if result.ContentHash != "" {
		span.SetAttributes(monitor.AttrContentHash.String(result.ContentHash[:16]))
	}

	if err != nil {
		exec.Status = StatusInfraError
		return exec, err
	}
	if result.Status == validator.StatusQuarantined {
		e.recovery.QuarantinePlugin(identity.ID, result.QuarantineReason)
		e.metrics.QuarantinedPlugins.Set(float64(len(e.recovery.QuarantinedPlugins())))
		exec.Status = StatusQuarantined
		return exec, fmt.Errorf("%w: %s: %s", ErrQuarantined, identity.ID, result.QuarantineReason)
	}
	if !result.Executable() {
		exec.Status = StatusInfraError
		return exec, fmt.Errorf("%w: validation status %s", validator.ErrValidationFailed, result.Status)
	}
	if result.Status == validator.StatusConditional {
		log.Warn().
			Str("plugin_id", identity.ID).
			Uint("risk_score", result.RiskScore).
			Msg("conditional plugin admitted, flagged for review")
	}

	defer e.recovery.EndSession(identity.ID)

	run := e.runOnce(ctx, identity, limits, perms, ep)
	if run.retry {
		if _, quarantined := e.recovery.IsQuarantined(identity.ID); !quarantined {
			log.Info().
				Str("plugin_id", identity.ID).
				Msg("retrying with tightened limits after recovery")
			run = e.runOnce(ctx, identity, limits.WithDefaults().Tightened(), perms, ep)
			exec.Retried = true
		}
	}

	exec.Telemetry = run.telemetry
	exec.Result = run.result
	exec.Status = run.status

	if run.telemetry != nil {
		e.metrics.RecordExecution(run.status, run.telemetry.Duration().Seconds(), run.telemetry.PeakMemoryMB)
		e.metrics.MonitorSamplesTotal.Add(float64(len(run.telemetry.ResourceSamples)))
		e.sink.EmitTelemetry(identity, run.telemetry, run.status)
		e.recordPerf(identity.ID, run)
		span.SetAttributes(
			monitor.AttrSandboxID.String(run.telemetry.SandboxID),
			monitor.AttrViolations.Int(len(run.telemetry.Violations)),
			monitor.AttrDurationMS.Int64(run.telemetry.Duration().Milliseconds()),
		)
	}
	e.metrics.QuarantinedPlugins.Set(float64(len(e.recovery.QuarantinedPlugins())))

	if run.quarantined {
		return exec, fmt.Errorf("%w: %s", ErrQuarantined, identity.ID)
	}
	return exec, run.err
}

type runResult struct {
	result      any
	telemetry   *sandbox.Telemetry
	err         error
	status      string
	retry       bool
	quarantined bool
}

func (e *Engine) runOnce(ctx context.Context, identity plugin.Identity, limits sandbox.Limits, perms sandbox.Permissions, ep plugin.Entrypoint) runResult {
	var (
		run   runResult
		sbRef *sandbox.Sandbox
	)

	handler := func(v sandbox.Violation) {
		e.metrics.RecordViolation(string(v.Type), v.Severity.String())
		e.sink.EmitViolation(v)

		outcome := e.recovery.HandleViolation(v)
		e.metrics.RecordRecovery(outcome.StrategyUsed, outcome.Recovered)

		if outcome.Quarantined {
			run.quarantined = true
			if sbRef != nil {
				sbRef.Abort()
			}
			return
		}
		if outcome.Recovered {
			run.retry = true
		}
	}

	opts := []sandbox.Option{sandbox.WithViolationHandler(handler)}
	if e.sampler != nil {
		opts = append(opts, sandbox.WithSampler(e.sampler))
	}

	sb, err := sandbox.New(identity.ID, limits, perms, e.cfg, opts...)
	if err != nil {
		run.err = err
		run.status = StatusInfraError
		return run
	}
	sbRef = sb

	e.active.Add(1)
	e.metrics.ActiveSandboxes.Inc()
	defer func() {
		e.active.Add(-1)
		e.metrics.ActiveSandboxes.Dec()
	}()

	run.result, run.err = sb.Run(ctx, ep)
	run.telemetry = sb.Telemetry()
	run.status = classify(run.err)
	if run.err == nil {
		// Recovery retries only replace a failed run. A violation the
		// plugin tolerated never re-executes a completed call.
		run.retry = false
	}
	if run.quarantined {
		run.status = StatusQuarantined
		run.retry = false
	}
	return run
}

func classify(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case sandbox.IsTimeout(err):
		return StatusTimeout
	case errors.Is(err, sandbox.ErrCancelled), errors.Is(err, context.Canceled):
		return StatusCancelled
	case sandbox.IsPluginFailure(err):
		return StatusPluginError
	default:
		return StatusInfraError
	}
}

func (e *Engine) recordPerf(pluginID string, run runResult) {
	point := PerfPoint{
		Timestamp: time.Now(),
		Succeeded: run.err == nil,
	}
	if run.telemetry != nil {
		point.Duration = run.telemetry.Duration()
		point.PeakMemoryMB = run.telemetry.PeakMemoryMB
		point.Violations = len(run.telemetry.Violations)
	}

	e.mu.Lock()
	e.history[pluginID] = append(e.history[pluginID], point)
	e.mu.Unlock()
}

// PerformanceHistory returns a copy of a plugin's execution history.
func (e *Engine) PerformanceHistory(pluginID string) []PerfPoint {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]PerfPoint(nil), e.history[pluginID]...)
}

// QuarantinedPlugins lists plugins barred from execution.
func (e *Engine) QuarantinedPlugins() []string {
	return e.recovery.QuarantinedPlugins()
}

// Health reports a snapshot of the engine state.
func (e *Engine) Health() Health {
	return Health{
		ActiveSandboxes:    e.active.Load(),
		QuarantinedPlugins: e.recovery.QuarantinedPlugins(),
		RecoveryActions:    len(e.recovery.History()),
	}
}
