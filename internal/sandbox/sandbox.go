// Package sandbox executes plugin entrypoints inside a resource-bounded,
// monitored, scoped execution context. A Sandbox lives for exactly one
// run: construction allocates a private scratch directory and unique id,
// and every exit path (success, plugin error, timeout, cancellation,
// panic) tears the sandbox down — monitor stopped, scratch wiped,
// telemetry finalized.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"plugin-guard/pkg/plugin"
)

// ViolationHandler is invoked for every violation the instant it is
// recorded. The engine wires this to the recovery manager.
type ViolationHandler func(Violation)

type Sandbox struct {
	id       string
	pluginID string
	limits   Limits
	perms    Permissions
	config   IsolationConfig
	scratch  string
	logger   zerolog.Logger

	sampler     Sampler
	onViolation ViolationHandler
	monitor     *resourceMonitor

	mu        sync.Mutex
	telemetry Telemetry
	cancelRun context.CancelFunc

	aborted atomic.Bool
	ran     atomic.Bool
	torn    atomic.Bool
}

// Option configures a Sandbox at construction.
type Option func(*Sandbox)

// WithSampler overrides the resource sampler. Tests use this to drive
// deterministic usage readings.
func WithSampler(s Sampler) Option {
	return func(sb *Sandbox) { sb.sampler = s }
}

// WithViolationHandler registers a callback for recorded violations.
func WithViolationHandler(h ViolationHandler) Option {
	return func(sb *Sandbox) { sb.onViolation = h }
}

// New creates a sandbox for one plugin invocation. It allocates the
// scratch directory; the caller must Run exactly once (Run tears down on
// every exit path).
func New(pluginID string, limits Limits, perms Permissions, cfg IsolationConfig, opts ...Option) (*Sandbox, error) {
	limits = limits.WithDefaults()
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := uuid.New().String()

	scratch, err := os.MkdirTemp("", "plugin-sandbox-*")
	if err != nil {
		return nil, &SandboxError{SandboxID: id, Op: "create_scratch_dir",
			Err: fmt.Errorf("%w: %v", ErrInfrastructure, err)}
	}
	for _, sub := range []string{"data", "logs"} {
		if err := os.Mkdir(filepath.Join(scratch, sub), 0o700); err != nil {
			_ = os.RemoveAll(scratch)
			return nil, &SandboxError{SandboxID: id, Op: "create_scratch_dir",
				Err: fmt.Errorf("%w: %v", ErrInfrastructure, err)}
		}
	}

	sb := &Sandbox{
		id:       id,
		pluginID: pluginID,
		limits:   limits,
		perms:    perms,
		config:   cfg,
		scratch:  scratch,
		logger: log.With().
			Str("sandbox_id", id).
			Str("plugin_id", pluginID).
			Str("isolation", cfg.Level.String()).
			Logger(),
		telemetry: Telemetry{
			SandboxID: id,
			PluginID:  pluginID,
			StartTime: time.Now(),
		},
	}
	for _, opt := range opts {
		opt(sb)
	}

	sb.logger.Debug().Str("scratch_dir", scratch).Msg("sandbox created")
	return sb, nil
}

func (sb *Sandbox) ID() string         { return sb.id }
func (sb *Sandbox) PluginID() string   { return sb.pluginID }
func (sb *Sandbox) ScratchDir() string { return sb.scratch }
func (sb *Sandbox) Limits() Limits     { return sb.limits }

// Telemetry returns a snapshot copy; the sandbox keeps exclusive
// ownership of the live record until it exits.
func (sb *Sandbox) Telemetry() *Telemetry {
	sb.mu.Lock()
	defer sb.mu.Unlock()

	t := sb.telemetry
	t.ResourceSamples = append([]ResourceSample(nil), sb.telemetry.ResourceSamples...)
	t.Violations = append([]Violation(nil), sb.telemetry.Violations...)
	return &t
}

// Run executes the entrypoint under the execution budget. The monitor
// (when active for the isolation level) runs concurrently and can abort
// the call on a resource breach. Teardown is unconditional.
func (sb *Sandbox) Run(ctx context.Context, ep plugin.Entrypoint) (result any, err error) {
	if !sb.ran.CompareAndSwap(false, true) {
		return nil, &SandboxError{SandboxID: sb.id, Op: "run",
			Err: fmt.Errorf("%w: sandbox already used", ErrInvalidConfig)}
	}
	defer sb.teardown()

	budget := sb.limits.ExecutionBudget()
	runCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	sb.mu.Lock()
	sb.cancelRun = cancel
	sb.mu.Unlock()

	if sb.config.monitoringActive() {
		sampler := sb.sampler
		if sampler == nil {
			sampler = NewSelfSampler()
		}
		sb.monitor = newResourceMonitor(sb, sampler, sb.config.SampleInterval, sb.logger)
		sb.monitor.start()
	}

	env := newExecEnv(sb)
	resCh := make(chan any, 1)
	errCh := make(chan error, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				errCh <- fmt.Errorf("%w: panic: %v", ErrPluginFailure, r)
			}
		}()
		v, execErr := ep.Execute(runCtx, env)
		if execErr != nil {
			errCh <- fmt.Errorf("%w: %w", ErrPluginFailure, execErr)
			return
		}
		resCh <- v
	}()

	start := time.Now()

	select {
	case v := <-resCh:
		sb.logger.Info().Dur("duration", time.Since(start)).Msg("plugin completed")
		return v, nil

	case execErr := <-errCh:
		// The plugin may surface the cancellation itself; classify by
		// what actually happened rather than by its error message.
		if sb.aborted.Load() {
			return nil, &SandboxError{SandboxID: sb.id, Op: "execute", Err: ErrCancelled}
		}
		if errors.Is(execErr, context.DeadlineExceeded) {
			return nil, sb.failTimeout(budget)
		}
		sb.logger.Warn().Err(execErr).Msg("plugin failed")
		return nil, &SandboxError{SandboxID: sb.id, Op: "execute", Err: execErr}

	case <-runCtx.Done():
		if sb.aborted.Load() {
			sb.logger.Warn().Msg("execution aborted by monitor")
			return nil, &SandboxError{SandboxID: sb.id, Op: "execute", Err: ErrCancelled}
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, sb.failTimeout(budget)
		}
		return nil, &SandboxError{SandboxID: sb.id, Op: "execute", Err: runCtx.Err()}
	}
}

func (sb *Sandbox) failTimeout(budget time.Duration) error {
	sb.logger.Warn().Dur("budget", budget).Msg("execution timed out")
	sb.recordViolation(ViolationTimeout,
		fmt.Sprintf("execution exceeded %s budget", budget), SeverityHigh)
	return &SandboxError{SandboxID: sb.id, Op: "execute", Err: ErrTimeout}
}

// Abort signals cancellation of the running plugin call. Used by the
// monitor on resource breaches and by the engine on quarantine.
func (sb *Sandbox) Abort() { sb.abort() }

func (sb *Sandbox) abort() {
	if !sb.aborted.CompareAndSwap(false, true) {
		return
	}
	sb.mu.Lock()
	cancel := sb.cancelRun
	sb.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// teardown stops the monitor with a bounded join, runs the post-run
// limit check, wipes the scratch directory and finalizes telemetry. It
// runs on every Run exit path.
func (sb *Sandbox) teardown() {
	if sb.monitor != nil {
		joinTimeout := 2 * sb.config.SampleInterval
		if joinTimeout < 2*time.Second {
			joinTimeout = 2 * time.Second
		}
		sb.monitor.stopAndJoin(joinTimeout)
	}

	if sb.config.Level == IsolationMinimal || sb.monitor != nil {
		sb.postRunCheck()
	}

	// Once torn, the telemetry is sealed. A plugin goroutine abandoned
	// by a timeout can still reach the gate; its violations are dropped.
	sb.torn.Store(true)

	if err := os.RemoveAll(sb.scratch); err != nil {
		sb.logger.Error().Err(err).Msg("scratch dir cleanup failed")
	}

	sb.mu.Lock()
	sb.telemetry.EndTime = time.Now()
	sb.mu.Unlock()

	sb.logger.Debug().Msg("sandbox torn down")
}

// postRunCheck takes one final sample and checks it against the limits.
// At Minimal isolation this is the only limit enforcement; at monitored
// levels it closes the gap between the last tick and teardown.
func (sb *Sandbox) postRunCheck() {
	sampler := sb.sampler
	if sampler == nil {
		sampler = NewSelfSampler()
	}
	sample, err := sampler.Sample()
	if err != nil {
		sb.logger.Debug().Err(err).Msg("post-run sample failed")
		return
	}
	sb.recordSample(sample)
	sb.enforceLimits(sample, false)
}

// enforceLimits records a ResourceExceeded violation per breached limit.
// When abort is true a breach also cancels the running plugin call.
func (sb *Sandbox) enforceLimits(sample ResourceSample, abort bool) {
	if limitMB := float64(sb.limits.MaxMemoryMB); sample.MemoryMB > limitMB {
		sev := SeverityHigh
		if sample.MemoryMB > limitMB*1.5 {
			sev = SeverityCritical
		}
		sb.recordViolation(ViolationResourceExceeded,
			fmt.Sprintf("memory usage %.1fMB exceeds limit %dMB", sample.MemoryMB, sb.limits.MaxMemoryMB),
			sev)
		if abort {
			sb.abort()
		}
	}

	if sb.limits.MaxCPUPercent > 0 && sample.CPUPercent > sb.limits.MaxCPUPercent {
		sev := SeverityHigh
		if sample.CPUPercent > sb.limits.MaxCPUPercent*1.5 {
			sev = SeverityCritical
		}
		sb.recordViolation(ViolationResourceExceeded,
			fmt.Sprintf("CPU usage %.1f%% exceeds limit %.1f%%", sample.CPUPercent, sb.limits.MaxCPUPercent),
			sev)
		if abort {
			sb.abort()
		}
	}
}

func (sb *Sandbox) recordSample(s ResourceSample) {
	if sb.torn.Load() {
		return
	}
	sb.mu.Lock()
	sb.telemetry.appendSample(s)
	sb.mu.Unlock()
}

func (sb *Sandbox) recordViolation(vt ViolationType, description string, sev Severity) {
	if sb.torn.Load() {
		return
	}
	v := newViolation(vt, sb.pluginID, sb.id, description, sev)

	sb.mu.Lock()
	sb.telemetry.Violations = append(sb.telemetry.Violations, v)
	sb.mu.Unlock()

	sb.logger.Warn().
		Str("violation_type", string(vt)).
		Str("severity", sev.String()).
		Str("description", description).
		Msg("violation recorded")

	if sb.onViolation != nil {
		sb.onViolation(v)
	}
}

// Execute is the scoped convenience wrapper: construct, run once, tear
// down, and hand back the result with the finalized telemetry.
func Execute(ctx context.Context, pluginID string, limits Limits, perms Permissions, cfg IsolationConfig, ep plugin.Entrypoint, opts ...Option) (any, *Telemetry, error) {
	sb, err := New(pluginID, limits, perms, cfg, opts...)
	if err != nil {
		return nil, nil, err
	}
	result, runErr := sb.Run(ctx, ep)
	return result, sb.Telemetry(), runErr
}
