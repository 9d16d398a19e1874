package sandbox

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SessionState tracks the violation state machine for one plugin session:
// Healthy -> Violating -> {Recovering -> Healthy | Quarantined}.
type SessionState int

const (
	SessionHealthy SessionState = iota
	SessionViolating
	SessionRecovering
	SessionQuarantined
)

func (s SessionState) String() string {
	switch s {
	case SessionHealthy:
		return "healthy"
	case SessionViolating:
		return "violating"
	case SessionRecovering:
		return "recovering"
	case SessionQuarantined:
		return "quarantined"
	default:
		return "unknown"
	}
}

// Recovery strategies recorded in the history.
const (
	StrategyTightenLimits = "tighten_limits"
	StrategyEscalate      = "escalate"
)

// RecoveryAction records one attempted recovery, successful or not.
type RecoveryAction struct {
	Violation    Violation `json:"violation"`
	AttemptedAt  time.Time `json:"attempted_at"`
	Succeeded    bool      `json:"succeeded"`
	StrategyUsed string    `json:"strategy_used"`
}

// RecoveryOutcome is the decision for one handled violation.
type RecoveryOutcome struct {
	State        SessionState
	Quarantined  bool
	Recovered    bool
	StrategyUsed string
}

// RecoveryManager classifies violations and decides between bounded
// auto-recovery and quarantine. It is process-wide and shared across
// sandboxes; all state is mutex-guarded. Handling is idempotent: the
// same violation handled twice returns the cached outcome instead of
// applying its strategy again.
type RecoveryManager struct {
	cfg IsolationConfig

	mu          sync.Mutex
	sessions    map[string]*pluginSession
	outcomes    map[string]RecoveryOutcome
	history     []RecoveryAction
	quarantined map[string]string
}

type pluginSession struct {
	state      SessionState
	violations uint
}

func NewRecoveryManager(cfg IsolationConfig) *RecoveryManager {
	return &RecoveryManager{
		cfg:         cfg,
		sessions:    make(map[string]*pluginSession),
		outcomes:    make(map[string]RecoveryOutcome),
		quarantined: make(map[string]string),
	}
}

// HandleViolation runs the state machine for the violation's plugin.
// Escalation to quarantine happens when auto-recovery is disabled, the
// severity is critical, or the session's violation count has exhausted
// the threshold (the threshold-th violation still gets a recovery
// attempt; the one after it never does).
func (rm *RecoveryManager) HandleViolation(v Violation) RecoveryOutcome {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if outcome, seen := rm.outcomes[v.ID]; seen {
		return outcome
	}

	sess := rm.sessions[v.PluginID]
	if sess == nil {
		sess = &pluginSession{state: SessionHealthy}
		rm.sessions[v.PluginID] = sess
	}
	_, alreadyQuarantined := rm.quarantined[v.PluginID]
	sess.violations++
	if !alreadyQuarantined {
		sess.state = SessionViolating
	}

	logger := log.With().
		Str("plugin_id", v.PluginID).
		Str("sandbox_id", v.SandboxID).
		Str("violation_type", string(v.Type)).
		Str("severity", v.Severity.String()).
		Uint("session_violations", sess.violations).
		Logger()

	var outcome RecoveryOutcome
	switch {
	case !rm.cfg.AutoRecoveryEnabled,
		alreadyQuarantined,
		v.Severity == SeverityCritical,
		sess.violations > rm.cfg.ViolationThreshold:
		outcome = rm.escalateLocked(v, sess, logger)
	default:
		outcome = rm.recoverLocked(v, sess, logger)
	}

	rm.outcomes[v.ID] = outcome
	return outcome
}

func (rm *RecoveryManager) escalateLocked(v Violation, sess *pluginSession, logger zerolog.Logger) RecoveryOutcome {
	sess.state = SessionQuarantined
	rm.quarantined[v.PluginID] = v.Description

	rm.history = append(rm.history, RecoveryAction{
		Violation:    v,
		AttemptedAt:  time.Now(),
		Succeeded:    false,
		StrategyUsed: StrategyEscalate,
	})

	logger.Error().Msg("violation escalated, plugin quarantined")
	return RecoveryOutcome{
		State:        SessionQuarantined,
		Quarantined:  true,
		StrategyUsed: StrategyEscalate,
	}
}

func (rm *RecoveryManager) recoverLocked(v Violation, sess *pluginSession, logger zerolog.Logger) RecoveryOutcome {
	sess.state = SessionRecovering

	rm.history = append(rm.history, RecoveryAction{
		Violation:    v,
		AttemptedAt:  time.Now(),
		Succeeded:    true,
		StrategyUsed: StrategyTightenLimits,
	})

	sess.state = SessionHealthy
	logger.Warn().Msg("auto-recovery applied, limits tightened for retry")
	return RecoveryOutcome{
		State:        SessionHealthy,
		Recovered:    true,
		StrategyUsed: StrategyTightenLimits,
	}
}

// QuarantinePlugin marks a plugin quarantined outside the violation path
// (validation verdicts use this).
func (rm *RecoveryManager) QuarantinePlugin(pluginID, reason string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.quarantined[pluginID] = reason
	if sess := rm.sessions[pluginID]; sess != nil {
		sess.state = SessionQuarantined
	}
}

// IsQuarantined reports whether a plugin is barred from execution.
func (rm *RecoveryManager) IsQuarantined(pluginID string) (string, bool) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	reason, ok := rm.quarantined[pluginID]
	return reason, ok
}

// QuarantinedPlugins returns the ids of all quarantined plugins.
func (rm *RecoveryManager) QuarantinedPlugins() []string {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	ids := make([]string, 0, len(rm.quarantined))
	for id := range rm.quarantined {
		ids = append(ids, id)
	}
	return ids
}

// SessionViolations returns the running violation count for a plugin
// session.
func (rm *RecoveryManager) SessionViolations(pluginID string) uint {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if sess := rm.sessions[pluginID]; sess != nil {
		return sess.violations
	}
	return 0
}

// EndSession resets the per-session violation count. Quarantine is
// terminal and survives session resets.
func (rm *RecoveryManager) EndSession(pluginID string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if _, quarantined := rm.quarantined[pluginID]; quarantined {
		return
	}
	delete(rm.sessions, pluginID)
}

// History returns a copy of the process-wide recovery log.
func (rm *RecoveryManager) History() []RecoveryAction {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	return append([]RecoveryAction(nil), rm.history...)
}
