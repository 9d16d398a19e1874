// Package validator gates plugin execution: it computes a strong content
// hash, checks it against a trusted-signature store, scores the source
// with a heuristic risk assessor, and quarantines artifacts that fail
// the gate. A plugin that does not pass here is never handed to the
// sandbox.
package validator

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"

	"plugin-guard/pkg/plugin"
)

// Status is the validation verdict.
type Status string

const (
	StatusPassed      Status = "passed"
	StatusConditional Status = "conditional"
	StatusQuarantined Status = "quarantined"
	StatusFailed      Status = "failed"
)

// Risk thresholds for the verdict. Above quarantineScore the artifact is
// set aside even with a valid signature; above conditionalScore it passes
// but is flagged for manual review.
const (
	quarantineScore  = 70
	conditionalScore = 40
)

// ErrValidationFailed marks validation errors (hash I/O failure,
// unreadable source); the plugin is rejected and never executed.
var ErrValidationFailed = errors.New("plugin validation failed")

// Result is the immutable record of one validation pass. Re-validating
// produces a new record.
type Result struct {
	PluginName       string    `json:"plugin_name"`
	ContentHash      string    `json:"content_hash"`
	SignatureValid   bool      `json:"signature_valid"`
	RiskScore        uint      `json:"risk_score"`
	RiskFactors      []string  `json:"risk_factors"`
	Findings         []Finding `json:"findings,omitempty"`
	Status           Status    `json:"status"`
	QuarantineReason string    `json:"quarantine_reason,omitempty"`
	QuarantinePath   string    `json:"quarantine_path,omitempty"`
	ValidatedAt      time.Time `json:"validated_at"`
}

// Executable reports whether the sandbox may be invoked for this verdict.
// Conditional passes the gate but stays flagged for review.
func (r *Result) Executable() bool {
	return r.Status == StatusPassed || r.Status == StatusConditional
}

// Validator runs the signature gate, the escape inspector, then the
// risk gate.
type Validator struct {
	store      TrustStore
	assessor   *Assessor
	inspector  *Inspector
	quarantine *Quarantine
}

func New(store TrustStore, quarantine *Quarantine) *Validator {
	return &Validator{
		store:      store,
		assessor:   NewAssessor(),
		inspector:  NewInspector(),
		quarantine: quarantine,
	}
}

// Validate produces the verdict for one plugin artifact. A quarantined
// verdict also moves the artifact into the quarantine area.
func (v *Validator) Validate(identity plugin.Identity) (*Result, error) {
	result := &Result{
		PluginName:  identity.Name,
		ValidatedAt: time.Now(),
	}

	logger := log.With().
		Str("plugin_id", identity.ID).
		Str("plugin_name", identity.Name).
		Logger()

	digest, err := ComputeFileHash(identity.SourcePath)
	if err != nil {
		result.Status = StatusFailed
		result.QuarantineReason = "hash computation failed"
		logger.Error().Err(err).Msg("validation failed")
		return result, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	result.ContentHash = digest

	valid, reason := VerifySignature(v.store, digest, identity.ExpectedDigest)
	result.SignatureValid = valid

	source, err := os.ReadFile(identity.SourcePath)
	if err != nil {
		result.Status = StatusFailed
		result.QuarantineReason = "source unreadable"
		logger.Error().Err(err).Msg("validation failed")
		return result, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	result.RiskScore, result.RiskFactors = v.assessor.Assess(string(source))
	result.Findings = v.inspector.Inspect(string(source))
	result.RiskFactors = append(result.RiskFactors, findingFactors(result.Findings)...)

	critical, escaping := hasCriticalFinding(result.Findings)

	switch {
	case !valid:
		result.Status = StatusQuarantined
		result.QuarantineReason = fmt.Sprintf("invalid signature: %s", reason)
	case escaping:
		result.Status = StatusQuarantined
		result.QuarantineReason = fmt.Sprintf("escape indicator: %s (line %d)", critical.Pattern, critical.Line)
	case result.RiskScore > quarantineScore:
		result.Status = StatusQuarantined
		result.QuarantineReason = fmt.Sprintf("high risk score: %d/100", result.RiskScore)
	case result.RiskScore > conditionalScore:
		result.Status = StatusConditional
		result.QuarantineReason = fmt.Sprintf("medium risk score: %d/100, manual review required", result.RiskScore)
	default:
		result.Status = StatusPassed
	}

	if result.Status == StatusQuarantined && v.quarantine != nil {
		dest, qErr := v.quarantine.Move(identity.SourcePath, result.QuarantineReason)
		if qErr != nil {
			logger.Error().Err(qErr).Msg("quarantine move failed")
		} else {
			result.QuarantinePath = dest
		}
	}

	logger.Info().
		Str("status", string(result.Status)).
		Uint("risk_score", result.RiskScore).
		Bool("signature_valid", valid).
		Str("content_hash", digest[:16]).
		Msg("plugin validated")

	return result, nil
}

// Trust registers an artifact's digest in the trusted store so later
// validations of byte-identical content verify.
func (v *Validator) Trust(identity plugin.Identity) (string, error) {
	digest, err := ComputeFileHash(identity.SourcePath)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := v.store.Put(digest, identity.Name); err != nil {
		return "", err
	}

	log.Info().
		Str("plugin_name", identity.Name).
		Str("content_hash", digest[:16]).
		Msg("digest added to trust store")
	return digest, nil
}
