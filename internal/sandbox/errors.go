package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrTimeout        = errors.New("execution timed out")
	ErrPluginFailure  = errors.New("plugin execution failed")
	ErrCancelled      = errors.New("execution cancelled by monitor")
	ErrInfrastructure = errors.New("sandbox infrastructure failure")
	ErrPermission     = errors.New("permission denied")
	ErrInvalidConfig  = errors.New("invalid sandbox configuration")
)

// SandboxError wraps errors with sandbox context.
type SandboxError struct {
	SandboxID string
	Op        string // The operation that failed
	Err       error
}

func (e *SandboxError) Error() string {
	if e.SandboxID != "" {
		return fmt.Sprintf("sandbox %s: %s: %s", e.SandboxID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *SandboxError) Unwrap() error {
	return e.Err
}

// IsTimeout returns true if the error is an execution timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsPluginFailure returns true if the plugin itself failed, as opposed to
// a sandbox-level breach.
func IsPluginFailure(err error) bool {
	return errors.Is(err, ErrPluginFailure)
}

// IsPermissionDenied returns true if the error came from the capability
// gate.
func IsPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermission)
}

// IsInfrastructure returns true for failures of the sandbox itself
// (scratch dir creation, monitor startup) rather than the plugin.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure)
}
