// Package plugin defines the contract between the sandbox engine and
// third-party plugin code. Plugins implement Entrypoint and reach the
// outside world only through the Env handed to them; they never receive
// raw OS handles.
package plugin

import (
	"context"
	"os"
)

// Identity is the already-resolved plugin identity handed in by the
// registry. The engine does not discover or parse manifests itself.
type Identity struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	SourcePath     string `json:"source_path"`
	ExpectedDigest string `json:"expected_digest,omitempty"`
}

// Env is the mediated capability boundary exposed to plugin code during a
// sandboxed run. Every operation checks the granted permissions and the
// isolation-level floor before touching the OS; denied operations fail
// immediately and are recorded as violations.
type Env interface {
	// SandboxID returns the unique id of the owning sandbox.
	SandboxID() string

	// ScratchDir returns the sandbox-private working directory. It is
	// wiped when the sandbox exits.
	ScratchDir() string

	// ReadFile reads a file, subject to the read capability and the
	// isolation-level filesystem floor.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes a file, subject to the write capability and the
	// isolation-level filesystem floor.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// OpenNetwork checks the network capability for the given host:port.
	// It returns nil when egress is permitted.
	OpenNetwork(ctx context.Context, host string, port int) error

	// SpawnProcess runs a subprocess, subject to the spawn capability.
	// Output is combined stdout+stderr.
	SpawnProcess(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Entrypoint is the single fixed execution contract all plugins conform
// to, replacing ad-hoc callable invocation.
type Entrypoint interface {
	Execute(ctx context.Context, env Env) (any, error)
}

// Func adapts a plain function to the Entrypoint interface.
type Func func(ctx context.Context, env Env) (any, error)

func (f Func) Execute(ctx context.Context, env Env) (any, error) {
	return f(ctx, env)
}
