package sandbox

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"plugin-guard/pkg/plugin"
)

// execEnv is the mediated boundary handed to plugin code. Every call
// checks the granted capability and the isolation-level floor before
// touching the OS; a denied operation records a PermissionDenied
// violation and never reaches the filesystem, network or process table.
type execEnv struct {
	sb *Sandbox
}

func newExecEnv(sb *Sandbox) *execEnv {
	return &execEnv{sb: sb}
}

func (e *execEnv) SandboxID() string  { return e.sb.id }
func (e *execEnv) ScratchDir() string { return e.sb.scratch }

func (e *execEnv) ReadFile(path string) ([]byte, error) {
	if !e.sb.perms.CanReadFiles {
		return nil, e.deny("read of %s requires the file-read capability", path)
	}
	resolved, err := e.confine(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func (e *execEnv) WriteFile(path string, data []byte, perm os.FileMode) error {
	if !e.sb.perms.CanWriteFiles {
		return e.deny("write of %s requires the file-write capability", path)
	}
	resolved, err := e.confine(path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(resolved, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (e *execEnv) OpenNetwork(ctx context.Context, host string, port int) error {
	if !e.sb.perms.CanAccessNetwork {
		return e.deny("network egress to %s:%d requires the network capability", host, port)
	}
	return nil
}

func (e *execEnv) SpawnProcess(ctx context.Context, name string, args ...string) ([]byte, error) {
	if !e.sb.perms.CanSpawnProcesses {
		return nil, e.deny("spawning %s requires the process capability", name)
	}

	// Strict and above run subprocesses in their own process group so a
	// cancelled sandbox can kill the whole tree. Below that there is no
	// OS-level kill; the command just inherits the run context.
	if e.sb.config.Level >= IsolationStrict {
		return plugin.RunProcess(ctx, 0, e.sb.scratch, name, args...)
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = e.sb.scratch
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("running %s: %w", name, err)
	}
	return out, nil
}

// confine resolves a plugin-supplied path. At Maximum isolation all
// filesystem access is pinned to the scratch directory regardless of
// granted permissions; relative paths resolve inside the scratch dir at
// every level.
func (e *execEnv) confine(path string) (string, error) {
	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.sb.scratch, resolved)
	}
	resolved = filepath.Clean(resolved)

	if e.sb.config.Level >= IsolationMaximum && !e.within(resolved) {
		return "", e.deny("access to %s is outside the sandbox scratch directory", path)
	}
	return resolved, nil
}

func (e *execEnv) within(path string) bool {
	rel, err := filepath.Rel(e.sb.scratch, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func (e *execEnv) deny(format string, args ...any) error {
	desc := fmt.Sprintf(format, args...)
	e.sb.recordViolation(ViolationPermissionDenied, desc, SeverityHigh)
	return &SandboxError{SandboxID: e.sb.id, Op: "permission_gate",
		Err: fmt.Errorf("%w: %s", ErrPermission, desc)}
}
