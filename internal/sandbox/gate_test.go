package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newGateSandbox(t *testing.T, perms Permissions, level IsolationLevel) *Sandbox {
	t.Helper()
	cfg := quietIsolation()
	cfg.Level = level

	sb, err := New("gate-test", DefaultLimits(), perms, cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(sb.ScratchDir()) })
	return sb
}

func TestGateDeniesByDefault(t *testing.T) {
	sb := newGateSandbox(t, Permissions{}, IsolationStandard)
	env := newExecEnv(sb)
	ctx := context.Background()
	target := filepath.Join(t.TempDir(), "out.txt")

	if err := env.WriteFile(target, []byte("x"), 0o600); !IsPermissionDenied(err) {
		t.Errorf("WriteFile err = %v, want permission denied", err)
	}
	if _, err := env.ReadFile(target); !IsPermissionDenied(err) {
		t.Errorf("ReadFile err = %v, want permission denied", err)
	}
	if err := env.OpenNetwork(ctx, "example.com", 443); !IsPermissionDenied(err) {
		t.Errorf("OpenNetwork err = %v, want permission denied", err)
	}
	if _, err := env.SpawnProcess(ctx, "true"); !IsPermissionDenied(err) {
		t.Errorf("SpawnProcess err = %v, want permission denied", err)
	}

	// The denied write never reached the filesystem.
	if _, statErr := os.Stat(target); !os.IsNotExist(statErr) {
		t.Error("denied write created the file anyway")
	}

	// Every denial left an audit trail.
	tel := sb.Telemetry()
	if len(tel.Violations) != 4 {
		t.Fatalf("recorded %d violations, want 4", len(tel.Violations))
	}
	for _, v := range tel.Violations {
		if v.Type != ViolationPermissionDenied {
			t.Errorf("violation type = %s, want permission_denied", v.Type)
		}
		if v.Severity != SeverityHigh {
			t.Errorf("violation severity = %s, want high", v.Severity)
		}
	}
}

func TestGateRelativePathsResolveInScratch(t *testing.T) {
	sb := newGateSandbox(t, Permissions{CanReadFiles: true, CanWriteFiles: true}, IsolationStandard)
	env := newExecEnv(sb)

	if err := env.WriteFile("data/result.json", []byte(`{"ok":true}`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	onDisk := filepath.Join(sb.ScratchDir(), "data", "result.json")
	if _, err := os.Stat(onDisk); err != nil {
		t.Fatalf("relative write landed outside scratch: %v", err)
	}

	data, err := env.ReadFile("data/result.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"ok":true}` {
		t.Errorf("read back %q", data)
	}
}

func TestGateStandardAllowsAbsolutePaths(t *testing.T) {
	sb := newGateSandbox(t, Permissions{CanWriteFiles: true}, IsolationStandard)
	env := newExecEnv(sb)
	target := filepath.Join(t.TempDir(), "report.txt")

	if err := env.WriteFile(target, []byte("ok"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := os.Stat(target); err != nil {
		t.Errorf("permitted absolute write missing: %v", err)
	}
}

func TestGateMaximumConfinesToScratch(t *testing.T) {
	sb := newGateSandbox(t, Permissions{CanReadFiles: true, CanWriteFiles: true}, IsolationMaximum)
	env := newExecEnv(sb)
	outside := filepath.Join(t.TempDir(), "escape.txt")

	if err := env.WriteFile(outside, []byte("x"), 0o600); !IsPermissionDenied(err) {
		t.Errorf("write outside scratch err = %v, want permission denied", err)
	}
	if _, statErr := os.Stat(outside); !os.IsNotExist(statErr) {
		t.Error("confinement breach: file created outside scratch")
	}

	// Traversal out of the scratch dir is caught after cleaning.
	if _, err := env.ReadFile("../../etc/passwd"); !IsPermissionDenied(err) {
		t.Errorf("traversal read err = %v, want permission denied", err)
	}

	// Scratch-relative access still works at maximum isolation.
	if err := env.WriteFile("data/ok.txt", []byte("fine"), 0o600); err != nil {
		t.Errorf("scratch-relative write at maximum: %v", err)
	}
}

func TestGateNetworkAllowedWithCapability(t *testing.T) {
	sb := newGateSandbox(t, Permissions{CanAccessNetwork: true}, IsolationStandard)
	env := newExecEnv(sb)

	if err := env.OpenNetwork(context.Background(), "localhost", 8080); err != nil {
		t.Errorf("OpenNetwork with capability = %v, want nil", err)
	}
}

func TestGateSpawnProcess(t *testing.T) {
	sb := newGateSandbox(t, Permissions{CanSpawnProcesses: true}, IsolationStandard)
	env := newExecEnv(sb)

	out, err := env.SpawnProcess(context.Background(), "echo", "hello")
	if err != nil {
		t.Fatalf("SpawnProcess: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("output = %q, want hello", out)
	}
}

func TestGateSpawnProcessStrict(t *testing.T) {
	sb := newGateSandbox(t, Permissions{CanSpawnProcesses: true}, IsolationStrict)
	env := newExecEnv(sb)

	out, err := env.SpawnProcess(context.Background(), "echo", "grouped")
	if err != nil {
		t.Fatalf("SpawnProcess at strict: %v", err)
	}
	if strings.TrimSpace(string(out)) != "grouped" {
		t.Errorf("output = %q, want grouped", out)
	}
}
