package plugin

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// Command is an Entrypoint backed by an external executable. Unlike an
// in-process Func, a Command runs in its own process group and can be
// forcibly terminated, which is what the Strict and Maximum isolation
// levels rely on.
type Command struct {
	Path string
	Args []string
	Env  []string

	// GracePeriod is how long the process gets after cancellation before
	// the whole process group is killed. Defaults to 3s.
	GracePeriod time.Duration
}

func (c *Command) Execute(ctx context.Context, env Env) (any, error) {
	out, err := env.SpawnProcess(ctx, c.Path, c.Args...)
	if err != nil {
		return nil, err
	}
	return string(out), nil
}

// RunProcess executes a command in its own process group, killing the
// group on context cancellation after the grace period. It is used by the
// sandbox Env to implement SpawnProcess at Strict and Maximum levels.
func RunProcess(ctx context.Context, grace time.Duration, dir, name string, args ...string) ([]byte, error) {
	if grace <= 0 {
		grace = 3 * time.Second
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// Negative pid targets the whole process group so children
		// cannot outlive the sandbox.
		if cmd.Process != nil {
			return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
		}
		return nil
	}
	cmd.WaitDelay = grace

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	if err := cmd.Run(); err != nil {
		return buf.Bytes(), fmt.Errorf("running %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
