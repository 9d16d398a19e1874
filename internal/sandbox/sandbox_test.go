package sandbox

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"plugin-guard/pkg/plugin"
)

// quietIsolation disables the background monitor so runs are fully
// deterministic.
func quietIsolation() IsolationConfig {
	cfg := DefaultIsolationConfig()
	cfg.EnableRealTimeMonitoring = false
	return cfg
}

func TestRunSuccess(t *testing.T) {
	sb, err := New("p1", DefaultLimits(), Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scratch := sb.ScratchDir()

	result, err := sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		return "hello", nil
	}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result != "hello" {
		t.Errorf("result = %v, want hello", result)
	}

	tel := sb.Telemetry()
	if tel.EndTime.IsZero() {
		t.Error("telemetry EndTime not finalized")
	}
	if len(tel.Violations) != 0 {
		t.Errorf("clean run recorded %d violations", len(tel.Violations))
	}
	if _, statErr := os.Stat(scratch); !os.IsNotExist(statErr) {
		t.Error("scratch dir survived teardown")
	}
}

func TestRunTimeout(t *testing.T) {
	limits := Limits{MaxMemoryMB: 64, MaxExecutionSeconds: 1}
	sb, err := New("slow", limits, Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	start := time.Now()
	_, err = sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	elapsed := time.Since(start)

	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if elapsed > 3*time.Second {
		t.Errorf("timeout took %s, budget was 1s", elapsed)
	}

	tel := sb.Telemetry()
	timeouts := 0
	for _, v := range tel.Violations {
		if v.Type == ViolationTimeout {
			timeouts++
			if v.Severity != SeverityHigh {
				t.Errorf("timeout severity = %s, want high", v.Severity)
			}
		}
	}
	if timeouts != 1 {
		t.Errorf("recorded %d timeout violations, want exactly 1", timeouts)
	}
}

func TestRunPluginError(t *testing.T) {
	sb, err := New("broken", DefaultLimits(), Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	boom := errors.New("boom")
	_, err = sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		return nil, boom
	}))

	if !IsPluginFailure(err) {
		t.Errorf("err = %v, want plugin failure", err)
	}
	if IsTimeout(err) {
		t.Error("plugin error misclassified as timeout")
	}
	if !errors.Is(err, boom) {
		t.Error("original plugin error not preserved in chain")
	}
}

func TestRunPanicRecovered(t *testing.T) {
	sb, err := New("panicky", DefaultLimits(), Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	scratch := sb.ScratchDir()

	_, err = sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		panic("unexpected state")
	}))

	if !IsPluginFailure(err) {
		t.Errorf("err = %v, want plugin failure after panic", err)
	}
	if _, statErr := os.Stat(scratch); !os.IsNotExist(statErr) {
		t.Error("scratch dir survived a panicking run")
	}
}

func TestRunOnlyOnce(t *testing.T) {
	sb, err := New("once", DefaultLimits(), Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	noop := plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) { return nil, nil })
	if _, err := sb.Run(context.Background(), noop); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := sb.Run(context.Background(), noop); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("second Run err = %v, want invalid config", err)
	}
}

func TestRunAborted(t *testing.T) {
	sb, err := New("aborted", DefaultLimits(), Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		sb.Abort()
	}()

	_, err = sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want cancelled", err)
	}
	if IsTimeout(err) {
		t.Error("abort misclassified as timeout")
	}
}

func TestRunParentContextCancelled(t *testing.T) {
	sb, err := New("ctx", DefaultLimits(), Permissions{}, quietIsolation())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	_, err = sb.Run(ctx, plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if IsTimeout(err) {
		t.Error("caller cancellation misclassified as timeout")
	}
}

func TestNewRejectsInvalidLimits(t *testing.T) {
	tests := []struct {
		name   string
		limits Limits
	}{
		{"memory too large", Limits{MaxMemoryMB: 999999, MaxExecutionSeconds: 10}},
		{"timeout too large", Limits{MaxMemoryMB: 64, MaxExecutionSeconds: 999999}},
		{"cpu over 100", Limits{MaxMemoryMB: 64, MaxExecutionSeconds: 10, MaxCPUPercent: 150}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New("bad", tt.limits, Permissions{}, quietIsolation()); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("New err = %v, want invalid config", err)
			}
		})
	}
}

func TestExecuteConvenience(t *testing.T) {
	result, tel, err := Execute(context.Background(), "conv", DefaultLimits(), Permissions{}, quietIsolation(),
		plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
			return 42, nil
		}))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result != 42 {
		t.Errorf("result = %v, want 42", result)
	}
	if tel == nil || tel.SandboxID == "" {
		t.Error("telemetry missing sandbox id")
	}
}

func TestViolationHandlerInvoked(t *testing.T) {
	var seen []Violation
	sb, err := New("handled", Limits{MaxMemoryMB: 64, MaxExecutionSeconds: 1}, Permissions{}, quietIsolation(),
		WithViolationHandler(func(v Violation) { seen = append(seen, v) }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))
	if !IsTimeout(err) {
		t.Fatalf("err = %v, want timeout", err)
	}

	if len(seen) != 1 || seen[0].Type != ViolationTimeout {
		t.Errorf("handler saw %v, want one timeout violation", seen)
	}
	if seen[0].PluginID != "handled" || seen[0].SandboxID != sb.ID() {
		t.Error("violation missing plugin or sandbox attribution")
	}
}

func TestTelemetrySealedAfterTeardown(t *testing.T) {
	var handled int
	var envRef plugin.Env
	sb, err := New("late", DefaultLimits(), Permissions{}, quietIsolation(),
		WithViolationHandler(func(Violation) { handled++ }))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = sb.Run(context.Background(), plugin.Func(func(ctx context.Context, env plugin.Env) (any, error) {
		envRef = env
		return nil, nil
	}))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	end := sb.Telemetry().EndTime
	before := len(sb.Telemetry().Violations)

	// A goroutine abandoned by a timeout can still hold the env. Its
	// gate calls must neither mutate telemetry nor reach the handler.
	if writeErr := envRef.WriteFile("late.txt", []byte("x"), 0o600); writeErr == nil {
		t.Error("write allowed after teardown")
	}

	tel := sb.Telemetry()
	if got := len(tel.Violations); got != before {
		t.Errorf("violations grew from %d to %d after teardown", before, got)
	}
	if handled != 0 {
		t.Errorf("handler invoked %d times after teardown", handled)
	}
	if !tel.EndTime.Equal(end) {
		t.Error("EndTime changed after teardown")
	}
}
