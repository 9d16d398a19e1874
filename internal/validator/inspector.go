package validator

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// Finding severities. Critical findings force quarantine regardless of
// the aggregate risk score.
const (
	FindingMedium   = "medium"
	FindingHigh     = "high"
	FindingCritical = "critical"
)

// Finding is one line-level match of an escape-indicator pattern.
type Finding struct {
	Pattern  string `json:"pattern"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
	Line     int    `json:"line,omitempty"`
}

type inspectionPattern struct {
	name     string
	detail   string
	regex    *regexp.Regexp
	severity string
}

// Inspector scans plugin source line by line for sandbox-escape
// indicators. It complements the substring-based risk assessor: the
// assessor grades general riskiness, the inspector flags the specific
// patterns that mean the plugin is trying to get out.
type Inspector struct {
	patterns []inspectionPattern
}

func NewInspector() *Inspector {
	return &Inspector{patterns: defaultInspectionPatterns()}
}

// Inspect returns every pattern match with its line number.
func (ins *Inspector) Inspect(source string) []Finding {
	var findings []Finding

	for i, text := range strings.Split(source, "\n") {
		for _, p := range ins.patterns {
			if p.regex.MatchString(text) {
				findings = append(findings, Finding{
					Pattern:  p.name,
					Detail:   p.detail,
					Severity: p.severity,
					Line:     i + 1,
				})
				log.Warn().
					Str("pattern", p.name).
					Str("severity", p.severity).
					Int("line", i+1).
					Msg("escape indicator detected in plugin source")
			}
		}
	}

	return findings
}

func hasCriticalFinding(findings []Finding) (Finding, bool) {
	for _, f := range findings {
		if f.Severity == FindingCritical {
			return f, true
		}
	}
	return Finding{}, false
}

func findingFactors(findings []Finding) []string {
	factors := make([]string, 0, len(findings))
	for _, f := range findings {
		factors = append(factors, fmt.Sprintf("escape indicator: %s (line %d)", f.Pattern, f.Line))
	}
	return factors
}

func defaultInspectionPatterns() []inspectionPattern {
	return []inspectionPattern{
		{
			name:     "proc_self_access",
			detail:   "reading /proc/self to map the host process",
			regex:    regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|environ)`),
			severity: FindingHigh,
		},
		{
			name:     "cgroup_breakout",
			detail:   "cgroup manipulation used for sandbox breakout",
			regex:    regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
			severity: FindingCritical,
		},
		{
			name:     "runtime_socket",
			detail:   "accessing the container runtime control socket",
			regex:    regexp.MustCompile(`/var/run/docker|docker\.sock|containerd\.sock`),
			severity: FindingCritical,
		},
		{
			name:     "reverse_shell",
			detail:   "reverse shell construction",
			regex:    regexp.MustCompile(`(?i)/dev/tcp/|bash\s+-i\s+>&|\b(nc|ncat|netcat|socat)\s+\S*\s*-[elp]`),
			severity: FindingCritical,
		},
		{
			name:     "metadata_service",
			detail:   "reaching for the cloud metadata service",
			regex:    regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			severity: FindingHigh,
		},
		{
			name:     "ptrace_attempt",
			detail:   "process tracing or memory injection",
			regex:    regexp.MustCompile(`(?i)ptrace|process_vm_readv|process_vm_writev`),
			severity: FindingCritical,
		},
		{
			name:     "native_injection",
			detail:   "loading native code past the interpreter boundary",
			regex:    regexp.MustCompile(`(?i)ctypes\.|LD_PRELOAD|\bdlopen\b`),
			severity: FindingHigh,
		},
		{
			name:     "obfuscated_payload",
			detail:   "decoding an embedded payload at runtime",
			regex:    regexp.MustCompile(`(?i)base64\.b64decode|marshal\.loads`),
			severity: FindingMedium,
		},
		{
			name:     "crypto_miner",
			detail:   "cryptocurrency mining indicators",
			regex:    regexp.MustCompile(`(?i)stratum\+tcp|xmrig|cryptonight|hashrate`),
			severity: FindingMedium,
		},
	}
}
