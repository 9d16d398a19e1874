package sandbox

import (
	"testing"
	"time"
)

func TestParseIsolationLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    IsolationLevel
		wantErr bool
	}{
		{"minimal", IsolationMinimal, false},
		{"standard", IsolationStandard, false},
		{"strict", IsolationStrict, false},
		{"maximum", IsolationMaximum, false},
		{"", IsolationStandard, false},
		{"paranoid", 0, true},
		{"STRICT", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseIsolationLevel(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseIsolationLevel(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if err == nil && got != tt.want {
				t.Errorf("ParseIsolationLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsolationLevelOrdering(t *testing.T) {
	// Each level is a strict superset of the one below; the code relies
	// on ordinal comparison.
	if !(IsolationMinimal < IsolationStandard &&
		IsolationStandard < IsolationStrict &&
		IsolationStrict < IsolationMaximum) {
		t.Error("isolation levels are not strictly ordered")
	}
}

func TestIsolationLevelRoundTrip(t *testing.T) {
	for _, level := range []IsolationLevel{IsolationMinimal, IsolationStandard, IsolationStrict, IsolationMaximum} {
		parsed, err := ParseIsolationLevel(level.String())
		if err != nil {
			t.Errorf("ParseIsolationLevel(%q): %v", level.String(), err)
		}
		if parsed != level {
			t.Errorf("round trip %v -> %q -> %v", level, level.String(), parsed)
		}
	}
}

func TestIsolationConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*IsolationConfig)
		wantErr bool
	}{
		{"defaults", func(c *IsolationConfig) {}, false},
		{"zero threshold", func(c *IsolationConfig) { c.ViolationThreshold = 0 }, true},
		{"zero interval with monitoring", func(c *IsolationConfig) { c.SampleInterval = 0 }, true},
		{"zero interval without monitoring", func(c *IsolationConfig) {
			c.EnableRealTimeMonitoring = false
			c.SampleInterval = 0
		}, false},
		{"level out of range", func(c *IsolationConfig) { c.Level = IsolationMaximum + 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultIsolationConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMonitoringActive(t *testing.T) {
	tests := []struct {
		name       string
		level      IsolationLevel
		monitoring bool
		want       bool
	}{
		{"minimal never monitors", IsolationMinimal, true, false},
		{"standard monitors", IsolationStandard, true, true},
		{"maximum monitors", IsolationMaximum, true, true},
		{"disabled wins", IsolationMaximum, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := IsolationConfig{
				Level:                    tt.level,
				EnableRealTimeMonitoring: tt.monitoring,
				SampleInterval:           time.Second,
				ViolationThreshold:       3,
			}
			if got := cfg.monitoringActive(); got != tt.want {
				t.Errorf("monitoringActive() = %v, want %v", got, tt.want)
			}
		})
	}
}
