package validator

import (
	"fmt"
	"strings"
)

// Risk scoring weights. Each matched pattern contributes once regardless
// of how often it appears in the source.
const (
	highRiskWeight   = 30
	mediumRiskWeight = 15
	benignDiscount   = 5
	largeFilePenalty = 10

	// largeFileBytes is the source size above which the large-file
	// penalty applies.
	largeFileBytes = 100 * 1024
)

// Assessor scans plugin source text for risk-indicating patterns. This
// is best-effort triage for prioritizing review, not a security boundary:
// substring matching produces both false positives and false negatives,
// and the sandbox remains the enforcement layer either way.
type Assessor struct {
	highRisk   []string
	mediumRisk []string
	benign     []string
}

func NewAssessor() *Assessor {
	return &Assessor{
		highRisk: []string{
			"os.system", "subprocess.call", "subprocess.Popen",
			"eval(", "exec(", "__import__",
			"socket.", "urllib.request", "import requests",
			"getattr(", "setattr(", "input(",
		},
		mediumRisk: []string{
			"import os", "import sys", "import subprocess",
			"from os import", "from sys import",
			"pickle.loads", "yaml.load", "json.loads",
		},
		benign: []string{
			"import json", "import time", "import datetime",
			"from datetime import", "from pathlib import",
			"import logging", "from typing import",
		},
	}
}

// Assess scores the source on a 0-100 scale and lists the factors that
// drove the score.
func (a *Assessor) Assess(source string) (uint, []string) {
	score := 0
	var factors []string

	for _, pattern := range a.highRisk {
		if strings.Contains(source, pattern) {
			score += highRiskWeight
			factors = append(factors, fmt.Sprintf("high-risk pattern: %s", pattern))
		}
	}
	for _, pattern := range a.mediumRisk {
		if strings.Contains(source, pattern) {
			score += mediumRiskWeight
			factors = append(factors, fmt.Sprintf("medium-risk pattern: %s", pattern))
		}
	}
	for _, pattern := range a.benign {
		if strings.Contains(source, pattern) {
			score -= benignDiscount
		}
	}

	if len(source) > largeFileBytes {
		score += largeFilePenalty
		factors = append(factors, "large source file")
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return uint(score), factors
}
