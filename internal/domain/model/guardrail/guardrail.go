// Package guardrail holds checkpoint results and violation severities.
package guardrail

import (
	"fmt"
	"strings"
)

// CheckpointID names a point in the run where rules are evaluated
type CheckpointID string

const (
	CheckpointPlanCompiled CheckpointID = "plan.compiled"
	CheckpointTaskPre      CheckpointID = "task.pre"
	CheckpointTaskPost     CheckpointID = "task.post"
)

// Severity classifies a violation
type Severity string

const (
	SeverityPass     Severity = "pass"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

func (s Severity) rank() int {
	switch s {
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	default:
		return 0
	}
}

// AtLeast reports whether s is as severe as other
func (s Severity) AtLeast(other Severity) bool {
	return s.rank() >= other.rank()
}

// ParseSeverity converts policy text into a Severity
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(strings.ToLower(strings.TrimSpace(s)))
	switch sev {
	case SeverityPass, SeverityWarning, SeverityCritical:
		return sev, nil
	}
	return "", fmt.Errorf("unknown severity %q", s)
}

// Violation is one rule failure
type Violation struct {
	RuleID   string   `json:"rule_id"`
	Severity Severity `json:"severity"`
	Detail   string   `json:"detail"`
}

// CheckpointResult is the outcome of evaluating every rule bound to a checkpoint
type CheckpointResult struct {
	CheckpointID CheckpointID `json:"checkpoint_id"`
	Subject      string       `json:"subject"`
	Severity     Severity     `json:"severity"`
	Violations   []Violation  `json:"violations"`
}

// NewResult builds a result whose severity is the maximum over its violations
func NewResult(cp CheckpointID, subject string, violations []Violation) CheckpointResult {
	r := CheckpointResult{CheckpointID: cp, Subject: subject, Severity: SeverityPass, Violations: violations}
	for _, v := range violations {
		if v.Severity.rank() > r.Severity.rank() {
			r.Severity = v.Severity
		}
	}
	return r
}

// IsCritical reports whether the checkpoint must halt the phase
func (r CheckpointResult) IsCritical() bool {
	return r.Severity == SeverityCritical
}

// Count returns the number of violations of the given severity
func (r CheckpointResult) Count(s Severity) int {
	n := 0
	for _, v := range r.Violations {
		if v.Severity == s {
			n++
		}
	}
	return n
}

// Summary renders violations on one line for logs
func (r CheckpointResult) Summary() string {
	parts := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		parts = append(parts, fmt.Sprintf("%s[%s]: %s", v.RuleID, v.Severity, v.Detail))
	}
	return strings.Join(parts, "; ")
}
