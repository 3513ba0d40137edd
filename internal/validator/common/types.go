// Package common holds the issue model and field checks shared by validators.
package common

import "fmt"

// Issue levels, ordered by severity
const (
	LevelOK    = "ok"
	LevelWarn  = "warn"
	LevelError = "error"
)

// ValidationIssue represents a single validation issue
type ValidationIssue struct {
	Type    string `json:"type"` // "ok", "warn", "error"
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// Issuef builds an issue with a formatted message
func Issuef(level, field, format string, args ...interface{}) ValidationIssue {
	return ValidationIssue{Type: level, Field: field, Message: fmt.Sprintf(format, args...)}
}

// Worst returns the most severe level among issues, LevelOK when there are none
func Worst(issues []ValidationIssue) string {
	level := LevelOK
	for _, issue := range issues {
		switch issue.Type {
		case LevelError:
			return LevelError
		case LevelWarn:
			level = LevelWarn
		}
	}
	return level
}
