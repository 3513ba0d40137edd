// Package toolrun defines the request/result contract of the tool execution boundary.
package toolrun

import (
	"time"
)

// Reserved negative exit codes. A real process never reports these.
const (
	ExitSuccess   = 0
	ExitTimeout   = -1
	ExitNotFound  = -2
	ExitInternal  = -3
	ExitCancelled = -4
)

// Request describes a single tool invocation
type Request struct {
	InvocationID  string // assigned by the boundary when empty
	ToolID        string
	Bin           string
	Args          []string
	FileScope     []string
	WorkspaceRoot string
	Timeout       time.Duration
	Env           map[string]string
	TaskID        string
}

// Result is the outcome of an invocation. It is a value, never an error.
type Result struct {
	InvocationID string        `json:"invocation_id"`
	ToolID       string        `json:"tool_id"`
	ExitCode     int           `json:"exit_code"`
	Stdout       string        `json:"stdout"`
	Stderr       string        `json:"stderr"`
	Duration     time.Duration `json:"duration"`
	Success      bool          `json:"success"`
	Message      string        `json:"message"`
}

// IsSentinel reports whether the exit code is one of the reserved values
func (r Result) IsSentinel() bool {
	return r.ExitCode < 0 && r.ExitCode >= ExitCancelled
}

// SentinelName returns a short label for reserved exit codes
func SentinelName(code int) string {
	switch code {
	case ExitSuccess:
		return "ok"
	case ExitTimeout:
		return "timeout"
	case ExitNotFound:
		return "not-found"
	case ExitInternal:
		return "internal"
	case ExitCancelled:
		return "cancelled"
	default:
		return ""
	}
}

// Failure builds a result for an invocation that never produced a real exit code
func Failure(invocationID, toolID string, code int, msg string, d time.Duration) Result {
	return Result{
		InvocationID: invocationID,
		ToolID:       toolID,
		ExitCode:     code,
		Duration:     d,
		Success:      false,
		Message:      msg,
	}
}
