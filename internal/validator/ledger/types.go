// Package ledger validates ledger NDJSON files offline.
package ledger

import (
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/validator/common"
)

// LineResult represents validation result for a single line
type LineResult struct {
	Line   int                      `json:"line"`
	Seq    int64                    `json:"seq,omitempty"`
	Issues []common.ValidationIssue `json:"issues"`
}

// ValidationResult represents the complete validation result
type ValidationResult struct {
	Version     int                      `json:"version"`
	GeneratedAt string                   `json:"generated_at"`
	File        string                   `json:"file"`
	RunID       string                   `json:"run_id,omitempty"`
	FinalState  string                   `json:"final_state,omitempty"`
	Lines       []LineResult             `json:"lines"`
	Issues      []common.ValidationIssue `json:"issues"` // whole-file findings, e.g. dangling invocations
	Summary     Summary                  `json:"summary"`
}

// Summary contains validation statistics
type Summary struct {
	Lines int `json:"lines"`
	OK    int `json:"ok"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// Valid reports whether neither a line nor the file has an error
func (r *ValidationResult) Valid() bool {
	if r.Summary.Error > 0 {
		return false
	}
	for _, issue := range r.Issues {
		if issue.Type == "error" {
			return false
		}
	}
	return true
}

// Validator checks a single run's ledger. It is not reusable across files.
type Validator struct {
	filePath string

	runID    string
	lastSeq  int64
	lastTS   string
	state    run.State
	started  bool
	open     map[string]int // invocation id -> line of tool_started
	terminal int            // line that entered DONE or FAILED
}

// requiredKeys are present in every entry
var requiredKeys = []string{"seq", "event", "ts", "run_id"}

// NewValidator creates a new ledger validator
func NewValidator(filePath string) *Validator {
	return &Validator{
		filePath: filePath,
		open:     make(map[string]int),
	}
}
