// Package workstream models clustered units of work and their frozen task lists.
package workstream

import (
	"fmt"
	"time"
)

// Status represents the execution status of a workstream
type Status string

const (
	StatusPlanned   Status = "PLANNED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusHalted    Status = "HALTED"
)

// TaskOutcome is the terminal status of a task
type TaskOutcome string

const (
	OutcomeSucceeded TaskOutcome = "succeeded"
	OutcomeFailed    TaskOutcome = "failed"
	OutcomeSkipped   TaskOutcome = "skipped"   // a dependency did not succeed
	OutcomeCancelled TaskOutcome = "cancelled" // dispatch halted by a critical violation
	OutcomeBlocked   TaskOutcome = "blocked"   // pre-task checkpoint was critical
	OutcomeRejected  TaskOutcome = "rejected"  // post-task checkpoint was critical
)

// IsValid returns true if the outcome is known
func (o TaskOutcome) IsValid() bool {
	switch o {
	case OutcomeSucceeded, OutcomeFailed, OutcomeSkipped, OutcomeCancelled, OutcomeBlocked, OutcomeRejected:
		return true
	default:
		return false
	}
}

// Task is one executable unit inside a workstream
type Task struct {
	ID        string        `json:"task_id" yaml:"task_id"`
	GapIDs    []string      `json:"gap_ids" yaml:"gap_ids"`
	Operation OperationKind `json:"operation_kind" yaml:"operation_kind"`
	FileScope []string      `json:"file_scope" yaml:"file_scope"`
	PatternID string        `json:"pattern_id,omitempty" yaml:"pattern_id,omitempty"`
	DependsOn []string      `json:"depends_on" yaml:"depends_on"`
}

// Workstream is a clustered group of gaps. Its task list is frozen once
// compiled: statuses live in the ledger, never in this struct.
type Workstream struct {
	ID           string    `json:"ws_id" yaml:"ws_id"`
	RunID        string    `json:"run_id" yaml:"run_id"`
	Ordinal      int       `json:"ordinal" yaml:"ordinal"`
	Strategy     string    `json:"strategy" yaml:"strategy"`
	GapIDs       []string  `json:"gap_ids" yaml:"gap_ids"`
	Tasks        []Task    `json:"tasks" yaml:"tasks"`
	WorkspaceRef string    `json:"workspace_ref" yaml:"workspace_ref"`
	Status       Status    `json:"status" yaml:"status"`
	CreatedAt    time.Time `json:"created_at" yaml:"created_at"`
}

// ID formats a workstream id from its run and ordinal
func ID(runID string, ordinal int) string {
	return fmt.Sprintf("%s-ws-%03d", runID, ordinal)
}

// TaskID formats a task id from its workstream and position (1-based)
func TaskID(wsID string, n int) string {
	return fmt.Sprintf("%s-t-%03d", wsID, n)
}

// Files returns the union of file scopes across gaps, in first-seen order
func (w *Workstream) Files() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, t := range w.Tasks {
		for _, f := range t.FileScope {
			if _, ok := seen[f]; !ok {
				seen[f] = struct{}{}
				out = append(out, f)
			}
		}
	}
	return out
}

// Task looks up a task by id
func (w *Workstream) Task(id string) (Task, bool) {
	for _, t := range w.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return Task{}, false
}
