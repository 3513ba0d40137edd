package dto

import "time"

// RunOutput represents the result of driving a run
type RunOutput struct {
	RunID         string    `json:"run_id"`
	FinalState    string    `json:"final_state"`
	FailureReason string    `json:"failure_reason,omitempty"`
	SummaryPath   string    `json:"summary_path,omitempty"`
	ElapsedMs     int64     `json:"elapsed_ms"`
	CompletedAt   time.Time `json:"completed_at"`
}

// RunSummary is written to summary.json when a run reaches SUMMARY or FAILED
type RunSummary struct {
	RunID              string              `json:"run_id"`
	RepoRoot           string              `json:"repo_root"`
	FinalState         string              `json:"final_state"`
	FailureReason      string              `json:"failure_reason,omitempty"`
	CreatedAt          time.Time           `json:"created_at"`
	FinishedAt         time.Time           `json:"finished_at"`
	PlanningAttempts   int                 `json:"planning_attempts"`
	GapCounts          map[string]int      `json:"gap_counts"` // status -> count
	GuardrailWarnings  int                 `json:"guardrail_warnings"`
	GuardrailCriticals int                 `json:"guardrail_criticals"`
	Workstreams        []WorkstreamSummary `json:"workstreams"`
}

// WorkstreamSummary lists the task outcomes of one workstream
type WorkstreamSummary struct {
	WSID     string        `json:"ws_id"`
	Ordinal  int           `json:"ordinal"`
	Strategy string        `json:"strategy"`
	Status   string        `json:"status"`
	Tasks    []TaskSummary `json:"tasks"`
}

// TaskSummary is one task and its terminal outcome ("" if it never finished)
type TaskSummary struct {
	TaskID    string   `json:"task_id"`
	Operation string   `json:"operation_kind"`
	GapIDs    []string `json:"gap_ids"`
	FileScope []string `json:"file_scope"`
	Outcome   string   `json:"outcome,omitempty"`
}

// RunStatusDTO is the replayed state of a run for status reporting
type RunStatusDTO struct {
	RunID               string         `json:"run_id"`
	RepoRoot            string         `json:"repo_root"`
	State               string         `json:"state"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	PlanningAttempts    int            `json:"planning_attempts"`
	GuardrailWarnings   int            `json:"guardrail_warnings"`
	GuardrailCriticals  int            `json:"guardrail_criticals"`
	FailureReason       string         `json:"failure_reason,omitempty"`
	LastSeq             int64          `json:"last_seq"`
	DanglingInvocations []string       `json:"dangling_invocations,omitempty"`
	TaskOutcomes        map[string]int `json:"task_outcomes,omitempty"` // outcome -> count
}
