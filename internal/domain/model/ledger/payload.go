package ledger

// RunStartedPayload is written once per run, before enter_state(INIT)
type RunStartedPayload struct {
	RepoRoot string `json:"repo_root"`
}

// EnterStatePayload carries the error that caused a transition to FAILED
type EnterStatePayload struct {
	Error string `json:"error,omitempty"`
}

type FindingRejectedPayload struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

type GapsNormalizedPayload struct {
	GapIDs   []string `json:"gap_ids"`
	New      int      `json:"new"`
	Rejected int      `json:"rejected"`
}

type GapStatusPayload struct {
	GapID string `json:"gap_id"`
	From  string `json:"from"`
	To    string `json:"to"`
}

type PlanningAttemptPayload struct {
	Attempt  int    `json:"attempt"`
	Strategy string `json:"strategy"`
}

// PlanningErrorPayload records the structure that made planning fail
type PlanningErrorPayload struct {
	WorkstreamID string   `json:"workstream_id,omitempty"`
	Cycle        []string `json:"cycle,omitempty"`
	Violations   []string `json:"violations,omitempty"`
	Error        string   `json:"error"`
}

type WorkstreamsPlannedPayload struct {
	WorkstreamIDs []string `json:"workstream_ids"`
	Tasks         int      `json:"tasks"`
	Reused        bool     `json:"reused"`
}

type ViolationPayload struct {
	RuleID   string `json:"rule_id"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// GuardrailPayload is one evaluated checkpoint
type GuardrailPayload struct {
	CheckpointID string             `json:"checkpoint_id"`
	Subject      string             `json:"subject"`
	Severity     string             `json:"severity"`
	Violations   []ViolationPayload `json:"violations"`
}

type ToolStartedPayload struct {
	InvocationID  string `json:"invocation_id"`
	ToolID        string `json:"tool_id"`
	TaskID        string `json:"task_id,omitempty"`
	WorkspaceRoot string `json:"workspace_root"`
}

type ToolFinishedPayload struct {
	InvocationID string `json:"invocation_id"`
	ToolID       string `json:"tool_id"`
	TaskID       string `json:"task_id,omitempty"`
	ExitCode     int    `json:"exit_code"`
	Success      bool   `json:"success"`
	DurationMs   int64  `json:"duration_ms"`
	Message      string `json:"message,omitempty"`
}

type TaskFinishedPayload struct {
	WorkstreamID string `json:"workstream_id"`
	TaskID       string `json:"task_id"`
	Outcome      string `json:"outcome"`
	Reason       string `json:"reason,omitempty"`
}

type SummaryWrittenPayload struct {
	Path     string   `json:"path"`
	Archived []string `json:"archived,omitempty"`
}
