package run

import (
	"fmt"
	"sort"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
)

// Record is the materialized state of a run.
// It is never mutated in place: Apply returns an updated copy, and the only
// way to obtain a Record is to fold ledger entries through Apply.
type Record struct {
	RunID              string            `json:"run_id"`
	RepoRoot           string            `json:"repo_root"`
	State              State             `json:"state"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	PlanningAttempts   int               `json:"planning_attempts"`
	GuardrailWarnings  int               `json:"guardrail_warnings"`
	GuardrailCriticals int               `json:"guardrail_criticals"`
	FailureReason      string            `json:"failure_reason,omitempty"`
	LastSeq            int64             `json:"last_seq"`
	Workstreams        []string          `json:"workstreams,omitempty"`      // committed plan, in ordinal order
	OpenInvocations    map[string]string `json:"open_invocations,omitempty"` // invocation id -> task id
	TaskOutcomes       map[string]string `json:"task_outcomes,omitempty"`    // task id -> outcome
}

// GuardrailViolations returns warnings plus criticals
func (r Record) GuardrailViolations() int {
	return r.GuardrailWarnings + r.GuardrailCriticals
}

// HasDanglingInvocation reports a tool_started without its tool_finished
func (r Record) HasDanglingInvocation() bool {
	return len(r.OpenInvocations) > 0
}

// DanglingInvocations returns the open invocation ids in sorted order
func (r Record) DanglingInvocations() []string {
	ids := make([]string, 0, len(r.OpenInvocations))
	for id := range r.OpenInvocations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsInitialized reports whether the ledger already holds the INIT entry
func (r Record) IsInitialized() bool {
	return r.State != ""
}

// Apply folds a single ledger entry into the record
func (r Record) Apply(e *ledger.Entry) (Record, error) {
	if e.RunID == "" {
		return r, ledger.ErrEmptyRunID
	}
	if r.RunID != "" && e.RunID != r.RunID {
		return r, fmt.Errorf("ledger entry seq %d belongs to run %s, not %s", e.Seq, e.RunID, r.RunID)
	}
	if e.Seq <= r.LastSeq {
		return r, fmt.Errorf("ledger entry seq %d is not after %d", e.Seq, r.LastSeq)
	}

	next := r
	next.RunID = e.RunID
	next.LastSeq = e.Seq
	if ts, err := e.Time(); err == nil {
		next.UpdatedAt = ts
		if next.CreatedAt.IsZero() {
			next.CreatedAt = ts
		}
	}

	switch e.Event {
	case ledger.EventRunStarted:
		var p ledger.RunStartedPayload
		if err := e.Decode(&p); err != nil {
			return r, err
		}
		next.RepoRoot = p.RepoRoot

	case ledger.EventEnterState:
		to, err := ParseState(e.State)
		if err != nil {
			return r, err
		}
		if State(e.PrevState) != r.State {
			return r, fmt.Errorf("enter_state seq %d: prev_state %q does not match current %q", e.Seq, e.PrevState, r.State)
		}
		if r.State == "" {
			if to != StateInit {
				return r, &TransitionError{From: r.State, To: to}
			}
		} else if !r.State.CanTransitionTo(to) {
			return r, &TransitionError{From: r.State, To: to}
		}
		next.State = to
		if to == StateFailed {
			var p ledger.EnterStatePayload
			if err := e.Decode(&p); err != nil {
				return r, err
			}
			next.FailureReason = p.Error
		}

	case ledger.EventPlanningAttempt:
		next.PlanningAttempts++

	case ledger.EventWorkstreamsPlanned:
		var p ledger.WorkstreamsPlannedPayload
		if err := e.Decode(&p); err != nil {
			return r, err
		}
		next.Workstreams = append([]string{}, p.WorkstreamIDs...)

	case ledger.EventGuardrailCheckpoint:
		var p ledger.GuardrailPayload
		if err := e.Decode(&p); err != nil {
			return r, err
		}
		for _, v := range p.Violations {
			switch v.Severity {
			case "critical":
				next.GuardrailCriticals++
			case "warning":
				next.GuardrailWarnings++
			}
		}

	case ledger.EventToolStarted:
		var p ledger.ToolStartedPayload
		if err := e.Decode(&p); err != nil {
			return r, err
		}
		next.OpenInvocations = copyMap(r.OpenInvocations)
		next.OpenInvocations[p.InvocationID] = p.TaskID

	case ledger.EventToolFinished:
		var p ledger.ToolFinishedPayload
		if err := e.Decode(&p); err != nil {
			return r, err
		}
		next.OpenInvocations = copyMap(r.OpenInvocations)
		delete(next.OpenInvocations, p.InvocationID)
		if len(next.OpenInvocations) == 0 {
			next.OpenInvocations = nil
		}

	case ledger.EventTaskFinished:
		var p ledger.TaskFinishedPayload
		if err := e.Decode(&p); err != nil {
			return r, err
		}
		next.TaskOutcomes = copyMap(r.TaskOutcomes)
		next.TaskOutcomes[p.TaskID] = p.Outcome
	}

	return next, nil
}

// Replay folds entries, in append order, starting from an empty record
func Replay(entries []*ledger.Entry) (Record, error) {
	return ReplayFrom(Record{}, entries)
}

// ReplayFrom folds entries on top of base. Entries already covered by base
// (seq <= base.LastSeq) are skipped, which lets a snapshot seed the replay.
func ReplayFrom(base Record, entries []*ledger.Entry) (Record, error) {
	rec := base
	for _, e := range entries {
		if e.Seq <= base.LastSeq {
			continue
		}
		var err error
		rec, err = rec.Apply(e)
		if err != nil {
			return base, fmt.Errorf("replay: %w", err)
		}
	}
	return rec, nil
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Snapshot is a materialized record plus the ledger position it covers
type Snapshot struct {
	Record  Record    `json:"record"`
	Seq     int64     `json:"seq"`
	TakenAt time.Time `json:"taken_at"`
}
