package run

import "fmt"

// State is a phase of the run controller state machine
type State string

const (
	StateInit        State = "INIT"
	StateGapAnalysis State = "GAP_ANALYSIS"
	StatePlanning    State = "PLANNING"
	StateExecution   State = "EXECUTION"
	StateSummary     State = "SUMMARY"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsTerminal returns true for DONE and FAILED
func (s State) IsTerminal() bool {
	return s == StateDone || s == StateFailed
}

// IsValid returns true if the state is one of the known phases
func (s State) IsValid() bool {
	switch s {
	case StateInit, StateGapAnalysis, StatePlanning, StateExecution, StateSummary, StateDone, StateFailed:
		return true
	default:
		return false
	}
}

// Next returns the successor of s on the happy path.
// Terminal states have no successor.
func (s State) Next() (State, bool) {
	switch s {
	case StateInit:
		return StateGapAnalysis, true
	case StateGapAnalysis:
		return StatePlanning, true
	case StatePlanning:
		return StateExecution, true
	case StateExecution:
		return StateSummary, true
	case StateSummary:
		return StateDone, true
	default:
		return "", false
	}
}

// CanTransitionTo checks if transition to another state is allowed
func (s State) CanTransitionTo(next State) bool {
	if s.IsTerminal() {
		return false
	}
	if next == StateFailed {
		return s.IsValid()
	}
	successor, ok := s.Next()
	return ok && successor == next
}

// ParseState converts a ledger string into a State
func ParseState(v string) (State, error) {
	s := State(v)
	if !s.IsValid() {
		return "", fmt.Errorf("unknown run state %q", v)
	}
	return s, nil
}

// TransitionError reports an illegal state change
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	from := e.From
	if from == "" {
		from = "<none>"
	}
	return fmt.Sprintf("invalid run transition %s -> %s", from, e.To)
}
