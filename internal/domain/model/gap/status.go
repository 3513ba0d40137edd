package gap

import "fmt"

// Status represents the lifecycle position of a gap
type Status string

const (
	StatusDiscovered Status = "DISCOVERED"
	StatusNormalized Status = "NORMALIZED"
	StatusPlanned    Status = "PLANNED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusResolved   Status = "RESOLVED"
	StatusDeferred   Status = "DEFERRED"
	StatusRejected   Status = "REJECTED"
)

// AllStatuses lists statuses in lifecycle order
var AllStatuses = []Status{
	StatusDiscovered,
	StatusNormalized,
	StatusPlanned,
	StatusInProgress,
	StatusResolved,
	StatusDeferred,
	StatusRejected,
}

var validTransitions = map[Status][]Status{
	StatusDiscovered: {StatusNormalized},
	StatusNormalized: {StatusPlanned},
	StatusPlanned:    {StatusInProgress},
	StatusInProgress: {StatusResolved, StatusDeferred, StatusRejected},
	StatusResolved:   {},
	StatusDeferred:   {},
	StatusRejected:   {},
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is valid
func (s Status) IsValid() bool {
	_, ok := validTransitions[s]
	return ok
}

// IsTerminal returns true once the gap needs no further work in this run
func (s Status) IsTerminal() bool {
	return s == StatusResolved || s == StatusDeferred || s == StatusRejected
}

// CanTransitionTo checks if transition to another status is allowed
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// TransitionError is returned for a status change outside the lifecycle graph
type TransitionError struct {
	GapID string
	From  Status
	To    Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("gap %s: invalid status transition %s -> %s", e.GapID, e.From, e.To)
}
