// Package ledger defines the append-only event records that make up a run's history.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventKind names what a ledger entry records
type EventKind string

const (
	EventRunStarted          EventKind = "run_started"
	EventEnterState          EventKind = "enter_state"
	EventFindingRejected     EventKind = "finding_rejected"
	EventGapsNormalized      EventKind = "gaps_normalized"
	EventGapStatus           EventKind = "gap_status"
	EventPlanningAttempt     EventKind = "planning_attempt"
	EventPlanningError       EventKind = "planning_error"
	EventWorkstreamsPlanned  EventKind = "workstreams_planned"
	EventGuardrailCheckpoint EventKind = "guardrail_checkpoint"
	EventToolStarted         EventKind = "tool_started"
	EventToolFinished        EventKind = "tool_finished"
	EventTaskFinished        EventKind = "task_finished"
	EventSummaryWritten      EventKind = "summary_written"
)

// KnownEvents lists every event kind a valid ledger may contain
var KnownEvents = map[EventKind]bool{
	EventRunStarted:          true,
	EventEnterState:          true,
	EventFindingRejected:     true,
	EventGapsNormalized:      true,
	EventGapStatus:           true,
	EventPlanningAttempt:     true,
	EventPlanningError:       true,
	EventWorkstreamsPlanned:  true,
	EventGuardrailCheckpoint: true,
	EventToolStarted:         true,
	EventToolFinished:        true,
	EventTaskFinished:        true,
	EventSummaryWritten:      true,
}

// TimestampFormat is the on-disk format of Entry.Timestamp (always UTC).
// The fraction is fixed at nine digits so timestamps sort as strings.
const TimestampFormat = "2006-01-02T15:04:05.000000000Z07:00"

// ErrEmptyRunID is returned when an entry has no run id
var ErrEmptyRunID = errors.New("ledger entry: run_id is empty")

// Entry is a single immutable ledger record.
// Seq is assigned by the repository on append and defines the total order within a run.
type Entry struct {
	Seq       int64           `json:"seq"`
	Event     EventKind       `json:"event"`
	Timestamp string          `json:"ts"`
	RunID     string          `json:"run_id"`
	State     string          `json:"state,omitempty"`
	PrevState string          `json:"prev_state,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEntry builds an entry with a marshaled payload. payload may be nil.
func NewEntry(runID string, kind EventKind, at time.Time, payload any) (*Entry, error) {
	if runID == "" {
		return nil, ErrEmptyRunID
	}
	e := &Entry{
		Event:     kind,
		Timestamp: at.UTC().Format(TimestampFormat),
		RunID:     runID,
	}
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		e.Payload = b
	}
	return e, nil
}

// NewEnterState builds the enter_state entry that must precede every transition
func NewEnterState(runID string, at time.Time, next, prev string, cause string) (*Entry, error) {
	var payload any
	if cause != "" {
		payload = EnterStatePayload{Error: cause}
	}
	e, err := NewEntry(runID, EventEnterState, at, payload)
	if err != nil {
		return nil, err
	}
	e.State = next
	e.PrevState = prev
	return e, nil
}

// Decode unmarshals the payload into v. An empty payload leaves v untouched.
func (e *Entry) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("decode %s payload (seq %d): %w", e.Event, e.Seq, err)
	}
	return nil
}

// Time parses the entry timestamp. Any RFC 3339 fraction width is accepted.
func (e *Entry) Time() (time.Time, error) {
	return time.Parse(time.RFC3339Nano, e.Timestamp)
}

// Clone returns a deep copy so callers can never mutate a stored entry
func (e *Entry) Clone() *Entry {
	c := *e
	if e.Payload != nil {
		c.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return &c
}
