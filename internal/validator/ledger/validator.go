package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	lmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/validator/common"
)

// maxLineSize bounds a single entry; tool messages can be long
const maxLineSize = 4 << 20

// ValidateFile validates a ledger NDJSON stream and returns detailed results
func (v *Validator) ValidateFile(reader io.Reader) (*ValidationResult, error) {
	result := &ValidationResult{
		Version:     1,
		GeneratedAt: time.Now().UTC().Format(time.RFC3339Nano),
		File:        v.filePath,
		Lines:       []LineResult{},
		Issues:      []common.ValidationIssue{},
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lineResult := v.validateLine(line, lineNumber)
		result.Lines = append(result.Lines, lineResult)

		result.Summary.Lines++
		switch common.Worst(lineResult.Issues) {
		case common.LevelError:
			result.Summary.Error++
		case common.LevelWarn:
			result.Summary.Warn++
		default:
			result.Summary.OK++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}

	v.finish(result)
	return result, nil
}

// validateLine validates a single NDJSON line
func (v *Validator) validateLine(line string, lineNumber int) LineResult {
	result := LineResult{
		Line:   lineNumber,
		Issues: []common.ValidationIssue{},
	}

	var rawData map[string]interface{}
	if err := json.Unmarshal([]byte(line), &rawData); err != nil {
		result.Issues = append(result.Issues, issue("error", "", "invalid JSON: %v", err))
		return result
	}
	common.ValidateRequiredKeys(rawData, requiredKeys, &result.Issues)
	if len(result.Issues) > 0 {
		return result
	}

	var entry lmodel.Entry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		result.Issues = append(result.Issues, issue("error", "", "type validation failed: %v", err))
		return result
	}
	result.Seq = entry.Seq

	v.validateSeq(entry.Seq, &result)
	v.validateTimestamp(entry.Timestamp, &result)
	v.validateRunID(entry.RunID, &result)
	if !lmodel.KnownEvents[entry.Event] {
		result.Issues = append(result.Issues, issue("error", "event", "unknown event kind: %s", entry.Event))
		return result
	}
	if v.terminal > 0 && entry.Event != lmodel.EventSummaryWritten {
		result.Issues = append(result.Issues, issue("error", "event",
			"%s after terminal state %s (line %d)", entry.Event, v.state, v.terminal))
	}
	v.validateEvent(&entry, lineNumber, &result)
	return result
}

// validateSeq requires strictly increasing seq; holes only warn
func (v *Validator) validateSeq(seq int64, result *LineResult) {
	switch {
	case seq <= 0:
		result.Issues = append(result.Issues, issue("error", "seq", "seq must be >= 1"))
		return
	case seq <= v.lastSeq:
		result.Issues = append(result.Issues, issue("error", "seq", "seq %d is not after %d", seq, v.lastSeq))
		return
	case seq != v.lastSeq+1:
		result.Issues = append(result.Issues, issue("warn", "seq", "seq jumped from %d to %d", v.lastSeq, seq))
	}
	v.lastSeq = seq
}

// validateTimestamp checks the format and warns when time goes backwards
func (v *Validator) validateTimestamp(ts string, result *LineResult) {
	before := len(result.Issues)
	common.ValidateRFC3339NanoUTC(ts, "ts", &result.Issues)
	if len(result.Issues) > before {
		return
	}
	if _, err := time.Parse(lmodel.TimestampFormat, ts); err != nil {
		result.Issues = append(result.Issues, issue("warn", "ts", "timestamp %s does not have a nine-digit fraction", ts))
	}
	if v.lastTS != "" {
		prev, _ := time.Parse(time.RFC3339Nano, v.lastTS)
		cur, _ := time.Parse(time.RFC3339Nano, ts)
		if cur.Before(prev) {
			result.Issues = append(result.Issues, issue("warn", "ts", "timestamp went backwards from %s to %s", v.lastTS, ts))
		}
	}
	v.lastTS = ts
}

func (v *Validator) validateRunID(id string, result *LineResult) {
	switch {
	case !run.ValidID(id):
		result.Issues = append(result.Issues, issue("error", "run_id", "invalid run id %q", id))
	case v.runID == "":
		v.runID = id
	case id != v.runID:
		result.Issues = append(result.Issues, issue("error", "run_id", "entry of run %s in ledger of run %s", id, v.runID))
	}
}

// validateEvent checks the event against the run's state machine
func (v *Validator) validateEvent(e *lmodel.Entry, lineNumber int, result *LineResult) {
	if e.Event != lmodel.EventRunStarted && !v.started {
		result.Issues = append(result.Issues, issue("warn", "event", "%s before run_started", e.Event))
	}

	switch e.Event {
	case lmodel.EventRunStarted:
		if v.started {
			result.Issues = append(result.Issues, issue("error", "event", "duplicate run_started"))
		}
		v.started = true
		var p lmodel.RunStartedPayload
		if decode(e, &p, result) && p.RepoRoot == "" {
			result.Issues = append(result.Issues, issue("error", "payload", "run_started without repo_root"))
		}

	case lmodel.EventEnterState:
		v.validateTransition(e, lineNumber, result)

	case lmodel.EventToolStarted:
		var p lmodel.ToolStartedPayload
		if !decode(e, &p, result) {
			return
		}
		if _, dup := v.open[p.InvocationID]; dup || p.InvocationID == "" {
			result.Issues = append(result.Issues, issue("error", "payload", "tool_started with duplicate or empty invocation id %q", p.InvocationID))
			return
		}
		v.open[p.InvocationID] = lineNumber

	case lmodel.EventToolFinished:
		var p lmodel.ToolFinishedPayload
		if !decode(e, &p, result) {
			return
		}
		if _, ok := v.open[p.InvocationID]; !ok {
			result.Issues = append(result.Issues, issue("error", "payload", "tool_finished without tool_started for %q", p.InvocationID))
			return
		}
		delete(v.open, p.InvocationID)

	case lmodel.EventGuardrailCheckpoint:
		var p lmodel.GuardrailPayload
		if decode(e, &p, result) {
			common.ValidateEnumValue(p.Severity, "payload.severity", severities, &result.Issues)
		}

	case lmodel.EventTaskFinished:
		var p lmodel.TaskFinishedPayload
		if decode(e, &p, result) {
			common.ValidateEnumValue(p.Outcome, "payload.outcome", outcomes, &result.Issues)
		}
		if v.state != run.StateExecution {
			result.Issues = append(result.Issues, issue("error", "event", "task_finished outside EXECUTION (state %s)", displayState(v.state)))
		}

	case lmodel.EventWorkstreamsPlanned, lmodel.EventPlanningAttempt, lmodel.EventPlanningError:
		if v.state != run.StatePlanning {
			result.Issues = append(result.Issues, issue("error", "event", "%s outside PLANNING (state %s)", e.Event, displayState(v.state)))
		}
	}
}

var severities = map[string]bool{"pass": true, "warning": true, "critical": true}

var outcomes = map[string]bool{
	"succeeded": true,
	"failed":    true,
	"skipped":   true,
	"cancelled": true,
	"blocked":   true,
	"rejected":  true,
}

func (v *Validator) validateTransition(e *lmodel.Entry, lineNumber int, result *LineResult) {
	to, err := run.ParseState(e.State)
	if err != nil {
		result.Issues = append(result.Issues, issue("error", "state", "%v", err))
		return
	}
	if run.State(e.PrevState) != v.state {
		result.Issues = append(result.Issues, issue("error", "prev_state",
			"prev_state %s does not match current state %s", displayState(run.State(e.PrevState)), displayState(v.state)))
	}
	legal := v.state.CanTransitionTo(to)
	if v.state == "" {
		legal = to == run.StateInit
	}
	if !legal {
		result.Issues = append(result.Issues, issue("error", "state",
			"%v", &run.TransitionError{From: v.state, To: to}))
		return
	}
	if to == run.StateFailed {
		var p lmodel.EnterStatePayload
		if decode(e, &p, result) && p.Error == "" {
			result.Issues = append(result.Issues, issue("warn", "payload", "FAILED without an error cause"))
		}
	}
	v.state = to
	if to.IsTerminal() {
		v.terminal = lineNumber
	}
}

// finish reports problems only visible at the end of the file
func (v *Validator) finish(result *ValidationResult) {
	result.RunID = v.runID
	result.FinalState = string(v.state)

	lines := make([]int, 0, len(v.open))
	ids := make(map[int]string, len(v.open))
	for id, line := range v.open {
		lines = append(lines, line)
		ids[line] = id
	}
	sort.Ints(lines)
	for _, line := range lines {
		// an unfinished invocation is expected while a run is still live
		level := "warn"
		if v.terminal > 0 && v.state == run.StateDone {
			level = "error"
		}
		result.Issues = append(result.Issues, issue(level, "tool_started",
			"invocation %s started on line %d never finished", ids[line], line))
	}
	if result.Summary.Lines > 0 && v.state == "" {
		result.Issues = append(result.Issues, issue("warn", "state", "ledger never entered INIT"))
	}
}

func decode(e *lmodel.Entry, v any, result *LineResult) bool {
	if err := e.Decode(v); err != nil {
		result.Issues = append(result.Issues, issue("error", "payload", "%v", err))
		return false
	}
	return true
}

func issue(level, field, format string, args ...interface{}) common.ValidationIssue {
	return common.Issuef(level, field, format, args...)
}

func displayState(s run.State) string {
	if s == "" {
		return "<none>"
	}
	return string(s)
}
