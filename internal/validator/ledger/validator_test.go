package ledger

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	lmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
)

const testRunID = "01J9Z8Y7X6W5V4T3S2R1Q0P9N8"

var t0 = time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC)

// builder appends entries with consecutive seq and timestamps
type builder struct {
	t     *testing.T
	lines []string
	seq   int64
	state run.State
}

func newBuilder(t *testing.T) *builder {
	b := &builder{t: t}
	b.add(lmodel.EventRunStarted, lmodel.RunStartedPayload{RepoRoot: "/repo"})
	return b
}

func (b *builder) add(kind lmodel.EventKind, payload any) *builder {
	b.t.Helper()
	e, err := lmodel.NewEntry(testRunID, kind, t0.Add(time.Duration(b.seq)*time.Second), payload)
	require.NoError(b.t, err)
	b.push(e)
	return b
}

func (b *builder) enter(to run.State, cause string) *builder {
	b.t.Helper()
	e, err := lmodel.NewEnterState(testRunID, t0.Add(time.Duration(b.seq)*time.Second), string(to), string(b.state), cause)
	require.NoError(b.t, err)
	b.push(e)
	b.state = to
	return b
}

func (b *builder) push(e *lmodel.Entry) {
	b.seq++
	e.Seq = b.seq
	data, err := json.Marshal(e)
	require.NoError(b.t, err)
	b.lines = append(b.lines, string(data))
}

func (b *builder) raw(line string) *builder {
	b.lines = append(b.lines, line)
	return b
}

func (b *builder) validate() *ValidationResult {
	b.t.Helper()
	res, err := NewValidator("ledger.ndjson").ValidateFile(strings.NewReader(strings.Join(b.lines, "\n") + "\n"))
	require.NoError(b.t, err)
	return res
}

func happyPath(t *testing.T) *builder {
	b := newBuilder(t).
		enter(run.StateInit, "").
		enter(run.StateGapAnalysis, "").
		add(lmodel.EventGapsNormalized, lmodel.GapsNormalizedPayload{GapIDs: []string{"g1"}, New: 1}).
		enter(run.StatePlanning, "").
		add(lmodel.EventPlanningAttempt, lmodel.PlanningAttemptPayload{Attempt: 1, Strategy: "category"}).
		add(lmodel.EventWorkstreamsPlanned, lmodel.WorkstreamsPlannedPayload{WorkstreamIDs: []string{"ws-1"}, Tasks: 1}).
		enter(run.StateExecution, "").
		add(lmodel.EventToolStarted, lmodel.ToolStartedPayload{InvocationID: "inv-1", ToolID: "lint", TaskID: "t1"}).
		add(lmodel.EventToolFinished, lmodel.ToolFinishedPayload{InvocationID: "inv-1", ToolID: "lint", TaskID: "t1", Success: true}).
		add(lmodel.EventTaskFinished, lmodel.TaskFinishedPayload{WorkstreamID: "ws-1", TaskID: "t1", Outcome: "succeeded"}).
		enter(run.StateSummary, "")
	return b
}

func messages(res *ValidationResult) []string {
	var out []string
	for _, l := range res.Lines {
		for _, i := range l.Issues {
			out = append(out, i.Type+": "+i.Message)
		}
	}
	for _, i := range res.Issues {
		out = append(out, i.Type+": "+i.Message)
	}
	return out
}

func TestValidateFile_HappyPath(t *testing.T) {
	res := happyPath(t).
		add(lmodel.EventSummaryWritten, lmodel.SummaryWrittenPayload{Path: "summary.json"}).
		enter(run.StateDone, "").
		validate()

	assert.True(t, res.Valid(), messages(res))
	assert.Equal(t, 0, res.Summary.Warn, messages(res))
	assert.Equal(t, res.Summary.Lines, res.Summary.OK)
	assert.Equal(t, testRunID, res.RunID)
	assert.Equal(t, "DONE", res.FinalState)
}

func TestValidateFile_LineErrors(t *testing.T) {
	tests := []struct {
		name    string
		build   func(b *builder)
		message string
	}{
		{
			name:    "invalid JSON",
			build:   func(b *builder) { b.raw(`{"seq":`) },
			message: "invalid JSON",
		},
		{
			name:    "missing key",
			build:   func(b *builder) { b.raw(`{"seq":9,"event":"enter_state","ts":"2026-10-18T09:00:09Z"}`) },
			message: "missing required key: run_id",
		},
		{
			name: "unknown event",
			build: func(b *builder) {
				b.raw(`{"seq":2,"event":"mystery","ts":"2026-10-18T09:00:09Z","run_id":"` + testRunID + `"}`)
			},
			message: "unknown event kind: mystery",
		},
		{
			name: "seq does not increase",
			build: func(b *builder) {
				b.raw(`{"seq":1,"event":"planning_attempt","ts":"2026-10-18T09:00:09Z","run_id":"` + testRunID + `"}`)
			},
			message: "seq 1 is not after 1",
		},
		{
			name: "local timestamp",
			build: func(b *builder) {
				b.raw(`{"seq":2,"event":"enter_state","state":"INIT","ts":"2026-10-18T18:00:00+09:00","run_id":"` + testRunID + `"}`)
			},
			message: "not RFC3339Nano UTC Z",
		},
		{
			name: "foreign run id",
			build: func(b *builder) {
				b.raw(`{"seq":2,"event":"enter_state","state":"INIT","ts":"2026-10-18T09:00:09Z","run_id":"01J9Z8Y7X6W5V4T3S2R1Q0P9N9"}`)
			},
			message: "in ledger of run " + testRunID,
		},
		{
			name:    "skipped state",
			build:   func(b *builder) { b.enter(run.StateInit, "").enter(run.StatePlanning, "") },
			message: "invalid run transition INIT -> PLANNING",
		},
		{
			name: "finish without start",
			build: func(b *builder) {
				b.enter(run.StateInit, "").add(lmodel.EventToolFinished, lmodel.ToolFinishedPayload{InvocationID: "inv-9"})
			},
			message: `tool_finished without tool_started for "inv-9"`,
		},
		{
			name: "task outside execution",
			build: func(b *builder) {
				b.enter(run.StateInit, "").add(lmodel.EventTaskFinished, lmodel.TaskFinishedPayload{TaskID: "t1", Outcome: "succeeded"})
			},
			message: "task_finished outside EXECUTION",
		},
		{
			name: "unknown outcome",
			build: func(b *builder) {
				b.enter(run.StateInit, "").enter(run.StateGapAnalysis, "").enter(run.StatePlanning, "").
					enter(run.StateExecution, "").
					add(lmodel.EventTaskFinished, lmodel.TaskFinishedPayload{TaskID: "t1", Outcome: "great"})
			},
			message: "invalid value: great",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newBuilder(t)
			tt.build(b)
			res := b.validate()

			assert.False(t, res.Valid())
			assert.GreaterOrEqual(t, res.Summary.Error, 1)
			found := false
			for _, m := range messages(res) {
				if strings.Contains(m, tt.message) {
					found = true
				}
			}
			assert.True(t, found, "expected %q in %v", tt.message, messages(res))
		})
	}
}

func TestValidateFile_EventsAfterTerminalState(t *testing.T) {
	res := newBuilder(t).
		enter(run.StateInit, "").
		enter(run.StateFailed, "boom").
		add(lmodel.EventSummaryWritten, lmodel.SummaryWrittenPayload{Path: "summary.json"}).
		add(lmodel.EventGapsNormalized, lmodel.GapsNormalizedPayload{}).
		validate()

	require.Len(t, res.Lines, 5)
	assert.Empty(t, res.Lines[3].Issues, "summary_written may follow FAILED")
	assert.NotEmpty(t, res.Lines[4].Issues)
	assert.Equal(t, "FAILED", res.FinalState)
}

func TestValidateFile_DanglingInvocation(t *testing.T) {
	live := newBuilder(t).
		enter(run.StateInit, "").
		enter(run.StateGapAnalysis, "").
		add(lmodel.EventToolStarted, lmodel.ToolStartedPayload{InvocationID: "inv-1", ToolID: "discovery"}).
		validate()

	assert.True(t, live.Valid(), "an open invocation of a live run is only a warning")
	require.Len(t, live.Issues, 1)
	assert.Equal(t, "warn", live.Issues[0].Type)
	assert.Contains(t, live.Issues[0].Message, "inv-1")

	done := happyPath(t).
		add(lmodel.EventToolStarted, lmodel.ToolStartedPayload{InvocationID: "inv-2", ToolID: "lint"}).
		enter(run.StateDone, "").
		validate()
	assert.False(t, done.Valid())
}

func TestValidateFile_SeqHoleWarns(t *testing.T) {
	b := newBuilder(t).enter(run.StateInit, "")
	b.seq += 3
	b.enter(run.StateGapAnalysis, "")
	res := b.validate()

	assert.True(t, res.Valid())
	assert.Equal(t, 1, res.Summary.Warn)
}

func TestValidateFile_VariableWidthTimestampWarns(t *testing.T) {
	res := newBuilder(t).
		raw(`{"seq":2,"event":"enter_state","state":"INIT","ts":"2026-10-18T09:00:05Z","run_id":"` + testRunID + `"}`).
		validate()

	assert.True(t, res.Valid(), messages(res))
	assert.Equal(t, 1, res.Summary.Warn)
	assert.Contains(t, messages(res)[0], "nine-digit fraction")
}

func TestValidateFile_FailedWithoutCause(t *testing.T) {
	res := newBuilder(t).enter(run.StateInit, "").enter(run.StateFailed, "").validate()

	assert.True(t, res.Valid())
	assert.Equal(t, 1, res.Summary.Warn)
}

func TestValidateFile_Empty(t *testing.T) {
	res, err := NewValidator("empty").ValidateFile(strings.NewReader("\n\n"))
	require.NoError(t, err)
	assert.True(t, res.Valid())
	assert.Equal(t, 0, res.Summary.Lines)
	assert.Empty(t, res.Issues)
}
