package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	gmodel "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func fixedNow() time.Time { return testNow }

// MockLedgerRepository is an in-memory LedgerRepository
type MockLedgerRepository struct {
	mu      sync.Mutex
	entries map[string][]*ledger.Entry
	failOn  ledger.EventKind // Append fails for this event kind
}

func NewMockLedgerRepository() *MockLedgerRepository {
	return &MockLedgerRepository{entries: make(map[string][]*ledger.Entry)}
}

func (m *MockLedgerRepository) Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failOn != "" && e.Event == m.failOn {
		return nil, fmt.Errorf("disk full")
	}
	stored := e.Clone()
	stored.Seq = int64(len(m.entries[e.RunID]) + 1)
	m.entries[e.RunID] = append(m.entries[e.RunID], stored)
	return stored.Clone(), nil
}

func (m *MockLedgerRepository) Entries(ctx context.Context, runID string) ([]*ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	es, ok := m.entries[runID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", runID, repository.ErrNotFound)
	}
	out := make([]*ledger.Entry, 0, len(es))
	for _, e := range es {
		out = append(out, e.Clone())
	}
	return out, nil
}

func (m *MockLedgerRepository) Runs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Events returns the event kinds of a run in append order
func (m *MockLedgerRepository) Events(runID string) []ledger.EventKind {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.EventKind
	for _, e := range m.entries[runID] {
		out = append(out, e.Event)
	}
	return out
}

// MockGapRepository is an in-memory GapRepository
type MockGapRepository struct {
	mu    sync.Mutex
	saved map[string][]*gap.Record
	saves int
}

func NewMockGapRepository() *MockGapRepository {
	return &MockGapRepository{saved: make(map[string][]*gap.Record)}
}

func (m *MockGapRepository) Save(ctx context.Context, runID string, gaps []*gap.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*gap.Record, 0, len(gaps))
	for _, g := range gaps {
		cp = append(cp, g.Clone())
	}
	m.saved[runID] = cp
	m.saves++
	return nil
}

func (m *MockGapRepository) Load(ctx context.Context, runID string) ([]*gap.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*gap.Record{}
	for _, g := range m.saved[runID] {
		out = append(out, g.Clone())
	}
	return out, nil
}

// MockToolRunner runs a function in place of a real tool
type MockToolRunner struct {
	mu    sync.Mutex
	fn    func(req toolrun.Request) toolrun.Result
	calls []toolrun.Request
}

func (m *MockToolRunner) RunTool(ctx context.Context, req toolrun.Request) toolrun.Result {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()
	if ctx.Err() != nil {
		return toolrun.Failure(req.InvocationID, req.ToolID, toolrun.ExitCancelled, "cancelled", 0)
	}
	return m.fn(req)
}

func (m *MockToolRunner) Calls() []toolrun.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]toolrun.Request(nil), m.calls...)
}

func (m *MockToolRunner) TaskIDs() []string {
	var ids []string
	for _, c := range m.Calls() {
		ids = append(ids, c.TaskID)
	}
	sort.Strings(ids)
	return ids
}

// MockWorkspaces is an in-memory WorkspaceProvisioner and EvidenceCollector.
// Tools record their changes through Touch.
type MockWorkspaces struct {
	mu       sync.Mutex
	created  map[string]string   // dst -> src
	changed  map[string][]string // workspace -> changed files
	promoted map[string][]string // dst -> promoted files
	removed  []string
	failOn   string // Create fails for this dst
}

func NewMockWorkspaces() *MockWorkspaces {
	return &MockWorkspaces{
		created:  make(map[string]string),
		changed:  make(map[string][]string),
		promoted: make(map[string][]string),
	}
}

var _ output.WorkspaceProvisioner = (*MockWorkspaces)(nil)
var _ output.EvidenceCollector = (*MockWorkspaces)(nil)

func (m *MockWorkspaces) Create(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if dst == m.failOn {
		return errors.New("no space left on device")
	}
	m.created[dst] = src
	return nil
}

func (m *MockWorkspaces) Promote(ctx context.Context, src, dst string, files []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promoted[dst] = append(m.promoted[dst], files...)
	return nil
}

func (m *MockWorkspaces) Remove(ctx context.Context, dir string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.created[dir]; ok {
		delete(m.created, dir)
		m.removed = append(m.removed, dir)
	}
	return nil
}

func (m *MockWorkspaces) Touch(dir string, files ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changed[dir] = append(m.changed[dir], files...)
}

func (m *MockWorkspaces) Baseline(ctx context.Context, root string) (output.Baseline, error) {
	return output.Baseline{}, nil
}

func (m *MockWorkspaces) Changed(ctx context.Context, root string, base output.Baseline) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := append([]string(nil), m.changed[root]...)
	sort.Strings(out)
	return out, nil
}

func (m *MockWorkspaces) Promoted(dst string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.promoted[dst]...)
}

// RecordingHandler records dispatch events
type RecordingHandler struct {
	checkpoints []gmodel.CheckpointResult
	started     []string
	finished    []TaskReport
	failOn      string // TaskFinished fails for this task id
}

func (h *RecordingHandler) Checkpoint(ctx context.Context, res gmodel.CheckpointResult) error {
	h.checkpoints = append(h.checkpoints, res)
	return nil
}

func (h *RecordingHandler) TaskStarting(ctx context.Context, t workstream.Task) error {
	h.started = append(h.started, t.ID)
	return nil
}

func (h *RecordingHandler) TaskFinished(ctx context.Context, rep TaskReport) error {
	h.finished = append(h.finished, rep)
	if rep.Task.ID == h.failOn {
		return errors.New("ledger unavailable")
	}
	return nil
}

func (h *RecordingHandler) Outcomes() map[string]workstream.TaskOutcome {
	out := make(map[string]workstream.TaskOutcome, len(h.finished))
	for _, r := range h.finished {
		out[r.Task.ID] = r.Outcome
	}
	return out
}
