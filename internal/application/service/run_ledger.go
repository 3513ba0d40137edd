package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
)

// RunLedger is the single writer of one run's ledger.
// Every append is folded into the materialized record under the same lock,
// so the record always reflects exactly the entries written so far.
type RunLedger struct {
	repo  repository.LedgerRepository
	runID string
	now   func() time.Time

	mu  sync.Mutex
	rec run.Record
}

// NewRunLedger starts a ledger for a run that has no entries yet
func NewRunLedger(repo repository.LedgerRepository, runID string, now func() time.Time) *RunLedger {
	if now == nil {
		now = time.Now
	}
	return &RunLedger{repo: repo, runID: runID, now: now}
}

// OpenRunLedger replays the stored entries of runID. When base is given the
// replay starts from it; a base that does not fit the ledger is discarded and
// the ledger is replayed in full.
func OpenRunLedger(ctx context.Context, repo repository.LedgerRepository, runID string, base *run.Snapshot, now func() time.Time) (*RunLedger, error) {
	l := NewRunLedger(repo, runID, now)
	entries, err := repo.Entries(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return l, nil
		}
		return nil, fmt.Errorf("read ledger of %s: %w", runID, err)
	}

	if base != nil && base.Record.RunID == runID && base.Seq == base.Record.LastSeq && fitsLedger(base.Seq, entries) {
		if rec, err := run.ReplayFrom(base.Record, entries); err == nil {
			l.rec = rec
			return l, nil
		}
	}

	rec, err := run.Replay(entries)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", runID, err)
	}
	l.rec = rec
	return l, nil
}

func fitsLedger(seq int64, entries []*ledger.Entry) bool {
	if seq == 0 {
		return true
	}
	for _, e := range entries {
		if e.Seq == seq {
			return true
		}
	}
	return false
}

// RunID returns the run this ledger belongs to
func (l *RunLedger) RunID() string {
	return l.runID
}

// Record returns the current materialized record
func (l *RunLedger) Record() run.Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rec
}

// Snapshot captures the current record with the seq it covers
func (l *RunLedger) Snapshot() run.Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return run.Snapshot{Record: l.rec, Seq: l.rec.LastSeq, TakenAt: l.now().UTC()}
}

// Append writes one event. payload may be nil.
func (l *RunLedger) Append(ctx context.Context, kind ledger.EventKind, payload any) (*ledger.Entry, error) {
	e, err := ledger.NewEntry(l.runID, kind, l.now(), payload)
	if err != nil {
		return nil, err
	}
	return l.write(ctx, e)
}

// EnterState durably records a transition to next. The transition is checked
// before anything is written, so an illegal transition never reaches the ledger.
func (l *RunLedger) EnterState(ctx context.Context, next run.State, cause string) (*ledger.Entry, error) {
	l.mu.Lock()
	prev := l.rec.State
	l.mu.Unlock()

	if prev == "" {
		if next != run.StateInit {
			return nil, &run.TransitionError{From: prev, To: next}
		}
	} else if !prev.CanTransitionTo(next) {
		return nil, &run.TransitionError{From: prev, To: next}
	}

	e, err := ledger.NewEnterState(l.runID, l.now(), string(next), string(prev), cause)
	if err != nil {
		return nil, err
	}
	return l.write(ctx, e)
}

func (l *RunLedger) write(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stored, err := l.repo.Append(ctx, e)
	if err != nil {
		return nil, fmt.Errorf("append %s: %w", e.Event, err)
	}
	next, err := l.rec.Apply(stored)
	if err != nil {
		return stored, fmt.Errorf("apply %s: %w", stored.Event, err)
	}
	l.rec = next
	return stored, nil
}
