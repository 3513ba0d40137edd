package repository

import (
	"context"
	"errors"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/run"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

var (
	// ErrNotFound is returned when a run artifact does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a write-once artifact would be overwritten with different content
	ErrAlreadyExists = errors.New("already exists")
	// ErrCorrupt is returned when a stored artifact cannot be decoded
	ErrCorrupt = errors.New("corrupt artifact")
)

// LedgerRepository is the append-only system of record of runs
type LedgerRepository interface {
	// Append assigns the next seq to e, durably stores it and returns the stored copy.
	// Nothing is acted upon before Append returns.
	Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error)

	// Entries returns all entries of a run in append order
	Entries(ctx context.Context, runID string) ([]*ledger.Entry, error)

	// Runs lists known run ids in ascending order
	Runs(ctx context.Context) ([]string, error)
}

// GapRepository stores the gap registry snapshot of a run
type GapRepository interface {
	// Save atomically replaces the full snapshot
	Save(ctx context.Context, runID string, gaps []*gap.Record) error

	// Load returns the snapshot, or an empty slice if none was saved
	Load(ctx context.Context, runID string) ([]*gap.Record, error)
}

// WorkstreamRepository stores write-once workstream artifacts
type WorkstreamRepository interface {
	// Save writes ws. Saving identical content again is a no-op;
	// different content returns ErrAlreadyExists.
	Save(ctx context.Context, ws *workstream.Workstream) error

	// List returns the run's workstreams ordered by ordinal
	List(ctx context.Context, runID string) ([]*workstream.Workstream, error)
}

// SnapshotRepository stores materialized run records
type SnapshotRepository interface {
	Save(ctx context.Context, s run.Snapshot) error

	// Load returns ErrNotFound when the run has no snapshot
	Load(ctx context.Context, runID string) (*run.Snapshot, error)
}
