package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/YoshitsuguKoike/repoforge/internal/app"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/fs"
)

// LedgerRepositoryImpl implements repository.LedgerRepository with one NDJSON file per run
type LedgerRepositoryImpl struct {
	paths app.Paths

	mu      sync.Mutex
	lastSeq map[string]int64
}

// NewLedgerRepositoryImpl creates a new NDJSON-based ledger repository
func NewLedgerRepositoryImpl(paths app.Paths) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{
		paths:   paths,
		lastSeq: make(map[string]int64),
	}
}

// Append assigns the next seq and appends the entry with fsync.
// A partial line left by a crash is cut off before the first append of the process.
func (r *LedgerRepositoryImpl) Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.RunID == "" {
		return nil, ledger.ErrEmptyRunID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	path := r.paths.Run(e.RunID).Ledger
	last, ok := r.lastSeq[e.RunID]
	if !ok {
		var err error
		last, err = r.recover(path)
		if err != nil {
			return nil, err
		}
	}

	stored := e.Clone()
	stored.Seq = last + 1
	line, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal ledger entry: %w", err)
	}
	if err := fs.AppendLine(path, line); err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}
	r.lastSeq[e.RunID] = stored.Seq
	return stored.Clone(), nil
}

// recover returns the last stored seq, truncating a partial trailing line
func (r *LedgerRepositoryImpl) recover(path string) (int64, error) {
	lines, offset, err := fs.ReadLines(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return 0, nil
	case errors.Is(err, fs.ErrTruncatedTail):
		app.GetLogger().Warn("ledger %s: dropping truncated trailing line at offset %d", path, offset)
		if err := fs.TruncateTo(path, offset); err != nil {
			return 0, err
		}
	case err != nil:
		return 0, err
	}
	if len(lines) == 0 {
		return 0, nil
	}
	var e ledger.Entry
	if err := json.Unmarshal(lines[len(lines)-1], &e); err != nil {
		return 0, fmt.Errorf("%w: ledger %s last line: %v", repository.ErrCorrupt, path, err)
	}
	return e.Seq, nil
}

// Entries returns all complete entries of a run in append order
func (r *LedgerRepositoryImpl) Entries(ctx context.Context, runID string) ([]*ledger.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := r.paths.Run(runID).Ledger
	lines, _, err := fs.ReadLines(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("run %s: %w", runID, repository.ErrNotFound)
	}
	if err != nil && !errors.Is(err, fs.ErrTruncatedTail) {
		return nil, err
	}

	entries := make([]*ledger.Entry, 0, len(lines))
	for i, line := range lines {
		var e ledger.Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("%w: ledger %s line %d: %v", repository.ErrCorrupt, path, i+1, err)
		}
		entries = append(entries, &e)
	}
	return entries, nil
}

// Runs lists run directories that contain a ledger
func (r *LedgerRepositoryImpl) Runs(ctx context.Context) ([]string, error) {
	dirs, err := os.ReadDir(r.paths.Runs)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	ids := make([]string, 0, len(dirs))
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		if _, err := os.Stat(r.paths.Run(d.Name()).Ledger); err == nil {
			ids = append(ids, d.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}
