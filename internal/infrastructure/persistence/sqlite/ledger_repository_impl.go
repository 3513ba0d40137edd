package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/ledger"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
)

// LedgerRepositoryImpl implements repository.LedgerRepository with SQLite
type LedgerRepositoryImpl struct {
	db *sql.DB
	mu sync.Mutex
}

// NewLedgerRepository creates a new SQLite-based ledger repository
func NewLedgerRepository(db *sql.DB) *LedgerRepositoryImpl {
	return &LedgerRepositoryImpl{db: db}
}

// Append assigns the next seq inside a transaction and commits before returning
func (r *LedgerRepositoryImpl) Append(ctx context.Context, e *ledger.Entry) (*ledger.Entry, error) {
	if e.RunID == "" {
		return nil, ledger.ErrEmptyRunID
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM ledger_entries WHERE run_id = ?`, e.RunID,
	).Scan(&last); err != nil {
		return nil, fmt.Errorf("read last seq: %w", err)
	}

	stored := e.Clone()
	stored.Seq = last + 1
	var payload sql.NullString
	if len(stored.Payload) > 0 {
		payload = sql.NullString{String: string(stored.Payload), Valid: true}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries (run_id, seq, event, ts, state, prev_state, payload) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		stored.RunID, stored.Seq, string(stored.Event), stored.Timestamp, stored.State, stored.PrevState, payload,
	); err != nil {
		return nil, fmt.Errorf("insert ledger entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit ledger entry: %w", err)
	}
	return stored, nil
}

// Entries returns the run's entries ordered by seq
func (r *LedgerRepositoryImpl) Entries(ctx context.Context, runID string) ([]*ledger.Entry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT seq, event, ts, state, prev_state, payload FROM ledger_entries WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []*ledger.Entry
	for rows.Next() {
		e := &ledger.Entry{RunID: runID}
		var (
			event   string
			payload sql.NullString
		)
		if err := rows.Scan(&e.Seq, &event, &e.Timestamp, &e.State, &e.PrevState, &payload); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		e.Event = ledger.EventKind(event)
		if payload.Valid {
			e.Payload = []byte(payload.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("run %s: %w", runID, repository.ErrNotFound)
	}
	return entries, nil
}

// Runs lists run ids in ascending order
func (r *LedgerRepositoryImpl) Runs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT run_id FROM ledger_entries ORDER BY run_id`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
