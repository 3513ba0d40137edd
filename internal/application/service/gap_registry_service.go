package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
)

// ErrUnknownGap is returned for status updates of gaps not in the registry
var ErrUnknownGap = errors.New("unknown gap")

// FindingError describes a finding rejected during normalization
type FindingError struct {
	Index   int
	Finding gap.Finding
	Err     error
}

func (e *FindingError) Error() string {
	return fmt.Sprintf("finding %d (category %q): %v", e.Index, e.Finding.Category, e.Err)
}

func (e *FindingError) Unwrap() error {
	return e.Err
}

// Normalize validates raw findings and turns them into NORMALIZED gap records.
// Findings with the same category and the same file scope are merged into one
// record; identical descriptions collapse. Merged descriptions are sorted and
// the lowest pattern id wins, so ids do not depend on finding order. Output
// follows first appearance.
func Normalize(findings []gap.Finding, now time.Time) ([]*gap.Record, []*FindingError) {
	type group struct {
		category  string
		scope     []string
		descs     []string
		seenDesc  map[string]bool
		patternID string
	}
	var (
		order   []string
		groups  = make(map[string]*group)
		rejects []*FindingError
	)

	for i, f := range findings {
		category := gap.NormalizeCategory(f.Category)
		if category == "" {
			rejects = append(rejects, &FindingError{Index: i, Finding: f, Err: gap.ErrEmptyCategory})
			continue
		}
		scope, err := gap.NormalizeScope(f.Files)
		if err != nil {
			rejects = append(rejects, &FindingError{Index: i, Finding: f, Err: err})
			continue
		}

		key := gap.ScopeKey(category, scope)
		g, ok := groups[key]
		if !ok {
			g = &group{category: category, scope: scope, seenDesc: make(map[string]bool)}
			groups[key] = g
			order = append(order, key)
		}
		if desc := gap.NormalizeDescription(f.Description); !g.seenDesc[desc] {
			g.seenDesc[desc] = true
			g.descs = append(g.descs, desc)
		}
		if p := strings.TrimSpace(f.PatternID); p != "" && (g.patternID == "" || p < g.patternID) {
			g.patternID = p
		}
	}

	ts := now.UTC()
	out := make([]*gap.Record, 0, len(order))
	for _, key := range order {
		g := groups[key]
		sort.Strings(g.descs)
		desc := strings.Join(g.descs, "; ")
		out = append(out, &gap.Record{
			ID:          gap.ComputeID(g.category, g.scope, desc),
			Category:    g.category,
			FileScope:   g.scope,
			Description: desc,
			PatternID:   g.patternID,
			Status:      gap.StatusNormalized,
			CreatedAt:   ts,
			UpdatedAt:   ts,
		})
	}
	return out, rejects
}

// GapRegistry tracks the gaps of one run and persists them as a snapshot.
// Status changes are expected from a single goroutine; the mutex only
// protects readers such as status reporting.
type GapRegistry struct {
	repo  repository.GapRepository
	runID string
	now   func() time.Time

	mu    sync.RWMutex
	gaps  []*gap.Record
	index map[string]*gap.Record
}

// NewGapRegistry creates an empty registry for runID
func NewGapRegistry(repo repository.GapRepository, runID string, now func() time.Time) *GapRegistry {
	if now == nil {
		now = time.Now
	}
	return &GapRegistry{
		repo:  repo,
		runID: runID,
		now:   now,
		index: make(map[string]*gap.Record),
	}
}

// Load replaces the in-memory state with the persisted snapshot
func (r *GapRegistry) Load(ctx context.Context) error {
	gaps, err := r.repo.Load(ctx, r.runID)
	if err != nil {
		return fmt.Errorf("load gap registry: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gaps = gaps
	r.index = make(map[string]*gap.Record, len(gaps))
	for _, g := range gaps {
		r.index[g.ID] = g
	}
	return nil
}

// Merge adds normalized gaps that are not yet known and returns how many were added.
// Known gaps keep their status and timestamps.
func (r *GapRegistry) Merge(normalized []*gap.Record) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, g := range normalized {
		if _, ok := r.index[g.ID]; ok {
			continue
		}
		c := g.Clone()
		r.gaps = append(r.gaps, c)
		r.index[c.ID] = c
		added++
	}
	return added
}

// Persist atomically writes the full registry snapshot
func (r *GapRegistry) Persist(ctx context.Context) error {
	r.mu.RLock()
	gaps := make([]*gap.Record, 0, len(r.gaps))
	for _, g := range r.gaps {
		gaps = append(gaps, g.Clone())
	}
	r.mu.RUnlock()

	if err := r.repo.Save(ctx, r.runID, gaps); err != nil {
		return fmt.Errorf("persist gap registry: %w", err)
	}
	return nil
}

// UpdateStatus moves a gap along its lifecycle. It reports whether the status
// changed; setting the current status again is a no-op.
func (r *GapRegistry) UpdateStatus(gapID string, next gap.Status) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	g, ok := r.index[gapID]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownGap, gapID)
	}
	if g.Status == next {
		return false, nil
	}
	if !g.Status.CanTransitionTo(next) {
		return false, &gap.TransitionError{GapID: gapID, From: g.Status, To: next}
	}
	g.Status = next
	g.UpdatedAt = r.now().UTC()
	return true, nil
}

// Get returns a copy of one gap
func (r *GapRegistry) Get(gapID string) (*gap.Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.index[gapID]
	if !ok {
		return nil, false
	}
	return g.Clone(), true
}

// All returns copies of every gap in registry order
func (r *GapRegistry) All() []*gap.Record {
	return r.filter(func(*gap.Record) bool { return true })
}

// Open returns the gaps still waiting to be planned
func (r *GapRegistry) Open() []*gap.Record {
	return r.filter(func(g *gap.Record) bool { return g.Status == gap.StatusNormalized })
}

// ByID returns copies of every gap keyed by id
func (r *GapRegistry) ByID() map[string]*gap.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*gap.Record, len(r.index))
	for id, g := range r.index {
		out[id] = g.Clone()
	}
	return out
}

// Counts returns the number of gaps per status
func (r *GapRegistry) Counts() map[gap.Status]int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[gap.Status]int)
	for _, g := range r.gaps {
		out[g.Status]++
	}
	return out
}

// IDs returns the sorted gap ids
func (r *GapRegistry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.index))
	for id := range r.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *GapRegistry) filter(keep func(*gap.Record) bool) []*gap.Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*gap.Record, 0, len(r.gaps))
	for _, g := range r.gaps {
		if keep(g) {
			out = append(out, g.Clone())
		}
	}
	return out
}
