// Package planner groups open gaps into workstreams and compiles their tasks.
// Output depends only on input order and content, never on map iteration.
package planner

import (
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// Strategy selects the clustering algorithm
type Strategy string

const (
	StrategyCategory  Strategy = "category"
	StrategyProximity Strategy = "proximity"
)

// ParseStrategy converts configuration text into a Strategy
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategyCategory:
		return StrategyCategory, nil
	case StrategyProximity:
		return StrategyProximity, nil
	}
	return "", fmt.Errorf("unknown clustering strategy %q", s)
}

// DefaultProximityDepth is the number of leading directories compared by the
// proximity strategy
const DefaultProximityDepth = 2

// proximityPrefix returns the first depth directories of f's parent, or "."
// for files at the repository root.
func proximityPrefix(f string, depth int) string {
	dir := path.Dir(f)
	if dir == "." {
		return dir
	}
	segs := strings.Split(dir, "/")
	if depth > 0 && len(segs) > depth {
		segs = segs[:depth]
	}
	return strings.Join(segs, "/")
}

// nearPrefixes reports whether one prefix is a leading path of the other.
// Root files are only near other root files.
func nearPrefixes(a, b string) bool {
	if a == "." || b == "." {
		return a == b
	}
	if len(a) > len(b) {
		a, b = b, a
	}
	return a == b || strings.HasPrefix(b, a+"/")
}

// bin is a workstream under construction
type bin struct {
	ordinal  int
	category string
	gapIDs   []string
	files    map[string]struct{}
	prefixes map[string]struct{}
}

func newBin(ordinal int, category string) *bin {
	return &bin{
		ordinal:  ordinal,
		category: category,
		files:    map[string]struct{}{},
		prefixes: map[string]struct{}{},
	}
}

func (b *bin) add(g *gap.Record, depth int) {
	b.gapIDs = append(b.gapIDs, g.ID)
	for _, f := range g.FileScope {
		b.files[f] = struct{}{}
		b.prefixes[proximityPrefix(f, depth)] = struct{}{}
	}
}

// common counts files of g already in the bin
func (b *bin) common(g *gap.Record) int {
	n := 0
	for _, f := range g.FileScope {
		if _, ok := b.files[f]; ok {
			n++
		}
	}
	return n
}

// fits reports whether the bin stays within maxFiles after adding g.
// maxFiles <= 0 disables the limit.
func (b *bin) fits(g *gap.Record, maxFiles int) bool {
	if maxFiles <= 0 {
		return true
	}
	return len(b.files)+len(g.FileScope)-b.common(g) <= maxFiles
}

// sharesPrefix reports whether g touches a path prefix already in the bin
func (b *bin) sharesPrefix(g *gap.Record, depth int) bool {
	for _, f := range g.FileScope {
		p := proximityPrefix(f, depth)
		if _, ok := b.prefixes[p]; ok {
			return true
		}
		for q := range b.prefixes {
			if nearPrefixes(p, q) {
				return true
			}
		}
	}
	return false
}

// pick returns the candidate with the most files in common with g,
// then the lowest ordinal. Candidates are in ordinal order.
func pick(candidates []*bin, g *gap.Record) *bin {
	var best *bin
	bestCommon := -1
	for _, b := range candidates {
		if c := b.common(g); c > bestCommon {
			best, bestCommon = b, c
		}
	}
	return best
}

// Cluster groups gaps into workstreams with DefaultProximityDepth.
// Gaps must be in registry order. The returned workstreams carry gap ids but
// no tasks yet.
func Cluster(runID string, gaps []*gap.Record, maxFiles int, strategy Strategy, now time.Time) ([]*workstream.Workstream, error) {
	return ClusterWithDepth(runID, gaps, maxFiles, strategy, DefaultProximityDepth, now)
}

// ClusterWithDepth is Cluster with the number of leading directories the
// proximity strategy compares. depth <= 0 compares full parent directories.
func ClusterWithDepth(runID string, gaps []*gap.Record, maxFiles int, strategy Strategy, depth int, now time.Time) ([]*workstream.Workstream, error) {
	var bins []*bin
	switch strategy {
	case StrategyCategory:
		bins = clusterByCategory(gaps, maxFiles)
	case StrategyProximity:
		bins = clusterByProximity(gaps, maxFiles, depth)
	default:
		return nil, fmt.Errorf("unknown clustering strategy %q", strategy)
	}

	out := make([]*workstream.Workstream, 0, len(bins))
	for _, b := range bins {
		id := workstream.ID(runID, b.ordinal)
		out = append(out, &workstream.Workstream{
			ID:           id,
			RunID:        runID,
			Ordinal:      b.ordinal,
			Strategy:     string(strategy),
			GapIDs:       b.gapIDs,
			WorkspaceRef: id,
			Status:       workstream.StatusPlanned,
			CreatedAt:    now.UTC(),
		})
	}
	return out, nil
}

func clusterByCategory(gaps []*gap.Record, maxFiles int) []*bin {
	var order []string
	byCategory := map[string][]*gap.Record{}
	for _, g := range gaps {
		if _, ok := byCategory[g.Category]; !ok {
			order = append(order, g.Category)
		}
		byCategory[g.Category] = append(byCategory[g.Category], g)
	}

	var bins []*bin
	for _, category := range order {
		var group []*bin
		for _, g := range byCategory[category] {
			var candidates []*bin
			for _, b := range group {
				if b.fits(g, maxFiles) {
					candidates = append(candidates, b)
				}
			}
			target := pick(candidates, g)
			if target == nil {
				target = newBin(len(bins)+1, category)
				bins = append(bins, target)
				group = append(group, target)
			}
			target.add(g, 0)
		}
	}
	return bins
}

// clusterByProximity is first-fit decreasing on file count, where a gap may
// only join a bin whose path prefixes lead to or extend one of its own.
func clusterByProximity(gaps []*gap.Record, maxFiles, depth int) []*bin {
	sorted := make([]*gap.Record, len(gaps))
	copy(sorted, gaps)
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].FileScope) > len(sorted[j].FileScope)
	})

	var bins []*bin
	for _, g := range sorted {
		var candidates []*bin
		for _, b := range bins {
			if b.sharesPrefix(g, depth) && b.fits(g, maxFiles) {
				candidates = append(candidates, b)
			}
		}
		target := pick(candidates, g)
		if target == nil {
			target = newBin(len(bins)+1, "")
			bins = append(bins, target)
		}
		target.add(g, depth)
	}
	return bins
}
