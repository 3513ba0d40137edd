package planner

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// IssueCode classifies a plan validation problem
type IssueCode string

const (
	IssueUnknownGap      IssueCode = "unknown-gap"
	IssueForeignGap      IssueCode = "foreign-gap"
	IssueUnknownDep      IssueCode = "unknown-dependency"
	IssueCycle           IssueCode = "cycle"
	IssuePathOutsideRepo IssueCode = "path-outside-repo"
	IssueNotPartitioned  IssueCode = "not-partitioned"
	IssueUncoveredGap    IssueCode = "uncovered-gap"
	IssueDuplicateTaskID IssueCode = "duplicate-task-id"
)

// Issue is one plan validation problem
type Issue struct {
	Code         IssueCode `json:"code"`
	WorkstreamID string    `json:"ws_id,omitempty"`
	TaskID       string    `json:"task_id,omitempty"`
	Detail       string    `json:"detail"`
}

func (i Issue) String() string {
	where := i.WorkstreamID
	if i.TaskID != "" {
		where = i.TaskID
	}
	if where == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Detail)
	}
	return fmt.Sprintf("%s %s: %s", i.Code, where, i.Detail)
}

// Validate checks compiled workstreams against the open gaps they were built from.
// It reports every problem found instead of stopping at the first.
func Validate(workstreams []*workstream.Workstream, open []*gap.Record, repoRoot string) []Issue {
	var issues []Issue

	gaps := make(map[string]*gap.Record, len(open))
	for _, g := range open {
		gaps[g.ID] = g
	}

	owner := map[string]string{}
	taskIDs := map[string]bool{}
	for _, ws := range workstreams {
		inWS := map[string]bool{}
		for _, id := range ws.GapIDs {
			inWS[id] = true
			if _, ok := gaps[id]; !ok {
				issues = append(issues, Issue{Code: IssueUnknownGap, WorkstreamID: ws.ID, Detail: id})
				continue
			}
			if prev, dup := owner[id]; dup {
				issues = append(issues, Issue{
					Code:         IssueNotPartitioned,
					WorkstreamID: ws.ID,
					Detail:       fmt.Sprintf("%s already in %s", id, prev),
				})
				continue
			}
			owner[id] = ws.ID
		}

		local := map[string]bool{}
		for _, t := range ws.Tasks {
			if taskIDs[t.ID] {
				issues = append(issues, Issue{Code: IssueDuplicateTaskID, WorkstreamID: ws.ID, TaskID: t.ID, Detail: t.ID})
			}
			taskIDs[t.ID] = true
			local[t.ID] = true
		}

		covered := map[string]bool{}
		for _, t := range ws.Tasks {
			for _, id := range t.GapIDs {
				covered[id] = true
				if !inWS[id] {
					issues = append(issues, Issue{Code: IssueForeignGap, WorkstreamID: ws.ID, TaskID: t.ID, Detail: id})
				}
			}
			for _, dep := range t.DependsOn {
				if !local[dep] {
					issues = append(issues, Issue{Code: IssueUnknownDep, WorkstreamID: ws.ID, TaskID: t.ID, Detail: dep})
				}
			}
			for _, p := range t.FileScope {
				if !InsideRoot(repoRoot, p) {
					issues = append(issues, Issue{Code: IssuePathOutsideRepo, WorkstreamID: ws.ID, TaskID: t.ID, Detail: p})
				}
			}
		}
		for _, id := range ws.GapIDs {
			if !covered[id] {
				issues = append(issues, Issue{Code: IssueUncoveredGap, WorkstreamID: ws.ID, Detail: id})
			}
		}

		if cycle := FindCycle(ws.Tasks); cycle != nil {
			issues = append(issues, Issue{Code: IssueCycle, WorkstreamID: ws.ID, Detail: strings.Join(cycle, " -> ")})
		}
	}

	for _, g := range open {
		if _, ok := owner[g.ID]; !ok {
			issues = append(issues, Issue{Code: IssueNotPartitioned, Detail: g.ID + " is in no workstream"})
		}
	}
	return issues
}

// InsideRoot reports whether the repository-relative path p stays inside root
func InsideRoot(root, p string) bool {
	if p == "" || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return false
	}
	abs := filepath.Join(root, filepath.FromSlash(p))
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
