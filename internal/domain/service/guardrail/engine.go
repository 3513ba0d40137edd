package guardrail

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	model "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/planner"
)

// PlanSubject is the subject recorded for plan.compiled results
const PlanSubject = "plan"

// Evidence is what the post-task checkpoint knows about a finished task
type Evidence struct {
	Result              toolrun.Result
	Changed             []string // observed independently of the tool
	ExpectsModification bool
}

// Engine evaluates the built-in rules under a policy.
// Evaluation is pure and safe for concurrent use.
type Engine struct {
	policy *Policy
}

// NewEngine creates an engine for policy
func NewEngine(policy *Policy) *Engine {
	return &Engine{policy: policy}
}

// Policy returns the engine's policy
func (e *Engine) Policy() *Policy {
	return e.policy
}

func (e *Engine) violation(ruleID, format string, args ...any) (model.Violation, bool) {
	if !e.policy.enabled(ruleID) {
		return model.Violation{}, false
	}
	return model.Violation{
		RuleID:   ruleID,
		Severity: e.policy.Severity(ruleID),
		Detail:   fmt.Sprintf(format, args...),
	}, true
}

// PlanCompiled runs before compiled workstreams are frozen
func (e *Engine) PlanCompiled(workstreams []*workstream.Workstream, gaps map[string]*gap.Record) model.CheckpointResult {
	var vs []model.Violation
	add := func(v model.Violation, ok bool) {
		if ok {
			vs = append(vs, v)
		}
	}

	if len(workstreams) == 0 {
		add(e.violation(RuleEmptyPlan, "no workstreams were planned"))
	}

	for _, ws := range workstreams {
		if e.policy.maxFilesPerWS > 0 {
			if n := len(ws.Files()); n > e.policy.maxFilesPerWS {
				add(e.violation(RuleWorkstreamFileBudget, "%s touches %d files, budget is %d", ws.ID, n, e.policy.maxFilesPerWS))
			}
		}

		covered := make(map[string]int)
		for _, t := range ws.Tasks {
			for _, v := range e.pathViolations(t) {
				vs = append(vs, v)
			}
			for _, id := range t.GapIDs {
				covered[id]++
				g, ok := gaps[id]
				if !ok {
					add(e.violation(RuleTaskCoversGap, "%s references unknown gap %s", t.ID, id))
					continue
				}
				for _, f := range g.FileScope {
					if !contains(t.FileScope, f) {
						add(e.violation(RuleTaskCoversGap, "%s does not cover %s of gap %s", t.ID, f, id))
					}
				}
			}
		}
		for _, id := range ws.GapIDs {
			switch covered[id] {
			case 0:
				add(e.violation(RuleTaskCoversGap, "gap %s of %s has no task", id, ws.ID))
			case 1:
			default:
				add(e.violation(RuleTaskCoversGap, "gap %s of %s is covered by %d tasks", id, ws.ID, covered[id]))
			}
		}
	}
	return model.NewResult(model.CheckpointPlanCompiled, PlanSubject, vs)
}

// TaskPre runs before a task is dispatched
func (e *Engine) TaskPre(t workstream.Task) model.CheckpointResult {
	vs := e.pathViolations(t)
	if e.policy.maxFilesPerTask > 0 && len(t.FileScope) > e.policy.maxFilesPerTask {
		if v, ok := e.violation(RuleTaskFileBudget, "%s touches %d files, budget is %d", t.ID, len(t.FileScope), e.policy.maxFilesPerTask); ok {
			vs = append(vs, v)
		}
	}
	return model.NewResult(model.CheckpointTaskPre, t.ID, vs)
}

// TaskPost runs after a task's tool invocation finished.
// Reported success is checked against the independently collected evidence.
func (e *Engine) TaskPost(t workstream.Task, ev Evidence) model.CheckpointResult {
	var vs []model.Violation
	add := func(v model.Violation, ok bool) {
		if ok {
			vs = append(vs, v)
		}
	}
	res := ev.Result

	if res.Success && ev.ExpectsModification && len(ev.Changed) == 0 {
		add(e.violation(RuleHallucinatedSuccess, "%s reported success but no file in the workspace changed", res.ToolID))
	}

	if res.Success && res.ExitCode != toolrun.ExitSuccess {
		add(e.violation(RuleExitCodeMismatch, "%s reported success with exit code %d", res.ToolID, res.ExitCode))
	}
	if !res.Success && res.ExitCode == toolrun.ExitSuccess {
		add(e.violation(RuleExitCodeMismatch, "%s reported failure with exit code 0", res.ToolID))
	}

	var outside []string
	for _, f := range ev.Changed {
		if !contains(t.FileScope, f) {
			outside = append(outside, f)
		}
	}
	if len(outside) > 0 {
		add(e.violation(RuleOutOfScope, "%s modified files outside its scope: %s", t.ID, strings.Join(outside, ", ")))
	}

	if !res.Success {
		reason := toolrun.SentinelName(res.ExitCode)
		if reason == "" {
			reason = fmt.Sprintf("exit %d", res.ExitCode)
		}
		add(e.violation(RuleToolFailure, "%s failed (%s): %s", res.ToolID, reason, res.Message))
	}
	return model.NewResult(model.CheckpointTaskPost, t.ID, vs)
}

func (e *Engine) pathViolations(t workstream.Task) []model.Violation {
	var vs []model.Violation
	for _, f := range t.FileScope {
		if !planner.InsideRoot(e.policy.repoRoot, f) {
			if v, ok := e.violation(RulePathOutsideRepo, "%s: %s is outside the repository", t.ID, f); ok {
				vs = append(vs, v)
			}
			continue
		}
		if g, hit := e.policy.forbiddenMatch(f); hit {
			if v, ok := e.violation(RuleForbiddenPath, "%s: %s matches forbidden pattern %s", t.ID, f, g); ok {
				vs = append(vs, v)
			}
		}
	}
	return vs
}

func (p *Policy) forbiddenMatch(file string) (string, bool) {
	for _, g := range p.forbidden {
		if ok, err := doublestar.Match(g, file); err == nil && ok {
			return g, true
		}
	}
	return "", false
}

func validGlob(g string) bool {
	if g == "" {
		return false
	}
	if _, err := path.Match(g, ""); err != nil {
		return false
	}
	_, err := doublestar.Match(g, "")
	return err == nil
}

func contains(sorted []string, s string) bool {
	i := sort.SearchStrings(sorted, s)
	return i < len(sorted) && sorted[i] == s
}
