// Package guardrail evaluates plans, tasks and tool results at checkpoints.
package guardrail

import (
	"fmt"
	"sort"

	model "github.com/YoshitsuguKoike/repoforge/internal/domain/model/guardrail"
)

// RuleKind tells whether a rule demands a property or forbids one
type RuleKind string

const (
	KindPattern     RuleKind = "pattern"
	KindAntiPattern RuleKind = "anti-pattern"
)

// Rule ids
const (
	RulePathOutsideRepo      = "path-outside-repo"
	RuleForbiddenPath        = "forbidden-path"
	RuleWorkstreamFileBudget = "workstream-file-budget"
	RuleTaskCoversGap        = "task-covers-gap"
	RuleEmptyPlan            = "empty-plan"
	RuleTaskFileBudget       = "task-file-budget"
	RuleHallucinatedSuccess  = "hallucinated-success"
	RuleExitCodeMismatch     = "exit-code-mismatch"
	RuleOutOfScope           = "out-of-scope-modification"
	RuleToolFailure          = "tool-failure"
)

// Rule describes a built-in rule
type Rule struct {
	ID          string
	Kind        RuleKind
	Checkpoints []model.CheckpointID
	Default     model.Severity
	Fixed       bool // severity cannot be changed and the rule cannot be disabled
}

// Rules is the built-in rule table
var Rules = []Rule{
	{ID: RulePathOutsideRepo, Kind: KindAntiPattern, Checkpoints: []model.CheckpointID{model.CheckpointPlanCompiled, model.CheckpointTaskPre}, Default: model.SeverityCritical},
	{ID: RuleForbiddenPath, Kind: KindAntiPattern, Checkpoints: []model.CheckpointID{model.CheckpointPlanCompiled, model.CheckpointTaskPre}, Default: model.SeverityCritical},
	{ID: RuleWorkstreamFileBudget, Kind: KindPattern, Checkpoints: []model.CheckpointID{model.CheckpointPlanCompiled}, Default: model.SeverityWarning},
	{ID: RuleTaskCoversGap, Kind: KindPattern, Checkpoints: []model.CheckpointID{model.CheckpointPlanCompiled}, Default: model.SeverityCritical},
	{ID: RuleEmptyPlan, Kind: KindAntiPattern, Checkpoints: []model.CheckpointID{model.CheckpointPlanCompiled}, Default: model.SeverityWarning},
	{ID: RuleTaskFileBudget, Kind: KindPattern, Checkpoints: []model.CheckpointID{model.CheckpointTaskPre}, Default: model.SeverityWarning},
	{ID: RuleHallucinatedSuccess, Kind: KindAntiPattern, Checkpoints: []model.CheckpointID{model.CheckpointTaskPost}, Default: model.SeverityCritical, Fixed: true},
	{ID: RuleExitCodeMismatch, Kind: KindAntiPattern, Checkpoints: []model.CheckpointID{model.CheckpointTaskPost}, Default: model.SeverityCritical},
	{ID: RuleOutOfScope, Kind: KindAntiPattern, Checkpoints: []model.CheckpointID{model.CheckpointTaskPost}, Default: model.SeverityCritical},
	{ID: RuleToolFailure, Kind: KindPattern, Checkpoints: []model.CheckpointID{model.CheckpointTaskPost}, Default: model.SeverityWarning},
}

func lookupRule(id string) (Rule, bool) {
	for _, r := range Rules {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// PolicyConfig is the user-facing part of the policy
type PolicyConfig struct {
	Severities      map[string]string // rule id -> pass|warning|critical
	Disabled        []string
	ForbiddenPaths  []string // doublestar globs over repository-relative paths
	MaxFilesPerWS   int
	MaxFilesPerTask int
	RepoRoot        string
}

// Policy is a validated PolicyConfig
type Policy struct {
	severities      map[string]model.Severity
	forbidden       []string
	maxFilesPerWS   int
	maxFilesPerTask int
	repoRoot        string
}

// NewPolicy validates cfg. Unknown rule ids, bad severities, bad globs and any
// attempt to weaken a fixed rule are rejected.
func NewPolicy(cfg PolicyConfig) (*Policy, error) {
	p := &Policy{
		severities:      make(map[string]model.Severity, len(Rules)),
		maxFilesPerWS:   cfg.MaxFilesPerWS,
		maxFilesPerTask: cfg.MaxFilesPerTask,
		repoRoot:        cfg.RepoRoot,
	}
	for _, r := range Rules {
		p.severities[r.ID] = r.Default
	}

	ids := make([]string, 0, len(cfg.Severities))
	for id := range cfg.Severities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rule, ok := lookupRule(id)
		if !ok {
			return nil, fmt.Errorf("guardrails.severities: unknown rule %q", id)
		}
		sev, err := model.ParseSeverity(cfg.Severities[id])
		if err != nil {
			return nil, fmt.Errorf("guardrails.severities.%s: %w", id, err)
		}
		if rule.Fixed && sev != rule.Default {
			return nil, fmt.Errorf("guardrails.severities.%s: severity is fixed at %s", id, rule.Default)
		}
		p.severities[id] = sev
	}

	for _, id := range cfg.Disabled {
		rule, ok := lookupRule(id)
		if !ok {
			return nil, fmt.Errorf("guardrails.disabled: unknown rule %q", id)
		}
		if rule.Fixed {
			return nil, fmt.Errorf("guardrails.disabled: rule %s cannot be disabled", id)
		}
		p.severities[id] = model.SeverityPass
	}

	for _, g := range cfg.ForbiddenPaths {
		if !validGlob(g) {
			return nil, fmt.Errorf("guardrails.forbidden_paths: bad pattern %q", g)
		}
		p.forbidden = append(p.forbidden, g)
	}
	return p, nil
}

// Severity returns the effective severity of a rule
func (p *Policy) Severity(ruleID string) model.Severity {
	return p.severities[ruleID]
}

func (p *Policy) enabled(ruleID string) bool {
	return p.severities[ruleID] != model.SeverityPass
}
