package service

import (
	"fmt"
	"sort"
	"strings"

	"github.com/YoshitsuguKoike/repoforge/internal/app/config"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/toolrun"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// Argument placeholders expanded per task
const (
	PlaceholderFiles     = "{files}"
	PlaceholderWorkspace = "{workspace}"
)

// ToolRegistry resolves operation kinds to tool profiles.
// It is complete by construction: every operation kind has a profile.
type ToolRegistry struct {
	profiles map[workstream.OperationKind]config.ToolProfile
}

// NewToolRegistry validates that profiles cover every operation kind and
// names no unknown kind
func NewToolRegistry(profiles map[string]config.ToolProfile) (*ToolRegistry, error) {
	r := &ToolRegistry{profiles: make(map[workstream.OperationKind]config.ToolProfile, len(profiles))}

	kinds := make([]string, 0, len(profiles))
	for k := range profiles {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		kind, err := workstream.ParseOperationKind(k)
		if err != nil {
			return nil, fmt.Errorf("tools.%s: %w", k, err)
		}
		p := profiles[k]
		if p.Bin == "" {
			return nil, fmt.Errorf("tools.%s: bin is required", k)
		}
		if p.Timeout <= 0 {
			return nil, fmt.Errorf("tools.%s: timeout must be positive", k)
		}
		r.profiles[kind] = p
	}

	var missing []string
	for _, kind := range workstream.AllOperationKinds {
		if _, ok := r.profiles[kind]; !ok {
			missing = append(missing, string(kind))
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("no tool profile for operation kind(s): %s", strings.Join(missing, ", "))
	}
	return r, nil
}

// Profile returns the profile bound to kind
func (r *ToolRegistry) Profile(kind workstream.OperationKind) (config.ToolProfile, bool) {
	p, ok := r.profiles[kind]
	return p, ok
}

// Limits returns the per-tool concurrency limits for a ToolPool
func (r *ToolRegistry) Limits() map[string]int {
	out := make(map[string]int)
	for _, p := range r.profiles {
		if p.MaxConcurrent > 0 {
			if cur, ok := out[p.ToolID]; !ok || p.MaxConcurrent < cur {
				out[p.ToolID] = p.MaxConcurrent
			}
		}
	}
	return out
}

// Request builds the invocation of t inside workspace
func (r *ToolRegistry) Request(t workstream.Task, workspace string) (toolrun.Request, error) {
	p, ok := r.profiles[t.Operation]
	if !ok {
		return toolrun.Request{}, fmt.Errorf("task %s: no tool for operation %q", t.ID, t.Operation)
	}

	var env map[string]string
	if len(p.Env) > 0 {
		env = make(map[string]string, len(p.Env))
		for k, v := range p.Env {
			env[k] = v
		}
	}

	return toolrun.Request{
		ToolID:        p.ToolID,
		Bin:           p.Bin,
		Args:          ExpandArgs(p.Args, t.FileScope, workspace),
		FileScope:     append([]string(nil), t.FileScope...),
		WorkspaceRoot: workspace,
		Timeout:       p.Timeout,
		Env:           env,
		TaskID:        t.ID,
	}, nil
}

// ExpandArgs substitutes placeholders. A standalone {files} argument expands
// to one argument per file; {workspace} is replaced wherever it appears.
func ExpandArgs(args, files []string, workspace string) []string {
	out := make([]string, 0, len(args)+len(files))
	for _, a := range args {
		if a == PlaceholderFiles {
			out = append(out, files...)
			continue
		}
		a = strings.ReplaceAll(a, PlaceholderWorkspace, workspace)
		a = strings.ReplaceAll(a, PlaceholderFiles, strings.Join(files, " "))
		out = append(out, a)
	}
	return out
}
