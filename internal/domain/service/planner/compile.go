package planner

import (
	"fmt"
	"strings"

	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/gap"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
)

// OperationOrder lists, per operation kind, the kinds that must run before it
// whenever two tasks touch overlapping files.
// {test: [edit, format]} makes test tasks wait for edit and format tasks.
type OperationOrder map[workstream.OperationKind][]workstream.OperationKind

// NewOperationOrder validates a raw ordering table
func NewOperationOrder(raw map[string][]string) (OperationOrder, error) {
	order := OperationOrder{}
	for kind, after := range raw {
		k, err := workstream.ParseOperationKind(kind)
		if err != nil {
			return nil, err
		}
		for _, a := range after {
			ak, err := workstream.ParseOperationKind(a)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", kind, err)
			}
			order[k] = append(order[k], ak)
		}
	}
	return order, nil
}

func (o OperationOrder) runsAfter(k, other workstream.OperationKind) bool {
	for _, a := range o[k] {
		if a == other {
			return true
		}
	}
	return false
}

// PlanningError is returned when a workstream cannot be compiled into a valid task graph
type PlanningError struct {
	WorkstreamID string
	Cycle        []string
	Issues       []Issue
	Msg          string
}

func (e *PlanningError) Error() string {
	var b strings.Builder
	b.WriteString("planning error")
	if e.WorkstreamID != "" {
		fmt.Fprintf(&b, " in %s", e.WorkstreamID)
	}
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if len(e.Cycle) > 0 {
		fmt.Fprintf(&b, ": dependency cycle %s", strings.Join(e.Cycle, " -> "))
	}
	if len(e.Issues) > 0 {
		fmt.Fprintf(&b, ": %d issue(s), first: %s", len(e.Issues), e.Issues[0])
	}
	return b.String()
}

// Compiler turns workstreams into frozen task lists
type Compiler struct {
	ops   workstream.OperationTable
	order OperationOrder
}

// NewCompiler creates a compiler with the given category table and ordering rules
func NewCompiler(ops workstream.OperationTable, order OperationOrder) *Compiler {
	return &Compiler{ops: ops, order: order}
}

// CompileTasks builds one task per gap in ws.GapIDs order and wires dependencies.
// A task whose file scope strictly contains another's depends on it, so coarser
// edits run after narrower ones. ws.Tasks is only set when the graph is acyclic.
func (c *Compiler) CompileTasks(ws *workstream.Workstream, gaps map[string]*gap.Record) ([]workstream.Task, error) {
	tasks := make([]workstream.Task, 0, len(ws.GapIDs))
	for i, id := range ws.GapIDs {
		g, ok := gaps[id]
		if !ok {
			return nil, &PlanningError{WorkstreamID: ws.ID, Msg: fmt.Sprintf("unknown gap %s", id)}
		}
		tasks = append(tasks, workstream.Task{
			ID:        workstream.TaskID(ws.ID, i+1),
			GapIDs:    []string{g.ID},
			Operation: c.ops.Resolve(g.Category),
			FileScope: append([]string(nil), g.FileScope...),
			PatternID: g.PatternID,
			DependsOn: []string{},
		})
	}

	for i := range tasks {
		for j := range tasks {
			if i == j {
				continue
			}
			if c.dependsOn(tasks[i], tasks[j]) {
				tasks[i].DependsOn = append(tasks[i].DependsOn, tasks[j].ID)
			}
		}
	}

	if cycle := FindCycle(tasks); cycle != nil {
		return nil, &PlanningError{WorkstreamID: ws.ID, Cycle: cycle}
	}
	ws.Tasks = tasks
	return tasks, nil
}

func (c *Compiler) dependsOn(a, b workstream.Task) bool {
	if isStrictSuperset(a.FileScope, b.FileScope) {
		return true
	}
	return c.order.runsAfter(a.Operation, b.Operation) && overlaps(a.FileScope, b.FileScope)
}

func isStrictSuperset(a, b []string) bool {
	if len(a) <= len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	for _, f := range b {
		if _, ok := set[f]; !ok {
			return false
		}
	}
	return true
}

func overlaps(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, f := range a {
		set[f] = struct{}{}
	}
	for _, f := range b {
		if _, ok := set[f]; ok {
			return true
		}
	}
	return false
}

// FindCycle returns the task ids of a dependency cycle, first id repeated at
// the end, or nil when the graph is acyclic. Dependencies on unknown ids are ignored.
func FindCycle(tasks []workstream.Task) []string {
	const (
		white = iota
		grey
		black
	)
	index := make(map[string]int, len(tasks))
	for i, t := range tasks {
		index[t.ID] = i
	}
	color := make([]int, len(tasks))
	var stack []string

	var visit func(i int) []string
	visit = func(i int) []string {
		color[i] = grey
		stack = append(stack, tasks[i].ID)
		for _, dep := range tasks[i].DependsOn {
			j, ok := index[dep]
			if !ok {
				continue
			}
			switch color[j] {
			case grey:
				for k, id := range stack {
					if id == dep {
						cycle := append([]string(nil), stack[k:]...)
						return append(cycle, dep)
					}
				}
			case white:
				if c := visit(j); c != nil {
					return c
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[i] = black
		return nil
	}

	for i := range tasks {
		if color[i] == white {
			if c := visit(i); c != nil {
				return c
			}
		}
	}
	return nil
}

// TopoOrder returns tasks so that every task follows its dependencies,
// preserving compile order among independent tasks
func TopoOrder(tasks []workstream.Task) ([]workstream.Task, error) {
	if cycle := FindCycle(tasks); cycle != nil {
		return nil, &PlanningError{Cycle: cycle}
	}
	known := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		known[t.ID] = true
	}
	done := make(map[string]bool, len(tasks))
	out := make([]workstream.Task, 0, len(tasks))
	for len(out) < len(tasks) {
		for _, t := range tasks {
			if done[t.ID] {
				continue
			}
			ready := true
			for _, d := range t.DependsOn {
				if known[d] && !done[d] {
					ready = false
					break
				}
			}
			if ready {
				done[t.ID] = true
				out = append(out, t)
			}
		}
	}
	return out, nil
}
