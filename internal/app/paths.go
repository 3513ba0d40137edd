package app

import (
	"path/filepath"
)

// Paths holds the on-disk layout under the repoforge home directory
type Paths struct {
	Home    string // .repoforge
	Runs    string // .repoforge/runs
	Archive string // .repoforge/archive
	Work    string // .repoforge/work (task workspaces)
	Metrics string // .repoforge/metrics.prom

	LedgerDB string // .repoforge/ledger.db (sqlite backend)
}

// RunPaths holds the artifact paths of a single run
type RunPaths struct {
	Dir         string // runs/<run_id>
	Ledger      string // runs/<run_id>/ledger.ndjson
	Gaps        string // runs/<run_id>/gaps.json
	Workstreams string // runs/<run_id>/workstreams
	Summary     string // runs/<run_id>/summary.json
	Snapshot    string // runs/<run_id>/snapshot.json
	Lock        string // runs/<run_id>/run.lock
}

// ResolvePaths returns all paths based on the configured home directory
func ResolvePaths(home string) Paths {
	if home == "" {
		home = ".repoforge"
	}
	return Paths{
		Home:     home,
		Runs:     filepath.Join(home, "runs"),
		Archive:  filepath.Join(home, "archive"),
		Work:     filepath.Join(home, "work"),
		Metrics:  filepath.Join(home, "metrics.prom"),
		LedgerDB: filepath.Join(home, "ledger.db"),
	}
}

// Run returns the artifact paths of runID
func (p Paths) Run(runID string) RunPaths {
	dir := filepath.Join(p.Runs, runID)
	return RunPaths{
		Dir:         dir,
		Ledger:      filepath.Join(dir, "ledger.ndjson"),
		Gaps:        filepath.Join(dir, "gaps.json"),
		Workstreams: filepath.Join(dir, "workstreams"),
		Summary:     filepath.Join(dir, "summary.json"),
		Snapshot:    filepath.Join(dir, "snapshot.json"),
		Lock:        filepath.Join(dir, "run.lock"),
	}
}

// Workstream returns the artifact path of a workstream
func (r RunPaths) Workstream(wsID string) string {
	return filepath.Join(r.Workstreams, wsID+".yaml")
}
