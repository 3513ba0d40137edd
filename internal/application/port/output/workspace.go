package output

import (
	"context"
)

// WorkspaceProvisioner materializes isolated working trees
type WorkspaceProvisioner interface {
	// Create materializes the content of src at dst. dst must not exist.
	Create(ctx context.Context, src, dst string) error

	// Promote copies files (repository-relative) from src into dst.
	// A file missing in src is removed from dst.
	Promote(ctx context.Context, src, dst string, files []string) error

	// Remove deletes a workspace. A missing workspace is not an error.
	Remove(ctx context.Context, dir string) error
}

// Baseline is the pre-task state an EvidenceCollector compares against
type Baseline map[string]string // repository-relative path -> content fingerprint

// EvidenceCollector observes workspace changes independently of what tools report
type EvidenceCollector interface {
	// Baseline records the state of a workspace before a tool runs
	Baseline(ctx context.Context, root string) (Baseline, error)

	// Changed returns the sorted repository-relative paths that were
	// modified, added or deleted since base
	Changed(ctx context.Context, root string, base Baseline) ([]string, error)
}
