package input

import (
	"context"

	"github.com/YoshitsuguKoike/repoforge/internal/application/dto"
)

// RunUseCase defines the interface for driving and inspecting runs
type RunUseCase interface {
	// Run starts a run for repoRoot and drives it to a terminal state.
	// runID may be empty to allocate a new id.
	Run(ctx context.Context, repoRoot, runID string) (*dto.RunOutput, error)

	// Resume continues a run from its ledger
	Resume(ctx context.Context, runID string) (*dto.RunOutput, error)

	// Status replays the ledger of a run
	Status(ctx context.Context, runID string) (*dto.RunStatusDTO, error)

	// List returns the status of every known run
	List(ctx context.Context) ([]*dto.RunStatusDTO, error)
}
