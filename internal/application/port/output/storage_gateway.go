package output

import (
	"context"
	"time"
)

// StorageGateway is the interface for run archive storage
// Supports both local filesystem and cloud storage (S3)
type StorageGateway interface {
	// SaveArtifact persists an archived run artifact
	SaveArtifact(ctx context.Context, req SaveArtifactRequest) (*ArtifactMetadata, error)

	// LoadArtifact retrieves an archived artifact of a run by name
	LoadArtifact(ctx context.Context, runID, name string) (*Artifact, error)

	// ListArtifacts lists the archived artifacts of a run
	ListArtifacts(ctx context.Context, runID string) ([]*ArtifactMetadata, error)
}

// SaveArtifactRequest represents a request to archive an artifact
type SaveArtifactRequest struct {
	RunID        string       // Owning run
	Name         string       // File name inside the run archive (e.g. ledger.ndjson)
	ArtifactType ArtifactType // Type of artifact
	Content      []byte       // Artifact content
	ContentType  string       // MIME type (optional)
}

// ArtifactType represents the type of archived artifact
type ArtifactType string

const (
	ArtifactTypeLedger   ArtifactType = "ledger"   // Ledger export
	ArtifactTypeRecord   ArtifactType = "record"   // Materialized run record
	ArtifactTypeRegistry ArtifactType = "registry" // Gap registry snapshot
	ArtifactTypeSummary  ArtifactType = "summary"  // Run summary
	ArtifactTypePlan     ArtifactType = "plan"     // Workstream artifact
)

// Artifact represents a stored artifact
type Artifact struct {
	Content  []byte
	Metadata ArtifactMetadata
}

// ArtifactMetadata contains information about an archived artifact
type ArtifactMetadata struct {
	RunID       string       // Owning run
	Name        string       // File name inside the run archive
	Type        ArtifactType // Artifact type
	StoragePath string       // Storage path (e.g., s3://bucket/key or a local path)
	ContentType string       // MIME type
	Size        int64        // Size in bytes
	UploadedAt  time.Time    // Upload timestamp
}
