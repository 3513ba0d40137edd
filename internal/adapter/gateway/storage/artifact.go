package storage

import (
	"path"
	"strings"

	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
)

// ArtifactTypeFor classifies an archived file by its name
func ArtifactTypeFor(name string) output.ArtifactType {
	base := path.Base(name)
	switch {
	case strings.HasPrefix(base, "ledger"):
		return output.ArtifactTypeLedger
	case base == "snapshot.json" || base == "record.json":
		return output.ArtifactTypeRecord
	case base == "gaps.json":
		return output.ArtifactTypeRegistry
	case base == "summary.json":
		return output.ArtifactTypeSummary
	case strings.HasPrefix(name, "workstreams/"):
		return output.ArtifactTypePlan
	default:
		return ""
	}
}

func contentTypeFor(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".ndjson":
		return "application/x-ndjson"
	case ".yaml", ".yml":
		return "application/yaml"
	default:
		return "application/octet-stream"
	}
}
