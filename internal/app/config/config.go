// Package config holds the resolved, read-only application configuration.
// Loading and defaulting live in internal/infra/config.
package config

import "time"

// LedgerBackend selects where ledger entries are stored
type LedgerBackend string

const (
	LedgerFile   LedgerBackend = "file"
	LedgerSQLite LedgerBackend = "sqlite"
)

// WorkspaceMode selects how task workspaces are provisioned
type WorkspaceMode string

const (
	WorkspaceCopy WorkspaceMode = "copy"
	WorkspaceGit  WorkspaceMode = "git"
)

// ArchiveBackend selects where finished runs are archived
type ArchiveBackend string

const (
	ArchiveNone  ArchiveBackend = "none"
	ArchiveLocal ArchiveBackend = "local"
	ArchiveS3    ArchiveBackend = "s3"
)

// ToolProfile binds an operation kind to an external tool
type ToolProfile struct {
	ToolID              string
	Bin                 string
	Args                []string // may contain {files} and {workspace}
	Timeout             time.Duration
	Env                 map[string]string
	ExpectsModification bool
	MaxConcurrent       int // simultaneous invocations of this tool, 0 means the pool size
}

// DiscoveryCommand runs an external discovery engine that prints findings as JSON
type DiscoveryCommand struct {
	Bin     string
	Args    []string
	Timeout time.Duration
}

// S3Archive configures the S3 archive backend
type S3Archive struct {
	Bucket       string
	Prefix       string
	Region       string
	Endpoint     string
	UsePathStyle bool
}

// AppConfig is the fully defaulted configuration
type AppConfig struct {
	Home      string
	LogLevel  string
	LogFormat string

	LedgerBackend LedgerBackend
	Snapshots     bool

	Strategy            string
	MaxFilesPerWS       int
	MaxPlanningAttempts int
	ProximityDepth      int
	Operations          map[string]string
	DefaultOperation    string
	OperationOrder      map[string][]string

	Concurrency   int
	WorkspaceMode WorkspaceMode
	KeepWorkspace bool
	Apply         bool // promote workstream results into the repository

	ForbiddenPaths  []string
	MaxFilesPerTask int
	Severities      map[string]string
	DisabledRules   []string

	Tools map[string]ToolProfile

	FindingsFile string
	Discovery    *DiscoveryCommand

	ArchiveBackend ArchiveBackend
	ArchiveDir     string
	S3             S3Archive

	MetricsTextfile string

	ConfigSource string // "yaml", "env" or "default"
	SettingPath  string
}
