package config

import (
	"fmt"
	"time"

	"github.com/YoshitsuguKoike/repoforge/internal/app/config"
)

// RawSettings mirrors config.yaml. Pointer fields distinguish "unset" from
// zero values so defaults can be applied after every source is merged.
type RawSettings struct {
	Home *string `koanf:"home"`

	Log struct {
		Level  *string `koanf:"level"`
		Format *string `koanf:"format"`
	} `koanf:"log"`

	Ledger struct {
		Backend   *string `koanf:"backend"`
		Snapshots *bool   `koanf:"snapshots"`
	} `koanf:"ledger"`

	Planner struct {
		Strategy              *string             `koanf:"strategy"`
		MaxFilesPerWorkstream *int                `koanf:"max_files_per_workstream"`
		MaxAttempts           *int                `koanf:"max_attempts"`
		ProximityDepth        *int                `koanf:"proximity_depth"`
		Operations            map[string]string   `koanf:"operations"`
		DefaultOperation      *string             `koanf:"default_operation"`
		Order                 map[string][]string `koanf:"order"`
	} `koanf:"planner"`

	Execution struct {
		Concurrency   *int    `koanf:"concurrency"`
		Workspace     *string `koanf:"workspace"`
		KeepWorkspace *bool   `koanf:"keep_workspace"`
		Apply         *bool   `koanf:"apply"`
	} `koanf:"execution"`

	Guardrails struct {
		ForbiddenPaths  []string          `koanf:"forbidden_paths"`
		MaxFilesPerTask *int              `koanf:"max_files_per_task"`
		Severities      map[string]string `koanf:"severities"`
		Disabled        []string          `koanf:"disabled"`
	} `koanf:"guardrails"`

	Tools map[string]RawTool `koanf:"tools"`

	Discovery struct {
		FindingsFile *string  `koanf:"findings_file"`
		Bin          *string  `koanf:"bin"`
		Args         []string `koanf:"args"`
		TimeoutSec   *int     `koanf:"timeout_sec"`
	} `koanf:"discovery"`

	Archive struct {
		Backend *string `koanf:"backend"`
		Dir     *string `koanf:"dir"`
		S3      struct {
			Bucket       *string `koanf:"bucket"`
			Prefix       *string `koanf:"prefix"`
			Region       *string `koanf:"region"`
			Endpoint     *string `koanf:"endpoint"`
			UsePathStyle *bool   `koanf:"use_path_style"`
		} `koanf:"s3"`
	} `koanf:"archive"`

	Metrics struct {
		Textfile *string `koanf:"textfile"`
	} `koanf:"metrics"`
}

// RawTool is one entry of the tools section
type RawTool struct {
	ToolID              string            `koanf:"tool_id"`
	Bin                 string            `koanf:"bin"`
	Args                []string          `koanf:"args"`
	TimeoutSec          int               `koanf:"timeout_sec"`
	Env                 map[string]string `koanf:"env"`
	ExpectsModification *bool             `koanf:"expects_modification"`
	MaxConcurrent       int               `koanf:"max_concurrent"`
}

func str(v string) *string { return &v }
func num(v int) *int       { return &v }
func flag(v bool) *bool    { return &v }

// applyDefaults fills in default values for any nil fields
func applyDefaults(s *RawSettings) {
	if s.Home == nil {
		s.Home = str(".repoforge")
	}
	if s.Log.Level == nil {
		s.Log.Level = str("info")
	}
	if s.Log.Format == nil {
		s.Log.Format = str("console")
	}

	if s.Ledger.Backend == nil {
		s.Ledger.Backend = str(string(config.LedgerFile))
	}
	if s.Ledger.Snapshots == nil {
		s.Ledger.Snapshots = flag(true)
	}

	if s.Planner.Strategy == nil {
		s.Planner.Strategy = str("category")
	}
	if s.Planner.MaxFilesPerWorkstream == nil {
		s.Planner.MaxFilesPerWorkstream = num(10)
	}
	if s.Planner.MaxAttempts == nil {
		s.Planner.MaxAttempts = num(2)
	}
	if s.Planner.ProximityDepth == nil {
		s.Planner.ProximityDepth = num(2)
	}
	if s.Planner.Operations == nil {
		s.Planner.Operations = map[string]string{
			"lint":   "lint",
			"style":  "format",
			"format": "format",
			"tests":  "test",
		}
	}
	if s.Planner.DefaultOperation == nil {
		s.Planner.DefaultOperation = str("edit")
	}
	if s.Planner.Order == nil {
		s.Planner.Order = map[string][]string{}
	}

	if s.Execution.Concurrency == nil {
		s.Execution.Concurrency = num(2)
	}
	if s.Execution.Workspace == nil {
		s.Execution.Workspace = str(string(config.WorkspaceCopy))
	}
	if s.Execution.KeepWorkspace == nil {
		s.Execution.KeepWorkspace = flag(false)
	}
	if s.Execution.Apply == nil {
		s.Execution.Apply = flag(true)
	}

	if s.Guardrails.ForbiddenPaths == nil {
		s.Guardrails.ForbiddenPaths = []string{".git/**", "**/*.pem", "**/.env"}
	}
	if s.Guardrails.MaxFilesPerTask == nil {
		s.Guardrails.MaxFilesPerTask = num(20)
	}

	if s.Discovery.FindingsFile == nil {
		s.Discovery.FindingsFile = str("")
	}
	if s.Discovery.TimeoutSec == nil {
		s.Discovery.TimeoutSec = num(300)
	}

	if s.Archive.Backend == nil {
		s.Archive.Backend = str(string(config.ArchiveNone))
	}
	if s.Archive.Dir == nil {
		s.Archive.Dir = str("")
	}
	if s.Archive.S3.Bucket == nil {
		s.Archive.S3.Bucket = str("")
	}
	if s.Archive.S3.Prefix == nil {
		s.Archive.S3.Prefix = str("runs")
	}
	if s.Archive.S3.Region == nil {
		s.Archive.S3.Region = str("")
	}
	if s.Archive.S3.Endpoint == nil {
		s.Archive.S3.Endpoint = str("")
	}
	if s.Archive.S3.UsePathStyle == nil {
		s.Archive.S3.UsePathStyle = flag(false)
	}

	if s.Metrics.Textfile == nil {
		s.Metrics.Textfile = str("")
	}
}

// defaultTools are used for operation kinds missing from the tools section
func defaultTools() map[string]RawTool {
	return map[string]RawTool{
		"edit":   {ToolID: "editor", Bin: "repoforge-edit", Args: []string{"--workspace", "{workspace}", "{files}"}, TimeoutSec: 600, ExpectsModification: flag(true)},
		"test":   {ToolID: "go-test", Bin: "go", Args: []string{"test", "./..."}, TimeoutSec: 900, ExpectsModification: flag(false), MaxConcurrent: 1},
		"lint":   {ToolID: "golangci-lint", Bin: "golangci-lint", Args: []string{"run", "--fix", "{files}"}, TimeoutSec: 300, ExpectsModification: flag(true)},
		"format": {ToolID: "gofmt", Bin: "gofmt", Args: []string{"-w", "{files}"}, TimeoutSec: 120, ExpectsModification: flag(true)},
	}
}

// buildAppConfig converts defaulted settings into the read-only config
func buildAppConfig(s *RawSettings, source, path string) (*config.AppConfig, error) {
	cfg := &config.AppConfig{
		Home:                *s.Home,
		LogLevel:            *s.Log.Level,
		LogFormat:           *s.Log.Format,
		LedgerBackend:       config.LedgerBackend(*s.Ledger.Backend),
		Snapshots:           *s.Ledger.Snapshots,
		Strategy:            *s.Planner.Strategy,
		MaxFilesPerWS:       *s.Planner.MaxFilesPerWorkstream,
		MaxPlanningAttempts: *s.Planner.MaxAttempts,
		ProximityDepth:      *s.Planner.ProximityDepth,
		Operations:          s.Planner.Operations,
		DefaultOperation:    *s.Planner.DefaultOperation,
		OperationOrder:      s.Planner.Order,
		Concurrency:         *s.Execution.Concurrency,
		WorkspaceMode:       config.WorkspaceMode(*s.Execution.Workspace),
		KeepWorkspace:       *s.Execution.KeepWorkspace,
		Apply:               *s.Execution.Apply,
		ForbiddenPaths:      s.Guardrails.ForbiddenPaths,
		MaxFilesPerTask:     *s.Guardrails.MaxFilesPerTask,
		Severities:          s.Guardrails.Severities,
		DisabledRules:       s.Guardrails.Disabled,
		Tools:               map[string]config.ToolProfile{},
		FindingsFile:        *s.Discovery.FindingsFile,
		ArchiveBackend:      config.ArchiveBackend(*s.Archive.Backend),
		ArchiveDir:          *s.Archive.Dir,
		S3: config.S3Archive{
			Bucket:       *s.Archive.S3.Bucket,
			Prefix:       *s.Archive.S3.Prefix,
			Region:       *s.Archive.S3.Region,
			Endpoint:     *s.Archive.S3.Endpoint,
			UsePathStyle: *s.Archive.S3.UsePathStyle,
		},
		MetricsTextfile: *s.Metrics.Textfile,
		ConfigSource:    source,
		SettingPath:     path,
	}

	if s.Discovery.Bin != nil && *s.Discovery.Bin != "" {
		cfg.Discovery = &config.DiscoveryCommand{
			Bin:     *s.Discovery.Bin,
			Args:    s.Discovery.Args,
			Timeout: time.Duration(*s.Discovery.TimeoutSec) * time.Second,
		}
	}

	tools := defaultTools()
	for kind, t := range s.Tools {
		tools[kind] = mergeTool(tools[kind], t)
	}
	for kind, t := range tools {
		if t.Bin == "" {
			return nil, fmt.Errorf("tool %q: bin is required", kind)
		}
		if t.ToolID == "" {
			t.ToolID = kind
		}
		expects := true
		if t.ExpectsModification != nil {
			expects = *t.ExpectsModification
		}
		cfg.Tools[kind] = config.ToolProfile{
			ToolID:              t.ToolID,
			Bin:                 t.Bin,
			Args:                t.Args,
			Timeout:             time.Duration(t.TimeoutSec) * time.Second,
			Env:                 t.Env,
			ExpectsModification: expects,
			MaxConcurrent:       t.MaxConcurrent,
		}
	}
	return cfg, validate(cfg)
}

func mergeTool(base, over RawTool) RawTool {
	if over.ToolID != "" {
		base.ToolID = over.ToolID
	}
	if over.Bin != "" {
		base.Bin = over.Bin
	}
	if over.Args != nil {
		base.Args = over.Args
	}
	if over.TimeoutSec > 0 {
		base.TimeoutSec = over.TimeoutSec
	}
	if over.Env != nil {
		base.Env = over.Env
	}
	if over.ExpectsModification != nil {
		base.ExpectsModification = over.ExpectsModification
	}
	if over.MaxConcurrent > 0 {
		base.MaxConcurrent = over.MaxConcurrent
	}
	return base
}

func validate(cfg *config.AppConfig) error {
	switch cfg.LedgerBackend {
	case config.LedgerFile, config.LedgerSQLite:
	default:
		return fmt.Errorf("ledger.backend: unknown backend %q", cfg.LedgerBackend)
	}
	switch cfg.WorkspaceMode {
	case config.WorkspaceCopy, config.WorkspaceGit:
	default:
		return fmt.Errorf("execution.workspace: unknown mode %q", cfg.WorkspaceMode)
	}
	switch cfg.ArchiveBackend {
	case config.ArchiveNone, config.ArchiveLocal:
	case config.ArchiveS3:
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("archive.s3.bucket is required for the s3 backend")
		}
	default:
		return fmt.Errorf("archive.backend: unknown backend %q", cfg.ArchiveBackend)
	}
	if cfg.Concurrency < 1 {
		return fmt.Errorf("execution.concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.MaxPlanningAttempts < 1 {
		return fmt.Errorf("planner.max_attempts must be at least 1, got %d", cfg.MaxPlanningAttempts)
	}
	if cfg.ProximityDepth < 0 {
		return fmt.Errorf("planner.proximity_depth must not be negative, got %d", cfg.ProximityDepth)
	}
	return nil
}
