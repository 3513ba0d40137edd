package di

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"

	"github.com/YoshitsuguKoike/repoforge/internal/adapter/gateway/finding"
	storagegateway "github.com/YoshitsuguKoike/repoforge/internal/adapter/gateway/storage"
	"github.com/YoshitsuguKoike/repoforge/internal/adapter/gateway/workspace"
	"github.com/YoshitsuguKoike/repoforge/internal/app"
	appconfig "github.com/YoshitsuguKoike/repoforge/internal/app/config"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/input"
	"github.com/YoshitsuguKoike/repoforge/internal/application/port/output"
	"github.com/YoshitsuguKoike/repoforge/internal/application/service"
	"github.com/YoshitsuguKoike/repoforge/internal/application/usecase/execution"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/model/workstream"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/guardrail"
	"github.com/YoshitsuguKoike/repoforge/internal/domain/service/planner"
	"github.com/YoshitsuguKoike/repoforge/internal/infra/metrics"
	"github.com/YoshitsuguKoike/repoforge/internal/infrastructure/persistence/sqlite"
	filerepo "github.com/YoshitsuguKoike/repoforge/internal/infrastructure/repository"
	"github.com/YoshitsuguKoike/repoforge/internal/interface/external/toolexec"
)

// Container is the DI container that holds all dependencies.
// Components that do not depend on the repository root are built once;
// run use cases are built per repository root because the guardrail
// policy is rooted there.
type Container struct {
	// Infrastructure Layer - Database (sqlite ledger backend only)
	db *sql.DB

	// Infrastructure Layer - Repositories
	ledgerRepo     repository.LedgerRepository
	gapRepo        repository.GapRepository
	workstreamRepo repository.WorkstreamRepository
	snapshotRepo   repository.SnapshotRepository
	locker         *filerepo.RunLockImpl

	// Infrastructure Layer - Gateways
	runner     output.ToolRunner
	findings   output.FindingSource
	workspaces output.WorkspaceProvisioner
	evidence   output.EvidenceCollector
	archive    output.StorageGateway

	// Infrastructure Layer - Metrics
	metrics *metrics.RunMetrics

	// Application Layer - shared settings
	tools    *service.ToolRegistry
	compiler *planner.Compiler
	strategy planner.Strategy

	mu       sync.Mutex
	useCases map[string]input.RunUseCase

	paths  app.Paths
	config Config
}

// Config holds configuration for the container
type Config struct {
	App    *appconfig.AppConfig
	FS     afero.Fs // defaults to the OS filesystem
	Logger app.Logger
	Now    func() time.Time

	// Runner replaces the process runner (tests)
	Runner output.ToolRunner
	// Findings replaces the configured finding source (tests)
	Findings output.FindingSource
}

// NewContainer creates and initializes the DI container
func NewContainer(ctx context.Context, config Config) (*Container, error) {
	if config.App == nil {
		return nil, fmt.Errorf("container: configuration is required")
	}
	if config.FS == nil {
		config.FS = afero.NewOsFs()
	}
	if config.Logger == nil {
		config.Logger = app.GetLogger()
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	home, err := filepath.Abs(config.App.Home)
	if err != nil {
		return nil, fmt.Errorf("resolve home: %w", err)
	}
	c := &Container{
		config:   config,
		paths:    app.ResolvePaths(home),
		useCases: make(map[string]input.RunUseCase),
	}

	// Initialize dependencies in dependency order
	if err := c.initializeInfrastructure(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize infrastructure: %w", err)
	}
	if err := c.initializeApplication(); err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return c, nil
}

// initializeInfrastructure initializes infrastructure layer components
func (c *Container) initializeInfrastructure(ctx context.Context) error {
	cfg := c.config.App
	fsys := c.config.FS

	// 1. Ledger backend
	switch cfg.LedgerBackend {
	case appconfig.LedgerSQLite:
		if err := fsys.MkdirAll(c.paths.Home, 0o755); err != nil {
			return fmt.Errorf("create home: %w", err)
		}
		db, err := sqlite.Open(c.paths.LedgerDB)
		if err != nil {
			return err
		}
		c.db = db
		c.ledgerRepo = sqlite.NewLedgerRepository(db)
	default:
		c.ledgerRepo = filerepo.NewLedgerRepositoryImpl(c.paths)
	}

	// 2. File repositories
	c.gapRepo = filerepo.NewGapRepositoryImpl(fsys, c.paths)
	c.workstreamRepo = filerepo.NewWorkstreamRepositoryImpl(fsys, c.paths)
	if cfg.Snapshots {
		c.snapshotRepo = filerepo.NewSnapshotRepositoryImpl(fsys, c.paths)
	}
	c.locker = filerepo.NewRunLockImpl(c.paths)

	// 3. Tool boundary
	c.runner = c.config.Runner
	if c.runner == nil {
		c.runner = toolexec.NewRunner()
	}

	// 4. Finding source
	switch {
	case c.config.Findings != nil:
		c.findings = c.config.Findings
	case cfg.Discovery != nil:
		c.findings = finding.NewCommandFindingSource(c.runner, *cfg.Discovery)
	case cfg.FindingsFile != "":
		c.findings = finding.NewFileFindingSource(fsys, cfg.FindingsFile)
	default:
		c.findings = finding.NewFileFindingSource(fsys, filepath.Join(c.paths.Home, "findings.json"))
	}

	// 5. Workspaces and evidence
	switch cfg.WorkspaceMode {
	case appconfig.WorkspaceGit:
		c.workspaces = workspace.NewGitProvisioner(c.paths.Work, c.config.Now)
		c.evidence = workspace.NewGitEvidenceCollector()
	default:
		c.workspaces = workspace.NewCopyProvisioner(fsys, []string{c.paths.Home}, ".git")
		c.evidence = workspace.NewHashEvidenceCollector(fsys, ".git")
	}

	// 6. Archive
	switch cfg.ArchiveBackend {
	case appconfig.ArchiveLocal:
		dir := cfg.ArchiveDir
		if dir == "" {
			dir = c.paths.Archive
		}
		c.archive = storagegateway.NewLocalStorageGateway(fsys, dir)
	case appconfig.ArchiveS3:
		gw, err := storagegateway.NewS3StorageGateway(ctx, storagegateway.S3Config{
			Bucket:       cfg.S3.Bucket,
			Prefix:       cfg.S3.Prefix,
			Region:       cfg.S3.Region,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
		})
		if err != nil {
			return fmt.Errorf("failed to create S3 archive: %w", err)
		}
		c.archive = gw
	}

	// 7. Metrics
	textfile := cfg.MetricsTextfile
	if textfile == "" {
		textfile = c.paths.Metrics
	}
	c.metrics = metrics.NewRunMetrics(textfile)
	return nil
}

// initializeApplication validates the planner and tool settings once
func (c *Container) initializeApplication() error {
	cfg := c.config.App

	tools, err := service.NewToolRegistry(cfg.Tools)
	if err != nil {
		return err
	}
	c.tools = tools

	strategy, err := planner.ParseStrategy(cfg.Strategy)
	if err != nil {
		return err
	}
	c.strategy = strategy

	ops, err := workstream.NewOperationTable(cfg.Operations, cfg.DefaultOperation)
	if err != nil {
		return err
	}
	order, err := planner.NewOperationOrder(cfg.OperationOrder)
	if err != nil {
		return err
	}
	c.compiler = planner.NewCompiler(ops, order)
	return nil
}

// GetRunUseCase returns the run use case for repoRoot. The guardrail policy
// is validated on first use.
func (c *Container) GetRunUseCase(repoRoot string) (input.RunUseCase, error) {
	abs, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve repository root: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if uc, ok := c.useCases[abs]; ok {
		return uc, nil
	}
	controller, err := c.newController(abs)
	if err != nil {
		return nil, err
	}
	uc := execution.NewRunUseCase(controller)
	c.useCases[abs] = uc
	return uc, nil
}

func (c *Container) newController(repoRoot string) (*execution.RunController, error) {
	cfg := c.config.App

	policy, err := guardrail.NewPolicy(guardrail.PolicyConfig{
		Severities:      cfg.Severities,
		Disabled:        cfg.DisabledRules,
		ForbiddenPaths:  cfg.ForbiddenPaths,
		MaxFilesPerWS:   cfg.MaxFilesPerWS,
		MaxFilesPerTask: cfg.MaxFilesPerTask,
		RepoRoot:        repoRoot,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail policy: %w", err)
	}
	guard := guardrail.NewEngine(policy)

	dispatcher := service.NewTaskDispatcher(c.runner, c.tools, c.workspaces, c.evidence, guard,
		service.DispatcherConfig{Concurrency: cfg.Concurrency, KeepWorkspaces: cfg.KeepWorkspace},
		c.config.Logger)

	return execution.NewRunController(execution.Dependencies{
		Ledger:      c.ledgerRepo,
		Gaps:        c.gapRepo,
		Workstreams: c.workstreamRepo,
		Snapshots:   c.snapshotRepo,
		Findings:    c.findings,
		Workspaces:  c.workspaces,
		Dispatcher:  dispatcher,
		Guard:       guard,
		Planner: execution.PlannerSettings{
			Strategy:       c.strategy,
			MaxFiles:       cfg.MaxFilesPerWS,
			MaxAttempts:    cfg.MaxPlanningAttempts,
			ProximityDepth: cfg.ProximityDepth,
			Compiler:       c.compiler,
		},
		Archive:        c.archive,
		Observer:       c.metrics,
		Locker:         c.locker,
		FS:             c.config.FS,
		Paths:          c.paths,
		Apply:          cfg.Apply,
		KeepWorkspaces: cfg.KeepWorkspace,
		Now:            c.config.Now,
		Logger:         c.config.Logger,
	}), nil
}

// GetLedgerRepository returns the configured ledger repository
func (c *Container) GetLedgerRepository() repository.LedgerRepository {
	return c.ledgerRepo
}

// GetGapRepository returns the gap registry store
func (c *Container) GetGapRepository() repository.GapRepository {
	return c.gapRepo
}

// GetArchive returns the archive gateway, nil when archiving is disabled
func (c *Container) GetArchive() output.StorageGateway {
	return c.archive
}

// GetMetrics returns the run metrics
func (c *Container) GetMetrics() *metrics.RunMetrics {
	return c.metrics
}

// Paths returns the resolved on-disk layout
func (c *Container) Paths() app.Paths {
	return c.paths
}

// Close releases resources
func (c *Container) Close() error {
	if c.db != nil {
		err := c.db.Close()
		c.db = nil
		return err
	}
	return nil
}
