package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"codetwin/internal/git"
	"codetwin/internal/logging"
	"codetwin/internal/storage"
	"codetwin/internal/telemetry"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/singleflight"
)

// Stage names reported to a ProgressFunc, in order.
type Stage string

const (
	StageCloning      Stage = "CLONING"
	StageProcessing   Stage = "PROCESSING"
	StageCleanup      Stage = "CLEANUP"
	StageIntelligence Stage = "INTELLIGENCE"
	StageDone         Stage = "DONE"
	StageFailed       Stage = "FAILED"
)

const (
	RiskCompleted   = "completed"
	RiskSkipped     = "skipped"
	RiskUnavailable = "risk analysis unavailable"
)

type ProgressFunc func(stage Stage, message string)

// RiskAnalyzer runs the risk pass over a project's stored graph.
type RiskAnalyzer interface {
	Analyze(ctx context.Context, project string) (int, error)
}

// IngestStore is what an ingestion pass needs from the store.
type IngestStore interface {
	SyncStore
	storage.ProjectStore
}

// Request names the project and where its working copy comes from: RepoURL
// is cloned or pulled into the repos directory, otherwise LocalPath is used
// as is.
type Request struct {
	ProjectID string
	RepoURL   string
	LocalPath string
	SkipRisk  bool
}

type Report struct {
	RunID      string
	ProjectID  string
	Root       string
	Commit     string
	Sync       *SyncResult
	Alerts     int
	RiskStatus string
	Duration   time.Duration
}

// Ingestor runs full ingestion passes. Passes for the same project are
// collapsed: a caller arriving while one is running waits for it and gets
// its report.
type Ingestor struct {
	store       IngestStore
	analyzer    RiskAnalyzer
	reposDir    string
	syncOptions []SyncOption
	logger      hclog.Logger
	flight      singleflight.Group
}

type IngestOption func(*Ingestor)

func WithAnalyzer(a RiskAnalyzer) IngestOption {
	return func(i *Ingestor) { i.analyzer = a }
}

func WithReposDir(dir string) IngestOption {
	return func(i *Ingestor) {
		if dir != "" {
			i.reposDir = dir
		}
	}
}

func WithSyncOptions(opts ...SyncOption) IngestOption {
	return func(i *Ingestor) { i.syncOptions = append(i.syncOptions, opts...) }
}

func WithIngestLogger(l hclog.Logger) IngestOption {
	return func(i *Ingestor) { i.logger = logging.OrNull(l) }
}

func NewIngestor(store IngestStore, opts ...IngestOption) *Ingestor {
	i := &Ingestor{
		store:    store,
		reposDir: "repos",
		logger:   hclog.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Ingest runs (or joins) the pass for req.ProjectID. progress may be nil; it
// only receives events from the pass this call started.
func (i *Ingestor) Ingest(ctx context.Context, req Request, progress ProgressFunc) (*Report, error) {
	if req.ProjectID == "" {
		return nil, errors.New("project id is required")
	}
	if progress == nil {
		progress = func(Stage, string) {}
	}
	v, err, _ := i.flight.Do(req.ProjectID, func() (any, error) {
		return i.run(ctx, req, progress)
	})
	if v == nil {
		return nil, err
	}
	return v.(*Report), err
}

func (i *Ingestor) run(ctx context.Context, req Request, progress ProgressFunc) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString(), ProjectID: req.ProjectID}
	logger := i.logger.With("project", req.ProjectID, "run", report.RunID)

	fail := func(err error) (*Report, error) {
		report.Duration = time.Since(start)
		progress(StageFailed, err.Error())
		telemetry.IngestRuns.WithLabelValues("failed").Inc()
		logger.Error("ingestion failed", "error", err)
		return report, err
	}

	wc, err := i.acquireStage(ctx, req, progress, logger)
	if err != nil {
		return fail(err)
	}
	report.Root = wc.root
	report.Commit = wc.commit

	stageStart := time.Now()
	progress(StageProcessing, "Parsing and synchronizing units...")
	syncer := NewSynchronizer(i.store, wc.history, append([]SyncOption{WithLogger(logger.Named("sync"))}, i.syncOptions...)...)
	res, err := syncer.Sync(ctx, req.ProjectID, wc.root)
	report.Sync = res
	telemetry.StageDuration.WithLabelValues(string(StageProcessing)).Observe(time.Since(stageStart).Seconds())
	if err != nil {
		return fail(err)
	}
	progress(StageCleanup, fmt.Sprintf("Removed %d orphaned units", len(res.Orphans)))

	if err := i.store.SaveProject(ctx, storage.Project{
		ID:         req.ProjectID,
		RepoURL:    req.RepoURL,
		LocalPath:  wc.root,
		LastCommit: report.Commit,
	}); err != nil {
		return fail(fmt.Errorf("%w: save project: %v", ErrStoreUnavailable, err))
	}

	report.RiskStatus = i.intelligenceStage(ctx, req, report, progress, logger)

	report.Duration = time.Since(start)
	telemetry.IngestRuns.WithLabelValues("succeeded").Inc()
	msg := fmt.Sprintf("Ingested %d units (%d written, %d unchanged)", res.UnitsSeen, res.UnitsWritten, res.UnitsUnchanged)
	if report.RiskStatus == RiskUnavailable {
		msg += "; completed, " + RiskUnavailable
	}
	progress(StageDone, msg)
	return report, nil
}

type workingCopy struct {
	root    string
	commit  string
	history git.History
}

func openedCopy(root string, repo *git.Repository) *workingCopy {
	commit, _ := repo.HeadCommit()
	return &workingCopy{root: root, commit: commit, history: repo.History()}
}

// acquireStage resolves the working copy. Any failure here happens before a
// single write.
func (i *Ingestor) acquireStage(ctx context.Context, req Request, progress ProgressFunc, logger hclog.Logger) (*workingCopy, error) {
	stageStart := time.Now()
	defer func() {
		telemetry.StageDuration.WithLabelValues(string(StageCloning)).Observe(time.Since(stageStart).Seconds())
	}()

	if req.RepoURL != "" {
		dir := filepath.Join(i.reposDir, req.ProjectID)
		progress(StageCloning, fmt.Sprintf("Cloning %s...", req.RepoURL))
		repo, err := git.CloneOrPull(ctx, req.RepoURL, dir, logger.Named("git"))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRepositoryUnavailable, err)
		}
		return openedCopy(dir, repo), nil
	}

	dir := req.LocalPath
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRepositoryUnavailable, dir)
	}
	progress(StageCloning, fmt.Sprintf("Using working copy %s", dir))
	repo, err := git.Open(dir, logger.Named("git"))
	if err != nil {
		logger.Warn("working copy is not a git repository, provenance unavailable", "dir", dir)
		return &workingCopy{root: dir, history: git.NoHistory{}}, nil
	}
	return openedCopy(dir, repo), nil
}

func (i *Ingestor) intelligenceStage(ctx context.Context, req Request, report *Report, progress ProgressFunc, logger hclog.Logger) string {
	if req.SkipRisk || i.analyzer == nil {
		return RiskSkipped
	}
	stageStart := time.Now()
	defer func() {
		telemetry.StageDuration.WithLabelValues(string(StageIntelligence)).Observe(time.Since(stageStart).Seconds())
	}()

	progress(StageIntelligence, "Running predictive risk analysis...")
	n, err := i.analyzer.Analyze(ctx, req.ProjectID)
	if err != nil {
		logger.Warn("risk analysis failed", "error", err)
		return RiskUnavailable
	}
	report.Alerts = n
	return RiskCompleted
}
