package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codetwin/internal/analysis"
	"codetwin/internal/config"
	"codetwin/internal/extractor"
	"codetwin/internal/graph"
	"codetwin/internal/resolver"
	"codetwin/internal/storage"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commitFile(t *testing.T, repo *gogit.Repository, dir, rel, content string, when time.Time) {
	t.Helper()
	writeFile(t, dir, rel, content)

	w, err := repo.Worktree()
	require.NoError(t, err)
	_, err = w.Add(rel)
	require.NoError(t, err)
	_, err = w.Commit("update "+rel, &gogit.CommitOptions{
		Author: &object.Signature{Name: "dev", Email: "dev@example.com", When: when},
	})
	require.NoError(t, err)
}

// legacyFixture is a repository where main.py (today) calls a helper in
// util.py that was last touched 100 days ago.
func legacyFixture(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInit(dir, false)
	require.NoError(t, err)

	old := time.Now().Add(-100 * 24 * time.Hour).Truncate(time.Second)
	commitFile(t, repo, dir, "util.py", "def helper():\n    return 42\n", old)
	commitFile(t, repo, dir, "main.py", "from util import helper\n\ndef run():\n    return helper()\n", time.Now().Truncate(time.Second))
	return dir
}

type progressLog struct {
	mu     sync.Mutex
	stages []Stage
	msgs   []string
}

func (p *progressLog) record(stage Stage, msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stages = append(p.stages, stage)
	p.msgs = append(p.msgs, msg)
}

func (p *progressLog) last() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

func TestIngestor_EndToEnd(t *testing.T) {
	ctx := context.Background()
	dir := legacyFixture(t)
	store := newStore(t)

	ing := NewIngestor(store, WithAnalyzer(analysis.NewAnalyzer(store, config.DefaultRiskConfig())))
	var progress progressLog
	report, err := ing.Ingest(ctx, Request{ProjectID: "demo", LocalPath: dir}, progress.record)
	require.NoError(t, err)

	assert.Equal(t, []Stage{StageCloning, StageProcessing, StageCleanup, StageIntelligence, StageDone}, progress.stages)
	assert.Equal(t, RiskCompleted, report.RiskStatus)
	assert.Equal(t, 1, report.Alerts)
	assert.Len(t, report.Commit, 40)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, 2, report.Sync.UnitsWritten)

	units, err := store.ListUnits(ctx, "demo")
	require.NoError(t, err)
	ids := make([]string, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.Identifier)
	}
	assert.ElementsMatch(t, []string{"main.py::root::run", "util.py::root::helper"}, ids)

	edges, err := store.ListEdges(ctx, "demo")
	require.NoError(t, err)
	assert.Contains(t, edges, graph.Edge{From: "main.py::root::run", To: "util", Kind: extractor.EdgeImports})

	g, _ := resolver.BuildGraph(units, edges)
	deps := g.GetDependencies("main.py::root::run")
	require.Len(t, deps, 1)
	assert.Equal(t, "util.py::root::helper", deps[0].Unit.Identifier)

	alerts, err := store.ListRiskAlerts(ctx, "demo")
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, storage.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, []string{"main.py::root::run", "util.py::root::helper"}, alerts[0].AffectedUnits)
	assert.Contains(t, alerts[0].Description, "AI: "+analysis.FallbackExplanation)

	project, err := store.GetProject(ctx, "demo")
	require.NoError(t, err)
	assert.Equal(t, report.Commit, project.LastCommit)

	t.Run("Second pass writes nothing new", func(t *testing.T) {
		again, err := ing.Ingest(ctx, Request{ProjectID: "demo", LocalPath: dir}, nil)
		require.NoError(t, err)
		assert.Zero(t, again.Sync.UnitsWritten)
		assert.Equal(t, 1, again.Alerts)

		alerts, err := store.ListRiskAlerts(ctx, "demo")
		require.NoError(t, err)
		assert.Len(t, alerts, 1, "alerts are replaced, not appended")
	})
}

type failingAnalyzer struct{}

func (failingAnalyzer) Analyze(context.Context, string) (int, error) {
	return 0, errors.New("graph too large")
}

func TestIngestor_RiskUnavailable(t *testing.T) {
	dir := legacyFixture(t)
	store := newStore(t)

	var progress progressLog
	report, err := NewIngestor(store, WithAnalyzer(failingAnalyzer{})).
		Ingest(context.Background(), Request{ProjectID: "demo", LocalPath: dir}, progress.record)
	require.NoError(t, err, "sync results stay committed")
	assert.Equal(t, RiskUnavailable, report.RiskStatus)
	assert.Equal(t, StageDone, progress.stages[len(progress.stages)-1])
	assert.Contains(t, progress.last(), "completed, risk analysis unavailable")

	files, err := store.ListFiles(context.Background(), "demo")
	require.NoError(t, err)
	assert.Equal(t, []string{"main.py", "util.py"}, files)
}

func TestIngestor_SkipRisk(t *testing.T) {
	dir := legacyFixture(t)
	store := newStore(t)

	report, err := NewIngestor(store, WithAnalyzer(failingAnalyzer{})).
		Ingest(context.Background(), Request{ProjectID: "demo", LocalPath: dir, SkipRisk: true}, nil)
	require.NoError(t, err)
	assert.Equal(t, RiskSkipped, report.RiskStatus)
}

func TestIngestor_RepositoryUnavailable(t *testing.T) {
	store := newStore(t)
	ing := NewIngestor(store, WithReposDir(t.TempDir()))

	t.Run("Missing working copy", func(t *testing.T) {
		var progress progressLog
		_, err := ing.Ingest(context.Background(), Request{ProjectID: "demo", LocalPath: filepath.Join(t.TempDir(), "missing")}, progress.record)
		assert.ErrorIs(t, err, ErrRepositoryUnavailable)
		assert.Equal(t, StageFailed, progress.stages[len(progress.stages)-1])
	})

	t.Run("Unreachable remote", func(t *testing.T) {
		_, err := ing.Ingest(context.Background(), Request{ProjectID: "demo", RepoURL: filepath.Join(t.TempDir(), "no-such-remote")}, nil)
		assert.ErrorIs(t, err, ErrRepositoryUnavailable)
	})

	_, err := store.GetProject(context.Background(), "demo")
	assert.ErrorIs(t, err, storage.ErrProjectNotFound, "nothing is written before the working copy exists")
}

func TestIngestor_PlainDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def a():\n    pass\n")
	store := newStore(t)

	report, err := NewIngestor(store).Ingest(context.Background(), Request{ProjectID: "plain", LocalPath: dir}, nil)
	require.NoError(t, err)
	assert.Empty(t, report.Commit)
	assert.Equal(t, 1, report.Sync.UnitsWritten)
}

type blockingAnalyzer struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (b *blockingAnalyzer) Analyze(context.Context, string) (int, error) {
	if b.calls.Add(1) == 1 {
		close(b.started)
	}
	<-b.release
	return 0, nil
}

func TestIngestor_ConcurrentPassesCollapse(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.py", "def a():\n    pass\n")
	store := newStore(t)

	an := &blockingAnalyzer{started: make(chan struct{}), release: make(chan struct{})}
	ing := NewIngestor(store, WithAnalyzer(an))
	req := Request{ProjectID: "demo", LocalPath: dir}

	var wg sync.WaitGroup
	reports := make([]*Report, 2)
	errs := make([]error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[0], errs[0] = ing.Ingest(context.Background(), req, nil)
	}()
	<-an.started

	var joinedEvents atomic.Int32
	wg.Add(1)
	go func() {
		defer wg.Done()
		reports[1], errs[1] = ing.Ingest(context.Background(), req, func(Stage, string) { joinedEvents.Add(1) })
	}()
	time.Sleep(100 * time.Millisecond)
	close(an.release)
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, int32(1), an.calls.Load())
	assert.Equal(t, reports[0].RunID, reports[1].RunID)
	assert.Zero(t, joinedEvents.Load())
}

func TestIngestor_RequiresProject(t *testing.T) {
	_, err := NewIngestor(newStore(t)).Ingest(context.Background(), Request{}, nil)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "project id"))
}
