package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codetwin/internal/extractor"
	"codetwin/internal/graph"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const project = "proj"

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testUnit(file, scope, name string) *extractor.CodeUnit {
	u := &extractor.CodeUnit{
		Identifier:  extractor.BuildIdentifier(file, scope, name),
		Name:        name,
		Kind:        extractor.KindFunction,
		Language:    "python",
		FilePath:    file,
		ParentScope: scope,
		Content:     "def " + name + "(): pass",
		StartLine:   0,
		EndLine:     0,
	}
	u.Fingerprint = extractor.Fingerprint(u)
	return u
}

func TestSQLiteStore_UpsertUnits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	modified := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	a := testUnit("a.py", "", "alpha")
	a.Imports = []extractor.ImportInfo{{Module: "util", Line: 0}}
	a.Embedding = []float32{0.5, -1, 2}
	a.LastModifiedAt = &modified
	a.Author = "dev@example.com"
	a.Summary = "Computes alpha."

	require.NoError(t, store.UpsertUnits(ctx, project, []*extractor.CodeUnit{a, a}), "duplicate keys in one batch")
	require.NoError(t, store.UpsertUnits(ctx, project, []*extractor.CodeUnit{a}), "retried batch")

	units, err := store.ListUnits(ctx, project)
	require.NoError(t, err)
	require.Len(t, units, 1)
	got := units[0]
	assert.Equal(t, a.Identifier, got.Identifier)
	assert.Equal(t, extractor.KindFunction, got.Kind)
	assert.Equal(t, []float32{0.5, -1, 2}, got.Embedding)
	assert.Equal(t, []string{"util"}, got.ImportModules())
	require.NotNil(t, got.LastModifiedAt)
	assert.True(t, modified.Equal(*got.LastModifiedAt))
	assert.Equal(t, "dev@example.com", got.Author)

	fps, err := store.UnitFingerprints(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{a.Identifier: a.Fingerprint}, fps)

	t.Run("Projects are isolated", func(t *testing.T) {
		other, err := store.UnitFingerprints(ctx, "other")
		require.NoError(t, err)
		assert.Empty(t, other)
	})

	t.Run("Upsert keeps risk score", func(t *testing.T) {
		require.NoError(t, store.UpdateRiskScores(ctx, project, map[string]float64{a.Identifier: 35}))
		a.Content = "def alpha(): return 1"
		require.NoError(t, store.UpsertUnits(ctx, project, []*extractor.CodeUnit{a}))
		units, err := store.FindUnitsByIdentifiers(ctx, project, []string{a.Identifier})
		require.NoError(t, err)
		require.Len(t, units, 1)
		assert.Equal(t, 35.0, units[0].RiskScore)
		assert.Equal(t, "def alpha(): return 1", units[0].Content)
	})
}

func TestSQLiteStore_ReplaceEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	src := "a.py::root::alpha"

	require.NoError(t, store.ReplaceEdges(ctx, project, []EdgeGroup{
		{Source: src, Type: extractor.EdgeCalls, Targets: []string{"a", "b", "b"}},
		{Source: src, Type: extractor.EdgeImports, Targets: []string{"util"}},
	}))
	require.NoError(t, store.ReplaceEdges(ctx, project, []EdgeGroup{
		{Source: src, Type: extractor.EdgeCalls, Targets: []string{"a"}},
	}))

	edges, err := store.ListEdges(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []graph.Edge{
		{From: src, To: "a", Kind: extractor.EdgeCalls},
		{From: src, To: "util", Kind: extractor.EdgeImports},
	}, edges)

	t.Run("Empty group clears the pair", func(t *testing.T) {
		require.NoError(t, store.ReplaceEdges(ctx, project, []EdgeGroup{{Source: src, Type: extractor.EdgeImports}}))
		edges, err := store.ListEdgesFrom(ctx, project, []string{src}, extractor.EdgeImports)
		require.NoError(t, err)
		assert.Empty(t, edges)
	})
}

func TestSQLiteStore_DeleteUnitsCascadesEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testUnit("a.py", "", "alpha")
	b := testUnit("b.py", "", "beta")
	require.NoError(t, store.UpsertUnits(ctx, project, []*extractor.CodeUnit{a, b}))
	require.NoError(t, store.ReplaceEdges(ctx, project, []EdgeGroup{
		{Source: a.Identifier, Type: extractor.EdgeCalls, Targets: []string{"beta"}},
		{Source: b.Identifier, Type: extractor.EdgeCalls, Targets: []string{"alpha"}},
	}))

	require.NoError(t, store.DeleteUnits(ctx, project, []string{a.Identifier}))

	files, err := store.ListFiles(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []string{"b.py"}, files)

	edges, err := store.ListEdges(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, []graph.Edge{{From: b.Identifier, To: "alpha", Kind: extractor.EdgeCalls}}, edges)
}

func TestSQLiteStore_SearchUnits(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	auth := testUnit("auth.py", "", "login")
	auth.Summary = "Validates user credentials."
	auth.Embedding = []float32{1, 0}
	billing := testUnit("billing.py", "", "charge")
	billing.Embedding = []float32{0, 1}
	require.NoError(t, store.UpsertUnits(ctx, project, []*extractor.CodeUnit{auth, billing}))

	hits, err := store.SearchUnits(ctx, project, SearchQuery{Text: "credentials check", Vector: []float32{0.9, 0.1}, Limit: 5})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, auth.Identifier, hits[0].Unit.Identifier)

	hits, err = store.SearchUnits(ctx, project, SearchQuery{Text: "charge", Limit: 1})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, billing.Identifier, hits[0].Unit.Identifier)
}

func TestSQLiteStore_RiskAlertsAndScores(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	a := testUnit("a.py", "", "alpha")
	b := testUnit("b.py", "", "beta")
	require.NoError(t, store.UpsertUnits(ctx, project, []*extractor.CodeUnit{a, b}))

	older := time.Now().Add(-time.Hour)
	require.NoError(t, store.ReplaceRiskAlerts(ctx, project, RiskTypeLegacyConflict, []RiskAlert{
		{Severity: SeverityMedium, Description: "first", AffectedUnits: []string{a.Identifier, b.Identifier}, CreatedAt: older},
		{Severity: SeverityHigh, Description: "second", AffectedUnits: []string{b.Identifier, a.Identifier}},
	}))

	alerts, err := store.ListRiskAlerts(ctx, project)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	assert.Equal(t, "second", alerts[0].Description, "newest first")
	assert.Equal(t, []string{a.Identifier, b.Identifier}, alerts[1].AffectedUnits)
	assert.NotEmpty(t, alerts[0].ID)

	require.NoError(t, store.ReplaceRiskAlerts(ctx, project, RiskTypeLegacyConflict, nil))
	alerts, err = store.ListRiskAlerts(ctx, project)
	require.NoError(t, err)
	assert.Empty(t, alerts, "a pass replaces, never accumulates")

	require.NoError(t, store.UpdateRiskScores(ctx, project, map[string]float64{a.Identifier: 40, b.Identifier: 10}))
	require.NoError(t, store.UpdateRiskScores(ctx, project, map[string]float64{b.Identifier: 25}))
	units, err := store.ListUnits(ctx, project)
	require.NoError(t, err)
	scores := map[string]float64{}
	for _, u := range units {
		scores[u.Identifier] = u.RiskScore
	}
	assert.Equal(t, map[string]float64{a.Identifier: 0, b.Identifier: 25}, scores)
}

func TestSQLiteStore_Projects(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, ErrProjectNotFound)

	require.NoError(t, store.SaveProject(ctx, Project{ID: project, RepoURL: "https://example.com/r.git", LastCommit: "abc"}))
	require.NoError(t, store.SaveProject(ctx, Project{ID: project, RepoURL: "https://example.com/r.git", LastCommit: "def"}))

	p, err := store.GetProject(ctx, project)
	require.NoError(t, err)
	assert.Equal(t, "def", p.LastCommit)
	assert.False(t, p.UpdatedAt.IsZero())
}
