package storage

import (
	"context"
	"time"

	"codetwin/internal/extractor"
	"codetwin/internal/graph"
)

// RiskTypeLegacyConflict tags alerts produced by the risk pass.
const RiskTypeLegacyConflict = "Legacy Conflict"

const (
	SeverityMedium = "Medium"
	SeverityHigh   = "High"
)

// RiskAlert is a derived record; it is regenerated by every risk pass.
type RiskAlert struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	RiskType      string    `json:"risk_type"`
	Severity      string    `json:"severity"`
	Description   string    `json:"description"`
	AffectedUnits []string  `json:"affected_units"`
	CreatedAt     time.Time `json:"created_at"`
}

type Project struct {
	ID         string
	RepoURL    string
	LocalPath  string
	LastCommit string
	UpdatedAt  time.Time
}

// EdgeGroup is the complete edge set of one (source, type) pair. Writing a
// group replaces whatever was stored for that pair, so an empty Targets list
// clears it.
type EdgeGroup struct {
	Source  string
	Type    extractor.EdgeType
	Targets []string
}

type SearchQuery struct {
	Text   string
	Vector []float32
	Limit  int
}

type SearchHit struct {
	Unit  *extractor.CodeUnit
	Score float64
}

// Store combines every persistence capability the engine needs. All
// operations are scoped by project id.
type Store interface {
	UnitStore
	EdgeStore
	SearchStore
	RiskStore
	ProjectStore
	Close() error
}

// UnitStore persists code units keyed by (project, identifier).
type UnitStore interface {
	// UnitFingerprints returns identifier -> fingerprint for every stored unit.
	UnitFingerprints(ctx context.Context, project string) (map[string]string, error)

	// UpsertUnits inserts or updates units by identifier. The stored risk
	// score is left untouched.
	UpsertUnits(ctx context.Context, project string, units []*extractor.CodeUnit) error

	// DeleteUnits removes units and every edge whose source is one of them.
	DeleteUnits(ctx context.Context, project string, ids []string) error

	ListUnits(ctx context.Context, project string) ([]*extractor.CodeUnit, error)
	ListFiles(ctx context.Context, project string) ([]string, error)
	FindUnitsByFile(ctx context.Context, project, filePath string) ([]*extractor.CodeUnit, error)
	FindUnitsByIdentifiers(ctx context.Context, project string, ids []string) ([]*extractor.CodeUnit, error)
}

// EdgeStore persists unresolved edges as written by the synchronizer.
type EdgeStore interface {
	ReplaceEdges(ctx context.Context, project string, groups []EdgeGroup) error
	ListEdges(ctx context.Context, project string) ([]graph.Edge, error)
	ListEdgesFrom(ctx context.Context, project string, sources []string, kind extractor.EdgeType) ([]graph.Edge, error)
}

// SearchStore ranks units by embedding similarity blended with keyword hits.
type SearchStore interface {
	SearchUnits(ctx context.Context, project string, q SearchQuery) ([]SearchHit, error)
}

type RiskStore interface {
	// ReplaceRiskAlerts clears the project's alerts of riskType and inserts
	// the given set.
	ReplaceRiskAlerts(ctx context.Context, project, riskType string, alerts []RiskAlert) error

	// UpdateRiskScores resets every score in the project to zero and then
	// writes the given absolute values.
	UpdateRiskScores(ctx context.Context, project string, scores map[string]float64) error

	// ListRiskAlerts returns alerts newest first.
	ListRiskAlerts(ctx context.Context, project string) ([]RiskAlert, error)
}

type ProjectStore interface {
	SaveProject(ctx context.Context, p Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
}
