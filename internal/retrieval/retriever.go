package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"codetwin/internal/extractor"
	"codetwin/internal/graph"
	"codetwin/internal/logging"
	"codetwin/internal/resolver"
	"codetwin/internal/storage"

	"github.com/hashicorp/go-hclog"
)

var ErrUnitNotFound = errors.New("unit not found")

const defaultLimit = 5

// Store is the read side of the knowledge store.
type Store interface {
	storage.SearchStore
	ListUnits(ctx context.Context, project string) ([]*extractor.CodeUnit, error)
	ListFiles(ctx context.Context, project string) ([]string, error)
	FindUnitsByFile(ctx context.Context, project, filePath string) ([]*extractor.CodeUnit, error)
	FindUnitsByIdentifiers(ctx context.Context, project string, ids []string) ([]*extractor.CodeUnit, error)
	ListEdgesFrom(ctx context.Context, project string, sources []string, kind extractor.EdgeType) ([]graph.Edge, error)
	ListRiskAlerts(ctx context.Context, project string) ([]storage.RiskAlert, error)
}

// QueryEmbedder turns a search string into a vector. A nil result disables
// the vector side of the search. knowledge.Enricher satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) []float32
}

// Result is one search result. Neighbours reached through a calls edge of a
// direct hit carry the hit's identifier in Via and no score.
type Result struct {
	Unit  *extractor.CodeUnit
	Score float64
	Via   string
}

// Retriever answers read queries over one store.
type Retriever struct {
	store    Store
	embedder QueryEmbedder
	logger   hclog.Logger
}

type Option func(*Retriever)

func WithEmbedder(e QueryEmbedder) Option {
	return func(r *Retriever) { r.embedder = e }
}

func WithLogger(l hclog.Logger) Option {
	return func(r *Retriever) { r.logger = logging.OrNull(l) }
}

func NewRetriever(store Store, opts ...Option) *Retriever {
	r := &Retriever{store: store, logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Retriever) ListAllFiles(ctx context.Context, project string) ([]string, error) {
	return r.store.ListFiles(ctx, project)
}

func (r *Retriever) FileUnits(ctx context.Context, project, filePath string) ([]*extractor.CodeUnit, error) {
	return r.store.FindUnitsByFile(ctx, project, extractor.NormalizePath(filePath))
}

func (r *Retriever) FetchUnitContent(ctx context.Context, project, identifier string) (*extractor.CodeUnit, error) {
	units, err := r.store.FindUnitsByIdentifiers(ctx, project, []string{identifier})
	if err != nil {
		return nil, err
	}
	if len(units) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnitNotFound, identifier)
	}
	return units[0], nil
}

// ListRisks returns the project's alerts, newest first.
func (r *Retriever) ListRisks(ctx context.Context, project string) ([]storage.RiskAlert, error) {
	return r.store.ListRiskAlerts(ctx, project)
}

// Search ranks units by embedding similarity and keyword match, then appends
// the units the hits call. Call targets are bound by short name, restricted
// to the caller's file and imports.
func (r *Retriever) Search(ctx context.Context, project, query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	var vec []float32
	if r.embedder != nil {
		vec = r.embedder.EmbedQuery(ctx, query)
	}

	hits, err := r.store.SearchUnits(ctx, project, storage.SearchQuery{Text: query, Vector: vec, Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("search units: %w", err)
	}
	if len(hits) == 0 {
		return nil, nil
	}

	results := make([]Result, 0, len(hits))
	included := make(map[string]bool, len(hits))
	sources := make([]string, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{Unit: h.Unit, Score: h.Score})
		included[h.Unit.Identifier] = true
		sources = append(sources, h.Unit.Identifier)
	}

	neighbours, err := r.expand(ctx, project, sources)
	if err != nil {
		r.logger.Warn("graph expansion skipped", "project", project, "error", err)
		return results, nil
	}
	for _, n := range neighbours {
		if included[n.Unit.Identifier] {
			continue
		}
		included[n.Unit.Identifier] = true
		results = append(results, n)
	}
	return results, nil
}

func (r *Retriever) expand(ctx context.Context, project string, sources []string) ([]Result, error) {
	edges, err := r.store.ListEdgesFrom(ctx, project, sources, extractor.EdgeCalls)
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}
	units, err := r.store.ListUnits(ctx, project)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*extractor.CodeUnit, len(units))
	byName := make(map[string][]*extractor.CodeUnit)
	fileImports := make(map[string][]string)
	for _, u := range units {
		byID[u.Identifier] = u
		fileImports[u.FilePath] = append(fileImports[u.FilePath], u.ImportModules()...)
		byName[extractor.ShortName(u.Identifier)] = append(byName[extractor.ShortName(u.Identifier)], u)
	}

	var out []Result
	for _, e := range edges {
		src := byID[e.From]
		if src == nil {
			continue
		}
		if u, ok := byID[e.To]; ok {
			out = append(out, Result{Unit: u, Via: e.From})
			continue
		}
		cands := byName[extractor.ShortName(e.To)]
		sort.Slice(cands, func(i, j int) bool { return cands[i].Identifier < cands[j].Identifier })
		for _, c := range cands {
			if c.Identifier == src.Identifier || !reachable(src.FilePath, fileImports[src.FilePath], c.FilePath) {
				continue
			}
			out = append(out, Result{Unit: c, Via: e.From})
		}
	}
	return out, nil
}

func reachable(srcFile string, imports []string, candFile string) bool {
	if srcFile == candFile {
		return true
	}
	for _, m := range imports {
		if resolver.MatchesImport(m, candFile) {
			return true
		}
	}
	return false
}
