package resolver

import (
	"sort"

	"codetwin/internal/extractor"
	"codetwin/internal/graph"
)

type ResolveStats struct {
	Attempted int
	Resolved  int
	Skipped   int
}

// GraphResolver binds entries of g.Unresolved to concrete nodes, removing the
// ones it resolves.
type GraphResolver interface {
	Name() string
	Resolve(g *graph.Graph) (ResolveStats, error)
}

type StageResult struct {
	Resolver         string
	Stats            ResolveStats
	UnresolvedBefore int
	UnresolvedAfter  int
	EdgeCount        int
	Err              error
}

type ResolverChain struct {
	resolvers []GraphResolver
}

func NewResolverChain(resolvers ...GraphResolver) *ResolverChain {
	return &ResolverChain{resolvers: resolvers}
}

// NewDefaultChain resolves exact identifiers first, then short names gated by
// file locality and imports.
func NewDefaultChain(fileImports map[string][]string) *ResolverChain {
	return NewResolverChain(NewExactResolver(), NewImportGatedResolver(fileImports))
}

func (c *ResolverChain) Run(g *graph.Graph) []StageResult {
	if g == nil {
		return nil
	}

	var out []StageResult
	for _, r := range c.resolvers {
		before := len(g.Unresolved)
		stats, err := r.Resolve(g)
		after := len(g.Unresolved)
		out = append(out, StageResult{
			Resolver:         r.Name(),
			Stats:            stats,
			UnresolvedBefore: before,
			UnresolvedAfter:  after,
			EdgeCount:        len(g.Edges),
			Err:              err,
		})
		if err != nil {
			break
		}
	}
	return out
}

// BuildGraph loads units and stored edges into a resolved graph. Stored
// `imports` edges are not graph links; they are the import evidence used to
// gate short-name resolution of `calls` and `inherits` edges.
func BuildGraph(units []*extractor.CodeUnit, stored []graph.Edge) (*graph.Graph, []StageResult) {
	g := graph.NewGraph()
	fileImports := make(map[string][]string)
	for _, u := range units {
		g.AddUnit(u)
		fileImports[u.FilePath] = append(fileImports[u.FilePath], u.ImportModules()...)
	}

	edges := append([]graph.Edge(nil), stored...)
	sort.SliceStable(edges, func(i, j int) bool {
		if edges[i].From != edges[j].From {
			return edges[i].From < edges[j].From
		}
		if edges[i].Kind != edges[j].Kind {
			return edges[i].Kind < edges[j].Kind
		}
		return edges[i].To < edges[j].To
	})

	for _, e := range edges {
		if e.Kind == extractor.EdgeImports {
			if src, ok := g.Nodes[e.From]; ok {
				fileImports[src.Unit.FilePath] = append(fileImports[src.Unit.FilePath], e.To)
			}
			continue
		}
		g.Unresolved = append(g.Unresolved, graph.UnresolvedRelation{From: e.From, Target: e.To, Kind: e.Kind})
	}

	return g, NewDefaultChain(fileImports).Run(g)
}

// ExactResolver binds targets that already are full identifiers.
type ExactResolver struct{}

func NewExactResolver() *ExactResolver {
	return &ExactResolver{}
}

func (r *ExactResolver) Name() string {
	return "exact"
}

func (r *ExactResolver) Resolve(g *graph.Graph) (ResolveStats, error) {
	var stats ResolveStats
	if g == nil {
		return stats, nil
	}
	var still []graph.UnresolvedRelation
	for _, ur := range g.Unresolved {
		stats.Attempted++
		if _, ok := g.Nodes[ur.Target]; ok {
			if _, ok := g.Nodes[ur.From]; ok {
				g.AddEdge(graph.Edge{From: ur.From, To: ur.Target, Kind: ur.Kind})
				stats.Resolved++
				continue
			}
		}
		stats.Skipped++
		still = append(still, ur)
	}
	g.Unresolved = still
	return stats, nil
}
