package graph

import (
	"sort"

	"codetwin/internal/extractor"
)

// Node represents a vertex in the dependency graph.
type Node struct {
	Unit *extractor.CodeUnit
}

// Edge represents a directed relationship between two nodes.
type Edge struct {
	From string // Source identifier
	To   string // Target identifier
	Kind extractor.EdgeType
}

// Graph manages nodes and their resolved relationships.
type Graph struct {
	Nodes      map[string]*Node
	Edges      []Edge
	Unresolved []UnresolvedRelation

	out     map[string][]string
	in      map[string][]string
	edgeSet map[Edge]bool

	// short name -> identifiers, used to find resolution candidates
	nameIndex map[string][]string
}

// NewGraph creates an empty graph.
func NewGraph() *Graph {
	return &Graph{
		Nodes:     make(map[string]*Node),
		out:       make(map[string][]string),
		in:        make(map[string][]string),
		edgeSet:   make(map[Edge]bool),
		nameIndex: make(map[string][]string),
	}
}

// AddUnit adds a CodeUnit as a node and indexes it by short name.
func (g *Graph) AddUnit(unit *extractor.CodeUnit) {
	if unit == nil || unit.Identifier == "" {
		return
	}
	if _, exists := g.Nodes[unit.Identifier]; !exists {
		short := extractor.ShortName(unit.Identifier)
		g.nameIndex[short] = append(g.nameIndex[short], unit.Identifier)
	}
	g.Nodes[unit.Identifier] = &Node{Unit: unit}
}

// Candidates returns every node whose identifier ends with `::shortName`,
// sorted.
func (g *Graph) Candidates(shortName string) []string {
	ids := append([]string(nil), g.nameIndex[shortName]...)
	sort.Strings(ids)
	return ids
}

// AddEdge links two existing nodes. Duplicates and edges with an unknown
// endpoint are ignored; the return value reports whether the edge was added.
func (g *Graph) AddEdge(e Edge) bool {
	if _, ok := g.Nodes[e.From]; !ok {
		return false
	}
	if _, ok := g.Nodes[e.To]; !ok {
		return false
	}
	if g.edgeSet[e] {
		return false
	}
	g.edgeSet[e] = true
	g.Edges = append(g.Edges, e)
	if !g.hasLink(e.From, e.To) {
		g.out[e.From] = append(g.out[e.From], e.To)
		g.in[e.To] = append(g.in[e.To], e.From)
	}
	return true
}

func (g *Graph) hasLink(from, to string) bool {
	for _, t := range g.out[from] {
		if t == to {
			return true
		}
	}
	return false
}

// GetDependencies returns all nodes that the given node depends on.
func (g *Graph) GetDependencies(id string) []*Node {
	return g.lookup(g.out[id])
}

// GetDependents returns all nodes that depend on the given node.
func (g *Graph) GetDependents(id string) []*Node {
	return g.lookup(g.in[id])
}

func (g *Graph) lookup(ids []string) []*Node {
	nodes := make([]*Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := g.Nodes[id]; ok {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

// BoundedPaths runs a breadth-first search from `from` and returns, for every
// node reachable in 1..maxHops edges, one shortest path (from and target
// included). Hop count is len(path)-1.
func (g *Graph) BoundedPaths(from string, maxHops int) map[string][]string {
	paths := make(map[string][]string)
	if _, ok := g.Nodes[from]; !ok || maxHops <= 0 {
		return paths
	}

	parent := map[string]string{from: ""}
	frontier := []string{from}
	for hop := 1; hop <= maxHops && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			for _, to := range g.out[cur] {
				if _, seen := parent[to]; seen {
					continue
				}
				parent[to] = cur
				next = append(next, to)
				paths[to] = buildPath(parent, from, to)
			}
		}
		frontier = next
	}
	return paths
}

func buildPath(parent map[string]string, from, to string) []string {
	var rev []string
	for cur := to; cur != from; cur = parent[cur] {
		rev = append(rev, cur)
	}
	rev = append(rev, from)
	path := make([]string, len(rev))
	for i := range rev {
		path[i] = rev[len(rev)-1-i]
	}
	return path
}
