package extractor

import "time"

// UnitKind classifies a CodeUnit.
type UnitKind string

const (
	KindFunction UnitKind = "function"
	KindMethod   UnitKind = "method"
	KindClass    UnitKind = "class"
	KindModule   UnitKind = "module"
)

// EdgeType is the relationship carried by a graph edge.
type EdgeType string

const (
	EdgeCalls    EdgeType = "calls"
	EdgeImports  EdgeType = "imports"
	EdgeInherits EdgeType = "inherits"
)

// EdgeTypes lists every edge type in write order.
var EdgeTypes = []EdgeType{EdgeCalls, EdgeImports, EdgeInherits}

// ImportInfo is one import/use/include statement found in a file.
type ImportInfo struct {
	Module string `json:"module"`
	Line   int    `json:"line"`
}

// CodeUnit is one addressable block of source: a function, method, class or
// a whole prose module.
type CodeUnit struct {
	Identifier  string   `json:"identifier"` // file_path::scope_or_root::name
	Name        string   `json:"name"`
	Kind        UnitKind `json:"kind"`
	Language    string   `json:"language"`
	FilePath    string   `json:"file_path"`
	ParentScope string   `json:"parent_scope,omitempty"`
	Content     string   `json:"content"`
	StartLine   int      `json:"start_line"` // 0-indexed
	EndLine     int      `json:"end_line"`   // 0-indexed, inclusive

	Calls   []string     `json:"calls,omitempty"`
	Bases   []string     `json:"bases,omitempty"`
	Imports []ImportInfo `json:"imports,omitempty"`

	Fingerprint string `json:"fingerprint,omitempty"`

	// Enrichment and provenance, filled in by the synchronizer.
	Summary        string     `json:"summary,omitempty"`
	Footprint      string     `json:"footprint,omitempty"`
	Embedding      []float32  `json:"-"`
	LastModifiedAt *time.Time `json:"last_modified_at,omitempty"`
	Author         string     `json:"author,omitempty"`

	RiskScore float64 `json:"risk_score"`
}

// Relations returns the outgoing edge targets of the unit grouped by edge type.
// Every edge type is present, possibly with an empty slice, so callers can
// clear stale edges for a type the unit no longer has.
func (u *CodeUnit) Relations() map[EdgeType][]string {
	modules := make([]string, 0, len(u.Imports))
	seen := make(map[string]bool)
	for _, imp := range u.Imports {
		if imp.Module == "" || seen[imp.Module] {
			continue
		}
		seen[imp.Module] = true
		modules = append(modules, imp.Module)
	}
	return map[EdgeType][]string{
		EdgeCalls:    dedupe(u.Calls),
		EdgeImports:  modules,
		EdgeInherits: dedupe(u.Bases),
	}
}

// ImportModules returns the module strings of the unit's imports.
func (u *CodeUnit) ImportModules() []string {
	return u.Relations()[EdgeImports]
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
