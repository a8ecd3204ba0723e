package graph

import "codetwin/internal/extractor"

type UnresolvedReason string

const (
	// ReasonNoCandidate: no unit carries the target's short name.
	ReasonNoCandidate UnresolvedReason = "no_candidate"
	// ReasonNotImported: candidates exist but none is in the source's file or
	// behind one of its imports.
	ReasonNotImported UnresolvedReason = "not_imported"
	// ReasonSourceMissing: the edge's source unit is not in the graph.
	ReasonSourceMissing UnresolvedReason = "source_missing"
)

// UnresolvedRelation is a stored edge that could not be bound to a unit.
type UnresolvedRelation struct {
	From   string             `json:"from"`
	Target string             `json:"target"`
	Kind   extractor.EdgeType `json:"kind"`
	Reason UnresolvedReason   `json:"reason"`
}
