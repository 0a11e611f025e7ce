package domain

import "time"

type RelationType string

const (
	RelIsA           RelationType = "is_a"
	RelHasProperty   RelationType = "has_property"
	RelPartOf        RelationType = "part_of"
	RelRelatesTo     RelationType = "relates_to"
	RelDependsOn     RelationType = "depends_on"
	RelCauses        RelationType = "causes"
	RelUsedIn        RelationType = "used_in"
	RelSimilarTo     RelationType = "similar_to"
	RelContradicts   RelationType = "contradicts"
	RelSupports      RelationType = "supports"
	RelCorrects      RelationType = "corrects"
	RelPreferredBy   RelationType = "preferred_by"
	RelKnows         RelationType = "knows"
	RelDislikes      RelationType = "dislikes"
	RelExtractedFrom RelationType = "extracted_from"
	RelInferredFrom  RelationType = "inferred_from"
	RelMentionedIn   RelationType = "mentioned_in"
)

func ValidRelationType(r string) bool {
	switch RelationType(r) {
	case RelIsA, RelHasProperty, RelPartOf, RelRelatesTo, RelDependsOn,
		RelCauses, RelUsedIn, RelSimilarTo, RelContradicts, RelSupports,
		RelCorrects, RelPreferredBy, RelKnows, RelDislikes,
		RelExtractedFrom, RelInferredFrom, RelMentionedIn:
		return true
	}
	return false
}

// Edge is a directed, typed relation between two nodes. At most one
// edge exists per (source, target, relation) triple.
type Edge struct {
	Source    string       `json:"source"`
	Target    string       `json:"target"`
	Relation  RelationType `json:"relation"`
	Weight    float64      `json:"weight"`
	CreatedAt time.Time    `json:"createdAt"`
}

// Key identifies an edge uniquely within the graph.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Relation: e.Relation}
}

type EdgeKey struct {
	Source   string
	Target   string
	Relation RelationType
}
