package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

type NodeType string

const (
	NodeConcept    NodeType = "concept"
	NodeEntity     NodeType = "entity"
	NodePerson     NodeType = "person"
	NodeTechnology NodeType = "technology"
	NodeFact       NodeType = "fact"
	NodePreference NodeType = "preference"
	NodeSkill      NodeType = "skill"
	NodeMistake    NodeType = "mistake"
	NodeQuestion   NodeType = "question"
	NodeTopic      NodeType = "topic"
	NodeFile       NodeType = "file"
	NodeEvent      NodeType = "event"
)

func ValidNodeType(t string) bool {
	switch NodeType(t) {
	case NodeConcept, NodeEntity, NodePerson, NodeTechnology, NodeFact,
		NodePreference, NodeSkill, NodeMistake, NodeQuestion, NodeTopic,
		NodeFile, NodeEvent:
		return true
	}
	return false
}

type NodeStatus string

const (
	StatusActive     NodeStatus = "active"
	StatusDeprecated NodeStatus = "deprecated"
)

// Attribute keys with fixed meaning. Everything else in Attributes is
// free-form provenance.
const (
	AttrDisplayLabel   = "display_label"
	AttrSource         = "source"
	AttrSessionID      = "session_id"
	AttrCorrectionNote = "correction_note"
	AttrWrongClaim     = "wrong_claim"
	AttrCorrectClaim   = "correct_claim"
	AttrQuestion       = "question"
	AttrInferred       = "inferred"
	AttrMergedInto     = "merged_into"
	AttrBasis          = "basis"
)

// Node is one unit of knowledge. Confidence is always within [0, 1];
// a node whose confidence falls below the deprecation threshold is
// marked deprecated and excluded from ranking and retrieval, but kept
// for audit history.
type Node struct {
	ID              string            `json:"id"`
	Type            NodeType          `json:"type"`
	Label           string            `json:"label"`
	Confidence      float64           `json:"confidence"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
	LastDecayAt     time.Time         `json:"lastDecayAt"`
	Status          NodeStatus        `json:"status"`
	UseCount        int               `json:"useCount"`
	MaintenancePass string            `json:"maintenancePass,omitempty"`
	Attributes      map[string]string `json:"attributes,omitempty"`
}

func (n *Node) Active() bool { return n.Status == StatusActive }

// DisplayLabel returns the original-cased label when preserved,
// falling back to the normalized label.
func (n *Node) DisplayLabel() string {
	if n.Attributes != nil {
		if d, ok := n.Attributes[AttrDisplayLabel]; ok && d != "" {
			return d
		}
	}
	return n.Label
}

func (n *Node) SetAttr(key, value string) {
	if n.Attributes == nil {
		n.Attributes = make(map[string]string)
	}
	n.Attributes[key] = value
}

// NormalizeLabel produces the canonical identity form of a label:
// lowercase, whitespace-trimmed, inner runs of whitespace collapsed.
func NormalizeLabel(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// NewNode builds an active node with a fresh id. The label is
// normalized for identity; the original casing is preserved as an
// attribute when it differs.
func NewNode(t NodeType, label string, confidence float64, now time.Time) *Node {
	normalized := NormalizeLabel(label)
	n := &Node{
		ID:          uuid.NewString(),
		Type:        t,
		Label:       normalized,
		Confidence:  confidence,
		CreatedAt:   now,
		UpdatedAt:   now,
		LastDecayAt: now,
		Status:      StatusActive,
	}
	if trimmed := strings.TrimSpace(label); trimmed != normalized {
		n.SetAttr(AttrDisplayLabel, trimmed)
	}
	return n
}
