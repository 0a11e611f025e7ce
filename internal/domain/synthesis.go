package domain

import (
	"fmt"
	"strings"
	"time"
)

// Interaction is one recorded user/agent exchange, the raw material
// reflection runs on.
type Interaction struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"session_id"`
	UserMessage   string    `json:"user_message"`
	AgentResponse string    `json:"agent_response"`
	CreatedAt     time.Time `json:"created_at"`
}

func (i *Interaction) Validate() error {
	if i.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	if strings.TrimSpace(i.UserMessage) == "" && strings.TrimSpace(i.AgentResponse) == "" {
		return fmt.Errorf("interaction must carry a user message or an agent response")
	}
	return nil
}

// Learning is a reinforced or newly observed claim from a synthesis.
type Learning struct {
	Claim           string  `json:"claim"`
	ConfidenceDelta float64 `json:"confidence_delta"`
	Evidence        string  `json:"evidence,omitempty"`
}

// Correction records that a previously held claim was wrong and what
// replaces it. RelatedNodeID is set when the synthesis could tie the
// wrong claim to an existing node.
type Correction struct {
	WrongClaim    string `json:"wrong_claim"`
	CorrectClaim  string `json:"correct_claim"`
	RelatedNodeID string `json:"related_node_id,omitempty"`
	Question      string `json:"question,omitempty"`
}

// Insight is a synthesized higher-order claim grounded on existing
// nodes. It is only admitted when at least two active supporting
// nodes with confidence above 0.3 exist.
type Insight struct {
	Claim             string   `json:"claim"`
	SupportingNodeIDs []string `json:"supporting_node_ids"`
}

// SessionSynthesis is the structured result of reflecting over a
// batch of interactions.
type SessionSynthesis struct {
	QualityScore float64      `json:"quality_score"`
	Summary      string       `json:"summary"`
	Learnings    []Learning   `json:"learnings"`
	Corrections  []Correction `json:"corrections"`
	Insights     []Insight    `json:"insights"`
}

func (s *SessionSynthesis) Validate() error {
	if s.QualityScore < 0 || s.QualityScore > 1 {
		return fmt.Errorf("quality_score %.3f out of range [0, 1]", s.QualityScore)
	}
	for i, l := range s.Learnings {
		if strings.TrimSpace(l.Claim) == "" {
			return fmt.Errorf("learnings[%d]: claim is empty", i)
		}
	}
	for i, c := range s.Corrections {
		if strings.TrimSpace(c.WrongClaim) == "" || strings.TrimSpace(c.CorrectClaim) == "" {
			return fmt.Errorf("corrections[%d]: wrong_claim and correct_claim are required", i)
		}
	}
	for i, in := range s.Insights {
		if strings.TrimSpace(in.Claim) == "" {
			return fmt.Errorf("insights[%d]: claim is empty", i)
		}
	}
	return nil
}

// CandidateNode is a node proposed by knowledge extraction, before it
// is merged into the graph.
type CandidateNode struct {
	Type       string  `json:"type"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence,omitempty"`
}

// CandidateEdge references candidate nodes by label rather than id;
// extraction resolves labels against the graph on merge.
type CandidateEdge struct {
	SourceLabel string `json:"source_label"`
	TargetLabel string `json:"target_label"`
	Relation    string `json:"relation"`
}

// ExtractionInput is a batch of candidate knowledge tied to the
// interaction it was extracted from.
type ExtractionInput struct {
	InteractionID string          `json:"interaction_id,omitempty"`
	Nodes         []CandidateNode `json:"nodes"`
	Edges         []CandidateEdge `json:"edges"`
}

// Validate checks node types, relations and bounds. An extraction
// with no nodes and no edges is valid and merges as a no-op.
func (e *ExtractionInput) Validate() error {
	for i, n := range e.Nodes {
		if !ValidNodeType(n.Type) {
			return fmt.Errorf("nodes[%d]: unknown node type %q", i, n.Type)
		}
		if NormalizeLabel(n.Label) == "" {
			return fmt.Errorf("nodes[%d]: label is empty", i)
		}
		if n.Confidence < 0 || n.Confidence > 1 {
			return fmt.Errorf("nodes[%d]: confidence %.3f out of range [0, 1]", i, n.Confidence)
		}
	}
	for i, ed := range e.Edges {
		if !ValidRelationType(ed.Relation) {
			return fmt.Errorf("edges[%d]: unknown relation %q", i, ed.Relation)
		}
		if NormalizeLabel(ed.SourceLabel) == "" || NormalizeLabel(ed.TargetLabel) == "" {
			return fmt.Errorf("edges[%d]: source and target labels are required", i)
		}
	}
	return nil
}

// RetrievalItem is one scored graph hit returned to a caller.
type RetrievalItem struct {
	NodeID     string   `json:"node_id"`
	Label      string   `json:"label"`
	Type       NodeType `json:"type"`
	Confidence float64  `json:"confidence"`
	Importance float64  `json:"importance"`
	Similarity float64  `json:"similarity"`
	Score      float64  `json:"score"`
}

// RetrievalResult is the full answer to a query: ranked items plus
// any mistake warnings the query came near.
type RetrievalResult struct {
	Query    string           `json:"query"`
	Items    []RetrievalItem  `json:"items"`
	Warnings []MistakeWarning `json:"warnings,omitempty"`
}

// MistakeWarning surfaces a past correction relevant to a query so
// the agent does not repeat the mistake.
type MistakeWarning struct {
	Question      string  `json:"question,omitempty"`
	WrongAnswer   string  `json:"wrong_answer"`
	CorrectAnswer string  `json:"correct_answer"`
	Similarity    float64 `json:"similarity"`
}
