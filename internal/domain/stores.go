package domain

import (
	"context"
	"time"
)

// VectorMatch is one similarity hit from a vector index.
type VectorMatch struct {
	ItemID     string
	Text       string
	Similarity float64
	Metadata   map[string]string
}

// VectorIndex is the semantic-similarity collaborator. Collections
// partition the index by use: node labels for dedup, mistake texts
// for warning lookup.
type VectorIndex interface {
	Index(ctx context.Context, collection, itemID, text string, meta map[string]string) error
	Similar(ctx context.Context, collection, text string, topK int, threshold float64) ([]VectorMatch, error)
	Remove(ctx context.Context, collection, itemID string) error
	Close() error
}

// EmbeddingClient turns text into a dense vector.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}

// LLMClient is the synthesis collaborator. Both calls return strict
// JSON shapes; malformed replies surface ErrCollaboratorMalformed.
type LLMClient interface {
	SynthesizeSession(ctx context.Context, interactions []*Interaction) (*SessionSynthesis, error)
	ExtractKnowledge(ctx context.Context, interaction *Interaction) (*ExtractionInput, error)
}

// InteractionStore persists the raw interaction log reflection reads
// from.
type InteractionStore interface {
	Append(ctx context.Context, interaction *Interaction) error
	Unprocessed(ctx context.Context, limit int) ([]*Interaction, error)
	MarkProcessed(ctx context.Context, ids []string) error
	Count(ctx context.Context) (int, error)
	UnprocessedCount(ctx context.Context) (int, error)
	Close() error
}

// SnapshotStore persists and recovers the graph snapshot document.
type SnapshotStore interface {
	Save(snap *Snapshot) error
	Load() (*Snapshot, error)
	PendingRecovery() (bool, error)
}

// Journal records reflection outcomes for humans to read later.
type Journal interface {
	Record(entry *JournalEntry) error
}

// JournalEntry summarizes one completed reflection run.
type JournalEntry struct {
	RunID            string    `json:"run_id"`
	CompletedAt      time.Time `json:"completed_at"`
	InteractionCount int       `json:"interaction_count"`
	QualityScore     float64   `json:"quality_score"`
	Summary          string    `json:"summary"`
	LearningsApplied int       `json:"learnings_applied"`
	CorrectionsMade  int       `json:"corrections_made"`
	InsightsAdded    int       `json:"insights_added"`
	NodesDeprecated  int       `json:"nodes_deprecated"`
	NodesMerged      int       `json:"nodes_merged"`
}
