package service

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/llm"
)

func TestExtractionService_MergeCreatesNodesAndEdges(t *testing.T) {
	store := graph.NewStore()
	vectors := newMemVectorIndex()
	svc := NewExtractionService(store, vectors, nil, zap.NewNop())

	input := &domain.ExtractionInput{
		InteractionID: "int-1",
		Nodes: []domain.CandidateNode{
			{Type: "technology", Label: "PostgreSQL", Confidence: 0.8},
			{Type: "concept", Label: "databases"},
		},
		Edges: []domain.CandidateEdge{
			{SourceLabel: "PostgreSQL", TargetLabel: "databases", Relation: "is_a"},
		},
	}
	res, err := svc.Merge(context.Background(), input)
	if err != nil {
		t.Fatal(err)
	}
	if res.NodesCreated != 2 || res.EdgesAdded != 1 {
		t.Errorf("result = %+v", res)
	}

	pg, ok := store.FindByLabel(domain.NodeTechnology, "postgresql")
	if !ok {
		t.Fatal("postgresql node missing")
	}
	if pg.Confidence != 0.8 {
		t.Errorf("confidence = %f, want hint 0.8", pg.Confidence)
	}
	if pg.Attributes[domain.AttrSource] != "int-1" {
		t.Errorf("source attribute = %q", pg.Attributes[domain.AttrSource])
	}

	db, _ := store.FindByLabel(domain.NodeConcept, "databases")
	if db.Confidence != graph.DefaultConfidence {
		t.Errorf("default confidence = %f, want %f", db.Confidence, graph.DefaultConfidence)
	}

	// Labels are in the vector index for later dedup.
	matches, _ := vectors.Similar(context.Background(), graph.NodeCollection, "postgresql", 10, 0.9)
	if len(matches) != 1 || matches[0].ItemID != pg.ID {
		t.Errorf("index matches = %+v", matches)
	}
}

func TestExtractionService_MergeReinforcesRepeats(t *testing.T) {
	store := graph.NewStore()
	svc := NewExtractionService(store, nil, nil, zap.NewNop())
	ctx := context.Background()

	input := &domain.ExtractionInput{Nodes: []domain.CandidateNode{{Type: "preference", Label: "tabs over spaces"}}}
	if _, err := svc.Merge(ctx, input); err != nil {
		t.Fatal(err)
	}
	res, err := svc.Merge(ctx, input)
	if err != nil {
		t.Fatal(err)
	}
	if res.NodesCreated != 0 || res.NodesReinforced != 1 {
		t.Errorf("result = %+v, want reinforcement", res)
	}

	n, _ := store.FindByLabel(domain.NodePreference, "tabs over spaces")
	if n.UseCount != 1 {
		t.Errorf("use count = %d, want 1", n.UseCount)
	}
	want := graph.DefaultConfidence + graph.DeltaReinforcement
	if n.Confidence != want {
		t.Errorf("confidence = %f, want %f", n.Confidence, want)
	}
}

func TestExtractionService_MergeSkipsUnresolvableEdges(t *testing.T) {
	store := graph.NewStore()
	svc := NewExtractionService(store, nil, nil, zap.NewNop())

	res, err := svc.Merge(context.Background(), &domain.ExtractionInput{
		Nodes: []domain.CandidateNode{{Type: "concept", Label: "go"}},
		Edges: []domain.CandidateEdge{
			{SourceLabel: "go", TargetLabel: "never extracted", Relation: "relates_to"},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.EdgesSkipped != 1 || res.EdgesAdded != 0 {
		t.Errorf("result = %+v, want edge skipped", res)
	}
}

func TestExtractionService_MergeRejectsInvalidInput(t *testing.T) {
	svc := NewExtractionService(graph.NewStore(), nil, nil, zap.NewNop())
	_, err := svc.Merge(context.Background(), &domain.ExtractionInput{
		Nodes: []domain.CandidateNode{{Type: "starship", Label: "x"}},
	})
	if err == nil {
		t.Error("invalid node type accepted")
	}
}

func TestExtractionService_ExtractAndMerge(t *testing.T) {
	store := graph.NewStore()
	mock := llm.NewMockClient()
	mock.ExtractResponse = &domain.ExtractionInput{
		Nodes: []domain.CandidateNode{{Type: "fact", Label: "user deploys on fridays"}},
	}
	svc := NewExtractionService(store, nil, mock, zap.NewNop())

	res, err := svc.ExtractAndMerge(context.Background(), &domain.Interaction{
		ID: "int-9", SessionID: "s", UserMessage: "we deploy fridays", AgentResponse: "noted",
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.NodesCreated != 1 {
		t.Errorf("result = %+v", res)
	}
	if len(mock.ExtractCalls) != 1 || mock.ExtractCalls[0].ID != "int-9" {
		t.Errorf("llm calls = %+v", mock.ExtractCalls)
	}
	n, _ := store.FindByLabel(domain.NodeFact, "user deploys on fridays")
	if n.Attributes[domain.AttrSource] != "int-9" {
		t.Errorf("source = %q, want interaction id", n.Attributes[domain.AttrSource])
	}
}
