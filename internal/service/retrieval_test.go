package service

import (
	"context"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

func TestComposite_Weights(t *testing.T) {
	now := time.Now()

	// Fresh, fully trusted, importance capped.
	got := composite(1, 1, now, now)
	if math.Abs(got-1) > 1e-9 {
		t.Errorf("max score = %f, want 1", got)
	}

	// Recency halves every 30 days.
	fresh := composite(0.5, 0, now, now)
	old := composite(0.5, 0, now.Add(-30*24*time.Hour), now)
	if math.Abs((fresh-old)-0.1) > 1e-6 {
		t.Errorf("recency drop = %f, want 0.1 after one half life", fresh-old)
	}

	// Higher confidence dominates a modest recency edge.
	if composite(0.9, 0, now.Add(-10*24*time.Hour), now) <= composite(0.4, 0, now, now) {
		t.Error("confidence should dominate recency")
	}
}

func TestRetrievalService_ReturnsActiveScoredItems(t *testing.T) {
	store := graph.NewStore()
	ranker := graph.NewRanker()
	vectors := newMemVectorIndex()
	mistakes := NewMistakeService(store, vectors, zap.NewNop())
	svc := NewRetrievalService(store, ranker, vectors, mistakes, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	blue, _ := store.UpsertNode(domain.NodeFact, "sky color is blue", 0.8, now)
	green, _ := store.UpsertNode(domain.NodeFact, "sky color is green", 0.3, now)
	_ = vectors.Index(ctx, graph.NodeCollection, blue.ID, blue.Label, nil)
	_ = vectors.Index(ctx, graph.NodeCollection, green.ID, green.Label, nil)
	ranker.Recompute(store)

	res, err := svc.Retrieve(ctx, "sky color", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 2 {
		t.Fatalf("items = %+v, want 2", res.Items)
	}
	if res.Items[0].NodeID != blue.ID {
		t.Errorf("top item = %s, want the higher-confidence claim", res.Items[0].Label)
	}

	// Retrieval reinforces what it returned.
	got, _ := store.Get(blue.ID)
	if got.UseCount != 1 {
		t.Errorf("use count = %d, want 1 after retrieval", got.UseCount)
	}
	if math.Abs(got.Confidence-(0.8+graph.DeltaReinforcement)) > 1e-9 {
		t.Errorf("confidence = %f, want reinforced", got.Confidence)
	}
}

func TestRetrievalService_SkipsDeprecatedNodes(t *testing.T) {
	store := graph.NewStore()
	ranker := graph.NewRanker()
	vectors := newMemVectorIndex()
	svc := NewRetrievalService(store, ranker, vectors, nil, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	n, _ := store.UpsertNode(domain.NodeFact, "sky color is green", 0.3, now)
	_ = vectors.Index(ctx, graph.NodeCollection, n.ID, n.Label, nil)
	_, _ = store.Update(n.ID, func(node *domain.Node) {
		node.Status = domain.StatusDeprecated
	})

	res, err := svc.Retrieve(ctx, "sky color", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Items) != 0 {
		t.Errorf("deprecated node retrieved: %+v", res.Items)
	}
}

func TestRetrievalService_AttachesMistakeWarnings(t *testing.T) {
	store := graph.NewStore()
	ranker := graph.NewRanker()
	vectors := newMemVectorIndex()
	mistakes := NewMistakeService(store, vectors, zap.NewNop())
	svc := NewRetrievalService(store, ranker, vectors, mistakes, zap.NewNop())
	ctx := context.Background()

	_, _ = mistakes.Record(ctx, &domain.Correction{
		WrongClaim:   "the capital of Australia is Sydney",
		CorrectClaim: "the capital of Australia is Canberra",
		Question:     "what is the capital of Australia",
	}, "", "")

	res, err := svc.Retrieve(ctx, "capital of Australia", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("warnings = %+v, want 1", res.Warnings)
	}
	if res.Warnings[0].CorrectAnswer != "the capital of Australia is Canberra" {
		t.Errorf("warning = %+v", res.Warnings[0])
	}
}

func TestRetrievalService_DegradesWhenVectorSearchFails(t *testing.T) {
	store := graph.NewStore()
	ranker := graph.NewRanker()
	vectors := newMemVectorIndex()
	mistakes := NewMistakeService(store, vectors, zap.NewNop())
	svc := NewRetrievalService(store, ranker, vectors, mistakes, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	n, _ := store.UpsertNode(domain.NodeFact, "sky color is blue", 0.8, now)
	_ = vectors.Index(ctx, graph.NodeCollection, n.ID, n.Label, nil)
	_, _ = mistakes.Record(ctx, &domain.Correction{
		WrongClaim:   "sky color is green",
		CorrectClaim: "sky color is blue",
		Question:     "what is the sky color",
	}, "", "")
	vectors.fail = true

	res, err := svc.Retrieve(ctx, "sky color", 5)
	if err != nil {
		t.Fatalf("broken index should degrade, not fail: %v", err)
	}
	if len(res.Items) != 0 {
		t.Errorf("items = %+v, want none from a broken index", res.Items)
	}
	if len(res.Warnings) == 0 {
		t.Error("degraded result lost its warnings")
	}
}

func TestRetrievalService_ExpandsOneHopNeighbors(t *testing.T) {
	store := graph.NewStore()
	ranker := graph.NewRanker()
	vectors := newMemVectorIndex()
	svc := NewRetrievalService(store, ranker, vectors, nil, zap.NewNop())
	ctx := context.Background()
	now := time.Now().UTC()

	seed, _ := store.UpsertNode(domain.NodeTechnology, "postgres powers the billing service", 0.8, now)
	linked, _ := store.UpsertNode(domain.NodeConcept, "connection pooling", 0.7, now)
	orphan, _ := store.UpsertNode(domain.NodeConcept, "unrelated trivia", 0.7, now)
	_, _ = store.AddEdge(seed.ID, linked.ID, domain.RelRelatesTo, 1, now)
	_ = vectors.Index(ctx, graph.NodeCollection, seed.ID, seed.Label, nil)
	ranker.Recompute(store)

	res, err := svc.Retrieve(ctx, "postgres powers the billing service", 5)
	if err != nil {
		t.Fatal(err)
	}
	byID := make(map[string]domain.RetrievalItem, len(res.Items))
	for _, item := range res.Items {
		byID[item.NodeID] = item
	}
	seedItem, ok := byID[seed.ID]
	if !ok {
		t.Fatal("seed hit missing from result")
	}
	linkedItem, ok := byID[linked.ID]
	if !ok {
		t.Fatal("1-hop neighbor missing from result")
	}
	if _, ok := byID[orphan.ID]; ok {
		t.Error("unlinked node surfaced without a hit")
	}
	if linkedItem.Similarity >= seedItem.Similarity {
		t.Errorf("neighbor similarity %f should be damped below seed %f",
			linkedItem.Similarity, seedItem.Similarity)
	}
}
