package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/embedding"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/llm"
	"github.com/mnemo-ai/mnemo/internal/store"
)

type testApp struct {
	*App
	store *graph.Store
	llm   *llm.MockClient
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()

	db, err := store.OpenMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	snapshots, err := store.NewFileSnapshotStore(t.TempDir())
	require.NoError(t, err)
	journal, err := store.NewFileJournal(t.TempDir())
	require.NoError(t, err)

	graphStore := graph.NewStore()
	mock := llm.NewMockClient()

	app := NewApp(Deps{
		Store:        graphStore,
		Ranker:       graph.NewRanker(),
		Vectors:      store.NewSQLiteVectorIndex(db, embedding.NewMockClient()),
		Interactions: store.NewInteractionStore(db),
		Snapshots:    snapshots,
		Journal:      journal,
		LLM:          mock,
	}, zap.NewNop())

	return &testApp{App: app, store: graphStore, llm: mock}
}

func (a *testApp) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	a.Router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
}

func TestMetrics(t *testing.T) {
	app := newTestApp(t)
	app.do(t, http.MethodGet, "/health", nil)
	rec := app.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.GreaterOrEqual(t, body["request_count"].(float64), float64(1))
}

func TestCreateExtractionAndGetNode(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/v1/extractions", domain.ExtractionInput{
		Nodes: []domain.CandidateNode{
			{Type: "technology", Label: "PostgreSQL", Confidence: 0.7},
			{Type: "concept", Label: "database"},
		},
		Edges: []domain.CandidateEdge{
			{SourceLabel: "PostgreSQL", TargetLabel: "database", Relation: "is_a"},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	res := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(2), res["nodes_created"])
	assert.Equal(t, float64(1), res["edges_added"])

	node, ok := app.store.FindByLabel(domain.NodeTechnology, "PostgreSQL")
	require.True(t, ok)

	rec = app.do(t, http.MethodGet, "/v1/nodes/"+node.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, "PostgreSQL", body["display_label"])
	assert.Equal(t, 0.7, body["confidence"])
}

func TestCreateExtractionRejectsEmptyBatch(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodPost, "/v1/extractions", domain.ExtractionInput{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateExtractionRejectsUnknownType(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodPost, "/v1/extractions", domain.ExtractionInput{
		Nodes: []domain.CandidateNode{{Type: "galaxy", Label: "andromeda"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNodeNotFound(t *testing.T) {
	app := newTestApp(t)
	rec := app.do(t, http.MethodGet, "/v1/nodes/no-such-id", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestNeighbors(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	a, _ := app.store.UpsertNode(domain.NodeConcept, "caching", 0.6, now)
	b, _ := app.store.UpsertNode(domain.NodeTechnology, "redis", 0.6, now)
	_, err := app.store.AddEdge(b.ID, a.ID, domain.RelUsedIn, 1, now)
	require.NoError(t, err)

	rec := app.do(t, http.MethodGet, "/v1/nodes/"+a.ID+"/neighbors", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Edges []domain.Edge    `json:"edges"`
		Nodes []map[string]any `json:"nodes"`
	}](t, rec)
	require.Len(t, body.Edges, 1)
	require.Len(t, body.Nodes, 1)
	assert.Equal(t, b.ID, body.Nodes[0]["id"])
}

func TestAdjustConfidence(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	n, _ := app.store.UpsertNode(domain.NodeFact, "the sky is blue", 0.5, now)

	rec := app.do(t, http.MethodPost, "/v1/nodes/"+n.ID+"/confidence", map[string]string{"op": "confirm"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.InDelta(t, 0.7, body["confidence"].(float64), 1e-9)

	rec = app.do(t, http.MethodPost, "/v1/nodes/"+n.ID+"/confidence", map[string]string{"op": "correct"})
	require.Equal(t, http.StatusOK, rec.Code)
	body = decodeBody[map[string]any](t, rec)
	assert.InDelta(t, 0.3, body["confidence"].(float64), 1e-9)

	rec = app.do(t, http.MethodPost, "/v1/nodes/"+n.ID+"/confidence", map[string]string{"op": "forget"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdjustConfidenceOnDeprecatedNode(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	n, _ := app.store.UpsertNode(domain.NodeFact, "retired claim", 0.02, now)
	_, err := app.store.Update(n.ID, func(node *domain.Node) {
		node.Status = domain.StatusDeprecated
	})
	require.NoError(t, err)

	for _, op := range []string{"confirm", "correct"} {
		rec := app.do(t, http.MethodPost, "/v1/nodes/"+n.ID+"/confidence", map[string]string{"op": op})
		assert.Equal(t, http.StatusConflict, rec.Code, op)
	}

	// Reinforce is the one operation a deprecated node accepts.
	rec := app.do(t, http.MethodPost, "/v1/nodes/"+n.ID+"/confidence", map[string]string{"op": "reinforce"})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, string(domain.StatusActive), body["status"])
}

func TestCreateEdgeValidation(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	a, _ := app.store.UpsertNode(domain.NodeConcept, "a", 0.5, now)

	rec := app.do(t, http.MethodPost, "/v1/edges", map[string]any{
		"source": a.ID, "target": "missing", "relation": "relates_to",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = app.do(t, http.MethodPost, "/v1/edges", map[string]any{
		"source": a.ID, "target": a.ID, "relation": "not_a_relation",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieve(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/v1/extractions", domain.ExtractionInput{
		Nodes: []domain.CandidateNode{
			{Type: "preference", Label: "user prefers tabs over spaces", Confidence: 0.8},
		},
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/retrieve?q=user+prefers+tabs+over+spaces", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	res := decodeBody[domain.RetrievalResult](t, rec)
	require.NotEmpty(t, res.Items)
	assert.Equal(t, "user prefers tabs over spaces", res.Items[0].Label)

	rec = app.do(t, http.MethodGet, "/v1/retrieve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/retrieve?q=x&top_k=zero", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInteraction(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id":     "s1",
		"user_message":   "what port does postgres use",
		"agent_response": "5432 by default",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, float64(1), body["pending_interactions"])
	assert.Equal(t, false, body["reflection_armed"])

	rec = app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id": "s1",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateInteractionWithInlineExtraction(t *testing.T) {
	app := newTestApp(t)
	app.llm.ExtractResponse = &domain.ExtractionInput{
		Nodes: []domain.CandidateNode{{Type: "fact", Label: "postgres listens on 5432", Confidence: 0.6}},
	}

	rec := app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id":     "s1",
		"user_message":   "what port does postgres use",
		"agent_response": "5432 by default",
		"extract":        true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	extraction, ok := body["extraction"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(1), extraction["nodes_created"])
	require.Len(t, app.llm.ExtractCalls, 1)
}

func TestReflectionStateAndForceRun(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodGet, "/v1/reflection/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "idle", decodeBody[map[string]string](t, rec)["state"])

	rec = app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id":     "s1",
		"user_message":   "hello",
		"agent_response": "hi",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	app.llm.SynthesizeResponse = &domain.SessionSynthesis{
		QualityScore: 0.8,
		Summary:      "short session",
		Learnings: []domain.Learning{
			{Claim: "user greets in english", ConfidenceDelta: 0.1},
		},
	}

	rec = app.do(t, http.MethodPost, "/v1/reflection/run?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(1), body["interaction_count"])

	rec = app.do(t, http.MethodGet, "/v1/reflection/state", nil)
	assert.Equal(t, "idle", decodeBody[map[string]string](t, rec)["state"])
}

func TestRunMaintenance(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	app.store.UpsertNode(domain.NodeConcept, "caching", 0.6, now)

	rec := app.do(t, http.MethodPost, "/v1/maintenance/run", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.NotEmpty(t, body["pass_id"])
}

func TestGraphStatsAndTop(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	hub, _ := app.store.UpsertNode(domain.NodeTechnology, "kubernetes", 0.9, now)
	for i := 0; i < 3; i++ {
		leaf, _ := app.store.UpsertNode(domain.NodeConcept, fmt.Sprintf("leaf %d", i), 0.5, now)
		_, err := app.store.AddEdge(leaf.ID, hub.ID, domain.RelRelatesTo, 1, now)
		require.NoError(t, err)
	}
	app.Maintainer.Run(context.Background(), now)

	rec := app.do(t, http.MethodGet, "/v1/graph/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decodeBody[map[string]any](t, rec)
	assert.Equal(t, float64(4), stats["nodes"])

	rec = app.do(t, http.MethodGet, "/v1/graph/top?n=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	top := decodeBody[[]map[string]any](t, rec)
	require.Len(t, top, 1)
	assert.Equal(t, hub.ID, top[0]["node_id"])
}

func TestMistakesEndpoint(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id":     "s1",
		"user_message":   "what is the capital of australia",
		"agent_response": "sydney",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	app.llm.SynthesizeResponse = &domain.SessionSynthesis{
		QualityScore: 0.9,
		Summary:      "corrected a capital city mistake",
		Corrections: []domain.Correction{{
			WrongClaim:   "the capital of australia is sydney",
			CorrectClaim: "the capital of australia is canberra",
			Question:     "what is the capital of australia",
		}},
	}
	rec = app.do(t, http.MethodPost, "/v1/reflection/run?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodGet, "/v1/mistakes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string][]map[string]any](t, rec)
	require.NotEmpty(t, body["mistakes"])
	assert.Equal(t, "the capital of australia is canberra", body["mistakes"][0]["correct_answer"])
}

func TestCreateInteractionSurfacesWarnings(t *testing.T) {
	app := newTestApp(t)

	rec := app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id":     "s1",
		"user_message":   "what is the capital of australia",
		"agent_response": "sydney",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	app.llm.SynthesizeResponse = &domain.SessionSynthesis{
		QualityScore: 0.9,
		Summary:      "corrected a capital city mistake",
		Corrections: []domain.Correction{{
			WrongClaim:   "the capital of australia is sydney",
			CorrectClaim: "the capital of australia is canberra",
			Question:     "what is the capital of australia",
		}},
	}
	rec = app.do(t, http.MethodPost, "/v1/reflection/run?force=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = app.do(t, http.MethodPost, "/v1/interactions", map[string]any{
		"session_id":     "s2",
		"user_message":   "what is the capital of australia",
		"agent_response": "let me check",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody[struct {
		Warnings []domain.MistakeWarning `json:"warnings"`
	}](t, rec)
	require.NotEmpty(t, body.Warnings)
	assert.Equal(t, "the capital of australia is canberra", body.Warnings[0].CorrectAnswer)
}

func TestSnapshotEndpoint(t *testing.T) {
	app := newTestApp(t)
	now := time.Now().UTC()
	app.store.UpsertNode(domain.NodeConcept, "caching", 0.6, now)

	rec := app.do(t, http.MethodGet, "/v1/snapshot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decodeBody[domain.Snapshot](t, rec)
	assert.Equal(t, domain.SnapshotVersion, snap.Version)
	assert.Len(t, snap.Nodes, 1)
}
