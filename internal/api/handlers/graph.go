package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
)

type GraphHandler struct {
	store  *graph.Store
	ranker *graph.Ranker
}

func NewGraphHandler(store *graph.Store, ranker *graph.Ranker) *GraphHandler {
	return &GraphHandler{store: store, ranker: ranker}
}

type nodeResponse struct {
	*domain.Node
	DisplayLabel string  `json:"display_label"`
	Importance   float64 `json:"importance"`
}

func (h *GraphHandler) nodeResponse(n *domain.Node) nodeResponse {
	return nodeResponse{
		Node:         n,
		DisplayLabel: n.DisplayLabel(),
		Importance:   h.ranker.Score(n.ID),
	}
}

func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	node, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.nodeResponse(node))
}

type neighborsResponse struct {
	Edges []*domain.Edge `json:"edges"`
	Nodes []nodeResponse `json:"nodes"`
}

func (h *GraphHandler) Neighbors(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	edges, nodes, err := h.store.Neighbors(id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := neighborsResponse{Edges: edges}
	for _, n := range nodes {
		resp.Nodes = append(resp.Nodes, h.nodeResponse(n))
	}
	writeJSON(w, http.StatusOK, resp)
}

type confidenceRequest struct {
	Op string `json:"op"`
}

// AdjustConfidence applies a named confidence operation to a node:
// reinforce, confirm, or correct.
func (h *GraphHandler) AdjustConfidence(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req confidenceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	now := time.Now().UTC()
	var apply func(*domain.Node) error
	switch req.Op {
	case "reinforce":
		apply = func(n *domain.Node) error {
			graph.Reinforce(n, now)
			return nil
		}
	case "confirm":
		apply = func(n *domain.Node) error { return graph.Confirm(n, now) }
	case "correct":
		apply = func(n *domain.Node) error { return graph.Correct(n, now) }
	default:
		writeError(w, http.StatusBadRequest, "op must be one of: reinforce, confirm, correct")
		return
	}

	node, err := h.store.Apply(id, apply)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "node not found")
			return
		}
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.nodeResponse(node))
}

type createEdgeRequest struct {
	Source   string  `json:"source"`
	Target   string  `json:"target"`
	Relation string  `json:"relation"`
	Weight   float64 `json:"weight,omitempty"`
}

func (h *GraphHandler) CreateEdge(w http.ResponseWriter, r *http.Request) {
	var req createEdgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !domain.ValidRelationType(req.Relation) {
		writeError(w, http.StatusBadRequest, "unknown relation type")
		return
	}
	weight := req.Weight
	if weight == 0 {
		weight = 1
	}

	edge, err := h.store.AddEdge(req.Source, req.Target, domain.RelationType(req.Relation), weight, time.Now().UTC())
	if err != nil {
		if errors.Is(err, domain.ErrIntegrity) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (h *GraphHandler) Stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Stats())
}

func (h *GraphHandler) Top(w http.ResponseWriter, r *http.Request) {
	n := 10
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "n must be a positive integer")
			return
		}
		n = parsed
	}
	writeJSON(w, http.StatusOK, h.ranker.Top(h.store, n))
}
