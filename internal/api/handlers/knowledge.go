package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// KnowledgeHandler covers the ingest and query surface: interactions,
// extractions, retrieval, mistakes.
type KnowledgeHandler struct {
	reflection *service.ReflectionService
	extraction *service.ExtractionService
	retrieval  *service.RetrievalService
	mistakes   *service.MistakeService
}

func NewKnowledgeHandler(reflection *service.ReflectionService, extraction *service.ExtractionService, retrieval *service.RetrievalService, mistakes *service.MistakeService) *KnowledgeHandler {
	return &KnowledgeHandler{
		reflection: reflection,
		extraction: extraction,
		retrieval:  retrieval,
		mistakes:   mistakes,
	}
}

type createInteractionRequest struct {
	SessionID     string `json:"session_id"`
	UserMessage   string `json:"user_message"`
	AgentResponse string `json:"agent_response"`
	Extract       bool   `json:"extract,omitempty"`
}

type createInteractionResponse struct {
	ID              string                    `json:"id"`
	Pending         int                       `json:"pending_interactions"`
	ReflectionArmed bool                      `json:"reflection_armed"`
	Warnings        []domain.MistakeWarning   `json:"warnings,omitempty"`
	Extraction      *service.ExtractionResult `json:"extraction,omitempty"`
}

// CreateInteraction records an exchange. With extract set, knowledge
// extraction runs inline and its result is returned.
func (h *KnowledgeHandler) CreateInteraction(w http.ResponseWriter, r *http.Request) {
	var req createInteractionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	interaction := &domain.Interaction{
		SessionID:     req.SessionID,
		UserMessage:   req.UserMessage,
		AgentResponse: req.AgentResponse,
	}
	if err := interaction.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pending, armed, err := h.reflection.RecordInteraction(r.Context(), interaction)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := createInteractionResponse{
		ID:              interaction.ID,
		Pending:         pending,
		ReflectionArmed: armed,
		Warnings:        h.mistakes.Check(r.Context(), req.UserMessage),
	}
	if req.Extract {
		extracted, err := h.extraction.ExtractAndMerge(r.Context(), interaction)
		if err != nil {
			// The interaction is recorded; extraction failing is
			// reported, not fatal.
			writeJSON(w, http.StatusCreated, map[string]any{
				"id":                   interaction.ID,
				"pending_interactions": pending,
				"reflection_armed":     armed,
				"warnings":             resp.Warnings,
				"extraction_error":     err.Error(),
			})
			return
		}
		resp.Extraction = extracted
	}
	writeJSON(w, http.StatusCreated, resp)
}

// CreateExtraction merges a pre-built extraction batch.
func (h *KnowledgeHandler) CreateExtraction(w http.ResponseWriter, r *http.Request) {
	var input domain.ExtractionInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(input.Nodes) == 0 && len(input.Edges) == 0 {
		writeError(w, http.StatusBadRequest, "extraction carries no nodes or edges")
		return
	}

	res, err := h.extraction.Merge(r.Context(), &input)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Retrieve answers a query with scored items and mistake warnings.
func (h *KnowledgeHandler) Retrieve(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if query == "" {
		writeError(w, http.StatusBadRequest, "q is required")
		return
	}
	topK := 0
	if raw := r.URL.Query().Get("top_k"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "top_k must be a positive integer")
			return
		}
		topK = parsed
	}

	res, err := h.retrieval.Retrieve(r.Context(), query, topK)
	if err != nil {
		if errors.Is(err, domain.ErrCollaboratorTimeout) {
			writeError(w, http.StatusGatewayTimeout, "retrieval collaborator timed out")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ListMistakes returns recorded mistakes, filtered by query when
// given.
func (h *KnowledgeHandler) ListMistakes(w http.ResponseWriter, r *http.Request) {
	nodes, err := h.mistakes.List(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	type mistake struct {
		NodeID        string `json:"node_id"`
		WrongAnswer   string `json:"wrong_answer"`
		CorrectAnswer string `json:"correct_answer"`
		Question      string `json:"question,omitempty"`
	}
	out := make([]mistake, 0, len(nodes))
	for _, n := range nodes {
		m := mistake{
			NodeID:        n.ID,
			WrongAnswer:   n.Attributes[domain.AttrWrongClaim],
			CorrectAnswer: n.Attributes[domain.AttrCorrectClaim],
			Question:      n.Attributes[domain.AttrQuestion],
		}
		if m.WrongAnswer == "" {
			m.WrongAnswer = n.DisplayLabel()
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{"mistakes": out})
}
