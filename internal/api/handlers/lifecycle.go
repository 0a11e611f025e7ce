package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/mnemo-ai/mnemo/internal/domain"
	"github.com/mnemo-ai/mnemo/internal/graph"
	"github.com/mnemo-ai/mnemo/internal/service"
)

// LifecycleHandler exposes the maintenance, reflection and snapshot
// operations.
type LifecycleHandler struct {
	store      *graph.Store
	maintainer *graph.Maintainer
	reflection *service.ReflectionService
}

func NewLifecycleHandler(store *graph.Store, maintainer *graph.Maintainer, reflection *service.ReflectionService) *LifecycleHandler {
	return &LifecycleHandler{
		store:      store,
		maintainer: maintainer,
		reflection: reflection,
	}
}

// RunMaintenance triggers one maintenance pass inline.
func (h *LifecycleHandler) RunMaintenance(w http.ResponseWriter, r *http.Request) {
	res, err := h.maintainer.Run(r.Context(), time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// RunReflection triggers a reflection cycle. The force query
// parameter bypasses the interaction threshold.
func (h *LifecycleHandler) RunReflection(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"
	res, err := h.reflection.Run(r.Context(), force)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			writeError(w, http.StatusConflict, "reflection already running")
			return
		}
		if errors.Is(err, domain.ErrCollaboratorMalformed) || errors.Is(err, domain.ErrCollaboratorTimeout) {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// ReflectionState reports where the pipeline currently is.
func (h *LifecycleHandler) ReflectionState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"state": h.reflection.State()})
}

// GetSnapshot returns the graph as a snapshot document.
func (h *LifecycleHandler) GetSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.store.Snapshot(time.Now().UTC()))
}
