package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skiffhost/engine/internal/api/types"
	"github.com/skiffhost/engine/internal/repository"
)

// ResourcesHandler exposes the resource directory read-only; rows are
// written by the external provisioning component.
type ResourcesHandler struct {
	repo repository.ResourceRepository
}

func NewResourcesHandler(repo repository.ResourceRepository) *ResourcesHandler {
	return &ResourcesHandler{repo: repo}
}

func (h *ResourcesHandler) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid project id")
		return
	}
	items, err := h.repo.ListActiveByProject(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}
