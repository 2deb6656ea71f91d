package handlers

import (
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/skiffhost/engine/internal/api/types"
	"github.com/skiffhost/engine/internal/services"
)

// maxDeploymentUploadBytes bounds one multipart deployment submission.
const maxDeploymentUploadBytes = 256 << 20

type DeploymentsHandler struct {
	svc services.DeploymentService
}

func NewDeploymentsHandler(svc services.DeploymentService) *DeploymentsHandler {
	return &DeploymentsHandler{svc: svc}
}

// Create accepts one deployment package as multipart form data:
// manifest (JSON text), bundle (zip, required), source_archive / assets /
// schema (optional files), secrets (JSON text), source (free-text
// provenance). Validation failures return the full error list before any
// remote side effect.
func (h *DeploymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid project id")
		return
	}

	if err := r.ParseMultipartForm(maxDeploymentUploadBytes); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid multipart form")
		return
	}

	input := &services.CreateDeploymentInput{
		Manifest:         []byte(r.FormValue(types.FormFieldManifest)),
		SourceDescriptor: r.FormValue(types.FormFieldSource),
	}
	if raw := r.FormValue(types.FormFieldSecrets); raw != "" {
		if err := json.Unmarshal([]byte(raw), &input.Secrets); err != nil {
			writeErrorStr(w, http.StatusBadRequest, "secrets must be a JSON object of string to string")
			return
		}
	}

	for _, f := range []struct {
		field string
		dest  *[]byte
	}{
		{types.FormFileBundle, &input.Bundle},
		{types.FormFileSource, &input.Source},
		{types.FormFileAssets, &input.Assets},
		{types.FormFileSchema, &input.Schema},
	} {
		data, err := readFormFile(r, f.field)
		if err != nil {
			writeErrorStr(w, http.StatusBadRequest, "read uploaded file "+f.field+" failed")
			return
		}
		*f.dest = data
	}

	d, err := h.svc.CreateDeployment(r.Context(), projectID, input)
	if err != nil {
		// A finalized failed record still comes back so the caller can
		// inspect the stored error message.
		if d != nil {
			writeJSON(w, types.StatusForError(err), types.APIResponse{
				Success: false,
				Data:    d,
				Error:   types.FromAppError(err),
			})
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid deployment id")
		return
	}
	d, err := h.svc.GetDeployment(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: d})
}

func (h *DeploymentsHandler) ListByProject(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeErrorStr(w, http.StatusBadRequest, "invalid project id")
		return
	}
	items, err := h.svc.ListDeployments(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true, Data: items})
}

func readFormFile(r *http.Request, field string) ([]byte, error) {
	file, _, err := r.FormFile(field)
	if err != nil {
		if err == http.ErrMissingFile {
			return nil, nil
		}
		return nil, err
	}
	defer func(f multipart.File) { _ = f.Close() }(file)
	return io.ReadAll(file)
}
