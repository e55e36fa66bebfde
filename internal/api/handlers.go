package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/shehryarbajwa/flowreel/internal/assemble"
	"github.com/shehryarbajwa/flowreel/internal/batch"
	"github.com/shehryarbajwa/flowreel/internal/logger"
	"github.com/shehryarbajwa/flowreel/internal/orchestrator"
	"github.com/shehryarbajwa/flowreel/pkg/models"
)

// Batches is the batch service the handlers drive
type Batches interface {
	Create(ctx context.Context, req models.CreateBatchRequest) (*models.Batch, error)
	Get(id string) (*models.Batch, error)
	List() []*models.Batch
	StartRun(id string) error
	Regenerate(id string, index int) error
	Delete(ctx context.Context, id string, index int) (*models.Scene, error)
	Assemble(ctx context.Context, id string) (string, error)
	Screenshot(ctx context.Context, id string) ([]byte, error)
	ExportCookies(ctx context.Context, id string) (*models.CookieSnapshot, error)
	WorkspaceOf(id string) string
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	batches Batches
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(batches Batches, log *slog.Logger) *Handler {
	return &Handler{
		batches: batches,
		logger:  logger.OrDefault(log),
	}
}

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, batch.ErrBatchNotFound), errors.Is(err, orchestrator.ErrSceneNotFound):
		return http.StatusNotFound
	case errors.Is(err, batch.ErrBatchBusy), errors.Is(err, batch.ErrNoSession):
		return http.StatusConflict
	case errors.Is(err, batch.ErrInvalidRequest), errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, assemble.ErrNoInputs):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func sceneIndex(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["index"])
}

// CreateBatch handles POST /v1/batches
func (h *Handler) CreateBatch(w http.ResponseWriter, r *http.Request) {
	var req models.CreateBatchRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	b, err := h.batches.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, b)
}

// GetBatch handles GET /v1/batches/{id}
func (h *Handler) GetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := h.batches.Get(mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, b)
}

// ListBatches handles GET /v1/batches
func (h *Handler) ListBatches(w http.ResponseWriter, r *http.Request) {
	state := models.BatchState(r.URL.Query().Get("state"))

	out := []*models.Batch{}
	for _, b := range h.batches.List() {
		if state != "" && b.State != state {
			continue
		}
		out = append(out, b)
	}

	writeJSON(w, http.StatusOK, out)
}

// RunBatch handles POST /v1/batches/{id}/run
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if err := h.batches.StartRun(id); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "running"})
}

// RegenerateScene handles POST /v1/batches/{id}/scenes/{index}/regenerate
func (h *Handler) RegenerateScene(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	index, err := sceneIndex(r)
	if err != nil {
		http.Error(w, "Invalid scene index", http.StatusBadRequest)
		return
	}

	if err := h.batches.Regenerate(id, index); err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"id": id, "scene": index, "status": "regenerating"})
}

// DeleteScene handles DELETE /v1/batches/{id}/scenes/{index}
func (h *Handler) DeleteScene(w http.ResponseWriter, r *http.Request) {
	index, err := sceneIndex(r)
	if err != nil {
		http.Error(w, "Invalid scene index", http.StatusBadRequest)
		return
	}

	removed, err := h.batches.Delete(r.Context(), mux.Vars(r)["id"], index)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, removed)
}

// AssembleBatch handles POST /v1/batches/{id}/assemble
func (h *Handler) AssembleBatch(w http.ResponseWriter, r *http.Request) {
	path, err := h.batches.Assemble(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"finalVideo": path})
}

// GetScreenshot handles GET /v1/batches/{id}/screenshot
func (h *Handler) GetScreenshot(w http.ResponseWriter, r *http.Request) {
	png, err := h.batches.Screenshot(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	// Return PNG image
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Write(png)
}

// ExportCookies handles POST /v1/batches/{id}/cookies/export
func (h *Handler) ExportCookies(w http.ResponseWriter, r *http.Request) {
	snap, err := h.batches.ExportCookies(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, snap)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
