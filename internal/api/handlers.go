package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/amazon-review-harvester/internal/database"
	"github.com/maltedev/amazon-review-harvester/internal/jobs"
)

// OutboxStats reports the event backlog for the health check.
type OutboxStats interface {
	Stats(ctx context.Context) (database.OutboxStats, error)
}

type Handlers struct {
	jobs        *jobs.Manager
	outbox      OutboxStats
	datasetPath string
	logger      *slog.Logger
}

// NewHandlers wires the API to the job manager. outbox may be nil when the
// relay is disabled.
func NewHandlers(manager *jobs.Manager, outbox OutboxStats, datasetPath string, logger *slog.Logger) *Handlers {
	return &Handlers{
		jobs:        manager,
		outbox:      outbox,
		datasetPath: datasetPath,
		logger:      logger.With("component", "api"),
	}
}

type CreateHarvestRequest struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
}

type DatasetResponse struct {
	Path    string   `json:"path"`
	Rows    int      `json:"rows"`
	Header  []string `json:"header"`
	Running bool     `json:"harvest_running"`
}

// Health reports ok, degrading to warning or error when the outbox backs up.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":          "ok",
		"harvest_running": h.jobs.Running(),
	}
	status := http.StatusOK

	if h.outbox != nil {
		stats, err := h.outbox.Stats(r.Context())
		switch {
		case err != nil:
			h.logger.Warn("failed to read outbox stats", "error", err)
			health["status"] = "warning"
			health["message"] = "outbox stats unavailable"
		default:
			health["outbox"] = stats
			if stats.Pending > 1000 {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if stats.DeadLetter > 100 {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

// CreateHarvest starts a harvest over the requested search pages.
func (h *Handlers) CreateHarvest(w http.ResponseWriter, r *http.Request) {
	var req CreateHarvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.StartPage < 1 {
		h.respondError(w, http.StatusBadRequest, "start_page must be at least 1")
		return
	}

	job, err := h.jobs.Submit(req.StartPage, req.EndPage)
	switch {
	case errors.Is(err, jobs.ErrHarvestRunning):
		h.respondError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, jobs.ErrInvalidRange):
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		h.logger.Error("failed to submit harvest", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to submit harvest")
		return
	}

	h.respondJSON(w, http.StatusAccepted, job)
}

func (h *Handlers) GetHarvest(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.Get(jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListHarvests(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	ds := h.jobs.Dataset()
	h.respondJSON(w, http.StatusOK, DatasetResponse{
		Path:    h.datasetPath,
		Rows:    ds.Len(),
		Header:  ds.Header(),
		Running: h.jobs.Running(),
	})
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
