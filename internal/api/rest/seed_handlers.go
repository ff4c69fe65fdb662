package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/grimm00/pokedex-sub002/internal/jobs"
	"github.com/grimm00/pokedex-sub002/internal/scheduler"
)

// SeedJobs is the job queue behind /api/v1/seed. *jobs.Service implements it.
type SeedJobs interface {
	Enqueue(ctx context.Context, req jobs.Request) (*jobs.Job, error)
	Get(jobID string) (*jobs.Job, error)
	Cancel(jobID string) (*jobs.Job, error)
	GetStatus(ctx context.Context) (*jobs.StatusSummary, error)
}

// SchedulerStatus reports the refresh scheduler. *scheduler.Orchestrator
// implements it.
type SchedulerStatus interface {
	GetStatus() scheduler.Status
}

// SeedHandler proxies API calls to the seed job service.
type SeedHandler struct {
	service   SeedJobs
	scheduler SchedulerStatus
}

// NewSeedHandler wires the REST layer to the job service. sched may be nil.
func NewSeedHandler(service SeedJobs, sched SchedulerStatus) *SeedHandler {
	return &SeedHandler{service: service, scheduler: sched}
}

type apiSeedRequest struct {
	StartID    int   `json:"start_id"`
	EndID      int   `json:"end_id"`
	Generation int   `json:"generation"`
	All        bool  `json:"all"`
	IDs        []int `json:"ids"`
	ID         int   `json:"id"`
	BatchSize  int   `json:"batch_size"`
	Force      bool  `json:"force"`
}

// HandleSeedRequest handles POST /api/v1/seed
func (h *SeedHandler) HandleSeedRequest(w http.ResponseWriter, r *http.Request) {
	var req apiSeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	seedReq := jobs.Request{
		StartID:    req.StartID,
		EndID:      req.EndID,
		Generation: req.Generation,
		All:        req.All,
		BatchSize:  req.BatchSize,
		Force:      req.Force,
		Source:     "api",
	}
	if len(req.IDs) > 0 {
		seedReq.IDs = append(seedReq.IDs, req.IDs...)
	}
	if req.ID != 0 {
		seedReq.IDs = append(seedReq.IDs, req.ID)
	}

	job, err := h.service.Enqueue(r.Context(), seedReq)
	if err != nil {
		if errors.Is(err, jobs.ErrQueueFull) {
			respondError(w, http.StatusServiceUnavailable, "Seed queue is full", err)
			return
		}
		respondError(w, http.StatusBadRequest, "Failed to enqueue seed job", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job": job,
	})
}

// HandleSeedStatus handles GET /api/v1/seed/status
func (h *SeedHandler) HandleSeedStatus(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetStatus(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to fetch status", err)
		return
	}

	payload := buildStatusPayload(summary)
	if h.scheduler != nil {
		payload["scheduler"] = h.scheduler.GetStatus()
	}
	respondJSON(w, http.StatusOK, payload)
}

// HandleGetJob handles GET /api/v1/seed/jobs/{jobID}
func (h *SeedHandler) HandleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Get(mux.Vars(r)["jobID"])
	if err != nil {
		respondError(w, http.StatusNotFound, "Job not found", err)
		return
	}

	respondJSON(w, http.StatusOK, job)
}

// HandleCancelJob handles DELETE /api/v1/seed/jobs/{jobID}
func (h *SeedHandler) HandleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.service.Cancel(mux.Vars(r)["jobID"])
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		respondError(w, http.StatusNotFound, "Job not found", err)
		return
	case errors.Is(err, jobs.ErrJobFinished):
		respondError(w, http.StatusConflict, "Job already finished", err)
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, "Failed to cancel job", err)
		return
	}

	respondJSON(w, http.StatusAccepted, map[string]any{
		"job": job,
	})
}

func buildStatusPayload(summary *jobs.StatusSummary) map[string]any {
	response := map[string]any{
		"status":      "idle",
		"message":     "No active jobs",
		"queued":      summary.Queued,
		"recent_jobs": summary.History,
	}

	if summary.ActiveJob != nil {
		response["status"] = summary.ActiveJob.Status
		if summary.ActiveJob.StatusMessage != "" {
			response["message"] = summary.ActiveJob.StatusMessage
		}
		response["active_job"] = summary.ActiveJob
	}

	return response
}
