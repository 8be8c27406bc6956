package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/florian-lahitte-uvi/Test-stripe/internal/logger"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/models"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/store"
	"github.com/florian-lahitte-uvi/Test-stripe/internal/worker"
)

// JobStore defines the read side of the job queue used by the ops endpoints
type JobStore interface {
	GetByID(ctx context.Context, id int64) (*models.Job, error)
	GetStats(ctx context.Context) (*models.JobStats, error)
	ListPendingJobs(ctx context.Context, limit int) ([]*models.Job, error)
}

// WorkerStats reports in-process worker counters.
type WorkerStats interface {
	GetStats() worker.Stats
}

// GetJob retrieves a job by ID
func GetJob(jobStore JobStore, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeJSON(w, log, http.StatusBadRequest, errorResponse{Error: "invalid job ID"})
			return
		}

		job, err := jobStore.GetByID(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				writeJSON(w, log, http.StatusNotFound, errorResponse{Error: "job not found"})
				return
			}
			log.Errorw("failed to get job", "job_id", jobID, "error", err)
			writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "failed to retrieve job"})
			return
		}

		writeJSON(w, log, http.StatusOK, job)
	}
}

// GetJobStats returns queue statistics, plus this process's worker counters when available
func GetJobStats(jobStore JobStore, ws WorkerStats, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := jobStore.GetStats(r.Context())
		if err != nil {
			log.Errorw("failed to get job stats", "error", err)
			writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "failed to retrieve job statistics"})
			return
		}

		resp := map[string]any{"queue": stats}
		if ws != nil {
			resp["worker"] = ws.GetStats()
		}
		writeJSON(w, log, http.StatusOK, resp)
	}
}

// ListPendingJobs returns pending jobs
func ListPendingJobs(jobStore JobStore, log *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 100
		if l, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && l > 0 && l <= 1000 {
			limit = l
		}

		jobs, err := jobStore.ListPendingJobs(r.Context(), limit)
		if err != nil {
			log.Errorw("failed to list pending jobs", "error", err)
			writeJSON(w, log, http.StatusInternalServerError, errorResponse{Error: "failed to retrieve jobs"})
			return
		}

		writeJSON(w, log, http.StatusOK, map[string]any{
			"jobs":  jobs,
			"count": len(jobs),
		})
	}
}

// JobHandler holds dependencies for job handlers
type JobHandler struct {
	Store  JobStore
	Worker WorkerStats
	log    *logger.Logger
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(store JobStore, ws WorkerStats, log *logger.Logger) *JobHandler {
	return &JobHandler{Store: store, Worker: ws, log: log.Named("http.jobs")}
}

// RegisterRoutes registers job handlers with the router
func (h *JobHandler) RegisterRoutes(router chi.Router) {
	router.Get("/api/jobs/stats", GetJobStats(h.Store, h.Worker, h.log))
	router.Get("/api/jobs/pending", ListPendingJobs(h.Store, h.log))
	router.Get("/api/jobs/{id}", GetJob(h.Store, h.log))
}
