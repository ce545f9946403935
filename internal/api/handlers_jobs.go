package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"mediavault/internal/jobstore"
	"mediavault/internal/models"
	"mediavault/internal/runtime"
)

func (s *server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter jobstore.Filter
	if raw := q.Get("status"); raw != "" {
		status := models.JobStatus(raw)
		filter.Status = &status
	}
	if raw := q.Get("type"); raw != "" {
		jobType := raw
		filter.Type = &jobType
	}

	items, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("list jobs")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to list jobs", nil)
		return
	}
	if items == nil {
		items = []models.Job{}
	}
	writeJSON(w, http.StatusOK, models.JobsListResponse{Items: items})
}

func (s *server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	job, err := s.jobs.Get(r.Context(), jobID)
	if errors.Is(err, jobstore.ErrNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, "job not found", map[string]any{"jobId": jobID})
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("get job")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to load job", nil)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	err := s.rt.Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, runtime.ErrUnknownJob):
		writeError(w, http.StatusNotFound, codeNotFound, "job not found", map[string]any{"jobId": jobID})
	case errors.Is(err, runtime.ErrJobFinished):
		writeError(w, http.StatusConflict, codeJobFinished, "job already reached a terminal state", map[string]any{"jobId": jobID})
	case err != nil:
		s.log.Error().Err(err).Str("job_id", jobID).Msg("cancel job")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to cancel job", nil)
	default:
		w.WriteHeader(http.StatusAccepted)
	}
}

func (s *server) handleDeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	err := s.rt.Delete(r.Context(), jobID)
	switch {
	case errors.Is(err, runtime.ErrUnknownJob):
		writeError(w, http.StatusNotFound, codeNotFound, "job not found", map[string]any{"jobId": jobID})
	case errors.Is(err, runtime.ErrJobActive):
		writeError(w, http.StatusConflict, codeJobActive, "job is still running", map[string]any{"jobId": jobID})
	case err != nil:
		s.log.Error().Err(err).Str("job_id", jobID).Msg("delete job")
		writeError(w, http.StatusInternalServerError, codeInternal, "failed to delete job", nil)
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}
