package queueapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/jobflow/queue"
)

// listResponse is the shared envelope for paginated listings.
type listResponse struct {
	Items   any `json:"items"`
	Total   int `json:"total"`
	Page    int `json:"page"`
	PerPage int `json:"per_page"`
}

// listQueues handles GET /queues.
func (s *Server) listQueues(w http.ResponseWriter, r *http.Request) {
	stats, err := s.admin.AllQueueStats(r.Context())
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"queues": stats})
}

// listJobs handles GET /queues/{queue}/jobs?status=&page=&per_page=.
func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	status := queue.Status(r.URL.Query().Get("status"))
	if status == "" {
		respondError(w, http.StatusBadRequest, "status query parameter is required")
		return
	}

	page, err := pageFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobs, total, err := s.admin.ListJobs(r.Context(), queueName, status, page)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if jobs == nil {
		jobs = []queue.Job{}
	}
	respondJSON(w, http.StatusOK, listResponse{
		Items:   jobs,
		Total:   total,
		Page:    page.Number,
		PerPage: page.PerPage,
	})
}

// getJob handles GET /jobs/{id}.
func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	job, err := s.admin.GetJob(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, job)
}

// deleteJob handles DELETE /jobs/{id}. Deleting a missing job still returns
// 204 so retried calls stay idempotent.
func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.admin.DeleteJob(r.Context(), id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// retryJob handles POST /jobs/{id}/retry.
func (s *Server) retryJob(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	if err := s.admin.RetryJob(r.Context(), id); err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": id.String()})
}

// purgeQueue handles DELETE /queues/{queue}/jobs?status=completed|failed|all.
func (s *Server) purgeQueue(w http.ResponseWriter, r *http.Request) {
	queueName := chi.URLParam(r, "queue")
	category := queue.PurgeCategory(r.URL.Query().Get("status"))
	if category == "" {
		respondError(w, http.StatusBadRequest, "status query parameter is required")
		return
	}

	removed, err := s.admin.PurgeQueue(r.Context(), queueName, category)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// listDeadLetters handles GET /deadletters?queue=&page=&per_page=.
func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	page, err := pageFromQuery(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, total, err := s.admin.ListDeadLetters(r.Context(), r.URL.Query().Get("queue"), page)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	if entries == nil {
		entries = []queue.DeadLetterEntry{}
	}
	respondJSON(w, http.StatusOK, listResponse{
		Items:   entries,
		Total:   total,
		Page:    page.Number,
		PerPage: page.PerPage,
	})
}

// replayDeadLetter handles POST /deadletters/{id}/replay.
func (s *Server) replayDeadLetter(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r)
	if !ok {
		return
	}
	jobID, err := s.admin.ReplayDeadLetter(r.Context(), id)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID.String()})
}

// parseID reads the {id} path parameter and writes a 400 on malformed input.
func parseID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "malformed id")
		return uuid.Nil, false
	}
	return id, true
}

// pageFromQuery reads page and per_page; absent values fall back to defaults
// through Page.Normalize.
func pageFromQuery(r *http.Request) (queue.Page, error) {
	var page queue.Page
	if raw := r.URL.Query().Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return queue.Page{}, errors.New("page must be a positive integer")
		}
		page.Number = n
	}
	if raw := r.URL.Query().Get("per_page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return queue.Page{}, errors.New("per_page must be a positive integer")
		}
		page.PerPage = n
	}
	return page.Normalize(), nil
}

// respondServiceError maps queue service errors to HTTP statuses.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, queue.ErrUnknownQueue),
		errors.Is(err, queue.ErrJobNotFound),
		errors.Is(err, queue.ErrDeadLetterNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrInvalidStatus),
		errors.Is(err, queue.ErrInvalidPurgeCategory),
		errors.Is(err, queue.ErrUnknownJobType):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, queue.ErrJobActive),
		errors.Is(err, queue.ErrJobNotRetryable):
		respondError(w, http.StatusConflict, err.Error())
	default:
		s.logger.ErrorContext(r.Context(), "admin request failed",
			slog.String("path", r.URL.Path),
			slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}
