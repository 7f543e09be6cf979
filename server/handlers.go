package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/leadfoundry/enrichworker/orchestrator"
	"github.com/leadfoundry/enrichworker/task"
	"github.com/leadfoundry/enrichworker/trace"
)

const maxRequestBody = 10 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeTaskError maps task error kinds to HTTP statuses.
func writeTaskError(w http.ResponseWriter, err error) {
	switch task.KindOf(err) {
	case task.KindValidation, task.KindParse:
		writeError(w, http.StatusBadRequest, err.Error())
	case task.KindNotFound:
		writeError(w, http.StatusNotFound, err.Error())
	case task.KindAuth:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// handleCreate accepts a job request, validates it against the named task,
// persists the scheduled status, and enqueues the payload. The job ID is
// client-supplied when present, server-generated otherwise.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	t, err := s.registry.Get(name)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	var fields map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&fields); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	p, err := t.CreatePayload(fields)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	if jobID, _ := fields["job_id"].(string); jobID != "" {
		p.JobID = jobID
	} else if p.JobID == "" {
		p.JobID = uuid.NewString()
	}
	if p.AttemptNumber == 0 {
		p.AttemptNumber = 1
	}
	if p.MaxRetries == 0 {
		p.MaxRetries = task.DefaultMaxRetries
	}
	p.TraceID = trace.From(r.Context()).TraceID

	if _, err := s.store.Get(r.Context(), p.JobID); err == nil {
		writeError(w, http.StatusConflict, "job "+p.JobID+" already exists")
		return
	}

	now := time.Now().UTC()
	if err := s.store.Put(r.Context(), &task.JobStatus{
		JobID:         p.JobID,
		TaskName:      p.TaskName,
		Status:        task.StatusScheduled,
		AccountID:     p.AccountID,
		LeadID:        p.LeadID,
		TenantID:      p.TenantID,
		AttemptNumber: p.AttemptNumber,
		MaxRetries:    p.MaxRetries,
		TraceID:       p.TraceID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Payload:       p,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    task.StatusScheduled,
		"task_name": p.TaskName,
		"task_id":   taskID,
		"job_id":    p.JobID,
		"trace_id":  p.TraceID,
	})
}

// handleExecute is the queue's delivery target. The runner reports the
// outcome through the callback channel, so execution failures still return
// 200 to stop the queue from re-delivering a job that already reported
// terminally. Only undecodable payloads get a 4xx.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "read body: "+err.Error())
		return
	}
	p, err := task.UnmarshalPayload(body)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	if p.TaskName != name {
		writeError(w, http.StatusBadRequest, "payload task "+p.TaskName+" does not match route "+name)
		return
	}

	execErr := s.runner.Run(r.Context(), p)
	if execErr != nil {
		if kind := task.KindOf(execErr); kind == task.KindValidation || kind == task.KindNotFound || kind == task.KindParse {
			writeTaskError(w, execErr)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"job_id": p.JobID,
			"status": task.StatusFailed,
			"error":  execErr.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id": p.JobID,
		"status": task.StatusCompleted,
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	js, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeTaskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, js)
}

func (s *Server) handleListFailed(w http.ResponseWriter, r *http.Request) {
	filter := task.FailedFilter{}
	q := r.URL.Query()

	if v := q.Get("start_date"); v != "" {
		ts, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start_date: "+err.Error())
			return
		}
		filter.Since = ts
	}
	if v := q.Get("end_date"); v != "" {
		ts, err := parseDate(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end_date: "+err.Error())
			return
		}
		filter.Until = ts
	}
	if v := q.Get("retryable_only"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid retryable_only: "+err.Error())
			return
		}
		filter.RetryableOnly = b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be an integer in [1, 1000]")
			return
		}
		filter.Limit = n
	}

	jobs, err := s.store.ListFailed(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if jobs == nil {
		jobs = []*task.JobStatus{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func parseDate(v string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts, nil
	}
	return time.Parse("2006-01-02", v)
}

// handleRetry re-enqueues a failed, retryable job under a new job ID that
// points back at the original through original_job_id.
func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	js, err := s.store.Get(r.Context(), jobID)
	if err != nil {
		writeTaskError(w, err)
		return
	}

	switch {
	case js.Status != task.StatusFailed:
		writeError(w, http.StatusBadRequest, "job is "+js.Status+", only failed jobs can be retried")
		return
	case !js.Retryable:
		writeError(w, http.StatusBadRequest, "job failure is not retryable")
		return
	case js.AttemptNumber >= js.MaxRetries:
		writeError(w, http.StatusBadRequest, "retry budget exhausted: attempt "+
			strconv.Itoa(js.AttemptNumber)+" of "+strconv.Itoa(js.MaxRetries))
		return
	case js.Payload == nil:
		writeError(w, http.StatusBadRequest, "job payload is no longer available")
		return
	}

	p := js.Payload.RetryCopy(uuid.NewString())
	p.TraceID = trace.From(r.Context()).TraceID

	now := time.Now().UTC()
	if err := s.store.Put(r.Context(), &task.JobStatus{
		JobID:         p.JobID,
		TaskName:      p.TaskName,
		Status:        task.StatusScheduled,
		AccountID:     p.AccountID,
		LeadID:        p.LeadID,
		TenantID:      p.TenantID,
		AttemptNumber: p.AttemptNumber,
		MaxRetries:    p.MaxRetries,
		OriginalJobID: p.OriginalJobID,
		TraceID:       p.TraceID,
		CreatedAt:     now,
		UpdatedAt:     now,
		Payload:       p,
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	taskID, err := s.queue.Enqueue(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "enqueue failed: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":          task.StatusScheduled,
		"task_id":         taskID,
		"job_id":          p.JobID,
		"original_job_id": p.OriginalJobID,
		"attempt_number":  p.AttemptNumber,
	})
}

// handleOrchestrate starts a dependency-ordered column chain.
func (s *Server) handleOrchestrate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		TenantID  string   `json:"tenant_id"`
		AccountID string   `json:"account_id"`
		Columns   []string `json:"columns"`
		EntityIDs []string `json:"entity_ids"`
		BatchSize int      `json:"batch_size"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	chainID, err := s.orchestrator.Start(r.Context(), orchestrator.StartRequest{
		TenantID:  req.TenantID,
		AccountID: req.AccountID,
		Columns:   req.Columns,
		EntityIDs: req.EntityIDs,
		BatchSize: req.BatchSize,
	})
	if err != nil {
		if errors.Is(err, orchestrator.ErrChainInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeTaskError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"chain_id": chainID})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status": "healthy",
		"tasks":  s.registry.List(),
	}
	if s.healthDetail != nil {
		body["providers"] = s.healthDetail()
	}
	writeJSON(w, http.StatusOK, body)
}
