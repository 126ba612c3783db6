package httpadapter

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type createJobRequest struct {
	JobType    string          `json:"jobType"`
	Payload    json.RawMessage `json:"payload"`
	CustomerID string          `json:"customerId"`
	Priority   string          `json:"priority"`
}

type createJobResponse struct {
	JobID  string           `json:"jobId"`
	Status domain.JobStatus `json:"status"`
}

func (rt *Router) createJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := decodeJSONBody(r, &req); err != nil {
		rt.recordSubmission(req.JobType, err)
		writeError(w, err)
		return
	}

	job, err := rt.jobs.CreateJob(r.Context(), domain.JobRequest{
		JobType:    req.JobType,
		Payload:    req.Payload,
		CustomerID: req.CustomerID,
		Priority:   req.Priority,
	})
	rt.recordSubmission(req.JobType, err)
	if err != nil {
		if domain.RejectionReason(err) == "" {
			rt.logger.Error("create_job_failed", "request_id", requestIDFromContext(r.Context()), "job_type", req.JobType, "error", err)
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: job.ID, Status: job.Status})
}

func (rt *Router) recordSubmission(jobType string, err error) {
	if rt.metrics == nil {
		return
	}
	outcome := "accepted"
	if err != nil {
		outcome = domain.RejectionReason(err)
	}
	rt.metrics.RecordJobSubmission("api", jobType, outcome)
}

func (rt *Router) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	view, err := rt.jobs.GetJobStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// streamJob sends the current status and then every update as server-sent
// events. The stream ends after a terminal status.
func (rt *Router) streamJob(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, fmt.Errorf("streaming is not supported by response writer"))
		return
	}

	updates := make(chan domain.JobUpdate, 16)
	unsubscribe := rt.jobs.SubscribeToJob(id, func(update domain.JobUpdate) {
		select {
		case updates <- update:
		case <-r.Context().Done():
		}
	})
	defer unsubscribe()

	view, err := rt.jobs.GetJobStatus(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if rt.metrics != nil {
		rt.metrics.StreamOpened("job")
		defer rt.metrics.StreamClosed("job")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	current := domain.JobUpdate{JobID: id, Status: view.Status, Result: view.Result, ErrorMessage: view.ErrorMessage}
	if view.CompletedAt != nil {
		current.At = *view.CompletedAt
	}
	if err := writeSSE(w, "job", current); err != nil {
		return
	}
	flusher.Flush()
	if view.Status.Terminal() {
		return
	}

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case update := <-updates:
			if err := writeSSE(w, "job", update); err != nil {
				return
			}
			flusher.Flush()
			if update.Status.Terminal() {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
