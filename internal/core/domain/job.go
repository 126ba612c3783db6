package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// CanTransitionTo reports whether moving from s to next keeps the lifecycle monotonic.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobPending:
		return next == JobProcessing || next.Terminal()
	case JobProcessing:
		return next.Terminal()
	default:
		return false
	}
}

type JobPriority string

const (
	PriorityLow    JobPriority = "low"
	PriorityNormal JobPriority = "normal"
	PriorityHigh   JobPriority = "high"
	PriorityUrgent JobPriority = "urgent"
)

func ParseJobPriority(raw string) (JobPriority, error) {
	switch p := JobPriority(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return PriorityNormal, nil
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return p, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse priority", fmt.Errorf("unknown priority %q", raw))
	}
}

const (
	JobTypeExtraction = "extraction"
	JobTypeExport     = "export"
)

type Job struct {
	ID           string          `json:"id"`
	JobType      string          `json:"jobType"`
	Payload      json.RawMessage `json:"payload"`
	CustomerID   string          `json:"customerId,omitempty"`
	Priority     JobPriority     `json:"priority"`
	Status       JobStatus       `json:"status"`
	CreatedBy    string          `json:"createdBy"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

type JobRequest struct {
	JobType    string          `json:"jobType"`
	Payload    json.RawMessage `json:"payload"`
	CustomerID string          `json:"customerId,omitempty"`
	Priority   string          `json:"priority,omitempty"`
}

type JobStatusView struct {
	Status       JobStatus       `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

func (j *Job) StatusView() JobStatusView {
	return JobStatusView{
		Status:       j.Status,
		Result:       j.Result,
		ErrorMessage: j.ErrorMessage,
		CompletedAt:  j.CompletedAt,
	}
}

// JobUpdate is emitted on every job status transition.
type JobUpdate struct {
	JobID        string          `json:"jobId"`
	Status       JobStatus       `json:"status"`
	Result       json.RawMessage `json:"result,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	At           time.Time       `json:"at"`
}
