package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

// JobUpdateSource fans job updates out to in-process subscribers.
type JobUpdateSource interface {
	Subscribe(topic string, fn func(domain.JobUpdate)) (unsubscribe func())
}

type JobService struct {
	repo      ports.JobRepository
	admission ports.AdmissionChecker
	validator ports.PayloadValidator
	trigger   ports.JobTrigger
	updates   JobUpdateSource
	logger    *slog.Logger
	now       func() time.Time
}

func NewJobService(
	repo ports.JobRepository,
	admission ports.AdmissionChecker,
	validator ports.PayloadValidator,
	trigger ports.JobTrigger,
	updates JobUpdateSource,
	logger *slog.Logger,
) *JobService {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobService{
		repo:      repo,
		admission: admission,
		validator: validator,
		trigger:   trigger,
		updates:   updates,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob admits, persists and triggers a job. It returns as soon as the
// pending row exists; dispatch outcome is never awaited.
func (s *JobService) CreateJob(ctx context.Context, req domain.JobRequest) (*domain.Job, error) {
	jobType := strings.TrimSpace(req.JobType)
	if jobType == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "create job", errors.New("jobType is required"))
	}
	priority, err := domain.ParseJobPriority(req.Priority)
	if err != nil {
		return nil, err
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = json.RawMessage(`{}`)
	}
	if s.validator != nil {
		if err := s.validator.Validate(jobType, payload); err != nil {
			return nil, err
		}
	}

	customerID := strings.TrimSpace(req.CustomerID)
	if customerID != "" {
		decision, err := s.admission.CheckAdmission(ctx, customerID, jobType)
		if err != nil {
			return nil, fmt.Errorf("check admission: %w", err)
		}
		if !decision.Allowed {
			return nil, domain.WrapError(domain.ErrRateLimited, "create job", fmt.Errorf("tenant %s over %s limit", customerID, decision.Reason))
		}
	}

	caller, ok := domain.CallerFromContext(ctx)
	if !ok {
		return nil, domain.WrapError(domain.ErrUnauthorized, "create job", errors.New("no caller identity"))
	}

	job := &domain.Job{
		ID:         uuid.NewString(),
		JobType:    jobType,
		Payload:    payload,
		CustomerID: customerID,
		Priority:   priority,
		Status:     domain.JobPending,
		CreatedBy:  caller.Subject,
		CreatedAt:  s.now(),
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	go s.fireTrigger(context.WithoutCancel(ctx), job.ID)

	return job, nil
}

func (s *JobService) fireTrigger(ctx context.Context, jobID string) {
	if err := s.trigger.TriggerJob(ctx, jobID); err != nil {
		s.logger.Error("job_trigger_failed", "job_id", jobID, "error", err)
	}
}

func (s *JobService) GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusView, error) {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := job.StatusView()
	return &view, nil
}

func (s *JobService) SubscribeToJob(jobID string, onUpdate func(domain.JobUpdate)) func() {
	return s.updates.Subscribe(jobID, onUpdate)
}
