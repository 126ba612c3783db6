package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

// JobHandler executes one job type and returns its result document.
type JobHandler func(ctx context.Context, job *domain.Job) (json.RawMessage, error)

// JobMetrics observes job execution; optional.
type JobMetrics interface {
	StartJob()
	FinishJob(jobType string, duration time.Duration, err error)
	ObserveQueueLag(jobType string, lag time.Duration)
}

// JobExecutor drives a triggered job from pending to a terminal status.
// Triggers are delivered at least once, so terminal jobs are skipped and a
// job found in processing is re-run.
type JobExecutor struct {
	repo     ports.JobRepository
	events   ports.JobEventPublisher
	handlers map[string]JobHandler
	metrics  JobMetrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewJobExecutor(repo ports.JobRepository, events ports.JobEventPublisher, metrics JobMetrics, logger *slog.Logger) *JobExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobExecutor{
		repo:     repo,
		events:   events,
		handlers: make(map[string]JobHandler),
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (e *JobExecutor) Handle(jobType string, handler JobHandler) {
	e.handlers[jobType] = handler
}

func (e *JobExecutor) Run(ctx context.Context, jobID string) error {
	job, err := e.repo.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch job by id: %w", err)
	}
	log := e.logger.With("job_id", job.ID, "job_type", job.JobType)

	switch job.Status {
	case domain.JobCompleted, domain.JobFailed:
		log.Info("job_already_terminal", "status", job.Status)
		return nil
	case domain.JobPending:
		startedAt := e.now()
		if err := e.repo.MarkProcessing(ctx, job.ID, startedAt); err != nil {
			if domain.IsKind(err, domain.ErrConflict) {
				log.Info("job_claimed_elsewhere")
				return nil
			}
			return fmt.Errorf("set status=processing: %w", err)
		}
		job.Status = domain.JobProcessing
		job.StartedAt = &startedAt
		e.publish(ctx, domain.JobUpdate{JobID: job.ID, Status: domain.JobProcessing, At: startedAt})
		if e.metrics != nil {
			e.metrics.ObserveQueueLag(job.JobType, startedAt.Sub(job.CreatedAt))
		}
	case domain.JobProcessing:
		log.Warn("job_redelivered_while_processing")
	}

	if e.metrics != nil {
		e.metrics.StartJob()
	}
	start := time.Now()
	result, runErr := e.execute(ctx, job)
	if e.metrics != nil {
		e.metrics.FinishJob(job.JobType, time.Since(start), runErr)
	}

	completedAt := e.now()
	if runErr != nil {
		log.Error("job_failed", "error", runErr)
		if err := e.repo.MarkFailed(ctx, job.ID, runErr.Error(), completedAt); err != nil {
			return fmt.Errorf("%w; mark failed status: %v", runErr, err)
		}
		e.publish(ctx, domain.JobUpdate{JobID: job.ID, Status: domain.JobFailed, ErrorMessage: runErr.Error(), At: completedAt})
		return runErr
	}

	if err := e.repo.MarkCompleted(ctx, job.ID, result, completedAt); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	log.Info("job_completed", "duration_ms", float64(time.Since(start).Microseconds())/1000.0)
	e.publish(ctx, domain.JobUpdate{JobID: job.ID, Status: domain.JobCompleted, Result: result, At: completedAt})
	return nil
}

func (e *JobExecutor) execute(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
	handler, ok := e.handlers[job.JobType]
	if !ok {
		return nil, domain.WrapError(domain.ErrInvalidInput, "run job", fmt.Errorf("no handler for job type %q", job.JobType))
	}
	return handler(ctx, job)
}

func (e *JobExecutor) publish(ctx context.Context, update domain.JobUpdate) {
	if e.events == nil {
		return
	}
	if err := e.events.PublishJobUpdate(ctx, update); err != nil {
		e.logger.Warn("job_update_publish_failed", "job_id", update.JobID, "status", update.Status, "error", err)
	}
}

type extractionPayload struct {
	BatchID          string `json:"batchId"`
	MaxParallel      *int   `json:"maxParallel"`
	PrioritizeSimple *bool  `json:"prioritizeSimple"`
	SkipProcessed    *bool  `json:"skipProcessed"`
}

// ExtractionJobHandler runs the batch dispatcher for an extraction job.
func ExtractionJobHandler(dispatcher ports.BatchDispatcher) JobHandler {
	return func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		var payload extractionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode extraction payload", err)
		}
		opts := domain.DefaultDispatchOptions()
		if payload.MaxParallel != nil {
			opts.MaxParallel = *payload.MaxParallel
		}
		if payload.PrioritizeSimple != nil {
			opts.PrioritizeSimple = *payload.PrioritizeSimple
		}
		if payload.SkipProcessed != nil {
			opts.SkipProcessed = *payload.SkipProcessed
		}

		summary, err := dispatcher.DispatchBatch(ctx, payload.BatchID, opts)
		if err != nil {
			return nil, err
		}
		return json.Marshal(struct {
			BatchID      string `json:"batchId"`
			Processed    int    `json:"processed"`
			Successful   int    `json:"successful"`
			Failed       int    `json:"failed"`
			DurationMs   int64  `json:"durationMs"`
			AvgDocTimeMs int64  `json:"avgDocTimeMs"`
		}{
			BatchID:      summary.BatchID,
			Processed:    summary.Processed,
			Successful:   summary.Successful,
			Failed:       summary.Failed,
			DurationMs:   summary.DurationMs,
			AvgDocTimeMs: summary.AvgDocTimeMs,
		})
	}
}

type exportPayload struct {
	BatchID string `json:"batchId"`
	Format  string `json:"format"`
}

// ExportJobHandler exports a batch while the tracker holds the export marker.
func ExportJobHandler(tracker *BatchTracker, exporter ports.Exporter) JobHandler {
	return func(ctx context.Context, job *domain.Job) (json.RawMessage, error) {
		var payload exportPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode export payload", err)
		}
		err := tracker.RunExport(ctx, payload.BatchID, func(exportCtx context.Context) error {
			return exporter.Export(exportCtx, payload.BatchID, payload.Format)
		})
		if err != nil {
			return nil, err
		}
		return json.Marshal(map[string]string{"batchId": payload.BatchID, "format": payload.Format})
	}
}
