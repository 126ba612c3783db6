package ports

import (
	"context"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

// JobSubmitter is the inbound contract for job admission and status reads.
type JobSubmitter interface {
	CreateJob(ctx context.Context, req domain.JobRequest) (*domain.Job, error)
	GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusView, error)
	SubscribeToJob(jobID string, onUpdate func(domain.JobUpdate)) (unsubscribe func())
}

// AdmissionChecker is the inbound contract for tenant rate-limit checks.
type AdmissionChecker interface {
	CheckAdmission(ctx context.Context, customerID, jobType string) (domain.AdmissionDecision, error)
	Usage(ctx context.Context, customerID string) (domain.TenantUsage, error)
}

// BatchDispatcher runs bounded-concurrency extraction over a batch.
type BatchDispatcher interface {
	DispatchBatch(ctx context.Context, batchID string, opts domain.DispatchOptions) (*domain.DispatchSummary, error)
}

// BatchProgressReader exposes the batch aggregate and its live progress.
type BatchProgressReader interface {
	Batch(ctx context.Context, batchID string) (*domain.Batch, error)
	SubscribeToBatch(batchID string, onProgress func(domain.BatchProgress)) (unsubscribe func())
	SubscribeToAll(onProgress func(domain.BatchProgress)) (unsubscribe func())
}

// JobRunner executes a triggered job to a terminal status.
type JobRunner interface {
	Run(ctx context.Context, jobID string) error
}

// EntityGateway is the generic mutation entry point shared by the API and
// the offline replay queue.
type EntityGateway interface {
	Insert(ctx context.Context, kind string, data map[string]any) error
	Update(ctx context.Context, kind, id string, patch map[string]any) error
	Delete(ctx context.Context, kind, id string) error
}
