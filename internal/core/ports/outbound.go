package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

// JobRepository persists jobs. Transition methods only move a job forward
// and return domain.ErrConflict otherwise.
type JobRepository interface {
	Create(ctx context.Context, job *domain.Job) error
	GetByID(ctx context.Context, id string) (*domain.Job, error)
	MarkProcessing(ctx context.Context, id string, startedAt time.Time) error
	MarkCompleted(ctx context.Context, id string, result json.RawMessage, completedAt time.Time) error
	MarkFailed(ctx context.Context, id string, errMessage string, completedAt time.Time) error
}

// JobActivityReader counts tenant activity for admission decisions.
type JobActivityReader interface {
	TenantActivity(ctx context.Context, customerID string, now time.Time) (domain.TenantActivity, error)
}

// TenantLimitsStore reads tenant ceilings; a nil result means unlimited.
type TenantLimitsStore interface {
	GetLimits(ctx context.Context, customerID string) (*domain.TenantLimits, error)
}

// BatchRepository persists the batch aggregate. Counter updates are atomic.
type BatchRepository interface {
	Create(ctx context.Context, batch *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	ApplyDelta(ctx context.Context, id string, delta domain.BatchDelta) (*domain.Batch, error)
	UpdateStatus(ctx context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus, at time.Time) (bool, error)
	SetExportStarted(ctx context.Context, id string, startedAt *time.Time) error
	UpdatePriority(ctx context.Context, id string, priority int) error
	DeleteNew(ctx context.Context, id string) error
}

// DocumentRepository reads and updates documents of a batch.
type DocumentRepository interface {
	Create(ctx context.Context, doc *domain.Document) error
	GetByID(ctx context.Context, id string) (*domain.Document, error)
	ListForDispatch(ctx context.Context, batchID string, unfinishedOnly bool) ([]domain.Document, error)
	// SaveExtraction stores the result, clears any failure mark and
	// reports whether the document moved from unfinished to finished.
	SaveExtraction(ctx context.Context, id string, result domain.ExtractionResult) (domain.SaveOutcome, error)
	// MarkFailed flags an unfinished document as failed and reports whether
	// the flag is new.
	MarkFailed(ctx context.Context, id string, at time.Time) (bool, error)
	// MarkValidated reports whether the document was newly validated.
	MarkValidated(ctx context.Context, id string, at time.Time) (bool, error)
	UpdatePriority(ctx context.Context, id string, priority int) error
	Delete(ctx context.Context, id string) (*domain.Document, error)
}

// Extractor is the remote field-extraction capability.
type Extractor interface {
	Extract(ctx context.Context, documentID string, opts domain.ExtractOptions) (domain.ExtractionResult, error)
}

// Exporter hands a finished batch to the export collaborator.
type Exporter interface {
	Export(ctx context.Context, batchID, format string) error
}

// ResultCache memoizes extraction results with single-flight loading.
type ResultCache interface {
	GetOrLoad(ctx context.Context, key string, load func(context.Context) (domain.ExtractionResult, error)) (domain.ExtractionResult, error)
}

// JobTrigger signals a dispatcher that a job is ready.
type JobTrigger interface {
	TriggerJob(ctx context.Context, jobID string) error
}

// JobEventPublisher publishes job status transitions.
type JobEventPublisher interface {
	PublishJobUpdate(ctx context.Context, update domain.JobUpdate) error
}

// ExtractionEventPublisher forwards late extraction results to the workers.
type ExtractionEventPublisher interface {
	PublishExtractionEvent(ctx context.Context, event domain.ExtractionEvent) error
}

// ProgressPublisher publishes batch progress after tracker mutations.
type ProgressPublisher interface {
	PublishBatchProgress(ctx context.Context, progress domain.BatchProgress) error
}

// PayloadValidator checks a job payload against its job type.
type PayloadValidator interface {
	Validate(jobType string, payload json.RawMessage) error
}

// ActionStore is the durable client-side store of queued actions.
type ActionStore interface {
	Append(ctx context.Context, action domain.QueuedAction) error
	List(ctx context.Context) ([]domain.QueuedAction, error)
	UpdateRetryCount(ctx context.Context, id string, retryCount int) error
	Delete(ctx context.Context, id string) error
}

// Notifier surfaces user-visible notices.
type Notifier interface {
	Notify(level, message string)
}

// ConnectivityProbe reports whether the remote side is reachable.
type ConnectivityProbe interface {
	Healthy(ctx context.Context) bool
}

// DispatchObserver receives dispatcher instrumentation.
type DispatchObserver interface {
	ObserveWave(size int, duration time.Duration)
	ObserveDocument(outcome string, duration time.Duration)
	ObserveDispatch(processed int, duration time.Duration, err error)
}
