package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

// AllBatches is the subscription topic that receives progress of every batch.
const AllBatches = ""

// ProgressSource fans published progress out to local subscribers.
type ProgressSource interface {
	Subscribe(topic string, fn func(domain.BatchProgress)) (unsubscribe func())
}

// BatchTracker owns batch counters and status. Every mutation is an atomic
// repository update followed by a status advancement and a progress event.
type BatchTracker struct {
	batches   ports.BatchRepository
	documents ports.DocumentRepository
	publisher ports.ProgressPublisher
	progress  ProgressSource
	logger    *slog.Logger
	now       func() time.Time
}

func NewBatchTracker(
	batches ports.BatchRepository,
	documents ports.DocumentRepository,
	publisher ports.ProgressPublisher,
	progress ProgressSource,
	logger *slog.Logger,
) *BatchTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchTracker{
		batches:   batches,
		documents: documents,
		publisher: publisher,
		progress:  progress,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (t *BatchTracker) Batch(ctx context.Context, batchID string) (*domain.Batch, error) {
	if strings.TrimSpace(batchID) == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "get batch", errors.New("batch id is required"))
	}
	return t.batches.GetByID(ctx, batchID)
}

func (t *BatchTracker) SubscribeToBatch(batchID string, onProgress func(domain.BatchProgress)) func() {
	if t.progress == nil {
		return func() {}
	}
	return t.progress.Subscribe(batchID, onProgress)
}

func (t *BatchTracker) SubscribeToAll(onProgress func(domain.BatchProgress)) func() {
	if t.progress == nil {
		return func() {}
	}
	return t.progress.Subscribe(AllBatches, onProgress)
}

// BeginDispatch moves a new batch to scanning. Batches already past new
// are left alone so re-dispatch stays idempotent.
func (t *BatchTracker) BeginDispatch(ctx context.Context, batchID string) error {
	moved, err := t.batches.UpdateStatus(ctx, batchID, []domain.BatchStatus{domain.BatchNew}, domain.BatchScanning, t.now())
	if err != nil {
		return fmt.Errorf("begin dispatch: %w", err)
	}
	if !moved {
		return nil
	}
	batch, err := t.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("begin dispatch: %w", err)
	}
	t.publish(ctx, *batch)
	return nil
}

// RecordExtracted stores the result and counts the document as processed
// only when this call finished it.
func (t *BatchTracker) RecordExtracted(ctx context.Context, doc domain.Document, result domain.ExtractionResult) error {
	outcome, err := t.documents.SaveExtraction(ctx, doc.ID, result)
	if err != nil {
		return fmt.Errorf("save extraction %s: %w", doc.ID, err)
	}
	if !outcome.Finished {
		t.logger.Debug("extraction_already_recorded", "batch_id", doc.BatchID, "document_id", doc.ID)
		return nil
	}
	delta := domain.BatchDelta{Processed: 1}
	if outcome.ClearedFailure {
		delta.Errors = -1
	}
	return t.apply(ctx, doc.BatchID, delta)
}

// RecordFailed counts the document as failed the first time it fails.
// Retries of an already failed document only log.
func (t *BatchTracker) RecordFailed(ctx context.Context, doc domain.Document, cause error) error {
	t.logger.Warn("extraction_failed", "batch_id", doc.BatchID, "document_id", doc.ID, "error", cause)
	marked, err := t.documents.MarkFailed(ctx, doc.ID, t.now())
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", doc.ID, err)
	}
	if !marked {
		return nil
	}
	return t.apply(ctx, doc.BatchID, domain.BatchDelta{Errors: 1})
}

// RecordExtractionEvent applies a completion reported by the extraction
// collaborator after the dispatcher stopped waiting for it.
func (t *BatchTracker) RecordExtractionEvent(ctx context.Context, event domain.ExtractionEvent) error {
	if strings.TrimSpace(event.DocumentID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record extraction event", errors.New("documentId is required"))
	}
	doc, err := t.documents.GetByID(ctx, event.DocumentID)
	if err != nil {
		return fmt.Errorf("record extraction event: %w", err)
	}
	if event.Error != "" {
		return t.RecordFailed(ctx, *doc, errors.New(event.Error))
	}
	return t.RecordExtracted(ctx, *doc, domain.ExtractionResult{
		Confidence: event.Confidence,
		Metadata:   event.Metadata,
	})
}

// RecordValidation counts a document as validated once.
func (t *BatchTracker) RecordValidation(ctx context.Context, documentID string) error {
	doc, err := t.documents.GetByID(ctx, documentID)
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	validated, err := t.documents.MarkValidated(ctx, documentID, t.now())
	if err != nil {
		return fmt.Errorf("record validation: %w", err)
	}
	if !validated {
		return nil
	}
	return t.apply(ctx, doc.BatchID, domain.BatchDelta{Validated: 1})
}

func (t *BatchTracker) RecordDocumentAdded(ctx context.Context, batchID string) error {
	return t.apply(ctx, batchID, domain.BatchDelta{Total: 1})
}

// RecordDocumentRemoved takes a deleted document out of every counter it
// contributed to.
func (t *BatchTracker) RecordDocumentRemoved(ctx context.Context, doc domain.Document) error {
	delta := domain.BatchDelta{Total: -1}
	if !doc.Unfinished() {
		delta.Processed = -1
	}
	if doc.ValidatedAt != nil {
		delta.Validated = -1
	}
	if doc.FailedAt != nil && doc.Unfinished() {
		delta.Errors = -1
	}
	return t.apply(ctx, doc.BatchID, delta)
}

// RunExport marks the batch as exporting for the duration of export. The
// marker is cleared whatever the outcome.
func (t *BatchTracker) RunExport(ctx context.Context, batchID string, export func(context.Context) error) error {
	batch, err := t.batches.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("run export: %w", err)
	}
	if batch.Status != domain.BatchComplete && batch.Status != domain.BatchExported {
		return domain.WrapError(domain.ErrConflict, "run export", fmt.Errorf("batch %s is %s", batchID, batch.Status))
	}

	startedAt := t.now()
	if err := t.batches.SetExportStarted(ctx, batchID, &startedAt); err != nil {
		return fmt.Errorf("run export: %w", err)
	}
	batch.ExportStartedAt = &startedAt
	t.publish(ctx, *batch)

	exportErr := export(ctx)

	clearCtx := context.WithoutCancel(ctx)
	if err := t.batches.SetExportStarted(clearCtx, batchID, nil); err != nil {
		t.logger.Error("export_marker_clear_failed", "batch_id", batchID, "error", err)
	}
	batch.ExportStartedAt = nil

	if exportErr != nil {
		t.logger.Error("export_failed", "batch_id", batchID, "error", exportErr)
		t.publish(clearCtx, *batch)
		return fmt.Errorf("run export: %w", exportErr)
	}

	moved, err := t.batches.UpdateStatus(clearCtx, batchID, []domain.BatchStatus{domain.BatchComplete}, domain.BatchExported, t.now())
	if err != nil {
		t.logger.Error("batch_status_write_failed", "batch_id", batchID, "error", err)
	} else if moved {
		batch.Status = domain.BatchExported
	}
	t.publish(clearCtx, *batch)
	return nil
}

// apply writes the delta, advances status as far as the counters allow and
// publishes the resulting progress.
func (t *BatchTracker) apply(ctx context.Context, batchID string, delta domain.BatchDelta) error {
	if strings.TrimSpace(batchID) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "apply batch delta", errors.New("batch id is required"))
	}
	batch, err := t.batches.ApplyDelta(ctx, batchID, delta)
	if err != nil {
		t.logger.Error("batch_counter_write_failed", "batch_id", batchID, "error", err)
		return fmt.Errorf("apply batch delta: %w", err)
	}

	for range 4 {
		next := domain.AdvanceBatchStatus(*batch)
		if next == batch.Status {
			break
		}
		at := t.now()
		moved, err := t.batches.UpdateStatus(ctx, batchID, []domain.BatchStatus{batch.Status}, next, at)
		if err != nil {
			t.logger.Error("batch_status_write_failed", "batch_id", batchID, "to", next, "error", err)
			break
		}
		if !moved {
			// Another writer moved it first; reload and try again from there.
			reloaded, err := t.batches.GetByID(ctx, batchID)
			if err != nil {
				t.logger.Error("batch_reload_failed", "batch_id", batchID, "error", err)
				break
			}
			batch = reloaded
			continue
		}
		t.logger.Info("batch_status_changed", "batch_id", batchID, "from", batch.Status, "to", next)
		batch.Status = next
		if next.Terminal() {
			batch.CompletedAt = &at
		}
	}

	t.publish(ctx, *batch)
	return nil
}

func (t *BatchTracker) publish(ctx context.Context, batch domain.Batch) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishBatchProgress(ctx, domain.ProgressOf(batch)); err != nil {
		t.logger.Warn("batch_progress_publish_failed", "batch_id", batch.ID, "error", err)
	}
}
