package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type batchRepoFake struct {
	mu          sync.Mutex
	batches     map[string]*domain.Batch
	applyErr    error
	exportMarks []bool
}

func newBatchRepoFake(batches ...domain.Batch) *batchRepoFake {
	f := &batchRepoFake{batches: map[string]*domain.Batch{}}
	for _, b := range batches {
		copyBatch := b
		f.batches[b.ID] = &copyBatch
	}
	return f
}

func (f *batchRepoFake) get(id string) domain.Batch {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.batches[id]
}

func (f *batchRepoFake) Create(_ context.Context, batch *domain.Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.batches[batch.ID]; ok {
		return domain.WrapError(domain.ErrConflict, "create batch", errors.New("exists"))
	}
	copyBatch := *batch
	f.batches[batch.ID] = &copyBatch
	return nil
}

func (f *batchRepoFake) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get batch", fmt.Errorf("batch %s", id))
	}
	copyBatch := *b
	return &copyBatch, nil
}

func (f *batchRepoFake) ApplyDelta(_ context.Context, id string, delta domain.BatchDelta) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	b, ok := f.batches[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "apply delta", fmt.Errorf("batch %s", id))
	}
	b.TotalDocuments += delta.Total
	b.ProcessedDocuments += delta.Processed
	b.ValidatedDocuments += delta.Validated
	b.ErrorCount += delta.Errors
	copyBatch := *b
	return &copyBatch, nil
}

func (f *batchRepoFake) UpdateStatus(_ context.Context, id string, from []domain.BatchStatus, to domain.BatchStatus, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return false, domain.WrapError(domain.ErrNotFound, "update status", fmt.Errorf("batch %s", id))
	}
	if !slices.Contains(from, b.Status) {
		return false, nil
	}
	b.Status = to
	if to == domain.BatchScanning && b.StartedAt == nil {
		b.StartedAt = &at
	}
	if to.Terminal() {
		b.CompletedAt = &at
	}
	return true, nil
}

func (f *batchRepoFake) SetExportStarted(_ context.Context, id string, startedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches[id].ExportStartedAt = startedAt
	f.exportMarks = append(f.exportMarks, startedAt != nil)
	return nil
}

func (f *batchRepoFake) UpdatePriority(_ context.Context, id string, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update priority", fmt.Errorf("batch %s", id))
	}
	b.Priority = priority
	return nil
}

func (f *batchRepoFake) DeleteNew(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "delete batch", fmt.Errorf("batch %s", id))
	}
	if b.Status != domain.BatchNew {
		return domain.WrapError(domain.ErrConflict, "delete batch", fmt.Errorf("batch %s is %s", id, b.Status))
	}
	delete(f.batches, id)
	return nil
}

type documentRepoFake struct {
	mu      sync.Mutex
	docs    map[string]*domain.Document
	order   []string
	listErr error
}

func newDocumentRepoFake(docs ...domain.Document) *documentRepoFake {
	f := &documentRepoFake{docs: map[string]*domain.Document{}}
	for _, d := range docs {
		copyDoc := d
		f.docs[d.ID] = &copyDoc
		f.order = append(f.order, d.ID)
	}
	return f
}

func (f *documentRepoFake) get(id string) domain.Document {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.docs[id]
}

func (f *documentRepoFake) Create(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copyDoc := *doc
	f.docs[doc.ID] = &copyDoc
	f.order = append(f.order, doc.ID)
	return nil
}

func (f *documentRepoFake) GetByID(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get document", fmt.Errorf("document %s", id))
	}
	copyDoc := *d
	return &copyDoc, nil
}

func (f *documentRepoFake) ListForDispatch(_ context.Context, batchID string, unfinishedOnly bool) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []domain.Document
	for _, id := range f.order {
		d, ok := f.docs[id]
		if !ok || d.BatchID != batchID {
			continue
		}
		if unfinishedOnly && !d.Unfinished() {
			continue
		}
		out = append(out, *d)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProcessingPriority > out[j].ProcessingPriority
	})
	return out, nil
}

func (f *documentRepoFake) SaveExtraction(_ context.Context, id string, result domain.ExtractionResult) (domain.SaveOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.SaveOutcome{}, domain.WrapError(domain.ErrNotFound, "save extraction", fmt.Errorf("document %s", id))
	}
	wasUnfinished := d.Unfinished()
	wasFailed := d.FailedAt != nil
	confidence := result.Confidence
	d.ConfidenceScore = &confidence
	d.ExtractedMetadata = result.Metadata
	finished := wasUnfinished && !d.Unfinished()
	if !d.Unfinished() {
		d.FailedAt = nil
	}
	return domain.SaveOutcome{Finished: finished, ClearedFailure: finished && wasFailed}, nil
}

func (f *documentRepoFake) MarkFailed(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return false, domain.WrapError(domain.ErrNotFound, "mark failed", fmt.Errorf("document %s", id))
	}
	if d.FailedAt != nil || !d.Unfinished() {
		return false, nil
	}
	d.FailedAt = &at
	return true, nil
}

func (f *documentRepoFake) MarkValidated(_ context.Context, id string, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return false, domain.WrapError(domain.ErrNotFound, "mark validated", fmt.Errorf("document %s", id))
	}
	if d.ValidatedAt != nil {
		return false, nil
	}
	d.ValidatedAt = &at
	return true, nil
}

func (f *documentRepoFake) UpdatePriority(_ context.Context, id string, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return domain.WrapError(domain.ErrNotFound, "update priority", fmt.Errorf("document %s", id))
	}
	d.ProcessingPriority = priority
	return nil
}

func (f *documentRepoFake) Delete(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "delete document", fmt.Errorf("document %s", id))
	}
	delete(f.docs, id)
	return d, nil
}

type progressPublisherFake struct {
	mu     sync.Mutex
	events []domain.BatchProgress
}

func (f *progressPublisherFake) PublishBatchProgress(_ context.Context, progress domain.BatchProgress) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, progress)
	return nil
}

func (f *progressPublisherFake) last() domain.BatchProgress {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[len(f.events)-1]
}

func (f *progressPublisherFake) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func finishedDoc(id, batchID, fileType string) domain.Document {
	confidence := 0.9
	return domain.Document{
		ID:                id,
		BatchID:           batchID,
		FileType:          fileType,
		ConfidenceScore:   &confidence,
		ExtractedMetadata: json.RawMessage(`{"vendor":"acme"}`),
	}
}
