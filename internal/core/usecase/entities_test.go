package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

func newEntityFixture() (*EntityRegistry, *batchRepoFake, *documentRepoFake) {
	batches := newBatchRepoFake(domain.Batch{ID: "b1", Name: "Inbox", Status: domain.BatchIndexing, TotalDocuments: 1, ProcessedDocuments: 1})
	documents := newDocumentRepoFake(finishedDoc("d1", "b1", "pdf"))
	tracker := NewBatchTracker(batches, documents, &progressPublisherFake{}, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))

	registry := NewEntityRegistry()
	registry.Register(EntityDocuments, NewDocumentEntities(documents, tracker))
	registry.Register(EntityBatches, NewBatchEntities(batches))
	return registry, batches, documents
}

func TestEntityRegistryDocumentLifecycle(t *testing.T) {
	registry, batches, documents := newEntityFixture()
	ctx := context.Background()

	err := registry.Insert(ctx, EntityDocuments, map[string]any{
		"id":                 "d2",
		"batchId":            "b1",
		"fileType":           "image/png",
		"processingPriority": float64(3),
	})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if got := documents.get("d2"); got.ProcessingPriority != 3 || got.FileType != "image/png" {
		t.Fatalf("unexpected document: %+v", got)
	}
	if got := batches.get("b1").TotalDocuments; got != 2 {
		t.Fatalf("totalDocuments = %d, want 2", got)
	}

	if err := registry.Update(ctx, EntityDocuments, "d1", map[string]any{"validated": true}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := batches.get("b1"); got.ValidatedDocuments != 1 || got.Status != domain.BatchValidation {
		t.Fatalf("unexpected batch after validation: %+v", got)
	}

	if err := registry.Update(ctx, EntityDocuments, "d2", map[string]any{"processingPriority": float64(9)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := documents.get("d2").ProcessingPriority; got != 9 {
		t.Fatalf("priority = %d, want 9", got)
	}

	if err := registry.Delete(ctx, EntityDocuments, "d1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	got := batches.get("b1")
	if got.TotalDocuments != 1 || got.ProcessedDocuments != 0 || got.ValidatedDocuments != 0 {
		t.Fatalf("unexpected counters after delete: %+v", got)
	}
}

func TestEntityRegistryRejectsBadInput(t *testing.T) {
	registry, _, _ := newEntityFixture()
	ctx := context.Background()

	cases := []struct {
		name string
		run  func() error
		kind error
	}{
		{"unknown kind", func() error { return registry.Insert(ctx, "invoices", map[string]any{}) }, domain.ErrNotFound},
		{"missing batch id", func() error {
			return registry.Insert(ctx, EntityDocuments, map[string]any{"fileType": "pdf"})
		}, domain.ErrInvalidInput},
		{"fractional priority", func() error {
			return registry.Update(ctx, EntityDocuments, "d1", map[string]any{"processingPriority": 1.5})
		}, domain.ErrInvalidInput},
		{"unvalidate", func() error {
			return registry.Update(ctx, EntityDocuments, "d1", map[string]any{"validated": false})
		}, domain.ErrInvalidInput},
		{"read-only field", func() error {
			return registry.Update(ctx, EntityBatches, "b1", map[string]any{"status": "complete"})
		}, domain.ErrInvalidInput},
		{"empty id", func() error { return registry.Delete(ctx, EntityDocuments, "") }, domain.ErrInvalidInput},
		{"delete dispatched batch", func() error { return registry.Delete(ctx, EntityBatches, "b1") }, domain.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.run(); !domain.IsKind(err, tc.kind) {
				t.Fatalf("expected %v, got %v", tc.kind, err)
			}
		})
	}
}

func TestEntityRegistryBatchLifecycle(t *testing.T) {
	registry, batches, _ := newEntityFixture()
	ctx := context.Background()

	if err := registry.Insert(ctx, EntityBatches, map[string]any{"id": "b2", "name": "Receipts", "priority": float64(1)}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if got := batches.get("b2"); got.Status != domain.BatchNew || got.Priority != 1 {
		t.Fatalf("unexpected batch: %+v", got)
	}
	if err := registry.Update(ctx, EntityBatches, "b2", map[string]any{"priority": float64(4)}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := batches.get("b2").Priority; got != 4 {
		t.Fatalf("priority = %d, want 4", got)
	}
	if err := registry.Delete(ctx, EntityBatches, "b2"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := batches.GetByID(ctx, "b2"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected batch to be gone, got %v", err)
	}
	if kinds := registry.Kinds(); len(kinds) != 2 || kinds[0] != EntityBatches {
		t.Fatalf("unexpected kinds: %v", kinds)
	}
}
