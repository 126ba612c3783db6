package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

const (
	EntityDocuments = "documents"
	EntityBatches   = "batches"
)

// EntityHandler applies generic mutations to one entity kind.
type EntityHandler interface {
	Insert(ctx context.Context, data map[string]any) error
	Update(ctx context.Context, id string, patch map[string]any) error
	Delete(ctx context.Context, id string) error
}

// EntityRegistry routes generic mutations to the handler of their kind.
type EntityRegistry struct {
	mu       sync.RWMutex
	handlers map[string]EntityHandler
}

func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{handlers: map[string]EntityHandler{}}
}

func (r *EntityRegistry) Register(kind string, handler EntityHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = handler
}

func (r *EntityRegistry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.handlers))
	for kind := range r.handlers {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

func (r *EntityRegistry) Insert(ctx context.Context, kind string, data map[string]any) error {
	handler, err := r.lookup(kind)
	if err != nil {
		return err
	}
	return handler.Insert(ctx, data)
}

func (r *EntityRegistry) Update(ctx context.Context, kind, id string, patch map[string]any) error {
	handler, err := r.lookup(kind)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "update entity", errors.New("id is required"))
	}
	return handler.Update(ctx, id, patch)
}

func (r *EntityRegistry) Delete(ctx context.Context, kind, id string) error {
	handler, err := r.lookup(kind)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return domain.WrapError(domain.ErrInvalidInput, "delete entity", errors.New("id is required"))
	}
	return handler.Delete(ctx, id)
}

func (r *EntityRegistry) lookup(kind string) (EntityHandler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handler, ok := r.handlers[kind]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "lookup entity", fmt.Errorf("unknown entity kind %q", kind))
	}
	return handler, nil
}

// DocumentEntities persists documents and keeps batch counters in step.
type DocumentEntities struct {
	documents ports.DocumentRepository
	tracker   *BatchTracker
	now       func() time.Time
}

func NewDocumentEntities(documents ports.DocumentRepository, tracker *BatchTracker) *DocumentEntities {
	return &DocumentEntities{
		documents: documents,
		tracker:   tracker,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (h *DocumentEntities) Insert(ctx context.Context, data map[string]any) error {
	const op = "insert document"
	id, err := optionalString(data, "id")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	batchID, err := requiredString(data, "batchId")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	fileType, err := requiredString(data, "fileType")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	priority, _, err := optionalInt(data, "processingPriority")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}

	doc := &domain.Document{
		ID:                 id,
		BatchID:            batchID,
		FileType:           fileType,
		ProcessingPriority: priority,
		CreatedAt:          h.now(),
	}
	if err := h.documents.Create(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return h.tracker.RecordDocumentAdded(ctx, batchID)
}

// Update accepts "validated" (true only) and "processingPriority".
func (h *DocumentEntities) Update(ctx context.Context, id string, patch map[string]any) error {
	const op = "update document"
	if err := rejectUnknownFields(patch, "validated", "processingPriority"); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if priority, ok, err := optionalInt(patch, "processingPriority"); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	} else if ok {
		if err := h.documents.UpdatePriority(ctx, id, priority); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if raw, ok := patch["validated"]; ok {
		validated, isBool := raw.(bool)
		if !isBool || !validated {
			return domain.WrapError(domain.ErrInvalidInput, op, errors.New("validated can only be set to true"))
		}
		if err := h.tracker.RecordValidation(ctx, id); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

func (h *DocumentEntities) Delete(ctx context.Context, id string) error {
	doc, err := h.documents.Delete(ctx, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return h.tracker.RecordDocumentRemoved(ctx, *doc)
}

// BatchEntities creates batches, reprioritizes them and removes batches that
// were never dispatched.
type BatchEntities struct {
	batches ports.BatchRepository
	now     func() time.Time
}

func NewBatchEntities(batches ports.BatchRepository) *BatchEntities {
	return &BatchEntities{
		batches: batches,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (h *BatchEntities) Insert(ctx context.Context, data map[string]any) error {
	const op = "insert batch"
	id, err := optionalString(data, "id")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if id == "" {
		id = uuid.NewString()
	}
	name, err := requiredString(data, "name")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	priority, _, err := optionalInt(data, "priority")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	batch := &domain.Batch{
		ID:        id,
		Name:      name,
		Status:    domain.BatchNew,
		Priority:  priority,
		CreatedAt: h.now(),
	}
	if err := h.batches.Create(ctx, batch); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (h *BatchEntities) Update(ctx context.Context, id string, patch map[string]any) error {
	const op = "update batch"
	if err := rejectUnknownFields(patch, "priority"); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	priority, ok, err := optionalInt(patch, "priority")
	if err != nil {
		return domain.WrapError(domain.ErrInvalidInput, op, err)
	}
	if !ok {
		return nil
	}
	if err := h.batches.UpdatePriority(ctx, id, priority); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (h *BatchEntities) Delete(ctx context.Context, id string) error {
	if err := h.batches.DeleteNew(ctx, id); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return nil
}

func rejectUnknownFields(data map[string]any, allowed ...string) error {
	for key := range data {
		known := false
		for _, name := range allowed {
			if key == name {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("field %q cannot be changed", key)
		}
	}
	return nil
}

func requiredString(data map[string]any, key string) (string, error) {
	value, err := optionalString(data, key)
	if err != nil {
		return "", err
	}
	if value == "" {
		return "", fmt.Errorf("%s is required", key)
	}
	return value, nil
}

func optionalString(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(value), nil
}

func optionalInt(data map[string]any, key string) (int, bool, error) {
	raw, ok := data[key]
	if !ok || raw == nil {
		return 0, false, nil
	}
	switch v := raw.(type) {
	case int:
		return v, true, nil
	case int64:
		return int(v), true, nil
	case float64:
		if v != math.Trunc(v) {
			return 0, false, fmt.Errorf("%s must be an integer", key)
		}
		return int(v), true, nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false, fmt.Errorf("%s must be an integer", key)
		}
		return int(n), true, nil
	default:
		return 0, false, fmt.Errorf("%s must be an integer", key)
	}
}
