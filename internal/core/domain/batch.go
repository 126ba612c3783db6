package domain

import "time"

type BatchStatus string

const (
	BatchNew        BatchStatus = "new"
	BatchScanning   BatchStatus = "scanning"
	BatchIndexing   BatchStatus = "indexing"
	BatchValidation BatchStatus = "validation"
	BatchComplete   BatchStatus = "complete"
	BatchExported   BatchStatus = "exported"
	BatchError      BatchStatus = "error"
)

func (s BatchStatus) Terminal() bool {
	return s == BatchComplete || s == BatchExported || s == BatchError
}

type Batch struct {
	ID                 string      `json:"id"`
	Name               string      `json:"name"`
	Status             BatchStatus `json:"status"`
	TotalDocuments     int         `json:"totalDocuments"`
	ProcessedDocuments int         `json:"processedDocuments"`
	ValidatedDocuments int         `json:"validatedDocuments"`
	// ErrorCount is the number of unfinished documents whose last
	// extraction failed. Repeated failures of one document count once.
	ErrorCount      int        `json:"errorCount"`
	Priority        int        `json:"priority"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	ExportStartedAt *time.Time `json:"exportStartedAt,omitempty"`
}

// BatchDelta is applied atomically to the batch counters.
type BatchDelta struct {
	Total     int
	Processed int
	Validated int
	Errors    int
}

func (d BatchDelta) IsZero() bool {
	return d == BatchDelta{}
}

type Phase string

const (
	PhaseQueued             Phase = "queued"
	PhaseExtracting         Phase = "extracting"
	PhaseReadyForValidation Phase = "ready_for_validation"
	PhaseComplete           Phase = "complete"
	PhaseFailed             Phase = "failed"
)

// DerivePhase computes the display phase from stored status and counters.
// It is never persisted.
func DerivePhase(b Batch) Phase {
	switch {
	case b.Status == BatchError:
		return PhaseFailed
	case b.Status == BatchComplete || b.Status == BatchExported:
		return PhaseComplete
	case b.Status == BatchNew:
		return PhaseQueued
	case b.ValidatedDocuments >= b.TotalDocuments:
		return PhaseComplete
	// Applies to validation too: a document added after validation began
	// still needs extraction.
	case b.ProcessedDocuments < b.TotalDocuments:
		return PhaseExtracting
	default:
		return PhaseReadyForValidation
	}
}

// AdvanceBatchStatus returns the status the counters imply, or the current
// status when no transition applies. Terminal statuses never move.
func AdvanceBatchStatus(b Batch) BatchStatus {
	if b.Status.Terminal() || b.Status == BatchNew {
		return b.Status
	}
	if b.TotalDocuments > 0 && b.ValidatedDocuments >= b.TotalDocuments {
		return BatchComplete
	}
	switch b.Status {
	case BatchScanning:
		if b.TotalDocuments == 0 {
			return b.Status
		}
		if b.ProcessedDocuments >= b.TotalDocuments {
			return BatchIndexing
		}
		// ErrorCount holds distinct failed documents, so this fires only
		// when every document has failed.
		if b.ProcessedDocuments == 0 && b.ErrorCount >= b.TotalDocuments {
			return BatchError
		}
	case BatchIndexing:
		if b.ValidatedDocuments > 0 {
			return BatchValidation
		}
	}
	return b.Status
}

// BatchProgress is published after every tracker mutation.
type BatchProgress struct {
	BatchID            string      `json:"batchId"`
	Status             BatchStatus `json:"status"`
	Phase              Phase       `json:"phase"`
	TotalDocuments     int         `json:"totalDocuments"`
	ProcessedDocuments int         `json:"processedDocuments"`
	ValidatedDocuments int         `json:"validatedDocuments"`
	ErrorCount         int         `json:"errorCount"`
	ExportInFlight     bool        `json:"exportInFlight"`
}

func ProgressOf(b Batch) BatchProgress {
	return BatchProgress{
		BatchID:            b.ID,
		Status:             b.Status,
		Phase:              DerivePhase(b),
		TotalDocuments:     b.TotalDocuments,
		ProcessedDocuments: b.ProcessedDocuments,
		ValidatedDocuments: b.ValidatedDocuments,
		ErrorCount:         b.ErrorCount,
		ExportInFlight:     b.ExportStartedAt != nil,
	}
}
