package domain

import (
	"encoding/json"
	"time"
)

type Document struct {
	ID                 string          `json:"id"`
	BatchID            string          `json:"batchId"`
	FileType           string          `json:"fileType"`
	ConfidenceScore    *float64        `json:"confidenceScore,omitempty"`
	ExtractedMetadata  json.RawMessage `json:"extractedMetadata,omitempty"`
	ProcessingPriority int             `json:"processingPriority"`
	ValidatedAt        *time.Time      `json:"validatedAt,omitempty"`
	CreatedAt          time.Time       `json:"createdAt"`
	// FailedAt marks an unfinished document whose last extraction failed.
	FailedAt *time.Time `json:"failedAt,omitempty"`
}

// Unfinished reports whether extraction has not yet produced both a
// confidence score and metadata.
func (d Document) Unfinished() bool {
	return d.ConfidenceScore == nil || len(d.ExtractedMetadata) == 0 || string(d.ExtractedMetadata) == "null"
}

// SaveOutcome reports what storing an extraction result changed.
type SaveOutcome struct {
	// Finished is set when this save moved the document to finished.
	Finished bool
	// ClearedFailure is set when the save finished a document that carried
	// a failure mark.
	ClearedFailure bool
}

type ExtractOptions struct {
	OptimizeForSpeed bool `json:"optimizeForSpeed,omitempty"`
	EnableCache      bool `json:"enableCache,omitempty"`
}

type ExtractionResult struct {
	Confidence float64         `json:"confidence"`
	Metadata   json.RawMessage `json:"metadata"`
}

// ExtractionEvent reports an extraction finished by the collaborator on its
// own schedule, typically after the dispatcher stopped waiting.
type ExtractionEvent struct {
	DocumentID string          `json:"documentId"`
	BatchID    string          `json:"batchId,omitempty"`
	Confidence float64         `json:"confidence"`
	Metadata   json.RawMessage `json:"metadata"`
	Error      string          `json:"error,omitempty"`
}
