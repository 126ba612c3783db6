package domain

const TimeoutWarning = "timeout but processing continues"

type DispatchOptions struct {
	MaxParallel      int  `json:"maxParallel"`
	PrioritizeSimple bool `json:"prioritizeSimple"`
	SkipProcessed    bool `json:"skipProcessed"`
}

const DefaultMaxParallel = 5

func DefaultDispatchOptions() DispatchOptions {
	return DispatchOptions{
		MaxParallel:      DefaultMaxParallel,
		PrioritizeSimple: true,
		SkipProcessed:    true,
	}
}

type DocumentResult struct {
	DocumentID string   `json:"documentId"`
	Success    bool     `json:"success"`
	Confidence *float64 `json:"confidence,omitempty"`
	Warning    string   `json:"warning,omitempty"`
	Error      string   `json:"error,omitempty"`
	DurationMs int64    `json:"durationMs"`
}

type WaveSummary struct {
	Index      int   `json:"index"`
	Size       int   `json:"size"`
	DurationMs int64 `json:"durationMs"`
}

type DispatchSummary struct {
	BatchID      string           `json:"batchId"`
	Processed    int              `json:"processed"`
	Successful   int              `json:"successful"`
	Failed       int              `json:"failed"`
	DurationMs   int64            `json:"durationMs"`
	AvgDocTimeMs int64            `json:"avgDocTimeMs"`
	Waves        []WaveSummary    `json:"waves"`
	Results      []DocumentResult `json:"results"`
}
