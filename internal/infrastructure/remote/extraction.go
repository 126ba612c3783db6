package remote

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

// Extractor calls the field-extraction collaborator.
type Extractor struct {
	client *Client
}

func NewExtractor(client *Client) *Extractor {
	return &Extractor{client: client}
}

func (e *Extractor) Extract(ctx context.Context, documentID string, opts domain.ExtractOptions) (domain.ExtractionResult, error) {
	request := struct {
		DocumentID string                `json:"documentId"`
		Options    domain.ExtractOptions `json:"options"`
	}{DocumentID: documentID, Options: opts}

	var response struct {
		Confidence float64         `json:"confidence"`
		Metadata   json.RawMessage `json:"metadata"`
	}
	if err := e.client.call(ctx, http.MethodPost, "/v1/extract", request, &response, "extract"); err != nil {
		return domain.ExtractionResult{}, err
	}
	return domain.ExtractionResult{Confidence: response.Confidence, Metadata: response.Metadata}, nil
}

// Exporter hands finished batches to the export collaborator.
type Exporter struct {
	client *Client
}

func NewExporter(client *Client) *Exporter {
	return &Exporter{client: client}
}

func (e *Exporter) Export(ctx context.Context, batchID, format string) error {
	request := map[string]string{"batchId": batchID, "format": format}
	return e.client.call(ctx, http.MethodPost, "/v1/exports", request, nil, "export")
}
