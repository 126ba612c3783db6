package validation

import (
	"encoding/json"
	"testing"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

func TestPayloadValidator(t *testing.T) {
	v, err := NewPayloadValidator()
	if err != nil {
		t.Fatalf("NewPayloadValidator() error = %v", err)
	}

	cases := []struct {
		name    string
		jobType string
		payload string
		valid   bool
	}{
		{name: "extraction minimal", jobType: "extraction", payload: `{"batchId":"b-1"}`, valid: true},
		{name: "extraction options", jobType: "extraction", payload: `{"batchId":"b-1","maxParallel":3,"prioritizeSimple":false}`, valid: true},
		{name: "extraction missing batch", jobType: "extraction", payload: `{"maxParallel":3}`},
		{name: "extraction zero parallel", jobType: "extraction", payload: `{"batchId":"b-1","maxParallel":0}`},
		{name: "extraction wrong type", jobType: "extraction", payload: `{"batchId":7}`},
		{name: "export", jobType: "export", payload: `{"batchId":"b-1","format":"csv"}`, valid: true},
		{name: "export missing format", jobType: "export", payload: `{"batchId":"b-1"}`},
		{name: "unknown job type", jobType: "reindex", payload: `{}`},
		{name: "not json", jobType: "extraction", payload: `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Validate(tc.jobType, json.RawMessage(tc.payload))
			if tc.valid && err != nil {
				t.Fatalf("expected valid payload, got %v", err)
			}
			if !tc.valid && !domain.IsKind(err, domain.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestPayloadValidatorJobTypes(t *testing.T) {
	v, err := NewPayloadValidator()
	if err != nil {
		t.Fatalf("NewPayloadValidator() error = %v", err)
	}
	types := v.JobTypes()
	if len(types) != 2 || types[0] != "export" || types[1] != "extraction" {
		t.Fatalf("unexpected job types: %v", types)
	}
}
