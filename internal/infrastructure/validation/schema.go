// Package validation checks job payloads against per-job-type JSON schemas.
package validation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

var defaultSchemas = map[string]map[string]any{
	domain.JobTypeExtraction: {
		"type":     "object",
		"required": []any{"batchId"},
		"properties": map[string]any{
			"batchId":          map[string]any{"type": "string", "minLength": 1},
			"maxParallel":      map[string]any{"type": "integer", "minimum": 1},
			"prioritizeSimple": map[string]any{"type": "boolean"},
			"skipProcessed":    map[string]any{"type": "boolean"},
		},
	},
	domain.JobTypeExport: {
		"type":     "object",
		"required": []any{"batchId", "format"},
		"properties": map[string]any{
			"batchId": map[string]any{"type": "string", "minLength": 1},
			"format":  map[string]any{"type": "string", "minLength": 1},
		},
	},
}

// PayloadValidator holds one compiled schema per known job type.
type PayloadValidator struct {
	schemas map[string]*jsonschema.Schema
}

func NewPayloadValidator() (*PayloadValidator, error) {
	return NewPayloadValidatorWithSchemas(defaultSchemas)
}

func NewPayloadValidatorWithSchemas(schemaMaps map[string]map[string]any) (*PayloadValidator, error) {
	compiler := jsonschema.NewCompiler()
	for jobType, schemaMap := range schemaMaps {
		raw, err := json.Marshal(schemaMap)
		if err != nil {
			return nil, fmt.Errorf("marshal %s schema: %w", jobType, err)
		}
		if err := compiler.AddResource(resourceName(jobType), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("add %s schema: %w", jobType, err)
		}
	}

	schemas := make(map[string]*jsonschema.Schema, len(schemaMaps))
	for jobType := range schemaMaps {
		schema, err := compiler.Compile(resourceName(jobType))
		if err != nil {
			return nil, fmt.Errorf("compile %s schema: %w", jobType, err)
		}
		schemas[jobType] = schema
	}
	return &PayloadValidator{schemas: schemas}, nil
}

func (v *PayloadValidator) JobTypes() []string {
	out := make([]string, 0, len(v.schemas))
	for jobType := range v.schemas {
		out = append(out, jobType)
	}
	sort.Strings(out)
	return out
}

func (v *PayloadValidator) Validate(jobType string, payload json.RawMessage) error {
	schema, ok := v.schemas[jobType]
	if !ok {
		return domain.WrapError(domain.ErrInvalidInput, "validate payload",
			fmt.Errorf("unknown jobType %q (known: %s)", jobType, strings.Join(v.JobTypes(), ", ")))
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate payload", fmt.Errorf("payload is not json: %w", err))
	}
	if err := schema.Validate(doc); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "validate payload", fmt.Errorf("%s payload does not match schema: %w", jobType, err))
	}
	return nil
}

func resourceName(jobType string) string {
	return jobType + ".json"
}
