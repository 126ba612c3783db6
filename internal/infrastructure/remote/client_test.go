package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/infrastructure/resilience"
)

func fastExecutor() *resilience.Executor {
	return resilience.NewExecutor(resilience.Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: time.Millisecond,
		RetryMaxBackoff:     2 * time.Millisecond,
		RetryMultiplier:     2,
	}, nil)
}

func TestExtractorSendsDocumentAndOptions(t *testing.T) {
	var captured map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/extract" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("unexpected authorization header %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"confidence":0.93,"metadata":{"invoice":"42"}}`))
	}))
	defer server.Close()

	extractor := NewExtractor(NewClient("extraction", server.URL, Options{Token: "secret"}))
	result, err := extractor.Extract(context.Background(), "doc-1", domain.ExtractOptions{OptimizeForSpeed: true, EnableCache: true})
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if result.Confidence != 0.93 || !strings.Contains(string(result.Metadata), "invoice") {
		t.Fatalf("unexpected result: %+v", result)
	}
	if captured["documentId"] != "doc-1" {
		t.Fatalf("unexpected request: %v", captured)
	}
	options, _ := captured["options"].(map[string]any)
	if options["optimizeForSpeed"] != true || options["enableCache"] != true {
		t.Fatalf("unexpected options: %v", captured["options"])
	}
}

func TestExtractorRetriesOverloadAndMarksTemporary(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "extractor busy", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	extractor := NewExtractor(NewClient("extraction", server.URL, Options{Executor: fastExecutor()}))
	_, err := extractor.Extract(context.Background(), "doc-1", domain.ExtractOptions{})
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary error, got %v", err)
	}
	if !strings.Contains(err.Error(), "extractor busy") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls.Load())
	}
}

func TestExporterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown format", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	exporter := NewExporter(NewClient("export", server.URL, Options{Executor: fastExecutor()}))
	err := exporter.Export(context.Background(), "batch-1", "xml")
	if err == nil || domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single attempt, got %d", calls.Load())
	}
}

func TestAPIEntityEndpoints(t *testing.T) {
	type seen struct {
		method string
		path   string
		body   map[string]any
	}
	var (
		mu       sync.Mutex
		requests []seen
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := seen{method: r.Method, path: r.URL.Path}
		if r.Body != nil && r.ContentLength > 0 {
			_ = json.NewDecoder(r.Body).Decode(&req.body)
		}
		mu.Lock()
		requests = append(requests, req)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	api := NewAPI(NewClient("api", server.URL, Options{}))
	docs := api.Entities("documents")
	ctx := context.Background()
	if err := docs.Insert(ctx, map[string]any{"batchId": "b-1", "fileType": "pdf"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if err := docs.Update(ctx, "doc-1", map[string]any{"validated": true}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if err := docs.Delete(ctx, "doc-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 3 {
		t.Fatalf("expected 3 requests, got %d", len(requests))
	}
	want := []struct{ method, path string }{
		{http.MethodPost, "/v1/entities/documents"},
		{http.MethodPatch, "/v1/entities/documents/doc-1"},
		{http.MethodDelete, "/v1/entities/documents/doc-1"},
	}
	for i, w := range want {
		if requests[i].method != w.method || requests[i].path != w.path {
			t.Fatalf("request %d = %s %s, want %s %s", i, requests[i].method, requests[i].path, w.method, w.path)
		}
	}
	if requests[0].body["batchId"] != "b-1" || requests[1].body["validated"] != true {
		t.Fatalf("unexpected bodies: %+v", requests)
	}
}

func TestAPIHealthy(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" || !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer server.Close()

	api := NewAPI(NewClient("api", server.URL, Options{}))
	if !api.Healthy(context.Background()) {
		t.Fatalf("expected healthy")
	}
	healthy.Store(false)
	if api.Healthy(context.Background()) {
		t.Fatalf("expected unhealthy")
	}

	offline := NewAPI(NewClient("api", "http://127.0.0.1:1", Options{Timeout: 200 * time.Millisecond}))
	if offline.Healthy(context.Background()) {
		t.Fatalf("expected unreachable server to be unhealthy")
	}
}
