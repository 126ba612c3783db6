package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type jobEventsFake struct {
	mu      sync.Mutex
	updates []domain.JobUpdate
}

func (f *jobEventsFake) PublishJobUpdate(_ context.Context, update domain.JobUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, update)
	return nil
}

type dispatcherFake struct {
	batchID string
	opts    domain.DispatchOptions
	err     error
}

func (f *dispatcherFake) DispatchBatch(_ context.Context, batchID string, opts domain.DispatchOptions) (*domain.DispatchSummary, error) {
	f.batchID = batchID
	f.opts = opts
	if f.err != nil {
		return &domain.DispatchSummary{BatchID: batchID}, f.err
	}
	return &domain.DispatchSummary{BatchID: batchID, Processed: 3, Successful: 2, Failed: 1, DurationMs: 90, AvgDocTimeMs: 30}, nil
}

type jobMetricsFake struct {
	finished []string
	lagged   int
}

func (f *jobMetricsFake) StartJob() {}

func (f *jobMetricsFake) FinishJob(jobType string, _ time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	f.finished = append(f.finished, jobType+":"+outcome)
}

func (f *jobMetricsFake) ObserveQueueLag(string, time.Duration) { f.lagged++ }

func pendingJob(id, jobType, payload string) domain.Job {
	return domain.Job{
		ID:        id,
		JobType:   jobType,
		Payload:   json.RawMessage(payload),
		Status:    domain.JobPending,
		CreatedAt: time.Now().UTC().Add(-time.Second),
	}
}

func TestJobExecutorRunsExtractionJob(t *testing.T) {
	repo := newJobRepoFake(pendingJob("job-1", domain.JobTypeExtraction, `{"batchId":"b1","maxParallel":2,"prioritizeSimple":false}`))
	events := &jobEventsFake{}
	metrics := &jobMetricsFake{}
	dispatcher := &dispatcherFake{}
	executor := NewJobExecutor(repo, events, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
	executor.Handle(domain.JobTypeExtraction, ExtractionJobHandler(dispatcher))

	if err := executor.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if dispatcher.batchID != "b1" || dispatcher.opts.MaxParallel != 2 || dispatcher.opts.PrioritizeSimple || !dispatcher.opts.SkipProcessed {
		t.Fatalf("unexpected dispatch call: %s %+v", dispatcher.batchID, dispatcher.opts)
	}
	job := repo.get("job-1")
	if job.Status != domain.JobCompleted || job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatalf("unexpected job: %+v", job)
	}
	var result map[string]any
	if err := json.Unmarshal(job.Result, &result); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if result["processed"] != float64(3) || result["failed"] != float64(1) {
		t.Fatalf("unexpected result: %s", job.Result)
	}
	if len(events.updates) != 2 || events.updates[0].Status != domain.JobProcessing || events.updates[1].Status != domain.JobCompleted {
		t.Fatalf("unexpected updates: %+v", events.updates)
	}
	if metrics.lagged != 1 || len(metrics.finished) != 1 || metrics.finished[0] != "extraction:ok" {
		t.Fatalf("unexpected metrics: %+v", metrics)
	}
}

func TestJobExecutorMarksFailure(t *testing.T) {
	repo := newJobRepoFake(
		pendingJob("job-1", domain.JobTypeExtraction, `{"batchId":"b1"}`),
		pendingJob("job-2", "thumbnail", `{}`),
	)
	events := &jobEventsFake{}
	executor := NewJobExecutor(repo, events, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	executor.Handle(domain.JobTypeExtraction, ExtractionJobHandler(&dispatcherFake{
		err: domain.WrapError(domain.ErrSelection, "select documents", errors.New("db down")),
	}))

	if err := executor.Run(context.Background(), "job-1"); err == nil {
		t.Fatalf("expected run error")
	}
	job := repo.get("job-1")
	if job.Status != domain.JobFailed || !strings.Contains(job.ErrorMessage, "db down") {
		t.Fatalf("unexpected job: %+v", job)
	}
	if last := events.updates[len(events.updates)-1]; last.Status != domain.JobFailed || last.ErrorMessage == "" {
		t.Fatalf("unexpected last update: %+v", last)
	}

	if err := executor.Run(context.Background(), "job-2"); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected unknown job type error, got %v", err)
	}
	if got := repo.get("job-2").Status; got != domain.JobFailed {
		t.Fatalf("status = %s, want failed", got)
	}
}

func TestJobExecutorSkipsTerminalJobs(t *testing.T) {
	done := pendingJob("job-1", domain.JobTypeExtraction, `{}`)
	done.Status = domain.JobCompleted
	repo := newJobRepoFake(done)
	events := &jobEventsFake{}
	dispatcher := &dispatcherFake{}
	executor := NewJobExecutor(repo, events, nil, nil)
	executor.Handle(domain.JobTypeExtraction, ExtractionJobHandler(dispatcher))

	if err := executor.Run(context.Background(), "job-1"); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if dispatcher.batchID != "" || len(events.updates) != 0 {
		t.Fatalf("terminal job must not run again")
	}
}

type exporterFake struct {
	batchID string
	format  string
	err     error
}

func (f *exporterFake) Export(_ context.Context, batchID, format string) error {
	f.batchID = batchID
	f.format = format
	return f.err
}

func TestExportJobHandler(t *testing.T) {
	tracker, batches, _, _ := newTrackerFixture(domain.Batch{ID: "b1", Status: domain.BatchComplete, TotalDocuments: 1, ValidatedDocuments: 1})
	exporter := &exporterFake{}
	handler := ExportJobHandler(tracker, exporter)

	result, err := handler(context.Background(), &domain.Job{Payload: json.RawMessage(`{"batchId":"b1","format":"csv"}`)})
	if err != nil {
		t.Fatalf("handler error = %v", err)
	}
	if exporter.batchID != "b1" || exporter.format != "csv" {
		t.Fatalf("unexpected export call: %+v", exporter)
	}
	if !strings.Contains(string(result), `"format":"csv"`) {
		t.Fatalf("unexpected result: %s", result)
	}
	if got := batches.get("b1").Status; got != domain.BatchExported {
		t.Fatalf("status = %s, want exported", got)
	}

	if _, err := handler(context.Background(), &domain.Job{Payload: json.RawMessage(`not json`)}); !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
