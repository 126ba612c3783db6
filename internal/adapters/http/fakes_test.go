package httpadapter

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/kirillkom/intake-scheduler/internal/config"
	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type jobsFake struct {
	mu          sync.Mutex
	createErr   error
	created     []domain.JobRequest
	callers     []domain.Caller
	views       map[string]domain.JobStatusView
	subscribers map[string][]func(domain.JobUpdate)
}

func newJobsFake() *jobsFake {
	return &jobsFake{
		views:       make(map[string]domain.JobStatusView),
		subscribers: make(map[string][]func(domain.JobUpdate)),
	}
}

func (f *jobsFake) CreateJob(ctx context.Context, req domain.JobRequest) (*domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	caller, ok := domain.CallerFromContext(ctx)
	if !ok {
		return nil, domain.WrapError(domain.ErrUnauthorized, "create job", errors.New("no caller identity"))
	}
	f.created = append(f.created, req)
	f.callers = append(f.callers, caller)
	return &domain.Job{ID: "job-1", JobType: req.JobType, Status: domain.JobPending}, nil
}

func (f *jobsFake) GetJobStatus(_ context.Context, jobID string) (*domain.JobStatusView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	view, ok := f.views[jobID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get job", errors.New(jobID))
	}
	return &view, nil
}

func (f *jobsFake) SubscribeToJob(jobID string, onUpdate func(domain.JobUpdate)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribers[jobID] = append(f.subscribers[jobID], onUpdate)
	return func() {}
}

func (f *jobsFake) emit(update domain.JobUpdate) {
	f.mu.Lock()
	subs := append([]func(domain.JobUpdate){}, f.subscribers[update.JobID]...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(update)
	}
}

type admissionFake struct {
	decision domain.AdmissionDecision
	usage    domain.TenantUsage
	err      error
}

func (f *admissionFake) CheckAdmission(context.Context, string, string) (domain.AdmissionDecision, error) {
	return f.decision, f.err
}

func (f *admissionFake) Usage(_ context.Context, customerID string) (domain.TenantUsage, error) {
	usage := f.usage
	usage.CustomerID = customerID
	return usage, f.err
}

type dispatcherFake struct {
	mu      sync.Mutex
	summary *domain.DispatchSummary
	err     error
	opts    []domain.DispatchOptions
}

func (f *dispatcherFake) DispatchBatch(_ context.Context, batchID string, opts domain.DispatchOptions) (*domain.DispatchSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opts = append(f.opts, opts)
	if f.err != nil {
		if f.summary != nil {
			return f.summary, f.err
		}
		return &domain.DispatchSummary{BatchID: batchID}, f.err
	}
	if f.summary != nil {
		return f.summary, nil
	}
	return &domain.DispatchSummary{BatchID: batchID, Waves: []domain.WaveSummary{}, Results: []domain.DocumentResult{}}, nil
}

type batchesFake struct {
	mu      sync.Mutex
	batches map[string]domain.Batch
	perID   map[string][]func(domain.BatchProgress)
	global  []func(domain.BatchProgress)
}

func newBatchesFake(batches ...domain.Batch) *batchesFake {
	f := &batchesFake{batches: make(map[string]domain.Batch), perID: make(map[string][]func(domain.BatchProgress))}
	for _, b := range batches {
		f.batches[b.ID] = b
	}
	return f
}

func (f *batchesFake) Batch(_ context.Context, batchID string) (*domain.Batch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.batches[batchID]
	if !ok {
		return nil, domain.WrapError(domain.ErrNotFound, "get batch", errors.New(batchID))
	}
	return &b, nil
}

func (f *batchesFake) SubscribeToBatch(batchID string, fn func(domain.BatchProgress)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perID[batchID] = append(f.perID[batchID], fn)
	return func() {}
}

func (f *batchesFake) SubscribeToAll(fn func(domain.BatchProgress)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.global = append(f.global, fn)
	return func() {}
}

func (f *batchesFake) subscriberCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.global)
	for _, subs := range f.perID {
		n += len(subs)
	}
	return n
}

func (f *batchesFake) emit(progress domain.BatchProgress) {
	f.mu.Lock()
	subs := append([]func(domain.BatchProgress){}, f.perID[progress.BatchID]...)
	subs = append(subs, f.global...)
	f.mu.Unlock()
	for _, fn := range subs {
		fn(progress)
	}
}

type entityCall struct {
	action string
	kind   string
	id     string
	data   map[string]any
}

type entitiesFake struct {
	mu    sync.Mutex
	calls []entityCall
	err   error
}

func (f *entitiesFake) record(call entityCall) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *entitiesFake) Insert(_ context.Context, kind string, data map[string]any) error {
	return f.record(entityCall{action: "insert", kind: kind, data: data})
}

func (f *entitiesFake) Update(_ context.Context, kind, id string, patch map[string]any) error {
	return f.record(entityCall{action: "update", kind: kind, id: id, data: patch})
}

func (f *entitiesFake) Delete(_ context.Context, kind, id string) error {
	return f.record(entityCall{action: "delete", kind: kind, id: id})
}

type eventsFake struct {
	mu     sync.Mutex
	events []domain.ExtractionEvent
	err    error
}

func (f *eventsFake) PublishExtractionEvent(_ context.Context, event domain.ExtractionEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

type verifierFake struct{}

func (verifierFake) Verify(token string) (domain.Caller, error) {
	if token != "good-token" {
		return domain.Caller{}, domain.WrapError(domain.ErrUnauthorized, "verify token", errors.New("bad token"))
	}
	return domain.Caller{Subject: "user-7", CustomerID: "acme"}, nil
}

type testRouter struct {
	jobs       *jobsFake
	admission  *admissionFake
	dispatcher *dispatcherFake
	batches    *batchesFake
	entities   *entitiesFake
	events     *eventsFake
}

func newTestRouter(cfg config.Config, verifier TokenVerifier) (*testRouter, http.Handler) {
	tr := &testRouter{
		jobs:       newJobsFake(),
		admission:  &admissionFake{decision: domain.AdmissionDecision{Allowed: true}},
		dispatcher: &dispatcherFake{},
		batches:    newBatchesFake(),
		entities:   &entitiesFake{},
		events:     &eventsFake{},
	}
	handler := NewRouter(cfg, Dependencies{
		Jobs:       tr.jobs,
		Admission:  tr.admission,
		Dispatcher: tr.dispatcher,
		Batches:    tr.batches,
		Entities:   tr.entities,
		Events:     tr.events,
		Auth:       verifier,
	}).Handler()
	return tr, handler
}
