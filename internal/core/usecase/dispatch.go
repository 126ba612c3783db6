package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

// FileTypeProfile describes the expected cost of one file type.
type FileTypeProfile struct {
	Complex bool
	Timeout time.Duration
}

// DispatchPolicy decides complexity and the soft timeout per file type.
type DispatchPolicy struct {
	SimpleTimeout  time.Duration
	ComplexTimeout time.Duration
	Profiles       map[string]FileTypeProfile
}

func DefaultDispatchPolicy() DispatchPolicy {
	return DispatchPolicy{
		SimpleTimeout:  30 * time.Second,
		ComplexTimeout: 90 * time.Second,
		Profiles: map[string]FileTypeProfile{
			"application/pdf": {Complex: true},
			"pdf":             {Complex: true},
			"image/tiff":      {Complex: true},
			"tiff":            {Complex: true},
			"tif":             {Complex: true},
		},
	}
}

func NormalizeFileType(fileType string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fileType)), ".")
}

func (p DispatchPolicy) IsComplex(fileType string) bool {
	return p.Profiles[NormalizeFileType(fileType)].Complex
}

func (p DispatchPolicy) TimeoutFor(fileType string) time.Duration {
	profile := p.Profiles[NormalizeFileType(fileType)]
	if profile.Timeout > 0 {
		return profile.Timeout
	}
	if profile.Complex {
		return p.ComplexTimeout
	}
	return p.SimpleTimeout
}

// DispatchRecorder receives per-document outcomes; BatchTracker implements it.
type DispatchRecorder interface {
	BeginDispatch(ctx context.Context, batchID string) error
	RecordExtracted(ctx context.Context, doc domain.Document, result domain.ExtractionResult) error
	RecordFailed(ctx context.Context, doc domain.Document, cause error) error
}

// BatchDispatcher fans extraction out in sequential waves of at most
// MaxParallel concurrent calls. Only the selection fetch can fail the whole
// dispatch; every later failure is isolated to its document.
type BatchDispatcher struct {
	documents ports.DocumentRepository
	extractor ports.Extractor
	recorder  DispatchRecorder
	policy    DispatchPolicy
	observer  ports.DispatchObserver
	logger    *slog.Logger
}

func NewBatchDispatcher(
	documents ports.DocumentRepository,
	extractor ports.Extractor,
	recorder DispatchRecorder,
	policy DispatchPolicy,
	observer ports.DispatchObserver,
	logger *slog.Logger,
) *BatchDispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchDispatcher{
		documents: documents,
		extractor: extractor,
		recorder:  recorder,
		policy:    policy,
		observer:  observer,
		logger:    logger,
	}
}

func (d *BatchDispatcher) DispatchBatch(ctx context.Context, batchID string, opts domain.DispatchOptions) (*domain.DispatchSummary, error) {
	start := time.Now()
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = domain.DefaultMaxParallel
	}
	summary := &domain.DispatchSummary{
		BatchID: batchID,
		Waves:   []domain.WaveSummary{},
		Results: []domain.DocumentResult{},
	}
	if strings.TrimSpace(batchID) == "" {
		return summary, domain.WrapError(domain.ErrInvalidInput, "dispatch batch", errors.New("batchId is required"))
	}
	log := d.logger.With("batch_id", batchID)

	docs, err := d.documents.ListForDispatch(ctx, batchID, opts.SkipProcessed)
	if err != nil {
		summary.DurationMs = time.Since(start).Milliseconds()
		d.observeDispatch(0, time.Since(start), err)
		log.Error("dispatch_selection_failed", "error", err, "duration_ms", summary.DurationMs)
		return summary, domain.WrapError(domain.ErrSelection, "select documents", err)
	}
	if opts.SkipProcessed {
		docs = unfinishedOnly(docs)
	}
	if len(docs) == 0 {
		summary.DurationMs = time.Since(start).Milliseconds()
		log.Info("dispatch_nothing_to_do")
		d.observeDispatch(0, time.Since(start), nil)
		return summary, nil
	}

	ordered := OrderForDispatch(docs, d.policy, opts.PrioritizeSimple)
	if err := d.recorder.BeginDispatch(ctx, batchID); err != nil {
		log.Warn("dispatch_begin_record_failed", "error", err)
	}

	waves := ChunkWaves(ordered, opts.MaxParallel)
	log.Info("dispatch_started", "documents", len(ordered), "waves", len(waves), "max_parallel", opts.MaxParallel)

	for i, wave := range waves {
		waveStart := time.Now()
		results := d.runWave(ctx, wave)
		waveDuration := time.Since(waveStart)

		waveOK, waveFailed := 0, 0
		for _, result := range results {
			if result.Success {
				waveOK++
			} else {
				waveFailed++
			}
		}
		summary.Successful += waveOK
		summary.Failed += waveFailed
		summary.Results = append(summary.Results, results...)
		summary.Waves = append(summary.Waves, domain.WaveSummary{
			Index:      i + 1,
			Size:       len(wave),
			DurationMs: waveDuration.Milliseconds(),
		})
		if d.observer != nil {
			d.observer.ObserveWave(len(wave), waveDuration)
		}
		log.Info("dispatch_wave_done",
			"wave", i+1,
			"size", len(wave),
			"successful", waveOK,
			"failed", waveFailed,
			"duration_ms", waveDuration.Milliseconds(),
		)
	}

	elapsed := time.Since(start)
	summary.Processed = len(summary.Results)
	summary.DurationMs = elapsed.Milliseconds()
	summary.AvgDocTimeMs = summary.DurationMs / int64(summary.Processed)
	d.observeDispatch(summary.Processed, elapsed, nil)
	log.Info("dispatch_finished",
		"processed", summary.Processed,
		"successful", summary.Successful,
		"failed", summary.Failed,
		"duration_ms", summary.DurationMs,
	)
	return summary, nil
}

// runWave issues every call of the wave at once and waits for all of them.
func (d *BatchDispatcher) runWave(ctx context.Context, wave []domain.Document) []domain.DocumentResult {
	results := make([]domain.DocumentResult, len(wave))
	var g errgroup.Group
	for i, doc := range wave {
		g.Go(func() error {
			results[i] = d.runDocument(ctx, doc)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type extractOutcome struct {
	result domain.ExtractionResult
	err    error
}

// runDocument races the extraction against a soft timeout. The call itself
// is never cancelled by the timeout, and its eventual outcome is still
// recorded by the goroutine that issued it.
func (d *BatchDispatcher) runDocument(ctx context.Context, doc domain.Document) domain.DocumentResult {
	start := time.Now()
	complexType := d.policy.IsComplex(doc.FileType)
	timeout := d.policy.TimeoutFor(doc.FileType)

	callCtx := context.WithoutCancel(ctx)
	done := make(chan extractOutcome, 1)
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		result, err := d.extractor.Extract(callCtx, doc.ID, domain.ExtractOptions{
			OptimizeForSpeed: !complexType,
			EnableCache:      true,
		})
		done <- extractOutcome{result: result, err: err}
		d.record(callCtx, doc, result, err)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	entry := domain.DocumentResult{DocumentID: doc.ID}
	select {
	case outcome := <-done:
		<-recorded
		entry.DurationMs = time.Since(start).Milliseconds()
		if outcome.err != nil {
			entry.Error = outcome.err.Error()
			d.observeDocument("failure", time.Since(start))
			return entry
		}
		confidence := outcome.result.Confidence
		entry.Success = true
		entry.Confidence = &confidence
		d.observeDocument("success", time.Since(start))
		return entry
	case <-timer.C:
		entry.DurationMs = time.Since(start).Milliseconds()
		entry.Success = true
		entry.Warning = domain.TimeoutWarning
		d.logger.Warn("extraction_soft_timeout",
			"batch_id", doc.BatchID,
			"document_id", doc.ID,
			"file_type", doc.FileType,
			"timeout_ms", timeout.Milliseconds(),
		)
		d.observeDocument("timeout", time.Since(start))
		return entry
	}
}

func (d *BatchDispatcher) record(ctx context.Context, doc domain.Document, result domain.ExtractionResult, err error) {
	var recordErr error
	if err != nil {
		recordErr = d.recorder.RecordFailed(ctx, doc, err)
	} else {
		recordErr = d.recorder.RecordExtracted(ctx, doc, result)
	}
	if recordErr != nil {
		d.logger.Error("dispatch_progress_write_failed", "batch_id", doc.BatchID, "document_id", doc.ID, "error", recordErr)
	}
}

func (d *BatchDispatcher) observeDocument(outcome string, duration time.Duration) {
	if d.observer != nil {
		d.observer.ObserveDocument(outcome, duration)
	}
}

func (d *BatchDispatcher) observeDispatch(processed int, duration time.Duration, err error) {
	if d.observer != nil {
		d.observer.ObserveDispatch(processed, duration, err)
	}
}

// OrderForDispatch returns documents by processing priority, descending.
// With prioritizeSimple, simple file types go before complex ones and
// priority breaks ties inside each group. Equal keys keep fetch order.
func OrderForDispatch(docs []domain.Document, policy DispatchPolicy, prioritizeSimple bool) []domain.Document {
	ordered := make([]domain.Document, len(docs))
	copy(ordered, docs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if prioritizeSimple {
			ci, cj := policy.IsComplex(ordered[i].FileType), policy.IsComplex(ordered[j].FileType)
			if ci != cj {
				return !ci
			}
		}
		return ordered[i].ProcessingPriority > ordered[j].ProcessingPriority
	})
	return ordered
}

// ChunkWaves splits docs into consecutive waves of at most size documents.
func ChunkWaves(docs []domain.Document, size int) [][]domain.Document {
	if size <= 0 {
		panic(fmt.Sprintf("wave size must be positive, got %d", size))
	}
	waves := make([][]domain.Document, 0, (len(docs)+size-1)/size)
	for start := 0; start < len(docs); start += size {
		end := min(start+size, len(docs))
		waves = append(waves, docs[start:end])
	}
	return waves
}

func unfinishedOnly(docs []domain.Document) []domain.Document {
	out := docs[:0:0]
	for _, doc := range docs {
		if doc.Unfinished() {
			out = append(out, doc)
		}
	}
	return out
}
