package cache

import (
	"context"
	"errors"
	"testing"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type extractorFake struct {
	calls int
	err   error
}

func (e *extractorFake) Extract(context.Context, string, domain.ExtractOptions) (domain.ExtractionResult, error) {
	e.calls++
	if e.err != nil {
		return domain.ExtractionResult{}, e.err
	}
	return domain.ExtractionResult{Confidence: 0.8}, nil
}

func TestCachingExtractorHonorsEnableCache(t *testing.T) {
	next := &extractorFake{}
	extractor := NewCachingExtractor(next, NewLRU[string, domain.ExtractionResult](8))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := extractor.Extract(ctx, "doc-1", domain.ExtractOptions{EnableCache: true}); err != nil {
			t.Fatalf("Extract() error = %v", err)
		}
	}
	if next.calls != 1 {
		t.Fatalf("expected cached extraction, got %d calls", next.calls)
	}

	if _, err := extractor.Extract(ctx, "doc-1", domain.ExtractOptions{}); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("expected uncached call when cache disabled, got %d calls", next.calls)
	}
}

func TestCachingExtractorDoesNotCacheFailures(t *testing.T) {
	next := &extractorFake{err: errors.New("extractor down")}
	extractor := NewCachingExtractor(next, NewLRU[string, domain.ExtractionResult](8))
	opts := domain.ExtractOptions{EnableCache: true}

	for i := 0; i < 2; i++ {
		if _, err := extractor.Extract(context.Background(), "doc-1", opts); err == nil {
			t.Fatalf("expected error")
		}
	}
	if next.calls != 2 {
		t.Fatalf("failures must not be cached, got %d calls", next.calls)
	}
}
