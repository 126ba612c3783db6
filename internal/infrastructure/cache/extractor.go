package cache

import (
	"context"
	"strconv"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
	"github.com/kirillkom/intake-scheduler/internal/core/ports"
)

// CachingExtractor serves extractions through a result cache when the
// caller asks for it.
type CachingExtractor struct {
	next  ports.Extractor
	cache ports.ResultCache
}

func NewCachingExtractor(next ports.Extractor, cache ports.ResultCache) *CachingExtractor {
	return &CachingExtractor{next: next, cache: cache}
}

func (c *CachingExtractor) Extract(ctx context.Context, documentID string, opts domain.ExtractOptions) (domain.ExtractionResult, error) {
	if !opts.EnableCache || c.cache == nil {
		return c.next.Extract(ctx, documentID, opts)
	}
	key := documentID + ":" + strconv.FormatBool(opts.OptimizeForSpeed)
	return c.cache.GetOrLoad(ctx, key, func(loadCtx context.Context) (domain.ExtractionResult, error) {
		return c.next.Extract(loadCtx, documentID, opts)
	})
}
