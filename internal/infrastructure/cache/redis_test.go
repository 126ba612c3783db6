package cache

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kirillkom/intake-scheduler/internal/core/domain"
)

type redisFake struct {
	mu     sync.Mutex
	values map[string]string
	getErr error
	sets   int
}

func newRedisFake() *redisFake {
	return &redisFake{values: make(map[string]string)}
}

func (r *redisFake) Get(_ context.Context, key string) *redis.StringCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return redis.NewStringResult("", r.getErr)
	}
	v, ok := r.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (r *redisFake) SetNX(_ context.Context, key string, value interface{}, _ time.Duration) *redis.BoolCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.values[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	r.values[key] = toString(value)
	return redis.NewBoolResult(true, nil)
}

func (r *redisFake) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.values[key] = toString(value)
	r.sets++
	return redis.NewStatusResult("OK", nil)
}

func (r *redisFake) Del(_ context.Context, keys ...string) *redis.IntCmd {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := r.values[k]; ok {
			delete(r.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (r *redisFake) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.values[key]
	return ok
}

func toString(v interface{}) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		raw, _ := json.Marshal(t)
		return string(raw)
	}
}

func fastRedisOptions() RedisOptions {
	return RedisOptions{Prefix: "test", LockTTL: time.Second, PollInterval: 5 * time.Millisecond}
}

func TestRedisResultCacheStoresSuccessfulLoad(t *testing.T) {
	client := newRedisFake()
	c := NewRedisResultCache(client, fastRedisOptions(), nil)
	loads := 0
	load := func(context.Context) (domain.ExtractionResult, error) {
		loads++
		return domain.ExtractionResult{Confidence: 0.7, Metadata: json.RawMessage(`{"a":1}`)}, nil
	}

	for i := 0; i < 2; i++ {
		result, err := c.GetOrLoad(context.Background(), "doc-1", load)
		if err != nil {
			t.Fatalf("GetOrLoad() error = %v", err)
		}
		if result.Confidence != 0.7 {
			t.Fatalf("unexpected result: %+v", result)
		}
	}
	if loads != 1 {
		t.Fatalf("expected one load, got %d", loads)
	}
	if client.has("test:loading:doc-1") {
		t.Fatalf("in-flight marker must be released")
	}
}

func TestRedisResultCacheWaitsForMarkerHolder(t *testing.T) {
	client := newRedisFake()
	client.values["test:loading:doc-1"] = "1"
	c := NewRedisResultCache(client, fastRedisOptions(), nil)

	go func() {
		time.Sleep(20 * time.Millisecond)
		raw, _ := json.Marshal(domain.ExtractionResult{Confidence: 0.9, Metadata: json.RawMessage(`{}`)})
		client.Set(context.Background(), "test:result:doc-1", raw, 0)
	}()

	result, err := c.GetOrLoad(context.Background(), "doc-1", func(context.Context) (domain.ExtractionResult, error) {
		t.Errorf("waiter must not load")
		return domain.ExtractionResult{}, nil
	})
	if err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}
	if result.Confidence != 0.9 {
		t.Fatalf("expected the holder's result, got %+v", result)
	}
}

func TestRedisResultCacheSkipsFailedLoads(t *testing.T) {
	client := newRedisFake()
	c := NewRedisResultCache(client, fastRedisOptions(), nil)
	errBoom := errors.New("boom")

	_, err := c.GetOrLoad(context.Background(), "doc-1", func(context.Context) (domain.ExtractionResult, error) {
		return domain.ExtractionResult{}, errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if client.sets != 0 || client.has("test:loading:doc-1") {
		t.Fatalf("failed load must not be stored and must release the marker")
	}
}

func TestRedisResultCacheFallsBackWhenUnavailable(t *testing.T) {
	client := newRedisFake()
	client.getErr = errors.New("connection refused")
	c := NewRedisResultCache(client, fastRedisOptions(), nil)

	result, err := c.GetOrLoad(context.Background(), "doc-1", func(context.Context) (domain.ExtractionResult, error) {
		return domain.ExtractionResult{Confidence: 0.5}, nil
	})
	if err != nil || result.Confidence != 0.5 {
		t.Fatalf("expected direct load, got %+v %v", result, err)
	}
}
