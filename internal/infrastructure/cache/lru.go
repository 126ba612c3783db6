// Package cache memoizes extraction results in process or in Redis.
package cache

import (
	"context"
	"fmt"
	"sync"

	list "github.com/bahlo/generic-list-go"
	"golang.org/x/sync/singleflight"
)

type entry[K ~string, V any] struct {
	key   K
	value V
}

// LRU is a fixed-capacity least-recently-used cache. Concurrent loads of
// the same key share the first loader's result.
type LRU[K ~string, V any] struct {
	mu       sync.Mutex
	capacity int
	order    *list.List[entry[K, V]]
	items    map[K]*list.Element[entry[K, V]]
	loads    singleflight.Group
}

func NewLRU[K ~string, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		order:    list.New[entry[K, V]](),
		items:    make(map[K]*list.Element[entry[K, V]], capacity),
	}
}

func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.getLocked(key)
}

func (c *LRU[K, V]) Add(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addLocked(key, value)
}

func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// GetOrLoad returns the cached value or runs load once per key. Only
// successful loads are stored. A panicking load is reported as an error to
// every waiter.
func (c *LRU[K, V]) GetOrLoad(ctx context.Context, key K, load func(context.Context) (V, error)) (V, error) {
	var zero V
	if value, ok := c.Get(key); ok {
		return value, nil
	}

	ch := c.loads.DoChan(string(key), func() (value any, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("load %q panicked: %v", string(key), r)
			}
		}()
		if cached, ok := c.Get(key); ok {
			return cached, nil
		}
		loaded, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.Add(key, loaded)
		return loaded, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

func (c *LRU[K, V]) getLocked(key K) (V, bool) {
	elem, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.value, true
}

func (c *LRU[K, V]) addLocked(key K, value V) {
	if elem, ok := c.items[key]; ok {
		elem.Value.value = value
		c.order.MoveToFront(elem)
		return
	}
	c.items[key] = c.order.PushFront(entry[K, V]{key: key, value: value})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.key)
	}
}
