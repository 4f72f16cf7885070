package query

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/brojonat/idproperty/service/metrics"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const defaultFetchTimeout = 30 * time.Second

type entry struct {
	key   Key
	value any
}

// Cache holds loaded reads until they go stale. Concurrent misses for the
// same key share one fetch. Errors are never stored, so the next Get
// retries.
type Cache struct {
	lru     *expirable.LRU[string, entry]
	group   singleflight.Group
	epoch   atomic.Uint64
	metrics *metrics.Metrics
	logger  *slog.Logger

	fetchTimeout time.Duration
}

// NewCache creates a cache of at most size entries that expire after
// staleTime. If metrics is nil, no metrics will be recorded.
func NewCache(size int, staleTime time.Duration, m *metrics.Metrics, logger *slog.Logger) *Cache {
	return &Cache{
		lru:          expirable.NewLRU[string, entry](size, nil, staleTime),
		metrics:      m,
		logger:       logger,
		fetchTimeout: defaultFetchTimeout,
	}
}

// Get returns the cached value for key or loads it with fetch.
func Get[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) Result[T] {
	id := key.String()

	if e, ok := c.lru.Get(id); ok {
		if v, ok := e.value.(T); ok {
			c.record(key, "hit")
			return Success(v)
		}
	}

	// Writes from fetches that started before an invalidation are dropped.
	epoch := c.epoch.Load()
	flightKey := id + "@" + strconv.FormatUint(epoch, 10)

	ch := c.group.DoChan(flightKey, func() (interface{}, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.fetchTimeout)
		defer cancel()

		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		if c.epoch.Load() == epoch {
			c.lru.Add(id, entry{key: key, value: v})
		}
		return v, nil
	})

	select {
	case <-ctx.Done():
		return Failure[T](ctx.Err())
	case res := <-ch:
		if res.Shared {
			c.record(key, "shared")
		} else {
			c.record(key, "miss")
		}
		if res.Err != nil {
			c.logger.DebugContext(ctx, "read failed", "key", id, "error", res.Err)
			return Failure[T](res.Err)
		}
		v, _ := res.Val.(T)
		return Success(v)
	}
}

// Reload fetches key even when it is cached and stores the value on
// success. A failed fetch leaves the cached value in place.
func Reload[T any](ctx context.Context, c *Cache, key Key, fetch func(context.Context) (T, error)) Result[T] {
	id := key.String()
	epoch := c.epoch.Load()

	fctx, cancel := context.WithTimeout(ctx, c.fetchTimeout)
	defer cancel()
	v, err := fetch(fctx)
	if err != nil {
		c.record(key, "reload_failed")
		c.logger.DebugContext(ctx, "reload failed, keeping cached value", "key", id, "error", err)
		return Failure[T](err)
	}
	if c.epoch.Load() == epoch {
		c.lru.Add(id, entry{key: key, value: v})
	}
	c.record(key, "reload")
	return Success(v)
}

// Peek returns a cached value without fetching.
func Peek[T any](c *Cache, key Key) Result[T] {
	if e, ok := c.lru.Peek(key.String()); ok {
		if v, ok := e.value.(T); ok {
			return Success(v)
		}
	}
	return Idle[T]()
}

// Invalidate drops every entry for which match returns true and returns how
// many were dropped. In-flight fetches will not repopulate the cache.
func (c *Cache) Invalidate(match func(Key) bool) int {
	c.epoch.Add(1)
	dropped := 0
	for _, id := range c.lru.Keys() {
		e, ok := c.lru.Peek(id)
		if !ok || !match(e.key) {
			continue
		}
		if c.lru.Remove(id) {
			dropped++
			if c.metrics != nil {
				c.metrics.RecordCacheInvalidation(e.key.Function, 1)
			}
		}
	}
	return dropped
}

// InvalidateFunctions drops entries of the named functions on contract.
func (c *Cache) InvalidateFunctions(contract string, functions ...string) int {
	want := make(map[string]struct{}, len(functions))
	for _, f := range functions {
		want[f] = struct{}{}
	}
	target := NewKey(contract, "").Contract
	return c.Invalidate(func(k Key) bool {
		if k.Contract != target {
			return false
		}
		_, ok := want[k.Function]
		return ok
	})
}

// InvalidateAll empties the cache.
func (c *Cache) InvalidateAll() {
	c.epoch.Add(1)
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) record(key Key, result string) {
	if c.metrics != nil {
		c.metrics.RecordCacheLookup(key.Function, result)
	}
}
