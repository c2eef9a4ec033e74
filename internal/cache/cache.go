package cache

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"nas-web/internal/logging"
	"nas-web/internal/metrics"
)

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc func(ctx context.Context) (Value, error)

// Cache runs one computation per key and fans its result out.
type Cache struct {
	store Store
	group singleflight.Group
	log   *logging.Logger

	computations atomic.Int64
}

// New creates a Cache. store may be nil, leaving only in-flight
// deduplication.
func New(store Store) *Cache {
	return &Cache{store: store, log: logging.With("cache")}
}

// Key builds a cache key from the user, the derivative kind, the content
// fingerprint of the source and an optional parameter such as a size.
func Key(userID, kind, fingerprint, param string) string {
	key := fmt.Sprintf("user_%s:%s:%s", userID, kind, fingerprint)
	if param != "" {
		key += ":" + param
	}
	return key
}

// kindOf extracts the derivative kind from a key built by Key.
func kindOf(key string) string {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 {
		return "unknown"
	}
	return parts[1]
}

// GetOrCompute returns the value of key. The first caller checks the store
// and runs compute on a miss; callers arriving meanwhile wait for that
// result. Error variants are returned as errors alongside the value.
// ctx only bounds the wait: compute runs to completion for the other
// callers even if the first one gives up.
func (c *Cache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, compute ComputeFunc) (Value, error) {
	kind := kindOf(key)
	ch := c.group.DoChan(key, func() (any, error) {
		return c.lead(context.WithoutCancel(ctx), key, kind, ttl, compute), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		v := res.Val.(Value)
		if res.Shared {
			metrics.CacheRequestsTotal.WithLabelValues(kind, "shared").Inc()
		}
		return v, Err(v)
	}
}

func (c *Cache) lead(ctx context.Context, key, kind string, ttl time.Duration, compute ComputeFunc) Value {
	metrics.CacheInFlight.Inc()
	defer metrics.CacheInFlight.Dec()

	if v, ok := c.lookup(ctx, key); ok {
		metrics.CacheRequestsTotal.WithLabelValues(kind, "store_hit").Inc()
		return v
	}

	start := time.Now()
	c.computations.Add(1)
	v, err := compute(ctx)
	switch {
	case err != nil:
		v = FromError(err)
	case v == nil:
		v = Empty{}
	}
	metrics.CacheComputeDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	metrics.CacheRequestsTotal.WithLabelValues(kind, "computed").Inc()

	if cacheable(v) {
		c.save(ctx, key, v, ttl)
	} else {
		c.log.Debug("not caching transient error for %s: %v", key, err)
	}
	return v
}

// lookup reads key from the store. Any failure counts as a miss.
func (c *Cache) lookup(ctx context.Context, key string) (Value, bool) {
	if c.store == nil {
		return nil, false
	}

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.CacheStoreErrorsTotal.WithLabelValues("get").Inc()
		c.log.Warn("store lookup failed for %s: %v", key, err)
		return nil, false
	}
	if !ok {
		return nil, false
	}

	v, err := Decode(raw)
	if err != nil {
		metrics.CacheStoreErrorsTotal.WithLabelValues("decode").Inc()
		c.log.Warn("invalid store record for %s: %v", key, err)
		return nil, false
	}
	return v, true
}

func (c *Cache) save(ctx context.Context, key string, v Value, ttl time.Duration) {
	if c.store == nil {
		return
	}

	raw, err := Encode(v)
	if err != nil {
		c.log.Warn("cannot encode value for %s: %v", key, err)
		return
	}
	if err := c.store.SetWithTTL(ctx, key, raw, ttl); err != nil {
		metrics.CacheStoreErrorsTotal.WithLabelValues("set").Inc()
		c.log.Warn("store write failed for %s: %v", key, err)
	}
}

// Computations returns how many times a compute function was invoked.
func (c *Cache) Computations() int64 {
	return c.computations.Load()
}

// Close releases the store connection.
func (c *Cache) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}
