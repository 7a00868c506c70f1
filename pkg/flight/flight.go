// Package flight memoizes keyed computations. Concurrent requests for one
// key share a single in-flight load.
package flight

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// call is the promise for one key. val and err are written once before
// done is closed.
type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Cache maps keys to resolved values or in-flight loads. Failed loads are
// forgotten so the next Get retries.
type Cache[V any] struct {
	mu       sync.Mutex
	entries  map[string]*call[V]
	disabled bool
	metrics  *Metrics
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	metrics  *Metrics
	disabled bool
}

// WithMetrics records hits, loads and load latency.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Disabled creates the cache in pass-through mode.
func Disabled() Option {
	return func(o *options) { o.disabled = true }
}

func New[V any](opts ...Option) *Cache[V] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{
		entries:  map[string]*call[V]{},
		disabled: o.disabled,
		metrics:  o.metrics,
	}
}

// Get returns the value for key, running load if no resolved or in-flight
// entry exists. Concurrent callers for the same key all observe the result
// of one load. When a shared load fails only because its caller's context
// ended, waiters whose own context is alive start a new load.
func (c *Cache[V]) Get(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	for {
		c.mu.Lock()
		if c.disabled {
			c.mu.Unlock()
			return c.run(ctx, key, load)
		}
		if cl, ok := c.entries[key]; ok {
			c.mu.Unlock()
			select {
			case <-cl.done:
				c.metrics.hit(key)
			default:
				c.metrics.coalesce(key)
				select {
				case <-cl.done:
				case <-ctx.Done():
					var zero V
					return zero, ctx.Err()
				}
			}
			if cl.err != nil && isCancellation(cl.err) && ctx.Err() == nil {
				continue
			}
			return cl.val, cl.err
		}
		cl := &call[V]{done: make(chan struct{})}
		c.entries[key] = cl
		c.mu.Unlock()

		c.resolve(ctx, key, cl, load)
		return cl.val, cl.err
	}
}

// resolve runs load for cl and publishes the outcome. Failed entries are
// removed unless the cache was invalidated in the meantime.
func (c *Cache[V]) resolve(ctx context.Context, key string, cl *call[V], load func(context.Context) (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			cl.err = fmt.Errorf("flight: load of %q panicked: %v", key, r)
		}
		if cl.err != nil {
			c.mu.Lock()
			if c.entries[key] == cl {
				delete(c.entries, key)
			}
			c.mu.Unlock()
		}
		close(cl.done)
	}()
	cl.val, cl.err = c.run(ctx, key, load)
}

func (c *Cache[V]) run(ctx context.Context, key string, load func(context.Context) (V, error)) (V, error) {
	start := time.Now()
	c.metrics.load(key)
	v, err := load(ctx)
	c.metrics.done(key, time.Since(start), err)
	return v, err
}

// Invalidate drops every entry. Loads in flight complete for their current
// waiters but are not stored.
func (c *Cache[V]) Invalidate() {
	c.mu.Lock()
	c.entries = map[string]*call[V]{}
	c.mu.Unlock()
}

// SetEnabled switches caching on or off. A disabled cache loads on every
// Get and holds no entries.
func (c *Cache[V]) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.disabled = !enabled
	if !enabled {
		c.entries = map[string]*call[V]{}
	}
	c.mu.Unlock()
}

// Enabled reports whether results are memoized.
func (c *Cache[V]) Enabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.disabled
}

// Len returns the number of resolved or in-flight entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
