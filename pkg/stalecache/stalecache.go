// Package stalecache supplies a keyed stale-while-revalidate cache for
// session scoped remote reads.
//
// A read on a fresh entry is served from memory without touching the source.
// A read on a stale but not yet evicted entry is served from memory as well,
// and a single deduplicated refetch is scheduled in the background, so the
// caller never observes a loading state for data it has already seen.
// Only a missing or evicted entry blocks the caller on the source.
package stalecache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.llib.dev/frameless/adapter/memory"
	"go.llib.dev/frameless/pkg/contextkit"
	"go.llib.dev/frameless/pkg/errorkit"
	"go.llib.dev/frameless/pkg/logger"
	"go.llib.dev/frameless/pkg/logging"
	"go.llib.dev/frameless/pkg/resilience"
	"go.llib.dev/frameless/pkg/tasker"
	"go.llib.dev/frameless/pkg/zerokit"
	"go.llib.dev/testcase/clock"

	"github.com/neighborline/core/port/remote"
)

// Key identifies a cache entry.
// Keys are opaque strings; the cascade key set used on tenant switch
// is defined by the session package, not here.
type Key string

const ErrClosed errorkit.Error = "stalecache: the cache is already closed"

// Source is the location of the original data.
type Source interface {
	Fetch(ctx context.Context, key Key) (any, error)
}

// SourceFunc supplies the Source interface for a plain function.
type SourceFunc func(ctx context.Context, key Key) (any, error)

func (fn SourceFunc) Fetch(ctx context.Context, key Key) (any, error) { return fn(ctx, key) }

const (
	defaultStaleAfter = 5 * time.Minute
	defaultEvictAfter = 10 * time.Minute
)

type Cache struct {
	// Source is where cache misses and revalidations read from.
	Source Source
	// StaleAfter is the duration after which a cached value is still served,
	// but a background refetch gets scheduled on access.
	//
	// default: 5 minutes
	StaleAfter time.Duration
	// EvictAfter is the duration of disuse after which an entry is discarded
	// entirely and the next read blocks on the Source again.
	// Every read slides the eviction deadline forward.
	//
	// default: 10 minutes
	EvictAfter time.Duration
	// RetryPolicy decides how transient fetch failures are retried
	// before the failure surfaces to the caller.
	//
	// default: up to 2 retries after the first failed attempt
	RetryPolicy resilience.RetryPolicy[resilience.FailureCount]
	// Transient reports whether a fetch failure is worth retrying.
	//
	// default: errors.Is(err, remote.ErrNetwork)
	Transient func(error) bool

	mu      sync.Mutex
	entries map[Key]*entry
	locks   *memory.LockerFactory[Key]
	jobs    sync.WaitGroup
	closed  bool
}

// entry is a cached value with its staleness and eviction clocks.
// A present entry holding a nil value is a successful "resolved to nothing"
// answer, which is distinct from the key being absent altogether.
type entry struct {
	value     any
	fetchedAt time.Time
	staleAt   time.Time
	evictAt   time.Time
	// gen changes whenever the entry content is replaced or invalidated,
	// so refetches that were in flight across the change get discarded
	// instead of applied.
	gen int
}

// Get returns the cached value for the key.
//
// Fresh entries are returned without any source call.
// Stale entries are returned immediately while a background refetch is
// scheduled; at most one refetch is in flight per key at a time.
// Missing or evicted entries block on a synchronous fetch.
func (c *Cache) Get(ctx context.Context, key Key) (any, error) {
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	now := clock.Now()
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.getEntries()[key]
	if ok && now.Before(e.evictAt) {
		e.evictAt = now.Add(c.getEvictAfter())
		value := e.value
		if now.Before(e.staleAt) {
			c.mu.Unlock()
			return value, nil
		}
		c.scheduleRefresh(ctx, key, e.gen)
		c.mu.Unlock()
		return value, nil
	}
	if ok { // evicted by disuse
		delete(c.getEntries(), key)
	}
	c.mu.Unlock()

	value, err := c.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return value, nil
	}
	c.store(key, value)
	return value, nil
}

// Set writes the value into the cache synchronously, bypassing the Source.
// It is meant for optimistic updates such as switching the active tenant;
// the backing store is never written by this cache.
func (c *Cache) Set(ctx context.Context, key Key, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.store(key, value)
}

// Invalidate marks the given entries stale immediately.
// It does not refetch eagerly; the next Get on an invalidated key is
// guaranteed to trigger a fetch. Entries are marked before Invalidate
// returns, so the caller observes the cascade as a single atomic step.
func (c *Cache) Invalidate(ctx context.Context, keys ...Key) {
	now := clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range keys {
		e, ok := c.getEntries()[key]
		if !ok {
			continue
		}
		e.staleAt = now
		e.gen++
	}
}

// Contains reports whether the key currently holds a non-evicted entry.
// A cached nil value counts as present.
func (c *Cache) Contains(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.getEntries()[key]
	return ok && clock.Now().Before(e.evictAt)
}

// Close stops background revalidation and waits for in-flight refetches.
// Results of refetches that finish after Close are discarded.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.jobs.Wait()
	return nil
}

// GetAs reads a key through the cache and asserts the value's type.
// A cached nil yields the zero value without error.
func GetAs[T any](ctx context.Context, c *Cache, key Key) (T, error) {
	var zero T
	value, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	if value == nil {
		return zero, nil
	}
	v, ok := value.(T)
	if !ok {
		return zero, fmt.Errorf("stalecache: %q holds a %T, not a %T", key, value, zero)
	}
	return v, nil
}

// store replaces the entry content and resets its clocks.
// The cache mutex must be held by the caller.
func (c *Cache) store(key Key, value any) {
	now := clock.Now()
	e, ok := c.getEntries()[key]
	if !ok {
		e = &entry{}
		c.getEntries()[key] = e
	}
	e.value = value
	e.fetchedAt = now
	e.staleAt = now.Add(c.getStaleAfter())
	e.evictAt = now.Add(c.getEvictAfter())
	e.gen++
}

// scheduleRefresh enqueues a background refetch for a stale entry.
// The per-key non-blocking lock guarantees that a key has at most one
// refetch in flight; a schedule attempt while one runs is a no-op.
// The cache mutex must be held by the caller.
func (c *Cache) scheduleRefresh(ctx context.Context, key Key, gen int) {
	task := tasker.WithNoOverlap(c.getLocks().NonBlockingLockerFor(key), func(ctx context.Context) error {
		if !c.needsRefresh(key, gen) {
			return nil
		}
		value, err := c.fetch(ctx, key)
		if err != nil {
			logger.Warn(ctx, "background refresh of a cache entry failed",
				logging.Field("key", string(key)),
				logging.ErrField(err))
			return nil
		}
		c.apply(key, gen, value)
		return nil
	})
	c.jobs.Add(1)
	go func(ctx context.Context) {
		defer c.jobs.Done()
		_ = task(ctx)
	}(contextkit.Detach(ctx))
}

func (c *Cache) needsRefresh(key Key, gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	e, ok := c.getEntries()[key]
	return ok && e.gen == gen && !clock.Now().Before(e.staleAt)
}

// apply stores the refetch result unless the entry content changed while the
// fetch was in flight, in which case the result is discarded.
func (c *Cache) apply(key Key, gen int, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	e, ok := c.getEntries()[key]
	if !ok || e.gen != gen {
		return
	}
	c.store(key, value)
}

// fetch reads from the Source, retrying transient failures
// according to the retry policy.
func (c *Cache) fetch(ctx context.Context, key Key) (any, error) {
	var (
		policy  = c.getRetryPolicy()
		lastErr error
	)
	for failureCount := 0; policy.ShouldTry(ctx, failureCount); failureCount++ {
		value, err := c.Source.Fetch(ctx, key)
		if err == nil {
			return value, nil
		}
		if !c.isTransient(err) {
			return nil, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ctx.Err()
	}
	return nil, lastErr
}

func (c *Cache) isTransient(err error) bool {
	if c.Transient != nil {
		return c.Transient(err)
	}
	return errors.Is(err, remote.ErrNetwork)
}

func (c *Cache) getEntries() map[Key]*entry {
	return zerokit.Init(&c.entries, func() map[Key]*entry {
		return make(map[Key]*entry)
	})
}

func (c *Cache) getLocks() *memory.LockerFactory[Key] {
	return zerokit.Init(&c.locks, memory.NewLockerFactory[Key])
}

func (c *Cache) getStaleAfter() time.Duration {
	return zerokit.Coalesce(c.StaleAfter, defaultStaleAfter)
}

func (c *Cache) getEvictAfter() time.Duration {
	return zerokit.Coalesce(c.EvictAfter, defaultEvictAfter)
}

func (c *Cache) getRetryPolicy() resilience.RetryPolicy[resilience.FailureCount] {
	if c.RetryPolicy != nil {
		return c.RetryPolicy
	}
	return resilience.FixedDelay{Attempts: 3}
}
