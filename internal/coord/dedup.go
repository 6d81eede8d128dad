package coord

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// Defaults for the deduplicator's three windows.
const (
	DefaultCacheTTL       = 60 * time.Second
	DefaultHandlerTimeout = 30 * time.Second
	DefaultDebounceDelay  = 300 * time.Millisecond
)

// Handler is a side-effecting unit of work managed by the Deduplicator.
type Handler func(ctx context.Context) (any, error)

// ResultCache stores completed results for idempotent replay of the same
// logical request within a TTL window.
type ResultCache interface {
	Get(ctx context.Context, key string) (any, bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// InMemoryResultCache is a goroutine-safe ResultCache backed by a map.
type InMemoryResultCache struct {
	mu      sync.Mutex
	entries map[string]cacheEntry
	hits    uint64
}

type cacheEntry struct {
	value     any
	expiresAt time.Time
}

var _ ResultCache = (*InMemoryResultCache)(nil)

// NewInMemoryResultCache creates a new InMemoryResultCache.
func NewInMemoryResultCache() *InMemoryResultCache {
	return &InMemoryResultCache{entries: make(map[string]cacheEntry)}
}

func (c *InMemoryResultCache) Get(ctx context.Context, key string) (any, bool, error) {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.After(now) {
		delete(c.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *InMemoryResultCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.hits++
	if c.hits%512 == 0 {
		for k, e := range c.entries {
			if !e.expiresAt.After(now) {
				delete(c.entries, k)
			}
		}
	}

	c.entries[key] = cacheEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Deduplicator makes retried or rapidly repeated requests safe: it coalesces
// in-flight duplicates, replays recent results from a cache, and bounds every
// handler invocation with a timeout so a stuck handler cannot wedge later
// attempts.
type Deduplicator struct {
	cache    ResultCache
	cacheTTL time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	inflight map[string]*inflightCall

	dmu       sync.Mutex
	debounced map[string]*debounceBurst
}

type inflightCall struct {
	nonce   string
	started time.Time
	done    chan struct{}
	value   any
	err     error
}

type debounceBurst struct {
	timer   *time.Timer
	handler Handler
	fired   bool
	done    chan struct{}
	value   any
	err     error
}

// NewDeduplicator creates a Deduplicator over the given result cache.
// Zero durations fall back to the package defaults.
func NewDeduplicator(cache ResultCache, cacheTTL, timeout time.Duration) *Deduplicator {
	if cache == nil {
		cache = NewInMemoryResultCache()
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	if timeout <= 0 {
		timeout = DefaultHandlerTimeout
	}
	return &Deduplicator{
		cache:     cache,
		cacheTTL:  cacheTTL,
		timeout:   timeout,
		inflight:  make(map[string]*inflightCall),
		debounced: make(map[string]*debounceBurst),
	}
}

// Execute runs handler at most once per (key, nonce) in flight and at most
// once per key within the cache TTL:
//
//   - If a call with the same key and nonce is in flight, the caller joins
//     it and receives the same outcome; handler is not invoked again.
//   - Else a fresh cached result for key is returned directly.
//   - Else handler runs, raced against the timeout. On timeout the caller
//     gets *api.RequestTimeoutError and the in-flight entry is cleared so a
//     later attempt can proceed cleanly.
func (d *Deduplicator) Execute(ctx context.Context, key, nonce string, handler Handler) (any, error) {
	if c, joined := d.joinInflight(key, nonce); joined {
		return d.await(ctx, c)
	}

	// Cache lookup happens outside the mutex: the cache may be remote.
	if v, ok, err := d.cache.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	c, joined := d.registerInflight(key, nonce)
	if joined {
		return d.await(ctx, c)
	}

	type outcome struct {
		value any
		err   error
	}
	resCh := make(chan outcome, 1)

	// The handler is detached from the first caller's cancellation: joiners
	// of this in-flight call must not lose the result because the caller
	// that happened to start it went away.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.timeout)
	go func() {
		defer cancel()
		v, err := handler(hctx)
		resCh <- outcome{value: v, err: err}
	}()

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()

	select {
	case r := <-resCh:
		if r.err == nil {
			_ = d.cache.Set(context.WithoutCancel(ctx), key, r.value, d.cacheTTL)
		}
		d.finish(key, c, r.value, r.err)
		return r.value, r.err
	case <-timer.C:
		err := &api.RequestTimeoutError{Key: key, Timeout: d.timeout}
		d.finish(key, c, nil, err)
		return nil, err
	}
}

// joinInflight returns the matching in-flight call for (key, nonce), if any.
func (d *Deduplicator) joinInflight(key, nonce string) (*inflightCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.inflight[key]; ok && c.nonce == nonce {
		return c, true
	}
	return nil, false
}

// registerInflight installs a new in-flight entry for key, re-checking for a
// concurrent registration that may have won the race after the cache lookup.
func (d *Deduplicator) registerInflight(key, nonce string) (*inflightCall, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if c, ok := d.inflight[key]; ok && c.nonce == nonce {
		return c, true
	}
	c := &inflightCall{
		nonce:   nonce,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	d.inflight[key] = c
	return c, false
}

func (d *Deduplicator) await(ctx context.Context, c *inflightCall) (any, error) {
	select {
	case <-c.done:
		return c.value, c.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Deduplicator) finish(key string, c *inflightCall, value any, err error) {
	d.mu.Lock()
	if cur, ok := d.inflight[key]; ok && cur == c {
		delete(d.inflight, key)
	}
	d.mu.Unlock()

	c.value = value
	c.err = err
	close(c.done)
}

// Debounce coalesces a burst of calls sharing key within delay into a single
// trailing invocation. Every caller in the burst blocks until that one
// invocation finishes and receives its outcome. A zero delay uses
// DefaultDebounceDelay.
func (d *Deduplicator) Debounce(ctx context.Context, key string, delay time.Duration, handler Handler) (any, error) {
	if delay <= 0 {
		delay = DefaultDebounceDelay
	}

	d.dmu.Lock()
	b, ok := d.debounced[key]
	if ok && !b.fired {
		// Trailing semantics: the latest handler of the burst wins.
		b.handler = handler
		b.timer.Reset(delay)
	} else {
		b = &debounceBurst{handler: handler, done: make(chan struct{})}
		d.debounced[key] = b
		b.timer = time.AfterFunc(delay, func() { d.fire(key, b) })
	}
	d.dmu.Unlock()

	select {
	case <-b.done:
		return b.value, b.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Deduplicator) fire(key string, b *debounceBurst) {
	d.dmu.Lock()
	if b.fired {
		// A Reset raced with an already-queued timer callback.
		d.dmu.Unlock()
		return
	}
	b.fired = true
	if cur, ok := d.debounced[key]; ok && cur == b {
		delete(d.debounced, key)
	}
	h := b.handler
	d.dmu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	b.value, b.err = h(ctx)
	close(b.done)
}
