package coord

import (
	"context"
	"sync"
	"time"

	"github.com/petrijr/stepflow/pkg/api"
)

// DefaultLockPoll is the fixed interval WithLock uses between acquire
// attempts.
const DefaultLockPoll = 50 * time.Millisecond

// LockStore is a keyed mutual-exclusion primitive with TTL auto-release.
//
// Implementations may live in-process or in a shared cache; the contract is
// identical either way:
//
//   - TryAcquire succeeds if the key is unheld or already held by the same
//     holder (re-entrant refresh, the TTL clock restarts).
//   - A lock not explicitly released expires after its TTL, so a crashed
//     holder cannot block the key forever.
//   - Release only succeeds for the current holder; releasing with the
//     wrong holder is a no-op returning false.
type LockStore interface {
	TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, holder string) (bool, error)
}

// InMemoryLockStore is a goroutine-safe LockStore backed by a map.
type InMemoryLockStore struct {
	mu      sync.Mutex
	entries map[string]lockEntry
	hits    uint64
}

type lockEntry struct {
	holder    string
	expiresAt time.Time
}

var _ LockStore = (*InMemoryLockStore)(nil)

// NewInMemoryLockStore creates a new InMemoryLockStore.
func NewInMemoryLockStore() *InMemoryLockStore {
	return &InMemoryLockStore{entries: make(map[string]lockEntry)}
}

func (s *InMemoryLockStore) TryAcquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.maybeEvict(now)

	e, held := s.entries[key]
	if held && e.holder != holder && e.expiresAt.After(now) {
		return false, nil
	}
	s.entries[key] = lockEntry{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryLockStore) Release(ctx context.Context, key, holder string) (bool, error) {
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	e, held := s.entries[key]
	if !held || !e.expiresAt.After(now) {
		delete(s.entries, key)
		return false, nil
	}
	if e.holder != holder {
		return false, nil
	}
	delete(s.entries, key)
	return true, nil
}

// maybeEvict drops expired entries every few hundred operations so the map
// does not grow with dead keys. Caller must hold s.mu.
func (s *InMemoryLockStore) maybeEvict(now time.Time) {
	s.hits++
	if s.hits%512 != 0 {
		return
	}
	for k, e := range s.entries {
		if !e.expiresAt.After(now) {
			delete(s.entries, k)
		}
	}
}

// WithLock runs fn while holding the lock for key.
//
// It retries TryAcquire on a fixed poll interval until maxWait elapses; if
// the lock is never acquired it fails with *api.LockTimeoutError. While fn
// runs the lease is renewed in the background, so a slow-but-alive holder
// never loses the lock mid-operation; the TTL only frees the key if the
// holder dies. Once acquired, release happens on every exit path.
func WithLock(ctx context.Context, store LockStore, key, holder string, ttl, maxWait time.Duration, fn func(ctx context.Context) error) error {
	deadline := time.Now().Add(maxWait)

	for {
		acquired, err := store.TryAcquire(ctx, key, holder, ttl)
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		if time.Now().After(deadline) {
			return &api.LockTimeoutError{Key: key, Waited: maxWait}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(DefaultLockPoll):
		}
	}

	// Re-entrant acquires refresh the TTL, so renewing is just re-acquiring
	// with the same holder. Renewal errors are ignored: the next tick
	// retries, and the TTL is the backstop.
	renewCtx, stopRenew := context.WithCancel(context.WithoutCancel(ctx))
	renewDone := make(chan struct{})
	interval := ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	go func() {
		defer close(renewDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-renewCtx.Done():
				return
			case <-ticker.C:
				_, _ = store.TryAcquire(renewCtx, key, holder, ttl)
			}
		}
	}()

	defer func() {
		stopRenew()
		<-renewDone
		// Best-effort: if the release fails the TTL still frees the key.
		_, _ = store.Release(context.WithoutCancel(ctx), key, holder)
	}()

	return fn(ctx)
}
