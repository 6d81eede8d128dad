package coord

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petrijr/stepflow/pkg/api"
)

func newTestSQLiteLockStore(t *testing.T) *SQLiteLockStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	store, err := NewSQLiteLockStore(db)
	if err != nil {
		t.Fatalf("NewSQLiteLockStore failed: %v", err)
	}
	return store
}

// lockStoreContract runs the behavioral contract shared by every LockStore.
func lockStoreContract(t *testing.T, store LockStore) {
	ctx := context.Background()

	ok, err := store.TryAcquire(ctx, "k", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire should succeed, got ok=%v err=%v", ok, err)
	}

	// Re-entrant for the same holder.
	ok, err = store.TryAcquire(ctx, "k", "a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("re-entrant acquire should succeed, got ok=%v err=%v", ok, err)
	}

	// Held against a different holder.
	ok, err = store.TryAcquire(ctx, "k", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("acquire by another holder should fail, got ok=%v err=%v", ok, err)
	}

	// Wrong-holder release is a no-op.
	released, err := store.Release(ctx, "k", "b")
	if err != nil || released {
		t.Fatalf("wrong-holder release should be a no-op, got released=%v err=%v", released, err)
	}
	ok, err = store.TryAcquire(ctx, "k", "b", time.Minute)
	if err != nil || ok {
		t.Fatalf("lock should still be held after wrong-holder release")
	}

	// Owner release frees the key.
	released, err = store.Release(ctx, "k", "a")
	if err != nil || !released {
		t.Fatalf("owner release should succeed, got released=%v err=%v", released, err)
	}
	ok, err = store.TryAcquire(ctx, "k", "b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release should succeed, got ok=%v err=%v", ok, err)
	}
}

func lockStoreTTLExpiry(t *testing.T, store LockStore) {
	ctx := context.Background()

	ok, err := store.TryAcquire(ctx, "ttl-key", "a", 30*time.Millisecond)
	if err != nil || !ok {
		t.Fatalf("acquire failed: ok=%v err=%v", ok, err)
	}

	time.Sleep(60 * time.Millisecond)

	ok, err = store.TryAcquire(ctx, "ttl-key", "b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("expired lock should be acquirable, got ok=%v err=%v", ok, err)
	}
}

func TestInMemoryLockStore_Contract(t *testing.T) {
	lockStoreContract(t, NewInMemoryLockStore())
}

func TestInMemoryLockStore_TTLExpiry(t *testing.T) {
	lockStoreTTLExpiry(t, NewInMemoryLockStore())
}

func TestSQLiteLockStore_Contract(t *testing.T) {
	lockStoreContract(t, newTestSQLiteLockStore(t))
}

func TestSQLiteLockStore_TTLExpiry(t *testing.T) {
	lockStoreTTLExpiry(t, newTestSQLiteLockStore(t))
}

func TestWithLock_MutualExclusion(t *testing.T) {
	store := NewInMemoryLockStore()
	ctx := context.Background()

	const goroutines = 16
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		holder := string(rune('a' + i))
		go func() {
			defer wg.Done()
			err := WithLock(ctx, store, "shared", holder, time.Minute, 5*time.Second, func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()

				time.Sleep(2 * time.Millisecond)

				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
			if err != nil {
				t.Errorf("WithLock failed for holder %s: %v", holder, err)
			}
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected at most one holder inside the critical section, saw %d", maxSeen)
	}
}

func TestWithLock_TimesOut(t *testing.T) {
	store := NewInMemoryLockStore()
	ctx := context.Background()

	ok, err := store.TryAcquire(ctx, "busy", "other", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	err = WithLock(ctx, store, "busy", "me", time.Minute, 120*time.Millisecond, func(ctx context.Context) error {
		t.Fatalf("fn should not run when the lock is never acquired")
		return nil
	})

	var timeout *api.LockTimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected LockTimeoutError, got %v", err)
	}
	if timeout.Key != "busy" {
		t.Fatalf("expected key %q in the error, got %q", "busy", timeout.Key)
	}
}

func TestWithLock_ReleasesOnError(t *testing.T) {
	store := NewInMemoryLockStore()
	ctx := context.Background()

	boom := errors.New("boom")
	err := WithLock(ctx, store, "k", "a", time.Minute, time.Second, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error to propagate, got %v", err)
	}

	ok, err := store.TryAcquire(ctx, "k", "b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("lock should be free after fn error, got ok=%v err=%v", ok, err)
	}
}

func TestWithLock_RenewsLeaseWhileFnOutlivesTTL(t *testing.T) {
	store := NewInMemoryLockStore()
	ctx := context.Background()

	const ttl = 60 * time.Millisecond

	stolen := make(chan struct{}, 1)
	err := WithLock(ctx, store, "k", "slow", ttl, time.Second, func(ctx context.Context) error {
		// Run well past the TTL; the background renewal must keep the
		// lease alive the whole time.
		deadline := time.Now().Add(4 * ttl)
		for time.Now().Before(deadline) {
			ok, err := store.TryAcquire(ctx, "k", "thief", ttl)
			if err != nil {
				return err
			}
			if ok {
				stolen <- struct{}{}
				return nil
			}
			time.Sleep(10 * time.Millisecond)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}

	select {
	case <-stolen:
		t.Fatalf("another holder acquired the lock while fn was still running")
	default:
	}

	// With fn finished the lock is released and free for the next holder.
	ok, err := store.TryAcquire(ctx, "k", "thief", ttl)
	if err != nil || !ok {
		t.Fatalf("lock should be free after WithLock returns, got ok=%v err=%v", ok, err)
	}
}

func TestWithLock_WaitsForRelease(t *testing.T) {
	store := NewInMemoryLockStore()
	ctx := context.Background()

	ok, err := store.TryAcquire(ctx, "k", "first", time.Minute)
	if err != nil || !ok {
		t.Fatalf("setup acquire failed: ok=%v err=%v", ok, err)
	}

	go func() {
		time.Sleep(80 * time.Millisecond)
		_, _ = store.Release(context.Background(), "k", "first")
	}()

	ran := false
	err = WithLock(ctx, store, "k", "second", time.Minute, 2*time.Second, func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithLock should eventually acquire, got %v", err)
	}
	if !ran {
		t.Fatalf("fn never ran")
	}
}
