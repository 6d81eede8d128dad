package coord

import (
	"context"
	"sync"
	"time"
)

// Defaults for per-identity admission control.
const (
	DefaultRateLimit  = 10
	DefaultRateWindow = time.Minute
)

// RateLimiter bounds the request rate per identity using a fixed window:
// a new window starts automatically once the previous one expires, and
// exceeding the threshold inside a live window rejects without touching the
// counter further.
type RateLimiter interface {
	Allow(ctx context.Context, identity string) (bool, error)

	// Reset is an administrative override clearing the identity's window.
	Reset(ctx context.Context, identity string) error
}

// WindowLimiter is an in-process RateLimiter keyed by identity. It evicts
// idle windows periodically so the map does not grow with one-off callers.
type WindowLimiter struct {
	limit  int
	window time.Duration

	mu    sync.Mutex
	byKey map[string]*countWindow
	hits  uint64
}

type countWindow struct {
	start time.Time
	count int
}

var _ RateLimiter = (*WindowLimiter)(nil)

// NewWindowLimiter creates a WindowLimiter. Non-positive arguments fall back
// to the package defaults.
func NewWindowLimiter(limit int, window time.Duration) *WindowLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &WindowLimiter{
		limit:  limit,
		window: window,
		byKey:  make(map[string]*countWindow),
	}
}

func (l *WindowLimiter) Allow(ctx context.Context, identity string) (bool, error) {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.hits++
	if l.hits%512 == 0 {
		cutoff := now.Add(-2 * l.window)
		for k, w := range l.byKey {
			if w.start.Before(cutoff) {
				delete(l.byKey, k)
			}
		}
	}

	w, ok := l.byKey[identity]
	if !ok || now.Sub(w.start) >= l.window {
		l.byKey[identity] = &countWindow{start: now, count: 1}
		return true, nil
	}
	if w.count >= l.limit {
		return false, nil
	}
	w.count++
	return true, nil
}

func (l *WindowLimiter) Reset(ctx context.Context, identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.byKey, identity)
	return nil
}
