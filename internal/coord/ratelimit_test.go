package coord

import (
	"context"
	"testing"
	"time"
)

func TestWindowLimiter_EnforcesLimit(t *testing.T) {
	l := NewWindowLimiter(3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil || !ok {
			t.Fatalf("call %d should be allowed, got ok=%v err=%v", i+1, ok, err)
		}
	}

	for i := 0; i < 5; i++ {
		ok, err := l.Allow(ctx, "u1")
		if err != nil || ok {
			t.Fatalf("call over the limit should be rejected, got ok=%v err=%v", ok, err)
		}
	}
}

func TestWindowLimiter_IdentitiesAreIndependent(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("first u1 call should pass")
	}
	if ok, _ := l.Allow(ctx, "u1"); ok {
		t.Fatalf("second u1 call should be rejected")
	}
	if ok, _ := l.Allow(ctx, "u2"); !ok {
		t.Fatalf("u2 should have its own window")
	}
}

func TestWindowLimiter_WindowRollsOver(t *testing.T) {
	l := NewWindowLimiter(1, 40*time.Millisecond)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("first call should pass")
	}
	if ok, _ := l.Allow(ctx, "u1"); ok {
		t.Fatalf("second call inside the window should be rejected")
	}

	time.Sleep(60 * time.Millisecond)

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("call in a fresh window should pass")
	}
}

func TestWindowLimiter_RejectionDoesNotExtendWindow(t *testing.T) {
	l := NewWindowLimiter(1, 50*time.Millisecond)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("first call should pass")
	}

	// Hammering inside the window must not push the rollover out.
	for i := 0; i < 5; i++ {
		if ok, _ := l.Allow(ctx, "u1"); ok {
			t.Fatalf("call %d inside the window should be rejected", i)
		}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("window should have rolled over despite rejected calls")
	}
}

func TestWindowLimiter_Reset(t *testing.T) {
	l := NewWindowLimiter(1, time.Minute)
	ctx := context.Background()

	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("first call should pass")
	}
	if ok, _ := l.Allow(ctx, "u1"); ok {
		t.Fatalf("second call should be rejected")
	}

	if err := l.Reset(ctx, "u1"); err != nil {
		t.Fatalf("Reset failed: %v", err)
	}
	if ok, _ := l.Allow(ctx, "u1"); !ok {
		t.Fatalf("call after reset should pass")
	}
}
