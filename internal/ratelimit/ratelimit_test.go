package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLimiterAllowsUpToLimit(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), 3)
	limiter.now = func() time.Time { return time.Unix(600, 0) }

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		d, err := limiter.Check(ctx, "ten_1")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 3-(i+1) {
			t.Errorf("request %d: Remaining = %d, want %d", i+1, d.Remaining, 3-(i+1))
		}
	}

	d, err := limiter.Check(ctx, "ten_1")
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if d.Allowed {
		t.Error("fourth request should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("Remaining = %d, want 0", d.Remaining)
	}
	if d.Limit != 3 {
		t.Errorf("Limit = %d, want 3", d.Limit)
	}
}

func TestLimiterSubjectsAreIndependent(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), 1)
	limiter.now = func() time.Time { return time.Unix(600, 0) }
	ctx := context.Background()

	if d, _ := limiter.Check(ctx, "ten_1"); !d.Allowed {
		t.Error("first subject should be allowed")
	}
	if d, _ := limiter.Check(ctx, "ten_2"); !d.Allowed {
		t.Error("second subject should be allowed")
	}
	if d, _ := limiter.Check(ctx, "ten_1"); d.Allowed {
		t.Error("first subject second hit should be denied")
	}
}

func TestLimiterWindowRollover(t *testing.T) {
	limiter := NewLimiter(NewMemoryStore(), 1)
	now := time.Unix(600, 0)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	if d, _ := limiter.Check(ctx, "ten_1"); !d.Allowed {
		t.Error("first hit should be allowed")
	}
	if d, _ := limiter.Check(ctx, "ten_1"); d.Allowed {
		t.Error("second hit in same window should be denied")
	}

	now = now.Add(time.Minute)
	d, _ := limiter.Check(ctx, "ten_1")
	if !d.Allowed {
		t.Error("hit in next window should be allowed")
	}
	if want := time.Unix(720, 0).UTC(); !d.Reset.Equal(want) {
		t.Errorf("Reset = %v, want %v", d.Reset, want)
	}
}

type failingStore struct{}

func (failingStore) Incr(context.Context, string, int64) (int64, error) {
	return 0, errors.New("store down")
}

func TestLimiterFailsOpen(t *testing.T) {
	limiter := NewLimiter(failingStore{}, 1)
	d, err := limiter.Check(context.Background(), "ten_1")
	if err == nil {
		t.Fatal("expected store error to surface")
	}
	if !d.Allowed {
		t.Error("store failure should fail open")
	}
}

func TestLimiterEnabled(t *testing.T) {
	if NewLimiter(NewMemoryStore(), 0).Enabled() {
		t.Error("zero limit should mean disabled")
	}
	if !NewLimiter(NewMemoryStore(), 10).Enabled() {
		t.Error("positive limit should mean enabled")
	}
	var nilLimiter *Limiter
	if nilLimiter.Enabled() {
		t.Error("nil limiter should report disabled")
	}
}

func TestMemoryStoreConcurrent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Incr(ctx, "ten_1", 10); err != nil {
				t.Errorf("Incr failed: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := store.Incr(ctx, "ten_1", 10)
	if err != nil {
		t.Fatalf("Incr failed: %v", err)
	}
	if count != 51 {
		t.Errorf("count = %d, want 51", count)
	}
}
