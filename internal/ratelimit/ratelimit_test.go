package ratelimit

import (
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLimiter_RPM(t *testing.T) {
	t.Parallel()
	l := newLimiter(Limits{RPM: 3}, t0)

	for i := range 3 {
		if r := l.Allow(0, t0); !r.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	r := l.Allow(0, t0)
	if r.Allowed {
		t.Fatal("4th request should be denied")
	}
	if r.RetryAfterSeconds <= 0 {
		t.Error("RetryAfterSeconds should be positive")
	}

	if r := l.Allow(0, t0.Add(61*time.Second)); !r.Allowed {
		t.Error("request should be allowed after refill")
	}
}

func TestLimiter_TPMDeniesWithoutConsumingRPM(t *testing.T) {
	t.Parallel()
	l := newLimiter(Limits{RPM: 2, TPM: 100}, t0)

	if r := l.Allow(80, t0); !r.Allowed {
		t.Fatal("first request should be allowed")
	}
	if r := l.Allow(50, t0); r.Allowed {
		t.Fatal("request over remaining TPM should be denied")
	}
	r := l.Allow(20, t0)
	if !r.Allowed {
		t.Fatal("denied request must not have consumed RPM")
	}
	if r.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", r.Remaining)
	}
}

func TestLimiter_OversizedRequestWaitsForFullBucket(t *testing.T) {
	t.Parallel()
	l := newLimiter(Limits{TPM: 60}, t0) // 1 token/sec

	if r := l.Allow(1000, t0); !r.Allowed {
		t.Fatal("oversized request should be admitted on a full bucket")
	}
	r := l.Allow(1000, t0.Add(30*time.Second))
	if r.Allowed {
		t.Fatal("bucket is half full, want denied")
	}
	if r.RetryAfterSeconds < 29 || r.RetryAfterSeconds > 31 {
		t.Errorf("retry after = %v, want ~30", r.RetryAfterSeconds)
	}
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	l := newLimiter(Limits{RPM: 50, TPM: 100000}, t0)

	var mu sync.Mutex
	allowed := 0
	var wg sync.WaitGroup
	for range 100 {
		wg.Go(func() {
			if l.Allow(10, t0).Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	if allowed != 50 {
		t.Errorf("allowed = %d, want 50", allowed)
	}
}

func TestRegistry_Allow(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	r.now = func() time.Time { return t0 }

	if res := r.Allow("anyone", Limits{}, 1_000_000); !res.Allowed {
		t.Error("unlimited caller should be allowed")
	}

	r.Allow("a", Limits{RPM: 1}, 0)
	if res := r.Allow("a", Limits{RPM: 1}, 0); res.Allowed {
		t.Error("second request for a should be denied")
	}
	if res := r.Allow("b", Limits{RPM: 1}, 0); !res.Allowed {
		t.Error("callers must not share buckets")
	}
	if res := r.Allow("a", Limits{RPM: 5}, 0); !res.Allowed {
		t.Error("changed limits should create a fresh limiter")
	}
}

func TestRegistry_EvictStale(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	now := t0
	r.now = func() time.Time { return now }

	r.Allow("stale", Limits{RPM: 10}, 0)
	now = t0.Add(2 * time.Hour)
	r.Allow("fresh", Limits{RPM: 10}, 0)

	if evicted := r.EvictStale(t0.Add(time.Hour)); evicted != 1 {
		t.Errorf("evicted = %d, want 1", evicted)
	}

	r.mu.RLock()
	_, hasFresh := r.limiters["fresh"]
	_, hasStale := r.limiters["stale"]
	r.mu.RUnlock()
	if !hasFresh || hasStale {
		t.Errorf("fresh=%v stale=%v, want true false", hasFresh, hasStale)
	}
}

func BenchmarkRegistryAllow(b *testing.B) {
	r := NewRegistry()
	limits := Limits{RPM: 1_000_000_000, TPM: 1_000_000_000}
	for b.Loop() {
		r.Allow("caller", limits, 100)
	}
}
