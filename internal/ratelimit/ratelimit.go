// Package ratelimit paces access to upstream API keys and to the chat API.
//
// Scheduler owns the pool of provider credentials. Registry holds per-caller
// lazy-refill token buckets that protect the HTTP chat endpoints.
package ratelimit

import (
	"sync"
	"time"
)

// Limits holds per-caller request and token budgets per minute.
// A value of 0 means unlimited.
type Limits struct {
	RPM int64
	TPM int64
}

// Result is the outcome of an admission check.
type Result struct {
	Allowed           bool
	Limit             int64 // RPM limit, 0 if unlimited
	Remaining         int64 // requests left in the current window
	RetryAfterSeconds float64
}

// bucket is a token bucket with lazy refill (no background goroutine).
type bucket struct {
	tokens   float64
	max      float64
	rate     float64 // tokens per second
	lastFill time.Time
}

func newBucket(perMinute int64, now time.Time) *bucket {
	return &bucket{
		tokens:   float64(perMinute),
		max:      float64(perMinute),
		rate:     float64(perMinute) / 60.0,
		lastFill: now,
	}
}

func (b *bucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastFill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = min(b.max, b.tokens+elapsed*b.rate)
	b.lastFill = now
}

// wait returns seconds until n tokens are available. A request larger than
// the bucket can never fit; it waits for a full bucket.
func (b *bucket) wait(n float64) float64 {
	n = min(n, b.max)
	if b.tokens >= n {
		return 0
	}
	return (n - b.tokens) / b.rate
}

// Limiter applies one caller's RPM and TPM buckets.
type Limiter struct {
	mu       sync.Mutex
	rpm      *bucket // nil if unlimited
	tpm      *bucket // nil if unlimited
	limits   Limits
	lastUsed time.Time
}

func newLimiter(limits Limits, now time.Time) *Limiter {
	l := &Limiter{limits: limits, lastUsed: now}
	if limits.RPM > 0 {
		l.rpm = newBucket(limits.RPM, now)
	}
	if limits.TPM > 0 {
		l.tpm = newBucket(limits.TPM, now)
	}
	return l
}

// Allow admits one request estimated at tokens prompt tokens. Nothing is
// consumed unless both budgets have room. A request bigger than the whole
// TPM budget is admitted once the bucket is full.
func (l *Limiter) Allow(tokens int64, now time.Time) Result {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lastUsed = now

	var retry float64
	if l.rpm != nil {
		l.rpm.refill(now)
		retry = max(retry, l.rpm.wait(1))
	}
	if l.tpm != nil {
		l.tpm.refill(now)
		retry = max(retry, l.tpm.wait(float64(tokens)))
	}
	if retry > 0 {
		return Result{Limit: l.limits.RPM, RetryAfterSeconds: retry}
	}

	res := Result{Allowed: true, Limit: l.limits.RPM}
	if l.rpm != nil {
		l.rpm.tokens--
		res.Remaining = int64(l.rpm.tokens)
	}
	if l.tpm != nil {
		l.tpm.tokens = max(0, l.tpm.tokens-float64(tokens))
	}
	return res
}

// Registry manages per-caller Limiters.
type Registry struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		now:      time.Now,
	}
}

// Allow checks the caller's budgets, creating its limiter on first use.
// A limiter is replaced when the caller's limits change.
func (r *Registry) Allow(caller string, limits Limits, tokens int64) Result {
	if limits.RPM <= 0 && limits.TPM <= 0 {
		return Result{Allowed: true}
	}
	now := r.now()
	return r.get(caller, limits, now).Allow(tokens, now)
}

func (r *Registry) get(caller string, limits Limits, now time.Time) *Limiter {
	r.mu.RLock()
	l, ok := r.limiters[caller]
	r.mu.RUnlock()
	if ok && l.limits == limits {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[caller]; ok && l.limits == limits {
		return l
	}
	l = newLimiter(limits, now)
	r.limiters[caller] = l
	return l
}

// EvictStale removes limiters not used since cutoff and returns how many
// were removed.
func (r *Registry) EvictStale(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	evicted := 0
	for k, l := range r.limiters {
		l.mu.Lock()
		stale := l.lastUsed.Before(cutoff)
		l.mu.Unlock()
		if stale {
			delete(r.limiters, k)
			evicted++
		}
	}
	return evicted
}

// Len returns the number of tracked callers.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.limiters)
}
