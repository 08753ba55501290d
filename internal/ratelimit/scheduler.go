package ratelimit

import (
	"container/heap"
	"context"
	"time"

	rolecast "github.com/eugener/rolecast/internal"
)

const (
	// DefaultMinInterval is the minimum spacing between two uses of one key.
	DefaultMinInterval = 20 * time.Second
	// DefaultCooldown is how long a quarantined key stays out of rotation.
	DefaultCooldown = 24 * time.Hour
)

// KeyState reports the scheduling state of one credential.
type KeyState struct {
	Key         string    `json:"key"` // masked
	Quarantined bool      `json:"quarantined"`
	EligibleAt  time.Time `json:"eligible_at"`
}

// Scheduler hands out API keys from a shared pool, spacing uses of each key
// by at least the minimum interval and keeping failed keys out of rotation
// for a cooldown period.
//
// A key is in exactly one state:
//
//	Ready(t)        --Acquire-->     Ready(now)
//	Ready(t)        --Quarantine-->  Quarantined(now)
//	Quarantined(q)  --next Acquire-> Ready(q+cooldown)
//
// All operations are serialized. Acquire holds the lock across the pacing
// sleep, so spacing is global across callers, not per caller.
type Scheduler struct {
	lock chan struct{}

	ready       entryHeap
	quarantined entryHeap
	entries     map[string]*entry

	minInterval time.Duration
	cooldown    time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMinInterval sets the minimum spacing between uses of one key.
func WithMinInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.minInterval = d }
}

// WithCooldown sets the quarantine cooldown.
func WithCooldown(d time.Duration) Option {
	return func(s *Scheduler) { s.cooldown = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithSleeper replaces the context-aware pacing sleep.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *Scheduler) { s.sleep = sleep }
}

// NewScheduler creates a Scheduler over keys. Every key starts ready and
// immediately eligible. Duplicate and empty keys are ignored.
func NewScheduler(keys []string, opts ...Option) *Scheduler {
	s := &Scheduler{
		lock:        make(chan struct{}, 1),
		entries:     make(map[string]*entry, len(keys)),
		minInterval: DefaultMinInterval,
		cooldown:    DefaultCooldown,
		now:         time.Now,
		sleep:       sleepContext,
	}
	for _, o := range opts {
		o(s)
	}
	// Start eligible one interval in the past so the first use does not wait.
	start := s.now().Add(-s.minInterval)
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := s.entries[k]; dup {
			continue
		}
		e := &entry{key: k, at: start}
		s.entries[k] = e
		heap.Push(&s.ready, e)
	}
	return s
}

// Acquire returns the next usable key. It blocks until the scheduler lock is
// free and then for whatever remains of the key's minimum interval. It fails
// with ErrKeyExhausted when the pool is empty or the earliest key is not
// eligible before now. On cancellation the key keeps its previous state.
func (s *Scheduler) Acquire(ctx context.Context) (string, error) {
	if err := s.lockCtx(ctx); err != nil {
		return "", err
	}
	defer s.unlock()

	now := s.now()
	s.promoteQuarantined()

	if s.ready.Len() == 0 {
		return "", rolecast.ErrKeyExhausted
	}
	e := s.ready[0]
	if e.at.After(now) {
		return "", rolecast.ErrKeyExhausted
	}

	if wait := s.minInterval - now.Sub(e.at); wait > 0 {
		if err := s.sleep(ctx, wait); err != nil {
			return "", err
		}
	}

	e.at = s.now()
	heap.Fix(&s.ready, e.index)
	return e.key, nil
}

// Quarantine takes key out of rotation. It is promoted back into the ready
// pool, eligible after the cooldown, on the next Acquire. Unknown keys are
// ignored.
func (s *Scheduler) Quarantine(key string) {
	s.lock <- struct{}{}
	defer s.unlock()

	e, ok := s.entries[key]
	if !ok || e.quarantined {
		return
	}
	heap.Remove(&s.ready, e.index)
	e.quarantined = true
	e.at = s.now()
	heap.Push(&s.quarantined, e)
}

// Len returns the number of ready and quarantined keys.
func (s *Scheduler) Len() (ready, quarantined int) {
	s.lock <- struct{}{}
	defer s.unlock()
	return s.ready.Len(), s.quarantined.Len()
}

// Snapshot returns the state of every key, ready keys first, each group in
// eligibility order. Keys are masked.
func (s *Scheduler) Snapshot() []KeyState {
	s.lock <- struct{}{}
	defer s.unlock()

	out := make([]KeyState, 0, len(s.entries))
	for _, h := range []entryHeap{s.ready, s.quarantined} {
		sorted := make(entryHeap, len(h))
		for i, e := range h {
			sorted[i] = &entry{key: e.key, at: e.at, quarantined: e.quarantined}
		}
		heap.Init(&sorted)
		for sorted.Len() > 0 {
			e := heap.Pop(&sorted).(*entry)
			at := e.at
			if e.quarantined {
				at = at.Add(s.cooldown)
			}
			out = append(out, KeyState{Key: MaskKey(e.key), Quarantined: e.quarantined, EligibleAt: at})
		}
	}
	return out
}

// promoteQuarantined moves every quarantined key back into the ready pool
// with eligibility quarantine time + cooldown. Caller holds the lock.
func (s *Scheduler) promoteQuarantined() {
	for s.quarantined.Len() > 0 {
		e := heap.Pop(&s.quarantined).(*entry)
		e.quarantined = false
		e.at = e.at.Add(s.cooldown)
		heap.Push(&s.ready, e)
	}
}

func (s *Scheduler) lockCtx(ctx context.Context) error {
	select {
	case s.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) unlock() { <-s.lock }

// MaskKey hides all but the last four characters of key.
func MaskKey(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type entry struct {
	key         string
	at          time.Time // eligible time when ready, quarantine time otherwise
	quarantined bool
	index       int
}

// entryHeap orders entries by time, earliest first.
type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
