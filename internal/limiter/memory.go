package limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Memory is an in-process limiter for single-instance deployments. Each address gets a
// token bucket holding maxFails failures that refills over window; emptying it blocks
// the address for blockFor.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*memEntry
	every    rate.Limit
	maxFails int
	blockFor time.Duration
	// idle is how long an entry must go untouched before it is dropped.
	idle      time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type memEntry struct {
	bucket       *rate.Limiter
	blockedUntil time.Time
	lastSeen     time.Time
}

// stale reports whether the entry carries no state: the block is over and the
// bucket has refilled.
func (e *memEntry) stale(now time.Time, idle time.Duration) bool {
	return !e.blockedUntil.After(now) && now.Sub(e.lastSeen) >= idle
}

// NewMemory constructs an in-memory limiter.
func NewMemory(window time.Duration, maxFails int, blockFor time.Duration) *Memory {
	if maxFails < 1 {
		maxFails = 1
	}
	return &Memory{
		entries:  map[string]*memEntry{},
		every:    rate.Every(window / time.Duration(maxFails)),
		maxFails: maxFails,
		blockFor: blockFor,
		idle:     window + blockFor,
		now:      time.Now,
	}
}

// sweep drops stale entries, at most once per idle period. Callers hold mu.
func (l *Memory) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.idle {
		return
	}
	l.lastSweep = now
	for k, e := range l.entries {
		if e.stale(now, l.idle) {
			delete(l.entries, k)
		}
	}
}

var _ Limiter = (*Memory)(nil)

// Allow reports whether the address is currently unblocked.
func (l *Memory) Allow(_ context.Context, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	e, ok := l.entries[string(ipHash)]
	if !ok {
		return true, 0, nil
	}
	if e.blockedUntil.After(now) {
		return false, e.blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Success forgets the address.
func (l *Memory) Success(_ context.Context, ipHash []byte) error {
	l.mu.Lock()
	delete(l.entries, string(ipHash))
	l.mu.Unlock()
	return nil
}

// Failure consumes one token; an empty bucket blocks the address.
func (l *Memory) Failure(_ context.Context, ipHash []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)
	e, ok := l.entries[string(ipHash)]
	if !ok {
		e = &memEntry{bucket: rate.NewLimiter(l.every, l.maxFails)}
		l.entries[string(ipHash)] = e
	}
	e.lastSeen = now
	e.bucket.AllowN(now, 1)
	if e.bucket.TokensAt(now) < 1 {
		e.blockedUntil = now.Add(l.blockFor)
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
