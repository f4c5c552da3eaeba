package rate

import (
	"sync"
	"time"

	xrate "golang.org/x/time/rate"
)

// KeyedLimiter keeps one token bucket per key and forgets idle keys.
type KeyedLimiter struct {
	mu              sync.Mutex
	rate            xrate.Limit
	burst           int
	items           map[string]*keyedEntry
	now             func() time.Time
	idleTTL         time.Duration
	lastCleanup     time.Time
	cleanupInterval time.Duration
}

type keyedEntry struct {
	limiter  *xrate.Limiter
	lastSeen time.Time
}

// NewKeyedLimiter allows limit events per window for each key, with bursts up to limit.
func NewKeyedLimiter(limit int, window time.Duration) *KeyedLimiter {
	if limit <= 0 {
		limit = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &KeyedLimiter{
		rate:            xrate.Limit(float64(limit) / window.Seconds()),
		burst:           limit,
		items:           make(map[string]*keyedEntry),
		now:             time.Now,
		idleTTL:         window,
		lastCleanup:     time.Now(),
		cleanupInterval: window,
	}
}

func (l *KeyedLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.maybeCleanup(now)

	entry, ok := l.items[key]
	if !ok {
		entry = &keyedEntry{limiter: xrate.NewLimiter(l.rate, l.burst)}
		l.items[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func (l *KeyedLimiter) maybeCleanup(now time.Time) {
	if now.Sub(l.lastCleanup) < l.cleanupInterval {
		return
	}
	for key, entry := range l.items {
		if now.Sub(entry.lastSeen) >= l.idleTTL {
			delete(l.items, key)
		}
	}
	l.lastCleanup = now
}
