package notify

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

var ErrThrottled = errors.New("notification throttled")

// keyedLimiter keeps one token bucket per key with lazy cleanup of idle
// entries.
type keyedLimiter struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	entries  map[string]*limiterEntry
	lastSeen time.Duration
}

type limiterEntry struct {
	limiter *rate.Limiter
	touched time.Time
}

func newKeyedLimiter(limit rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{
		limit:    limit,
		burst:    burst,
		entries:  make(map[string]*limiterEntry),
		lastSeen: 30 * time.Minute,
	}
}

func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()

	entry, ok := k.entries[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = entry
	}
	entry.touched = now

	if len(k.entries) > 4096 {
		k.evictIdle(now)
	}

	return entry.limiter.Allow()
}

func (k *keyedLimiter) evictIdle(now time.Time) {
	for key, entry := range k.entries {
		if now.Sub(entry.touched) > k.lastSeen {
			delete(k.entries, key)
		}
	}
}
