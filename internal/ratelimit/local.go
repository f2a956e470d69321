package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// localBuckets is the per-process fallback used while the shared store is down.
// Limits are per instance, so a fleet of N processes admits up to N times the
// configured rate.
type localBuckets struct {
	mu          sync.Mutex
	buckets     map[string]*rate.Limiter
	lastCleanup time.Time
}

func newLocalBuckets() *localBuckets {
	return &localBuckets{buckets: make(map[string]*rate.Limiter), lastCleanup: time.Now()}
}

// allow spends one token from the bucket for key. When denied it returns how
// long until the next token.
func (b *localBuckets) allow(key string, rule Rule) (bool, time.Duration) {
	limiter := b.get(key, rule)
	if limiter.Allow() {
		return true, 0
	}
	reservation := limiter.Reserve()
	delay := reservation.Delay()
	reservation.Cancel()
	return false, delay
}

func (b *localBuckets) get(key string, rule Rule) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cleanupLocked()

	if limiter, ok := b.buckets[key]; ok {
		return limiter
	}
	perSecond := float64(rule.Max) / rule.Window.Seconds()
	limiter := rate.NewLimiter(rate.Limit(perSecond), rule.Max)
	b.buckets[key] = limiter
	return limiter
}

// cleanupLocked drops full buckets every few minutes; a full bucket has not
// been used recently and is indistinguishable from a fresh one.
func (b *localBuckets) cleanupLocked() {
	if time.Since(b.lastCleanup) < 5*time.Minute {
		return
	}
	b.lastCleanup = time.Now()
	for key, limiter := range b.buckets {
		if limiter.Tokens() >= float64(limiter.Burst()) {
			delete(b.buckets, key)
		}
	}
}
