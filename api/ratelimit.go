package api

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultLimiterIdleTTL      = 15 * time.Minute
	defaultLimiterCleanupEvery = 2 * time.Minute
)

// TokenRateLimiter keeps one token bucket per key (an app secret token or,
// for anonymous requests, a client address). Idle buckets are dropped by
// Cleanup.
type TokenRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     rate.Limit
	burst   int
	idleTTL time.Duration
}

type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewTokenRateLimiter(rps float64, burst int) *TokenRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenRateLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     rate.Limit(rps),
		burst:   burst,
		idleTTL: defaultLimiterIdleTTL,
	}
}

// Allow consumes one event from key's bucket.
func (l *TokenRateLimiter) Allow(key string) bool {
	return l.limiter(key).Allow()
}

func (l *TokenRateLimiter) limiter(key string) *rate.Limiter {
	now := time.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if ent, ok := l.entries[key]; ok {
		ent.lastSeen = now
		return ent.lim
	}
	lim := rate.NewLimiter(l.rps, l.burst)
	l.entries[key] = &limiterEntry{lim: lim, lastSeen: now}
	return lim
}

// Cleanup removes buckets not used within the idle TTL.
func (l *TokenRateLimiter) Cleanup() {
	cutoff := time.Now().Add(-l.idleTTL)

	l.mu.Lock()
	defer l.mu.Unlock()

	for k, ent := range l.entries {
		if ent.lastSeen.Before(cutoff) {
			delete(l.entries, k)
		}
	}
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (l *TokenRateLimiter) StartJanitor(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultLimiterCleanupEvery
	}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.Cleanup()
			}
		}
	}()
}
