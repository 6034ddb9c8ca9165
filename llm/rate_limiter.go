package llm

import (
	"sync"
	"time"
)

// RateLimiter bounds how many extraction calls go out per time window.
type RateLimiter struct {
	// Map to track request counts by key (extractor name, model, etc.)
	counters     map[string]*rateLimitEntry
	mu           sync.Mutex
	maxRequests  int           // Maximum requests per window
	windowPeriod time.Duration // Time window for rate limiting
}

type rateLimitEntry struct {
	count       int       // Number of requests in current window
	windowStart time.Time // Start time of current window
}

// NewRateLimiter creates a new rate limiter with the specified configuration
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	return &RateLimiter{
		counters:     make(map[string]*rateLimitEntry),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
	}
}

// CheckLimit checks if the rate limit for the given key has been exceeded
func (r *RateLimiter) CheckLimit(key string) (bool, int, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	entry, ok := r.counters[key]

	// If no entry exists or window has expired, start a new window
	if !ok || now.Sub(entry.windowStart) > r.windowPeriod {
		r.counters[key] = &rateLimitEntry{
			count:       1,
			windowStart: now,
		}
		return false, 1, now.Add(r.windowPeriod)
	}

	entry.count++

	if entry.count > r.maxRequests {
		return true, entry.count, entry.windowStart.Add(r.windowPeriod)
	}

	return false, entry.count, entry.windowStart.Add(r.windowPeriod)
}
