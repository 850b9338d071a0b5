// Package ratelimit provides per-caller rate limiting with a separate tier
// for trusted system callers.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the rate limiting configuration.
type Config struct {
	UserRPS         float64       // Requests per second for end-user callers
	UserBurst       int           // Burst size for end-user callers
	SystemRPS       float64       // Requests per second for system callers
	SystemBurst     int           // Burst size for system callers
	CleanupInterval time.Duration // How often to clean up idle limiters
}

// DefaultConfig provides sensible defaults for rate limiting.
var DefaultConfig = Config{
	UserRPS:         20,
	UserBurst:       40,
	SystemRPS:       1000,
	SystemBurst:     2000,
	CleanupInterval: time.Hour,
}

// rateLimiterEntry holds a rate limiter and tracks its last usage.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastUsed atomic.Int64 // unix nanoseconds
	system   bool
}

func (e *rateLimiterEntry) touch() {
	e.lastUsed.Store(time.Now().UnixNano())
}

// RateLimiter manages per-caller rate limiting.
type RateLimiter struct {
	limiters map[string]*rateLimiterEntry
	mu       sync.RWMutex
	config   Config

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewRateLimiter creates a new rate limiter with the given configuration.
// It starts a background goroutine for cleanup; call Stop to end it.
func NewRateLimiter(config Config) *RateLimiter {
	rl := &RateLimiter{
		limiters: make(map[string]*rateLimiterEntry),
		config:   config,
		stopCh:   make(chan struct{}),
	}

	rl.wg.Add(1)
	go rl.cleanupLoop()

	return rl
}

// Allow reports whether a request from callerKey is within its limit.
func (rl *RateLimiter) Allow(callerKey string, system bool) bool {
	return rl.GetLimiter(callerKey, system).Allow()
}

// GetLimiter returns the limiter for callerKey, creating one if necessary.
// A caller seen under the other tier gets a fresh limiter for the new tier.
func (rl *RateLimiter) GetLimiter(callerKey string, system bool) *rate.Limiter {
	rl.mu.RLock()
	entry, exists := rl.limiters[callerKey]
	if exists && entry.system == system {
		entry.touch()
		rl.mu.RUnlock()
		return entry.limiter
	}
	rl.mu.RUnlock()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	entry, exists = rl.limiters[callerKey]
	if exists && entry.system == system {
		entry.touch()
		return entry.limiter
	}

	rps, burst := rl.config.UserRPS, rl.config.UserBurst
	if system {
		rps, burst = rl.config.SystemRPS, rl.config.SystemBurst
	}

	entry = &rateLimiterEntry{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		system:  system,
	}
	entry.touch()
	rl.limiters[callerKey] = entry

	return entry.limiter
}

// Cleanup removes limiters idle for longer than the cleanup interval.
func (rl *RateLimiter) Cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := time.Now().Add(-rl.config.CleanupInterval).UnixNano()
	for key, entry := range rl.limiters {
		if entry.lastUsed.Load() < cutoff {
			delete(rl.limiters, key)
		}
	}
}

func (rl *RateLimiter) cleanupLoop() {
	defer rl.wg.Done()

	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.Cleanup()
		case <-rl.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine and waits for it to finish. It is safe
// to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	rl.wg.Wait()
}

// Len returns the number of active rate limiters.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.limiters)
}
