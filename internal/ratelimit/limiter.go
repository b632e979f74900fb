// Package ratelimit paces scanner traffic so probes do not flood the target.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/CodeMonkeyCybersecurity/dhascan/internal/config"
)

// Config holds the pacing parameters.
type Config struct {
	// RequestsPerSecond is the global token rate. Zero or less disables it.
	RequestsPerSecond float64
	BurstSize         int
	// MinDelay spaces consecutive requests to one host.
	MinDelay time.Duration
}

func DefaultConfig() Config {
	return Config{RequestsPerSecond: 20, BurstSize: 10}
}

func FromConfig(c config.RateLimitConfig) Config {
	return Config{
		RequestsPerSecond: c.RequestsPerSecond,
		BurstSize:         c.BurstSize,
		MinDelay:          c.MinDelay,
	}
}

// Limiter is shared by every probe of a scan: a global token bucket plus
// a per-host schedule of reserved request slots.
type Limiter struct {
	bucket   *rate.Limiter
	minDelay time.Duration

	mu       sync.Mutex
	nextSlot map[string]time.Time
	requests int64
	delayed  int64
	waited   time.Duration
}

func NewLimiter(cfg Config) *Limiter {
	limit := rate.Limit(cfg.RequestsPerSecond)
	if cfg.RequestsPerSecond <= 0 {
		limit = rate.Inf
	}
	burst := cfg.BurstSize
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		bucket:   rate.NewLimiter(limit, burst),
		minDelay: cfg.MinDelay,
		nextSlot: make(map[string]time.Time),
	}
}

// WaitForHost blocks until the global bucket and the per-host spacing both
// allow a request to host. The slot is reserved under the lock and waited
// for outside it, so workers targeting other hosts are not held up.
func (l *Limiter) WaitForHost(ctx context.Context, host string) error {
	if err := l.bucket.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	l.requests++
	now := time.Now()
	slot := l.nextSlot[host]
	if slot.Before(now) {
		slot = now
	}
	l.nextSlot[host] = slot.Add(l.minDelay)
	wait := slot.Sub(now)
	if wait > 0 {
		l.delayed++
		l.waited += wait
	}
	l.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats is a snapshot of the limiter counters.
type Stats struct {
	Hosts    int
	Requests int64
	Delayed  int64
	Waited   time.Duration
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		Hosts:    len(l.nextSlot),
		Requests: l.requests,
		Delayed:  l.delayed,
		Waited:   l.waited,
	}
}
