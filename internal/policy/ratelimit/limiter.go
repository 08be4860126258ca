// Package ratelimit paces outbound lookups to each grading service with a
// token bucket per service.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/certlookup/internal/grading"
	"github.com/JakeFAU/certlookup/internal/metrics"
)

// Limiter holds one token bucket per service.
type Limiter struct {
	mu         sync.Mutex
	limiters   map[grading.ServiceKey]*rate.Limiter
	intervals  map[grading.ServiceKey]time.Duration
	defaultGap time.Duration
}

// Config holds limiter configuration. A zero interval disables pacing.
type Config struct {
	DefaultInterval time.Duration
	Intervals       map[grading.ServiceKey]time.Duration
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	intervals := make(map[grading.ServiceKey]time.Duration, len(cfg.Intervals))
	for k, v := range cfg.Intervals {
		intervals[k] = v
	}
	return &Limiter{
		limiters:   make(map[grading.ServiceKey]*rate.Limiter),
		intervals:  intervals,
		defaultGap: cfg.DefaultInterval,
	}
}

func (l *Limiter) limiterFor(key grading.ServiceKey) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limiter, ok := l.limiters[key]; ok {
		return limiter
	}
	gap, ok := l.intervals[key]
	if !ok {
		gap = l.defaultGap
	}
	limit := rate.Inf
	if gap > 0 {
		limit = rate.Every(gap)
	}
	limiter := rate.NewLimiter(limit, 1)
	l.limiters[key] = limiter
	return limiter
}

// Wait blocks until key may be contacted again, respecting ctx.
func (l *Limiter) Wait(ctx context.Context, key grading.ServiceKey) error {
	start := time.Now()
	if err := l.limiterFor(key).Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(key.String(), d)
	}
	return nil
}
