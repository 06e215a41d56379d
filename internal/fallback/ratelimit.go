// Package fallback runs prioritized engine chains and tracks the shared
// per-service cooldowns that rate-limit signals impose on the whole batch.
package fallback

import (
	"strings"
	"sync"
	"time"

	"reel/internal/config"
)

// Limiter tracks rate-limit cooldowns keyed by external service. All workers
// in a batch share one Limiter; a signal from any of them pauses dispatch for
// everyone.
type Limiter struct {
	mu       sync.Mutex
	base     time.Duration
	factor   float64
	ceiling  time.Duration
	now      func() time.Time
	services map[string]*serviceState
}

type serviceState struct {
	consecutive int
	until       time.Time
}

// LimiterOption customizes a Limiter.
type LimiterOption func(*Limiter)

// WithNow overrides the limiter's clock (for tests).
func WithNow(now func() time.Time) LimiterOption {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLimiter builds a Limiter from the configured cooldown policy.
func NewLimiter(cfg config.RateLimit, opts ...LimiterOption) *Limiter {
	base := time.Duration(cfg.CooldownMinutes) * time.Minute
	if base <= 0 {
		base = 30 * time.Minute
	}
	factor := cfg.BackoffFactor
	if factor < 1 {
		factor = 2.0
	}
	ceiling := time.Duration(cfg.MaxCooldownMinutes) * time.Minute
	if ceiling < base {
		ceiling = base
	}
	l := &Limiter{
		base:     base,
		factor:   factor,
		ceiling:  ceiling,
		now:      time.Now,
		services: make(map[string]*serviceState),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Signal records a rate-limit hit for the service and returns the moment the
// cooldown expires. Consecutive signals without an intervening success extend
// the cooldown multiplicatively up to the configured ceiling. A positive hint
// from the external service overrides the computed duration when longer.
func (l *Limiter) Signal(service string, hint time.Duration) time.Time {
	service = normalizeService(service)

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.services[service]
	if state == nil {
		state = &serviceState{}
		l.services[service] = state
	}
	state.consecutive++

	cooldown := l.base
	for i := 1; i < state.consecutive; i++ {
		cooldown = time.Duration(float64(cooldown) * l.factor)
		if cooldown >= l.ceiling {
			cooldown = l.ceiling
			break
		}
	}
	if cooldown > l.ceiling {
		cooldown = l.ceiling
	}
	if hint > cooldown {
		cooldown = hint
	}

	until := l.now().Add(cooldown)
	if until.After(state.until) {
		state.until = until
	}
	return state.until
}

// ReportSuccess resets the backoff run for the service after a completed
// operation.
func (l *Limiter) ReportSuccess(service string) {
	service = normalizeService(service)

	l.mu.Lock()
	defer l.mu.Unlock()

	if state := l.services[service]; state != nil {
		state.consecutive = 0
		state.until = time.Time{}
	}
}

// ActiveCooldown reports whether the service is currently cooling down, and
// until when.
func (l *Limiter) ActiveCooldown(service string) (time.Time, bool) {
	service = normalizeService(service)

	l.mu.Lock()
	defer l.mu.Unlock()

	state := l.services[service]
	if state == nil {
		return time.Time{}, false
	}
	if until := state.until; until.After(l.now()) {
		return until, true
	}
	return time.Time{}, false
}

// NextCooldownEnd returns the latest active cooldown expiry across all
// services, if any. The batch runner uses it as a dispatch barrier.
func (l *Limiter) NextCooldownEnd() (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var latest time.Time
	now := l.now()
	for _, state := range l.services {
		if state.until.After(now) && state.until.After(latest) {
			latest = state.until
		}
	}
	return latest, !latest.IsZero()
}

func normalizeService(service string) string {
	service = strings.ToLower(strings.TrimSpace(service))
	if service == "" {
		return "unknown"
	}
	return service
}
