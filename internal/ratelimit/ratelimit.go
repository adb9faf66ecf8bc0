// Package ratelimit implements per-key sliding-window rate limiting
// for the broker's endpoint classes.
//
// Each key (usually a client IP) holds a bounded deque of request
// timestamps. A request is allowed when, after pruning entries older
// than the window, fewer than the class maximum remain. Idle keys are
// swept in the background so one-off clients do not accumulate.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/nexauth/nexauth-core/internal/clock"
)

// sweepInterval is how often idle keys are removed.
const sweepInterval = 5 * time.Minute

// Limiter is one sliding-window rate limit class.
type Limiter struct {
	maxRequests int
	window      time.Duration
	clk         clock.Clock

	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu sync.Mutex

	// gone marks an entry the sweeper removed from the map. A caller
	// that obtained the pointer before the sweep must not record into
	// it, or the attempt would vanish with the orphaned entry.
	gone  bool
	times []time.Time
}

// New creates a limiter allowing maxRequests per window for each key.
func New(maxRequests int, window time.Duration, clk clock.Clock) *Limiter {
	return &Limiter{
		maxRequests: maxRequests,
		window:      window,
		clk:         clk,
		entries:     make(map[string]*entry),
	}
}

// Allow records an attempt for key and reports whether it is within
// the limit. When denied, retryAfter is how long until the oldest
// in-window attempt ages out.
func (l *Limiter) Allow(key string) (allowed bool, retryAfter time.Duration) {
	now := l.clk.Now()
	for {
		e := l.entry(key)

		e.mu.Lock()
		if e.gone {
			// Swept between the map lookup and the lock; retry against
			// a live entry.
			e.mu.Unlock()
			continue
		}

		e.prune(now, l.window)

		if len(e.times) >= l.maxRequests {
			oldest := e.times[0]
			e.mu.Unlock()
			return false, l.window - now.Sub(oldest)
		}

		e.times = append(e.times, now)
		e.mu.Unlock()
		return true, 0
	}
}

func (l *Limiter) entry(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &entry{}
		l.entries[key] = e
	}
	return e
}

// prune drops timestamps older than the window. Called with e.mu held.
func (e *entry) prune(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for i < len(e.times) && !e.times[i].After(cutoff) {
		i++
	}
	if i > 0 {
		e.times = append(e.times[:0], e.times[i:]...)
	}
}

// sweep removes keys with no in-window attempts.
func (l *Limiter) sweep() {
	now := l.clk.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	for key, e := range l.entries {
		e.mu.Lock()
		e.prune(now, l.window)
		if len(e.times) == 0 {
			e.gone = true
			delete(l.entries, key)
		}
		e.mu.Unlock()
	}
}

// Class names the broker's endpoint rate classes.
type Class string

// Endpoint classes.
const (
	ClassLogin            Class = "login"
	ClassRegister         Class = "register"
	ClassQR               Class = "qr"
	ClassInvitationVerify Class = "invitation_verify"
	ClassInterestSubmit   Class = "interest_submit"
)

// ClassConfig sizes one limiter class.
type ClassConfig struct {
	MaxRequests int
	Window      time.Duration
}

// Registry holds the configured limiter classes and runs their
// background sweep.
type Registry struct {
	limiters map[Class]*Limiter
}

// NewRegistry creates limiters for each configured class.
func NewRegistry(classes map[Class]ClassConfig, clk clock.Clock) *Registry {
	limiters := make(map[Class]*Limiter, len(classes))
	for class, cfg := range classes {
		limiters[class] = New(cfg.MaxRequests, cfg.Window, clk)
	}
	return &Registry{limiters: limiters}
}

// Allow checks key against the named class. Unknown classes allow
// everything.
func (r *Registry) Allow(class Class, key string) (bool, time.Duration) {
	l, ok := r.limiters[class]
	if !ok {
		return true, 0
	}
	return l.Allow(key)
}

// Run sweeps idle keys until ctx is cancelled.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, l := range r.limiters {
				l.sweep()
			}
		}
	}
}
