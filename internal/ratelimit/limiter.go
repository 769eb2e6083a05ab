// Package ratelimit implements fixed-window request counters keyed by
// namespaced strings such as "ip:login:203.0.113.7".
package ratelimit

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Backend atomically increments the counter of key for the window starting at
// windowStart and returns the new count.
type Backend interface {
	Increment(ctx context.Context, key string, window time.Duration, windowStart time.Time) (int64, error)
}

type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration

	// Degraded is set when the backend failed and the decision came from the
	// fail-open or fail-closed policy instead of a counter.
	Degraded bool
}

// ErrorObserver is notified of backend failures.
type ErrorObserver interface {
	LimiterBackendError(failClosed bool)
}

type Limiter struct {
	backend    Backend
	failClosed bool
	now        func() time.Time
	observer   ErrorObserver
}

type Option func(*Limiter)

// WithFailClosed denies requests while the backend is failing.
func WithFailClosed(enabled bool) Option {
	return func(l *Limiter) {
		l.failClosed = enabled
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithErrorObserver(observer ErrorObserver) Option {
	return func(l *Limiter) {
		l.observer = observer
	}
}

func NewLimiter(backend Backend, opts ...Option) *Limiter {
	l := &Limiter{
		backend: backend,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Key joins scope, class and id into a namespaced counter key.
func Key(scope, class, id string) string {
	return strings.Join([]string{scope, class, id}, ":")
}

// Check counts one request against key. Requests are allowed while the count
// in the current window stays at or below limit. A limit of zero or less
// disables the check.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) Decision {
	if limit <= 0 || window <= 0 || l == nil || l.backend == nil {
		return Decision{Allowed: true, Limit: limit}
	}

	now := l.now()
	windowStart := now.Truncate(window)
	resetAt := windowStart.Add(window)

	count, err := l.backend.Increment(ctx, key, window, windowStart)
	if err != nil {
		log.Warn("Rate limiter backend unavailable", "key", key, "fail_closed", l.failClosed, "error", err)
		if l.observer != nil {
			l.observer.LimiterBackendError(l.failClosed)
		}
		decision := Decision{
			Allowed:  !l.failClosed,
			Limit:    limit,
			ResetAt:  resetAt,
			Degraded: true,
		}
		if l.failClosed {
			decision.RetryAfter = retryAfter(now, resetAt)
		}
		return decision
	}

	decision := Decision{
		Allowed: count <= int64(limit),
		Count:   count,
		Limit:   limit,
		ResetAt: resetAt,
	}
	if !decision.Allowed {
		decision.RetryAfter = retryAfter(now, resetAt)
	}
	return decision
}

// Remaining returns how many more requests fit in the current window.
func (d Decision) Remaining() int64 {
	if d.Limit <= 0 {
		return 0
	}
	remaining := int64(d.Limit) - d.Count
	if remaining < 0 {
		return 0
	}
	return remaining
}

func retryAfter(now, resetAt time.Time) time.Duration {
	wait := resetAt.Sub(now)
	if wait < time.Second {
		return time.Second
	}
	return wait
}
