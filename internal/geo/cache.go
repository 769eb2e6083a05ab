package geo

import (
	"context"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultTimeout = 1500 * time.Millisecond
)

// Lookup outcomes reported to the observer.
const (
	OutcomeLocal    = "local"
	OutcomeInvalid  = "invalid"
	OutcomeDisabled = "disabled"
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeFailed   = "failed"
	OutcomeTimeout  = "timeout"
)

type Observer interface {
	ObserveGeoLookup(outcome string)
}

// Cache fronts a Provider with a TTL cache. Concurrent misses for the same
// address share one provider call. Failures are never cached.
type Cache struct {
	provider Provider
	store    Store
	ttl      time.Duration
	timeout  time.Duration
	now      func() time.Time
	observer Observer

	group singleflight.Group
}

type CacheOption func(*Cache)

func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

func WithTimeout(timeout time.Duration) CacheOption {
	return func(c *Cache) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithStore(store Store) CacheOption {
	return func(c *Cache) {
		if store != nil {
			c.store = store
		}
	}
}

func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

func WithObserver(observer Observer) CacheOption {
	return func(c *Cache) {
		c.observer = observer
	}
}

// NewCache builds a cache around provider. A nil provider makes every public
// address resolve to Unknown.
func NewCache(provider Provider, opts ...CacheOption) *Cache {
	c := &Cache{
		provider: provider,
		ttl:      DefaultTTL,
		timeout:  DefaultTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.store == nil {
		store, _ := NewMemoryStore(DefaultMemoryCapacity)
		c.store = store
	}
	return c
}

// Lookup never fails: problems surface as Unknown or Failed.
func (c *Cache) Lookup(ctx context.Context, rawIP string) Location {
	ip := parseIP(rawIP)
	if ip == nil {
		c.observe(OutcomeInvalid)
		return Unknown
	}
	if isLocal(ip) {
		c.observe(OutcomeLocal)
		return Local
	}
	if c.provider == nil {
		c.observe(OutcomeDisabled)
		return Unknown
	}

	key := HashKey(rawIP)
	if entry, ok, err := c.store.Get(ctx, key); err != nil {
		log.Debug("Geo cache read failed", "error", err)
	} else if ok && c.now().Before(entry.ExpiresAt) {
		c.observe(OutcomeHit)
		return entry.Location
	}

	ch := c.group.DoChan(key, func() (any, error) {
		lookupCtx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()

		loc, err := c.provider.Lookup(lookupCtx, ip)
		if err != nil {
			return Location{}, err
		}

		entry := Entry{Location: loc, ExpiresAt: c.now().Add(c.ttl)}
		if err := c.store.Set(lookupCtx, key, entry, c.ttl); err != nil {
			log.Debug("Geo cache write failed", "error", err)
		}
		return loc, nil
	})

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, context.DeadlineExceeded) {
				c.observe(OutcomeTimeout)
			} else {
				c.observe(OutcomeFailed)
			}
			log.Debug("Geo lookup failed", "ip", rawIP, "error", res.Err)
			return Failed
		}
		c.observe(OutcomeMiss)
		return res.Val.(Location)
	case <-timer.C:
		c.observe(OutcomeTimeout)
		return Failed
	case <-ctx.Done():
		c.observe(OutcomeTimeout)
		return Failed
	}
}

func (c *Cache) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveGeoLookup(outcome)
	}
}
