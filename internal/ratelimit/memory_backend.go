package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/patcreator/alx-backend-security/internal/support"
)

const (
	memoryShardCount = 16
	pruneEvery       = 1024
)

type memoryCounter struct {
	windowStart time.Time
	expiresAt   time.Time
	count       int64
}

type memoryShard struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
	writes   int
	// horizon is the latest window start seen, a lower bound of the caller's clock.
	horizon time.Time
}

// MemoryBackend keeps counters in process memory. Each shard is guarded by
// its own mutex, so increments of unrelated keys do not contend.
type MemoryBackend struct {
	shards [memoryShardCount]*memoryShard
}

func NewMemoryBackend() *MemoryBackend {
	b := &MemoryBackend{}
	for i := range b.shards {
		b.shards[i] = &memoryShard{counters: make(map[string]*memoryCounter)}
	}
	return b
}

func (b *MemoryBackend) Increment(_ context.Context, key string, window time.Duration, windowStart time.Time) (int64, error) {
	shard := b.shards[support.HashString(key)%memoryShardCount]

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if windowStart.After(shard.horizon) {
		shard.horizon = windowStart
	}
	shard.writes++
	if shard.writes%pruneEvery == 0 {
		shard.prune(shard.horizon)
	}

	counter, ok := shard.counters[key]
	if !ok || !counter.windowStart.Equal(windowStart) {
		counter = &memoryCounter{
			windowStart: windowStart,
			expiresAt:   windowStart.Add(window),
		}
		shard.counters[key] = counter
	}
	counter.count++
	return counter.count, nil
}

// Len reports the number of live counters across all shards.
func (b *MemoryBackend) Len() int {
	total := 0
	for _, shard := range b.shards {
		shard.mu.Lock()
		total += len(shard.counters)
		shard.mu.Unlock()
	}
	return total
}

// prune drops counters whose window ended at or before horizon.
func (s *memoryShard) prune(horizon time.Time) {
	for key, counter := range s.counters {
		if !horizon.Before(counter.expiresAt) {
			delete(s.counters, key)
		}
	}
}
