package geo

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Entry is one cached lookup.
type Entry struct {
	Location  Location  `json:"location"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store holds cache entries by HashKey. A Get error is treated as a miss.
type Store interface {
	Get(ctx context.Context, key string) (Entry, bool, error)
	Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error
}

const (
	memoryShardCount      = 16
	DefaultMemoryCapacity = 100_000
)

// MemoryStore is a bounded LRU split into shards by the first hex digit of
// the key.
type MemoryStore struct {
	shards [memoryShardCount]*lru.Cache[string, Entry]
}

func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	perShard := capacity / memoryShardCount
	if perShard < 1 {
		perShard = 1
	}

	s := &MemoryStore{}
	for i := range s.shards {
		cache, err := lru.New[string, Entry](perShard)
		if err != nil {
			return nil, err
		}
		s.shards[i] = cache
	}
	return s, nil
}

func (s *MemoryStore) shard(key string) *lru.Cache[string, Entry] {
	if key == "" {
		return s.shards[0]
	}
	idx, err := strconv.ParseUint(key[:1], 16, 8)
	if err != nil {
		return s.shards[0]
	}
	return s.shards[idx]
}

func (s *MemoryStore) Get(_ context.Context, key string) (Entry, bool, error) {
	entry, ok := s.shard(key).Get(key)
	return entry, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, entry Entry, _ time.Duration) error {
	s.shard(key).Add(key, entry)
	return nil
}

func (s *MemoryStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		total += shard.Len()
	}
	return total
}

const redisKeyPrefix = "ipguard:geo:"

// RedisStore shares entries between instances. Keys expire with the entry.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := s.client.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		log.Warn("Discarding malformed geo cache entry", "key", key, "error", err)
		return Entry{}, false, nil
	}
	return entry, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key string, entry Entry, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, redisKeyPrefix+key, payload, ttl).Err()
}
