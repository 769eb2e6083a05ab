package config

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisConfigKey     = "ipguard:config:settings"
	redisConfigChannel = "ipguard:config:updates"
	redisOpTimeout     = 5 * time.Second
)

// envelope wraps a broadcast so instances can skip their own updates.
// UpdatedAt versions the settings across restarts.
type envelope struct {
	Origin    string    `json:"origin"`
	UpdatedAt time.Time `json:"updated_at"`
	Settings  Config    `json:"settings"`
}

type redisSyncState struct {
	mu     sync.RWMutex
	client *redis.Client
	origin string
	ctx    context.Context
	cancel context.CancelFunc
}

var globalRedisSync redisSyncState

// EnableRedisSynchronization shares settings between instances. Whichever of
// the local settings file and the shared copy was changed last wins: a newer
// local file is published, a newer shared copy is adopted and persisted.
func EnableRedisSynchronization(ctx context.Context, client *redis.Client, origin string) {
	if client == nil {
		log.Warn("Config synchronization disabled: redis client is nil")
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	syncCtx, cancel := context.WithCancel(ctx)

	globalRedisSync.mu.Lock()
	if globalRedisSync.client != nil {
		globalRedisSync.mu.Unlock()
		cancel()
		return
	}
	globalRedisSync.client = client
	globalRedisSync.origin = origin
	globalRedisSync.ctx = syncCtx
	globalRedisSync.cancel = cancel
	globalRedisSync.mu.Unlock()

	if err := reconcileWithRedis(syncCtx, client); err != nil {
		log.Error("Config sync: failed to reconcile configuration with redis", "error", err)
	}

	pubsub := client.Subscribe(syncCtx, redisConfigChannel)
	if _, err := pubsub.Receive(syncCtx); err != nil {
		log.Error("Config sync: subscribe failed", "error", err)
	}
	go consumeConfigUpdates(syncCtx, pubsub, origin)
}

// DisableRedisSynchronization stops the subscription started by
// EnableRedisSynchronization.
func DisableRedisSynchronization() {
	globalRedisSync.mu.Lock()
	defer globalRedisSync.mu.Unlock()

	if globalRedisSync.cancel != nil {
		globalRedisSync.cancel()
	}
	globalRedisSync.client = nil
	globalRedisSync.origin = ""
	globalRedisSync.ctx = nil
	globalRedisSync.cancel = nil
}

func reconcileWithRedis(ctx context.Context, client *redis.Client) error {
	remote, found, err := loadConfigFromRedis(ctx, client)
	if err != nil {
		log.Warn("Config sync: shared settings unreadable, publishing local copy", "error", err)
	}

	// File systems differ in mtime precision.
	local := SettingsVersion().Truncate(time.Second)
	shared := remote.UpdatedAt.Truncate(time.Second)
	switch {
	case !found || err != nil || local.After(shared):
		log.Info("Config sync: publishing local settings", "version", local)
		return broadcastConfig(GetConfig(), local)
	case shared.After(local):
		log.Info("Config sync: adopting shared settings", "origin", remote.Origin, "version", remote.UpdatedAt)
		return applyConfigUpdate(remote.Settings, configUpdateOptions{
			persistToFile: true,
			source:        "redis",
			version:       remote.UpdatedAt,
		})
	default:
		return nil
	}
}

func loadConfigFromRedis(ctx context.Context, client *redis.Client) (envelope, bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	payload, err := client.Get(opCtx, redisConfigKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return envelope{}, false, nil
		}
		return envelope{}, false, err
	}

	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return envelope{}, true, err
	}
	return env, true, nil
}

func consumeConfigUpdates(ctx context.Context, pubsub *redis.PubSub, origin string) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Config sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var env envelope
		if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
			log.Error("Config sync: invalid payload", "error", err)
			continue
		}
		if env.Origin == origin {
			continue
		}

		opts := configUpdateOptions{persistToFile: true, source: "redis", version: env.UpdatedAt}
		if err := applyConfigUpdate(env.Settings, opts); err != nil {
			log.Error("Config sync: failed to apply remote update", "origin", env.Origin, "error", err)
		}
	}
}

func broadcastConfig(cfg Config, version time.Time) error {
	globalRedisSync.mu.RLock()
	client := globalRedisSync.client
	origin := globalRedisSync.origin
	baseCtx := globalRedisSync.ctx
	globalRedisSync.mu.RUnlock()

	if client == nil {
		return nil
	}

	payload, err := json.Marshal(envelope{Origin: origin, UpdatedAt: version, Settings: cfg})
	if err != nil {
		return err
	}

	ctx := baseCtx
	if ctx == nil || ctx.Err() != nil {
		ctx = context.Background()
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := client.Set(opCtx, redisConfigKey, payload, 0).Err(); err != nil {
		return err
	}
	return client.Publish(opCtx, redisConfigChannel, payload).Err()
}
