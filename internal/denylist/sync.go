package denylist

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	UpdatesChannel = "ipguard:denylist:updates"
	redisOpTimeout = 5 * time.Second

	opAdd    = "add"
	opRemove = "remove"
)

type update struct {
	Op     string `json:"op"`
	IP     string `json:"ip"`
	Origin string `json:"origin"`
}

// Broadcaster fans deny-list changes out to other instances over Redis.
type Broadcaster struct {
	client *redis.Client
	origin string
}

// EnableRedisSync publishes local changes and applies remote ones until ctx
// ends. origin identifies this instance so it skips its own messages.
func (m *Manager) EnableRedisSync(ctx context.Context, client *redis.Client, origin string) {
	if client == nil {
		log.Warn("Deny-list synchronization disabled: redis client is nil")
		return
	}

	m.broadcaster.Store(&Broadcaster{client: client, origin: origin})

	pubsub := client.Subscribe(ctx, UpdatesChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		log.Error("Deny-list sync: subscribe failed", "error", err)
	}
	go m.consume(ctx, pubsub, origin)
}

func (m *Manager) consume(ctx context.Context, pubsub *redis.PubSub, origin string) {
	defer pubsub.Close()

	for {
		msg, err := pubsub.ReceiveMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) || ctx.Err() != nil {
				return
			}
			log.Error("Deny-list sync: subscription error", "error", err)
			time.Sleep(time.Second)
			continue
		}

		var upd update
		if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
			log.Error("Deny-list sync: invalid payload", "error", err)
			continue
		}
		if upd.Origin == origin || upd.IP == "" {
			continue
		}
		if upd.Op != opAdd && upd.Op != opRemove {
			continue
		}

		m.apply(upd.Op, upd.IP)
		log.Debug("Deny-list sync: applied remote update", "op", upd.Op, "ip", upd.IP, "origin", upd.Origin)
	}
}

func (b *Broadcaster) publish(ctx context.Context, op, ip string) {
	if b == nil || b.client == nil {
		return
	}

	payload, err := json.Marshal(update{Op: op, IP: ip, Origin: b.origin})
	if err != nil {
		return
	}

	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), redisOpTimeout)
	defer cancel()

	if err := b.client.Publish(opCtx, UpdatesChannel, payload).Err(); err != nil {
		log.Warn("Deny-list sync: publish failed", "op", op, "ip", ip, "error", err)
	}
}
