package runtime

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	InstanceHeartbeatKeyPrefix = "ipguard:instance:"
	DefaultHeartbeatInterval   = 15 * time.Second
	DefaultHeartbeatTTL        = 30 * time.Second
)

var instanceID = func() string {
	hostname, _ := os.Hostname()
	return fmt.Sprintf("%s-%d-%d", hostname, os.Getpid(), time.Now().UnixNano())
}()

// InstanceID identifies this process in heartbeats and sync messages.
func InstanceID() string {
	return instanceID
}

// PeerObserver is told how many instances were alive after each beat.
type PeerObserver interface {
	SetActiveInstances(n int)
}

// Heartbeat announces this instance in Redis with an expiring key, so peers
// that stop beating drop out of the count after TTL.
type Heartbeat struct {
	client   *redis.Client
	prefix   string
	interval time.Duration
	ttl      time.Duration
	observer PeerObserver
}

func NewHeartbeat(client *redis.Client, observer PeerObserver) *Heartbeat {
	return &Heartbeat{
		client:   client,
		prefix:   InstanceHeartbeatKeyPrefix,
		interval: DefaultHeartbeatInterval,
		ttl:      DefaultHeartbeatTTL,
		observer: observer,
	}
}

func (h *Heartbeat) key() string {
	return h.prefix + instanceID
}

// Start beats until parent is cancelled or the returned func is called.
func (h *Heartbeat) Start(parent context.Context) context.CancelFunc {
	ctx, cancel := context.WithCancel(parent)
	go h.run(ctx)
	return cancel
}

func (h *Heartbeat) run(ctx context.Context) {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cleanupCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = h.client.Del(cleanupCtx, h.key()).Err()
			cancel()
			return
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *Heartbeat) beat(ctx context.Context) {
	if err := h.client.SetEx(ctx, h.key(), time.Now().UTC().Format(time.RFC3339), h.ttl).Err(); err != nil {
		if ctx.Err() == nil {
			log.Error("Instance heartbeat failed", "key", h.key(), "error", err)
		}
		return
	}
	if h.observer == nil {
		return
	}
	n, err := h.ActiveInstances(ctx)
	if err != nil {
		log.Warn("Counting active instances failed", "error", err)
		return
	}
	h.observer.SetActiveInstances(n)
}

// ActiveInstances counts the heartbeat keys that have not expired yet.
func (h *Heartbeat) ActiveInstances(ctx context.Context) (int, error) {
	count := 0
	iter := h.client.Scan(ctx, 0, h.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		return 0, err
	}
	return count, nil
}
