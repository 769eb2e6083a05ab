package denylist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type memoryStore struct {
	mu      sync.Mutex
	ips     map[string]struct{}
	listErr error
}

func newMemoryStore(ips ...string) *memoryStore {
	s := &memoryStore{ips: map[string]struct{}{}}
	for _, ip := range ips {
		s.ips[ip] = struct{}{}
	}
	return s
}

func (s *memoryStore) ListBlockedIPs(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]string, 0, len(s.ips))
	for ip := range s.ips {
		out = append(out, ip)
	}
	return out, nil
}

func (s *memoryStore) BlockIP(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ips[ip]; ok {
		return false, nil
	}
	s.ips[ip] = struct{}{}
	return true, nil
}

func (s *memoryStore) UnblockIP(_ context.Context, ip string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ips[ip]; !ok {
		return false, nil
	}
	delete(s.ips, ip)
	return true, nil
}

func TestAddIsEffectiveImmediatelyAndIdempotent(t *testing.T) {
	manager := NewManager(newMemoryStore(), nil)
	ctx := context.Background()

	if manager.IsBlocked("198.51.100.7") {
		t.Fatal("empty deny-list must not block")
	}

	created, err := manager.Add(ctx, "198.51.100.7")
	if err != nil || !created {
		t.Fatalf("first add: created=%v err=%v", created, err)
	}
	if !manager.IsBlocked("198.51.100.7") {
		t.Fatal("ip must be blocked once Add returns")
	}

	created, err = manager.Add(ctx, "198.51.100.7")
	if err != nil {
		t.Fatalf("second add: %v", err)
	}
	if created {
		t.Fatal("second add must report already blocked")
	}
	if manager.Len() != 1 {
		t.Fatalf("expected one entry, got %d", manager.Len())
	}
}

func TestMatchingIsExact(t *testing.T) {
	manager := NewManager(newMemoryStore(), nil)
	if _, err := manager.Add(context.Background(), "10.0.0.1"); err != nil {
		t.Fatalf("add: %v", err)
	}
	for _, ip := range []string{"10.0.0.10", "10.0.0.1 ", "10.0.0.0/24"} {
		if manager.IsBlocked(ip) {
			t.Fatalf("%q must not match", ip)
		}
	}
}

func TestAddRejectsEmpty(t *testing.T) {
	manager := NewManager(newMemoryStore(), nil)
	if _, err := manager.Add(context.Background(), "  "); !errors.Is(err, ErrEmptyIP) {
		t.Fatalf("expected ErrEmptyIP, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	manager := NewManager(newMemoryStore(), nil)
	ctx := context.Background()
	_, _ = manager.Add(ctx, "192.0.2.1")

	removed, err := manager.Remove(ctx, "192.0.2.1")
	if err != nil || !removed {
		t.Fatalf("remove: removed=%v err=%v", removed, err)
	}
	if manager.IsBlocked("192.0.2.1") {
		t.Fatal("removed ip must not be blocked")
	}
}

func TestLoadFailureKeepsPreviousSnapshot(t *testing.T) {
	store := newMemoryStore("203.0.113.1", "203.0.113.2")
	manager := NewManager(store, nil)

	if err := manager.Load(context.Background()); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := manager.List(); len(got) != 2 || got[0] != "203.0.113.1" {
		t.Fatalf("unexpected list %v", got)
	}

	store.listErr = errors.New("database unavailable")
	if err := manager.Load(context.Background()); err == nil {
		t.Fatal("expected load error")
	}
	if !manager.IsBlocked("203.0.113.2") {
		t.Fatal("previous snapshot must stay active")
	}
}

// gatedStore reads its contents when ListBlockedIPs is called and then waits
// for release before returning them.
type gatedStore struct {
	*memoryStore
	listing chan struct{}
	release chan struct{}
}

func (s *gatedStore) ListBlockedIPs(ctx context.Context) ([]string, error) {
	ips, err := s.memoryStore.ListBlockedIPs(ctx)
	close(s.listing)
	<-s.release
	return ips, err
}

func loadWhile(t *testing.T, manager *Manager, store *gatedStore, during func()) {
	t.Helper()

	done := make(chan error, 1)
	go func() { done <- manager.Load(context.Background()) }()

	select {
	case <-store.listing:
	case <-time.After(2 * time.Second):
		t.Fatal("reload never queried the store")
	}
	during()
	close(store.release)

	if err := <-done; err != nil {
		t.Fatalf("load: %v", err)
	}
}

func TestAddDuringReloadSurvivesReload(t *testing.T) {
	store := &gatedStore{memoryStore: newMemoryStore(), listing: make(chan struct{}), release: make(chan struct{})}
	manager := NewManager(store, nil)

	loadWhile(t, manager, store, func() {
		if _, err := manager.Add(context.Background(), "203.0.113.5"); err != nil {
			t.Fatalf("add: %v", err)
		}
		if !manager.IsBlocked("203.0.113.5") {
			t.Fatal("add must be effective before it returns")
		}
	})

	if !manager.IsBlocked("203.0.113.5") {
		t.Fatal("reload dropped an address added while it ran")
	}
}

func TestRemoveDuringReloadSurvivesReload(t *testing.T) {
	store := &gatedStore{memoryStore: newMemoryStore("203.0.113.6"), listing: make(chan struct{}), release: make(chan struct{})}
	manager := NewManager(store, nil)
	if _, err := manager.Add(context.Background(), "203.0.113.6"); err != nil {
		t.Fatalf("add: %v", err)
	}

	loadWhile(t, manager, store, func() {
		if _, err := manager.Remove(context.Background(), "203.0.113.6"); err != nil {
			t.Fatalf("remove: %v", err)
		}
	})

	if manager.IsBlocked("203.0.113.6") {
		t.Fatal("reload restored an address removed while it ran")
	}
}

func TestConcurrentReadsDuringWrites(t *testing.T) {
	manager := NewManager(newMemoryStore(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				manager.IsBlocked("198.51.100.1")
			}
		}()
	}
	for i := 0; i < 50; i++ {
		_, _ = manager.Add(ctx, "198.51.100.1")
		_, _ = manager.Remove(ctx, "198.51.100.1")
	}
	wg.Wait()
}

func TestRedisSyncPropagatesChanges(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = client.Close() })
		return client
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := newMemoryStore()
	nodeA := NewManager(store, nil)
	nodeB := NewManager(store, nil)
	nodeA.EnableRedisSync(ctx, newClient(), "node-a")
	nodeB.EnableRedisSync(ctx, newClient(), "node-b")

	if _, err := nodeA.Add(ctx, "198.51.100.99"); err != nil {
		t.Fatalf("add: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !nodeB.IsBlocked("198.51.100.99") {
		if time.Now().After(deadline) {
			t.Fatal("remote node did not receive the block")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if _, err := nodeA.Remove(ctx, "198.51.100.99"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for nodeB.IsBlocked("198.51.100.99") {
		if time.Now().After(deadline) {
			t.Fatal("remote node did not receive the unblock")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
