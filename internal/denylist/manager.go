// Package denylist keeps the set of blocked client addresses in memory and in
// the database. Reads are lock-free against an immutable snapshot.
package denylist

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

var ErrEmptyIP = errors.New("denylist: ip must not be empty")

// Store persists the deny-list.
type Store interface {
	ListBlockedIPs(ctx context.Context) ([]string, error)
	BlockIP(ctx context.Context, ip string) (bool, error)
	UnblockIP(ctx context.Context, ip string) (bool, error)
}

type Observer interface {
	SetDenyListSize(n int)
	DenyListReloaded(ok bool)
}

type atomicSet struct {
	val atomic.Value
}

func (a *atomicSet) Load() map[string]struct{} {
	raw, ok := a.val.Load().(map[string]struct{})
	if !ok || raw == nil {
		return map[string]struct{}{}
	}
	return raw
}

func (a *atomicSet) Store(m map[string]struct{}) {
	a.val.Store(m)
}

type pendingOp struct {
	op string
	ip string
}

type Manager struct {
	store    Store
	observer Observer

	snapshot atomicSet
	writeMu  sync.Mutex
	reload   singleflight.Group

	// journal holds ops applied while a reload query is in flight. Guarded
	// by writeMu.
	journaling bool
	journal    []pendingOp

	broadcaster atomic.Pointer[Broadcaster]
}

func NewManager(store Store, observer Observer) *Manager {
	m := &Manager{store: store, observer: observer}
	m.snapshot.Store(map[string]struct{}{})
	return m
}

// IsBlocked reports whether ip is on the active snapshot. Matching is exact.
func (m *Manager) IsBlocked(ip string) bool {
	_, found := m.snapshot.Load()[ip]
	return found
}

// Load rebuilds the snapshot from the store. Adds and removes that complete
// while the query runs are replayed onto the result. On failure the previous
// snapshot stays active.
func (m *Manager) Load(ctx context.Context) error {
	_, err, _ := m.reload.Do("load", func() (any, error) {
		m.writeMu.Lock()
		m.journaling = true
		m.journal = nil
		m.writeMu.Unlock()

		ips, err := m.store.ListBlockedIPs(ctx)

		m.writeMu.Lock()
		defer m.writeMu.Unlock()
		journal := m.journal
		m.journaling = false
		m.journal = nil
		if err != nil {
			return nil, err
		}

		set := toSet(ips)
		for _, p := range journal {
			switch p.op {
			case opAdd:
				set[p.ip] = struct{}{}
			case opRemove:
				delete(set, p.ip)
			}
		}
		m.publish(set)
		return nil, nil
	})

	if m.observer != nil {
		m.observer.DenyListReloaded(err == nil)
	}
	if err != nil {
		log.Error("Deny-list reload failed, keeping previous snapshot", "entries", m.Len(), "error", err)
		return fmt.Errorf("denylist: load: %w", err)
	}
	return nil
}

// Add persists ip and makes it effective before returning. created is false
// when ip was already blocked.
func (m *Manager) Add(ctx context.Context, ip string) (bool, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, ErrEmptyIP
	}

	created, err := m.store.BlockIP(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("denylist: block %s: %w", ip, err)
	}

	m.apply(opAdd, ip)
	m.broadcaster.Load().publish(ctx, opAdd, ip)

	if created {
		log.Info("IP blocked", "ip", ip)
	}
	return created, nil
}

// Remove deletes ip from the store and the snapshot.
func (m *Manager) Remove(ctx context.Context, ip string) (bool, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return false, ErrEmptyIP
	}

	removed, err := m.store.UnblockIP(ctx, ip)
	if err != nil {
		return false, fmt.Errorf("denylist: unblock %s: %w", ip, err)
	}

	m.apply(opRemove, ip)
	m.broadcaster.Load().publish(ctx, opRemove, ip)

	if removed {
		log.Info("IP unblocked", "ip", ip)
	}
	return removed, nil
}

// List returns the snapshot sorted for display.
func (m *Manager) List() []string {
	set := m.snapshot.Load()
	ips := make([]string, 0, len(set))
	for ip := range set {
		ips = append(ips, ip)
	}
	sort.Strings(ips)
	return ips
}

func (m *Manager) Len() int {
	return len(m.snapshot.Load())
}

func (m *Manager) apply(op, ip string) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	if m.journaling {
		m.journal = append(m.journal, pendingOp{op: op, ip: ip})
	}

	current := m.snapshot.Load()
	_, present := current[ip]
	switch op {
	case opAdd:
		if present {
			return
		}
		next := cloneSet(current)
		next[ip] = struct{}{}
		m.publish(next)
	case opRemove:
		if !present {
			return
		}
		next := cloneSet(current)
		delete(next, ip)
		m.publish(next)
	}
}

// publish must be called with writeMu held.
func (m *Manager) publish(set map[string]struct{}) {
	m.snapshot.Store(set)
	if m.observer != nil {
		m.observer.SetDenyListSize(len(set))
	}
}

func toSet(ips []string) map[string]struct{} {
	m := make(map[string]struct{}, len(ips))
	for _, ip := range ips {
		m[ip] = struct{}{}
	}
	return m
}

func cloneSet(m map[string]struct{}) map[string]struct{} {
	cp := make(map[string]struct{}, len(m)+1)
	for k := range m {
		cp[k] = struct{}{}
	}
	return cp
}
