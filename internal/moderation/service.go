// Package moderation implements the administrative actions shared by the CLI
// and the admin API.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/patcreator/alx-backend-security/internal/anomaly"
	"github.com/patcreator/alx-backend-security/internal/domain"
)

var ErrNoIPs = errors.New("moderation: no ip addresses given")

type DenyList interface {
	Add(ctx context.Context, ip string) (bool, error)
	Remove(ctx context.Context, ip string) (bool, error)
}

type Store interface {
	ListBlockedEntries(ctx context.Context) ([]domain.BlockedIP, error)
	ResolveSuspiciousIPs(ctx context.Context, ips []string, at time.Time) (int64, error)
	ListSuspiciousIPs(ctx context.Context, includeResolved bool) ([]domain.SuspiciousIP, error)
	ListRecentRequests(ctx context.Context, clientIP string, limit int) ([]domain.RequestLog, error)
	DeleteRequestsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

type Scanner interface {
	Run(ctx context.Context) (anomaly.Report, error)
}

type PurgeObserver interface {
	LogsPurged(n int64)
}

type Service struct {
	deny     DenyList
	store    Store
	scanner  Scanner
	observer PurgeObserver
	now      func() time.Time
}

func NewService(deny DenyList, store Store, scanner Scanner, observer PurgeObserver) *Service {
	return &Service{
		deny:     deny,
		store:    store,
		scanner:  scanner,
		observer: observer,
		now:      time.Now,
	}
}

// BlockResult reports one block request.
type BlockResult struct {
	IP      string `json:"ip"`
	Created bool   `json:"created"`
}

func (r BlockResult) Message() string {
	if r.Created {
		return fmt.Sprintf("Successfully blocked IP: %s", r.IP)
	}
	return fmt.Sprintf("IP %s was already blocked", r.IP)
}

func (s *Service) BlockIP(ctx context.Context, ip string) (BlockResult, error) {
	ip = strings.TrimSpace(ip)
	created, err := s.deny.Add(ctx, ip)
	if err != nil {
		return BlockResult{IP: ip}, err
	}
	return BlockResult{IP: ip, Created: created}, nil
}

func (s *Service) UnblockIP(ctx context.Context, ip string) (bool, error) {
	return s.deny.Remove(ctx, strings.TrimSpace(ip))
}

func (s *Service) ListBlocked(ctx context.Context) ([]domain.BlockedIP, error) {
	return s.store.ListBlockedEntries(ctx)
}

func (s *Service) ListSuspicious(ctx context.Context, includeResolved bool) ([]domain.SuspiciousIP, error) {
	return s.store.ListSuspiciousIPs(ctx, includeResolved)
}

func (s *Service) ResolveSuspicious(ctx context.Context, ips []string) (int64, error) {
	ips = cleanIPs(ips)
	if len(ips) == 0 {
		return 0, ErrNoIPs
	}
	return s.store.ResolveSuspiciousIPs(ctx, ips, s.now())
}

// PromoteSuspicious blocks the given addresses and resolves their flags. It
// returns how many were newly blocked.
func (s *Service) PromoteSuspicious(ctx context.Context, ips []string) (int, error) {
	ips = cleanIPs(ips)
	if len(ips) == 0 {
		return 0, ErrNoIPs
	}

	blocked := 0
	var errs []error
	promoted := make([]string, 0, len(ips))
	for _, ip := range ips {
		created, err := s.deny.Add(ctx, ip)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if created {
			blocked++
		}
		promoted = append(promoted, ip)
	}

	if len(promoted) > 0 {
		if _, err := s.store.ResolveSuspiciousIPs(ctx, promoted, s.now()); err != nil {
			errs = append(errs, fmt.Errorf("moderation: resolve promoted: %w", err))
		}
	}

	if blocked > 0 {
		log.Info("Promoted suspicious IPs to deny-list", "count", blocked)
	}
	return blocked, errors.Join(errs...)
}

func (s *Service) RunDetection(ctx context.Context) (anomaly.Report, error) {
	if s.scanner == nil {
		return anomaly.Report{}, errors.New("moderation: anomaly detection not configured")
	}
	return s.scanner.Run(ctx)
}

// CleanupResult reports one retention pass.
type CleanupResult struct {
	Cutoff  time.Time `json:"cutoff"`
	Deleted int64     `json:"deleted"`
}

func (r CleanupResult) Message() string {
	return fmt.Sprintf("Cleaned up %d old logs", r.Deleted)
}

// CleanupLogs deletes request logs older than maxAge.
func (s *Service) CleanupLogs(ctx context.Context, maxAge time.Duration) (CleanupResult, error) {
	if maxAge <= 0 {
		return CleanupResult{}, fmt.Errorf("moderation: retention age must be positive, got %s", maxAge)
	}

	cutoff := s.now().Add(-maxAge).UTC()
	deleted, err := s.store.DeleteRequestsOlderThan(ctx, cutoff)
	if err != nil {
		return CleanupResult{Cutoff: cutoff}, fmt.Errorf("moderation: cleanup logs: %w", err)
	}
	if s.observer != nil {
		s.observer.LogsPurged(deleted)
	}

	result := CleanupResult{Cutoff: cutoff, Deleted: deleted}
	log.Info(result.Message(), "cutoff", cutoff)
	return result, nil
}

func (s *Service) RecentRequests(ctx context.Context, clientIP string, limit int) ([]domain.RequestLog, error) {
	return s.store.ListRecentRequests(ctx, strings.TrimSpace(clientIP), limit)
}

func cleanIPs(ips []string) []string {
	seen := make(map[string]struct{}, len(ips))
	out := make([]string, 0, len(ips))
	for _, ip := range ips {
		ip = strings.TrimSpace(ip)
		if ip == "" {
			continue
		}
		if _, ok := seen[ip]; ok {
			continue
		}
		seen[ip] = struct{}{}
		out = append(out, ip)
	}
	return out
}
