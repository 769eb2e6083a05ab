package database

import (
	"context"
	"database/sql"
	"time"

	"github.com/patcreator/alx-backend-security/internal/domain"

	"gorm.io/gorm"
)

type ipCount struct {
	ClientIP string
	Total    int64
}

// RecordRequest appends one request log row.
func (s *Store) RecordRequest(ctx context.Context, entry *domain.RequestLog) error {
	db, err := s.conn(ctx)
	if err != nil {
		return err
	}
	return db.Create(entry).Error
}

// CountRequestsByIPSince counts requests per client IP with a timestamp at or after since.
func (s *Store) CountRequestsByIPSince(ctx context.Context, since time.Time) (map[string]int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return countByIP(requestsSince(db, since))
}

// CountRequestsByIPForPathsSince counts requests per client IP whose path exactly
// matches one of paths.
func (s *Store) CountRequestsByIPForPathsSince(ctx context.Context, since time.Time, paths []string) (map[string]int64, error) {
	if len(paths) == 0 {
		return map[string]int64{}, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	return countByIP(requestsSince(db, since).Where("path IN ?", paths))
}

// RequestWindow reads both the volume and the sensitive-path counts from one
// consistent snapshot.
func (s *Store) RequestWindow(ctx context.Context, since time.Time, sensitivePaths []string) (domain.RequestWindow, error) {
	window := domain.RequestWindow{
		Since:     since.UTC(),
		Volume:    map[string]int64{},
		Sensitive: map[string]int64{},
	}

	db, err := s.conn(ctx)
	if err != nil {
		return window, err
	}

	var opts []*sql.TxOptions
	if db.Dialector.Name() == "postgres" {
		opts = append(opts, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		volume, err := countByIP(requestsSince(tx, window.Since))
		if err != nil {
			return err
		}
		window.Volume = volume

		if len(sensitivePaths) == 0 {
			return nil
		}
		sensitive, err := countByIP(requestsSince(tx, window.Since).Where("path IN ?", sensitivePaths))
		if err != nil {
			return err
		}
		window.Sensitive = sensitive
		return nil
	}, opts...)

	return window, err
}

// DeleteRequestsOlderThan removes request logs with a timestamp strictly before cutoff.
func (s *Store) DeleteRequestsOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	result := db.Where("timestamp < ?", cutoff.UTC()).Delete(&domain.RequestLog{})
	return result.RowsAffected, result.Error
}

// ListRecentRequests returns the newest request logs first, optionally
// restricted to one client IP.
func (s *Store) ListRecentRequests(ctx context.Context, clientIP string, limit int) ([]domain.RequestLog, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := db.Model(&domain.RequestLog{})
	if clientIP != "" {
		query = query.Where("client_ip = ?", clientIP)
	}

	var rows []domain.RequestLog
	if err := query.Order("timestamp DESC").Order("id DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func requestsSince(db *gorm.DB, since time.Time) *gorm.DB {
	return db.Model(&domain.RequestLog{}).Where("timestamp >= ?", since.UTC())
}

func countByIP(query *gorm.DB) (map[string]int64, error) {
	var rows []ipCount
	err := query.
		Select("client_ip AS client_ip, COUNT(*) AS total").
		Group("client_ip").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.ClientIP] = row.Total
	}
	return counts, nil
}
