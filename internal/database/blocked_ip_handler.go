package database

import (
	"context"
	"strings"

	"github.com/patcreator/alx-backend-security/internal/domain"

	"gorm.io/gorm/clause"
)

// ListBlockedIPs returns every deny-list address.
func (s *Store) ListBlockedIPs(ctx context.Context) ([]string, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var ips []string
	if err := db.Model(&domain.BlockedIP{}).Order("client_ip ASC").Pluck("client_ip", &ips).Error; err != nil {
		return nil, err
	}
	return ips, nil
}

// ListBlockedEntries returns the deny-list rows with their creation time.
func (s *Store) ListBlockedEntries(ctx context.Context) ([]domain.BlockedIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	var entries []domain.BlockedIP
	if err := db.Order("client_ip ASC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// BlockIP inserts ip into the deny-list. created is false when it was already present.
func (s *Store) BlockIP(ctx context.Context, ip string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	entry := domain.BlockedIP{ClientIP: strings.TrimSpace(ip)}
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "client_ip"}},
		DoNothing: true,
	}).Create(&entry)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// UnblockIP deletes ip from the deny-list. removed is false when it was absent.
func (s *Store) UnblockIP(ctx context.Context, ip string) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	result := db.Where("client_ip = ?", strings.TrimSpace(ip)).Delete(&domain.BlockedIP{})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
