package database

import (
	"context"
	"time"

	"github.com/patcreator/alx-backend-security/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UpsertSuspiciousIP creates or refreshes the flag for update.ClientIP.
// created reports whether a new record was inserted.
func (s *Store) UpsertSuspiciousIP(ctx context.Context, update domain.SuspicionUpdate) (bool, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return false, err
	}

	detectedAt := update.DetectedAt
	if detectedAt.IsZero() {
		detectedAt = time.Now()
	}
	detectedAt = detectedAt.UTC()

	created := false
	err = db.Transaction(func(tx *gorm.DB) error {
		record := domain.SuspiciousIP{
			ClientIP:   update.ClientIP,
			Reason:     update.Reason,
			DetectedAt: detectedAt,
		}
		result := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "client_ip"}},
			DoNothing: true,
		}).Create(&record)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 1 {
			created = true
			return nil
		}

		var existing domain.SuspiciousIP
		if err := tx.Where("client_ip = ?", update.ClientIP).First(&existing).Error; err != nil {
			return err
		}

		updates := map[string]any{
			"reason":      update.Reason,
			"detected_at": detectedAt,
		}
		if !keepResolved(existing, update.KeepResolvedSince) {
			updates["is_resolved"] = false
			updates["resolved_at"] = nil
		}

		return tx.Model(&domain.SuspiciousIP{}).
			Where("id = ?", existing.ID).
			Updates(updates).Error
	})

	return created, err
}

func keepResolved(existing domain.SuspiciousIP, since time.Time) bool {
	if since.IsZero() || !existing.IsResolved || existing.ResolvedAt == nil {
		return false
	}
	return !existing.ResolvedAt.Before(since)
}

// ResolveSuspiciousIPs marks the given flags resolved and returns how many changed.
func (s *Store) ResolveSuspiciousIPs(ctx context.Context, ips []string, at time.Time) (int64, error) {
	if len(ips) == 0 {
		return 0, nil
	}
	db, err := s.conn(ctx)
	if err != nil {
		return 0, err
	}
	if at.IsZero() {
		at = time.Now()
	}
	at = at.UTC()

	result := db.Model(&domain.SuspiciousIP{}).
		Where("client_ip IN ?", ips).
		Where("is_resolved = ?", false).
		Updates(map[string]any{
			"is_resolved": true,
			"resolved_at": at,
		})
	return result.RowsAffected, result.Error
}

// ListSuspiciousIPs returns flags newest first. Resolved ones are included only on request.
func (s *Store) ListSuspiciousIPs(ctx context.Context, includeResolved bool) ([]domain.SuspiciousIP, error) {
	db, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Order("detected_at DESC").Order("client_ip ASC")
	if !includeResolved {
		query = query.Where("is_resolved = ?", false)
	}

	var records []domain.SuspiciousIP
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetSuspiciousIP loads the flag for ip. found is false when none exists.
func (s *Store) GetSuspiciousIP(ctx context.Context, ip string) (domain.SuspiciousIP, bool, error) {
	var record domain.SuspiciousIP
	db, err := s.conn(ctx)
	if err != nil {
		return record, false, err
	}

	result := db.Where("client_ip = ?", ip).Limit(1).Find(&record)
	if result.Error != nil {
		return record, false, result.Error
	}
	return record, result.RowsAffected > 0, nil
}
