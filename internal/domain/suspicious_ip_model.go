package domain

import "time"

// SuspiciousIP is the single open-or-resolved flag kept per client address.
type SuspiciousIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	ClientIP   string     `gorm:"column:client_ip;type:text;uniqueIndex;not null" json:"client_ip"`
	Reason     string     `gorm:"type:text;not null;default:''" json:"reason"`
	DetectedAt time.Time  `gorm:"not null;index" json:"detected_at"`
	IsResolved bool       `gorm:"not null;default:false;index" json:"is_resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// SuspicionUpdate describes one detector finding to be upserted.
type SuspicionUpdate struct {
	ClientIP   string
	Reason     string
	DetectedAt time.Time

	// KeepResolvedSince keeps an existing record resolved when it was resolved
	// at or after this instant. The zero value always reopens the record.
	KeepResolvedSince time.Time
}
