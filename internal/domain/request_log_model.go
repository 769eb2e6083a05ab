package domain

import (
	"time"
	"unicode/utf8"

	"gorm.io/gorm"
)

// RequestLog is one observed request. Rows are append-only and only removed by
// retention cleanup.
type RequestLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	// ClientIP is stored exactly as resolved; it is untrusted text, not a validated address.
	ClientIP  string    `gorm:"column:client_ip;type:text;not null;index:idx_request_logs_ip_time,priority:1" json:"client_ip"`
	Timestamp time.Time `gorm:"not null;index;index:idx_request_logs_ip_time,priority:2" json:"timestamp"`
	Path      string    `gorm:"size:255;not null;default:''" json:"path"`

	Country string `gorm:"size:64;not null;default:''" json:"country,omitempty"`
	City    string `gorm:"size:128;not null;default:''" json:"city,omitempty"`
}

func (entry *RequestLog) BeforeCreate(_ *gorm.DB) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()
	entry.Path = truncateUTF8(entry.Path, maxPathBytes)
	return nil
}

const maxPathBytes = 255

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RequestWindow holds per-IP request counts over a trailing window, read from
// a single snapshot.
type RequestWindow struct {
	Since     time.Time
	Volume    map[string]int64
	Sensitive map[string]int64
}
