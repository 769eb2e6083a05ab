package domain

import "time"

// BlockedIP is a permanently denied client address. Matching is exact.
type BlockedIP struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	ClientIP  string    `gorm:"column:client_ip;type:text;uniqueIndex;not null" json:"client_ip"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
