package models

import "time"

type Table struct {
	ID    uint   `gorm:"primaryKey" json:"id"`
	Label string `gorm:"type:varchar(20);not null" json:"label"`
	Slug  string `gorm:"type:varchar(32);uniqueIndex:uq_tables_slug" json:"slug"`
	// IsActive and ExclusiveSession carry no default tag so that false is persisted on create.
	IsActive bool `gorm:"not null" json:"is_active"`
	// ExclusiveSession: only the designated session may order at this table.
	// Takeout counters and other shared channels turn it off.
	ExclusiveSession bool  `gorm:"not null" json:"exclusive_session"`
	CurrentSessionID *uint `gorm:"index" json:"current_session_id,omitempty"`
	// Optional per-table overrides of the configured session TTLs, in minutes.
	AbsTTLMinutes  *int      `json:"abs_ttl_min,omitempty"`
	IdleTTLMinutes *int      `json:"idle_ttl_min,omitempty"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}
