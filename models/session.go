package models

import "time"

const (
	SessionStatusOpen    = "OPEN"
	SessionStatusClosed  = "CLOSED"
	SessionStatusExpired = "EXPIRED"
)

// Closed reasons
const (
	SessionReasonNewSession  = "NEW_SESSION"
	SessionReasonStaffClosed = "STAFF_CLOSED"
	SessionReasonAbsoluteTTL = "TTL_ABSOLUTE"
	SessionReasonIdleTTL     = "TTL_IDLE"
)

// Session is an ordering session opened by a diner at one table. Rows are
// never deleted; OPEN moves to CLOSED or EXPIRED and stays there.
type Session struct {
	ID            uint         `gorm:"primaryKey" json:"id"`
	TableID       uint         `gorm:"not null;index:idx_sessions_table_status" json:"table_id"`
	Table         Table        `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	AccessTokenID *uint        `gorm:"index" json:"access_token_id,omitempty"`
	AccessToken   *AccessToken `gorm:"foreignKey:AccessTokenID;references:ID" json:"-"`
	Token         string       `gorm:"type:varchar(128);not null;uniqueIndex:uq_sessions_token" json:"-"`
	Status        string       `gorm:"type:varchar(10);not null;index:idx_sessions_table_status" json:"status"`
	FirstOrderAt  *time.Time   `json:"first_order_at,omitempty"`
	LastActiveAt  time.Time    `gorm:"not null" json:"last_active_at"`
	OrderCount    uint         `gorm:"not null;default:0" json:"order_count"`
	ActiveFlag    bool         `gorm:"not null" json:"active_flag"`
	ClosedReason  *string      `gorm:"type:varchar(64)" json:"closed_reason,omitempty"`
	CreatedAt     time.Time    `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time    `gorm:"not null" json:"updated_at"`
}
