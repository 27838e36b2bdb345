package models

import "time"

const (
	AccessTokenActive  = "ACTIVE"
	AccessTokenRevoked = "REVOKED"
	AccessTokenExpired = "EXPIRED"
)

// AccessToken is the credential printed in a table's QR code.
type AccessToken struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	TableID   uint       `gorm:"not null;index:idx_access_tokens_table_status" json:"table_id"`
	Table     Table      `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	Token     string     `gorm:"type:varchar(128);not null;uniqueIndex:uq_access_tokens_token" json:"token"`
	Status    string     `gorm:"type:varchar(10);not null;index:idx_access_tokens_table_status" json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	CreatedAt time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time  `gorm:"not null" json:"updated_at"`
}
