package models

import "time"

// OrderStatusLog records every accepted status transition.
type OrderStatusLog struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	OrderID    uint      `gorm:"not null;index" json:"order_id"`
	FromStatus string    `gorm:"type:varchar(20);not null" json:"from_status"`
	ToStatus   string    `gorm:"type:varchar(20);not null" json:"to_status"`
	Action     string    `gorm:"type:varchar(20);not null" json:"action"`
	Reason     *string   `gorm:"type:varchar(255)" json:"reason,omitempty"`
	ChangedBy  string    `gorm:"type:varchar(64)" json:"changed_by"`
	ChangedAt  time.Time `gorm:"not null" json:"changed_at"`
}
