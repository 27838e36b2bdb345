package models

import (
	"fmt"
	"time"
)

// Order types
const (
	OrderTypeDineIn  = "DINE_IN"
	OrderTypeTakeout = "TAKEOUT"
)

// Order statuses
const (
	OrderStatusPending    = "PENDING"
	OrderStatusConfirmed  = "CONFIRMED"
	OrderStatusInProgress = "IN_PROGRESS"
	OrderStatusServed     = "SERVED"
	OrderStatusCanceled   = "CANCELED"
)

// Order amounts and lines are written once at creation; only Status changes afterwards.
type Order struct {
	ID             uint        `gorm:"primaryKey;index:idx_orders_created_id,priority:2" json:"id"`
	SessionID      uint        `gorm:"not null;uniqueIndex:uq_orders_session_seq,priority:1" json:"session_id"`
	Session        Session     `gorm:"foreignKey:SessionID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"-"`
	TableID        uint        `gorm:"not null;index" json:"table_id"`
	Table          Table       `gorm:"foreignKey:TableID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"table"`
	Seq            uint        `gorm:"not null;uniqueIndex:uq_orders_session_seq,priority:2" json:"order_seq"`
	Type           string      `gorm:"type:varchar(10);not null;default:'DINE_IN'" json:"order_type"`
	Status         string      `gorm:"type:varchar(20);not null;index" json:"status"`
	PayerLabel     *string     `gorm:"type:varchar(100)" json:"payer_name,omitempty"`
	Subtotal       float64     `gorm:"type:decimal(12,2);not null;default:0.00" json:"subtotal_amount"`
	Discount       float64     `gorm:"type:decimal(12,2);not null;default:0.00" json:"discount_amount"`
	Total          float64     `gorm:"type:decimal(12,2);not null;default:0.00" json:"total_amount"`
	DiscountReason *string     `gorm:"type:varchar(64)" json:"discount_reason,omitempty"`
	Lines          []OrderLine `gorm:"foreignKey:OrderID" json:"items"`
	CreatedAt      time.Time   `gorm:"not null;index:idx_orders_created_id,priority:1" json:"created_at"`
	UpdatedAt      time.Time   `gorm:"not null" json:"updated_at"`
}

// DisplayNumber is the short number called out to the table, e.g. "T3-2".
func (o *Order) DisplayNumber() string {
	return fmt.Sprintf("T%d-%d", o.TableID, o.Seq)
}
