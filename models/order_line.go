package models

import "time"

type OrderLine struct {
	ID      uint `gorm:"primaryKey" json:"id"`
	OrderID uint `gorm:"not null;index" json:"order_id"`
	// Omitting Order field from JSON to avoid recursive nesting
	Order     Order     `gorm:"foreignKey:OrderID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE" json:"-"`
	ProductID uint      `gorm:"not null;index" json:"product_id"`
	Product   Product   `gorm:"foreignKey:ProductID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT" json:"product"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	UnitPrice float64   `gorm:"type:decimal(12,2);not null" json:"unit_price"`
	LineTotal float64   `gorm:"type:decimal(12,2);not null" json:"line_total"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}
