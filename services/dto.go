package services

import (
	"time"

	"github.com/yeremiapane/table-order/models"
)

// OrderCard is the compact order view pushed to live boards.
type OrderCard struct {
	ID         uint      `json:"id"`
	Number     string    `json:"number"`
	Seq        uint      `json:"order_seq"`
	TableID    uint      `json:"table_id"`
	TableLabel string    `json:"table_label"`
	Type       string    `json:"order_type"`
	Status     string    `json:"status"`
	PayerName  *string   `json:"payer_name,omitempty"`
	Total      float64   `json:"total_amount"`
	ItemCount  int       `json:"item_count"`
	CreatedAt  time.Time `json:"created_at"`
	AgeMin     int       `json:"age_min"`
}

type Amounts struct {
	Subtotal float64 `json:"subtotal"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`
}

type OrderDetailItem struct {
	ID        uint    `json:"id"`
	ProductID uint    `json:"product_id"`
	Name      string  `json:"name"`
	Qty       int     `json:"qty"`
	UnitPrice float64 `json:"unit_price"`
	LineTotal float64 `json:"line_total"`
}

// OrderDetail is the full order view with resolved product names.
type OrderDetail struct {
	ID             uint              `json:"id"`
	Seq            uint              `json:"order_seq"`
	Type           string            `json:"order_type"`
	Status         string            `json:"status"`
	Table          *TableRef         `json:"table"`
	PayerName      *string           `json:"payer_name"`
	Amounts        Amounts           `json:"amounts"`
	DiscountReason *string           `json:"discount_reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Items          []OrderDetailItem `json:"items"`
}

// OrderListItem is one row of a paginated order listing.
type OrderListItem struct {
	ID         uint      `json:"id"`
	Seq        uint      `json:"order_seq"`
	SessionID  uint      `json:"session_id"`
	TableID    uint      `json:"table_id"`
	TableLabel string    `json:"table_label"`
	Type       string    `json:"order_type"`
	Status     string    `json:"status"`
	PayerName  *string   `json:"payer_name,omitempty"`
	Amounts    Amounts   `json:"amounts"`
	CreatedAt  time.Time `json:"created_at"`
}

func toCard(o *models.Order, now time.Time) OrderCard {
	items := 0
	for _, l := range o.Lines {
		items += l.Quantity
	}
	age := int(now.Sub(o.CreatedAt) / time.Minute)
	if age < 0 {
		age = 0
	}
	return OrderCard{
		ID:         o.ID,
		Number:     o.DisplayNumber(),
		Seq:        o.Seq,
		TableID:    o.TableID,
		TableLabel: o.Table.Label,
		Type:       o.Type,
		Status:     o.Status,
		PayerName:  o.PayerLabel,
		Total:      o.Total,
		ItemCount:  items,
		CreatedAt:  o.CreatedAt,
		AgeMin:     age,
	}
}

func toDetail(o *models.Order) *OrderDetail {
	d := &OrderDetail{
		ID:             o.ID,
		Seq:            o.Seq,
		Type:           o.Type,
		Status:         o.Status,
		PayerName:      o.PayerLabel,
		Amounts:        Amounts{Subtotal: o.Subtotal, Discount: o.Discount, Total: o.Total},
		DiscountReason: o.DiscountReason,
		CreatedAt:      o.CreatedAt,
		Items:          make([]OrderDetailItem, 0, len(o.Lines)),
	}
	if o.Table.ID != 0 {
		d.Table = &TableRef{ID: o.Table.ID, Label: o.Table.Label, Slug: o.Table.Slug}
	}
	for _, l := range o.Lines {
		d.Items = append(d.Items, OrderDetailItem{
			ID:        l.ID,
			ProductID: l.ProductID,
			Name:      l.Product.Name,
			Qty:       l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	return d
}

func toListItem(o *models.Order) OrderListItem {
	return OrderListItem{
		ID:         o.ID,
		Seq:        o.Seq,
		SessionID:  o.SessionID,
		TableID:    o.TableID,
		TableLabel: o.Table.Label,
		Type:       o.Type,
		Status:     o.Status,
		PayerName:  o.PayerLabel,
		Amounts:    Amounts{Subtotal: o.Subtotal, Discount: o.Discount, Total: o.Total},
		CreatedAt:  o.CreatedAt,
	}
}
