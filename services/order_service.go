package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

const (
	takeoutDiscountRate   = 0.10
	takeoutDiscountReason = "TAKEOUT_10_OFF"
	maxPayerLabelLength   = 100
)

// EventPublisher fans a named event out to live viewers.
type EventPublisher interface {
	Publish(event string, payload interface{})
}

type OrderItemInput struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

type CreateOrderInput struct {
	Type       string           `json:"order_type"`
	PayerLabel string           `json:"payer_name"`
	Items      []OrderItemInput `json:"items"`
}

// OrderSummary is returned to the diner after an order is placed.
type OrderSummary struct {
	OrderID        uint      `json:"order_id"`
	Seq            uint      `json:"order_seq"`
	Number         string    `json:"number"`
	Type           string    `json:"order_type"`
	Status         string    `json:"status"`
	Subtotal       float64   `json:"subtotal_amount"`
	Discount       float64   `json:"discount_amount"`
	Total          float64   `json:"total_amount"`
	DiscountReason *string   `json:"discount_reason,omitempty"`
	FirstOrderAt   time.Time `json:"first_order_at"`
}

// ExportLine is one order line as sent to the external export sink.
type ExportLine struct {
	ProductID   uint    `json:"product_id"`
	ProductName string  `json:"product_name"`
	Quantity    int     `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	LineTotal   float64 `json:"line_total"`
}

// ExportPayload is a committed order in the shape handed to the export sink.
type ExportPayload struct {
	OrderID    uint         `json:"order_id"`
	Seq        uint         `json:"order_seq"`
	SessionID  uint         `json:"session_id"`
	TableID    uint         `json:"table_id"`
	TableLabel string       `json:"table_label"`
	Type       string       `json:"order_type"`
	Status     string       `json:"status"`
	PayerName  string       `json:"payer_name,omitempty"`
	Total      float64      `json:"total_amount"`
	Lines      []ExportLine `json:"lines"`
	CreatedAt  time.Time    `json:"created_at"`
}

type CreatedOrder struct {
	Summary OrderSummary
	Export  ExportPayload
}

// OrderService places orders for an open session.
type OrderService struct {
	DB        *gorm.DB
	Retry     RetryPolicy
	Publisher EventPublisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewOrderService(db *gorm.DB, policy RetryPolicy, pub EventPublisher, m *metrics.Metrics) *OrderService {
	return &OrderService{DB: db, Retry: policy, Publisher: pub, Metrics: m, Now: utcNow}
}

// Create assigns the next per-session sequence number and persists the
// order with its priced lines in one transaction.
func (s *OrderService) Create(ctx context.Context, session *models.Session, in CreateOrderInput) (*CreatedOrder, error) {
	if session == nil || session.Status != models.SessionStatusOpen {
		return nil, utils.NewSessionError("invalid session")
	}
	orderType, err := normalizeOrderType(in.Type)
	if err != nil {
		return nil, err
	}
	if len(in.Items) == 0 {
		return nil, utils.NewValidationError("items are required")
	}
	for i, it := range in.Items {
		if it.ProductID == 0 {
			return nil, utils.NewValidationError("items[%d].product_id is required", i)
		}
		if it.Quantity < 1 {
			return nil, utils.NewValidationError("items[%d].quantity must be at least 1", i)
		}
	}
	payer := strings.TrimSpace(in.PayerLabel)
	if len(payer) > maxPayerLabelLength {
		return nil, utils.NewValidationError("payer_name must be at most %d characters", maxPayerLabelLength)
	}

	var order models.Order
	var firstOrderAt time.Time
	policy := withRetryMetrics(s.Retry, s.Metrics, "order.create")
	err = WithRetry(ctx, policy, func(ctx context.Context) error {
		order = models.Order{}
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			now := s.now()

			res := tx.Model(&models.Session{}).
				Where("id = ? AND status = ?", session.ID, models.SessionStatusOpen).
				Updates(map[string]interface{}{
					"order_count":    gorm.Expr("order_count + 1"),
					"first_order_at": gorm.Expr("COALESCE(first_order_at, ?)", now),
					"last_active_at": now,
				})
			if res.Error != nil {
				return fmt.Errorf("increment order count: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return utils.NewSessionError("invalid session")
			}

			var ses models.Session
			if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ses, session.ID).Error; err != nil {
				return fmt.Errorf("reload session: %w", err)
			}
			if ses.FirstOrderAt != nil {
				firstOrderAt = *ses.FirstOrderAt
			}

			var table models.Table
			if err := tx.First(&table, ses.TableID).Error; err != nil {
				return fmt.Errorf("load table: %w", err)
			}

			lines := make([]models.OrderLine, 0, len(in.Items))
			subtotal := 0.0
			for _, it := range in.Items {
				var p models.Product
				err := tx.Where("id = ? AND is_active = ?", it.ProductID, true).First(&p).Error
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return utils.NewValidationError("invalid product: %d", it.ProductID)
				}
				if err != nil {
					return fmt.Errorf("load product: %w", err)
				}
				lineTotal := utils.Round2(p.Price * float64(it.Quantity))
				subtotal += lineTotal
				lines = append(lines, models.OrderLine{
					ProductID: p.ID,
					Product:   p,
					Quantity:  it.Quantity,
					UnitPrice: p.Price,
					LineTotal: lineTotal,
					CreatedAt: now,
				})
			}
			subtotal = utils.Round2(subtotal)

			discount := 0.0
			var reason *string
			if orderType == models.OrderTypeTakeout {
				discount = utils.Round2(subtotal * takeoutDiscountRate)
				r := takeoutDiscountReason
				reason = &r
			}

			order = models.Order{
				SessionID:      ses.ID,
				TableID:        ses.TableID,
				Seq:            ses.OrderCount,
				Type:           orderType,
				Status:         models.OrderStatusPending,
				Subtotal:       subtotal,
				Discount:       discount,
				Total:          utils.Round2(subtotal - discount),
				DiscountReason: reason,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			if payer != "" {
				order.PayerLabel = &payer
			}
			if err := tx.Omit(clause.Associations).Create(&order).Error; err != nil {
				return fmt.Errorf("create order: %w", err)
			}

			for i := range lines {
				lines[i].OrderID = order.ID
			}
			if err := tx.Omit(clause.Associations).Create(&lines).Error; err != nil {
				return fmt.Errorf("create order lines: %w", err)
			}

			order.Table = table
			order.Lines = lines
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if s.Metrics != nil {
		s.Metrics.OrdersCreated.WithLabelValues(order.Type).Inc()
	}
	utils.InfoLogger.WithFields(logrus.Fields{
		"order_id":   order.ID,
		"session_id": order.SessionID,
		"table_id":   order.TableID,
		"seq":        order.Seq,
		"total":      order.Total,
	}).Info("order created")

	if s.Publisher != nil {
		s.Publisher.Publish(kds.EventOrderCreate, toCard(&order, s.now()))
	}

	return &CreatedOrder{
		Summary: OrderSummary{
			OrderID:        order.ID,
			Seq:            order.Seq,
			Number:         order.DisplayNumber(),
			Type:           order.Type,
			Status:         order.Status,
			Subtotal:       order.Subtotal,
			Discount:       order.Discount,
			Total:          order.Total,
			DiscountReason: order.DiscountReason,
			FirstOrderAt:   firstOrderAt,
		},
		Export: exportPayloadFor(&order),
	}, nil
}

// Detail loads one order with its table and lines. When sessionID is
// non-zero the order must belong to that session.
func (s *OrderService) Detail(ctx context.Context, orderID, sessionID uint) (*OrderDetail, error) {
	q := s.DB.WithContext(ctx).Preload("Table").Preload("Lines", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Preload("Lines.Product")
	if sessionID != 0 {
		q = q.Where("session_id = ?", sessionID)
	}
	var order models.Order
	err := q.First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("order not found")
	}
	if err != nil {
		return nil, fmt.Errorf("load order: %w", err)
	}
	return toDetail(&order), nil
}

func (s *OrderService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utcNow()
}

func normalizeOrderType(t string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(t)) {
	case "", models.OrderTypeDineIn:
		return models.OrderTypeDineIn, nil
	case models.OrderTypeTakeout:
		return models.OrderTypeTakeout, nil
	}
	return "", utils.NewValidationError("invalid order_type: %s", t)
}

func exportPayloadFor(o *models.Order) ExportPayload {
	p := ExportPayload{
		OrderID:    o.ID,
		Seq:        o.Seq,
		SessionID:  o.SessionID,
		TableID:    o.TableID,
		TableLabel: o.Table.Label,
		Type:       o.Type,
		Status:     o.Status,
		Total:      o.Total,
		CreatedAt:  o.CreatedAt,
		Lines:      make([]ExportLine, 0, len(o.Lines)),
	}
	if o.PayerLabel != nil {
		p.PayerName = *o.PayerLabel
	}
	for _, l := range o.Lines {
		p.Lines = append(p.Lines, ExportLine{
			ProductID:   l.ProductID,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			LineTotal:   l.LineTotal,
		})
	}
	return p
}
