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

// Staff actions on an order.
const (
	ActionConfirm = "confirm"
	ActionStart   = "start"
	ActionServe   = "serve"
	ActionCancel  = "cancel"
)

// transitions maps current status and action to the next status. Anything
// not listed is rejected.
var transitions = map[string]map[string]string{
	models.OrderStatusPending: {
		ActionConfirm: models.OrderStatusConfirmed,
		ActionCancel:  models.OrderStatusCanceled,
	},
	models.OrderStatusConfirmed: {
		ActionStart:  models.OrderStatusInProgress,
		ActionCancel: models.OrderStatusCanceled,
	},
	models.OrderStatusInProgress: {
		ActionServe: models.OrderStatusServed,
	},
}

// NextStatus returns the status reached from current by action.
func NextStatus(current, action string) (string, bool) {
	next, ok := transitions[current][action]
	return next, ok
}

type TransitionInput struct {
	OrderID uint
	Action  string
	Reason  string
	Actor   string
}

type TransitionResult struct {
	OrderID uint   `json:"order_id"`
	Prev    string `json:"prev"`
	Next    string `json:"next"`
}

// StatusEvent is broadcast after a transition commits.
type StatusEvent struct {
	OrderID uint    `json:"order_id"`
	Seq     uint    `json:"order_seq"`
	TableID uint    `json:"table_id"`
	Prev    string  `json:"prev"`
	Next    string  `json:"next"`
	Action  string  `json:"action"`
	Reason  *string `json:"reason,omitempty"`
}

// StatusService moves orders through the fulfillment state machine and
// keeps product stock in step with it.
type StatusService struct {
	DB        *gorm.DB
	Retry     RetryPolicy
	Publisher EventPublisher
	Metrics   *metrics.Metrics
	Now       func() time.Time
}

func NewStatusService(db *gorm.DB, policy RetryPolicy, pub EventPublisher, m *metrics.Metrics) *StatusService {
	return &StatusService{DB: db, Retry: policy, Publisher: pub, Metrics: m, Now: utcNow}
}

// Transition applies one staff action. Confirming debits stock for every
// line (all or nothing); cancelling a confirmed order credits it back.
func (s *StatusService) Transition(ctx context.Context, in TransitionInput) (*TransitionResult, error) {
	action := strings.ToLower(strings.TrimSpace(in.Action))
	switch action {
	case ActionConfirm, ActionStart, ActionServe, ActionCancel:
	case "":
		return nil, utils.NewValidationError("action is required")
	default:
		return nil, utils.NewValidationError("unknown action: %s", in.Action)
	}
	var reason *string
	if r := strings.TrimSpace(in.Reason); r != "" {
		reason = &r
	}

	var (
		result TransitionResult
		event  StatusEvent
	)
	policy := withRetryMetrics(s.Retry, s.Metrics, "order.status")
	err := WithRetry(ctx, policy, func(ctx context.Context) error {
		return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var order models.Order
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&order, in.OrderID).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return utils.NewNotFoundError("order not found")
			}
			if err != nil {
				return fmt.Errorf("lock order: %w", err)
			}

			next, ok := NextStatus(order.Status, action)
			if !ok {
				return utils.NewConflictError("invalid transition: %s -> (%s)", order.Status, action)
			}

			var lines []models.OrderLine
			if err := tx.Where("order_id = ?", order.ID).Order("id").Find(&lines).Error; err != nil {
				return fmt.Errorf("load order lines: %w", err)
			}

			switch {
			case order.Status == models.OrderStatusPending && next == models.OrderStatusConfirmed:
				if err := debitStock(tx, lines); err != nil {
					return err
				}
			case order.Status == models.OrderStatusConfirmed && next == models.OrderStatusCanceled:
				if err := creditStock(tx, lines); err != nil {
					return err
				}
			}

			now := s.now()
			res := tx.Model(&models.Order{}).
				Where("id = ? AND status = ?", order.ID, order.Status).
				Updates(map[string]interface{}{"status": next, "updated_at": now})
			if res.Error != nil {
				return fmt.Errorf("update order status: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return utils.NewConflictError("order status changed concurrently")
			}

			entry := models.OrderStatusLog{
				OrderID:    order.ID,
				FromStatus: order.Status,
				ToStatus:   next,
				Action:     action,
				Reason:     reason,
				ChangedBy:  in.Actor,
				ChangedAt:  now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("write status log: %w", err)
			}

			result = TransitionResult{OrderID: order.ID, Prev: order.Status, Next: next}
			event = StatusEvent{
				OrderID: order.ID,
				Seq:     order.Seq,
				TableID: order.TableID,
				Prev:    order.Status,
				Next:    next,
				Action:  action,
				Reason:  reason,
			}
			return nil
		})
	})
	if err != nil {
		s.count(action, err)
		return nil, err
	}
	s.count(action, nil)

	utils.InfoLogger.WithFields(logrus.Fields{
		"order_id": result.OrderID,
		"prev":     result.Prev,
		"next":     result.Next,
		"actor":    in.Actor,
	}).Info("order status changed")

	if s.Publisher != nil {
		s.Publisher.Publish(kds.EventOrderStatus, event)
	}
	return &result, nil
}

// History returns the recorded transitions of an order, oldest first.
func (s *StatusService) History(ctx context.Context, orderID uint) ([]models.OrderStatusLog, error) {
	var logs []models.OrderStatusLog
	err := s.DB.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&logs).Error
	return logs, err
}

func debitStock(tx *gorm.DB, lines []models.OrderLine) error {
	for _, l := range lines {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock >= ?", l.ProductID, l.Quantity).
			Update("stock", gorm.Expr("stock - ?", l.Quantity))
		if res.Error != nil {
			return fmt.Errorf("debit stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return utils.NewConflictError("insufficient stock for product %d", l.ProductID)
		}
	}
	return nil
}

func creditStock(tx *gorm.DB, lines []models.OrderLine) error {
	for _, l := range lines {
		err := tx.Model(&models.Product{}).
			Where("id = ?", l.ProductID).
			Update("stock", gorm.Expr("stock + ?", l.Quantity)).Error
		if err != nil {
			return fmt.Errorf("credit stock: %w", err)
		}
	}
	return nil
}

func (s *StatusService) count(action string, err error) {
	if s.Metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = utils.KindOf(err).String()
	}
	s.Metrics.StatusTransitions.WithLabelValues(action, result).Inc()
}

func (s *StatusService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return utcNow()
}
