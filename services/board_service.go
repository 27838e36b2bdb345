package services

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/table-order/models"
)

const DefaultUrgentAfter = 15 * time.Minute

// BoardSnapshot is the first frame a live viewer receives.
type BoardSnapshot struct {
	Data BoardBuckets `json:"data"`
	Meta BoardMeta    `json:"meta"`
}

type BoardBuckets struct {
	Urgent    []OrderCard `json:"urgent"`
	Waiting   []OrderCard `json:"waiting"`
	Preparing []OrderCard `json:"preparing"`
}

type BoardCounts struct {
	Urgent    int `json:"urgent"`
	Waiting   int `json:"waiting"`
	Preparing int `json:"preparing"`
}

type BoardMeta struct {
	Now          time.Time   `json:"now"`
	ThresholdMin int         `json:"threshold_min"`
	Counts       BoardCounts `json:"counts"`
	Total        int         `json:"total"`
}

// BoardService builds the kitchen/staff view of orders still in flight.
type BoardService struct {
	DB          *gorm.DB
	UrgentAfter time.Duration
}

func NewBoardService(db *gorm.DB, urgentAfter time.Duration) *BoardService {
	if urgentAfter <= 0 {
		urgentAfter = DefaultUrgentAfter
	}
	return &BoardService{DB: db, UrgentAfter: urgentAfter}
}

// Snapshot buckets active orders: anything older than the urgency threshold
// is urgent, otherwise orders not yet started are waiting and the rest are
// preparing. Oldest first within each bucket.
func (s *BoardService) Snapshot(ctx context.Context, now time.Time) (*BoardSnapshot, error) {
	var orders []models.Order
	err := s.DB.WithContext(ctx).
		Preload("Table").
		Preload("Lines").
		Where("status IN ?", []string{
			models.OrderStatusPending,
			models.OrderStatusConfirmed,
			models.OrderStatusInProgress,
		}).
		Order("created_at ASC").Order("id ASC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("load active orders: %w", err)
	}

	threshold := int(s.UrgentAfter / time.Minute)
	b := BoardBuckets{Urgent: []OrderCard{}, Waiting: []OrderCard{}, Preparing: []OrderCard{}}
	for i := range orders {
		card := toCard(&orders[i], now)
		switch {
		case card.AgeMin >= threshold:
			b.Urgent = append(b.Urgent, card)
		case card.Status == models.OrderStatusInProgress:
			b.Preparing = append(b.Preparing, card)
		default:
			b.Waiting = append(b.Waiting, card)
		}
	}

	counts := BoardCounts{Urgent: len(b.Urgent), Waiting: len(b.Waiting), Preparing: len(b.Preparing)}
	return &BoardSnapshot{
		Data: b,
		Meta: BoardMeta{
			Now:          now.UTC(),
			ThresholdMin: threshold,
			Counts:       counts,
			Total:        counts.Urgent + counts.Waiting + counts.Preparing,
		},
	}, nil
}
