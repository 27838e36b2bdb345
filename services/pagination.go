package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// Cursor identifies a position in the (created_at DESC, id DESC) ordering.
type Cursor struct {
	CreatedAt time.Time
	ID        uint
}

type cursorWire struct {
	T  string `json:"t"`
	ID uint   `json:"id"`
}

// EncodeCursor returns the opaque URL-safe form of c.
func EncodeCursor(c Cursor) string {
	raw, _ := json.Marshal(cursorWire{T: c.CreatedAt.UTC().Format(time.RFC3339Nano), ID: c.ID})
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor parses a cursor produced by EncodeCursor.
func DecodeCursor(s string) (Cursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
	if err != nil {
		return Cursor{}, utils.NewValidationError("invalid cursor")
	}
	var w cursorWire
	if err := json.Unmarshal(raw, &w); err != nil || w.T == "" || w.ID == 0 {
		return Cursor{}, utils.NewValidationError("invalid cursor")
	}
	t, err := time.Parse(time.RFC3339Nano, w.T)
	if err != nil {
		return Cursor{}, utils.NewValidationError("invalid cursor")
	}
	return Cursor{CreatedAt: t.UTC(), ID: w.ID}, nil
}

// ListParams filters and positions an order listing. After and Before are
// encoded cursors; at most one may be set.
type ListParams struct {
	Limit     int
	After     string
	Before    string
	Statuses  []string
	Types     []string
	TableID   *uint
	SessionID *uint
	From      *time.Time
	To        *time.Time
}

type Page struct {
	Items      []OrderListItem `json:"items"`
	NextCursor *string         `json:"next_cursor"`
	PrevCursor *string         `json:"prev_cursor"`
	HasMore    bool            `json:"has_more"`
}

// OrderQuery lists orders newest first with keyset pagination.
type OrderQuery struct {
	DB *gorm.DB
}

func NewOrderQuery(db *gorm.DB) *OrderQuery {
	return &OrderQuery{DB: db}
}

// List returns one page. With After the page holds older orders than the
// cursor; with Before it holds newer ones, still ordered newest first.
func (q *OrderQuery) List(ctx context.Context, p ListParams) (*Page, error) {
	limit, err := normalizeLimit(p.Limit)
	if err != nil {
		return nil, err
	}
	if p.After != "" && p.Before != "" {
		return nil, utils.NewValidationError("after and before cannot be combined")
	}

	db := q.DB.WithContext(ctx).Model(&models.Order{}).Preload("Table")
	db, err = applyFilters(db, p)
	if err != nil {
		return nil, err
	}

	backward := p.Before != ""
	switch {
	case p.After != "":
		c, err := DecodeCursor(p.After)
		if err != nil {
			return nil, err
		}
		db = db.Where("(created_at < ? OR (created_at = ? AND id < ?))", c.CreatedAt, c.CreatedAt, c.ID).
			Order("created_at DESC").Order("id DESC")
	case backward:
		c, err := DecodeCursor(p.Before)
		if err != nil {
			return nil, err
		}
		db = db.Where("(created_at > ? OR (created_at = ? AND id > ?))", c.CreatedAt, c.CreatedAt, c.ID).
			Order("created_at ASC").Order("id ASC")
	default:
		db = db.Order("created_at DESC").Order("id DESC")
	}

	var rows []models.Order
	if err := db.Limit(limit + 1).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}

	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	if backward {
		for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
			rows[i], rows[j] = rows[j], rows[i]
		}
	}

	page := &Page{Items: make([]OrderListItem, 0, len(rows)), HasMore: hasMore}
	for i := range rows {
		page.Items = append(page.Items, toListItem(&rows[i]))
	}
	if len(rows) == 0 {
		return page, nil
	}

	first := cursorOf(&rows[0])
	last := cursorOf(&rows[len(rows)-1])
	if backward {
		if hasMore {
			page.PrevCursor = &first
		}
		page.NextCursor = &last
	} else {
		if hasMore {
			page.NextCursor = &last
		}
		if p.After != "" {
			page.PrevCursor = &first
		}
	}
	return page, nil
}

func cursorOf(o *models.Order) string {
	return EncodeCursor(Cursor{CreatedAt: o.CreatedAt, ID: o.ID})
}

func normalizeLimit(limit int) (int, error) {
	switch {
	case limit == 0:
		return DefaultPageLimit, nil
	case limit < 1 || limit > MaxPageLimit:
		return 0, utils.NewValidationError("limit must be between 1 and %d", MaxPageLimit)
	}
	return limit, nil
}

var (
	validStatuses = map[string]bool{
		models.OrderStatusPending:    true,
		models.OrderStatusConfirmed:  true,
		models.OrderStatusInProgress: true,
		models.OrderStatusServed:     true,
		models.OrderStatusCanceled:   true,
	}
	validTypes = map[string]bool{
		models.OrderTypeDineIn:  true,
		models.OrderTypeTakeout: true,
	}
)

func applyFilters(db *gorm.DB, p ListParams) (*gorm.DB, error) {
	if len(p.Statuses) > 0 {
		statuses, err := upperAll(p.Statuses, validStatuses, "status")
		if err != nil {
			return nil, err
		}
		if len(statuses) > 0 {
			db = db.Where("status IN ?", statuses)
		}
	}
	if len(p.Types) > 0 {
		types, err := upperAll(p.Types, validTypes, "order_type")
		if err != nil {
			return nil, err
		}
		if len(types) > 0 {
			db = db.Where("type IN ?", types)
		}
	}
	if p.TableID != nil {
		db = db.Where("table_id = ?", *p.TableID)
	}
	if p.SessionID != nil {
		db = db.Where("session_id = ?", *p.SessionID)
	}
	if p.From != nil {
		db = db.Where("created_at >= ?", p.From.UTC())
	}
	if p.To != nil {
		db = db.Where("created_at < ?", p.To.UTC())
	}
	return db, nil
}

func upperAll(values []string, allowed map[string]bool, field string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToUpper(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if !allowed[v] {
			return nil, utils.NewValidationError("invalid %s: %s", field, v)
		}
		out = append(out, v)
	}
	return out, nil
}
