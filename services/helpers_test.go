package services

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/table-order/config"
	"github.com/yeremiapane/table-order/database"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := config.OpenSQLite(":memory:")
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedTable(t *testing.T, db *gorm.DB, label string, exclusive bool) *models.Table {
	t.Helper()
	table := models.Table{
		Label:            label,
		Slug:             strings.ToLower(label),
		IsActive:         true,
		ExclusiveSession: exclusive,
	}
	require.NoError(t, db.Create(&table).Error)
	return &table
}

func seedProduct(t *testing.T, db *gorm.DB, name string, price float64, stock int) *models.Product {
	t.Helper()
	p := models.Product{Name: name, Price: price, Stock: stock, IsActive: true}
	require.NoError(t, db.Create(&p).Error)
	return &p
}

func seedAccessToken(t *testing.T, db *gorm.DB, tableID uint, token string, expiresAt *time.Time) *models.AccessToken {
	t.Helper()
	tok := models.AccessToken{TableID: tableID, Token: token, Status: models.AccessTokenActive, ExpiresAt: expiresAt}
	require.NoError(t, db.Omit("Table").Create(&tok).Error)
	return &tok
}

func stockOf(t *testing.T, db *gorm.DB, productID uint) int {
	t.Helper()
	var p models.Product
	require.NoError(t, db.First(&p, productID).Error)
	return p.Stock
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type publishedEvent struct {
	Event   string
	Payload interface{}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (p *recordingPublisher) Publish(event string, payload interface{}) {
	p.mu.Lock()
	p.events = append(p.events, publishedEvent{event, payload})
	p.mu.Unlock()
}

func (p *recordingPublisher) all() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]publishedEvent(nil), p.events...)
}

func newTestSessionService(db *gorm.DB, clock *fakeClock) *SessionService {
	svc := NewSessionService(db, SessionConfig{
		AbsTTL:     120 * time.Minute,
		IdleTTL:    30 * time.Minute,
		TokenBytes: utils.DefaultTokenBytes,
		SharedCode: "1234",
	}, fastPolicy(4), nil)
	svc.Now = clock.Now
	return svc
}
