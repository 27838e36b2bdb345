package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

type orderFixture struct {
	db       *gorm.DB
	clock    *fakeClock
	sessions *SessionService
	orders   *OrderService
	pub      *recordingPublisher
	table    *models.Table
	session  *models.Session
	rice     *models.Product
	tea      *models.Product
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	f := &orderFixture{db: newTestDB(t), clock: newFakeClock(), pub: &recordingPublisher{}}
	f.sessions = newTestSessionService(f.db, f.clock)
	f.orders = NewOrderService(f.db, fastPolicy(4), f.pub, metrics.New())
	f.orders.Now = f.clock.Now
	f.table = seedTable(t, f.db, "T3", true)
	f.rice = seedProduct(t, f.db, "Rice Bowl", 5.00, 10)
	f.tea = seedProduct(t, f.db, "Iced Tea", 3.00, 10)

	opened, err := f.sessions.OpenBySharedCode(context.Background(), "t3", "1234")
	require.NoError(t, err)
	f.session, err = f.sessions.ValidateOnRequest(context.Background(), opened.SessionToken)
	require.NoError(t, err)
	return f
}

func (f *orderFixture) cart(orderType string) CreateOrderInput {
	return CreateOrderInput{
		Type: orderType,
		Items: []OrderItemInput{
			{ProductID: f.rice.ID, Quantity: 2},
			{ProductID: f.tea.ID, Quantity: 1},
		},
	}
}

func TestCreateDineInOrder(t *testing.T) {
	f := newOrderFixture(t)

	created, err := f.orders.Create(context.Background(), f.session, f.cart("DINE_IN"))
	require.NoError(t, err)

	s := created.Summary
	assert.Equal(t, uint(1), s.Seq)
	assert.Equal(t, 13.00, s.Subtotal)
	assert.Equal(t, 0.00, s.Discount)
	assert.Equal(t, 13.00, s.Total)
	assert.Nil(t, s.DiscountReason)
	assert.Equal(t, models.OrderStatusPending, s.Status)
	assert.Equal(t, fmt.Sprintf("T%d-1", f.table.ID), s.Number)
	assert.True(t, s.FirstOrderAt.Equal(f.clock.Now()))

	var lines []models.OrderLine
	require.NoError(t, f.db.Where("order_id = ?", s.OrderID).Order("id").Find(&lines).Error)
	require.Len(t, lines, 2)
	assert.Equal(t, 10.00, lines[0].LineTotal)
	assert.Equal(t, 3.00, lines[1].LineTotal)

	var ses models.Session
	require.NoError(t, f.db.First(&ses, f.session.ID).Error)
	assert.Equal(t, uint(1), ses.OrderCount)

	events := f.pub.all()
	require.Len(t, events, 1)
	assert.Equal(t, kds.EventOrderCreate, events[0].Event)
	card := events[0].Payload.(OrderCard)
	assert.Equal(t, "T3", card.TableLabel)
	assert.Equal(t, 3, card.ItemCount)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.orders.Metrics.OrdersCreated.WithLabelValues("DINE_IN")))

	assert.Equal(t, "T3", created.Export.TableLabel)
	require.Len(t, created.Export.Lines, 2)
	assert.Equal(t, "Rice Bowl", created.Export.Lines[0].ProductName)
}

func TestCreateTakeoutOrderAppliesDiscount(t *testing.T) {
	f := newOrderFixture(t)

	created, err := f.orders.Create(context.Background(), f.session, f.cart("takeout"))
	require.NoError(t, err)

	s := created.Summary
	assert.Equal(t, models.OrderTypeTakeout, s.Type)
	assert.Equal(t, 13.00, s.Subtotal)
	assert.Equal(t, 1.30, s.Discount)
	assert.Equal(t, 11.70, s.Total)
	require.NotNil(t, s.DiscountReason)
	assert.Equal(t, "TAKEOUT_10_OFF", *s.DiscountReason)
	assert.Equal(t, utils.Round2(s.Subtotal-s.Discount), s.Total)
}

func TestCreateAssignsGaplessSequence(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	for want := uint(1); want <= 3; want++ {
		created, err := f.orders.Create(ctx, f.session, f.cart(""))
		require.NoError(t, err)
		assert.Equal(t, want, created.Summary.Seq)
	}

	var first models.Session
	require.NoError(t, f.db.First(&first, f.session.ID).Error)
	firstAt := *first.FirstOrderAt

	f.clock.Advance(time.Minute)
	_, err := f.orders.Create(ctx, f.session, f.cart(""))
	require.NoError(t, err)

	var after models.Session
	require.NoError(t, f.db.First(&after, f.session.ID).Error)
	assert.True(t, after.FirstOrderAt.Equal(firstAt))
	assert.Equal(t, uint(4), after.OrderCount)
}

func TestCreateConcurrentOrdersGetDistinctSequences(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	seqs := make([]int, 2)
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			created, err := f.orders.Create(ctx, f.session, f.cart(""))
			errs[i] = err
			if err == nil {
				seqs[i] = int(created.Summary.Seq)
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	sort.Ints(seqs)
	assert.Equal(t, []int{1, 2}, seqs)
}

func TestCreateRejectsInvalidInput(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cases := map[string]CreateOrderInput{
		"no items":        {Type: "DINE_IN"},
		"zero quantity":   {Items: []OrderItemInput{{ProductID: f.rice.ID, Quantity: 0}}},
		"no product":      {Items: []OrderItemInput{{Quantity: 1}}},
		"bad type":        {Type: "DELIVERY", Items: []OrderItemInput{{ProductID: f.rice.ID, Quantity: 1}}},
		"unknown product": {Items: []OrderItemInput{{ProductID: 999, Quantity: 1}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.orders.Create(ctx, f.session, in)
			assert.Equal(t, utils.KindValidation, utils.KindOf(err))
		})
	}

	var count int64
	require.NoError(t, f.db.Model(&models.Order{}).Count(&count).Error)
	assert.Zero(t, count)

	var ses models.Session
	require.NoError(t, f.db.First(&ses, f.session.ID).Error)
	assert.Zero(t, ses.OrderCount)
	assert.Nil(t, ses.FirstOrderAt)
}

func TestCreateRejectsInactiveProduct(t *testing.T) {
	f := newOrderFixture(t)
	require.NoError(t, f.db.Model(f.tea).Update("is_active", false).Error)

	_, err := f.orders.Create(context.Background(), f.session, f.cart(""))
	assert.Equal(t, utils.KindValidation, utils.KindOf(err))
	assert.Contains(t, err.Error(), "invalid product")
}

func TestCreateRejectsClosedSession(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	_, err := f.sessions.CloseByID(ctx, f.session.ID)
	require.NoError(t, err)

	_, err = f.orders.Create(ctx, f.session, f.cart(""))
	assert.Equal(t, utils.KindSession, utils.KindOf(err))
	assert.Empty(t, f.pub.all())
}

func TestDetailScopesToSession(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()
	created, err := f.orders.Create(ctx, f.session, f.cart("TAKEOUT"))
	require.NoError(t, err)

	d, err := f.orders.Detail(ctx, created.Summary.OrderID, f.session.ID)
	require.NoError(t, err)
	require.NotNil(t, d.Table)
	assert.Equal(t, "T3", d.Table.Label)
	assert.Equal(t, 11.70, d.Amounts.Total)
	require.Len(t, d.Items, 2)
	assert.Equal(t, "Rice Bowl", d.Items[0].Name)
	assert.Equal(t, 2, d.Items[0].Qty)

	_, err = f.orders.Detail(ctx, created.Summary.OrderID, f.session.ID+100)
	assert.Equal(t, utils.KindNotFound, utils.KindOf(err))

	_, err = f.orders.Detail(ctx, created.Summary.OrderID, 0)
	assert.NoError(t, err)
}
