package services

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yeremiapane/table-order/kds"
	"github.com/yeremiapane/table-order/metrics"
	"github.com/yeremiapane/table-order/models"
	"github.com/yeremiapane/table-order/utils"
)

func newStatusService(f *orderFixture) *StatusService {
	svc := NewStatusService(f.db, fastPolicy(4), f.pub, metrics.New())
	svc.Now = f.clock.Now
	return svc
}

func placeOrder(t *testing.T, f *orderFixture, items ...OrderItemInput) uint {
	t.Helper()
	created, err := f.orders.Create(context.Background(), f.session, CreateOrderInput{Items: items})
	require.NoError(t, err)
	return created.Summary.OrderID
}

func orderStatus(t *testing.T, f *orderFixture, id uint) string {
	t.Helper()
	var o models.Order
	require.NoError(t, f.db.First(&o, id).Error)
	return o.Status
}

func TestTransitionHappyPathDebitsStockOnce(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	ctx := context.Background()
	id := placeOrder(t, f, OrderItemInput{ProductID: f.rice.ID, Quantity: 3})

	steps := []struct{ action, prev, next string }{
		{ActionConfirm, models.OrderStatusPending, models.OrderStatusConfirmed},
		{ActionStart, models.OrderStatusConfirmed, models.OrderStatusInProgress},
		{ActionServe, models.OrderStatusInProgress, models.OrderStatusServed},
	}
	for _, st := range steps {
		res, err := svc.Transition(ctx, TransitionInput{OrderID: id, Action: st.action, Actor: "admin"})
		require.NoError(t, err, st.action)
		assert.Equal(t, TransitionResult{OrderID: id, Prev: st.prev, Next: st.next}, *res)
	}

	assert.Equal(t, 7, stockOf(t, f.db, f.rice.ID))

	logs, err := svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	assert.Equal(t, models.OrderStatusPending, logs[0].FromStatus)
	assert.Equal(t, models.OrderStatusServed, logs[2].ToStatus)
	assert.Equal(t, "admin", logs[2].ChangedBy)

	var statusEvents int
	for _, e := range f.pub.all() {
		if e.Event == kds.EventOrderStatus {
			statusEvents++
		}
	}
	assert.Equal(t, 3, statusEvents)
	assert.Equal(t, 1.0, testutil.ToFloat64(svc.Metrics.StatusTransitions.WithLabelValues(ActionServe, "ok")))
}

func TestConfirmWithInsufficientStockChangesNothing(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	require.NoError(t, f.db.Model(f.rice).Update("stock", 2).Error)
	id := placeOrder(t, f, OrderItemInput{ProductID: f.rice.ID, Quantity: 3})

	_, err := svc.Transition(context.Background(), TransitionInput{OrderID: id, Action: ActionConfirm})
	require.Error(t, err)
	assert.Equal(t, utils.KindConflict, utils.KindOf(err))
	assert.Contains(t, err.Error(), "insufficient stock")

	assert.Equal(t, 2, stockOf(t, f.db, f.rice.ID))
	assert.Equal(t, models.OrderStatusPending, orderStatus(t, f, id))
}

func TestConfirmIsAllOrNothingAcrossLines(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	require.NoError(t, f.db.Model(f.tea).Update("stock", 1).Error)
	id := placeOrder(t, f,
		OrderItemInput{ProductID: f.rice.ID, Quantity: 4},
		OrderItemInput{ProductID: f.tea.ID, Quantity: 2},
	)

	_, err := svc.Transition(context.Background(), TransitionInput{OrderID: id, Action: ActionConfirm})
	assert.Equal(t, utils.KindConflict, utils.KindOf(err))

	assert.Equal(t, 10, stockOf(t, f.db, f.rice.ID))
	assert.Equal(t, 1, stockOf(t, f.db, f.tea.ID))
}

func TestCancelConfirmedOrderRestoresStock(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	ctx := context.Background()
	id := placeOrder(t, f,
		OrderItemInput{ProductID: f.rice.ID, Quantity: 2},
		OrderItemInput{ProductID: f.tea.ID, Quantity: 5},
	)

	_, err := svc.Transition(ctx, TransitionInput{OrderID: id, Action: ActionConfirm})
	require.NoError(t, err)
	assert.Equal(t, 8, stockOf(t, f.db, f.rice.ID))
	assert.Equal(t, 5, stockOf(t, f.db, f.tea.ID))

	res, err := svc.Transition(ctx, TransitionInput{OrderID: id, Action: ActionCancel, Reason: "guest left"})
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusCanceled, res.Next)
	assert.Equal(t, 10, stockOf(t, f.db, f.rice.ID))
	assert.Equal(t, 10, stockOf(t, f.db, f.tea.ID))

	logs, err := svc.History(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, logs[1].Reason)
	assert.Equal(t, "guest left", *logs[1].Reason)
}

func TestCancelPendingOrderLeavesStock(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	id := placeOrder(t, f, OrderItemInput{ProductID: f.rice.ID, Quantity: 2})

	_, err := svc.Transition(context.Background(), TransitionInput{OrderID: id, Action: ActionCancel})
	require.NoError(t, err)
	assert.Equal(t, 10, stockOf(t, f.db, f.rice.ID))
	assert.Equal(t, models.OrderStatusCanceled, orderStatus(t, f, id))
}

func TestIllegalTransitionsAreConflicts(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	ctx := context.Background()
	id := placeOrder(t, f, OrderItemInput{ProductID: f.rice.ID, Quantity: 1})

	for _, action := range []string{ActionStart, ActionServe} {
		_, err := svc.Transition(ctx, TransitionInput{OrderID: id, Action: action})
		assert.Equal(t, utils.KindConflict, utils.KindOf(err), action)
	}

	for _, action := range []string{ActionConfirm, ActionStart, ActionServe} {
		_, err := svc.Transition(ctx, TransitionInput{OrderID: id, Action: action})
		require.NoError(t, err)
	}

	for _, action := range []string{ActionConfirm, ActionStart, ActionServe, ActionCancel} {
		_, err := svc.Transition(ctx, TransitionInput{OrderID: id, Action: action})
		require.Error(t, err)
		assert.Equal(t, utils.KindConflict, utils.KindOf(err), action)
		assert.Contains(t, err.Error(), "invalid transition: SERVED")
	}
	assert.Equal(t, models.OrderStatusServed, orderStatus(t, f, id))
	assert.Equal(t, 9, stockOf(t, f.db, f.rice.ID))
}

func TestTransitionInputErrors(t *testing.T) {
	f := newOrderFixture(t)
	svc := newStatusService(f)
	ctx := context.Background()

	_, err := svc.Transition(ctx, TransitionInput{OrderID: 1})
	assert.Equal(t, utils.KindValidation, utils.KindOf(err))

	_, err = svc.Transition(ctx, TransitionInput{OrderID: 1, Action: "refund"})
	assert.Equal(t, utils.KindValidation, utils.KindOf(err))

	_, err = svc.Transition(ctx, TransitionInput{OrderID: 404, Action: ActionConfirm})
	assert.Equal(t, utils.KindNotFound, utils.KindOf(err))
}

func TestNextStatusTable(t *testing.T) {
	next, ok := NextStatus(models.OrderStatusPending, ActionConfirm)
	assert.True(t, ok)
	assert.Equal(t, models.OrderStatusConfirmed, next)

	_, ok = NextStatus(models.OrderStatusInProgress, ActionCancel)
	assert.False(t, ok)
	_, ok = NextStatus(models.OrderStatusCanceled, ActionConfirm)
	assert.False(t, ok)
}
