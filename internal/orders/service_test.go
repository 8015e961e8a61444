package orders

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

var fixedNow = time.Date(2026, 6, 10, 9, 30, 0, 0, time.UTC)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls [][]payloads.SubOrderStatusChanged
}

func (d *recordingDispatcher) Dispatch(_ context.Context, changes []payloads.SubOrderStatusChanged) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, changes)
}

func (d *recordingDispatcher) last(t *testing.T) []payloads.SubOrderStatusChanged {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.calls, "dispatcher was not invoked")
	return d.calls[len(d.calls)-1]
}

type fixture struct {
	svc        Service
	conn       *gorm.DB
	dispatcher *recordingDispatcher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	dispatcher := &recordingDispatcher{}
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	svc, err := NewService(NewRepository(conn), client, emitter, dispatcher, logger.Nop())
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return fixedNow }
	return fixture{svc: svc, conn: conn, dispatcher: dispatcher}
}

func seedOrder(t *testing.T, conn *gorm.DB, method enums.PaymentMethod, payment enums.PaymentStatus, subs int) *models.Order {
	t.Helper()
	order := &models.Order{
		Code:          "ORD-" + uuid.NewString()[:8],
		PaymentMethod: method,
		PaymentStatus: payment,
		Status:        enums.OrderStatusPlaced,
	}
	for i := 0; i < subs; i++ {
		vendorID := uuid.New()
		order.SubOrders = append(order.SubOrders, models.SubOrder{
			VendorID: &vendorID,
			Status:   enums.OrderStatusPlaced,
			Items: []models.SubOrderItem{{
				ProductID:      uuid.New(),
				Name:           "Widget",
				Quantity:       2,
				BasePriceCents: 2500,
			}},
		})
	}
	require.NoError(t, NewRepository(conn).Create(context.Background(), order))
	return order
}

func loadOrder(t *testing.T, conn *gorm.DB, id uuid.UUID) *models.Order {
	t.Helper()
	order, err := NewRepository(conn).FindByID(context.Background(), id)
	require.NoError(t, err)
	return order
}

func subStatus(order *models.Order, id uuid.UUID) enums.OrderStatus {
	for _, sub := range order.SubOrders {
		if sub.ID == id {
			return sub.Status
		}
	}
	return ""
}

func countEvents(t *testing.T, conn *gorm.DB, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

func TestNewServiceRequiresDependencies(t *testing.T) {
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())

	_, err := NewService(nil, client, emitter, nil, logger.Nop())
	require.Error(t, err)
	_, err = NewService(NewRepository(conn), nil, emitter, nil, logger.Nop())
	require.Error(t, err)
	_, err = NewService(NewRepository(conn), client, nil, nil, logger.Nop())
	require.Error(t, err)
	_, err = NewService(NewRepository(conn), client, emitter, nil, nil)
	require.Error(t, err)
}

func TestSetStatusRejectsUnknownStatus(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 1)

	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: "teleported"})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Equal(t, pkgerrors.ReasonInvalidStatus, pkgerrors.ReasonOf(err))
}

func TestSetStatusOrderNotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: uuid.New(), Status: enums.OrderStatusShipped})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestSetStatusOnlineRequiresCapturedPayment(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPending, 2)

	for _, target := range []enums.OrderStatus{enums.OrderStatusShipped, enums.OrderStatusDelivered} {
		_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: target})
		require.Error(t, err)
		assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
		assert.Equal(t, pkgerrors.ReasonOnlinePaymentNotCaptured, pkgerrors.ReasonOf(err))

		subID := order.SubOrders[0].ID
		_, err = f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: target, SubOrderID: &subID})
		require.Error(t, err)
		assert.Equal(t, pkgerrors.ReasonOnlinePaymentNotCaptured, pkgerrors.ReasonOf(err))
	}

	reloaded := loadOrder(t, f.conn, order.ID)
	assert.Equal(t, enums.OrderStatusPlaced, reloaded.Status)
	for _, sub := range reloaded.SubOrders {
		assert.Equal(t, enums.OrderStatusPlaced, sub.Status)
	}
	assert.Empty(t, f.dispatcher.calls)

	// Confirming is not guarded by payment capture.
	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusConfirmed})
	require.NoError(t, err)
}

func TestSetStatusCODRequiresConfirmation(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodCOD, enums.PaymentStatusPending, 1)

	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonCODNotConfirmed, pkgerrors.ReasonOf(err))

	_, err = f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID, ActorID: uuid.New()})
	require.NoError(t, err)

	updated, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, updated.Status)
}

func TestSetStatusOrderLevelPropagatesToNonTerminalSubOrders(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 3)
	cancelledID := order.SubOrders[0].ID

	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{
		OrderID:    order.ID,
		Status:     enums.OrderStatusCancelled,
		SubOrderID: &cancelledID,
	})
	require.NoError(t, err)

	updated, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, updated.Status)
	assert.Equal(t, enums.OrderStatusCancelled, subStatus(updated, cancelledID))
	for _, sub := range updated.SubOrders {
		if sub.ID == cancelledID {
			continue
		}
		assert.Equal(t, enums.OrderStatusDelivered, sub.Status)
		require.NotNil(t, sub.DeliveredAt)
		assert.True(t, fixedNow.Equal(sub.DeliveredAt.UTC()))
	}

	changes := f.dispatcher.last(t)
	require.Len(t, changes, 2)
	for _, change := range changes {
		assert.NotEqual(t, cancelledID, change.SubOrderID)
		assert.Equal(t, enums.OrderStatusPlaced, change.PreviousStatus)
		assert.Equal(t, enums.OrderStatusDelivered, change.Status)
		assert.Equal(t, enums.OrderStatusDelivered, change.OrderStatus)
		assert.Equal(t, order.Code, change.OrderCode)
	}
	assert.Equal(t, int64(3), countEvents(t, f.conn, enums.EventSubOrderStatusChanged))
}

func TestSetStatusTerminalOrderIsLocked(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 2)

	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled})
	require.NoError(t, err)

	_, err = f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusPlaced})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Equal(t, pkgerrors.ReasonOrderTerminal, pkgerrors.ReasonOf(err))

	subID := order.SubOrders[1].ID
	_, err = f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped, SubOrderID: &subID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonSubOrderTerminal, pkgerrors.ReasonOf(err))
}

func TestSetStatusSameTerminalStatusRedispatches(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 2)

	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered})
	require.NoError(t, err)
	eventsAfterFirst := countEvents(t, f.conn, enums.EventSubOrderStatusChanged)

	_, err = f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered})
	require.NoError(t, err)

	require.Len(t, f.dispatcher.calls, 2)
	changes := f.dispatcher.last(t)
	require.Len(t, changes, 2)
	for _, change := range changes {
		assert.Equal(t, enums.OrderStatusDelivered, change.PreviousStatus)
		assert.Equal(t, enums.OrderStatusDelivered, change.Status)
	}
	assert.Equal(t, eventsAfterFirst, countEvents(t, f.conn, enums.EventSubOrderStatusChanged))
}

func TestSetStatusSubOrderLeavesSiblingsAndDerivesParent(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 2)
	first, second := order.SubOrders[0].ID, order.SubOrders[1].ID

	updated, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped, SubOrderID: &first})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, updated.Status)
	assert.Equal(t, enums.OrderStatusShipped, subStatus(updated, first))
	assert.Equal(t, enums.OrderStatusPlaced, subStatus(updated, second))

	changes := f.dispatcher.last(t)
	require.Len(t, changes, 1)
	assert.Equal(t, first, changes[0].SubOrderID)
	assert.Equal(t, enums.OrderStatusShipped, changes[0].OrderStatus)

	updated, err = f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, SubOrderID: &first})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusShipped, updated.Status)

	updated, err = f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusCancelled, SubOrderID: &second})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, updated.Status)
}

func TestSetStatusUnknownSubOrder(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 1)
	other := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 1)
	foreign := other.SubOrders[0].ID

	_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusShipped, SubOrderID: &foreign})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
	assert.Equal(t, enums.OrderStatusPlaced, subStatus(loadOrder(t, f.conn, other.ID), foreign))
}

func TestSetStatusCODDeliveredMarksPaymentPaid(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodCOD, enums.PaymentStatusPending, 2)
	_, err := f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID, ActorID: uuid.New()})
	require.NoError(t, err)

	updated, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusDelivered, updated.Status)
	assert.Equal(t, enums.PaymentStatusPaid, updated.PaymentStatus)
}

func TestSetStatusCODDeliveredViaSubOrdersMarksPaymentPaid(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodCOD, enums.PaymentStatusPending, 2)
	_, err := f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID, ActorID: uuid.New()})
	require.NoError(t, err)

	for _, sub := range order.SubOrders {
		id := sub.ID
		_, err := f.svc.SetStatus(context.Background(), SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, SubOrderID: &id})
		require.NoError(t, err)
	}

	reloaded := loadOrder(t, f.conn, order.ID)
	assert.Equal(t, enums.OrderStatusDelivered, reloaded.Status)
	assert.Equal(t, enums.PaymentStatusPaid, reloaded.PaymentStatus)
}

func TestConfirmCOD(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodCOD, enums.PaymentStatusPending, 2)
	actorID := uuid.New()

	updated, err := f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID, ActorID: actorID, ActorRole: "admin"})
	require.NoError(t, err)
	assert.Equal(t, enums.OrderStatusConfirmed, updated.Status)
	assert.Equal(t, enums.PaymentStatusCODPendingConfirmation, updated.PaymentStatus)
	require.NotNil(t, updated.CODConfirmedAt)
	assert.True(t, fixedNow.Equal(updated.CODConfirmedAt.UTC()))
	require.NotNil(t, updated.CODConfirmedBy)
	assert.Equal(t, actorID, *updated.CODConfirmedBy)
	for _, sub := range updated.SubOrders {
		assert.Equal(t, enums.OrderStatusConfirmed, sub.Status)
	}

	assert.Equal(t, int64(1), countEvents(t, f.conn, enums.EventCODConfirmed))
	assert.Equal(t, int64(2), countEvents(t, f.conn, enums.EventSubOrderStatusChanged))
	assert.Empty(t, f.dispatcher.calls)

	_, err = f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID, ActorID: actorID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonCODConfirmNotAllowed, pkgerrors.ReasonOf(err))
}

func TestConfirmCODRejectsOnlineOrders(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPending, 1)

	_, err := f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID, ActorID: uuid.New()})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Equal(t, pkgerrors.ReasonCODConfirmNotAllowed, pkgerrors.ReasonOf(err))

	_, err = f.svc.ConfirmCOD(context.Background(), ConfirmCODInput{OrderID: order.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
}

func TestGet(t *testing.T) {
	f := newFixture(t)
	order := seedOrder(t, f.conn, enums.PaymentMethodOnline, enums.PaymentStatusPaid, 2)

	got, err := f.svc.Get(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.Code, got.Code)
	require.Len(t, got.SubOrders, 2)
	require.Len(t, got.SubOrders[0].Items, 1)

	_, err = f.svc.Get(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}
