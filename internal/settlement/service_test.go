package settlement

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/internal/orders"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

var deliveredAt = time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)

type harness struct {
	conn    *gorm.DB
	store   ledger.Store
	svc     Service
	orders  orders.Service
	reg     *prometheus.Registry
	vendorA uuid.UUID
}

func newHarness(t *testing.T) harness {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	reg := prometheus.NewRegistry()
	m := metrics.NewSettlementMetrics(reg)

	store, err := ledger.NewService(ledger.NewRepository(conn), client, emitter, m, logger.Nop())
	require.NoError(t, err)
	orderRepo := orders.NewRepository(conn)
	svc, err := NewService(orderRepo, store, NewEngine(0), m, logger.Nop())
	require.NoError(t, err)
	svc.(*service).now = func() time.Time { return deliveredAt }

	orderSvc, err := orders.NewService(orderRepo, client, emitter, svc, logger.Nop())
	require.NoError(t, err)

	return harness{conn: conn, store: store, svc: svc, orders: orderSvc, reg: reg, vendorA: uuid.New()}
}

// seedOrder creates a paid online order with one vendor sub-order worth
// 2 x 250.00 plus a 10.00 markup per unit that never reaches the vendor.
func (h harness) seedOrder(t *testing.T, status enums.OrderStatus) (*models.Order, *models.SubOrder) {
	t.Helper()
	vendorID := h.vendorA
	order := &models.Order{
		Code:          "ORD-" + uuid.NewString()[:8],
		PaymentMethod: enums.PaymentMethodOnline,
		PaymentStatus: enums.PaymentStatusPaid,
		Status:        status,
		SubOrders: []models.SubOrder{{
			VendorID: &vendorID,
			Status:   status,
			Items: []models.SubOrderItem{{
				ProductID:           uuid.New(),
				Name:                "Lamp",
				Quantity:            2,
				BasePriceCents:      25000,
				ShippingMarkupCents: 1000,
			}},
		}},
	}
	if status == enums.OrderStatusDelivered {
		at := deliveredAt
		order.SubOrders[0].DeliveredAt = &at
	}
	require.NoError(t, orders.NewRepository(h.conn).Create(context.Background(), order))
	return order, &order.SubOrders[0]
}

func (h harness) wallet(t *testing.T) *ledger.WalletView {
	t.Helper()
	view, err := h.store.GetVendorWallet(context.Background(), ledger.WalletQuery{VendorID: h.vendorA})
	require.NoError(t, err)
	return view
}

func change(order *models.Order, sub *models.SubOrder, status enums.OrderStatus) payloads.SubOrderStatusChanged {
	return payloads.SubOrderStatusChanged{
		OrderID:    order.ID,
		OrderCode:  order.Code,
		SubOrderID: sub.ID,
		VendorID:   sub.VendorID,
		Status:     status,
		OccurredAt: deliveredAt,
	}
}

func TestAmountExcludesMarkupAndDiscount(t *testing.T) {
	sub := &models.SubOrder{Items: []models.SubOrderItem{
		{Quantity: 2, BasePriceCents: 1000, ShippingMarkupCents: 200, OfferDiscountCents: 300},
		{Quantity: 1, BasePriceCents: 500, OfferDiscountCents: 800},
		{Quantity: 0, BasePriceCents: 9999},
	}}
	assert.Equal(t, int64(1700), Amount(sub))
	assert.Equal(t, int64(0), Amount(nil))
}

func TestEngineForDelivered(t *testing.T) {
	vendorID := uuid.New()
	sub := &models.SubOrder{
		ID:       uuid.New(),
		OrderID:  uuid.New(),
		VendorID: &vendorID,
		Items:    []models.SubOrderItem{{Quantity: 1, BasePriceCents: 50000}},
	}

	in, ok := NewEngine(0).ForDelivered("ORD-1", sub, deliveredAt)
	require.True(t, ok)
	assert.Equal(t, ledger.SettlementKey(vendorID, sub.ID, ledger.EventDelivered), in.IdempotencyKey)
	assert.Equal(t, enums.WalletTxnDeliveredHoldCredit, in.Type)
	assert.Equal(t, enums.LedgerDirectionCredit, in.Direction)
	assert.Equal(t, enums.WalletTxnStatusHold, in.Status)
	assert.Equal(t, int64(50000), in.AmountCents)
	require.NotNil(t, in.UnlockAt)
	assert.Equal(t, deliveredAt.Add(10*24*time.Hour), *in.UnlockAt)

	_, ok = NewEngine(0).ForDelivered("ORD-1", &models.SubOrder{ID: uuid.New(), VendorID: &vendorID}, deliveredAt)
	assert.False(t, ok)

	_, ok = NewEngine(0).ForCancelled("ORD-1", &models.SubOrder{ID: uuid.New(), Items: sub.Items}, deliveredAt)
	assert.False(t, ok, "platform fulfilled sub orders never settle")
}

func TestSettleDeliveredIsIdempotent(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusDelivered)

	first, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, first.Outcome)
	assert.Equal(t, int64(50000), first.AmountCents)
	require.NotNil(t, first.Transaction.UnlockAt)
	assert.True(t, deliveredAt.Add(DefaultHoldPeriod).Equal(first.Transaction.UnlockAt.UTC()))

	second, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, OutcomeReplayed, second.Outcome)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)

	view := h.wallet(t)
	assert.Equal(t, int64(50000), view.Balances.HoldCents)
	assert.Equal(t, int64(0), view.Balances.AvailableCents)
	assert.Equal(t, int64(1), view.Total)
}

func TestSettleSkips(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusShipped)

	res, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusShipped))
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, res.Outcome)
	assert.Equal(t, SkipNoSettlementEvent, res.SkipReason)

	platform := &models.Order{
		Code:          "ORD-PLATFORM",
		PaymentMethod: enums.PaymentMethodOnline,
		PaymentStatus: enums.PaymentStatusPaid,
		Status:        enums.OrderStatusDelivered,
		SubOrders: []models.SubOrder{{
			Status: enums.OrderStatusDelivered,
			Items:  []models.SubOrderItem{{ProductID: uuid.New(), Name: "Gift card", Quantity: 1, BasePriceCents: 1000}},
		}},
	}
	require.NoError(t, orders.NewRepository(h.conn).Create(context.Background(), platform))
	res, err = h.svc.Settle(context.Background(), change(platform, &platform.SubOrders[0], enums.OrderStatusDelivered))
	require.NoError(t, err)
	assert.Equal(t, SkipPlatformFulfilled, res.SkipReason)

	_, err = h.svc.Settle(context.Background(), payloads.SubOrderStatusChanged{SubOrderID: uuid.New(), Status: enums.OrderStatusDelivered})
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestSettleCancelDrainsHoldFirst(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusDelivered)
	_, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusDelivered))
	require.NoError(t, err)

	res, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusCancelled))
	require.NoError(t, err)
	assert.Equal(t, OutcomeApplied, res.Outcome)
	assert.Equal(t, enums.WalletTxnCancelDeduct, res.Type)
	_, flagged := res.Transaction.Metadata.Int64(ledger.MetaUnrecovered)
	assert.False(t, flagged)

	view := h.wallet(t)
	assert.Equal(t, int64(0), view.Balances.HoldCents)
	assert.Equal(t, int64(0), view.Balances.AvailableCents)
}

func TestSettleCancelWithoutCreditFlagsShortfall(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusCancelled)

	res, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusCancelled))
	require.NoError(t, err)
	short, ok := res.Transaction.Metadata.Int64(ledger.MetaUnrecovered)
	require.True(t, ok)
	assert.Equal(t, int64(50000), short)

	view := h.wallet(t)
	assert.Equal(t, int64(0), view.Balances.HoldCents)
	assert.Equal(t, int64(0), view.Balances.AvailableCents)
}

type failingStore struct {
	ledger.Store
}

func (failingStore) Append(context.Context, ledger.AppendInput) (*ledger.AppendResult, error) {
	return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, errors.New("connection reset"), "append wallet transaction")
}

func TestDispatchSwallowsFailures(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusDelivered)

	reg := prometheus.NewRegistry()
	svc, err := NewService(orders.NewRepository(h.conn), failingStore{}, NewEngine(0), metrics.NewSettlementMetrics(reg), logger.Nop())
	require.NoError(t, err)

	svc.Dispatch(context.Background(), []payloads.SubOrderStatusChanged{
		change(order, sub, enums.OrderStatusDelivered),
		change(order, sub, enums.OrderStatusDelivered),
	})

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var failures float64
	for _, mf := range mfs {
		if mf.GetName() != "settlement_dispatch_failures_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			failures += metric.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(2), failures)
}

func TestSyncOrderBackfillsMissingSettlement(t *testing.T) {
	h := newHarness(t)
	order, _ := h.seedOrder(t, enums.OrderStatusDelivered)

	results, err := h.svc.SyncOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeApplied, results[0].Outcome)

	results, err = h.svc.SyncOrder(context.Background(), order.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeReplayed, results[0].Outcome)
	assert.Equal(t, int64(50000), h.wallet(t).Balances.HoldCents)

	_, err = h.svc.SyncOrder(context.Background(), uuid.New())
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestApplyReturn(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusDelivered)
	_, err := h.svc.Settle(context.Background(), change(order, sub, enums.OrderStatusDelivered))
	require.NoError(t, err)

	tooMuch := int64(50001)
	_, err = h.svc.ApplyReturn(context.Background(), ReturnInput{OrderID: order.ID, SubOrderID: sub.ID, AmountCents: &tooMuch})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.ReasonReturnExceedsSettlement, pkgerrors.ReasonOf(err))

	zero := int64(0)
	_, err = h.svc.ApplyReturn(context.Background(), ReturnInput{OrderID: order.ID, SubOrderID: sub.ID, AmountCents: &zero})
	assert.Equal(t, pkgerrors.ReasonNonPositiveAmount, pkgerrors.ReasonOf(err))

	partial := int64(12000)
	res, err := h.svc.ApplyReturn(context.Background(), ReturnInput{OrderID: order.ID, SubOrderID: sub.ID, AmountCents: &partial, Reason: "damaged"})
	require.NoError(t, err)
	assert.Equal(t, enums.WalletTxnReturnDeduct, res.Type)
	assert.Equal(t, int64(38000), res.Balances.HoldCents)

	_, err = h.svc.ApplyReturn(context.Background(), ReturnInput{OrderID: order.ID, SubOrderID: sub.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.CodeOf(err))
	assert.Equal(t, pkgerrors.ReasonReturnAlreadyProcessed, pkgerrors.ReasonOf(err))
	assert.Equal(t, int64(38000), h.wallet(t).Balances.HoldCents)
}

func TestApplyReturnRequiresDeliveredSubOrder(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusShipped)

	_, err := h.svc.ApplyReturn(context.Background(), ReturnInput{OrderID: order.ID, SubOrderID: sub.ID})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))
	assert.Equal(t, pkgerrors.ReasonInvalidStatus, pkgerrors.ReasonOf(err))
}

func TestStatusChangeSettlesThroughDispatcher(t *testing.T) {
	h := newHarness(t)
	order, sub := h.seedOrder(t, enums.OrderStatusShipped)

	_, err := h.orders.SetStatus(context.Background(), orders.SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered})
	require.NoError(t, err)
	assert.Equal(t, int64(50000), h.wallet(t).Balances.HoldCents)

	// A repeated write re-dispatches but the ledger key absorbs it.
	_, err = h.orders.SetStatus(context.Background(), orders.SetStatusInput{OrderID: order.ID, Status: enums.OrderStatusDelivered, SubOrderID: &sub.ID})
	require.NoError(t, err)
	view := h.wallet(t)
	assert.Equal(t, int64(50000), view.Balances.HoldCents)
	assert.Equal(t, int64(1), view.Total)
}
