package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// Outcome describes what a settlement pass did for one sub-order.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeReplayed Outcome = "replayed"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// Skip reasons reported on results that produced no ledger entry.
const (
	SkipPlatformFulfilled = "platform_fulfilled"
	SkipNoSettlementEvent = "no_settlement_event"
	SkipZeroAmount        = "zero_amount"
)

// Service turns committed sub-order status changes into ledger entries.
type Service interface {
	Settle(ctx context.Context, change payloads.SubOrderStatusChanged) (*Result, error)
	Dispatch(ctx context.Context, changes []payloads.SubOrderStatusChanged)
	SyncOrder(ctx context.Context, orderID uuid.UUID) ([]Result, error)
	ApplyReturn(ctx context.Context, input ReturnInput) (*Result, error)
}

// OrderReader is the slice of the order store settlement depends on.
type OrderReader interface {
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error)
}

// Result is one sub-order's settlement outcome.
type Result struct {
	OrderID     uuid.UUID                   `json:"order_id"`
	SubOrderID  uuid.UUID                   `json:"sub_order_id"`
	VendorID    *uuid.UUID                  `json:"vendor_id,omitempty"`
	Status      enums.OrderStatus           `json:"status"`
	Outcome     Outcome                     `json:"outcome"`
	SkipReason  string                      `json:"skip_reason,omitempty"`
	AmountCents int64                       `json:"amount_cents"`
	Transaction *models.WalletTransaction   `json:"-"`
	Entry       *ledger.TransactionView     `json:"transaction,omitempty"`
	Balances    *ledger.Balances            `json:"balances,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Type        enums.WalletTransactionType `json:"type,omitempty"`
}

// ReturnInput requests a return deduction. A nil AmountCents returns the
// whole settlement amount.
type ReturnInput struct {
	OrderID     uuid.UUID
	SubOrderID  uuid.UUID
	AmountCents *int64
	Reason      string
}

type service struct {
	orders  OrderReader
	ledger  ledger.Store
	engine  Engine
	metrics *metrics.SettlementMetrics
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(orders OrderReader, store ledger.Store, engine Engine, m *metrics.SettlementMetrics, logg *logger.Logger) (Service, error) {
	if orders == nil {
		return nil, fmt.Errorf("order reader required")
	}
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if engine.HoldPeriod <= 0 {
		engine = NewEngine(0)
	}
	return &service{
		orders:  orders,
		ledger:  store,
		engine:  engine,
		metrics: m,
		logg:    logg,
		now:     time.Now,
	}, nil
}

func (s *service) Settle(ctx context.Context, change payloads.SubOrderStatusChanged) (*Result, error) {
	if change.SubOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub order id is required")
	}
	sub, err := s.orders.FindSubOrder(ctx, change.SubOrderID)
	if err != nil {
		return nil, mapLoadError(err, "sub order")
	}
	return s.settleSubOrder(ctx, change.OrderCode, sub, change.Status, change.OccurredAt)
}

// Dispatch settles every change independently. Failures are logged and
// counted; the status change that produced them already stands and is
// repaired through SyncOrder.
func (s *service) Dispatch(ctx context.Context, changes []payloads.SubOrderStatusChanged) {
	for _, change := range changes {
		entryCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":     change.OrderID.String(),
			"sub_order_id": change.SubOrderID.String(),
			"status":       string(change.Status),
		})
		result, err := s.Settle(entryCtx, change)
		if err != nil {
			s.metrics.IncDispatchFailure(string(change.Status))
			s.logg.Error(entryCtx, "settlement after status change failed", err)
			continue
		}
		if result.Outcome == OutcomeApplied {
			s.logg.Info(s.logg.WithField(entryCtx, "amount_cents", result.AmountCents), "settlement applied")
		}
	}
}

// SyncOrder re-runs settlement for every sub-order at its current status.
// Per sub-order failures are reported on the result, not returned.
func (s *service) SyncOrder(ctx context.Context, orderID uuid.UUID) ([]Result, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoadError(err, "order")
	}
	ctx = s.logg.WithOrderID(ctx, order.ID.String())

	results := make([]Result, 0, len(order.SubOrders))
	for i := range order.SubOrders {
		sub := &order.SubOrders[i]
		result, err := s.settleSubOrder(ctx, order.Code, sub, sub.Status, s.now())
		if err != nil {
			s.metrics.IncDispatchFailure(string(sub.Status))
			s.logg.Error(s.logg.WithField(ctx, "sub_order_id", sub.ID.String()), "wallet sync failed", err)
			results = append(results, Result{
				OrderID:    order.ID,
				SubOrderID: sub.ID,
				VendorID:   sub.VendorID,
				Status:     sub.Status,
				Outcome:    OutcomeFailed,
				Error:      err.Error(),
			})
			continue
		}
		results = append(results, *result)
	}

	s.logg.Info(s.logg.WithField(ctx, "sub_orders", len(results)), "wallet sync completed")
	return results, nil
}

func (s *service) ApplyReturn(ctx context.Context, input ReturnInput) (*Result, error) {
	if input.OrderID == uuid.Nil || input.SubOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id and sub order id are required")
	}
	order, err := s.orders.FindByID(ctx, input.OrderID)
	if err != nil {
		return nil, mapLoadError(err, "order")
	}
	var sub *models.SubOrder
	for i := range order.SubOrders {
		if order.SubOrders[i].ID == input.SubOrderID {
			sub = &order.SubOrders[i]
			break
		}
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub order not found for order")
	}
	if sub.VendorID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "platform fulfilled sub orders have no vendor wallet")
	}
	if sub.Status != enums.OrderStatusDelivered {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonInvalidStatus, "only delivered sub orders can be returned").
			WithDetails(map[string]any{"status": sub.Status})
	}

	settled := Amount(sub)
	amount := settled
	if input.AmountCents != nil {
		amount = *input.AmountCents
	}
	if amount <= 0 {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonNonPositiveAmount, "return amount must be positive")
	}
	if amount > settled {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonReturnExceedsSettlement, "return amount exceeds the settled amount").
			WithDetails(map[string]any{"settlement_amount_cents": settled, "amount_cents": amount})
	}

	key := ledger.SettlementKey(*sub.VendorID, sub.ID, ledger.EventReturn)
	existing, err := s.ledger.FindTransactionByKey(ctx, key)
	if err != nil && pkgerrors.CodeOf(err) != pkgerrors.CodeNotFound {
		return nil, err
	}
	if existing != nil {
		return nil, returnAlreadyProcessed(existing)
	}

	in, _ := s.engine.ForReturn(order.Code, sub, amount, input.Reason, s.now())
	res, err := s.ledger.Append(ctx, in)
	if err != nil {
		return nil, err
	}
	if res.Replayed {
		return nil, returnAlreadyProcessed(&res.Transaction)
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_id":     order.ID.String(),
		"sub_order_id": sub.ID.String(),
		"amount_cents": amount,
	}), "return deduction recorded")
	return newResult(order.ID, sub, OutcomeApplied, res), nil
}

func (s *service) settleSubOrder(ctx context.Context, orderCode string, sub *models.SubOrder, status enums.OrderStatus, occurredAt time.Time) (*Result, error) {
	result := &Result{
		OrderID:    sub.OrderID,
		SubOrderID: sub.ID,
		VendorID:   sub.VendorID,
		Status:     status,
		Outcome:    OutcomeSkipped,
	}
	if sub.VendorID == nil {
		result.SkipReason = SkipPlatformFulfilled
		return result, nil
	}

	var (
		in ledger.AppendInput
		ok bool
	)
	switch status {
	case enums.OrderStatusDelivered:
		in, ok = s.engine.ForDelivered(orderCode, sub, eventTime(sub.DeliveredAt, occurredAt, s.now))
	case enums.OrderStatusCancelled:
		in, ok = s.engine.ForCancelled(orderCode, sub, eventTime(sub.CancelledAt, occurredAt, s.now))
	default:
		result.SkipReason = SkipNoSettlementEvent
		return result, nil
	}
	if !ok {
		result.SkipReason = SkipZeroAmount
		return result, nil
	}

	res, err := s.ledger.Append(ctx, in)
	if err != nil {
		return nil, err
	}
	outcome := OutcomeApplied
	if res.Replayed {
		outcome = OutcomeReplayed
	}
	applied := newResult(sub.OrderID, sub, outcome, res)
	applied.Status = status
	return applied, nil
}

func newResult(orderID uuid.UUID, sub *models.SubOrder, outcome Outcome, res *ledger.AppendResult) *Result {
	txn := res.Transaction
	balances := ledger.NewBalances(res.Wallet)
	entry := ledger.NewTransactionView(txn)
	return &Result{
		OrderID:     orderID,
		SubOrderID:  sub.ID,
		VendorID:    sub.VendorID,
		Status:      sub.Status,
		Outcome:     outcome,
		AmountCents: txn.AmountCents,
		Transaction: &txn,
		Entry:       &entry,
		Balances:    &balances,
		Type:        txn.Type,
	}
}

func returnAlreadyProcessed(txn *models.WalletTransaction) error {
	return pkgerrors.Rejected(pkgerrors.CodeConflict, pkgerrors.ReasonReturnAlreadyProcessed, "return already processed for sub order").
		WithDetails(map[string]any{"transaction_id": txn.ID.String()})
}

func eventTime(recorded *time.Time, occurredAt time.Time, now func() time.Time) time.Time {
	if recorded != nil && !recorded.IsZero() {
		return recorded.UTC()
	}
	if !occurredAt.IsZero() {
		return occurredAt.UTC()
	}
	return now().UTC()
}

func mapLoadError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+entity)
}
