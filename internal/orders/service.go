package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// Service exposes the order lifecycle operations.
type Service interface {
	SetStatus(ctx context.Context, input SetStatusInput) (*models.Order, error)
	ConfirmCOD(ctx context.Context, input ConfirmCODInput) (*models.Order, error)
	Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// SetStatusInput targets the whole order when SubOrderID is nil.
type SetStatusInput struct {
	OrderID    uuid.UUID
	Status     enums.OrderStatus
	SubOrderID *uuid.UUID
	ActorID    uuid.UUID
	ActorRole  string
}

type ConfirmCODInput struct {
	OrderID   uuid.UUID
	ActorID   uuid.UUID
	ActorRole string
}

type service struct {
	repo       Repository
	tx         txRunner
	outbox     outboxEmitter
	dispatcher SettlementDispatcher
	logg       *logger.Logger
	now        func() time.Time
}

// NewService builds the lifecycle controller. The dispatcher may be nil, in
// which case committed changes are only recorded in the outbox.
func NewService(repo Repository, tx txRunner, emitter outboxEmitter, dispatcher SettlementDispatcher, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		repo:       repo,
		tx:         tx,
		outbox:     emitter,
		dispatcher: dispatcher,
		logg:       logg,
		now:        time.Now,
	}, nil
}

func (s *service) Get(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, mapLoadError(err, "order")
	}
	return order, nil
}

func (s *service) SetStatus(ctx context.Context, input SetStatusInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if !input.Status.IsValid() {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonInvalidStatus, "unknown order status").
			WithDetails(map[string]any{"status": input.Status})
	}
	if input.SubOrderID != nil && *input.SubOrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sub order id is invalid")
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id":     input.OrderID.String(),
		"target":       string(input.Status),
		"sub_order_id": optionalID(input.SubOrderID),
	})

	var (
		changes []payloads.SubOrderStatusChanged
		updated *models.Order
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err, "order")
		}
		if err := checkPaymentGuardrails(order, input.Status); err != nil {
			return err
		}

		now := s.now().UTC()
		if input.SubOrderID != nil {
			changes, err = s.applySubOrderStatus(ctx, repo, order, *input.SubOrderID, input.Status, now)
		} else {
			changes, err = s.applyOrderStatus(ctx, repo, order, input.Status, now)
		}
		if err != nil {
			return err
		}

		actor := actorRef(input.ActorID, input.ActorRole)
		for _, change := range changes {
			if change.PreviousStatus == change.Status {
				continue
			}
			event := outbox.DomainEvent{
				EventType:     enums.EventSubOrderStatusChanged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actor,
				Data:          change,
				OccurredAt:    now,
			}
			if err := s.outbox.Emit(ctx, tx, event); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit sub order status event")
			}
		}

		updated, err = repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"order_status": string(updated.Status),
		"changes":      len(changes),
	}), "order status updated")

	s.dispatch(ctx, changes)
	return updated, nil
}

// applyOrderStatus moves the order and forces every non-terminal sub-order
// to the same target. Sub-orders already at the target are reported too so
// their settlement is re-run.
func (s *service) applyOrderStatus(ctx context.Context, repo Repository, order *models.Order, target enums.OrderStatus, now time.Time) ([]payloads.SubOrderStatusChanged, error) {
	if order.Status.IsTerminal() && order.Status != target {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonOrderTerminal, "order is in a terminal status").
			WithDetails(map[string]any{"status": order.Status, "target": target})
	}

	changes := make([]payloads.SubOrderStatusChanged, 0, len(order.SubOrders))
	for i := range order.SubOrders {
		sub := &order.SubOrders[i]
		previous := sub.Status
		if previous != target {
			if previous.IsTerminal() {
				continue
			}
			if err := repo.UpdateSubOrder(ctx, sub.ID, subOrderUpdates(target, now)); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub order status")
			}
			sub.Status = target
		}
		changes = append(changes, newChange(order, sub, previous, target, now))
	}

	updates := map[string]any{}
	if order.Status != target {
		updates["status"] = target
	}
	if order.PaymentMethod == enums.PaymentMethodCOD && target == enums.OrderStatusDelivered && order.PaymentStatus != enums.PaymentStatusPaid {
		updates["payment_status"] = enums.PaymentStatusPaid
	}
	if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order.Status = target
	for i := range changes {
		changes[i].OrderStatus = target
	}
	return changes, nil
}

// applySubOrderStatus moves one sub-order, leaves its siblings alone and
// re-derives the parent.
func (s *service) applySubOrderStatus(ctx context.Context, repo Repository, order *models.Order, subOrderID uuid.UUID, target enums.OrderStatus, now time.Time) ([]payloads.SubOrderStatusChanged, error) {
	var sub *models.SubOrder
	for i := range order.SubOrders {
		if order.SubOrders[i].ID == subOrderID {
			sub = &order.SubOrders[i]
			break
		}
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "sub order not found for order")
	}

	previous := sub.Status
	if previous.IsTerminal() && previous != target {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonSubOrderTerminal, "sub order is in a terminal status").
			WithDetails(map[string]any{"status": previous, "target": target})
	}
	if previous != target {
		if err := repo.UpdateSubOrder(ctx, sub.ID, subOrderUpdates(target, now)); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub order status")
		}
		sub.Status = target
	}

	derived := DeriveOrderStatus(order.Status, order.SubOrders)
	updates := map[string]any{}
	if derived != order.Status {
		updates["status"] = derived
	}
	if order.PaymentMethod == enums.PaymentMethodCOD && derived == enums.OrderStatusDelivered && order.PaymentStatus != enums.PaymentStatusPaid {
		updates["payment_status"] = enums.PaymentStatusPaid
	}
	if err := repo.UpdateOrder(ctx, order.ID, updates); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order.Status = derived

	change := newChange(order, sub, previous, target, now)
	change.OrderStatus = derived
	return []payloads.SubOrderStatusChanged{change}, nil
}

func (s *service) ConfirmCOD(ctx context.Context, input ConfirmCODInput) (*models.Order, error) {
	if input.OrderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id is required")
	}
	if input.ActorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "actor id is required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"order_id": input.OrderID.String(),
		"actor_id": input.ActorID.String(),
	})

	var updated *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, input.OrderID)
		if err != nil {
			return mapLoadError(err, "order")
		}
		if order.PaymentMethod != enums.PaymentMethodCOD || order.Status != enums.OrderStatusPlaced {
			return pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonCODConfirmNotAllowed,
				"only placed cash on delivery orders can be confirmed").
				WithDetails(map[string]any{"status": order.Status, "payment_method": order.PaymentMethod})
		}

		now := s.now().UTC()
		actor := actorRef(input.ActorID, input.ActorRole)
		for i := range order.SubOrders {
			sub := &order.SubOrders[i]
			if sub.Status.IsTerminal() || sub.Status == enums.OrderStatusConfirmed {
				continue
			}
			previous := sub.Status
			if err := repo.UpdateSubOrder(ctx, sub.ID, subOrderUpdates(enums.OrderStatusConfirmed, now)); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update sub order status")
			}
			sub.Status = enums.OrderStatusConfirmed
			change := newChange(order, sub, previous, enums.OrderStatusConfirmed, now)
			change.OrderStatus = enums.OrderStatusConfirmed
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventSubOrderStatusChanged,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actor,
				Data:          change,
				OccurredAt:    now,
			}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit sub order status event")
			}
		}

		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"status":           enums.OrderStatusConfirmed,
			"payment_status":   enums.PaymentStatusCODPendingConfirmation,
			"cod_confirmed_at": now,
			"cod_confirmed_by": input.ActorID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "confirm cod order")
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCODConfirmed,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Data: payloads.CODConfirmed{
				OrderID:     order.ID,
				OrderCode:   order.Code,
				ConfirmedBy: input.ActorID,
				ConfirmedAt: now,
			},
			OccurredAt: now,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit cod confirmed event")
		}

		updated, err = repo.FindByID(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload order")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logg.Info(ctx, "cod order confirmed")
	return updated, nil
}

func (s *service) dispatch(ctx context.Context, changes []payloads.SubOrderStatusChanged) {
	if s.dispatcher == nil || len(changes) == 0 {
		return
	}
	s.dispatcher.Dispatch(ctx, changes)
}

func subOrderUpdates(target enums.OrderStatus, now time.Time) map[string]any {
	updates := map[string]any{
		"status":            target,
		"status_changed_at": now,
	}
	switch target {
	case enums.OrderStatusDelivered:
		updates["delivered_at"] = now
	case enums.OrderStatusCancelled:
		updates["cancelled_at"] = now
	}
	return updates
}

func newChange(order *models.Order, sub *models.SubOrder, previous, status enums.OrderStatus, now time.Time) payloads.SubOrderStatusChanged {
	return payloads.SubOrderStatusChanged{
		OrderID:        order.ID,
		OrderCode:      order.Code,
		SubOrderID:     sub.ID,
		VendorID:       sub.VendorID,
		PreviousStatus: previous,
		Status:         status,
		OrderStatus:    order.Status,
		OccurredAt:     now,
	}
}

func actorRef(id uuid.UUID, role string) *outbox.ActorRef {
	if id == uuid.Nil {
		return nil
	}
	return &outbox.ActorRef{UserID: id, Role: role}
}

func optionalID(id *uuid.UUID) string {
	if id == nil {
		return ""
	}
	return id.String()
}

func mapLoadError(err error, entity string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, entity+" not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load "+entity)
}
