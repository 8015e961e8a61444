package orders

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox/payloads"
)

// Repository defines persistence operations for orders and sub-orders.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	LockByID(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	FindSubOrder(ctx context.Context, subOrderID uuid.UUID) (*models.SubOrder, error)
	UpdateOrder(ctx context.Context, orderID uuid.UUID, updates map[string]any) error
	UpdateSubOrder(ctx context.Context, subOrderID uuid.UUID, updates map[string]any) error
}

// SettlementDispatcher receives status changes after they are committed.
// Implementations own their error handling; a failed settlement never undoes
// the status write.
type SettlementDispatcher interface {
	Dispatch(ctx context.Context, changes []payloads.SubOrderStatusChanged)
}
