package unlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/db/dbtest"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/outbox"
)

var deliveredAt = time.Date(2026, 3, 2, 15, 0, 0, 0, time.UTC)

func newStore(t *testing.T) ledger.Store {
	t.Helper()
	client, conn := dbtest.Client(t)
	emitter := outbox.NewService(outbox.NewRepository(conn), logger.Nop())
	store, err := ledger.NewService(ledger.NewRepository(conn), client, emitter, nil, logger.Nop())
	require.NoError(t, err)
	return store
}

func credit(t *testing.T, store ledger.Store, vendorID uuid.UUID, amount int64, unlockAt time.Time) {
	t.Helper()
	subOrderID := uuid.New()
	_, err := store.Append(context.Background(), ledger.AppendInput{
		VendorID:       vendorID,
		IdempotencyKey: ledger.SettlementKey(vendorID, subOrderID, ledger.EventDelivered),
		Type:           enums.WalletTxnDeliveredHoldCredit,
		Direction:      enums.LedgerDirectionCredit,
		Status:         enums.WalletTxnStatusHold,
		AmountCents:    amount,
		SubOrderID:     &subOrderID,
		EffectiveAt:    deliveredAt,
		UnlockAt:       &unlockAt,
	})
	require.NoError(t, err)
}

func balances(t *testing.T, store ledger.Store, vendorID uuid.UUID) ledger.Balances {
	t.Helper()
	view, err := store.GetVendorWallet(context.Background(), ledger.WalletQuery{VendorID: vendorID})
	require.NoError(t, err)
	return view.Balances
}

func TestRunPromotesDueHoldsOnce(t *testing.T) {
	store := newStore(t)
	vendorA, vendorB := uuid.New(), uuid.New()
	due := deliveredAt.Add(10 * 24 * time.Hour)
	credit(t, store, vendorA, 30000, due)
	credit(t, store, vendorA, 20000, due)
	credit(t, store, vendorB, 7500, due)
	credit(t, store, vendorB, 1000, due.Add(48*time.Hour))

	svc, err := NewService(store, 0, nil, logger.Nop())
	require.NoError(t, err)

	now := deliveredAt.Add(11 * 24 * time.Hour)
	summary, err := svc.Run(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.WalletsProcessed)
	assert.Equal(t, 3, summary.TxnsProcessed)
	assert.Equal(t, int64(57500), summary.AmountCents)
	perVendor := map[uuid.UUID]int64{}
	for _, w := range summary.Wallets {
		perVendor[w.VendorID] = w.AmountCents
	}
	assert.Equal(t, int64(50000), perVendor[vendorA])
	assert.Equal(t, int64(7500), perVendor[vendorB])

	a := balances(t, store, vendorA)
	assert.Equal(t, int64(0), a.HoldCents)
	assert.Equal(t, int64(50000), a.AvailableCents)
	b := balances(t, store, vendorB)
	assert.Equal(t, int64(1000), b.HoldCents)
	assert.Equal(t, int64(7500), b.AvailableCents)

	rerun, err := svc.Run(context.Background(), 10, now)
	require.NoError(t, err)
	assert.Equal(t, 0, rerun.WalletsProcessed)
	assert.Equal(t, 0, rerun.TxnsProcessed)
	assert.Equal(t, int64(50000), balances(t, store, vendorA).AvailableCents)
}

func TestRunBeforeUnlockTimeDoesNothing(t *testing.T) {
	store := newStore(t)
	vendorID := uuid.New()
	credit(t, store, vendorID, 50000, deliveredAt.Add(10*24*time.Hour))

	svc, err := NewService(store, 0, nil, logger.Nop())
	require.NoError(t, err)
	summary, err := svc.Run(context.Background(), 0, deliveredAt.Add(9*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, summary.WalletsProcessed)
	assert.Equal(t, int64(50000), balances(t, store, vendorID).HoldCents)
}

type flakyStore struct {
	ledger.Store
	failWallet uuid.UUID
}

func (f *flakyStore) PromoteWalletHolds(ctx context.Context, walletID uuid.UUID, ids []uuid.UUID, now time.Time) (*ledger.PromotionResult, error) {
	if walletID == f.failWallet {
		return nil, errors.New("lock timeout")
	}
	return f.Store.PromoteWalletHolds(ctx, walletID, ids, now)
}

func TestRunIsolatesWalletFailures(t *testing.T) {
	store := newStore(t)
	healthy, broken := uuid.New(), uuid.New()
	due := deliveredAt.Add(10 * 24 * time.Hour)
	credit(t, store, healthy, 4000, due)
	credit(t, store, broken, 6000, due)

	brokenWallet, err := store.EnsureWallet(context.Background(), broken)
	require.NoError(t, err)

	svc, err := NewService(&flakyStore{Store: store, failWallet: brokenWallet.ID}, 0, nil, logger.Nop())
	require.NoError(t, err)

	summary, err := svc.Run(context.Background(), 10, due)
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.WalletsProcessed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, int64(4000), balances(t, store, healthy).AvailableCents)
	assert.Equal(t, int64(6000), balances(t, store, broken).HoldCents)
}

func TestRunDoesNotStarveBehindFailingWallet(t *testing.T) {
	store := newStore(t)
	broken, healthy := uuid.New(), uuid.New()
	due := deliveredAt.Add(10 * 24 * time.Hour)
	credit(t, store, broken, 3000, due.Add(-time.Hour))
	credit(t, store, healthy, 3000, due)

	brokenWallet, err := store.EnsureWallet(context.Background(), broken)
	require.NoError(t, err)
	svc, err := NewService(&flakyStore{Store: store, failWallet: brokenWallet.ID}, 0, nil, logger.Nop())
	require.NoError(t, err)

	first, err := svc.Run(context.Background(), 1, due)
	require.Error(t, err)
	assert.Equal(t, 1, first.Failed)
	assert.Equal(t, broken, first.Wallets[0].VendorID)

	second, err := svc.Run(context.Background(), 1, due)
	require.NoError(t, err)
	assert.Equal(t, 1, second.WalletsProcessed)
	assert.Equal(t, healthy, second.Wallets[0].VendorID)
	assert.Equal(t, int64(3000), balances(t, store, healthy).AvailableCents)

	recovered, err := NewService(store, 0, nil, logger.Nop())
	require.NoError(t, err)
	third, err := recovered.Run(context.Background(), 1, due)
	require.NoError(t, err)
	assert.Equal(t, 1, third.WalletsProcessed)
	assert.Equal(t, int64(3000), balances(t, store, broken).AvailableCents)
}

func TestRunUnlocksAfterDeductionsDrainHold(t *testing.T) {
	store := newStore(t)
	vendorID := uuid.New()
	due := deliveredAt.Add(10 * 24 * time.Hour)
	credit(t, store, vendorID, 3000, due)
	_, err := store.Append(context.Background(), ledger.AppendInput{
		VendorID:       vendorID,
		IdempotencyKey: "adjust-" + vendorID.String(),
		Type:           enums.WalletTxnAdjustment,
		Direction:      enums.LedgerDirectionCredit,
		Status:         enums.WalletTxnStatusAvailable,
		AmountCents:    5000,
		EffectiveAt:    deliveredAt,
	})
	require.NoError(t, err)
	for _, deduct := range []struct {
		typ    enums.WalletTransactionType
		amount int64
	}{
		{enums.WalletTxnCancelDeduct, 2500},
		{enums.WalletTxnReturnDeduct, 1000},
	} {
		_, err := store.Append(context.Background(), ledger.AppendInput{
			VendorID:       vendorID,
			IdempotencyKey: string(deduct.typ) + "-" + vendorID.String(),
			Type:           deduct.typ,
			Direction:      enums.LedgerDirectionDebit,
			Status:         enums.WalletTxnStatusReversed,
			AmountCents:    deduct.amount,
			EffectiveAt:    deliveredAt,
		})
		require.NoError(t, err)
	}
	require.Zero(t, balances(t, store, vendorID).HoldCents)
	credit(t, store, vendorID, 4000, due)

	svc, err := NewService(store, 0, nil, logger.Nop())
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		summary, err := svc.Run(context.Background(), 10, due)
		require.NoError(t, err)
		assert.Zero(t, summary.Failed)
	}

	b := balances(t, store, vendorID)
	assert.Zero(t, b.HoldCents)
	assert.Equal(t, int64(8500), b.AvailableCents)
}

func TestRunRespectsLimit(t *testing.T) {
	store := newStore(t)
	due := deliveredAt.Add(10 * 24 * time.Hour)
	for i := 0; i < 3; i++ {
		credit(t, store, uuid.New(), 100, due)
	}

	svc, err := NewService(store, 0, nil, logger.Nop())
	require.NoError(t, err)
	first, err := svc.Run(context.Background(), 2, due)
	require.NoError(t, err)
	assert.Equal(t, 2, first.WalletsProcessed)

	second, err := svc.Run(context.Background(), 2, due)
	require.NoError(t, err)
	assert.Equal(t, 1, second.WalletsProcessed)
}
