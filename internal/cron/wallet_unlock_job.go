package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/marketplace-settlement/internal/unlock"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

type unlockRunner interface {
	Run(ctx context.Context, limit int, now time.Time) (*unlock.Summary, error)
}

type WalletUnlockJobParams struct {
	Logger    *logger.Logger
	Unlocker  unlockRunner
	BatchSize int
}

// NewWalletUnlockJob promotes matured hold credits on every cycle.
func NewWalletUnlockJob(params WalletUnlockJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Unlocker == nil {
		return nil, fmt.Errorf("unlock service required")
	}
	return &walletUnlockJob{
		logg:      params.Logger,
		unlocker:  params.Unlocker,
		batchSize: params.BatchSize,
		now:       time.Now,
	}, nil
}

type walletUnlockJob struct {
	logg      *logger.Logger
	unlocker  unlockRunner
	batchSize int
	now       func() time.Time
}

func (j *walletUnlockJob) Name() string { return "wallet-unlock" }

func (j *walletUnlockJob) Run(ctx context.Context) error {
	summary, err := j.unlocker.Run(ctx, j.batchSize, j.now())
	if summary != nil {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"wallets_processed": summary.WalletsProcessed,
			"txns_processed":    summary.TxnsProcessed,
			"amount_cents":      summary.AmountCents,
			"failed":            summary.Failed,
		}), "wallet unlock batch finished")
	}
	if err != nil {
		return fmt.Errorf("wallet unlock: %w", err)
	}
	return nil
}
