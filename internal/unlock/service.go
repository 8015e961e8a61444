package unlock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/metrics"
)

// WalletSummary is the amount moved for one wallet in a run.
type WalletSummary struct {
	WalletID    uuid.UUID `json:"wallet_id"`
	VendorID    uuid.UUID `json:"vendor_id"`
	Promoted    int       `json:"promoted"`
	Skipped     int       `json:"skipped"`
	AmountCents int64     `json:"amount_cents"`
	Error       string    `json:"error,omitempty"`
}

// Summary reports a whole unlock run. WalletsProcessed counts wallets whose
// unit committed.
type Summary struct {
	Now              time.Time       `json:"now"`
	WalletsProcessed int             `json:"wallets_processed"`
	TxnsProcessed    int             `json:"txns_processed"`
	AmountCents      int64           `json:"amount_cents"`
	Failed           int             `json:"failed"`
	Wallets          []WalletSummary `json:"wallets"`
}

// Service promotes matured hold credits to available.
type Service interface {
	Run(ctx context.Context, limit int, now time.Time) (*Summary, error)
}

type service struct {
	store        ledger.Store
	defaultLimit int
	metrics      *metrics.SettlementMetrics
	logg         *logger.Logger
	now          func() time.Time
}

func NewService(store ledger.Store, defaultLimit int, m *metrics.SettlementMetrics, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if defaultLimit <= 0 {
		defaultLimit = ledger.DefaultDueHoldLimit
	}
	return &service{
		store:        store,
		defaultLimit: defaultLimit,
		metrics:      m,
		logg:         logg,
		now:          time.Now,
	}, nil
}

// Run processes up to limit wallets. Each wallet is its own atomic unit; a
// failing wallet is recorded on the summary and the batch continues. The
// returned error combines the per-wallet failures and is only nil when every
// wallet committed.
func (s *service) Run(ctx context.Context, limit int, now time.Time) (*Summary, error) {
	if limit <= 0 {
		limit = s.defaultLimit
	}
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()
	ctx = s.logg.WithFields(ctx, map[string]any{"limit": limit, "now": now.Format(time.RFC3339)})

	due, err := s.store.QueryDueHolds(ctx, now, limit)
	if err != nil {
		return nil, err
	}

	summary := &Summary{Now: now, Wallets: make([]WalletSummary, 0, len(due))}
	var errs error
	for _, wallet := range due {
		holdIDs := make([]uuid.UUID, 0, len(wallet.Holds))
		for _, hold := range wallet.Holds {
			holdIDs = append(holdIDs, hold.ID)
		}

		entry := WalletSummary{WalletID: wallet.Wallet.ID, VendorID: wallet.Wallet.VendorID}
		res, err := s.store.PromoteWalletHolds(ctx, wallet.Wallet.ID, holdIDs, now)
		if err != nil {
			s.metrics.IncUnlockFailure()
			s.logg.Error(s.logg.WithField(ctx, "wallet_id", wallet.Wallet.ID.String()), "wallet unlock failed", err)
			entry.Error = err.Error()
			summary.Failed++
			summary.Wallets = append(summary.Wallets, entry)
			errs = multierr.Append(errs, fmt.Errorf("wallet %s: %w", wallet.Wallet.ID, err))
			if markErr := s.store.MarkUnlockFailed(ctx, wallet.Wallet.ID, now); markErr != nil {
				s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
					"wallet_id": wallet.Wallet.ID.String(),
					"error":     markErr.Error(),
				}), "record unlock failure")
			}
			continue
		}

		entry.Promoted = res.Promoted
		entry.Skipped = res.Skipped
		entry.AmountCents = res.AmountCents
		summary.Wallets = append(summary.Wallets, entry)
		summary.WalletsProcessed++
		summary.TxnsProcessed += res.Promoted
		summary.AmountCents += res.AmountCents
	}

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"wallets_processed": summary.WalletsProcessed,
		"txns_processed":    summary.TxnsProcessed,
		"amount_cents":      summary.AmountCents,
		"failed":            summary.Failed,
	}), "wallet unlock run completed")
	return summary, errs
}
