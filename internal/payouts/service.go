package payouts

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

// Service moves vendor funds out of available and records manual
// corrections.
type Service interface {
	Release(ctx context.Context, input ReleaseInput) (*Result, error)
	LogFailed(ctx context.Context, input FailedInput) (*Result, error)
	Adjust(ctx context.Context, input AdjustInput) (*Result, error)
}

// ReleaseInput releases AmountCents, or the whole available balance when it
// is nil. Exactly one of Reference and IdempotencyToken must be set.
type ReleaseInput struct {
	VendorID         uuid.UUID
	AmountCents      *int64
	Method           enums.PayoutMethod
	Reference        string
	IdempotencyToken string
	Note             string
	ActorID          uuid.UUID
}

type FailedInput struct {
	VendorID         uuid.UUID
	AmountCents      int64
	Method           enums.PayoutMethod
	Reference        string
	IdempotencyToken string
	Reason           string
	ActorID          uuid.UUID
}

type AdjustInput struct {
	VendorID    uuid.UUID
	Direction   enums.LedgerDirection
	AmountCents int64
	Reference   string
	Note        string
	ActorID     uuid.UUID
}

type Result struct {
	Balances    ledger.Balances        `json:"balances"`
	Transaction ledger.TransactionView `json:"transaction"`
	Replayed    bool                   `json:"replayed"`
}

type service struct {
	store ledger.Store
	logg  *logger.Logger
	now   func() time.Time
}

func NewService(store ledger.Store, logg *logger.Logger) (Service, error) {
	if store == nil {
		return nil, fmt.Errorf("ledger store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{store: store, logg: logg, now: time.Now}, nil
}

func (s *service) Release(ctx context.Context, input ReleaseInput) (*Result, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout method")
	}
	ref, err := idempotencyReference(input.Reference, input.IdempotencyToken)
	if err != nil {
		return nil, err
	}
	if input.AmountCents != nil && *input.AmountCents <= 0 {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonNonPositiveAmount, "payout amount must be positive")
	}

	in := ledger.AppendInput{
		VendorID:       input.VendorID,
		IdempotencyKey: ledger.PayoutKey(input.VendorID, ref),
		Type:           enums.WalletTxnPayoutReleased,
		Direction:      enums.LedgerDirectionDebit,
		Status:         enums.WalletTxnStatusPaid,
		ReleaseAll:     input.AmountCents == nil,
		EffectiveAt:    s.now().UTC(),
		Note:           input.Note,
		Metadata:       payoutMetadata(input.Method, input.Reference, input.IdempotencyToken, input.ActorID),
	}
	if input.AmountCents != nil {
		in.AmountCents = *input.AmountCents
	}

	res, err := s.store.Append(ctx, in)
	if err != nil {
		return nil, err
	}
	logCtx := s.logg.WithAmount(s.logg.WithVendorID(ctx, input.VendorID.String()), res.Transaction.AmountCents)
	s.logg.Info(s.logg.WithFields(logCtx, map[string]any{
		"method":   string(input.Method),
		"replayed": res.Replayed,
	}), "vendor payout released")
	return newResult(res), nil
}

func (s *service) LogFailed(ctx context.Context, input FailedInput) (*Result, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payout method")
	}
	ref, err := idempotencyReference(input.Reference, input.IdempotencyToken)
	if err != nil {
		return nil, err
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonNonPositiveAmount, "payout amount must be positive")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "failure reason is required")
	}

	meta := payoutMetadata(input.Method, input.Reference, input.IdempotencyToken, input.ActorID)
	meta["failure_reason"] = reason
	res, err := s.store.Append(ctx, ledger.AppendInput{
		VendorID:       input.VendorID,
		IdempotencyKey: ledger.PayoutFailedKey(input.VendorID, ref),
		Type:           enums.WalletTxnPayoutFailed,
		Direction:      enums.LedgerDirectionDebit,
		Status:         enums.WalletTxnStatusFailed,
		AmountCents:    input.AmountCents,
		EffectiveAt:    s.now().UTC(),
		Note:           reason,
		Metadata:       meta,
	})
	if err != nil {
		return nil, err
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"vendor_id":    input.VendorID.String(),
		"amount_cents": input.AmountCents,
		"method":       string(input.Method),
		"reason":       reason,
	}), "vendor payout failure logged")
	return newResult(res), nil
}

// Adjust credits to or debits from available. Debits are bounded by the
// available balance.
func (s *service) Adjust(ctx context.Context, input AdjustInput) (*Result, error) {
	if input.VendorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "vendor id is required")
	}
	if !input.Direction.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid adjustment direction")
	}
	if input.AmountCents <= 0 {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonNonPositiveAmount, "adjustment amount must be positive")
	}
	ref := strings.TrimSpace(input.Reference)
	if ref == "" {
		return nil, pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonMissingReference, "adjustment reference is required")
	}

	meta := map[string]any{"reference": ref}
	if input.ActorID != uuid.Nil {
		meta["actor_id"] = input.ActorID.String()
	}
	res, err := s.store.Append(ctx, ledger.AppendInput{
		VendorID:       input.VendorID,
		IdempotencyKey: ledger.AdjustmentKey(input.VendorID, ref),
		Type:           enums.WalletTxnAdjustment,
		Direction:      input.Direction,
		Status:         enums.WalletTxnStatusAvailable,
		AmountCents:    input.AmountCents,
		EffectiveAt:    s.now().UTC(),
		Note:           input.Note,
		Metadata:       meta,
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"vendor_id":    input.VendorID.String(),
		"direction":    string(input.Direction),
		"amount_cents": input.AmountCents,
	}), "wallet adjustment recorded")
	return newResult(res), nil
}

// idempotencyReference enforces that a payout names exactly one of an
// external reference or a caller token.
func idempotencyReference(reference, token string) (string, error) {
	reference = strings.TrimSpace(reference)
	token = strings.TrimSpace(token)
	switch {
	case reference == "" && token == "":
		return "", pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonMissingReference,
			"either a payout reference or an idempotency token is required")
	case reference != "" && token != "":
		return "", pkgerrors.Rejected(pkgerrors.CodeValidation, pkgerrors.ReasonAmbiguousReference,
			"provide a payout reference or an idempotency token, not both")
	case reference != "":
		return "ref:" + reference, nil
	default:
		return "token:" + token, nil
	}
}

func payoutMetadata(method enums.PayoutMethod, reference, token string, actorID uuid.UUID) map[string]any {
	meta := map[string]any{"method": string(method)}
	if reference = strings.TrimSpace(reference); reference != "" {
		meta["reference"] = reference
	}
	if token = strings.TrimSpace(token); token != "" {
		meta["idempotency_token"] = token
	}
	if actorID != uuid.Nil {
		meta["actor_id"] = actorID.String()
	}
	return meta
}

func newResult(res *ledger.AppendResult) *Result {
	return &Result{
		Balances:    ledger.NewBalances(res.Wallet),
		Transaction: ledger.NewTransactionView(res.Transaction),
		Replayed:    res.Replayed,
	}
}
