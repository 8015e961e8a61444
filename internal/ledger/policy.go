package ledger

import (
	"time"

	"github.com/angelmondragon/marketplace-settlement/pkg/db/models"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
)

// Metadata keys written by the bucket policy.
const (
	MetaHoldDeducted      = "hold_deducted_cents"
	MetaAvailableDeducted = "available_deducted_cents"
	MetaUnrecovered       = "unrecovered_amount_cents"
	MetaCreditCents       = "hold_credit_cents"
	MetaHoldShortfall     = "hold_shortfall_cents"
)

// mutation is the outcome of applying one entry to a locked wallet.
type mutation struct {
	amount   int64
	metadata map[string]any
}

// applyMutation moves balances according to (type, direction, statusAfter).
// It never drives a bucket negative. Deductions cascade hold then available
// and record what could not be recovered. An unlock moves at most what is
// left in hold, since earlier deductions may already have consumed part of
// the credit. Payouts and debit adjustments are rejected when available is
// short.
func applyMutation(w *models.VendorWallet, in AppendInput, at time.Time) (mutation, error) {
	out := mutation{amount: in.AmountCents, metadata: map[string]any{}}

	switch {
	case in.Status == enums.WalletTxnStatusFailed:
		// audit-only entry

	case in.Type == enums.WalletTxnHoldToAvailable:
		moved := max(min(w.HoldCents, in.AmountCents), 0)
		w.HoldCents -= moved
		w.AvailableCents += moved
		out.amount = moved
		if short := in.AmountCents - moved; short > 0 {
			out.metadata[MetaCreditCents] = in.AmountCents
			out.metadata[MetaHoldShortfall] = short
		}

	case in.Direction == enums.LedgerDirectionCredit && in.Status == enums.WalletTxnStatusHold:
		w.HoldCents += in.AmountCents
		w.TotalCreditsCents += in.AmountCents

	case in.Direction == enums.LedgerDirectionCredit && in.Status == enums.WalletTxnStatusAvailable:
		w.AvailableCents += in.AmountCents
		w.TotalCreditsCents += in.AmountCents

	case in.Direction == enums.LedgerDirectionDebit && in.Status == enums.WalletTxnStatusReversed:
		fromHold := min(w.HoldCents, in.AmountCents)
		fromAvailable := min(w.AvailableCents, in.AmountCents-fromHold)
		unrecovered := in.AmountCents - fromHold - fromAvailable

		w.HoldCents -= fromHold
		w.AvailableCents -= fromAvailable
		w.TotalDebitsCents += fromHold + fromAvailable

		out.metadata[MetaHoldDeducted] = fromHold
		out.metadata[MetaAvailableDeducted] = fromAvailable
		if unrecovered > 0 {
			out.metadata[MetaUnrecovered] = unrecovered
		}

	case in.Direction == enums.LedgerDirectionDebit && in.Status == enums.WalletTxnStatusPaid:
		if in.ReleaseAll {
			out.amount = w.AvailableCents
			if out.amount <= 0 {
				return out, pkgerrors.Rejected(pkgerrors.CodeConflict, pkgerrors.ReasonNothingToRelease, "no available balance to release")
			}
		}
		if err := ensureAvailable(w, out.amount); err != nil {
			return out, err
		}
		w.AvailableCents -= out.amount
		w.PaidCents += out.amount
		w.TotalDebitsCents += out.amount

	case in.Direction == enums.LedgerDirectionDebit && in.Status == enums.WalletTxnStatusAvailable:
		if err := ensureAvailable(w, out.amount); err != nil {
			return out, err
		}
		w.AvailableCents -= out.amount
		w.TotalDebitsCents += out.amount

	default:
		return out, pkgerrors.New(pkgerrors.CodeValidation, "unsupported direction/status combination").
			WithDetails(map[string]any{"direction": in.Direction, "status": in.Status})
	}

	at = at.UTC()
	w.LastTransactionAt = &at
	return out, nil
}

func ensureAvailable(w *models.VendorWallet, amount int64) error {
	if amount > w.AvailableCents {
		return pkgerrors.Rejected(pkgerrors.CodeConflict, pkgerrors.ReasonInsufficientAvailable, "amount exceeds available balance").
			WithDetails(map[string]any{
				"requested_cents": amount,
				"available_cents": w.AvailableCents,
			})
	}
	return nil
}
