package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/internal/payouts"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
)

const maxNoteLength = 1000

type payoutRequest struct {
	AmountCents      *int64 `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
	Amount           string `json:"amount,omitempty"`
	Method           string `json:"method" validate:"required,payout_method"`
	Reference        string `json:"reference,omitempty" validate:"max=200"`
	IdempotencyToken string `json:"idempotency_token,omitempty" validate:"max=200"`
	Note             string `json:"note,omitempty"`
}

type payoutFailedRequest struct {
	AmountCents      *int64 `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
	Amount           string `json:"amount,omitempty"`
	Method           string `json:"method" validate:"required,payout_method"`
	Reference        string `json:"reference,omitempty" validate:"max=200"`
	IdempotencyToken string `json:"idempotency_token,omitempty" validate:"max=200"`
	Reason           string `json:"reason" validate:"required,max=500"`
}

type adjustmentRequest struct {
	Direction   string `json:"direction" validate:"required,direction"`
	AmountCents *int64 `json:"amount_cents,omitempty" validate:"omitempty,gt=0"`
	Amount      string `json:"amount,omitempty"`
	Reference   string `json:"reference" validate:"required,max=200"`
	Note        string `json:"note,omitempty"`
}

// VendorPayoutRelease debits available funds as paid out. Omitting the
// amount releases the whole available balance.
func VendorPayoutRelease(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		who, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req payoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		amount, err := resolveAmount(req.AmountCents, req.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		method, err := enums.ParsePayoutMethod(req.Method)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout method"))
			return
		}

		result, err := svc.Release(ctx, payouts.ReleaseInput{
			VendorID:         vendorID,
			AmountCents:      amount,
			Method:           method,
			Reference:        req.Reference,
			IdempotencyToken: req.IdempotencyToken,
			Note:             validators.SanitizeString(req.Note, maxNoteLength),
			ActorID:          who.UserID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writePayoutResult(w, result)
	}
}

// VendorPayoutFailed records a payout attempt that never left the platform.
// Balances do not move.
func VendorPayoutFailed(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		who, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req payoutFailedRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		amount, err := resolveAmount(req.AmountCents, req.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if amount == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount_cents or amount is required"))
			return
		}
		method, err := enums.ParsePayoutMethod(req.Method)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid payout method"))
			return
		}

		result, err := svc.LogFailed(ctx, payouts.FailedInput{
			VendorID:         vendorID,
			AmountCents:      *amount,
			Method:           method,
			Reference:        req.Reference,
			IdempotencyToken: req.IdempotencyToken,
			Reason:           validators.SanitizeString(req.Reason, maxReasonLength),
			ActorID:          who.UserID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writePayoutResult(w, result)
	}
}

// VendorAdjustment credits or debits available funds under a unique
// reference.
func VendorAdjustment(svc payouts.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		who, err := actorFromRequest(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req adjustmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		amount, err := resolveAmount(req.AmountCents, req.Amount)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if amount == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "amount_cents or amount is required"))
			return
		}
		direction, err := enums.ParseLedgerDirection(req.Direction)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid direction"))
			return
		}

		result, err := svc.Adjust(ctx, payouts.AdjustInput{
			VendorID:    vendorID,
			Direction:   direction,
			AmountCents: *amount,
			Reference:   req.Reference,
			Note:        validators.SanitizeString(req.Note, maxNoteLength),
			ActorID:     who.UserID,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		writePayoutResult(w, result)
	}
}

// A replayed ledger entry answers 200 with the original transaction.
func writePayoutResult(w http.ResponseWriter, result *payouts.Result) {
	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	responses.WriteSuccessStatus(w, status, result)
}
