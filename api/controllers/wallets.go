package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/angelmondragon/marketplace-settlement/api/responses"
	"github.com/angelmondragon/marketplace-settlement/api/validators"
	"github.com/angelmondragon/marketplace-settlement/internal/ledger"
	"github.com/angelmondragon/marketplace-settlement/internal/unlock"
	"github.com/angelmondragon/marketplace-settlement/pkg/enums"
	"github.com/angelmondragon/marketplace-settlement/pkg/logger"
	"github.com/angelmondragon/marketplace-settlement/pkg/pagination"
	"github.com/angelmondragon/marketplace-settlement/pkg/types"
)

const maxUnlockLimit = 1000

type walletReader interface {
	GetVendorWallet(ctx context.Context, query ledger.WalletQuery) (*ledger.WalletView, error)
}

type unlockRequest struct {
	Limit *int `json:"limit,omitempty" validate:"omitempty,min=1,max=1000"`
}

// WalletUnlock runs one unlock pass on demand. Per-wallet failures are
// reported on the summary; only a failure to start the run is an error.
func WalletUnlock(svc unlock.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var req unlockRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit := 0
		if req.Limit != nil {
			limit = *req.Limit
		}

		summary, err := svc.Run(ctx, limit, time.Time{})
		if summary == nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if err != nil && logg != nil {
			logg.Warn(logg.WithField(ctx, "failed", summary.Failed), "unlock run finished with failures")
		}
		responses.WriteSuccess(w, summary)
	}
}

// VendorWallet returns balances plus one page of wallet history.
func VendorWallet(store walletReader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		vendorID, err := validators.ParseUUIDParam(r, "vendorId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		page, err := validators.ParseQueryInt(r, "page", 1, 1, 1<<20)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status, err := validators.ParseQueryEnum(r, "status", enums.ParseWalletTransactionStatus)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		txnType, err := validators.ParseQueryEnum(r, "type", enums.ParseWalletTransactionType)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		view, err := store.GetVendorWallet(ctx, ledger.WalletQuery{
			VendorID: vendorID,
			Page:     page,
			Limit:    limit,
			Status:   status,
			Type:     txnType,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		params := pagination.Params{Page: view.Page, Limit: view.Limit}
		responses.WritePage(w, view, types.PageMeta{
			Page:       view.Page,
			Limit:      view.Limit,
			Total:      view.Total,
			TotalPages: params.TotalPages(view.Total),
		})
	}
}
