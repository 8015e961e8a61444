package controllers

import (
	"net/http"

	"github.com/angelmondragon/marketplace-settlement/api/middleware"
	pkgerrors "github.com/angelmondragon/marketplace-settlement/pkg/errors"
	"github.com/angelmondragon/marketplace-settlement/pkg/money"
)

func actorFromRequest(r *http.Request) (middleware.Actor, error) {
	who, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		return middleware.Actor{}, pkgerrors.New(pkgerrors.CodeUnauthorized, "authenticated actor required")
	}
	return who, nil
}

// resolveAmount accepts either integer cents or a two-decimal major-unit
// string. Supplying both is rejected; supplying neither yields nil.
func resolveAmount(cents *int64, amount string) (*int64, error) {
	if cents != nil && amount != "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "provide amount_cents or amount, not both")
	}
	if cents != nil {
		return cents, nil
	}
	if amount == "" {
		return nil, nil
	}
	parsed, err := money.ParseAmount(amount)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid amount").WithDetails(map[string]any{"field": "amount"})
	}
	return &parsed, nil
}
