package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// FinesService settles fines. A fine id is the id of the loan that carries it.
type FinesService interface {
	CurrentFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error)
	PayFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error)
	WaiveFine(ctx context.Context, fineID uuid.UUID) (*loans.FineView, error)
}

func GetFine(svc FinesService, logg *logger.Logger) http.HandlerFunc {
	return fineAction(logg, svc.CurrentFine)
}

func PayFine(svc FinesService, logg *logger.Logger) http.HandlerFunc {
	return fineAction(logg, svc.PayFine)
}

func WaiveFine(svc FinesService, logg *logger.Logger) http.HandlerFunc {
	return fineAction(logg, svc.WaiveFine)
}

func fineAction(logg *logger.Logger, action func(context.Context, uuid.UUID) (*loans.FineView, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fineID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := action(r.Context(), fineID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}
