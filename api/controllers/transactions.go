package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/circulation"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// TransactionsService is the desk-facing loan surface of the coordinator.
type TransactionsService interface {
	BorrowByBarcode(ctx context.Context, barcode string, studentID uuid.UUID) (*circulation.Transaction, error)
	ReturnByBarcode(ctx context.Context, barcode string, condition *enums.CopyCondition) (*circulation.ReturnOutcome, error)
	Renew(ctx context.Context, loanID uuid.UUID) (*circulation.Transaction, error)
	CanRenew(ctx context.Context, loanID uuid.UUID) (*loans.RenewCheck, error)
	ReportLost(ctx context.Context, loanID uuid.UUID) (*circulation.Transaction, error)
	GetTransaction(ctx context.Context, loanID uuid.UUID) (*circulation.Transaction, error)
	ListOverdue(ctx context.Context, params pagination.Params) (pagination.Page[loans.OverdueLoan], error)
	ScanLookup(ctx context.Context, barcode string) (*circulation.ScanResult, error)
}

type borrowRequest struct {
	Barcode   string `json:"barcode" validate:"required,max=64"`
	StudentID string `json:"student_id" validate:"required,uuid"`
}

type returnRequest struct {
	Barcode   string  `json:"barcode" validate:"required,max=64"`
	Condition *string `json:"condition,omitempty" validate:"omitempty,max=16"`
}

func BorrowByBarcode(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body borrowRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		studentID, err := uuid.Parse(body.StudentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid student_id"))
			return
		}

		tx, err := svc.BorrowByBarcode(r.Context(), validators.SanitizeString(body.Barcode, 64), studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, transactionDTO(*tx, time.Now().UTC()))
	}
}

func ReturnByBarcode(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body returnRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var condition *enums.CopyCondition
		if body.Condition != nil {
			parsed, err := enums.ParseCopyCondition(strings.TrimSpace(*body.Condition))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid condition"))
				return
			}
			condition = &parsed
		}

		outcome, err := svc.ReturnByBarcode(r.Context(), validators.SanitizeString(body.Barcode, 64), condition)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, returnDTO(*outcome, time.Now().UTC()))
	}
}

func RenewTransaction(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return transactionAction(logg, svc.Renew)
}

func ReportLost(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return transactionAction(logg, svc.ReportLost)
}

func GetTransaction(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return transactionAction(logg, svc.GetTransaction)
}

func transactionAction(logg *logger.Logger, action func(context.Context, uuid.UUID) (*circulation.Transaction, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		tx, err := action(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, transactionDTO(*tx, time.Now().UTC()))
	}
}

func CanRenew(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		loanID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		check, err := svc.CanRenew(r.Context(), loanID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, check)
	}
}

// ListOverdue pages active loans past due, oldest due date first.
func ListOverdue(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		params := pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		}

		page, err := svc.ListOverdue(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		now := time.Now().UTC()
		out := PageDTO[OverdueDTO]{Items: make([]OverdueDTO, 0, len(page.Items)), NextCursor: page.NextCursor}
		for _, item := range page.Items {
			out.Items = append(out.Items, overdueDTO(item, now))
		}
		responses.WriteSuccess(w, out)
	}
}

func ScanLookup(svc TransactionsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		barcode := validators.SanitizeString(r.URL.Query().Get("barcode"), 64)
		if barcode == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required"))
			return
		}
		scan, err := svc.ScanLookup(r.Context(), barcode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, scanDTO(*scan))
	}
}
