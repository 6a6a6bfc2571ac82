package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// CopiesService is the read side of the copy registry.
type CopiesService interface {
	ListPage(ctx context.Context, params copies.ListParams) ([]models.BookCopy, *pagination.Cursor, error)
	InventoryCounts(ctx context.Context, bookID uuid.UUID) (*copies.Inventory, error)
}

// CopyIntakeService adds copies to the shelf. New copies are offered to the
// title's queue before they can be borrowed.
type CopyIntakeService interface {
	AddCopy(ctx context.Context, input copies.CreateCopyInput) (*models.BookCopy, error)
}

type createBookRequest struct {
	Title           string           `json:"title" validate:"required,max=512"`
	Author          string           `json:"author" validate:"required,max=256"`
	ISBN            string           `json:"isbn,omitempty" validate:"omitempty,max=32"`
	ReplacementCost decimal.Decimal  `json:"replacement_cost"`
	DailyFineRate   *decimal.Decimal `json:"daily_fine_rate,omitempty"`
	FineGraceDays   *int             `json:"fine_grace_days,omitempty" validate:"omitempty,min=0"`
	FineCap         *decimal.Decimal `json:"fine_cap,omitempty"`
}

type createCopyRequest struct {
	Barcode         string  `json:"barcode" validate:"required,min=3,max=64"`
	Condition       string  `json:"condition,omitempty" validate:"omitempty,max=16"`
	AcquisitionDate *string `json:"acquisition_date,omitempty"`
}

func CreateBook(svc books.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createBookRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		book, err := svc.Create(r.Context(), books.CreateBookInput{
			Title:           body.Title,
			Author:          body.Author,
			ISBN:            body.ISBN,
			ReplacementCost: body.ReplacementCost,
			DailyFineRate:   body.DailyFineRate,
			FineGraceDays:   body.FineGraceDays,
			FineCap:         body.FineCap,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, bookDTO(*book))
	}
}

func CreateCopy(svc CopyIntakeService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body createCopyRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		input := copies.CreateCopyInput{
			BookID:    bookID,
			Barcode:   body.Barcode,
			Condition: enums.CopyCondition(strings.TrimSpace(body.Condition)),
		}
		if body.AcquisitionDate != nil {
			acquired, err := time.Parse(time.DateOnly, strings.TrimSpace(*body.AcquisitionDate))
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "acquisition_date must be YYYY-MM-DD"))
				return
			}
			input.AcquisitionDate = &acquired
		}

		created, err := svc.AddCopy(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, copyDTO(*created))
	}
}

// ListCopies pages a title's copies by copy number, optionally filtered by
// a comma separated status list.
func ListCopies(bookSvc books.Service, svc CopiesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		cursor, err := pagination.ParseCursor(r.URL.Query().Get("cursor"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor"))
			return
		}
		statuses, err := parseStatuses(r.URL.Query().Get("status"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := bookSvc.Get(r.Context(), bookID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, next, err := svc.ListPage(r.Context(), copies.ListParams{
			BookID:   bookID,
			Statuses: statuses,
			Limit:    limit,
			Cursor:   cursor,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		out := PageDTO[CopyDTO]{Items: make([]CopyDTO, 0, len(rows)), NextCursor: pagination.EncodeNext(next)}
		for _, row := range rows {
			out.Items = append(out.Items, copyDTO(row))
		}
		responses.WriteSuccess(w, out)
	}
}

func BookInventory(bookSvc books.Service, svc CopiesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := bookSvc.Get(r.Context(), bookID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		inventory, err := svc.InventoryCounts(r.Context(), bookID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, inventoryDTO(*inventory))
	}
}

func parseStatuses(raw string) ([]enums.CopyStatus, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []enums.CopyStatus
	for _, part := range strings.Split(raw, ",") {
		status, err := enums.ParseCopyStatus(strings.TrimSpace(part))
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter").WithDetails(map[string]any{"field": "status"})
		}
		out = append(out, status)
	}
	return out, nil
}
