package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/circulation"
	"github.com/angelmondragon/circulation-backend/internal/reservations"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// ReservationsService is the queue surface of the coordinator. Ownership of
// self-service calls is checked there, not here.
type ReservationsService interface {
	Reserve(ctx context.Context, bookID, studentID uuid.UUID) (*circulation.ReservationView, error)
	CancelReservation(ctx context.Context, reservationID uuid.UUID) (*circulation.ReservationView, error)
	MarkReady(ctx context.Context, reservationID uuid.UUID, copyID *uuid.UUID) (*circulation.ReservationView, error)
	FulfillReservation(ctx context.Context, reservationID uuid.UUID, copyID *uuid.UUID) (*circulation.Fulfilment, error)
	QueuePosition(ctx context.Context, bookID, studentID uuid.UUID) (*reservations.Position, error)
	GetReservation(ctx context.Context, reservationID uuid.UUID) (*circulation.ReservationView, error)
}

type reserveRequest struct {
	BookID    string `json:"book_id" validate:"required,uuid"`
	StudentID string `json:"student_id" validate:"required,uuid"`
}

type copyRequest struct {
	CopyID *string `json:"copy_id,omitempty" validate:"omitempty,uuid"`
}

func CreateReservation(svc ReservationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body reserveRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		// validated by the uuid tag above
		bookID := uuid.MustParse(body.BookID)
		studentID := uuid.MustParse(body.StudentID)

		view, err := svc.Reserve(r.Context(), bookID, studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, reservationViewDTO(*view))
	}
}

func CancelReservation(svc ReservationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.CancelReservation(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reservationViewDTO(*view))
	}
}

func GetReservation(svc ReservationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.GetReservation(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reservationViewDTO(*view))
	}
}

func MarkReservationReady(svc ReservationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, copyID, err := parseCopyAction(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.MarkReady(r.Context(), id, copyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, reservationViewDTO(*view))
	}
}

func FulfillReservation(svc ReservationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, copyID, err := parseCopyAction(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.FulfillReservation(r.Context(), id, copyID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, FulfilmentDTO{
			Reservation: reservationDTO(result.Reservation, 0),
			Transaction: transactionDTO(result.Transaction, time.Now().UTC()),
		})
	}
}

func QueuePosition(svc ReservationsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		bookID, err := validators.ParseQueryUUID(r, "book_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		studentID, err := validators.ParseQueryUUID(r, "student_id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		position, err := svc.QueuePosition(r.Context(), bookID, studentID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, position)
	}
}

// parseCopyAction reads the reservation id and the optional copy_id body.
// An empty body is accepted.
func parseCopyAction(r *http.Request) (uuid.UUID, *uuid.UUID, error) {
	id, err := validators.ParseUUIDParam(r, "id")
	if err != nil {
		return uuid.Nil, nil, err
	}
	if r.ContentLength == 0 {
		return id, nil, nil
	}
	var body copyRequest
	if err := validators.DecodeJSONBody(r, &body); err != nil {
		return uuid.Nil, nil, err
	}
	if body.CopyID == nil {
		return id, nil, nil
	}
	copyID, err := uuid.Parse(*body.CopyID)
	if err != nil {
		return uuid.Nil, nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid copy_id")
	}
	return id, &copyID, nil
}
