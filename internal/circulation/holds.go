package circulation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/reservations"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// ReservationView is a reservation with its derived queue position. Position
// is zero once the reservation left the queue.
type ReservationView struct {
	Reservation models.Reservation
	Position    int
}

// Fulfilment is the closed reservation and the loan it produced.
type Fulfilment struct {
	Reservation models.Reservation
	Transaction Transaction
}

// Reserve queues the student for the title.
func (c *Coordinator) Reserve(ctx context.Context, bookID, studentID uuid.UUID) (*ReservationView, error) {
	if bookID == uuid.Nil || studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book_id and student_id are required")
	}
	ctx, err := c.authorizeFor(ctx, studentID, enums.PermReservationsManage)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var entry *reservations.Entry
	err = c.run(ctx, "reserve", func(tx *gorm.DB) error {
		var err error
		entry, err = c.queue.Reserve(ctx, tx, bookID, studentID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ReservationView{Reservation: entry.Reservation, Position: entry.Position}, nil
}

// CancelReservation withdraws a pending or ready reservation.
func (c *Coordinator) CancelReservation(ctx context.Context, reservationID uuid.UUID) (*ReservationView, error) {
	existing, err := c.queue.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	ctx, err = c.authorizeFor(ctx, existing.StudentID, enums.PermReservationsManage)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var result *reservations.CancelResult
	err = c.run(ctx, "cancel_reservation", func(tx *gorm.DB) error {
		var err error
		result, err = c.queue.Cancel(ctx, tx, reservationID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ReservationView{Reservation: result.Reservation}, nil
}

// MarkReady earmarks a copy for the head of the queue by hand.
func (c *Coordinator) MarkReady(ctx context.Context, reservationID uuid.UUID, copyID *uuid.UUID) (*ReservationView, error) {
	ctx, _, err := c.authorize(ctx, enums.PermReservationsManage)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var reservation *models.Reservation
	err = c.run(ctx, "mark_ready", func(tx *gorm.DB) error {
		var err error
		reservation, err = c.queue.MarkReady(ctx, tx, reservationID, copyID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &ReservationView{Reservation: *reservation, Position: 1}, nil
}

// FulfillReservation lends the held copy to the reservation's student. A hold
// found past its pickup window is expired and reported as HOLD_EXPIRED.
func (c *Coordinator) FulfillReservation(ctx context.Context, reservationID uuid.UUID, copyID *uuid.UUID) (*Fulfilment, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationBorrow)
	if err != nil {
		return nil, err
	}
	existing, err := c.queue.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var (
		hold *models.Reservation
		loan *models.Loan
	)
	err = c.run(ctx, "fulfill_reservation", func(tx *gorm.DB) error {
		if _, err := c.queue.LockTitle(ctx, tx, existing.BookID); err != nil {
			return err
		}
		var err error
		hold, err = c.queue.GetForUpdate(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if hold.Status != enums.ReservationStatusReady {
			return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotReady, "reservation is not ready")
		}
		if copyID != nil && (hold.CopyID == nil || *hold.CopyID != *copyID) {
			return pkgerrors.New(pkgerrors.CodeValidation, "copy_id does not match the copy held for this reservation")
		}
		loan, err = c.fulfil(ctx, tx, "fulfill_reservation", hold, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	view, err := c.transaction(ctx, loan, now)
	if err != nil {
		return nil, err
	}
	return &Fulfilment{Reservation: *hold, Transaction: *view}, nil
}

// QueuePosition reports where the student stands for the title.
func (c *Coordinator) QueuePosition(ctx context.Context, bookID, studentID uuid.UUID) (*reservations.Position, error) {
	if bookID == uuid.Nil || studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book_id and student_id are required")
	}
	ctx, err := c.authorizeFor(ctx, studentID, enums.PermCirculationRead, enums.PermReservationsManage)
	if err != nil {
		return nil, err
	}
	if _, err := c.books.FindByID(ctx, bookID); err != nil {
		return nil, books.MapLookupError(err)
	}
	return c.queue.QueuePosition(ctx, bookID, studentID)
}

// GetReservation loads a reservation with its current position.
func (c *Coordinator) GetReservation(ctx context.Context, reservationID uuid.UUID) (*ReservationView, error) {
	reservation, err := c.queue.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	ctx, err = c.authorizeFor(ctx, reservation.StudentID, enums.PermCirculationRead, enums.PermReservationsManage)
	if err != nil {
		return nil, err
	}
	position, err := c.queue.PositionOf(ctx, nil, reservation)
	if err != nil {
		return nil, err
	}
	return &ReservationView{Reservation: *reservation, Position: position}, nil
}
