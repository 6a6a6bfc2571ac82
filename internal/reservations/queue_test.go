package reservations

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/students"
	"github.com/angelmondragon/circulation-backend/pkg/db/dbtest"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
)

const holdWindow = 48 * time.Hour

var t0 = time.Date(2026, 4, 6, 10, 0, 0, 0, time.UTC)

type fixture struct {
	conn  *gorm.DB
	queue *Queue
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	client, conn := dbtest.Client(t)
	queue, err := NewQueue(QueueParams{
		DB:         conn,
		Tx:         client,
		Copies:     copies.NewRegistry(conn),
		Books:      books.NewRepository(conn),
		Students:   students.NewDirectory(conn, fines.Policy{DailyRate: decimal.NewFromInt(50)}),
		Events:     outbox.NewService(outbox.NewRepository(conn), nil),
		HoldWindow: holdWindow,
		PendingTTL: 30 * 24 * time.Hour,
	})
	require.NoError(t, err)
	return &fixture{conn: conn, queue: queue}
}

func (f *fixture) reserve(t *testing.T, bookID, studentID uuid.UUID, now time.Time) (*Entry, error) {
	t.Helper()
	var entry *Entry
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = f.queue.Reserve(context.Background(), tx, bookID, studentID, now)
		return err
	})
	return entry, err
}

func (f *fixture) cancel(t *testing.T, id uuid.UUID, now time.Time) (*CancelResult, error) {
	t.Helper()
	var result *CancelResult
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.queue.Cancel(context.Background(), tx, id, now)
		return err
	})
	return result, err
}

func (f *fixture) promote(t *testing.T, bookID uuid.UUID, now time.Time) *models.Reservation {
	t.Helper()
	var promoted *models.Reservation
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		if _, err := f.queue.LockTitle(context.Background(), tx, bookID); err != nil {
			return err
		}
		var err error
		promoted, err = f.queue.PromoteNext(context.Background(), tx, bookID, nil, now)
		return err
	}))
	return promoted
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) models.Reservation {
	t.Helper()
	var reservation models.Reservation
	require.NoError(t, f.conn.Where("id = ?", id).First(&reservation).Error)
	return reservation
}

func (f *fixture) position(t *testing.T, bookID, studentID uuid.UUID) *Position {
	t.Helper()
	view, err := f.queue.QueuePosition(context.Background(), bookID, studentID)
	require.NoError(t, err)
	return view
}

func (f *fixture) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error)
	return count
}

// seedBusyTitle returns a title whose only copy is on loan.
func seedBusyTitle(t *testing.T, conn *gorm.DB) (*models.Book, *models.BookCopy) {
	t.Helper()
	book := dbtest.SeedBook(t, conn, "25.00")
	bookCopy := dbtest.SeedCopy(t, conn, book.ID, enums.CopyStatusBorrowed)
	return book, bookCopy
}

func shelve(t *testing.T, conn *gorm.DB, copyID uuid.UUID) {
	t.Helper()
	require.NoError(t, conn.Model(&models.BookCopy{}).Where("id = ?", copyID).Update("status", enums.CopyStatusAvailable).Error)
}

func TestNewQueueValidatesDependencies(t *testing.T) {
	_, err := NewQueue(QueueParams{})
	require.Error(t, err)
}

func TestReserveAssignsFIFOPositions(t *testing.T) {
	f := newFixture(t)
	book, _ := seedBusyTitle(t, f.conn)

	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		student := dbtest.SeedStudent(t, f.conn, 3)
		entry, err := f.reserve(t, book.ID, student.ID, t0.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
		assert.Equal(t, i+1, entry.Position)
		assert.Equal(t, enums.ReservationStatusPending, entry.Reservation.Status)
		require.NotNil(t, entry.Reservation.ExpiresAt)
		ids = append(ids, entry.Reservation.StudentID)
	}

	for i, studentID := range ids {
		view := f.position(t, book.ID, studentID)
		assert.True(t, view.HasReserved)
		assert.Equal(t, i+1, view.Position)
		assert.Equal(t, 3, view.TotalInQueue)
	}
}

func TestReserveRejectsDuplicates(t *testing.T) {
	f := newFixture(t)
	book, _ := seedBusyTitle(t, f.conn)
	student := dbtest.SeedStudent(t, f.conn, 3)

	_, err := f.reserve(t, book.ID, student.ID, t0)
	require.NoError(t, err)

	_, err = f.reserve(t, book.ID, student.ID, t0.Add(time.Minute))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonAlreadyReserved))
}

func TestReserveRefusedWhenCopyOnShelf(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "25.00")
	dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)

	_, err := f.reserve(t, book.ID, student.ID, t0)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCopyImmediatelyAvailable))
}

func TestReserveUnknownStudent(t *testing.T) {
	f := newFixture(t)
	book, _ := seedBusyTitle(t, f.conn)

	_, err := f.reserve(t, book.ID, uuid.New(), t0)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestCancelKeepsPositionsContiguous(t *testing.T) {
	f := newFixture(t)
	book, _ := seedBusyTitle(t, f.conn)
	first := dbtest.SeedStudent(t, f.conn, 3)
	second := dbtest.SeedStudent(t, f.conn, 3)
	third := dbtest.SeedStudent(t, f.conn, 3)

	_, err := f.reserve(t, book.ID, first.ID, t0)
	require.NoError(t, err)
	middle, err := f.reserve(t, book.ID, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	_, err = f.reserve(t, book.ID, third.ID, t0.Add(2*time.Minute))
	require.NoError(t, err)

	result, err := f.cancel(t, middle.Reservation.ID, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, enums.ReservationStatusCancelled, result.Reservation.Status)
	assert.Nil(t, result.Promoted)

	assert.Equal(t, 1, f.position(t, book.ID, first.ID).Position)
	view := f.position(t, book.ID, third.ID)
	assert.Equal(t, 2, view.Position)
	assert.Equal(t, 2, view.TotalInQueue)
	assert.False(t, f.position(t, book.ID, second.ID).HasReserved)

	_, err = f.cancel(t, middle.Reservation.ID, t0.Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNotCancellable))
}

func TestPromoteNextEarmarksCopyForHead(t *testing.T) {
	f := newFixture(t)
	book, bookCopy := seedBusyTitle(t, f.conn)
	first := dbtest.SeedStudent(t, f.conn, 3)
	second := dbtest.SeedStudent(t, f.conn, 3)
	head, err := f.reserve(t, book.ID, first.ID, t0)
	require.NoError(t, err)
	_, err = f.reserve(t, book.ID, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)

	assert.Nil(t, f.promote(t, book.ID, t0.Add(time.Hour)), "nothing on the shelf yet")

	shelve(t, f.conn, bookCopy.ID)
	now := t0.Add(2 * time.Hour)
	promoted := f.promote(t, book.ID, now)
	require.NotNil(t, promoted)
	assert.Equal(t, head.Reservation.ID, promoted.ID)

	stored := f.reload(t, head.Reservation.ID)
	assert.Equal(t, enums.ReservationStatusReady, stored.Status)
	require.NotNil(t, stored.CopyID)
	assert.Equal(t, bookCopy.ID, *stored.CopyID)
	require.NotNil(t, stored.ExpiresAt)
	assert.True(t, stored.ExpiresAt.Equal(now.Add(holdWindow)))
	assert.Equal(t, enums.CopyStatusReserved, dbtest.ReloadCopy(t, f.conn, bookCopy.ID).Status)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventReservationReady))

	// a ready hold still occupies position one
	assert.Equal(t, 1, f.position(t, book.ID, first.ID).Position)
	assert.Equal(t, 2, f.position(t, book.ID, second.ID).Position)
}

func TestCancellingReadyHoldPassesCopyOn(t *testing.T) {
	f := newFixture(t)
	book, bookCopy := seedBusyTitle(t, f.conn)
	first := dbtest.SeedStudent(t, f.conn, 3)
	second := dbtest.SeedStudent(t, f.conn, 3)
	head, err := f.reserve(t, book.ID, first.ID, t0)
	require.NoError(t, err)
	next, err := f.reserve(t, book.ID, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	shelve(t, f.conn, bookCopy.ID)
	require.NotNil(t, f.promote(t, book.ID, t0.Add(time.Hour)))

	result, err := f.cancel(t, head.Reservation.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	require.NotNil(t, result.Promoted)
	assert.Equal(t, next.Reservation.ID, result.Promoted.ID)

	stored := f.reload(t, next.Reservation.ID)
	assert.Equal(t, enums.ReservationStatusReady, stored.Status)
	require.NotNil(t, stored.CopyID)
	assert.Equal(t, bookCopy.ID, *stored.CopyID)
	assert.Equal(t, enums.CopyStatusReserved, dbtest.ReloadCopy(t, f.conn, bookCopy.ID).Status)
	assert.Equal(t, 1, f.position(t, book.ID, second.ID).Position)
}

func TestMarkReadyChecksStateAndHead(t *testing.T) {
	f := newFixture(t)
	book, bookCopy := seedBusyTitle(t, f.conn)
	first := dbtest.SeedStudent(t, f.conn, 3)
	second := dbtest.SeedStudent(t, f.conn, 3)
	head, err := f.reserve(t, book.ID, first.ID, t0)
	require.NoError(t, err)
	tail, err := f.reserve(t, book.ID, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)

	markReady := func(id uuid.UUID, copyID *uuid.UUID) error {
		return f.conn.Transaction(func(tx *gorm.DB) error {
			_, err := f.queue.MarkReady(context.Background(), tx, id, copyID, t0.Add(time.Hour))
			return err
		})
	}

	err = markReady(head.Reservation.ID, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCopyNotAvailable))

	shelve(t, f.conn, bookCopy.ID)
	err = markReady(tail.Reservation.ID, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNotQueueHead))

	require.NoError(t, markReady(head.Reservation.ID, &bookCopy.ID))
	assert.Equal(t, enums.ReservationStatusReady, f.reload(t, head.Reservation.ID).Status)

	err = markReady(head.Reservation.ID, nil)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNotPending))
}

func TestExpireReadyHoldsPromotesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	book, bookCopy := seedBusyTitle(t, f.conn)
	first := dbtest.SeedStudent(t, f.conn, 3)
	second := dbtest.SeedStudent(t, f.conn, 3)
	head, err := f.reserve(t, book.ID, first.ID, t0)
	require.NoError(t, err)
	next, err := f.reserve(t, book.ID, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	shelve(t, f.conn, bookCopy.ID)
	require.NotNil(t, f.promote(t, book.ID, t0.Add(time.Hour)))

	// still inside the pickup window
	result, err := f.queue.ExpireReadyHolds(context.Background(), t0.Add(time.Hour+holdWindow))
	require.NoError(t, err)
	assert.Equal(t, ExpiryResult{}, result)

	sweepAt := t0.Add(time.Hour + holdWindow + time.Minute)
	result, err = f.queue.ExpireReadyHolds(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, ExpiryResult{ExpiredReady: 1, Promoted: 1}, result)

	assert.Equal(t, enums.ReservationStatusExpired, f.reload(t, head.Reservation.ID).Status)
	promoted := f.reload(t, next.Reservation.ID)
	assert.Equal(t, enums.ReservationStatusReady, promoted.Status)
	require.NotNil(t, promoted.CopyID)
	assert.Equal(t, bookCopy.ID, *promoted.CopyID)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventReservationExpired))

	result, err = f.queue.ExpireReadyHolds(context.Background(), sweepAt)
	require.NoError(t, err)
	assert.Equal(t, ExpiryResult{}, result)
	assert.Equal(t, int64(1), f.countEvents(t, enums.EventReservationExpired))
}

func TestExpireReadyHoldsDropsStalePending(t *testing.T) {
	f := newFixture(t)
	book, _ := seedBusyTitle(t, f.conn)
	student := dbtest.SeedStudent(t, f.conn, 3)
	entry, err := f.reserve(t, book.ID, student.ID, t0)
	require.NoError(t, err)

	result, err := f.queue.ExpireReadyHolds(context.Background(), entry.Reservation.ExpiresAt.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, ExpiryResult{ExpiredPending: 1}, result)
	assert.Equal(t, enums.ReservationStatusExpired, f.reload(t, entry.Reservation.ID).Status)
}

func TestReearmarkFallsBackToPending(t *testing.T) {
	f := newFixture(t)
	book, bookCopy := seedBusyTitle(t, f.conn)
	first := dbtest.SeedStudent(t, f.conn, 3)
	second := dbtest.SeedStudent(t, f.conn, 3)
	head, err := f.reserve(t, book.ID, first.ID, t0)
	require.NoError(t, err)
	_, err = f.reserve(t, book.ID, second.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	shelve(t, f.conn, bookCopy.ID)
	require.NotNil(t, f.promote(t, book.ID, t0.Add(time.Hour)))

	// the earmarked copy goes missing
	require.NoError(t, f.conn.Model(&models.BookCopy{}).Where("id = ?", bookCopy.ID).Update("status", enums.CopyStatusLost).Error)

	var result *ReearmarkResult
	require.NoError(t, f.conn.Transaction(func(tx *gorm.DB) error {
		reservation, err := f.queue.GetForUpdate(context.Background(), tx, head.Reservation.ID)
		if err != nil {
			return err
		}
		result, err = f.queue.Reearmark(context.Background(), tx, reservation, t0.Add(2*time.Hour))
		return err
	}))
	assert.Nil(t, result.Copy)
	assert.Equal(t, enums.ReservationStatusPending, result.Reservation.Status)

	stored := f.reload(t, head.Reservation.ID)
	assert.Equal(t, enums.ReservationStatusPending, stored.Status)
	assert.Nil(t, stored.CopyID)
	assert.Equal(t, 1, f.position(t, book.ID, first.ID).Position)
}

func TestHoldLapsed(t *testing.T) {
	deadline := t0.Add(holdWindow)
	ready := &models.Reservation{Status: enums.ReservationStatusReady, ExpiresAt: &deadline}
	assert.False(t, HoldLapsed(ready, deadline))
	assert.True(t, HoldLapsed(ready, deadline.Add(time.Second)))

	pending := &models.Reservation{Status: enums.ReservationStatusPending, ExpiresAt: &deadline}
	assert.False(t, HoldLapsed(pending, deadline.Add(time.Second)))
}
