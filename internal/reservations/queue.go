package reservations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/students"
	pkgdb "github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
	"github.com/angelmondragon/circulation-backend/pkg/metrics"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
)

const defaultSweepBatch = 200

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// QueueParams wires the queue's collaborators.
type QueueParams struct {
	DB         *gorm.DB
	Tx         txRunner
	Copies     *copies.Registry
	Books      *books.Repository
	Students   *students.Directory
	Events     eventEmitter
	Logger     *logger.Logger
	Metrics    *metrics.CirculationMetrics
	HoldWindow time.Duration
	PendingTTL time.Duration
	SweepBatch int
}

// Queue keeps one FIFO waiting list per title. Every mutation expects the
// caller's transaction and takes the title row lock before touching rows.
type Queue struct {
	db         *gorm.DB
	tx         txRunner
	repo       *Repository
	copies     *copies.Registry
	books      *books.Repository
	students   *students.Directory
	events     eventEmitter
	logg       *logger.Logger
	metrics    *metrics.CirculationMetrics
	holdWindow time.Duration
	pendingTTL time.Duration
	sweepBatch int
}

func NewQueue(params QueueParams) (*Queue, error) {
	if params.DB == nil {
		return nil, errors.New("db required")
	}
	if params.Tx == nil {
		return nil, errors.New("transaction runner required")
	}
	if params.Copies == nil {
		return nil, errors.New("copy registry required")
	}
	if params.Books == nil {
		return nil, errors.New("books repository required")
	}
	if params.Students == nil {
		return nil, errors.New("student directory required")
	}
	if params.Events == nil {
		return nil, errors.New("event emitter required")
	}
	if params.HoldWindow <= 0 {
		return nil, errors.New("hold window must be positive")
	}
	batch := params.SweepBatch
	if batch <= 0 {
		batch = defaultSweepBatch
	}
	return &Queue{
		db:         params.DB,
		tx:         params.Tx,
		repo:       NewRepository(params.DB),
		copies:     params.Copies,
		books:      params.Books,
		students:   params.Students,
		events:     params.Events,
		logg:       params.Logger,
		metrics:    params.Metrics,
		holdWindow: params.HoldWindow,
		pendingTTL: params.PendingTTL,
		sweepBatch: batch,
	}, nil
}

// Entry is a reservation with its derived queue position.
type Entry struct {
	Reservation models.Reservation
	Position    int
}

// Position describes where a student stands in a title's queue.
type Position struct {
	Position      int        `json:"position"`
	TotalInQueue  int        `json:"total_in_queue"`
	HasReserved   bool       `json:"has_reserved"`
	ReservationID *uuid.UUID `json:"reservation_id,omitempty"`
	Status        string     `json:"status,omitempty"`
}

// CancelResult carries the cancelled row and whoever moved up to ready.
type CancelResult struct {
	Reservation models.Reservation
	Promoted    *models.Reservation
}

// ExpiryResult summarizes one sweep.
type ExpiryResult struct {
	ExpiredReady   int
	ExpiredPending int
	Promoted       int
}

// ReearmarkResult reports how a fulfilment that lost its copy was recovered.
type ReearmarkResult struct {
	Copy        *models.BookCopy
	Reservation models.Reservation
}

// LockTitle takes the per-title queue lock.
func (q *Queue) LockTitle(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (*models.Book, error) {
	book, err := q.books.WithTx(tx).LockForUpdate(ctx, bookID)
	if err != nil {
		return nil, books.MapLookupError(err)
	}
	return book, nil
}

// Get loads a reservation.
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	return q.lookup(ctx, nil, id)
}

func (q *Queue) lookup(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := q.repo.WithTx(tx).FindByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return reservation, nil
}

// GetForUpdate locks and reloads a reservation. Call after LockTitle.
func (q *Queue) GetForUpdate(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*models.Reservation, error) {
	reservation, err := q.repo.WithTx(tx).LockByID(ctx, id)
	if err != nil {
		return nil, mapLookupError(err)
	}
	return reservation, nil
}

// Reserve appends the student to the title's queue.
func (q *Queue) Reserve(ctx context.Context, tx *gorm.DB, bookID, studentID uuid.UUID, now time.Time) (*Entry, error) {
	now = normalizeNow(now)
	if _, err := q.LockTitle(ctx, tx, bookID); err != nil {
		return nil, err
	}
	if _, err := q.students.WithTx(tx).Get(ctx, studentID); err != nil {
		return nil, err
	}

	repo := q.repo.WithTx(tx)
	existing, err := repo.FindOpen(ctx, bookID, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check open reservation")
	}
	if existing != nil {
		return nil, alreadyReserved()
	}

	queued, err := repo.CountQueued(ctx, bookID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count queue")
	}
	if queued == 0 {
		available, err := q.copies.WithTx(tx).CountAvailable(ctx, bookID)
		if err != nil {
			return nil, err
		}
		if available > 0 {
			return nil, pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonCopyImmediatelyAvailable, "a copy is available to borrow now")
		}
	}

	reservation := &models.Reservation{
		BookID:     bookID,
		StudentID:  studentID,
		Status:     enums.ReservationStatusPending,
		ReservedAt: now,
	}
	if q.pendingTTL > 0 {
		deadline := now.Add(q.pendingTTL)
		reservation.ExpiresAt = &deadline
	}
	if err := repo.Create(ctx, reservation); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, alreadyReserved()
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create reservation")
	}
	return &Entry{Reservation: *reservation, Position: int(queued) + 1}, nil
}

// Cancel withdraws a pending or ready reservation. A ready hold gives its copy
// back to the queue.
func (q *Queue) Cancel(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, now time.Time) (*CancelResult, error) {
	now = normalizeNow(now)
	current, err := q.lookup(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if _, err := q.LockTitle(ctx, tx, current.BookID); err != nil {
		return nil, err
	}
	reservation, err := q.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if !reservation.Status.IsQueued() {
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotCancellable, "reservation can no longer be cancelled")
	}

	releasedCopy := reservation.CopyID
	reservation.Status = enums.ReservationStatusCancelled
	reservation.CancelledAt = &now
	reservation.CopyID = nil
	if err := q.repo.WithTx(tx).Update(ctx, reservation.ID, map[string]any{
		"status":       reservation.Status,
		"cancelled_at": now,
		"copy_id":      nil,
		"updated_at":   now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel reservation")
	}

	result := &CancelResult{Reservation: *reservation}
	if releasedCopy != nil {
		promoted, err := q.releaseAndPromote(ctx, tx, reservation.BookID, *releasedCopy, now)
		if err != nil {
			return nil, err
		}
		result.Promoted = promoted
	}
	return result, nil
}

// PromoteNext earmarks an available copy for the oldest pending reservation of
// the title. It does nothing when nobody waits or no copy is on the shelf.
// The caller must hold the title lock.
func (q *Queue) PromoteNext(ctx context.Context, tx *gorm.DB, bookID uuid.UUID, preferredCopyID *uuid.UUID, now time.Time) (*models.Reservation, error) {
	now = normalizeNow(now)
	head, err := q.repo.WithTx(tx).Head(ctx, bookID, enums.ReservationStatusPending)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load queue head")
	}
	if head == nil {
		return nil, nil
	}
	bookCopy, err := q.copies.WithTx(tx).FindAvailable(ctx, bookID, preferredCopyID)
	if err != nil {
		return nil, err
	}
	if bookCopy == nil {
		return nil, nil
	}
	if err := q.earmark(ctx, tx, head, bookCopy.ID, now); err != nil {
		return nil, err
	}
	return head, nil
}

// MarkReady promotes the queue head by hand, optionally with a chosen copy.
func (q *Queue) MarkReady(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, copyID *uuid.UUID, now time.Time) (*models.Reservation, error) {
	now = normalizeNow(now)
	current, err := q.lookup(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if _, err := q.LockTitle(ctx, tx, current.BookID); err != nil {
		return nil, err
	}
	reservation, err := q.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		return nil, err
	}
	if reservation.Status != enums.ReservationStatusPending {
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotPending, "reservation is not pending")
	}
	head, err := q.repo.WithTx(tx).Head(ctx, reservation.BookID, enums.ReservationStatusPending)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load queue head")
	}
	if head == nil || head.ID != reservation.ID {
		return nil, pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonNotQueueHead, "reservation is not at the head of the queue")
	}

	registry := q.copies.WithTx(tx)
	var target uuid.UUID
	if copyID != nil {
		bookCopy, err := registry.Get(ctx, *copyID)
		if err != nil {
			return nil, err
		}
		if bookCopy.BookID != reservation.BookID {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "copy belongs to another title")
		}
		target = bookCopy.ID
	} else {
		bookCopy, err := registry.FindAvailable(ctx, reservation.BookID, nil)
		if err != nil {
			return nil, err
		}
		if bookCopy == nil {
			return nil, pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonCopyNotAvailable, "no copy of this title is available")
		}
		target = bookCopy.ID
	}
	if err := q.earmark(ctx, tx, reservation, target, now); err != nil {
		return nil, err
	}
	return reservation, nil
}

// ReadyForCopy returns the ready reservation holding the copy, or nil.
func (q *Queue) ReadyForCopy(ctx context.Context, tx *gorm.DB, copyID uuid.UUID) (*models.Reservation, error) {
	reservation, err := q.repo.WithTx(tx).FindReadyForCopy(ctx, copyID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load hold for copy")
	}
	return reservation, nil
}

// HoldLapsed reports whether a ready hold is past its pickup window.
func HoldLapsed(reservation *models.Reservation, now time.Time) bool {
	return reservation.Status == enums.ReservationStatusReady &&
		reservation.ExpiresAt != nil &&
		now.After(*reservation.ExpiresAt)
}

// MarkFulfilled closes a ready reservation after its copy was borrowed.
func (q *Queue) MarkFulfilled(ctx context.Context, tx *gorm.DB, reservation *models.Reservation, copyID uuid.UUID, now time.Time) error {
	now = normalizeNow(now)
	if reservation.Status != enums.ReservationStatusReady {
		return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotReady, "reservation is not ready")
	}
	reservation.Status = enums.ReservationStatusFulfilled
	reservation.FulfilledAt = &now
	reservation.CopyID = &copyID
	err := q.repo.WithTx(tx).Update(ctx, reservation.ID, map[string]any{
		"status":       reservation.Status,
		"fulfilled_at": now,
		"copy_id":      copyID,
		"updated_at":   now,
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fulfil reservation")
	}
	return nil
}

// Reearmark moves a ready reservation whose copy was lost to another available
// copy. When none is left the reservation goes back to pending and keeps its
// place, since reserved_at is unchanged.
func (q *Queue) Reearmark(ctx context.Context, tx *gorm.DB, reservation *models.Reservation, now time.Time) (*ReearmarkResult, error) {
	now = normalizeNow(now)
	bookCopy, err := q.copies.WithTx(tx).FindAvailable(ctx, reservation.BookID, nil)
	if err != nil {
		return nil, err
	}
	repo := q.repo.WithTx(tx)
	if bookCopy != nil {
		if err := q.copies.WithTx(tx).TransitionStatus(ctx, bookCopy.ID, enums.CopyStatusAvailable, enums.CopyStatusReserved); err != nil {
			return nil, err
		}
		bookCopy.Status = enums.CopyStatusReserved
		reservation.CopyID = &bookCopy.ID
		if err := repo.Update(ctx, reservation.ID, map[string]any{
			"copy_id":    bookCopy.ID,
			"updated_at": now,
		}); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "re-earmark reservation")
		}
		return &ReearmarkResult{Copy: bookCopy, Reservation: *reservation}, nil
	}

	reservation.Status = enums.ReservationStatusPending
	reservation.CopyID = nil
	reservation.NotifiedAt = nil
	reservation.ExpiresAt = q.pendingDeadline(reservation.ReservedAt, now)
	if err := repo.Update(ctx, reservation.ID, map[string]any{
		"status":      reservation.Status,
		"copy_id":     nil,
		"notified_at": nil,
		"expires_at":  reservation.ExpiresAt,
		"updated_at":  now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue reservation")
	}
	return &ReearmarkResult{Reservation: *reservation}, nil
}

// ExpireHold expires a single lapsed row under the title lock, releasing its
// copy and promoting the next entry. It reports whether the row changed.
func (q *Queue) ExpireHold(ctx context.Context, tx *gorm.DB, reservationID uuid.UUID, now time.Time) (bool, *models.Reservation, error) {
	now = normalizeNow(now)
	current, err := q.lookup(ctx, tx, reservationID)
	if err != nil {
		return false, nil, err
	}
	if _, err := q.LockTitle(ctx, tx, current.BookID); err != nil {
		return false, nil, err
	}
	reservation, err := q.GetForUpdate(ctx, tx, reservationID)
	if err != nil {
		return false, nil, err
	}
	if !reservation.Status.IsQueued() || reservation.ExpiresAt == nil || !now.After(*reservation.ExpiresAt) {
		return false, nil, nil
	}

	previous := reservation.Status
	releasedCopy := reservation.CopyID
	reservation.Status = enums.ReservationStatusExpired
	reservation.CopyID = nil
	if err := q.repo.WithTx(tx).Update(ctx, reservation.ID, map[string]any{
		"status":     reservation.Status,
		"copy_id":    nil,
		"updated_at": now,
	}); err != nil {
		return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "expire reservation")
	}

	err = q.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationExpired,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservation.ID,
		OccurredAt:    now,
		Data: payloads.ReservationExpiredEvent{
			ReservationID:  reservation.ID,
			BookID:         reservation.BookID,
			StudentID:      reservation.StudentID,
			PreviousStatus: previous.String(),
			ReleasedCopyID: releasedCopy,
			ExpiredAt:      now,
		},
	})
	if err != nil {
		return false, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit reservation expired")
	}
	q.metrics.AddExpiries(previous.String(), 1)

	var promoted *models.Reservation
	if releasedCopy != nil {
		promoted, err = q.releaseAndPromote(ctx, tx, reservation.BookID, *releasedCopy, now)
		if err != nil {
			return false, nil, err
		}
	}
	return true, promoted, nil
}

// ExpireReadyHolds sweeps every lapsed ready hold and stale pending request.
// Each row is handled in its own transaction; failures are collected and the
// sweep carries on. Re-running it is harmless.
func (q *Queue) ExpireReadyHolds(ctx context.Context, now time.Time) (ExpiryResult, error) {
	now = normalizeNow(now)
	var result ExpiryResult
	lapsed, err := q.repo.ListLapsed(ctx, now, q.sweepBatch)
	if err != nil {
		return result, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list lapsed reservations")
	}

	var errs error
	for _, row := range lapsed {
		var (
			changed  bool
			promoted *models.Reservation
		)
		err := q.tx.WithTx(ctx, func(tx *gorm.DB) error {
			var err error
			changed, promoted, err = q.ExpireHold(ctx, tx, row.ID, now)
			return err
		})
		if err != nil {
			errs = multierr.Append(errs, err)
			if q.logg != nil {
				logCtx := q.logg.WithField(ctx, "reservation_id", row.ID.String())
				q.logg.Error(logCtx, "expire reservation failed", err)
			}
			continue
		}
		if !changed {
			continue
		}
		if row.Status == enums.ReservationStatusReady {
			result.ExpiredReady++
		} else {
			result.ExpiredPending++
		}
		if promoted != nil {
			result.Promoted++
		}
	}
	return result, errs
}

// QueuePosition reports the student's place in the title's queue.
func (q *Queue) QueuePosition(ctx context.Context, bookID, studentID uuid.UUID) (*Position, error) {
	total, err := q.repo.CountQueued(ctx, bookID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count queue")
	}
	view := &Position{TotalInQueue: int(total)}
	open, err := q.repo.FindOpen(ctx, bookID, studentID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
	}
	if open == nil {
		return view, nil
	}
	ahead, err := q.repo.CountAhead(ctx, open)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rank reservation")
	}
	view.HasReserved = true
	view.Position = int(ahead) + 1
	view.ReservationID = &open.ID
	view.Status = open.Status.String()
	return view, nil
}

// PositionOf returns the derived position of a queued reservation, or 0.
func (q *Queue) PositionOf(ctx context.Context, tx *gorm.DB, reservation *models.Reservation) (int, error) {
	if !reservation.Status.IsQueued() {
		return 0, nil
	}
	ahead, err := q.repo.WithTx(tx).CountAhead(ctx, reservation)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "rank reservation")
	}
	return int(ahead) + 1, nil
}

func (q *Queue) earmark(ctx context.Context, tx *gorm.DB, reservation *models.Reservation, copyID uuid.UUID, now time.Time) error {
	if err := q.copies.WithTx(tx).TransitionStatus(ctx, copyID, enums.CopyStatusAvailable, enums.CopyStatusReserved); err != nil {
		return err
	}
	expires := now.Add(q.holdWindow)
	reservation.Status = enums.ReservationStatusReady
	reservation.NotifiedAt = &now
	reservation.ExpiresAt = &expires
	reservation.CopyID = &copyID
	if err := q.repo.WithTx(tx).Update(ctx, reservation.ID, map[string]any{
		"status":      reservation.Status,
		"notified_at": now,
		"expires_at":  expires,
		"copy_id":     copyID,
		"updated_at":  now,
	}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark reservation ready")
	}

	err := q.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventReservationReady,
		AggregateType: enums.AggregateReservation,
		AggregateID:   reservation.ID,
		OccurredAt:    now,
		Data: payloads.ReservationReadyEvent{
			ReservationID: reservation.ID,
			BookID:        reservation.BookID,
			StudentID:     reservation.StudentID,
			CopyID:        copyID,
			NotifiedAt:    now,
			ExpiresAt:     expires,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit reservation ready")
	}
	q.metrics.AddPromotions(1)
	return nil
}

func (q *Queue) releaseAndPromote(ctx context.Context, tx *gorm.DB, bookID, copyID uuid.UUID, now time.Time) (*models.Reservation, error) {
	if err := q.copies.WithTx(tx).TransitionStatus(ctx, copyID, enums.CopyStatusReserved, enums.CopyStatusAvailable); err != nil {
		return nil, err
	}
	return q.PromoteNext(ctx, tx, bookID, &copyID, now)
}

func (q *Queue) pendingDeadline(reservedAt, now time.Time) *time.Time {
	if q.pendingTTL <= 0 {
		return nil
	}
	deadline := reservedAt.Add(q.pendingTTL)
	if deadline.Before(now) {
		deadline = now.Add(q.holdWindow)
	}
	return &deadline
}

func alreadyReserved() error {
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonAlreadyReserved, "student already has an open reservation for this title")
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load reservation")
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}
