package reservations

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Repository persists reservations. Queue order is (reserved_at, id).
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx returns a repository bound to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

func (r *Repository) Create(ctx context.Context, reservation *models.Reservation) error {
	return r.db.WithContext(ctx).Create(reservation).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&reservation).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// LockByID reads the reservation FOR UPDATE.
func (r *Repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	var reservation models.Reservation
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&reservation).Error
	if err != nil {
		return nil, err
	}
	return &reservation, nil
}

// FindOpen returns the student's pending or ready reservation for the title.
func (r *Repository) FindOpen(ctx context.Context, bookID, studentID uuid.UUID) (*models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND student_id = ? AND status IN ?", bookID, studentID, enums.QueuedReservationStatuses).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Head returns the oldest row of the title in the given status, or nil.
func (r *Repository) Head(ctx context.Context, bookID uuid.UUID, status enums.ReservationStatus) (*models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("book_id = ? AND status = ?", bookID, status).
		Order("reserved_at ASC").
		Order("id ASC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// CountQueued counts the title's pending and ready rows.
func (r *Repository) CountQueued(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND status IN ?", bookID, enums.QueuedReservationStatuses).
		Count(&count).Error
	return count, err
}

// CountAhead counts queued rows of the title ordered before the given row.
func (r *Repository) CountAhead(ctx context.Context, reservation *models.Reservation) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND status IN ?", reservation.BookID, enums.QueuedReservationStatuses).
		Where("(reserved_at < ?) OR (reserved_at = ? AND id < ?)", reservation.ReservedAt, reservation.ReservedAt, reservation.ID).
		Count(&count).Error
	return count, err
}

// FindReadyForCopy returns the ready reservation holding the copy, or nil.
func (r *Repository) FindReadyForCopy(ctx context.Context, copyID uuid.UUID) (*models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("copy_id = ? AND status = ?", copyID, enums.ReservationStatusReady).
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ListLapsed returns queued rows whose deadline passed before now, oldest first.
func (r *Repository) ListLapsed(ctx context.Context, now time.Time, limit int) ([]models.Reservation, error) {
	var rows []models.Reservation
	err := r.db.WithContext(ctx).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", enums.QueuedReservationStatuses, now).
		Order("expires_at ASC").
		Order("id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// Update writes the given columns on the reservation row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Reservation{}).Where("id = ?", id).Updates(fields).Error
}
