package loans

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// Repository persists loans.
type Repository struct {
	db *gorm.DB
}

// NewRepository builds a loan repository backed by the provided DB.
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

func (r *Repository) Create(ctx context.Context, loan *models.Loan) error {
	return r.db.WithContext(ctx).Create(loan).Error
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&loan).Error; err != nil {
		return nil, err
	}
	return &loan, nil
}

// LockByID reads the loan row FOR UPDATE.
func (r *Repository) LockByID(ctx context.Context, id uuid.UUID) (*models.Loan, error) {
	var loan models.Loan
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// FindActiveByCopy returns the active loan on the copy, locking it when lock is set.
func (r *Repository) FindActiveByCopy(ctx context.Context, copyID uuid.UUID, lock bool) (*models.Loan, error) {
	query := r.db.WithContext(ctx)
	if lock {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var loan models.Loan
	err := query.
		Where("copy_id = ? AND status = ?", copyID, enums.LoanStatusActive).
		First(&loan).Error
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// Update writes the given columns on the loan row.
func (r *Repository) Update(ctx context.Context, id uuid.UUID, fields map[string]any) error {
	return r.db.WithContext(ctx).Model(&models.Loan{}).Where("id = ?", id).Updates(fields).Error
}

// HasCompetingHold reports whether anyone other than studentID is queued for the title.
func (r *Repository) HasCompetingHold(ctx context.Context, bookID, studentID uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.Reservation{}).
		Where("book_id = ? AND student_id <> ? AND status IN ?", bookID, studentID, enums.QueuedReservationStatuses).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListOverduePage returns active loans due before now ordered by (due_date, id).
func (r *Repository) ListOverduePage(ctx context.Context, now time.Time, limit int, cursor *pagination.Cursor) ([]models.Loan, error) {
	query := r.db.WithContext(ctx).
		Where("status = ? AND due_date < ?", enums.LoanStatusActive, now)
	if cursor != nil {
		query = query.Where("(due_date > ?) OR (due_date = ? AND id > ?)", cursor.At, cursor.At, cursor.ID)
	}
	var rows []models.Loan
	if err := query.Order("due_date ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
