package copies

import (
	"context"
	"errors"
	"iter"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	pkgdb "github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

var barcodePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9\-]{2,63}$`)

// Registry owns copy identity and is the only writer of copy status.
type Registry struct {
	db       *gorm.DB
	pageSize int
}

// NewRegistry constructs a copy registry backed by the provided GORM DB.
func NewRegistry(db *gorm.DB) *Registry {
	return &Registry{db: db, pageSize: pagination.MaxLimit}
}

// WithTx binds the registry to an open transaction.
func (r *Registry) WithTx(tx *gorm.DB) *Registry {
	if tx == nil {
		return r
	}
	return &Registry{db: tx, pageSize: r.pageSize}
}

// CreateCopyInput describes a copy at intake.
type CreateCopyInput struct {
	BookID          uuid.UUID
	Barcode         string
	Condition       enums.CopyCondition
	AcquisitionDate *time.Time
}

// ListParams filters a cursor page of a title's copies.
type ListParams struct {
	BookID   uuid.UUID
	Statuses []enums.CopyStatus
	Limit    int
	Cursor   *pagination.Cursor
}

func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*models.BookCopy, error) {
	var bookCopy models.BookCopy
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&bookCopy).Error; err != nil {
		return nil, mapLookupError(err)
	}
	return &bookCopy, nil
}

func (r *Registry) GetByBarcode(ctx context.Context, barcode string) (*models.BookCopy, error) {
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required")
	}
	var bookCopy models.BookCopy
	if err := r.db.WithContext(ctx).Where("barcode = ?", barcode).First(&bookCopy).Error; err != nil {
		return nil, mapLookupError(err)
	}
	return &bookCopy, nil
}

// TransitionStatus moves a copy from the expected status to the target with a
// single guarded update. Losing the race yields a COPY_NOT_AVAILABLE conflict.
func (r *Registry) TransitionStatus(ctx context.Context, id uuid.UUID, from, to enums.CopyStatus) error {
	if !from.IsValid() || !to.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid copy status transition")
	}
	if from == to {
		return pkgerrors.New(pkgerrors.CodeValidation, "copy status transition must change status")
	}

	result := r.db.WithContext(ctx).
		Model(&models.BookCopy{}).
		Where("id = ? AND status = ?", id, from).
		Updates(map[string]any{
			"status":  to,
			"version": gorm.Expr("version + 1"),
		})
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "transition copy status")
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := r.db.WithContext(ctx).Model(&models.BookCopy{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check copy existence")
	}
	if count == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "copy not found")
	}
	return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonCopyNotAvailable, "copy is not "+from.String())
}

// FindAvailable returns an available copy of the title, preferring the given
// copy when it is still available, else the lowest numbered one on the shelf.
// It returns nil when none is left.
func (r *Registry) FindAvailable(ctx context.Context, bookID uuid.UUID, preferred *uuid.UUID) (*models.BookCopy, error) {
	if preferred != nil && *preferred != uuid.Nil {
		var bookCopy models.BookCopy
		err := r.db.WithContext(ctx).
			Where("id = ? AND book_id = ? AND status = ?", *preferred, bookID, enums.CopyStatusAvailable).
			Take(&bookCopy).Error
		if err == nil {
			return &bookCopy, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load preferred copy")
		}
	}

	for bookCopy, err := range r.ListByTitle(ctx, bookID, enums.CopyStatusAvailable) {
		if err != nil {
			return nil, err
		}
		return &bookCopy, nil
	}
	return nil, nil
}

// CountAvailable reports how many copies of the title are on the shelf.
func (r *Registry) CountAvailable(ctx context.Context, bookID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.BookCopy{}).
		Where("book_id = ? AND status = ?", bookID, enums.CopyStatusAvailable).
		Count(&count).Error
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count available copies")
	}
	return count, nil
}

// ListPage returns one keyset page ordered by (copy_number, id).
func (r *Registry) ListPage(ctx context.Context, params ListParams) ([]models.BookCopy, *pagination.Cursor, error) {
	limit := pagination.LimitWithBuffer(params.Limit)
	normalized := pagination.NormalizeLimit(params.Limit)

	query := r.db.WithContext(ctx).Model(&models.BookCopy{}).Where("book_id = ?", params.BookID)
	if len(params.Statuses) > 0 {
		query = query.Where("status IN ?", params.Statuses)
	}
	if params.Cursor != nil {
		query = query.Where("(copy_number > ?) OR (copy_number = ? AND id > ?)", params.Cursor.Seq, params.Cursor.Seq, params.Cursor.ID)
	}

	var rows []models.BookCopy
	if err := query.Order("copy_number ASC").Order("id ASC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list copies")
	}
	if len(rows) > normalized {
		rows = rows[:normalized]
		last := rows[len(rows)-1]
		return rows, &pagination.Cursor{Seq: int64(last.CopyNumber), ID: last.ID}, nil
	}
	return rows, nil, nil
}

// ListByTitle lazily walks every copy of a title. Each range over the returned
// sequence starts a fresh keyset scan, so the sequence can be reused.
func (r *Registry) ListByTitle(ctx context.Context, bookID uuid.UUID, statuses ...enums.CopyStatus) iter.Seq2[models.BookCopy, error] {
	return func(yield func(models.BookCopy, error) bool) {
		var cursor *pagination.Cursor
		for {
			page, next, err := r.ListPage(ctx, ListParams{
				BookID:   bookID,
				Statuses: statuses,
				Limit:    r.pageSize,
				Cursor:   cursor,
			})
			if err != nil {
				yield(models.BookCopy{}, err)
				return
			}
			for _, bookCopy := range page {
				if !yield(bookCopy, nil) {
					return
				}
			}
			if next == nil {
				return
			}
			cursor = next
		}
	}
}

// Create registers a new copy. Copy numbers are assigned per title under the
// title row lock so concurrent intake never collides.
func (r *Registry) Create(ctx context.Context, input CreateCopyInput) (*models.BookCopy, error) {
	if input.BookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book_id is required")
	}
	barcode := strings.TrimSpace(input.Barcode)
	if !barcodePattern.MatchString(barcode) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode must be 3-64 letters, digits or dashes")
	}
	condition := input.Condition
	if condition == "" {
		condition = enums.CopyConditionGood
	}
	if !condition.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid copy condition")
	}

	bookCopy := &models.BookCopy{
		BookID:    input.BookID,
		Barcode:   barcode,
		Condition: condition,
		Status:    enums.CopyStatusAvailable,
	}
	if condition == enums.CopyConditionDamaged {
		bookCopy.Status = enums.CopyStatusDamaged
	}
	if input.AcquisitionDate != nil {
		acquired := datatypes.Date(input.AcquisitionDate.UTC())
		bookCopy.AcquisitionDate = &acquired
	}

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var book models.Book
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", input.BookID).First(&book).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock book")
		}

		var maxNumber int64
		if err := tx.Model(&models.BookCopy{}).
			Where("book_id = ?", input.BookID).
			Select("COALESCE(MAX(copy_number), 0)").
			Scan(&maxNumber).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "next copy number")
		}
		bookCopy.CopyNumber = int(maxNumber) + 1

		if err := tx.Create(bookCopy).Error; err != nil {
			if pkgdb.IsUniqueViolation(err, "") {
				return pkgerrors.New(pkgerrors.CodeConflict, "barcode already registered")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create copy")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bookCopy, nil
}

// UpdateCondition records a new physical condition. Status is left untouched.
func (r *Registry) UpdateCondition(ctx context.Context, id uuid.UUID, condition enums.CopyCondition) (*models.BookCopy, error) {
	if !condition.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid copy condition")
	}
	result := r.db.WithContext(ctx).
		Model(&models.BookCopy{}).
		Where("id = ?", id).
		Update("condition", condition)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "update copy condition")
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "copy not found")
	}
	return r.Get(ctx, id)
}

func mapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "copy not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load copy")
}
