package students

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/circulation-backend/internal/fines"
	pkgdb "github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// DefaultMaxBooks applies when intake does not set a borrowing limit.
const DefaultMaxBooks = 5

// Standing is a student's borrowing position at a point in time.
type Standing struct {
	Student      models.Student  `json:"student"`
	CurrentBooks int64           `json:"current_books"`
	UnpaidFines  decimal.Decimal `json:"unpaid_fines"`
}

// CreateStudentInput carries directory intake fields.
type CreateStudentInput struct {
	StudentNumber string
	Name          string
	Email         string
	MaxBooks      *int
	Suspended     bool
}

// Directory is the read model of students the circulation engine consults.
type Directory struct {
	db       *gorm.DB
	defaults fines.Policy
}

// NewDirectory builds a directory; defaults price fines on titles without their own policy.
func NewDirectory(db *gorm.DB, defaults fines.Policy) *Directory {
	return &Directory{db: db, defaults: defaults}
}

// WithTx binds the directory to an open transaction.
func (d *Directory) WithTx(tx *gorm.DB) *Directory {
	if tx == nil {
		return d
	}
	return &Directory{db: tx, defaults: d.defaults}
}

func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*models.Student, error) {
	var student models.Student
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&student).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load student")
	}
	return &student, nil
}

func (d *Directory) Create(ctx context.Context, input CreateStudentInput) (*models.Student, error) {
	number := strings.TrimSpace(input.StudentNumber)
	if number == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_number is required")
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required")
	}
	maxBooks := DefaultMaxBooks
	if input.MaxBooks != nil {
		if *input.MaxBooks < 0 {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "max_books must not be negative")
		}
		maxBooks = *input.MaxBooks
	}

	student := &models.Student{
		StudentNumber: number,
		Name:          name,
		MaxBooks:      maxBooks,
		Suspended:     input.Suspended,
	}
	if email := strings.TrimSpace(input.Email); email != "" {
		student.Email = &email
	}
	if err := d.db.WithContext(ctx).Create(student).Error; err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "student number already registered")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create student")
	}
	return student, nil
}

// SetSuspended flips the suspension flag.
func (d *Directory) SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) (*models.Student, error) {
	result := d.db.WithContext(ctx).Model(&models.Student{}).Where("id = ?", id).Update("suspended", suspended)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "update student suspension")
	}
	if result.RowsAffected == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
	}
	return d.Get(ctx, id)
}

// Standing derives current_books and unpaid_fines from the loan ledger. Unpaid
// fines are the unsettled frozen fines of closed loans plus what active overdue
// loans would owe if returned at now.
func (d *Directory) Standing(ctx context.Context, id uuid.UUID, now time.Time) (*Standing, error) {
	student, err := d.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.standing(ctx, student, now)
}

// StandingForUpdate locks the student row before counting, so concurrent
// borrows by one student serialize on it even across different titles. It
// must run inside the borrow transaction.
func (d *Directory) StandingForUpdate(ctx context.Context, id uuid.UUID, now time.Time) (*Standing, error) {
	var student models.Student
	err := d.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&student).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "student not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock student")
	}
	return d.standing(ctx, &student, now)
}

func (d *Directory) standing(ctx context.Context, student *models.Student, now time.Time) (*Standing, error) {
	id := student.ID
	var active []models.Loan
	if err := d.db.WithContext(ctx).
		Where("student_id = ? AND status = ?", id, enums.LoanStatusActive).
		Find(&active).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active loans")
	}

	var closed []models.Loan
	if err := d.db.WithContext(ctx).
		Where("student_id = ? AND status IN ? AND fine_paid = ? AND fine_waived = ?",
			id, []enums.LoanStatus{enums.LoanStatusReturned, enums.LoanStatusLost}, false, false).
		Find(&closed).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load unsettled fines")
	}

	unpaid := decimal.Zero
	for _, loan := range closed {
		if loan.FineAmount.IsPositive() {
			unpaid = unpaid.Add(loan.FineAmount)
		}
	}

	policies := map[uuid.UUID]fines.Policy{}
	for _, loan := range active {
		if !loan.IsOverdue(now) {
			continue
		}
		policy, ok := policies[loan.BookID]
		if !ok {
			var book models.Book
			if err := d.db.WithContext(ctx).Where("id = ?", loan.BookID).First(&book).Error; err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fine policy")
			}
			policy = fines.PolicyFor(&book, d.defaults)
			policies[loan.BookID] = policy
		}
		unpaid = unpaid.Add(fines.Compute(loan.DueDate, now, policy))
	}

	return &Standing{
		Student:      *student,
		CurrentBooks: int64(len(active)),
		UnpaidFines:  unpaid,
	}, nil
}
