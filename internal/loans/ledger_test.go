package loans

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
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

const loanPeriod = 14 * 24 * time.Hour

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fixture struct {
	conn   *gorm.DB
	ledger *Ledger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	conn := dbtest.Open(t)
	defaults := fines.Policy{DailyRate: decimal.NewFromInt(50)}
	ledger, err := NewLedger(LedgerParams{
		DB:       conn,
		Copies:   copies.NewRegistry(conn),
		Students: students.NewDirectory(conn, defaults),
		Books:    books.NewRepository(conn),
		Events:   outbox.NewService(outbox.NewRepository(conn), nil),
		Policy: Policy{
			LoanPeriod:    loanPeriod,
			MaxRenewals:   2,
			FineThreshold: decimal.NewFromInt(500),
			FineDefaults:  defaults,
		},
	})
	require.NoError(t, err)
	return &fixture{conn: conn, ledger: ledger}
}

func (f *fixture) borrow(t *testing.T, bookCopy *models.BookCopy, studentID uuid.UUID, now time.Time) (*models.Loan, error) {
	t.Helper()
	var loan *models.Loan
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = f.ledger.Borrow(context.Background(), tx, BorrowRequest{
			Copy:      bookCopy,
			StudentID: studentID,
			Now:       now,
		})
		return err
	})
	return loan, err
}

func (f *fixture) giveBack(t *testing.T, copyID uuid.UUID, condition *enums.CopyCondition, now time.Time) (*ReturnResult, error) {
	t.Helper()
	var result *ReturnResult
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = f.ledger.Return(context.Background(), tx, copyID, condition, now)
		return err
	})
	return result, err
}

func (f *fixture) renew(loanID uuid.UUID, now time.Time) (*models.Loan, error) {
	var loan *models.Loan
	err := f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		loan, err = f.ledger.Renew(context.Background(), tx, loanID, now)
		return err
	})
	return loan, err
}

func TestNewLedgerValidatesDependencies(t *testing.T) {
	_, err := NewLedger(LedgerParams{})
	require.Error(t, err)
}

func TestBorrowCreatesActiveLoan(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)

	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	assert.Equal(t, enums.LoanStatusActive, loan.Status)
	assert.Equal(t, enums.LoanTypeBorrow, loan.Type)
	assert.True(t, loan.DueDate.Equal(t0.Add(loanPeriod)))
	assert.True(t, loan.FineAmount.IsZero())

	reloaded := dbtest.ReloadCopy(t, f.conn, bookCopy.ID)
	assert.Equal(t, enums.CopyStatusBorrowed, reloaded.Status)
	assert.Equal(t, 1, reloaded.Version)
}

func TestBorrowRejectsUnavailableCopy(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusMaintenance)
	student := dbtest.SeedStudent(t, f.conn, 3)

	_, err := f.borrow(t, bookCopy, student.ID, t0)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCopyNotAvailable))
}

func TestBorrowPolicyFailuresRollBackTheCopy(t *testing.T) {
	cases := []struct {
		name   string
		setup  func(t *testing.T, f *fixture, student *models.Student, book *models.Book)
		reason pkgerrors.Reason
	}{
		{
			name: "over limit",
			setup: func(t *testing.T, f *fixture, student *models.Student, book *models.Book) {
				require.NoError(t, f.conn.Model(student).Update("max_books", 1).Error)
				other := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
				_, err := f.borrow(t, other, student.ID, t0)
				require.NoError(t, err)
			},
			reason: pkgerrors.ReasonStudentOverLimit,
		},
		{
			name: "suspended",
			setup: func(t *testing.T, f *fixture, student *models.Student, _ *models.Book) {
				require.NoError(t, f.conn.Model(student).Update("suspended", true).Error)
			},
			reason: pkgerrors.ReasonStudentSuspended,
		},
		{
			name: "outstanding fines",
			setup: func(t *testing.T, f *fixture, student *models.Student, book *models.Book) {
				other := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
				_, err := f.borrow(t, other, student.ID, t0)
				require.NoError(t, err)
				// 10 days late at 50/day leaves 500 unpaid, which meets the threshold.
				_, err = f.giveBack(t, other.ID, nil, t0.Add(loanPeriod+10*24*time.Hour))
				require.NoError(t, err)
			},
			reason: pkgerrors.ReasonOutstandingFines,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			book := dbtest.SeedBook(t, f.conn, "20.00")
			bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
			student := dbtest.SeedStudent(t, f.conn, 3)
			tc.setup(t, f, student, book)

			_, err := f.borrow(t, bookCopy, student.ID, t0.Add(60*24*time.Hour))
			require.Error(t, err)
			assert.True(t, pkgerrors.HasReason(err, tc.reason), "got %v", err)

			reloaded := dbtest.ReloadCopy(t, f.conn, bookCopy.ID)
			assert.Equal(t, enums.CopyStatusAvailable, reloaded.Status)
			assert.Equal(t, 0, reloaded.Version)
		})
	}
}

func TestBorrowAllowsFinesBelowThreshold(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	first := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	second := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)

	_, err := f.borrow(t, first, student.ID, t0)
	require.NoError(t, err)
	_, err = f.giveBack(t, first.ID, nil, t0.Add(loanPeriod+9*24*time.Hour))
	require.NoError(t, err)

	_, err = f.borrow(t, second, student.ID, t0.Add(30*24*time.Hour))
	require.NoError(t, err)
}

func TestRenewExtendsFromBorrowDate(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	renewed, err := f.renew(loan.ID, t0.Add(5*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, renewed.RenewalCount)
	assert.Equal(t, enums.LoanTypeRenew, renewed.Type)
	assert.True(t, renewed.DueDate.Equal(t0.Add(2*loanPeriod)))

	renewed, err = f.renew(loan.ID, t0.Add(20*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, renewed.DueDate.Equal(t0.Add(3*loanPeriod)))

	_, err = f.renew(loan.ID, t0.Add(30*24*time.Hour))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonMaxRenewalsReached))

	stored, err := f.ledger.Get(context.Background(), loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.RenewalCount)
	assert.True(t, stored.DueDate.Equal(t0.Add(3*loanPeriod)))
}

func TestRenewBlockedByAnotherStudentsHold(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	borrower := dbtest.SeedStudent(t, f.conn, 3)
	waiting := dbtest.SeedStudent(t, f.conn, 3)
	loan, err := f.borrow(t, bookCopy, borrower.ID, t0)
	require.NoError(t, err)

	require.NoError(t, f.conn.Create(&models.Reservation{
		BookID:     book.ID,
		StudentID:  waiting.ID,
		Status:     enums.ReservationStatusPending,
		ReservedAt: t0.Add(time.Hour),
	}).Error)

	check, err := f.ledger.CanRenew(context.Background(), loan.ID, t0.Add(2*time.Hour))
	require.NoError(t, err)
	assert.False(t, check.CanRenew)
	assert.Equal(t, string(pkgerrors.ReasonCopyReserved), check.Reason)

	_, err = f.renew(loan.ID, t0.Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonCopyReserved))
}

func TestRenewRequiresActiveLoan(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)
	_, err = f.giveBack(t, bookCopy.ID, nil, t0.Add(time.Hour))
	require.NoError(t, err)

	_, err = f.renew(loan.ID, t0.Add(2*time.Hour))
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNotActive))

	check, err := f.ledger.CanRenew(context.Background(), loan.ID, t0)
	require.NoError(t, err)
	assert.False(t, check.CanRenew)

	_, err = f.renew(uuid.New(), t0)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestOnTimeReturnRoundTrip(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	_, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	result, err := f.giveBack(t, bookCopy.ID, nil, t0.Add(loanPeriod))
	require.NoError(t, err)

	assert.True(t, result.CopyAvailable)
	assert.Equal(t, enums.LoanStatusReturned, result.Loan.Status)
	assert.Equal(t, enums.LoanTypeReturn, result.Loan.Type)
	assert.True(t, result.Loan.FineAmount.IsZero())
	assert.Equal(t, enums.CopyStatusAvailable, dbtest.ReloadCopy(t, f.conn, bookCopy.ID).Status)
}

func TestLateReturnFreezesFine(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	live, err := f.ledger.CurrentFine(context.Background(), loan.ID, t0.Add(loanPeriod+2*24*time.Hour))
	require.NoError(t, err)
	assert.False(t, live.Frozen)
	assert.True(t, live.Amount.Equal(decimal.NewFromInt(100)))

	returnedAt := t0.Add(loanPeriod + 3*24*time.Hour + time.Hour)
	result, err := f.giveBack(t, bookCopy.ID, nil, returnedAt)
	require.NoError(t, err)
	assert.True(t, result.Loan.FineAmount.Equal(decimal.NewFromInt(150)))

	frozen, err := f.ledger.CurrentFine(context.Background(), loan.ID, returnedAt.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, frozen.Frozen)
	assert.Equal(t, 3, frozen.DaysOverdue)
	assert.True(t, frozen.Amount.Equal(decimal.NewFromInt(150)))
}

func TestDamagedReturnRetiresCopy(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	_, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	damaged := enums.CopyConditionDamaged
	result, err := f.giveBack(t, bookCopy.ID, &damaged, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, result.CopyAvailable)
	assert.Equal(t, enums.CopyStatusDamaged, result.CopyStatus)

	reloaded := dbtest.ReloadCopy(t, f.conn, bookCopy.ID)
	assert.Equal(t, enums.CopyStatusDamaged, reloaded.Status)
	assert.Equal(t, enums.CopyConditionDamaged, reloaded.Condition)
}

func TestReturnWithoutActiveLoan(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)

	_, err := f.giveBack(t, bookCopy.ID, nil, t0)
	require.Error(t, err)
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonNoActiveTransaction))
}

func TestReportLostChargesReplacementCost(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "42.50")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	var lost *models.Loan
	err = f.conn.Transaction(func(tx *gorm.DB) error {
		var err error
		lost, err = f.ledger.ReportLost(context.Background(), tx, loan.ID, t0.Add(time.Hour))
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, enums.LoanStatusLost, lost.Status)
	assert.True(t, lost.FineAmount.Equal(decimal.RequireFromString("42.50")))
	assert.Equal(t, enums.CopyStatusLost, dbtest.ReloadCopy(t, f.conn, bookCopy.ID).Status)

	var events []models.OutboxEvent
	require.NoError(t, f.conn.Where("event_type = ?", enums.EventCopyLost).Find(&events).Error)
	require.Len(t, events, 1)
	assert.Equal(t, bookCopy.ID, events[0].AggregateID)
}

func TestFineSettlement(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	first := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	second := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	ctx := context.Background()

	paidLoan, err := f.borrow(t, first, student.ID, t0)
	require.NoError(t, err)
	waivedLoan, err := f.borrow(t, second, student.ID, t0)
	require.NoError(t, err)

	settle := func(fn func(context.Context, *gorm.DB, uuid.UUID, time.Time) (*models.Loan, error), id uuid.UUID) (*models.Loan, error) {
		var loan *models.Loan
		err := f.conn.Transaction(func(tx *gorm.DB) error {
			var err error
			loan, err = fn(ctx, tx, id, t0.Add(40*24*time.Hour))
			return err
		})
		return loan, err
	}

	_, err = settle(f.ledger.PayFine, paidLoan.ID)
	require.Error(t, err, "active loans cannot be settled")
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonFineNotSettleable))

	late := t0.Add(loanPeriod + 2*24*time.Hour)
	_, err = f.giveBack(t, first.ID, nil, late)
	require.NoError(t, err)
	_, err = f.giveBack(t, second.ID, nil, late)
	require.NoError(t, err)

	paid, err := settle(f.ledger.PayFine, paidLoan.ID)
	require.NoError(t, err)
	assert.True(t, paid.FinePaid)
	require.NotNil(t, paid.FinePaidAt)

	_, err = settle(f.ledger.WaiveFine, paidLoan.ID)
	require.Error(t, err, "settled fines cannot be settled again")

	waived, err := settle(f.ledger.WaiveFine, waivedLoan.ID)
	require.NoError(t, err)
	assert.True(t, waived.FineWaived)
	assert.False(t, waived.FinePaid)

	var count int64
	require.NoError(t, f.conn.Model(&models.OutboxEvent{}).Where("event_type = ?", enums.EventFineSettled).Count(&count).Error)
	assert.EqualValues(t, 2, count)

	_, err = settle(f.ledger.PayFine, uuid.New())
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestZeroFineIsNotSettleable(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)
	_, err = f.giveBack(t, bookCopy.ID, nil, t0.Add(time.Hour))
	require.NoError(t, err)

	err = f.conn.Transaction(func(tx *gorm.DB) error {
		_, err := f.ledger.PayFine(context.Background(), tx, loan.ID, t0.Add(2*time.Hour))
		return err
	})
	assert.True(t, pkgerrors.HasReason(err, pkgerrors.ReasonFineNotSettleable))
}

func TestListOverduePagesInDueOrder(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	student := dbtest.SeedStudent(t, f.conn, 10)

	var ids []uuid.UUID
	for i := 0; i < 5; i++ {
		bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
		loan, err := f.borrow(t, bookCopy, student.ID, t0.Add(time.Duration(i)*24*time.Hour))
		require.NoError(t, err)
		ids = append(ids, loan.ID)
	}
	current := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	_, err := f.borrow(t, current, student.ID, t0.Add(13*24*time.Hour))
	require.NoError(t, err)

	now := t0.Add(loanPeriod + 10*24*time.Hour)
	var seen []OverdueLoan
	params := pagination.Params{Limit: 2}
	for {
		page, err := f.ledger.ListOverdue(context.Background(), params, now)
		require.NoError(t, err)
		seen = append(seen, page.Items...)
		if page.NextCursor == "" {
			break
		}
		params.Cursor = page.NextCursor
	}

	require.Len(t, seen, 5)
	for i, item := range seen {
		assert.Equal(t, ids[i], item.Loan.ID)
		assert.Equal(t, 10-i, item.DaysOverdue)
		assert.True(t, item.CalculatedFine.Equal(decimal.NewFromInt(int64(50*(10-i)))))
	}

	_, err = f.ledger.ListOverdue(context.Background(), pagination.Params{Cursor: "%%%"}, now)
	require.Error(t, err)
}

func TestNotifyOverdueOncePerLoan(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)
	_, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)

	page, err := f.ledger.ListOverdue(context.Background(), pagination.Params{}, t0.Add(loanPeriod+48*time.Hour))
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	written, err := f.ledger.NotifyOverdue(context.Background(), f.conn, page.Items[0])
	require.NoError(t, err)
	assert.True(t, written)
	written, err = f.ledger.NotifyOverdue(context.Background(), f.conn, page.Items[0])
	require.NoError(t, err)
	assert.False(t, written)
}

func TestActiveLoanForCopy(t *testing.T) {
	f := newFixture(t)
	book := dbtest.SeedBook(t, f.conn, "20.00")
	bookCopy := dbtest.SeedCopy(t, f.conn, book.ID, enums.CopyStatusAvailable)
	student := dbtest.SeedStudent(t, f.conn, 3)

	none, err := f.ledger.ActiveLoanForCopy(context.Background(), bookCopy.ID)
	require.NoError(t, err)
	assert.Nil(t, none)

	loan, err := f.borrow(t, bookCopy, student.ID, t0)
	require.NoError(t, err)
	active, err := f.ledger.ActiveLoanForCopy(context.Background(), bookCopy.ID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, loan.ID, active.ID)
}
