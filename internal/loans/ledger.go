package loans

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/fines"
	"github.com/angelmondragon/circulation-backend/internal/students"
	pkgdb "github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/outbox"
	"github.com/angelmondragon/circulation-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// Policy is the borrowing policy applied by the ledger.
type Policy struct {
	LoanPeriod    time.Duration
	MaxRenewals   int
	FineThreshold decimal.Decimal
	FineDefaults  fines.Policy
}

type eventEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// LedgerParams wires the ledger's collaborators.
type LedgerParams struct {
	DB       *gorm.DB
	Copies   *copies.Registry
	Students *students.Directory
	Books    *books.Repository
	Events   eventEmitter
	Policy   Policy
}

// Ledger records borrow, renew, return and loss events and settles fines.
// Mutations run inside the caller's transaction.
type Ledger struct {
	db       *gorm.DB
	repo     *Repository
	copies   *copies.Registry
	students *students.Directory
	books    *books.Repository
	events   eventEmitter
	policy   Policy
}

func NewLedger(params LedgerParams) (*Ledger, error) {
	if params.DB == nil {
		return nil, errors.New("db required")
	}
	if params.Copies == nil {
		return nil, errors.New("copy registry required")
	}
	if params.Students == nil {
		return nil, errors.New("student directory required")
	}
	if params.Books == nil {
		return nil, errors.New("books repository required")
	}
	if params.Events == nil {
		return nil, errors.New("event emitter required")
	}
	if params.Policy.LoanPeriod <= 0 {
		return nil, errors.New("loan period must be positive")
	}
	if params.Policy.MaxRenewals < 0 {
		return nil, errors.New("max renewals must not be negative")
	}
	return &Ledger{
		db:       params.DB,
		repo:     NewRepository(params.DB),
		copies:   params.Copies,
		students: params.Students,
		books:    params.Books,
		events:   params.Events,
		policy:   params.Policy,
	}, nil
}

// BorrowRequest describes a checkout of one copy.
type BorrowRequest struct {
	Copy           *models.BookCopy
	StudentID      uuid.UUID
	ExpectedStatus enums.CopyStatus
	ReservationID  *uuid.UUID
	Now            time.Time
}

// ReturnResult reports the closed loan and where the copy ended up.
type ReturnResult struct {
	Loan          *models.Loan
	CopyStatus    enums.CopyStatus
	CopyAvailable bool
}

// RenewCheck answers whether a loan may be renewed right now.
type RenewCheck struct {
	CanRenew bool   `json:"can_renew"`
	Reason   string `json:"reason,omitempty"`
}

// FineView is the fine attached to a loan at a point in time.
type FineView struct {
	LoanID      uuid.UUID       `json:"fine_id"`
	StudentID   uuid.UUID       `json:"student_id"`
	Amount      decimal.Decimal `json:"amount"`
	DaysOverdue int             `json:"days_overdue"`
	Frozen      bool            `json:"frozen"`
	Paid        bool            `json:"paid"`
	PaidAt      *time.Time      `json:"paid_at,omitempty"`
	Waived      bool            `json:"waived"`
	WaivedAt    *time.Time      `json:"waived_at,omitempty"`
}

// OverdueLoan is an active loan past its due date with its accrued fine.
type OverdueLoan struct {
	Loan           models.Loan
	DaysOverdue    int
	CalculatedFine decimal.Decimal
}

// Borrow moves the copy to borrowed, then applies the student policy checks.
// Any policy failure leaves the caller to roll the transaction back.
func (l *Ledger) Borrow(ctx context.Context, tx *gorm.DB, req BorrowRequest) (*models.Loan, error) {
	if req.Copy == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "copy is required")
	}
	if req.StudentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_id is required")
	}
	expected := req.ExpectedStatus
	if expected == "" {
		expected = enums.CopyStatusAvailable
	}
	now := normalizeNow(req.Now)

	if err := l.copies.WithTx(tx).TransitionStatus(ctx, req.Copy.ID, expected, enums.CopyStatusBorrowed); err != nil {
		return nil, err
	}

	standing, err := l.students.WithTx(tx).StandingForUpdate(ctx, req.StudentID, now)
	if err != nil {
		return nil, err
	}
	if standing.CurrentBooks >= int64(standing.Student.MaxBooks) {
		return nil, pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonStudentOverLimit, "student has reached the borrowing limit")
	}
	if standing.Student.Suspended {
		return nil, pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonStudentSuspended, "student is suspended")
	}
	if !standing.UnpaidFines.LessThan(l.policy.FineThreshold) {
		return nil, pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonOutstandingFines, "outstanding fines exceed the borrowing threshold").
			WithDetails(map[string]any{
				"reason":       string(pkgerrors.ReasonOutstandingFines),
				"unpaid_fines": standing.UnpaidFines.StringFixed(2),
				"threshold":    l.policy.FineThreshold.StringFixed(2),
			})
	}

	loan := &models.Loan{
		CopyID:        req.Copy.ID,
		BookID:        req.Copy.BookID,
		StudentID:     req.StudentID,
		Type:          enums.LoanTypeBorrow,
		Status:        enums.LoanStatusActive,
		BorrowedAt:    now,
		DueDate:       now.Add(l.policy.LoanPeriod),
		ReservationID: req.ReservationID,
		FineAmount:    decimal.Zero,
	}
	if err := l.repo.WithTx(tx).Create(ctx, loan); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonCopyNotAvailable, "copy already has an active loan")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create loan")
	}
	return loan, nil
}

// Renew extends an active loan by one loan period counted from borrowed_at.
func (l *Ledger) Renew(ctx context.Context, tx *gorm.DB, loanID uuid.UUID, now time.Time) (*models.Loan, error) {
	repo := l.repo.WithTx(tx)
	loan, err := repo.LockByID(ctx, loanID)
	if err != nil {
		return nil, mapLoanLookup(err)
	}
	if err := l.renewBlocker(ctx, repo, loan); err != nil {
		return nil, err
	}

	loan.RenewalCount++
	loan.DueDate = l.dueDate(loan.BorrowedAt, loan.RenewalCount)
	loan.Type = enums.LoanTypeRenew
	if err := repo.Update(ctx, loan.ID, map[string]any{
		"renewal_count": loan.RenewalCount,
		"due_date":      loan.DueDate,
		"type":          loan.Type,
		"updated_at":    normalizeNow(now),
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "renew loan")
	}
	return loan, nil
}

// CanRenew runs the renewal checks without changing anything.
func (l *Ledger) CanRenew(ctx context.Context, loanID uuid.UUID, now time.Time) (*RenewCheck, error) {
	loan, err := l.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, mapLoanLookup(err)
	}
	if err := l.renewBlocker(ctx, l.repo, loan); err != nil {
		reason := pkgerrors.ReasonOf(err)
		if reason == "" {
			return nil, err
		}
		return &RenewCheck{CanRenew: false, Reason: string(reason)}, nil
	}
	return &RenewCheck{CanRenew: true}, nil
}

func (l *Ledger) renewBlocker(ctx context.Context, repo *Repository, loan *models.Loan) error {
	if loan.Status != enums.LoanStatusActive {
		return pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotActive, "loan is not active")
	}
	if loan.RenewalCount >= l.policy.MaxRenewals {
		return pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonMaxRenewalsReached, "maximum renewals reached")
	}
	held, err := repo.HasCompetingHold(ctx, loan.BookID, loan.StudentID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check reservations")
	}
	if held {
		return pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonCopyReserved, "another student is waiting for this title")
	}
	return nil
}

// Return closes the active loan on the copy and freezes its fine. A damaged
// return retires the copy instead of putting it back on the shelf.
func (l *Ledger) Return(ctx context.Context, tx *gorm.DB, copyID uuid.UUID, condition *enums.CopyCondition, now time.Time) (*ReturnResult, error) {
	if condition != nil && !condition.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid return condition")
	}
	now = normalizeNow(now)
	repo := l.repo.WithTx(tx)
	loan, err := repo.FindActiveByCopy(ctx, copyID, true)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNoActiveTransaction, "copy has no active loan")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active loan")
	}

	policy, err := l.finePolicy(ctx, tx, loan.BookID)
	if err != nil {
		return nil, err
	}
	fine := fines.Compute(loan.DueDate, now, policy)

	target := enums.CopyStatusAvailable
	if condition != nil && *condition == enums.CopyConditionDamaged {
		target = enums.CopyStatusDamaged
	}
	registry := l.copies.WithTx(tx)
	if err := registry.TransitionStatus(ctx, copyID, enums.CopyStatusBorrowed, target); err != nil {
		return nil, err
	}
	if condition != nil {
		if _, err := registry.UpdateCondition(ctx, copyID, *condition); err != nil {
			return nil, err
		}
	}

	loan.Status = enums.LoanStatusReturned
	loan.Type = enums.LoanTypeReturn
	loan.ReturnedAt = &now
	loan.FineAmount = fine
	loan.ReturnCondition = condition
	fields := map[string]any{
		"status":      loan.Status,
		"type":        loan.Type,
		"returned_at": now,
		"fine_amount": fine,
		"updated_at":  now,
	}
	if condition != nil {
		fields["return_condition"] = *condition
	}
	if err := repo.Update(ctx, loan.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close loan")
	}
	return &ReturnResult{
		Loan:          loan,
		CopyStatus:    target,
		CopyAvailable: target == enums.CopyStatusAvailable,
	}, nil
}

// ReportLost closes the loan as lost and charges the title's replacement cost.
func (l *Ledger) ReportLost(ctx context.Context, tx *gorm.DB, loanID uuid.UUID, now time.Time) (*models.Loan, error) {
	now = normalizeNow(now)
	repo := l.repo.WithTx(tx)
	loan, err := repo.LockByID(ctx, loanID)
	if err != nil {
		return nil, mapLoanLookup(err)
	}
	if loan.Status != enums.LoanStatusActive {
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotActive, "loan is not active")
	}
	book, err := l.books.WithTx(tx).FindByID(ctx, loan.BookID)
	if err != nil {
		return nil, books.MapLookupError(err)
	}
	if err := l.copies.WithTx(tx).TransitionStatus(ctx, loan.CopyID, enums.CopyStatusBorrowed, enums.CopyStatusLost); err != nil {
		return nil, err
	}

	loan.Status = enums.LoanStatusLost
	loan.FineAmount = book.ReplacementCost.Round(2)
	if err := repo.Update(ctx, loan.ID, map[string]any{
		"status":      loan.Status,
		"fine_amount": loan.FineAmount,
		"updated_at":  now,
	}); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark loan lost")
	}

	err = l.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventCopyLost,
		AggregateType: enums.AggregateCopy,
		AggregateID:   loan.CopyID,
		OccurredAt:    now,
		Data: payloads.CopyLostEvent{
			CopyID:          loan.CopyID,
			BookID:          loan.BookID,
			LoanID:          loan.ID,
			StudentID:       loan.StudentID,
			ReplacementCost: loan.FineAmount.StringFixed(2),
			ReportedAt:      now,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit copy lost")
	}
	return loan, nil
}

// Get loads a loan by id.
func (l *Ledger) Get(ctx context.Context, loanID uuid.UUID) (*models.Loan, error) {
	loan, err := l.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, mapLoanLookup(err)
	}
	return loan, nil
}

// ActiveLoanForCopy returns the active loan on the copy, or nil.
func (l *Ledger) ActiveLoanForCopy(ctx context.Context, copyID uuid.UUID) (*models.Loan, error) {
	loan, err := l.repo.FindActiveByCopy(ctx, copyID, false)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active loan")
	}
	return loan, nil
}

// CurrentFine computes the live fine of an active loan, or the frozen fine of a closed one.
func (l *Ledger) CurrentFine(ctx context.Context, loanID uuid.UUID, now time.Time) (*FineView, error) {
	loan, err := l.repo.FindByID(ctx, loanID)
	if err != nil {
		return nil, mapLoanLookup(err)
	}
	return l.FineFor(ctx, loan, now)
}

// FineFor builds the fine view of an already loaded loan.
func (l *Ledger) FineFor(ctx context.Context, loan *models.Loan, now time.Time) (*FineView, error) {
	now = normalizeNow(now)
	view := &FineView{
		LoanID:    loan.ID,
		StudentID: loan.StudentID,
		Paid:      loan.FinePaid,
		PaidAt:    loan.FinePaidAt,
		Waived:    loan.FineWaived,
		WaivedAt:  loan.FineWaivedAt,
	}
	policy, err := l.finePolicy(ctx, l.db, loan.BookID)
	if err != nil {
		return nil, err
	}
	if loan.Status == enums.LoanStatusActive {
		view.Amount = fines.Compute(loan.DueDate, now, policy)
		view.DaysOverdue = fines.DaysOverdue(loan.DueDate, now, policy.GraceDays)
		return view, nil
	}
	view.Frozen = true
	view.Amount = loan.FineAmount
	if loan.ReturnedAt != nil {
		view.DaysOverdue = fines.DaysOverdue(loan.DueDate, *loan.ReturnedAt, policy.GraceDays)
	}
	return view, nil
}

// PayFine settles a closed loan's fine as paid.
func (l *Ledger) PayFine(ctx context.Context, tx *gorm.DB, loanID uuid.UUID, now time.Time) (*models.Loan, error) {
	return l.settle(ctx, tx, loanID, payloads.SettlementPaid, now)
}

// WaiveFine settles a closed loan's fine as waived.
func (l *Ledger) WaiveFine(ctx context.Context, tx *gorm.DB, loanID uuid.UUID, now time.Time) (*models.Loan, error) {
	return l.settle(ctx, tx, loanID, payloads.SettlementWaived, now)
}

func (l *Ledger) settle(ctx context.Context, tx *gorm.DB, loanID uuid.UUID, settlement string, now time.Time) (*models.Loan, error) {
	now = normalizeNow(now)
	repo := l.repo.WithTx(tx)
	loan, err := repo.LockByID(ctx, loanID)
	if err != nil {
		return nil, mapFineLookup(err)
	}
	if !loan.Status.IsClosed() || !loan.FineAmount.IsPositive() || loan.FineSettled() {
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonFineNotSettleable, "fine cannot be settled")
	}

	fields := map[string]any{"updated_at": now}
	switch settlement {
	case payloads.SettlementPaid:
		loan.FinePaid = true
		loan.FinePaidAt = &now
		fields["fine_paid"] = true
		fields["fine_paid_at"] = now
	default:
		loan.FineWaived = true
		loan.FineWaivedAt = &now
		fields["fine_waived"] = true
		fields["fine_waived_at"] = now
	}
	if err := repo.Update(ctx, loan.ID, fields); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle fine")
	}

	err = l.events.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventFineSettled,
		AggregateType: enums.AggregateLoan,
		AggregateID:   loan.ID,
		OccurredAt:    now,
		Data: payloads.FineSettledEvent{
			FineID:     loan.ID,
			StudentID:  loan.StudentID,
			Amount:     loan.FineAmount.StringFixed(2),
			Settlement: settlement,
			SettledAt:  now,
		},
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit fine settled")
	}
	return loan, nil
}

// ListOverdue pages through active loans past due at now.
func (l *Ledger) ListOverdue(ctx context.Context, params pagination.Params, now time.Time) (pagination.Page[OverdueLoan], error) {
	now = normalizeNow(now)
	page := pagination.Page[OverdueLoan]{Items: []OverdueLoan{}}
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)
	rows, err := l.repo.ListOverduePage(ctx, now, pagination.LimitWithBuffer(params.Limit), cursor)
	if err != nil {
		return page, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list overdue loans")
	}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{At: last.DueDate, ID: last.ID})
	}

	policies := map[uuid.UUID]fines.Policy{}
	for _, loan := range rows {
		policy, ok := policies[loan.BookID]
		if !ok {
			policy, err = l.finePolicy(ctx, l.db, loan.BookID)
			if err != nil {
				return page, err
			}
			policies[loan.BookID] = policy
		}
		page.Items = append(page.Items, OverdueLoan{
			Loan:           loan,
			DaysOverdue:    fines.DaysOverdue(loan.DueDate, now, policy.GraceDays),
			CalculatedFine: fines.Compute(loan.DueDate, now, policy),
		})
	}
	return page, nil
}

// NotifyOverdue queues the single overdue notice for the loan. It reports
// whether a notice was written by this call.
func (l *Ledger) NotifyOverdue(ctx context.Context, tx *gorm.DB, item OverdueLoan) (bool, error) {
	loan := item.Loan
	return l.events.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventLoanOverdue,
		AggregateType: enums.AggregateLoan,
		AggregateID:   loan.ID,
		Data: payloads.LoanOverdueEvent{
			LoanID:      loan.ID,
			BookID:      loan.BookID,
			CopyID:      loan.CopyID,
			StudentID:   loan.StudentID,
			DueDate:     loan.DueDate,
			DaysOverdue: item.DaysOverdue,
			AccruedFine: item.CalculatedFine.StringFixed(2),
		},
	})
}

func (l *Ledger) finePolicy(ctx context.Context, tx *gorm.DB, bookID uuid.UUID) (fines.Policy, error) {
	book, err := l.books.WithTx(tx).FindByID(ctx, bookID)
	if err != nil {
		return fines.Policy{}, books.MapLookupError(err)
	}
	return fines.PolicyFor(book, l.policy.FineDefaults), nil
}

func (l *Ledger) dueDate(borrowedAt time.Time, renewals int) time.Time {
	return borrowedAt.Add(l.policy.LoanPeriod * time.Duration(renewals+1))
}

func normalizeNow(now time.Time) time.Time {
	if now.IsZero() {
		return time.Now().UTC()
	}
	return now.UTC()
}

func mapLoanLookup(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
}

func mapFineLookup(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "fine not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load fine")
}
