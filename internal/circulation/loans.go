package circulation

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/books"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/reservations"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/pagination"
)

// Transaction is a loan with its live or frozen fine.
type Transaction struct {
	Loan        models.Loan
	CurrentFine *loans.FineView
}

// ReturnOutcome reports the closed loan and any reservation the copy went to.
type ReturnOutcome struct {
	Transaction
	CopyStatus enums.CopyStatus
	Promoted   *models.Reservation
}

// BorrowerSummary is the scan view of whoever holds a borrowed copy.
type BorrowerSummary struct {
	StudentID uuid.UUID `json:"student_id"`
	Name      string    `json:"name"`
	LoanID    uuid.UUID `json:"transaction_id"`
	DueDate   time.Time `json:"due_date"`
	Overdue   bool      `json:"overdue"`
}

// HoldSummary is the scan view of the ready reservation on a copy.
type HoldSummary struct {
	ReservationID uuid.UUID  `json:"reservation_id"`
	StudentID     uuid.UUID  `json:"student_id"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// ScanResult is what the desk sees after scanning a barcode.
type ScanResult struct {
	Copy      models.BookCopy
	Book      models.Book
	Borrower  *BorrowerSummary
	Hold      *HoldSummary
	CanBorrow bool
}

// BorrowByBarcode lends the scanned copy. A copy held for the same student is
// handed over through fulfilment.
func (c *Coordinator) BorrowByBarcode(ctx context.Context, barcode string, studentID uuid.UUID) (*Transaction, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationBorrow)
	if err != nil {
		return nil, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required")
	}
	if studentID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "student_id is required")
	}
	now := c.clock()

	var loan *models.Loan
	err = c.run(ctx, "borrow_by_barcode", func(tx *gorm.DB) error {
		registry := c.copies.WithTx(tx)
		scanned, err := registry.GetByBarcode(ctx, barcode)
		if err != nil {
			return err
		}
		if _, err := c.queue.LockTitle(ctx, tx, scanned.BookID); err != nil {
			return err
		}
		bookCopy, err := registry.Get(ctx, scanned.ID)
		if err != nil {
			return err
		}

		if bookCopy.Status == enums.CopyStatusReserved {
			hold, err := c.queue.ReadyForCopy(ctx, tx, bookCopy.ID)
			if err != nil {
				return err
			}
			if hold == nil {
				return pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonCopyNotAvailable, "copy is not available")
			}
			if hold.StudentID != studentID {
				return pkgerrors.NewReason(pkgerrors.CodePolicy, pkgerrors.ReasonCopyReservedForAnother, "copy is held for another student")
			}
			hold, err = c.queue.GetForUpdate(ctx, tx, hold.ID)
			if err != nil {
				return err
			}
			loan, err = c.fulfil(ctx, tx, "borrow_by_barcode", hold, now)
			return err
		}

		loan, err = c.ledger.Borrow(ctx, tx, loans.BorrowRequest{
			Copy:      bookCopy,
			StudentID: studentID,
			Now:       now,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.transaction(ctx, loan, now)
}

// ReturnByBarcode closes the active loan on the scanned copy and hands a
// shelved copy to the next reservation in line.
func (c *Coordinator) ReturnByBarcode(ctx context.Context, barcode string, condition *enums.CopyCondition) (*ReturnOutcome, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationReturn)
	if err != nil {
		return nil, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required")
	}
	if condition != nil && !condition.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid condition")
	}
	now := c.clock()

	var (
		result   *loans.ReturnResult
		promoted *models.Reservation
	)
	err = c.run(ctx, "return_by_barcode", func(tx *gorm.DB) error {
		promoted = nil
		bookCopy, err := c.copies.WithTx(tx).GetByBarcode(ctx, barcode)
		if err != nil {
			return err
		}
		if _, err := c.queue.LockTitle(ctx, tx, bookCopy.BookID); err != nil {
			return err
		}
		result, err = c.ledger.Return(ctx, tx, bookCopy.ID, condition, now)
		if err != nil {
			return err
		}
		if !result.CopyAvailable {
			return nil
		}
		promoted, err = c.queue.PromoteNext(ctx, tx, bookCopy.BookID, &bookCopy.ID, now)
		return err
	})
	if err != nil {
		return nil, err
	}

	view, err := c.transaction(ctx, result.Loan, now)
	if err != nil {
		return nil, err
	}
	outcome := &ReturnOutcome{Transaction: *view, CopyStatus: result.CopyStatus, Promoted: promoted}
	if promoted != nil {
		outcome.CopyStatus = enums.CopyStatusReserved
	}
	return outcome, nil
}

// Renew extends an active loan.
func (c *Coordinator) Renew(ctx context.Context, loanID uuid.UUID) (*Transaction, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationRenew)
	if err != nil {
		return nil, err
	}
	current, err := c.ledger.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var loan *models.Loan
	err = c.run(ctx, "renew", func(tx *gorm.DB) error {
		if _, err := c.queue.LockTitle(ctx, tx, current.BookID); err != nil {
			return err
		}
		var err error
		loan, err = c.ledger.Renew(ctx, tx, loanID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.transaction(ctx, loan, now)
}

// CanRenew reports whether Renew would succeed now.
func (c *Coordinator) CanRenew(ctx context.Context, loanID uuid.UUID) (*loans.RenewCheck, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationRead)
	if err != nil {
		return nil, err
	}
	return c.ledger.CanRenew(ctx, loanID, c.clock())
}

// ReportLost closes an active loan as lost and charges the replacement cost.
func (c *Coordinator) ReportLost(ctx context.Context, loanID uuid.UUID) (*Transaction, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationReturn)
	if err != nil {
		return nil, err
	}
	current, err := c.ledger.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	now := c.clock()

	var loan *models.Loan
	err = c.run(ctx, "report_lost", func(tx *gorm.DB) error {
		if _, err := c.queue.LockTitle(ctx, tx, current.BookID); err != nil {
			return err
		}
		var err error
		loan, err = c.ledger.ReportLost(ctx, tx, loanID, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return c.transaction(ctx, loan, now)
}

// GetTransaction loads a loan with its current fine.
func (c *Coordinator) GetTransaction(ctx context.Context, loanID uuid.UUID) (*Transaction, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationRead)
	if err != nil {
		return nil, err
	}
	loan, err := c.ledger.Get(ctx, loanID)
	if err != nil {
		return nil, err
	}
	return c.transaction(ctx, loan, c.clock())
}

// ListOverdue pages through active loans past due, oldest due date first.
func (c *Coordinator) ListOverdue(ctx context.Context, params pagination.Params) (pagination.Page[loans.OverdueLoan], error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationRead)
	if err != nil {
		return pagination.Page[loans.OverdueLoan]{}, err
	}
	return c.ledger.ListOverdue(ctx, params, c.clock())
}

// ScanLookup describes a copy for the desk without changing anything.
func (c *Coordinator) ScanLookup(ctx context.Context, barcode string) (*ScanResult, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCirculationRead)
	if err != nil {
		return nil, err
	}
	barcode = strings.TrimSpace(barcode)
	if barcode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "barcode is required")
	}
	bookCopy, err := c.copies.GetByBarcode(ctx, barcode)
	if err != nil {
		return nil, err
	}
	book, err := c.books.FindByID(ctx, bookCopy.BookID)
	if err != nil {
		return nil, books.MapLookupError(err)
	}
	now := c.clock()
	result := &ScanResult{
		Copy:      *bookCopy,
		Book:      *book,
		CanBorrow: bookCopy.Status == enums.CopyStatusAvailable,
	}

	switch bookCopy.Status {
	case enums.CopyStatusBorrowed:
		loan, err := c.ledger.ActiveLoanForCopy(ctx, bookCopy.ID)
		if err != nil {
			return nil, err
		}
		if loan != nil {
			student, err := c.students.Get(ctx, loan.StudentID)
			if err != nil {
				return nil, err
			}
			result.Borrower = &BorrowerSummary{
				StudentID: student.ID,
				Name:      student.Name,
				LoanID:    loan.ID,
				DueDate:   loan.DueDate,
				Overdue:   loan.IsOverdue(now),
			}
		}
	case enums.CopyStatusReserved:
		hold, err := c.queue.ReadyForCopy(ctx, nil, bookCopy.ID)
		if err != nil {
			return nil, err
		}
		if hold != nil {
			result.Hold = &HoldSummary{
				ReservationID: hold.ID,
				StudentID:     hold.StudentID,
				ExpiresAt:     hold.ExpiresAt,
			}
		}
	}
	return result, nil
}

const maxReearmarks = 2

// fulfil lends the earmarked copy to the hold's student. The caller holds the
// title lock and has locked the reservation.
func (c *Coordinator) fulfil(ctx context.Context, tx *gorm.DB, op string, hold *models.Reservation, now time.Time) (*models.Loan, error) {
	if hold.Status != enums.ReservationStatusReady {
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotReady, "reservation is not ready")
	}
	if reservations.HoldLapsed(hold, now) {
		if _, _, err := c.queue.ExpireHold(ctx, tx, hold.ID, now); err != nil {
			return nil, err
		}
		return nil, commitThen(pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonHoldExpired, "the hold has expired"))
	}
	if hold.CopyID == nil {
		return nil, pkgerrors.NewReason(pkgerrors.CodeStateConflict, pkgerrors.ReasonNotReady, "reservation has no copy assigned")
	}

	copyID := *hold.CopyID
	for attempt := 0; ; attempt++ {
		bookCopy, err := c.copies.WithTx(tx).Get(ctx, copyID)
		if err != nil {
			return nil, err
		}
		loan, err := c.ledger.Borrow(ctx, tx, loans.BorrowRequest{
			Copy:           bookCopy,
			StudentID:      hold.StudentID,
			ExpectedStatus: enums.CopyStatusReserved,
			ReservationID:  &hold.ID,
			Now:            now,
		})
		if err == nil {
			if err := c.queue.MarkFulfilled(ctx, tx, hold, bookCopy.ID, now); err != nil {
				return nil, err
			}
			return loan, nil
		}
		if !isCopyConflict(err) || attempt >= maxReearmarks {
			return nil, err
		}

		c.metrics.IncCASConflict(op)
		moved, err := c.queue.Reearmark(ctx, tx, hold, now)
		if err != nil {
			return nil, err
		}
		if moved.Copy == nil {
			return nil, commitThen(pkgerrors.NewReason(pkgerrors.CodeConflict, pkgerrors.ReasonCopyNotAvailable, "the held copy is gone and no other copy is available"))
		}
		copyID = moved.Copy.ID
	}
}

func (c *Coordinator) transaction(ctx context.Context, loan *models.Loan, now time.Time) (*Transaction, error) {
	fine, err := c.ledger.FineFor(ctx, loan, now)
	if err != nil {
		return nil, err
	}
	return &Transaction{Loan: *loan, CurrentFine: fine}, nil
}
