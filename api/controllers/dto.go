package controllers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/internal/circulation"
	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/internal/loans"
	"github.com/angelmondragon/circulation-backend/internal/students"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

type TransactionDTO struct {
	ID              uuid.UUID            `json:"id"`
	CopyID          uuid.UUID            `json:"copy_id"`
	BookID          uuid.UUID            `json:"book_id"`
	StudentID       uuid.UUID            `json:"student_id"`
	Type            enums.LoanType       `json:"type"`
	Status          enums.LoanStatus     `json:"status"`
	BorrowedAt      time.Time            `json:"borrowed_at"`
	DueDate         time.Time            `json:"due_date"`
	ReturnedAt      *time.Time           `json:"returned_at,omitempty"`
	RenewalCount    int                  `json:"renewal_count"`
	ReservationID   *uuid.UUID           `json:"reservation_id,omitempty"`
	ReturnCondition *enums.CopyCondition `json:"return_condition,omitempty"`
	FineAmount      decimal.Decimal      `json:"fine_amount"`
	CurrentFine     *loans.FineView      `json:"current_fine,omitempty"`
}

type ReturnDTO struct {
	TransactionDTO
	CopyStatus          enums.CopyStatus `json:"copy_status"`
	PromotedReservation *ReservationDTO  `json:"promoted_reservation,omitempty"`
}

type ReservationDTO struct {
	ID          uuid.UUID               `json:"id"`
	BookID      uuid.UUID               `json:"book_id"`
	StudentID   uuid.UUID               `json:"student_id"`
	Status      enums.ReservationStatus `json:"status"`
	ReservedAt  time.Time               `json:"reserved_at"`
	NotifiedAt  *time.Time              `json:"notified_at,omitempty"`
	ExpiresAt   *time.Time              `json:"expires_at,omitempty"`
	FulfilledAt *time.Time              `json:"fulfilled_at,omitempty"`
	CancelledAt *time.Time              `json:"cancelled_at,omitempty"`
	CopyID      *uuid.UUID              `json:"copy_id,omitempty"`
	Position    *int                    `json:"queue_position,omitempty"`
}

type FulfilmentDTO struct {
	Reservation ReservationDTO `json:"reservation"`
	Transaction TransactionDTO `json:"transaction"`
}

type OverdueDTO struct {
	TransactionDTO
	DaysOverdue    int             `json:"days_overdue"`
	CalculatedFine decimal.Decimal `json:"calculated_fine"`
}

type BookDTO struct {
	ID              uuid.UUID        `json:"id"`
	Title           string           `json:"title"`
	Author          string           `json:"author"`
	ISBN            *string          `json:"isbn,omitempty"`
	ReplacementCost decimal.Decimal  `json:"replacement_cost"`
	DailyFineRate   *decimal.Decimal `json:"daily_fine_rate,omitempty"`
	FineGraceDays   *int             `json:"fine_grace_days,omitempty"`
	FineCap         *decimal.Decimal `json:"fine_cap,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
}

type CopyDTO struct {
	ID              uuid.UUID           `json:"id"`
	BookID          uuid.UUID           `json:"book_id"`
	CopyNumber      int                 `json:"copy_number"`
	Barcode         string              `json:"barcode"`
	Condition       enums.CopyCondition `json:"condition"`
	Status          enums.CopyStatus    `json:"status"`
	AcquisitionDate *string             `json:"acquisition_date,omitempty"`
}

type StudentDTO struct {
	ID            uuid.UUID        `json:"id"`
	StudentNumber string           `json:"student_number"`
	Name          string           `json:"name"`
	Email         *string          `json:"email,omitempty"`
	MaxBooks      int              `json:"max_books"`
	Suspended     bool             `json:"suspended"`
	CurrentBooks  *int64           `json:"current_books,omitempty"`
	UnpaidFines   *decimal.Decimal `json:"unpaid_fines,omitempty"`
}

type ScanDTO struct {
	Copy      CopyDTO                      `json:"copy"`
	Book      BookDTO                      `json:"book"`
	Borrower  *circulation.BorrowerSummary `json:"borrower,omitempty"`
	Hold      *circulation.HoldSummary     `json:"hold,omitempty"`
	CanBorrow bool                         `json:"can_borrow"`
}

type PageDTO[T any] struct {
	Items      []T    `json:"items"`
	NextCursor string `json:"next_cursor,omitempty"`
}

func transactionDTO(tx circulation.Transaction, now time.Time) TransactionDTO {
	loan := tx.Loan
	return TransactionDTO{
		ID:              loan.ID,
		CopyID:          loan.CopyID,
		BookID:          loan.BookID,
		StudentID:       loan.StudentID,
		Type:            loan.Type,
		Status:          loan.DisplayStatus(now),
		BorrowedAt:      loan.BorrowedAt,
		DueDate:         loan.DueDate,
		ReturnedAt:      loan.ReturnedAt,
		RenewalCount:    loan.RenewalCount,
		ReservationID:   loan.ReservationID,
		ReturnCondition: loan.ReturnCondition,
		FineAmount:      loan.FineAmount,
		CurrentFine:     tx.CurrentFine,
	}
}

func returnDTO(outcome circulation.ReturnOutcome, now time.Time) ReturnDTO {
	dto := ReturnDTO{
		TransactionDTO: transactionDTO(outcome.Transaction, now),
		CopyStatus:     outcome.CopyStatus,
	}
	if outcome.Promoted != nil {
		promoted := reservationDTO(*outcome.Promoted, 0)
		dto.PromotedReservation = &promoted
	}
	return dto
}

// reservationDTO omits the position for rows that left the queue.
func reservationDTO(r models.Reservation, position int) ReservationDTO {
	dto := ReservationDTO{
		ID:          r.ID,
		BookID:      r.BookID,
		StudentID:   r.StudentID,
		Status:      r.Status,
		ReservedAt:  r.ReservedAt,
		NotifiedAt:  r.NotifiedAt,
		ExpiresAt:   r.ExpiresAt,
		FulfilledAt: r.FulfilledAt,
		CancelledAt: r.CancelledAt,
		CopyID:      r.CopyID,
	}
	if position > 0 {
		dto.Position = &position
	}
	return dto
}

func reservationViewDTO(view circulation.ReservationView) ReservationDTO {
	return reservationDTO(view.Reservation, view.Position)
}

func overdueDTO(item loans.OverdueLoan, now time.Time) OverdueDTO {
	return OverdueDTO{
		TransactionDTO: transactionDTO(circulation.Transaction{Loan: item.Loan}, now),
		DaysOverdue:    item.DaysOverdue,
		CalculatedFine: item.CalculatedFine,
	}
}

func bookDTO(b models.Book) BookDTO {
	return BookDTO{
		ID:              b.ID,
		Title:           b.Title,
		Author:          b.Author,
		ISBN:            b.ISBN,
		ReplacementCost: b.ReplacementCost,
		DailyFineRate:   b.DailyFineRate,
		FineGraceDays:   b.FineGraceDays,
		FineCap:         b.FineCap,
		CreatedAt:       b.CreatedAt,
	}
}

func copyDTO(c models.BookCopy) CopyDTO {
	dto := CopyDTO{
		ID:         c.ID,
		BookID:     c.BookID,
		CopyNumber: c.CopyNumber,
		Barcode:    c.Barcode,
		Condition:  c.Condition,
		Status:     c.Status,
	}
	if c.AcquisitionDate != nil {
		acquired := time.Time(*c.AcquisitionDate).Format(time.DateOnly)
		dto.AcquisitionDate = &acquired
	}
	return dto
}

func studentDTO(s models.Student) StudentDTO {
	return StudentDTO{
		ID:            s.ID,
		StudentNumber: s.StudentNumber,
		Name:          s.Name,
		Email:         s.Email,
		MaxBooks:      s.MaxBooks,
		Suspended:     s.Suspended,
	}
}

func standingDTO(s students.Standing) StudentDTO {
	dto := studentDTO(s.Student)
	current := s.CurrentBooks
	unpaid := s.UnpaidFines
	dto.CurrentBooks = &current
	dto.UnpaidFines = &unpaid
	return dto
}

func scanDTO(scan circulation.ScanResult) ScanDTO {
	return ScanDTO{
		Copy:      copyDTO(scan.Copy),
		Book:      bookDTO(scan.Book),
		Borrower:  scan.Borrower,
		Hold:      scan.Hold,
		CanBorrow: scan.CanBorrow,
	}
}

func inventoryDTO(inv copies.Inventory) map[string]any {
	counts := make(map[string]int64, len(inv.Counts))
	for status, n := range inv.Counts {
		counts[status.String()] = n
	}
	return map[string]any{
		"book_id": inv.BookID,
		"counts":  counts,
		"total":   inv.Total,
	}
}
