package payloads

import (
	"time"

	"github.com/google/uuid"
)

// ReservationReadyEvent tells the notification service a hold is waiting at the desk.
type ReservationReadyEvent struct {
	ReservationID uuid.UUID `json:"reservation_id"`
	BookID        uuid.UUID `json:"book_id"`
	StudentID     uuid.UUID `json:"student_id"`
	CopyID        uuid.UUID `json:"copy_id"`
	NotifiedAt    time.Time `json:"notified_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// ReservationExpiredEvent is emitted when a hold or a stale request lapses.
type ReservationExpiredEvent struct {
	ReservationID  uuid.UUID  `json:"reservation_id"`
	BookID         uuid.UUID  `json:"book_id"`
	StudentID      uuid.UUID  `json:"student_id"`
	PreviousStatus string     `json:"previous_status"`
	ReleasedCopyID *uuid.UUID `json:"released_copy_id,omitempty"`
	ExpiredAt      time.Time  `json:"expired_at"`
}

// LoanOverdueEvent is the one overdue notice sent per loan.
type LoanOverdueEvent struct {
	LoanID      uuid.UUID `json:"loan_id"`
	BookID      uuid.UUID `json:"book_id"`
	CopyID      uuid.UUID `json:"copy_id"`
	StudentID   uuid.UUID `json:"student_id"`
	DueDate     time.Time `json:"due_date"`
	DaysOverdue int       `json:"days_overdue"`
	AccruedFine string    `json:"accrued_fine"`
}

// CopyLostEvent records a copy retired through a lost report.
type CopyLostEvent struct {
	CopyID          uuid.UUID `json:"copy_id"`
	BookID          uuid.UUID `json:"book_id"`
	LoanID          uuid.UUID `json:"loan_id"`
	StudentID       uuid.UUID `json:"student_id"`
	ReplacementCost string    `json:"replacement_cost"`
	ReportedAt      time.Time `json:"reported_at"`
}

// FineSettledEvent is emitted when a fine is paid or waived.
type FineSettledEvent struct {
	FineID     uuid.UUID `json:"fine_id"`
	StudentID  uuid.UUID `json:"student_id"`
	Amount     string    `json:"amount"`
	Settlement string    `json:"settlement"`
	SettledAt  time.Time `json:"settled_at"`
}

// Fine settlement kinds.
const (
	SettlementPaid   = "paid"
	SettlementWaived = "waived"
)
