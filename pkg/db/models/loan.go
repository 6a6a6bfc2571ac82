package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Loan is a circulation transaction. The fine lives on the loan and shares its id.
type Loan struct {
	ID              uuid.UUID            `gorm:"column:id;type:uuid;primaryKey"`
	CopyID          uuid.UUID            `gorm:"column:copy_id;type:uuid;not null;index:idx_loans_copy_status,priority:1"`
	BookID          uuid.UUID            `gorm:"column:book_id;type:uuid;not null;index"`
	StudentID       uuid.UUID            `gorm:"column:student_id;type:uuid;not null;index:idx_loans_student_status,priority:1"`
	Type            enums.LoanType       `gorm:"column:type;type:text;not null"`
	Status          enums.LoanStatus     `gorm:"column:status;type:text;not null;index:idx_loans_copy_status,priority:2;index:idx_loans_student_status,priority:2"`
	BorrowedAt      time.Time            `gorm:"column:borrowed_at;not null"`
	DueDate         time.Time            `gorm:"column:due_date;not null;index"`
	ReturnedAt      *time.Time           `gorm:"column:returned_at"`
	RenewalCount    int                  `gorm:"column:renewal_count;not null"`
	ReservationID   *uuid.UUID           `gorm:"column:reservation_id;type:uuid"`
	ReturnCondition *enums.CopyCondition `gorm:"column:return_condition;type:text"`
	FineAmount      decimal.Decimal      `gorm:"column:fine_amount;type:numeric(12,2);not null"`
	FinePaid        bool                 `gorm:"column:fine_paid;not null"`
	FinePaidAt      *time.Time           `gorm:"column:fine_paid_at"`
	FineWaived      bool                 `gorm:"column:fine_waived;not null"`
	FineWaivedAt    *time.Time           `gorm:"column:fine_waived_at"`
	CreatedAt       time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (l *Loan) BeforeCreate(tx *gorm.DB) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	return nil
}

// IsOverdue reports whether an active loan is past its due date at now.
func (l Loan) IsOverdue(now time.Time) bool {
	return l.Status == enums.LoanStatusActive && now.After(l.DueDate)
}

// DisplayStatus folds the derived overdue state into the stored status.
func (l Loan) DisplayStatus(now time.Time) enums.LoanStatus {
	if l.IsOverdue(now) {
		return enums.LoanStatusOverdue
	}
	return l.Status
}

// FineSettled reports whether the fine was paid or waived.
func (l Loan) FineSettled() bool {
	return l.FinePaid || l.FineWaived
}
