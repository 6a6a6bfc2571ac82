// Package fines computes overdue fines. Everything here is pure: the same inputs
// always produce the same amount, and nothing reads the clock.
package fines

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

const day = 24 * time.Hour

// Policy is the fine schedule applied to a loan.
type Policy struct {
	DailyRate decimal.Decimal
	GraceDays int
	// Cap bounds a single loan's fine; nil means uncapped.
	Cap *decimal.Decimal
}

// DaysOverdue counts whole days past due beyond the grace period.
func DaysOverdue(due, asOf time.Time, graceDays int) int {
	if !asOf.After(due) {
		return 0
	}
	days := int(asOf.Sub(due)/day) - graceDays
	if days < 0 {
		return 0
	}
	return days
}

// Compute returns the fine owed at asOf for a loan due at due.
func Compute(due, asOf time.Time, policy Policy) decimal.Decimal {
	days := DaysOverdue(due, asOf, policy.GraceDays)
	if days == 0 || !policy.DailyRate.IsPositive() {
		return decimal.Zero
	}
	amount := policy.DailyRate.Mul(decimal.NewFromInt(int64(days)))
	if policy.Cap != nil && amount.GreaterThan(*policy.Cap) {
		amount = *policy.Cap
	}
	return amount.Round(2)
}

// PolicyFor resolves the title's fine policy, field by field, over the defaults.
func PolicyFor(book *models.Book, defaults Policy) Policy {
	policy := defaults
	if book == nil {
		return policy
	}
	if book.DailyFineRate != nil {
		policy.DailyRate = *book.DailyFineRate
	}
	if book.FineGraceDays != nil {
		policy.GraceDays = *book.FineGraceDays
	}
	if book.FineCap != nil {
		capped := *book.FineCap
		policy.Cap = &capped
	}
	return policy
}
