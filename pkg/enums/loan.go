package enums

import "fmt"

// LoanStatus is the stored state of a circulation transaction. Overdue is a
// derived view (active past its due date) and is only ever reported, never stored.
type LoanStatus string

const (
	LoanStatusActive   LoanStatus = "active"
	LoanStatusOverdue  LoanStatus = "overdue"
	LoanStatusReturned LoanStatus = "returned"
	LoanStatusLost     LoanStatus = "lost"
)

var storedLoanStatuses = []LoanStatus{
	LoanStatusActive,
	LoanStatusReturned,
	LoanStatusLost,
}

// String implements fmt.Stringer.
func (s LoanStatus) String() string {
	return string(s)
}

// IsValid reports whether the value may be persisted.
func (s LoanStatus) IsValid() bool {
	for _, candidate := range storedLoanStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsClosed reports whether the loan no longer accrues fines.
func (s LoanStatus) IsClosed() bool {
	return s == LoanStatusReturned || s == LoanStatusLost
}

// ParseLoanStatus converts raw input into a LoanStatus.
func ParseLoanStatus(value string) (LoanStatus, error) {
	if value == string(LoanStatusOverdue) {
		return LoanStatusOverdue, nil
	}
	for _, candidate := range storedLoanStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid loan status %q", value)
}

// LoanType records the last event applied to a loan.
type LoanType string

const (
	LoanTypeBorrow LoanType = "borrow"
	LoanTypeRenew  LoanType = "renew"
	LoanTypeReturn LoanType = "return"
)

var validLoanTypes = []LoanType{
	LoanTypeBorrow,
	LoanTypeRenew,
	LoanTypeReturn,
}

func (t LoanType) String() string {
	return string(t)
}

func (t LoanType) IsValid() bool {
	for _, candidate := range validLoanTypes {
		if candidate == t {
			return true
		}
	}
	return false
}
