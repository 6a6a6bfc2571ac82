package enums

import "fmt"

// CopyStatus is the single-valued lifecycle state of a physical copy.
type CopyStatus string

const (
	CopyStatusAvailable   CopyStatus = "available"
	CopyStatusBorrowed    CopyStatus = "borrowed"
	CopyStatusReserved    CopyStatus = "reserved"
	CopyStatusMaintenance CopyStatus = "maintenance"
	CopyStatusLost        CopyStatus = "lost"
	CopyStatusDamaged     CopyStatus = "damaged"
)

var validCopyStatuses = []CopyStatus{
	CopyStatusAvailable,
	CopyStatusBorrowed,
	CopyStatusReserved,
	CopyStatusMaintenance,
	CopyStatusLost,
	CopyStatusDamaged,
}

// String implements fmt.Stringer.
func (c CopyStatus) String() string {
	return string(c)
}

// IsValid reports whether the value is a known CopyStatus.
func (c CopyStatus) IsValid() bool {
	for _, candidate := range validCopyStatuses {
		if candidate == c {
			return true
		}
	}
	return false
}

// IsRetired reports whether the copy left circulation for good.
func (c CopyStatus) IsRetired() bool {
	return c == CopyStatusLost || c == CopyStatusDamaged
}

// ParseCopyStatus converts raw input into a CopyStatus.
func ParseCopyStatus(value string) (CopyStatus, error) {
	for _, candidate := range validCopyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid copy status %q", value)
}

// CopyStatuses returns every status in display order.
func CopyStatuses() []CopyStatus {
	out := make([]CopyStatus, len(validCopyStatuses))
	copy(out, validCopyStatuses)
	return out
}
