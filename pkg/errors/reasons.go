package errors

// Reason is the machine-readable circulation outcome surfaced in details.reason.
type Reason string

const (
	ReasonCopyNotAvailable         Reason = "COPY_NOT_AVAILABLE"
	ReasonAlreadyReserved          Reason = "ALREADY_RESERVED"
	ReasonStudentOverLimit         Reason = "STUDENT_OVER_LIMIT"
	ReasonStudentSuspended         Reason = "STUDENT_SUSPENDED"
	ReasonOutstandingFines         Reason = "OUTSTANDING_FINES"
	ReasonMaxRenewalsReached       Reason = "MAX_RENEWALS_REACHED"
	ReasonCopyReserved             Reason = "COPY_RESERVED"
	ReasonCopyReservedForAnother   Reason = "COPY_RESERVED_FOR_ANOTHER"
	ReasonCopyImmediatelyAvailable Reason = "COPY_IMMEDIATELY_AVAILABLE"
	ReasonNotQueueHead             Reason = "NOT_QUEUE_HEAD"
	ReasonNotActive                Reason = "NOT_ACTIVE"
	ReasonNoActiveTransaction      Reason = "NO_ACTIVE_TRANSACTION"
	ReasonNotCancellable           Reason = "NOT_CANCELLABLE"
	ReasonHoldExpired              Reason = "HOLD_EXPIRED"
	ReasonFineNotSettleable        Reason = "FINE_NOT_SETTLEABLE"
	ReasonNotPending               Reason = "NOT_PENDING"
	ReasonNotReady                 Reason = "NOT_READY"
)

// NewReason builds a typed error whose details carry the reason.
func NewReason(code Code, reason Reason, message string) *Error {
	return New(code, message).WithDetails(map[string]any{"reason": string(reason)})
}

// ReasonOf extracts the reason from a typed error, if any.
func ReasonOf(err error) Reason {
	typed := As(err)
	if typed == nil {
		return ""
	}
	details, ok := typed.Details().(map[string]any)
	if !ok {
		return ""
	}
	switch v := details["reason"].(type) {
	case string:
		return Reason(v)
	case Reason:
		return v
	}
	return ""
}

// HasReason reports whether err carries the given reason.
func HasReason(err error, reason Reason) bool {
	return reason != "" && ReasonOf(err) == reason
}
