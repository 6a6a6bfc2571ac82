package enums

import "fmt"

// OutboxAggregateType names the aggregate an outbox row belongs to.
type OutboxAggregateType string

const (
	AggregateLoan        OutboxAggregateType = "loan"
	AggregateReservation OutboxAggregateType = "reservation"
	AggregateCopy        OutboxAggregateType = "book_copy"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateLoan,
	AggregateReservation,
	AggregateCopy,
}

// IsValid reports whether the value is a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType names a circulation domain event.
type OutboxEventType string

const (
	EventReservationReady   OutboxEventType = "reservation_ready"
	EventReservationExpired OutboxEventType = "reservation_expired"
	EventLoanOverdue        OutboxEventType = "loan_overdue"
	EventCopyLost           OutboxEventType = "copy_lost"
	EventFineSettled        OutboxEventType = "fine_settled"
)

var validOutboxEventTypes = []OutboxEventType{
	EventReservationReady,
	EventReservationExpired,
	EventLoanOverdue,
	EventCopyLost,
	EventFineSettled,
}

// IsValid reports whether the value is a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid event type %q", value)
}
