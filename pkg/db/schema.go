package db

import (
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/pkg/db/models"
)

// partialIndexes mirror the goose migrations' invariants. Both postgres and sqlite
// accept this syntax, so the sqlite schema keeps the same exclusivity guarantees.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_loans_active_copy ON loans (copy_id) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_reservations_open_student_book ON reservations (student_id, book_id) WHERE status IN ('pending', 'ready')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_outbox_events_event_aggregate ON outbox_events (event_type, aggregate_type, aggregate_id) WHERE event_type = 'loan_overdue'`,
}

// Models lists every persisted circulation model in dependency order.
func Models() []any {
	return []any{
		&models.Book{},
		&models.BookCopy{},
		&models.Student{},
		&models.Loan{},
		&models.Reservation{},
		&models.OutboxEvent{},
		&models.OutboxDLQ{},
	}
}

// SyncSchema builds the schema from the gorm models. It backs sqlite mode, where
// the postgres-flavoured goose migrations do not apply.
func SyncSchema(conn *gorm.DB) error {
	if err := conn.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	for _, stmt := range partialIndexes {
		if err := conn.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create partial index: %w", err)
		}
	}
	return nil
}
