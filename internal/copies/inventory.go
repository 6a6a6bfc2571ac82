package copies

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // dialect registration
	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

const (
	tableBookCopies = "book_copies"
	colBookID       = "book_id"
	colStatus       = "status"
	aliasTotal      = "total"
)

// Inventory is a per-status count of a title's copies.
type Inventory struct {
	BookID uuid.UUID                  `json:"book_id"`
	Counts map[enums.CopyStatus]int64 `json:"counts"`
	Total  int64                      `json:"total"`
}

type inventoryRow struct {
	Status string
	Total  int64
}

// InventoryCounts aggregates the title's copies by status. Every known status
// is present in the result, zero when no copy holds it.
func (r *Registry) InventoryCounts(ctx context.Context, bookID uuid.UUID) (*Inventory, error) {
	query, err := buildInventoryQuery(r.db.Dialector.Name(), bookID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build inventory query")
	}

	var rows []inventoryRow
	if err := r.db.WithContext(ctx).Raw(query).Scan(&rows).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count inventory")
	}

	inventory := &Inventory{BookID: bookID, Counts: make(map[enums.CopyStatus]int64)}
	for _, status := range enums.CopyStatuses() {
		inventory.Counts[status] = 0
	}
	for _, row := range rows {
		status, err := enums.ParseCopyStatus(row.Status)
		if err != nil {
			continue
		}
		inventory.Counts[status] = row.Total
		inventory.Total += row.Total
	}
	return inventory, nil
}

func buildInventoryQuery(gormDialect string, bookID uuid.UUID) (string, error) {
	query, _, err := goqu.Dialect(goquDialect(gormDialect)).
		From(tableBookCopies).
		Select(goqu.C(colStatus), goqu.COUNT(goqu.Star()).As(aliasTotal)).
		Where(goqu.C(colBookID).Eq(bookID.String())).
		GroupBy(goqu.C(colStatus)).
		Order(goqu.C(colStatus).Asc()).
		ToSQL()
	return query, err
}

func goquDialect(gormDialect string) string {
	if gormDialect == "sqlite" {
		return "sqlite3"
	}
	return "postgres"
}
