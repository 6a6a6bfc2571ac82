package circulation

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/circulation-backend/internal/copies"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// AddCopy registers a copy under the title lock. A shelf-ready copy goes to
// the head of the title's queue first, so waiting students keep their turn.
func (c *Coordinator) AddCopy(ctx context.Context, input copies.CreateCopyInput) (*models.BookCopy, error) {
	ctx, _, err := c.authorize(ctx, enums.PermCatalogManage)
	if err != nil {
		return nil, err
	}
	if input.BookID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book_id is required")
	}
	now := c.clock()

	var created *models.BookCopy
	err = c.run(ctx, "add_copy", func(tx *gorm.DB) error {
		if _, err := c.queue.LockTitle(ctx, tx, input.BookID); err != nil {
			return err
		}
		registry := c.copies.WithTx(tx)
		bookCopy, err := registry.Create(ctx, input)
		if err != nil {
			return err
		}
		if bookCopy.Status != enums.CopyStatusAvailable {
			created = bookCopy
			return nil
		}
		promoted, err := c.queue.PromoteNext(ctx, tx, input.BookID, &bookCopy.ID, now)
		if err != nil {
			return err
		}
		if promoted == nil {
			created = bookCopy
			return nil
		}
		created, err = registry.Get(ctx, bookCopy.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}
