package books

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	pkgdb "github.com/angelmondragon/circulation-backend/pkg/db"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

type booksRepository interface {
	Create(ctx context.Context, book *models.Book) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Book, error)
}

// Service handles catalog intake for titles.
type Service interface {
	Create(ctx context.Context, input CreateBookInput) (*models.Book, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Book, error)
}

// CreateBookInput carries the title metadata and optional fine policy.
type CreateBookInput struct {
	Title           string
	Author          string
	ISBN            string
	ReplacementCost decimal.Decimal
	DailyFineRate   *decimal.Decimal
	FineGraceDays   *int
	FineCap         *decimal.Decimal
}

type service struct {
	repo booksRepository
}

func NewService(repo booksRepository) (Service, error) {
	if repo == nil {
		return nil, errors.New("books repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Create(ctx context.Context, input CreateBookInput) (*models.Book, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "title is required")
	}
	author := strings.TrimSpace(input.Author)
	if author == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "author is required")
	}
	if input.ReplacementCost.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "replacement_cost must not be negative")
	}
	if input.DailyFineRate != nil && input.DailyFineRate.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "daily_fine_rate must not be negative")
	}
	if input.FineGraceDays != nil && *input.FineGraceDays < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fine_grace_days must not be negative")
	}
	if input.FineCap != nil && input.FineCap.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "fine_cap must not be negative")
	}

	book := &models.Book{
		Title:           title,
		Author:          author,
		ReplacementCost: input.ReplacementCost,
		DailyFineRate:   input.DailyFineRate,
		FineGraceDays:   input.FineGraceDays,
		FineCap:         input.FineCap,
	}
	if isbn := strings.TrimSpace(input.ISBN); isbn != "" {
		book.ISBN = &isbn
	}

	if err := s.repo.Create(ctx, book); err != nil {
		if pkgdb.IsUniqueViolation(err, "") {
			return nil, pkgerrors.New(pkgerrors.CodeConflict, "isbn already catalogued")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create book")
	}
	return book, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Book, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "book id is required")
	}
	book, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, MapLookupError(err)
	}
	return book, nil
}

// MapLookupError translates a title lookup failure into the API taxonomy.
func MapLookupError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "book not found")
	}
	return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load book")
}
