package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/api/responses"
	"github.com/angelmondragon/circulation-backend/api/validators"
	"github.com/angelmondragon/circulation-backend/internal/students"
	"github.com/angelmondragon/circulation-backend/pkg/db/models"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

type StudentsService interface {
	Create(ctx context.Context, input students.CreateStudentInput) (*models.Student, error)
	Standing(ctx context.Context, id uuid.UUID, now time.Time) (*students.Standing, error)
	SetSuspended(ctx context.Context, id uuid.UUID, suspended bool) (*models.Student, error)
}

type createStudentRequest struct {
	StudentNumber string `json:"student_number" validate:"required,max=64"`
	Name          string `json:"name" validate:"required,max=256"`
	Email         string `json:"email,omitempty" validate:"omitempty,email"`
	MaxBooks      *int   `json:"max_books,omitempty" validate:"omitempty,min=0,max=100"`
	Suspended     bool   `json:"suspended"`
}

type suspensionRequest struct {
	Suspended *bool `json:"suspended" validate:"required"`
}

func CreateStudent(svc StudentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body createStudentRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		student, err := svc.Create(r.Context(), students.CreateStudentInput{
			StudentNumber: validators.SanitizeString(body.StudentNumber, 64),
			Name:          validators.SanitizeString(body.Name, 256),
			Email:         body.Email,
			MaxBooks:      body.MaxBooks,
			Suspended:     body.Suspended,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, studentDTO(*student))
	}
}

// GetStudent returns the directory entry with its current borrowing standing.
func GetStudent(svc StudentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		standing, err := svc.Standing(r.Context(), id, time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, standingDTO(*standing))
	}
}

func SetStudentSuspension(svc StudentsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := validators.ParseUUIDParam(r, "id")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var body suspensionRequest
		if err := validators.DecodeJSONBody(r, &body); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		student, err := svc.SetSuspended(r.Context(), id, *body.Suspended)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, studentDTO(*student))
	}
}
