package validators

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// ParseUUIDParam reads a chi path parameter as a UUID.
func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	return parseUUID(chi.URLParam(r, key), key)
}

// ParseQueryUUID reads a required query parameter as a UUID.
func ParseQueryUUID(r *http.Request, key string) (uuid.UUID, error) {
	return parseUUID(r.URL.Query().Get(key), key)
}

func parseUUID(raw, key string) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, key+" is required").WithDetails(map[string]any{"field": key})
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, key+" must be a uuid").WithDetails(map[string]any{"field": key})
	}
	return id, nil
}
