package middleware

import (
	"net/http"

	"github.com/angelmondragon/circulation-backend/api/responses"
	pkgAuth "github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// RequireAny admits actors holding at least one of perms. Ownership rules for
// self-service permissions are enforced by the coordinator.
func RequireAny(logg *logger.Logger, perms ...enums.Permission) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, ok := pkgAuth.ActorFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required"))
				return
			}
			if !actor.CanAny(perms...) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "missing permission"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
