package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/circulation-backend/api/responses"
	pkgAuth "github.com/angelmondragon/circulation-backend/pkg/auth"
	"github.com/angelmondragon/circulation-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
	"github.com/angelmondragon/circulation-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the actor
// and its permission codes.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			if raw == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			token := raw
			if strings.HasPrefix(strings.ToLower(token), "bearer ") {
				token = strings.TrimSpace(token[7:])
			}
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			actor := claims.Actor()
			if actor.IsZero() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing actor"))
				return
			}

			ctx := pkgAuth.WithActor(r.Context(), actor)
			if logg != nil {
				ctx = logg.WithActorID(ctx, actor.ID.String())
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ActorIDFromContext returns the authenticated actor id, or "".
func ActorIDFromContext(r *http.Request) string {
	actor, ok := pkgAuth.ActorFromContext(r.Context())
	if !ok {
		return ""
	}
	return actor.ID.String()
}
