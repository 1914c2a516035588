package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"payments-portal/internal/domain"
	"payments-portal/internal/errors"
)

// TokenParser validates bearer tokens.
type TokenParser interface {
	Parse(token string) (domain.Actor, error)
}

type contextKey string

const actorKey contextKey = "actor"

// ActorFrom returns the authenticated actor stored on ctx.
func ActorFrom(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorKey).(domain.Actor)
	return actor, ok
}

func withActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// authenticate requires a valid bearer token issued for kind and stores
// the actor on the request context.
func authenticate(tokens TokenParser, kind domain.AccountKind, rs responder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				rs.writeError(w, errors.ErrMissingToken)
				return
			}

			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				rs.writeError(w, errors.ErrInvalidToken)
				return
			}

			actor, err := tokens.Parse(strings.TrimSpace(token))
			if err != nil {
				rs.logger.Warn("Rejected bearer token", "path", r.URL.Path, "error", err)
				rs.writeError(w, errors.ErrInvalidToken)
				return
			}

			if actor.Kind != kind {
				if kind == domain.KindEmployee {
					rs.writeError(w, errors.ErrEmployeeOnly)
				} else {
					rs.writeError(w, errors.ErrCustomerOnly)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(withActor(r.Context(), actor)))
		})
	}
}
