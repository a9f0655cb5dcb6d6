// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"

	"github.com/thumbgate/thumbgate/internal/auth"
	"github.com/thumbgate/thumbgate/internal/log"
)

type ctxPrincipalKey struct{}

// principalFrom returns the authenticated principal, if any.
func principalFrom(ctx context.Context) (auth.Principal, bool) {
	p, ok := ctx.Value(ctxPrincipalKey{}).(auth.Principal)
	return p, ok
}

// requireScope gates a route subtree on a token scope. With no tokens
// configured the admin surface is open (dev mode); otherwise a missing or
// unknown token yields 401 and a known token below the required scope 403.
func (s *Server) requireScope(required auth.Scope) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.rwToken == "" && s.roToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			logger := log.WithComponentFromContext(r.Context(), "auth")

			token := auth.BearerToken(r)
			if token == "" {
				logger.Warn().
					Str(log.FieldEvent, "auth.missing_token").
					Str(log.FieldPath, r.URL.Path).
					Msg("authorization header missing")
				RespondError(w, r, http.StatusUnauthorized, ErrUnauthorized)
				return
			}

			scope, ok := auth.Resolve(token, s.rwToken, s.roToken)
			if !ok {
				logger.Warn().
					Str(log.FieldEvent, "auth.invalid_token").
					Str(log.FieldPath, r.URL.Path).
					Msg("invalid api token")
				RespondError(w, r, http.StatusUnauthorized, ErrUnauthorized)
				return
			}

			principal := auth.NewPrincipal(token, scope)
			if !scope.Allows(required) {
				logger.Warn().
					Str(log.FieldEvent, "auth.insufficient_scope").
					Str(log.FieldPath, r.URL.Path).
					Str("principal", principal.ID).
					Str("scope", string(scope)).
					Msg("token lacks required scope")
				RespondError(w, r, http.StatusForbidden, ErrForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ctxPrincipalKey{}, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
