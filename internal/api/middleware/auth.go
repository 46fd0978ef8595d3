package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/rohits-web03/enrollr/internal/apperrors"
	"github.com/rohits-web03/enrollr/internal/auth"
	"github.com/rohits-web03/enrollr/internal/models"
	"github.com/rohits-web03/enrollr/internal/utils"
)

type contextKey string

const PrincipalKey contextKey = "principal"

// TokenCookie carries the session token set at login.
const TokenCookie = "token"

// PrincipalFrom returns the principal resolved for the request, or
// auth.Anonymous.
func PrincipalFrom(ctx context.Context) auth.Principal {
	if p, ok := ctx.Value(PrincipalKey).(auth.Principal); ok {
		return p
	}
	return auth.Anonymous
}

// Credential takes the bearer token from the Authorization header, falling
// back to the session cookie.
func Credential(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, token, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate resolves the presented credential and stores the principal in
// the request context. Requests without a credential continue anonymously;
// a credential that does not resolve is rejected.
func Authenticate(resolver auth.Resolver, log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			principal, err := resolver.Resolve(r.Context(), Credential(r))
			if err != nil {
				switch {
				case errors.Is(err, apperrors.ErrExpiredCredential):
					unauthorized(w, "Session expired")
				case errors.Is(err, apperrors.ErrInvalidCredential):
					unauthorized(w, "Unauthorized")
				default:
					log.Error().Err(err).Msg("principal resolution failed")
					utils.JSONResponse(w, http.StatusServiceUnavailable, utils.Payload{
						Success: false,
						Message: "Could not verify credentials, try again",
					})
				}
				return
			}

			ctx := context.WithValue(r.Context(), PrincipalKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuthenticated rejects anonymous requests.
func RequireAuthenticated(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodOptions && !PrincipalFrom(r.Context()).IsAuthenticated() {
			unauthorized(w, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if !p.IsAuthenticated() {
				unauthorized(w, "Unauthorized")
				return
			}
			if p.Role != role {
				utils.JSONResponse(w, http.StatusForbidden, utils.Payload{
					Success: false,
					Message: "Forbidden",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, message string) {
	utils.JSONResponse(w, http.StatusUnauthorized, utils.Payload{
		Success: false,
		Message: message,
	})
}
