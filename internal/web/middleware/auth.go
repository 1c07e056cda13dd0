package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/JonMunkholm/rosterimport/internal/auth"
	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/logging"
)

type claimsKey struct{}

// TokenValidator verifies a bearer token.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// ErrorResponder writes an error response in the caller's format.
type ErrorResponder func(w http.ResponseWriter, r *http.Request, err error)

// TenantScope authenticates the bearer token, requires role and stores the
// claims in the request context. The tenant id is added to the request
// logger. Failures are passed to respond and wrap core.ErrUnauthorized or
// core.ErrForbidden.
func TenantScope(tokens TokenValidator, role string, respond ErrorResponder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, err := tokens.Validate(bearerToken(r))
			if err == nil {
				err = claims.RequireRole(role)
			}
			if err != nil {
				slog.Warn("auth: rejected request",
					"path", r.URL.Path,
					"method", r.Method,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				respond(w, r, err)
				return
			}

			tenantID, err := claims.Tenant()
			if err != nil {
				respond(w, r, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			ctx = logging.WithTenant(ctx, tenantID.String())
			ctx = core.ContextWithClientIP(ctx, ClientIP(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClaimsFromContext returns the claims stored by TenantScope.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok
}

// bearerToken extracts the token from "Authorization: Bearer <token>".
func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
